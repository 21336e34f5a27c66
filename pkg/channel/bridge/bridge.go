// Package bridge talks to a companion radio through a JSON WebSocket bridge
// process. The bridge relays heard messages and node adverts, and performs
// sends on request.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"meshbot/pkg/channel"
	"meshbot/pkg/mesh"
	"meshbot/pkg/stats"
)

const (
	channelName           = "bridge"
	defaultRequestTimeout = 15 * time.Second
	defaultReconnectDelay = 5 * time.Second
	writeTimeout          = 10 * time.Second
	inboundBuffer         = 64
)

// ErrNotConnected is returned by sends while no bridge session is open.
var ErrNotConnected = errors.New("bridge not connected")

// NodeSink stores node adverts.
type NodeSink interface {
	UpsertNode(ctx context.Context, node stats.Node) error
}

// Options configures an Adapter.
type Options struct {
	URL            string
	RequestTimeout time.Duration
	ReconnectDelay time.Duration
	Nodes          NodeSink
	Logger         *slog.Logger
}

type Adapter struct {
	url            string
	requestTimeout time.Duration
	reconnectDelay time.Duration
	nodes          NodeSink
	dialer         *websocket.Dialer

	mu       sync.RWMutex
	conn     *websocket.Conn
	radioUp  bool
	selfName string
	contacts map[string]mesh.Contact

	writeMu   sync.Mutex
	pendingMu sync.Mutex
	pending   map[string]chan wireMessage

	log *slog.Logger
}

var (
	_ channel.Transport   = (*Adapter)(nil)
	_ mesh.RetryTransport = (*Adapter)(nil)
)

func NewAdapter(opts Options) (*Adapter, error) {
	url := strings.TrimSpace(opts.URL)
	if url == "" {
		return nil, errors.New("channels.bridge.url is required")
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	requestTimeout := opts.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	reconnectDelay := opts.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = defaultReconnectDelay
	}

	return &Adapter{
		url:            url,
		requestTimeout: requestTimeout,
		reconnectDelay: reconnectDelay,
		nodes:          opts.Nodes,
		dialer:         &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		contacts:       make(map[string]mesh.Contact),
		pending:        make(map[string]chan wireMessage),
		log:            log.With("component", "channel.bridge"),
	}, nil
}

func (a *Adapter) Name() string {
	return channelName
}

// Run keeps a bridge session open, reconnecting until ctx ends.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	for {
		err := a.session(ctx, handler)
		if ctx.Err() != nil {
			return nil
		}
		a.log.Warn("Bridge session ended", "url", a.url, "error", err, "retry_in", a.reconnectDelay)

		timer := time.NewTimer(a.reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (a *Adapter) session(ctx context.Context, handler channel.Handler) error {
	conn, _, err := a.dialer.DialContext(ctx, a.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", a.url, err)
	}

	a.mu.Lock()
	a.conn = conn
	a.radioUp = true
	a.mu.Unlock()
	a.log.Info("Bridge connected", "url", a.url)

	defer func() {
		a.mu.Lock()
		a.conn = nil
		a.radioUp = false
		a.mu.Unlock()
		a.failPending()
		_ = conn.Close()
	}()

	group, groupCtx := errgroup.WithContext(ctx)
	inbound := make(chan mesh.Message, inboundBuffer)

	group.Go(func() error {
		defer close(inbound)
		return a.readLoop(groupCtx, conn, inbound)
	})
	group.Go(func() error {
		for msg := range inbound {
			if err := handler(groupCtx, msg); err != nil {
				a.log.Error("Failed to process inbound message", "error", err)
			}
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		_ = conn.Close()
		return nil
	})

	return group.Wait()
}

// readLoop returns a non-nil error when the connection ends.
func (a *Adapter) readLoop(ctx context.Context, conn *websocket.Conn, inbound chan<- mesh.Message) error {
	for {
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				a.log.Warn("Ignoring malformed bridge frame", "error", err)
				continue
			}
			return fmt.Errorf("read bridge frame: %w", err)
		}

		switch msg.Type {
		case frameResponse:
			a.resolve(msg)
		case frameSelf:
			a.mu.Lock()
			a.selfName = strings.TrimSpace(msg.Name)
			a.mu.Unlock()
		case frameStatus:
			if msg.Connected != nil {
				a.mu.Lock()
				a.radioUp = *msg.Connected
				a.mu.Unlock()
			}
		case frameContacts:
			a.replaceContacts(msg.Contacts)
		case frameAdvert:
			a.handleAdvert(ctx, msg.Node)
		case frameMessage:
			if msg.Message == nil {
				continue
			}
			heard := *msg.Message
			if heard.ReceivedAt.IsZero() {
				heard.ReceivedAt = time.Now()
			}
			select {
			case inbound <- heard:
			default:
				a.log.Warn("Inbound queue full, dropping message", "target", heard.Target())
			}
		default:
			a.log.Debug("Ignoring bridge frame", "type", msg.Type)
		}
	}
}

func (a *Adapter) replaceContacts(contacts []mesh.Contact) {
	next := make(map[string]mesh.Contact, len(contacts))
	for _, contact := range contacts {
		if key := contactKey(contact.Name); key != "" {
			next[key] = contact
		}
	}

	a.mu.Lock()
	a.contacts = next
	a.mu.Unlock()
}

func (a *Adapter) handleAdvert(ctx context.Context, node *advert) {
	if node == nil || strings.TrimSpace(node.PublicKey) == "" {
		return
	}

	if key := contactKey(node.Name); key != "" {
		a.mu.Lock()
		a.contacts[key] = mesh.Contact{Name: node.Name, PublicKey: node.PublicKey}
		a.mu.Unlock()
	}

	if a.nodes == nil {
		return
	}

	record := stats.Node{PublicKey: node.PublicKey, Name: node.Name, Role: node.Role, LastAdvert: time.Now()}
	if node.Latitude != nil && node.Longitude != nil {
		record.Latitude, record.Longitude = *node.Latitude, *node.Longitude
	}
	if err := a.nodes.UpsertNode(ctx, record); err != nil {
		a.log.Warn("Failed to store node advert", "node", node.Name, "error", err)
	}
}

func (a *Adapter) Connected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.conn != nil && a.radioUp
}

func (a *Adapter) SelfName() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.selfName
}

// ContactByName matches contact names case-insensitively.
func (a *Adapter) ContactByName(name string) (mesh.Contact, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	contact, ok := a.contacts[contactKey(name)]
	return contact, ok
}

func (a *Adapter) SendDirect(ctx context.Context, contact mesh.Contact, text string) (*mesh.Event, error) {
	return a.request(ctx, methodSendDirect, sendParams{Contact: &contact, Text: text}, a.requestTimeout)
}

// SendDirectWithRetry asks the radio to resend until acknowledged, falling
// back to flood routing after opts.FloodAfter attempts.
func (a *Adapter) SendDirectWithRetry(ctx context.Context, contact mesh.Contact, text string, opts mesh.RetryOptions) (*mesh.Event, error) {
	retry := &retryParams{
		MaxAttempts:      opts.MaxAttempts,
		MaxFloodAttempts: opts.MaxFloodAttempts,
		FloodAfter:       opts.FloodAfter,
	}
	timeout := a.requestTimeout
	if opts.Timeout > 0 {
		retry.TimeoutSeconds = opts.Timeout.Seconds()
		timeout = opts.Timeout
	}
	if attempts := opts.MaxAttempts + opts.MaxFloodAttempts; attempts > 1 {
		timeout *= time.Duration(attempts)
	}

	return a.request(ctx, methodSendDirectRetry, sendParams{Contact: &contact, Text: text, Retry: retry}, timeout)
}

func (a *Adapter) SendChannel(ctx context.Context, number int, text string) (*mesh.Event, error) {
	return a.request(ctx, methodSendChannel, sendParams{Channel: &number, Text: text}, a.requestTimeout)
}

// request sends one call and waits for its response. A response that does
// not arrive within timeout yields a nil event and nil error.
func (a *Adapter) request(ctx context.Context, method string, params sendParams, timeout time.Duration) (*mesh.Event, error) {
	a.mu.RLock()
	conn := a.conn
	a.mu.RUnlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", method, err)
	}

	id := uuid.NewString()
	reply := make(chan wireMessage, 1)
	a.pendingMu.Lock()
	a.pending[id] = reply
	a.pendingMu.Unlock()
	defer a.forget(id)

	a.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = conn.WriteJSON(wireMessage{Type: frameRequest, ID: id, Method: method, Params: raw})
	a.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", method, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-reply:
		if !ok {
			return nil, ErrNotConnected
		}
		if msg.Error != "" {
			return nil, errors.New(msg.Error)
		}
		return msg.Event, nil
	case <-timer.C:
		a.log.Warn("Bridge request timed out", "method", method, "id", id, "timeout", timeout)
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Adapter) resolve(msg wireMessage) {
	a.pendingMu.Lock()
	reply, ok := a.pending[msg.ID]
	if ok {
		delete(a.pending, msg.ID)
	}
	a.pendingMu.Unlock()

	if !ok {
		a.log.Debug("Dropping response for unknown request", "id", msg.ID)
		return
	}
	reply <- msg
}

func (a *Adapter) forget(id string) {
	a.pendingMu.Lock()
	delete(a.pending, id)
	a.pendingMu.Unlock()
}

// failPending wakes every waiting request when the session ends.
func (a *Adapter) failPending() {
	a.pendingMu.Lock()
	defer a.pendingMu.Unlock()

	for id, reply := range a.pending {
		close(reply)
		delete(a.pending, id)
	}
}

func contactKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
