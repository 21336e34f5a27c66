// Package loopback is an in-process transport. Injected messages are handed to
// the bot and every transmission is reported back to the caller.
package loopback

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"meshbot/pkg/channel"
	"meshbot/pkg/mesh"
)

const channelName = "loopback"

// Transmission is one physical send made by the bot.
type Transmission struct {
	Direct  bool
	To      string
	Channel int
	Text    string
	At      time.Time
}

// Options configures a Transport.
type Options struct {
	SelfName string
	// Result overrides the event reported for a transmission.
	Result func(Transmission) (*mesh.Event, error)
	// OnTransmit is called after every transmission.
	OnTransmit func(Transmission)
	Buffer     int
	Logger     *slog.Logger
}

type Transport struct {
	selfName   string
	result     func(Transmission) (*mesh.Event, error)
	onTransmit func(Transmission)
	inbound    chan mesh.Message

	mu        sync.Mutex
	connected bool
	sent      []Transmission

	log *slog.Logger
}

func New(opts Options) *Transport {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 16
	}

	return &Transport{
		selfName:   opts.SelfName,
		result:     opts.Result,
		onTransmit: opts.OnTransmit,
		inbound:    make(chan mesh.Message, buffer),
		connected:  true,
		log:        log.With("component", "channel.loopback"),
	}
}

var _ channel.Transport = (*Transport)(nil)

func (t *Transport) Name() string {
	return channelName
}

// Inject queues msg as if it had been heard on the mesh.
func (t *Transport) Inject(ctx context.Context, msg mesh.Message) error {
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}

	select {
	case t.inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run hands injected messages to handler until ctx ends.
func (t *Transport) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-t.inbound:
			t.log.Debug("Received message", "target", msg.Target(), "content", channel.Preview(msg.Content))
			if err := handler(ctx, msg); err != nil {
				t.log.Error("Failed to process inbound message", "error", err)
			}
		}
	}
}

// SetConnected toggles the simulated radio link.
func (t *Transport) SetConnected(connected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = connected
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) SelfName() string {
	return t.selfName
}

// ContactByName resolves any non-empty name.
func (t *Transport) ContactByName(name string) (mesh.Contact, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return mesh.Contact{}, false
	}

	return mesh.Contact{Name: name}, true
}

func (t *Transport) SendDirect(_ context.Context, contact mesh.Contact, text string) (*mesh.Event, error) {
	return t.transmit(Transmission{Direct: true, To: contact.Name, Text: text})
}

func (t *Transport) SendChannel(_ context.Context, number int, text string) (*mesh.Event, error) {
	return t.transmit(Transmission{Channel: number, Text: text})
}

// Sent returns every transmission so far.
func (t *Transport) Sent() []Transmission {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Transmission(nil), t.sent...)
}

func (t *Transport) transmit(tx Transmission) (*mesh.Event, error) {
	tx.At = time.Now()

	event := &mesh.Event{Type: mesh.EventMsgSent}
	var err error
	if t.result != nil {
		event, err = t.result(tx)
	}
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.sent = append(t.sent, tx)
	t.mu.Unlock()

	if t.onTransmit != nil {
		t.onTransmit(tx)
	}

	return event, nil
}
