package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"meshbot/pkg/mesh"
	"meshbot/pkg/stats"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"), goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))
}

// fakeBridge is a scripted companion bridge.
type fakeBridge struct {
	t        *testing.T
	server   *httptest.Server
	requests chan wireMessage
	reply    func(req wireMessage) *wireMessage

	mu   sync.Mutex
	conn *websocket.Conn
}

func newFakeBridge(t *testing.T, greeting []wireMessage, reply func(req wireMessage) *wireMessage) *fakeBridge {
	t.Helper()

	b := &fakeBridge{t: t, requests: make(chan wireMessage, 16), reply: reply}
	upgrader := websocket.Upgrader{}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()

		for _, frame := range greeting {
			if err := b.write(frame); err != nil {
				return
			}
		}

		for {
			var req wireMessage
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			b.requests <- req
			if b.reply == nil {
				continue
			}
			if resp := b.reply(req); resp != nil {
				resp.Type = frameResponse
				resp.ID = req.ID
				if err := b.write(*resp); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(b.server.Close)

	return b
}

func (b *fakeBridge) write(frame wireMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn.WriteJSON(frame)
}

func (b *fakeBridge) url() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http")
}

type recordingNodes struct {
	mu    sync.Mutex
	nodes []stats.Node
}

func (r *recordingNodes) UpsertNode(_ context.Context, node stats.Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = append(r.nodes, node)
	return nil
}

func (r *recordingNodes) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nodes)
}

func startAdapter(t *testing.T, adapter *Adapter, handler func(context.Context, mesh.Message) error) {
	t.Helper()

	if handler == nil {
		handler = func(context.Context, mesh.Message) error { return nil }
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- adapter.Run(ctx, handler) }()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	require.Eventually(t, adapter.Connected, 2*time.Second, 5*time.Millisecond)
}

func boolPtr(v bool) *bool { return &v }

func floatPtr(v float64) *float64 { return &v }

func TestSessionStateAndInbound(t *testing.T) {
	greeting := []wireMessage{
		{Type: frameSelf, Name: "HowlBot"},
		{Type: frameContacts, Contacts: []mesh.Contact{{Name: "Alice", PublicKey: "aa11"}}},
		{Type: frameAdvert, Node: &advert{PublicKey: "bb22", Name: "Hilltop", Role: "repeater", Latitude: floatPtr(47.6), Longitude: floatPtr(-122.3)}},
		{Type: frameMessage, Message: &mesh.Message{SenderID: "Alice", IsDM: true, Content: "ping"}},
	}
	bridge := newFakeBridge(t, greeting, nil)
	nodes := &recordingNodes{}
	adapter, err := NewAdapter(Options{URL: bridge.url(), Nodes: nodes})
	require.NoError(t, err)

	received := make(chan mesh.Message, 1)
	startAdapter(t, adapter, func(_ context.Context, msg mesh.Message) error {
		received <- msg
		return nil
	})

	select {
	case msg := <-received:
		require.Equal(t, "ping", msg.Content)
		require.False(t, msg.ReceivedAt.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("inbound message not delivered")
	}

	require.Equal(t, "HowlBot", adapter.SelfName())
	contact, ok := adapter.ContactByName("alice")
	require.True(t, ok)
	require.Equal(t, "aa11", contact.PublicKey)

	require.Eventually(t, func() bool { return nodes.Len() == 1 }, time.Second, 5*time.Millisecond)
	hilltop, ok := adapter.ContactByName("Hilltop")
	require.True(t, ok)
	require.Equal(t, "bb22", hilltop.PublicKey)

	require.NoError(t, bridge.write(wireMessage{Type: frameStatus, Connected: boolPtr(false)}))
	require.Eventually(t, func() bool { return !adapter.Connected() }, time.Second, 5*time.Millisecond)
}

func TestSendChannelRoundTrip(t *testing.T) {
	bridge := newFakeBridge(t, nil, func(req wireMessage) *wireMessage {
		return &wireMessage{Event: &mesh.Event{Type: mesh.EventMsgSent}}
	})
	adapter, err := NewAdapter(Options{URL: bridge.url()})
	require.NoError(t, err)
	startAdapter(t, adapter, nil)

	event, err := adapter.SendChannel(context.Background(), 3, "hello mesh")
	require.NoError(t, err)
	require.Equal(t, mesh.EventMsgSent, event.Type)

	req := <-bridge.requests
	require.Equal(t, frameRequest, req.Type)
	require.Equal(t, methodSendChannel, req.Method)
	require.NotEmpty(t, req.ID)

	var params sendParams
	require.NoError(t, json.Unmarshal(req.Params, &params))
	require.Equal(t, 3, *params.Channel)
	require.Equal(t, "hello mesh", params.Text)
}

func TestSendDirectWithRetryCarriesOptions(t *testing.T) {
	bridge := newFakeBridge(t, nil, func(req wireMessage) *wireMessage {
		return &wireMessage{Event: &mesh.Event{Type: mesh.EventOK}}
	})
	adapter, err := NewAdapter(Options{URL: bridge.url()})
	require.NoError(t, err)
	startAdapter(t, adapter, nil)

	contact := mesh.Contact{Name: "Alice", PublicKey: "aa11"}
	event, err := adapter.SendDirectWithRetry(context.Background(), contact, "hi", mesh.RetryOptions{MaxAttempts: 3, MaxFloodAttempts: 2, FloodAfter: 2})
	require.NoError(t, err)
	require.Equal(t, mesh.EventOK, event.Type)

	req := <-bridge.requests
	require.Equal(t, methodSendDirectRetry, req.Method)
	var params sendParams
	require.NoError(t, json.Unmarshal(req.Params, &params))
	require.Equal(t, "aa11", params.Contact.PublicKey)
	require.Equal(t, 3, params.Retry.MaxAttempts)
	require.Equal(t, 2, params.Retry.FloodAfter)
}

func TestSendErrorAndTimeout(t *testing.T) {
	bridge := newFakeBridge(t, nil, func(req wireMessage) *wireMessage {
		if req.Method == methodSendDirect {
			return &wireMessage{Error: "contact not reachable"}
		}
		return nil
	})
	adapter, err := NewAdapter(Options{URL: bridge.url(), RequestTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	startAdapter(t, adapter, nil)

	_, err = adapter.SendDirect(context.Background(), mesh.Contact{Name: "Bob"}, "x")
	require.EqualError(t, err, "contact not reachable")

	event, err := adapter.SendChannel(context.Background(), 0, "x")
	require.NoError(t, err)
	require.Nil(t, event, "a timed out request reports no result")
}

func TestSendWithoutSession(t *testing.T) {
	adapter, err := NewAdapter(Options{URL: "ws://127.0.0.1:1/ws"})
	require.NoError(t, err)
	require.False(t, adapter.Connected())

	_, err = adapter.SendChannel(context.Background(), 0, "x")
	require.ErrorIs(t, err, ErrNotConnected)

	_, err = NewAdapter(Options{})
	require.Error(t, err)
}
