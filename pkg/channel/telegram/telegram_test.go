package telegram

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/mymmrac/telego"

	"meshbot/pkg/config"
	"meshbot/pkg/mesh"
)

func newTestAdapter(t *testing.T, cfg config.TelegramConfig) *Adapter {
	t.Helper()
	cfg.Token = "123:test"
	adapter, err := NewAdapter(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewAdapter error: %v", err)
	}
	return adapter
}

func TestNewAdapterRequiresToken(t *testing.T) {
	if _, err := NewAdapter(config.TelegramConfig{Token: " "}, nil); err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestAllowFromSet(t *testing.T) {
	allowed := allowFromSet([]string{" 123 ", "", "456", "123"})
	if len(allowed) != 2 {
		t.Fatalf("allowFromSet len = %d, want 2", len(allowed))
	}
	if _, ok := allowed["123"]; !ok {
		t.Fatal("allowFromSet missing 123")
	}
	if _, ok := allowed["456"]; !ok {
		t.Fatal("allowFromSet missing 456")
	}
}

func TestSenderAllowed(t *testing.T) {
	adapter := &Adapter{allowFrom: map[string]struct{}{"1": {}}}
	if !adapter.senderAllowed("1") {
		t.Fatal("expected sender 1 to be allowed")
	}
	if adapter.senderAllowed("2") {
		t.Fatal("expected sender 2 to be denied")
	}

	adapter.allowFrom = nil
	if !adapter.senderAllowed("any") {
		t.Fatal("expected sender to be allowed when allowlist empty")
	}
}

func TestPrivateMessageBecomesDM(t *testing.T) {
	adapter := newTestAdapter(t, config.TelegramConfig{})

	msg, ok := adapter.toMessage(&telego.Message{
		Date: 1_700_000_000,
		Text: "  ping ",
		From: &telego.User{ID: 42, FirstName: "Alice"},
		Chat: telego.Chat{ID: 4242, Type: telego.ChatTypePrivate},
	})
	if !ok {
		t.Fatal("expected private message to be accepted")
	}
	if !msg.IsDM || msg.SenderID != "Alice" || msg.Content != "ping" || msg.SenderPubKey != "42" {
		t.Fatalf("message = %+v", msg)
	}

	contact, ok := adapter.ContactByName("alice")
	if !ok || contact.PublicKey != "4242" {
		t.Fatalf("contact = %+v, %v; want chat id 4242", contact, ok)
	}
}

func TestGroupMessageMapsToChannel(t *testing.T) {
	adapter := newTestAdapter(t, config.TelegramConfig{Groups: []config.TelegramGroup{
		{Name: "general", ChatID: -100},
		{Name: "emergency", ChatID: -200},
	}})

	msg, ok := adapter.toMessage(&telego.Message{
		Text: "wx",
		From: &telego.User{ID: 7, Username: "bob"},
		Chat: telego.Chat{ID: -200, Type: telego.ChatTypeSupergroup},
	})
	if !ok {
		t.Fatal("expected configured group message to be accepted")
	}
	if msg.IsDM || msg.Channel != "emergency" || msg.SenderID != "bob" {
		t.Fatalf("message = %+v", msg)
	}

	if _, ok := adapter.toMessage(&telego.Message{
		Text: "wx",
		From: &telego.User{ID: 7},
		Chat: telego.Chat{ID: -999, Type: telego.ChatTypeGroup},
	}); ok {
		t.Fatal("expected unconfigured group to be ignored")
	}

	number, ok := adapter.ChannelNumber("Emergency")
	if !ok || number != 1 {
		t.Fatalf("ChannelNumber = %d, %v; want 1, true", number, ok)
	}
}

func TestIgnoredMessages(t *testing.T) {
	adapter := newTestAdapter(t, config.TelegramConfig{AllowFrom: []string{"1"}})

	cases := []*telego.Message{
		nil,
		{Text: "hi", Chat: telego.Chat{Type: telego.ChatTypePrivate}},
		{Text: "  ", From: &telego.User{ID: 1}, Chat: telego.Chat{Type: telego.ChatTypePrivate}},
		{Text: "hi", From: &telego.User{ID: 2}, Chat: telego.Chat{Type: telego.ChatTypePrivate}},
	}
	for i, message := range cases {
		if _, ok := adapter.toMessage(message); ok {
			t.Fatalf("case %d: expected message to be ignored", i)
		}
	}
}

func TestSendWithoutBot(t *testing.T) {
	adapter := newTestAdapter(t, config.TelegramConfig{Groups: []config.TelegramGroup{{Name: "general", ChatID: -1}}})

	if adapter.Connected() {
		t.Fatal("adapter must not report connected before Run")
	}
	if _, err := adapter.SendChannel(context.Background(), 0, "x"); err == nil {
		t.Fatal("expected error while bot is not running")
	}
	if _, err := adapter.SendChannel(context.Background(), 5, "x"); err == nil {
		t.Fatal("expected error for unknown channel number")
	}
	if _, err := adapter.SendDirect(context.Background(), mesh.Contact{Name: "x"}, "x"); err == nil {
		t.Fatal("expected error for contact without chat id")
	}
}
