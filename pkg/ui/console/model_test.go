package console

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/go-cmp/cmp"

	"meshbot/pkg/channel/loopback"
	"meshbot/pkg/mesh"
)

func TestParseInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    mesh.Message
		wantErr bool
	}{
		{
			name:  "direct message",
			input: " !ping ",
			want:  mesh.Message{SenderID: "Alice", IsDM: true, Content: "!ping", Path: "Direct"},
		},
		{
			name:  "channel message",
			input: "#general  wx 98101",
			want:  mesh.Message{SenderID: "Alice", Channel: "general", Content: "wx 98101", Path: "Direct"},
		},
		{name: "missing channel name", input: "# hello", wantErr: true},
		{name: "missing channel text", input: "#general", wantErr: true},
		{name: "empty", input: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseInput(tt.input, "Alice")
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseInput(%q) expected error, got %+v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseInput(%q) error = %v", tt.input, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("parseInput(%q) mismatch (-want +got):\n%s", tt.input, diff)
			}
		})
	}
}

func TestIsExitCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  bool
	}{
		{input: "exit", want: true},
		{input: " /exit ", want: true},
		{input: "QUIT", want: true},
		{input: ":q", want: true},
		{input: "!ping", want: false},
		{input: "quit now", want: false},
	}

	for _, tt := range tests {
		if got := isExitCommand(tt.input); got != tt.want {
			t.Fatalf("isExitCommand(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestTransmissionLabel(t *testing.T) {
	t.Parallel()

	m := newModel(context.Background(), Options{Channels: map[string]int{"general": 0, "emergency": 2}})

	tests := []struct {
		tx   loopback.Transmission
		want string
	}{
		{tx: loopback.Transmission{Direct: true, To: "Alice"}, want: "dm:Alice"},
		{tx: loopback.Transmission{Channel: 2}, want: "channel:emergency"},
		{tx: loopback.Transmission{Channel: 5}, want: "channel:5"},
	}

	for _, tt := range tests {
		if got := m.transmissionLabel(tt.tx); got != tt.want {
			t.Fatalf("transmissionLabel(%+v) = %q, want %q", tt.tx, got, tt.want)
		}
	}
}

func TestSubmitInjectsMessage(t *testing.T) {
	t.Parallel()

	var injected []mesh.Message
	inject := func(_ context.Context, msg mesh.Message) error {
		injected = append(injected, msg)
		return nil
	}

	m := newModel(context.Background(), Options{Sender: "Alice", Inject: inject})
	m.booting = false
	m.input.SetValue("#general !ping")

	cmd := m.submit()
	if cmd == nil {
		t.Fatal("expected submit to return a command")
	}
	if !m.isLoading {
		t.Fatal("expected console to wait for the bot after submit")
	}
	if m.input.Value() != "" {
		t.Fatalf("expected input to be cleared, got %q", m.input.Value())
	}
	if len(m.entries) != 1 || m.entries[0].label != "channel:general" {
		t.Fatalf("unexpected entries: %+v", m.entries)
	}

	if msg := injectCmd(context.Background(), inject, mesh.Message{Content: "!ping"})(); msg.(injectResultMsg).err != nil {
		t.Fatalf("inject result error = %v", msg.(injectResultMsg).err)
	}
	if len(injected) != 1 {
		t.Fatalf("expected one injected message, got %d", len(injected))
	}
}

func TestSubmitRejectsBadInput(t *testing.T) {
	t.Parallel()

	m := newModel(context.Background(), Options{Sender: "Alice"})
	m.booting = false
	m.input.SetValue("#general")

	if cmd := m.submit(); cmd != nil {
		t.Fatal("expected no command for invalid input")
	}
	if m.lastErr == "" {
		t.Fatal("expected an error to be shown")
	}
	if m.isLoading {
		t.Fatal("expected console to stay idle")
	}
}

func TestUpdateTransmissionAppendsBotEntry(t *testing.T) {
	t.Parallel()

	ch := make(chan loopback.Transmission, 1)
	m := newModel(context.Background(), Options{Transmissions: ch})
	m.isLoading = true

	_, cmd := m.Update(transmissionMsg{tx: loopback.Transmission{Direct: true, To: "Alice", Text: "Pong!"}, ok: true})
	if cmd == nil {
		t.Fatal("expected console to keep listening for transmissions")
	}
	if m.isLoading {
		t.Fatal("expected busy indicator to stop on transmission")
	}
	if m.sent != 1 || m.sentBytes != len("Pong!") {
		t.Fatalf("sent = %d bytes = %d", m.sent, m.sentBytes)
	}
	want := []entry{{role: "bot", label: "dm:Alice", content: "Pong!"}}
	if diff := cmp.Diff(want, m.entries, cmp.AllowUnexported(entry{})); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(m.viewport.View(), "Pong!") {
		t.Fatal("expected transmission to be rendered")
	}
}

func TestUpdateClosedTransmissionsStopsListening(t *testing.T) {
	t.Parallel()

	m := newModel(context.Background(), Options{})
	if _, cmd := m.Update(transmissionMsg{ok: false}); cmd != nil {
		t.Fatal("expected no follow-up command after transmissions close")
	}
}

func TestUpdateInjectErrorShowsError(t *testing.T) {
	t.Parallel()

	m := newModel(context.Background(), Options{})
	m.isLoading = true
	m.Update(injectResultMsg{err: errors.New("queue full")})

	if m.isLoading {
		t.Fatal("expected busy indicator to stop on inject failure")
	}
	if m.lastErr != "queue full" {
		t.Fatalf("lastErr = %q", m.lastErr)
	}
}

func TestQuietMsgIgnoresStaleSequence(t *testing.T) {
	t.Parallel()

	m := newModel(context.Background(), Options{})
	m.isLoading = true
	m.seq = 2

	m.Update(quietMsg{seq: 1})
	if !m.isLoading {
		t.Fatal("expected stale quiet tick to be ignored")
	}
	m.Update(quietMsg{seq: 2})
	if m.isLoading {
		t.Fatal("expected current quiet tick to stop the busy indicator")
	}
}

func TestExitKeyQuits(t *testing.T) {
	t.Parallel()

	m := newModel(context.Background(), Options{})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected ctrl+c to quit")
	}
}
