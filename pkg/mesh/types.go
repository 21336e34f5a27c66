package mesh

import (
	"context"
	"strings"
	"time"
)

// MaxMessageBytes bounds every physical send payload, part prefix included.
const MaxMessageBytes = 150

// Message is one inbound text message heard on the mesh.
type Message struct {
	SenderID     string    `json:"sender_id"`
	SenderPubKey string    `json:"sender_pubkey,omitempty"`
	IsDM         bool      `json:"is_dm"`
	Channel      string    `json:"channel,omitempty"`
	Content      string    `json:"content"`
	Path         string    `json:"path,omitempty"`
	SNR          string    `json:"snr,omitempty"`
	RSSI         string    `json:"rssi,omitempty"`
	Elapsed      string    `json:"elapsed,omitempty"`
	Hops         int       `json:"hops,omitempty"`
	ReceivedAt   time.Time `json:"received_at"`
}

// Target describes where a reply to the message goes, for logging.
func (m Message) Target() string {
	if m.IsDM {
		return "dm:" + m.SenderID
	}

	return "channel:" + m.Channel
}

// Contact is a resolved direct-message destination.
type Contact struct {
	Name      string `json:"name"`
	PublicKey string `json:"public_key,omitempty"`
}

// EventType classifies the result of a send primitive.
type EventType string

const (
	EventError   EventType = "error"
	EventMsgSent EventType = "msg_sent"
	EventOK      EventType = "ok"
)

// ReasonNoEventReceived marks a send whose confirmation timed out.
const ReasonNoEventReceived = "no_event_received"

// Event is the result a transport reports for one send.
type Event struct {
	Type    EventType      `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Reason returns payload["reason"] when it is a string.
func (e *Event) Reason() string {
	if e == nil || e.Payload == nil {
		return ""
	}

	reason, _ := e.Payload["reason"].(string)
	return reason
}

// RetryOptions configures retry-with-acknowledgement sends.
type RetryOptions struct {
	MaxAttempts      int
	MaxFloodAttempts int
	FloodAfter       int
	// Timeout of zero lets the transport pick its suggested timeout.
	Timeout time.Duration
}

// Transport is the narrow send surface the bot core needs from a radio link.
type Transport interface {
	Connected() bool
	SelfName() string
	ContactByName(name string) (Contact, bool)
	SendDirect(ctx context.Context, contact Contact, text string) (*Event, error)
	SendChannel(ctx context.Context, channel int, text string) (*Event, error)
}

// RetryTransport is implemented by transports that can retry a direct
// message until it is acknowledged.
type RetryTransport interface {
	SendDirectWithRetry(ctx context.Context, contact Contact, text string, opts RetryOptions) (*Event, error)
}

// ChannelResolver maps channel names to channel numbers.
type ChannelResolver interface {
	ChannelNumber(name string) (int, bool)
}

// StaticChannels resolves channel names case-insensitively from a fixed table.
type StaticChannels map[string]int

// ChannelNumber implements ChannelResolver.
func (s StaticChannels) ChannelNumber(name string) (int, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	for channelName, number := range s {
		if strings.ToLower(channelName) == key {
			return number, true
		}
	}

	return 0, false
}
