package bridge

import (
	"encoding/json"

	"meshbot/pkg/mesh"
)

// Frame types exchanged with the companion bridge.
const (
	frameRequest  = "req"
	frameResponse = "res"
	frameSelf     = "self"
	frameContacts = "contacts"
	frameMessage  = "message"
	frameAdvert   = "advert"
	frameStatus   = "status"
)

// Request methods.
const (
	methodSendDirect      = "send_dm"
	methodSendDirectRetry = "send_dm_retry"
	methodSendChannel     = "send_channel"
)

type wireMessage struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Event  *mesh.Event     `json:"event,omitempty"`
	Error  string          `json:"error,omitempty"`

	Name      string         `json:"name,omitempty"`
	Connected *bool          `json:"connected,omitempty"`
	Contacts  []mesh.Contact `json:"contacts,omitempty"`
	Message   *mesh.Message  `json:"message,omitempty"`
	Node      *advert        `json:"node,omitempty"`
}

type sendParams struct {
	Contact *mesh.Contact `json:"contact,omitempty"`
	Channel *int          `json:"channel,omitempty"`
	Text    string        `json:"text"`
	Retry   *retryParams  `json:"retry,omitempty"`
}

type retryParams struct {
	MaxAttempts      int     `json:"max_attempts"`
	MaxFloodAttempts int     `json:"max_flood_attempts"`
	FloodAfter       int     `json:"flood_after"`
	TimeoutSeconds   float64 `json:"timeout_seconds,omitempty"`
}

// advert is a node announcement relayed by the companion radio.
type advert struct {
	PublicKey string   `json:"public_key"`
	Name      string   `json:"name"`
	Role      string   `json:"role"`
	Latitude  *float64 `json:"lat,omitempty"`
	Longitude *float64 `json:"lon,omitempty"`
}
