package bus

import "meshbot/pkg/mesh"

// InboundMessage is a mesh message tagged with the transport that heard it.
type InboundMessage struct {
	Transport string       `json:"transport"`
	Message   mesh.Message `json:"message"`
}

// OutboundMessage is an unsolicited send, such as a scheduled announcement.
// Exactly one of Channel and Recipient is set. An empty Transport means the
// primary transport.
type OutboundMessage struct {
	Source    string `json:"source,omitempty"`
	Transport string `json:"transport,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Content   string `json:"content"`
}
