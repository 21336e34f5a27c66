package channel

import (
	"context"
	"strings"

	"meshbot/pkg/mesh"
)

const messagePreviewLimit = 240

// Handler accepts one inbound message heard by an adapter.
type Handler func(context.Context, mesh.Message) error

// Adapter bridges one external link into the bot.
type Adapter interface {
	Name() string
	Run(context.Context, Handler) error
}

// Transport is an adapter that replies go back out through.
type Transport interface {
	Adapter
	mesh.Transport
}

// Preview returns a bounded log-safe preview of message text.
func Preview(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	cut := messagePreviewLimit
	for cut > 0 && !isRuneStart(trimmed[cut]) {
		cut--
	}

	return trimmed[:cut] + "..."
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
