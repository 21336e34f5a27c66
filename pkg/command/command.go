// Package command defines the capability surface the dispatcher drives, plus
// the built-in commands.
package command

import (
	"context"
	"strings"

	"meshbot/pkg/delivery"
	"meshbot/pkg/mesh"
)

// DefaultPrefix is the optional marker users put before a command word.
const DefaultPrefix = "!"

// Result is what a self-handling command reports after running.
type Result struct {
	Success  bool
	Response string
}

// Responder sends a reply for the message being handled.
type Responder interface {
	Respond(ctx context.Context, msg mesh.Message, text string) (delivery.Outcome, error)
}

// Command is one dispatchable handler.
type Command interface {
	Name() string
	Keywords() []string
	RequiresInternet() bool
	RequiresDM() bool
	RequiresAdmin() bool
	AdminAllowed(msg mesh.Message) bool
	// ResponseTemplate reports a static reply. Commands with a template are
	// answered by the matcher and never executed.
	ResponseTemplate() (string, bool)
	ShouldMatch(msg mesh.Message) bool
	CanExecuteNow(msg mesh.Message) bool
	ChannelAllowed(msg mesh.Message) bool
	HelpText(msg mesh.Message) string
	// Cooldown returns nil, *GlobalCooldown or *PerCallerCooldown.
	Cooldown() CooldownPolicy
	Execute(ctx context.Context, msg mesh.Message, responder Responder) (Result, error)
}

// Normalize strips a leading prefix marker and surrounding whitespace and
// lower-cases the rest.
func Normalize(content string, prefix string) string {
	content = strings.TrimSpace(content)
	if prefix != "" && strings.HasPrefix(content, prefix) {
		content = strings.TrimSpace(content[len(prefix):])
	}

	return strings.ToLower(content)
}

// MatchesKeyword reports whether normalized content is keyword or starts with
// keyword followed by a space.
func MatchesKeyword(content string, keyword string) bool {
	keyword = strings.ToLower(keyword)
	if keyword == "" {
		return false
	}
	if content == keyword {
		return true
	}

	return strings.HasPrefix(content, keyword+" ")
}

// Args returns what follows the matched keyword, with original casing.
func Args(content string, prefix string, keywords []string) string {
	trimmed := strings.TrimSpace(content)
	if prefix != "" && strings.HasPrefix(trimmed, prefix) {
		trimmed = strings.TrimSpace(trimmed[len(prefix):])
	}

	lower := strings.ToLower(trimmed)
	for _, keyword := range keywords {
		if MatchesKeyword(lower, keyword) && len(keyword) <= len(trimmed) {
			return strings.TrimSpace(trimmed[len(keyword):])
		}
	}

	return ""
}
