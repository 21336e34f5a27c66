package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"meshbot/pkg/mesh"
)

// DefaultSettings returns the built-in command configuration.
func DefaultSettings() map[string]Settings {
	return map[string]Settings{
		"ping": {
			Keywords: []string{"ping"},
			Template: "Pong!",
			Help:     "Get a quick reply from the bot",
		},
		"test": {
			Keywords: []string{"test"},
			Template: "ack @[{sender}]{connection_info} | Received at: {timestamp}",
			Help:     "Test the link and show signal details",
		},
		"help": {
			Keywords: []string{"help"},
			Help:     "Show commands. Use 'help <command>' for details",
		},
		"cmd": {
			Keywords: []string{"cmd", "commands"},
			Help:     "List available commands",
		},
		"stats": {
			Keywords:  []string{"stats"},
			Help:      "Show how often each command was used",
			Cooldown:  30 * time.Second,
			PerCaller: true,
		},
	}
}

// CountSource reports per-command usage counts.
type CountSource interface {
	CommandCounts(ctx context.Context) (map[string]int, error)
}

// RegisterBuiltins registers the enabled built-in commands. Settings override
// DefaultSettings per command name. A nil counts source skips "stats".
func RegisterBuiltins(reg *Registry, overrides map[string]Settings, env Environment, counts CountSource) error {
	settings := DefaultSettings()
	for name, override := range overrides {
		settings[name] = mergeSettings(settings[name], override)
	}

	var commands []Command
	if s := settings["ping"]; !s.Disabled {
		commands = append(commands, NewStatic("ping", s, env))
	}
	if s := settings["test"]; !s.Disabled {
		commands = append(commands, NewStatic("test", s, env))
	}
	if s := settings["help"]; !s.Disabled {
		commands = append(commands, NewHelp(s, env))
	}
	if s := settings["cmd"]; !s.Disabled {
		commands = append(commands, NewCommandList(s, env, reg))
	}
	if s := settings["stats"]; !s.Disabled && counts != nil {
		commands = append(commands, NewStats(s, env, counts))
	}

	return reg.Register(commands...)
}

func mergeSettings(base Settings, override Settings) Settings {
	merged := override
	if len(merged.Keywords) == 0 {
		merged.Keywords = base.Keywords
	}
	if merged.Help == "" {
		merged.Help = base.Help
	}
	if merged.Template == "" {
		merged.Template = base.Template
	}
	if merged.Cooldown == 0 {
		merged.Cooldown = base.Cooldown
		merged.PerCaller = base.PerCaller
	}

	return merged
}

// Static answers with a fixed template. The matcher formats and sends the
// template, so Execute only runs when a caller invokes the command directly.
type Static struct {
	Base
}

func NewStatic(name string, settings Settings, env Environment) *Static {
	return &Static{Base: NewBase(name, settings, env)}
}

func (s *Static) Execute(ctx context.Context, msg mesh.Message, responder Responder) (Result, error) {
	text, _ := s.ResponseTemplate()
	outcome, err := responder.Respond(ctx, msg, text)
	if err != nil {
		return Result{Response: text}, err
	}

	return Result{Success: outcome.Sent, Response: text}, nil
}

// HelpProvider renders help text.
type HelpProvider interface {
	GeneralHelp() string
	HelpFor(msg mesh.Message, topic string) string
}

// Help owns the help keywords. The dispatcher intercepts help requests before
// command matching; Execute serves direct invocations.
type Help struct {
	Base
	provider HelpProvider
}

func NewHelp(settings Settings, env Environment) *Help {
	return &Help{Base: NewBase("help", settings, env)}
}

// Bind sets the help renderer.
func (h *Help) Bind(provider HelpProvider) {
	h.provider = provider
}

func (h *Help) Execute(ctx context.Context, msg mesh.Message, responder Responder) (Result, error) {
	if h.provider == nil {
		return Result{}, fmt.Errorf("help provider not bound")
	}

	text := h.provider.GeneralHelp()
	if topic := h.Args(msg); topic != "" {
		text = h.provider.HelpFor(msg, strings.ToLower(topic))
	}

	outcome, err := responder.Respond(ctx, msg, text)
	if err != nil {
		return Result{Response: text}, err
	}

	return Result{Success: outcome.Sent, Response: text}, nil
}

// CommandList replies with the registered command names.
type CommandList struct {
	Base
	registry *Registry
}

func NewCommandList(settings Settings, env Environment, registry *Registry) *CommandList {
	return &CommandList{Base: NewBase("cmd", settings, env), registry: registry}
}

func (c *CommandList) Execute(ctx context.Context, msg mesh.Message, responder Responder) (Result, error) {
	text := "Commands: " + strings.Join(c.registry.Names(), ", ")

	outcome, err := responder.Respond(ctx, msg, text)
	if err != nil {
		return Result{Response: text}, err
	}

	return Result{Success: outcome.Sent, Response: text}, nil
}

// Stats replies with usage counts, most used first.
type Stats struct {
	Base
	counts CountSource
}

func NewStats(settings Settings, env Environment, counts CountSource) *Stats {
	return &Stats{Base: NewBase("stats", settings, env), counts: counts}
}

func (s *Stats) Execute(ctx context.Context, msg mesh.Message, responder Responder) (Result, error) {
	counts, err := s.counts.CommandCounts(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load command counts: %w", err)
	}

	text := "No commands recorded yet"
	if len(counts) > 0 {
		text = "Usage: " + formatCounts(counts)
	}

	outcome, err := responder.Respond(ctx, msg, text)
	if err != nil {
		return Result{Response: text}, err
	}

	return Result{Success: outcome.Sent, Response: text}, nil
}

func formatCounts(counts map[string]int) string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s %d", name, counts[name]))
	}

	return strings.Join(parts, ", ")
}
