package dispatch

import (
	"strings"

	"meshbot/pkg/localize"
	"meshbot/pkg/mesh"
)

const helpNotConfigured = "Help not configured"

// GeneralHelp returns the configured "help" keyword response.
func (d *Dispatcher) GeneralHelp() string {
	if text, ok := d.keywords["help"]; ok {
		return text
	}

	return helpNotConfigured
}

// HelpFor returns help scoped to a command name, alias or keyword.
func (d *Dispatcher) HelpFor(msg mesh.Message, topic string) string {
	topic = strings.ToLower(strings.TrimSpace(topic))
	switch topic {
	case "", "commands", "list", "all":
		return d.GeneralHelp()
	}

	cmd, ok := d.registry.Lookup(topic)
	if !ok {
		cmd, ok = d.registry.ByKeyword(topic)
	}
	if ok {
		return localize.Render(d.translator, localize.KeyHelpSpecific, localize.Params{
			"command":   topic,
			"help_text": cmd.HelpText(msg),
		})
	}

	return localize.Render(d.translator, localize.KeyHelpUnknown, localize.Params{
		"command":   topic,
		"available": strings.Join(d.registry.Names(), ", "),
	})
}
