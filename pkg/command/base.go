package command

import (
	"slices"
	"strings"
	"time"

	"meshbot/pkg/mesh"
)

// Settings is the per-command configuration shared by every command.
type Settings struct {
	Disabled        bool
	Keywords        []string
	Help            string
	Template        string
	Cooldown        time.Duration
	PerCaller       bool
	AllowedChannels []string
	RequireInternet bool
	RequireDM       bool
	RequireAdmin    bool
}

// Environment carries bot-wide settings every command consults.
type Environment struct {
	Prefix          string
	Admins          []string
	MonitorChannels []string
	Now             func() time.Time
}

// Base implements the Command surface except Execute. Commands embed it.
type Base struct {
	name     string
	keywords []string
	help     string
	template string

	internet bool
	dmOnly   bool
	admin    bool

	admins          []string
	allowedChannels []string
	monitorChannels []string
	prefix          string

	cooldown CooldownPolicy
}

// NewBase builds the shared command state. Keywords default to the name.
func NewBase(name string, settings Settings, env Environment) Base {
	keywords := make([]string, 0, len(settings.Keywords))
	for _, keyword := range settings.Keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword != "" && !slices.Contains(keywords, keyword) {
			keywords = append(keywords, keyword)
		}
	}
	if len(keywords) == 0 {
		keywords = []string{strings.ToLower(name)}
	}

	var policy CooldownPolicy
	if settings.Cooldown > 0 {
		if settings.PerCaller {
			policy = NewPerCallerCooldown(settings.Cooldown, env.Now)
		} else {
			policy = NewGlobalCooldown(settings.Cooldown, env.Now)
		}
	}

	return Base{
		name:            name,
		keywords:        keywords,
		help:            settings.Help,
		template:        settings.Template,
		internet:        settings.RequireInternet,
		dmOnly:          settings.RequireDM,
		admin:           settings.RequireAdmin,
		admins:          env.Admins,
		allowedChannels: settings.AllowedChannels,
		monitorChannels: env.MonitorChannels,
		prefix:          env.Prefix,
		cooldown:        policy,
	}
}

func (b *Base) Name() string           { return b.name }
func (b *Base) Keywords() []string     { return slices.Clone(b.keywords) }
func (b *Base) RequiresInternet() bool { return b.internet }
func (b *Base) RequiresDM() bool       { return b.dmOnly }
func (b *Base) RequiresAdmin() bool    { return b.admin }
func (b *Base) Cooldown() CooldownPolicy {
	return b.cooldown
}

func (b *Base) ResponseTemplate() (string, bool) {
	return b.template, b.template != ""
}

func (b *Base) HelpText(mesh.Message) string {
	if b.help == "" {
		return b.name
	}

	return b.help
}

// AdminAllowed matches the sender's public key or name against the admin list.
func (b *Base) AdminAllowed(msg mesh.Message) bool {
	if !b.admin {
		return true
	}

	for _, admin := range b.admins {
		admin = strings.TrimSpace(admin)
		if admin == "" {
			continue
		}
		if msg.SenderPubKey != "" && strings.HasPrefix(strings.ToLower(msg.SenderPubKey), strings.ToLower(admin)) {
			return true
		}
		if strings.EqualFold(admin, msg.SenderID) {
			return true
		}
	}

	return false
}

func (b *Base) ShouldMatch(msg mesh.Message) bool {
	content := Normalize(msg.Content, b.prefix)
	for _, keyword := range b.keywords {
		if MatchesKeyword(content, keyword) {
			return true
		}
	}

	return false
}

// ChannelAllowed checks the command's channel list, falling back to the bot's
// monitored channels. Direct messages are always allowed.
func (b *Base) ChannelAllowed(msg mesh.Message) bool {
	if msg.IsDM {
		return true
	}

	channels := b.allowedChannels
	if len(channels) == 0 {
		channels = b.monitorChannels
	}
	if len(channels) == 0 {
		return true
	}

	for _, channel := range channels {
		if strings.EqualFold(strings.TrimSpace(channel), msg.Channel) {
			return true
		}
	}

	return false
}

func (b *Base) CanExecuteNow(msg mesh.Message) bool {
	if !b.ChannelAllowed(msg) {
		return false
	}
	if b.dmOnly && !msg.IsDM {
		return false
	}
	if !b.AdminAllowed(msg) {
		return false
	}

	return RemainingOf(b.cooldown, msg.SenderID) <= 0
}

// Args returns the text after the command keyword.
func (b *Base) Args(msg mesh.Message) string {
	return Args(msg.Content, b.prefix, b.keywords)
}
