package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides lists the variables that replace file settings. Nil fields
// were not set in the environment.
type envOverrides struct {
	BotName         *string  `env:"MESHBOT_BOT_NAME"`
	Timezone        *string  `env:"MESHBOT_TIMEZONE"`
	CommandPrefix   *string  `env:"MESHBOT_COMMAND_PREFIX"`
	TxDelayMS       *int     `env:"MESHBOT_TX_DELAY_MS"`
	DMMaxRetries    *int     `env:"MESHBOT_DM_MAX_RETRIES"`
	Admins          []string `env:"MESHBOT_ADMINS" envSeparator:","`
	BannedUsers     []string `env:"MESHBOT_BANNED_USERS" envSeparator:","`
	MonitorChannels []string `env:"MESHBOT_MONITOR_CHANNELS" envSeparator:","`

	KeywordsFile *string `env:"MESHBOT_KEYWORDS_FILE"`
	LocaleFile   *string `env:"MESHBOT_LOCALE_FILE"`

	UserIntervalSeconds *float64 `env:"MESHBOT_USER_INTERVAL_SECONDS"`
	TxPerMinute         *int     `env:"MESHBOT_TX_PER_MINUTE"`

	BridgeEnabled *bool   `env:"MESHBOT_BRIDGE_ENABLED"`
	BridgeURL     *string `env:"MESHBOT_BRIDGE_URL"`

	TelegramEnabled   *bool    `env:"TELEGRAM_ENABLED"`
	TelegramToken     *string  `env:"TELEGRAM_BOT_TOKEN"`
	TelegramAllowFrom []string `env:"TELEGRAM_ALLOW_FROM" envSeparator:","`

	StatsEnabled *bool   `env:"MESHBOT_STATS_ENABLED"`
	StatsPath    *string `env:"MESHBOT_STATS_PATH"`

	GatewayHost *string `env:"MESHBOT_GATEWAY_HOST"`
	GatewayPort *int    `env:"MESHBOT_GATEWAY_PORT"`
}

// ApplyEnv injects env-driven settings on top of cfg.
func ApplyEnv(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse environment overrides: %w", err)
	}

	set(&cfg.Bot.Name, o.BotName)
	set(&cfg.Bot.Timezone, o.Timezone)
	set(&cfg.Bot.CommandPrefix, o.CommandPrefix)
	set(&cfg.Bot.TxDelayMS, o.TxDelayMS)
	set(&cfg.Bot.DMMaxRetries, o.DMMaxRetries)
	setList(&cfg.Bot.Admins, o.Admins)
	setList(&cfg.Bot.BannedUsers, o.BannedUsers)
	setList(&cfg.Bot.MonitorChannels, o.MonitorChannels)

	set(&cfg.KeywordsFile, o.KeywordsFile)
	set(&cfg.LocaleFile, o.LocaleFile)

	set(&cfg.RateLimits.UserIntervalSeconds, o.UserIntervalSeconds)
	set(&cfg.RateLimits.TxPerMinute, o.TxPerMinute)

	set(&cfg.Channels.Bridge.Enabled, o.BridgeEnabled)
	set(&cfg.Channels.Bridge.URL, o.BridgeURL)

	set(&cfg.Channels.Telegram.Enabled, o.TelegramEnabled)
	set(&cfg.Channels.Telegram.Token, o.TelegramToken)
	setList(&cfg.Channels.Telegram.AllowFrom, o.TelegramAllowFrom)

	set(&cfg.Stats.Enabled, o.StatsEnabled)
	set(&cfg.Stats.Path, o.StatsPath)

	set(&cfg.Gateway.Host, o.GatewayHost)
	set(&cfg.Gateway.Port, o.GatewayPort)

	return nil
}

func set[T any](dst *T, value *T) {
	if value != nil {
		*dst = *value
	}
}

// setList replaces dst with the non-empty entries of values.
func setList(dst *[]string, values []string) {
	if len(values) == 0 {
		return
	}

	clean := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	if len(clean) > 0 {
		*dst = clean
	}
}
