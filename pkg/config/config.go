package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envConfigPath = "MESHBOT_CONFIG"

// ErrNotFound is returned by LoadConfig when no config file exists.
var ErrNotFound = errors.New("config file not found")

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Bot               BotConfig                `json:"bot"`
	Keywords          map[string]string        `json:"keywords,omitempty"`
	CustomSyntax      map[string]string        `json:"custom_syntax,omitempty"`
	KeywordsFile      string                   `json:"keywords_file,omitempty"`
	LocaleFile        string                   `json:"locale_file,omitempty"`
	HelpAliases       map[string]string        `json:"help_aliases,omitempty"`
	Commands          map[string]CommandConfig `json:"commands,omitempty"`
	RateLimits        RateLimitConfig          `json:"rate_limits"`
	Connectivity      ConnectivityConfig       `json:"connectivity"`
	Channels          ChannelsConfig           `json:"channels"`
	ChannelMap        map[string]int           `json:"channel_map,omitempty"`
	ScheduledMessages []ScheduledMessageConfig `json:"scheduled_messages,omitempty"`
	Stats             StatsConfig              `json:"stats"`
	Gateway           GatewayConfig            `json:"gateway"`
	Logging           LoggingConfig            `json:"logging,omitempty"`
}

// BotConfig holds identity, access lists and send pacing.
type BotConfig struct {
	Name               string   `json:"name"`
	Timezone           string   `json:"timezone,omitempty"`
	CommandPrefix      string   `json:"command_prefix,omitempty"`
	TxDelayMS          int      `json:"tx_delay_ms"`
	DMMaxRetries       int      `json:"dm_max_retries"`
	DMMaxFloodAttempts int      `json:"dm_max_flood_attempts"`
	DMFloodAfter       int      `json:"dm_flood_after"`
	DMTimeoutSeconds   int      `json:"dm_timeout_seconds,omitempty"`
	SettleDelayMS      int      `json:"settle_delay_ms"`
	InterPartDelayMS   int      `json:"inter_part_delay_ms"`
	Admins             []string `json:"admins,omitempty"`
	BannedUsers        []string `json:"banned_users,omitempty"`
	MonitorChannels    []string `json:"monitor_channels,omitempty"`
}

// TxDelay is the fixed pause before each physical transmission.
func (b BotConfig) TxDelay() time.Duration {
	return time.Duration(b.TxDelayMS) * time.Millisecond
}

func (b BotConfig) SettleDelay() time.Duration {
	return time.Duration(b.SettleDelayMS) * time.Millisecond
}

func (b BotConfig) InterPartDelay() time.Duration {
	return time.Duration(b.InterPartDelayMS) * time.Millisecond
}

func (b BotConfig) DMTimeout() time.Duration {
	return time.Duration(b.DMTimeoutSeconds) * time.Second
}

// Location resolves Timezone, defaulting to the local zone.
func (b BotConfig) Location() (*time.Location, error) {
	name := strings.TrimSpace(b.Timezone)
	if name == "" {
		return time.Local, nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("bot.timezone: %w", err)
	}

	return loc, nil
}

// CommandConfig overrides one command's settings.
type CommandConfig struct {
	Enabled         *bool    `json:"enabled,omitempty"`
	Keywords        []string `json:"keywords,omitempty"`
	Help            string   `json:"help,omitempty"`
	Response        string   `json:"response,omitempty"`
	CooldownSeconds int      `json:"cooldown_seconds,omitempty"`
	PerCaller       bool     `json:"per_caller,omitempty"`
	AllowedChannels []string `json:"allowed_channels,omitempty"`
	RequireInternet bool     `json:"require_internet,omitempty"`
	RequireDM       bool     `json:"require_dm,omitempty"`
	RequireAdmin    bool     `json:"require_admin,omitempty"`
}

// RateLimitConfig paces replies and transmissions.
type RateLimitConfig struct {
	UserIntervalSeconds float64 `json:"user_interval_seconds"`
	TxPerMinute         int     `json:"tx_per_minute"`
	TxBurst             int     `json:"tx_burst"`
}

func (r RateLimitConfig) UserInterval() time.Duration {
	return time.Duration(r.UserIntervalSeconds * float64(time.Second))
}

// ConnectivityConfig tunes the internet reachability probe.
type ConnectivityConfig struct {
	TTLSeconds     int      `json:"ttl_seconds"`
	TimeoutSeconds int      `json:"timeout_seconds"`
	TCPAddress     string   `json:"tcp_address,omitempty"`
	HTTPURLs       []string `json:"http_urls,omitempty"`
}

func (c ConnectivityConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

func (c ConnectivityConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Bridge   BridgeConfig   `json:"bridge"`
	Telegram TelegramConfig `json:"telegram"`
}

// BridgeConfig configures the companion radio WebSocket bridge.
type BridgeConfig struct {
	Enabled               bool   `json:"enabled"`
	URL                   string `json:"url"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
	ReconnectSeconds      int    `json:"reconnect_seconds"`
}

func (b BridgeConfig) RequestTimeout() time.Duration {
	return time.Duration(b.RequestTimeoutSeconds) * time.Second
}

func (b BridgeConfig) ReconnectDelay() time.Duration {
	return time.Duration(b.ReconnectSeconds) * time.Second
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled   bool            `json:"enabled"`
	Token     string          `json:"token"`
	AllowFrom []string        `json:"allow_from"`
	Groups    []TelegramGroup `json:"groups,omitempty"`
}

// TelegramGroup exposes one group chat as a named bot channel.
type TelegramGroup struct {
	Name   string `json:"name"`
	ChatID int64  `json:"chat_id"`
}

// ScheduledMessageConfig posts Message to Channel on a cron schedule.
type ScheduledMessageConfig struct {
	Name    string `json:"name"`
	Cron    string `json:"cron"`
	Channel string `json:"channel"`
	Message string `json:"message"`
}

// StatsConfig locates the SQLite usage database.
type StatsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// GatewayConfig configures HTTP health bind settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// Default returns a runnable configuration. File values overlay it.
func Default() *Config {
	return &Config{
		Bot: BotConfig{
			Name:               "meshbot",
			CommandPrefix:      "!",
			TxDelayMS:          250,
			DMMaxRetries:       3,
			DMMaxFloodAttempts: 2,
			DMFloodAfter:       2,
			SettleDelayMS:      100,
			InterPartDelayMS:   2000,
		},
		Keywords: map[string]string{
			"help": "Commands: ping, test, cmd, stats. Try 'help <command>' for details",
		},
		RateLimits: RateLimitConfig{
			UserIntervalSeconds: 10,
			TxPerMinute:         20,
			TxBurst:             3,
		},
		Connectivity: ConnectivityConfig{
			TTLSeconds:     30,
			TimeoutSeconds: 3,
		},
		Channels: ChannelsConfig{
			Bridge: BridgeConfig{
				URL:                   "ws://127.0.0.1:8765/ws",
				RequestTimeoutSeconds: 15,
				ReconnectSeconds:      5,
			},
		},
		ChannelMap: map[string]int{"general": 0},
		Stats:      StatsConfig{Path: "meshbot.db"},
		Gateway:    GatewayConfig{Host: "127.0.0.1", Port: 18790},
		Logging:    LoggingConfig{Format: "text", Level: "info"},
	}
}

// LoadConfig resolves config.json, overlays it on Default, and applies
// environment overrides and side files.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	return Load(configPath)
}

// Load reads one config file.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.KeywordsFile != "" {
		keywordsPath := cfg.KeywordsFile
		if !filepath.IsAbs(keywordsPath) {
			keywordsPath = filepath.Join(filepath.Dir(path), keywordsPath)
		}
		if err := cfg.mergeKeywordsFile(keywordsPath); err != nil {
			return nil, err
		}
	}
	if cfg.LocaleFile != "" && !filepath.IsAbs(cfg.LocaleFile) {
		cfg.LocaleFile = filepath.Join(filepath.Dir(path), cfg.LocaleFile)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// KeywordsFile is the YAML side file layout for response tables.
type KeywordsFile struct {
	Keywords     map[string]string `yaml:"keywords"`
	CustomSyntax map[string]string `yaml:"custom_syntax"`
	HelpAliases  map[string]string `yaml:"help_aliases"`
}

// mergeKeywordsFile fills table entries the JSON config did not set.
func (c *Config) mergeKeywordsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read keywords file: %w", err)
	}

	var file KeywordsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse keywords file: %w", err)
	}

	c.Keywords = mergeMissing(c.Keywords, file.Keywords)
	c.CustomSyntax = mergeMissing(c.CustomSyntax, file.CustomSyntax)
	c.HelpAliases = mergeMissing(c.HelpAliases, file.HelpAliases)

	return nil
}

func mergeMissing(dst map[string]string, src map[string]string) map[string]string {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	for key, value := range src {
		if _, ok := dst[key]; !ok {
			dst[key] = value
		}
	}

	return dst
}

// findConfigPath resolves the active config file location.
//
// Precedence is MESHBOT_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w (checked %s and %s)", ErrNotFound, candidates[0], candidates[1])
}

// Validate reports settings the bot cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Bot.CommandPrefix) == "" {
		errs = append(errs, errors.New("bot.command_prefix must not be empty"))
	}
	if _, err := c.Bot.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.Bot.TxDelayMS < 0 || c.Bot.SettleDelayMS < 0 || c.Bot.InterPartDelayMS < 0 {
		errs = append(errs, errors.New("bot delays must not be negative"))
	}
	for name, number := range c.ChannelMap {
		if number < 0 {
			errs = append(errs, fmt.Errorf("channel_map.%s: channel number must not be negative", name))
		}
	}
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port %d out of range", c.Gateway.Port))
	}
	if c.Channels.Bridge.Enabled && strings.TrimSpace(c.Channels.Bridge.URL) == "" {
		errs = append(errs, errors.New("channels.bridge.url is required when the bridge is enabled"))
	}
	for i, msg := range c.ScheduledMessages {
		if strings.TrimSpace(msg.Cron) == "" || strings.TrimSpace(msg.Channel) == "" {
			errs = append(errs, fmt.Errorf("scheduled_messages[%d]: cron and channel are required", i))
		}
	}

	return errors.Join(errs...)
}
