package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"meshbot/pkg/bus"
	"meshbot/pkg/channel"
	"meshbot/pkg/command"
	"meshbot/pkg/config"
	"meshbot/pkg/connectivity"
	"meshbot/pkg/delivery"
	"meshbot/pkg/dispatch"
	"meshbot/pkg/localize"
	"meshbot/pkg/mesh"
	"meshbot/pkg/placeholder"
	"meshbot/pkg/ratelimit"
	"meshbot/pkg/schedule"
	"meshbot/pkg/stats"
)

// StackOptions overrides collaborators, mainly for tests and the console.
type StackOptions struct {
	// Prober replaces the network reachability probe.
	Prober connectivity.Prober
	// Store replaces opening cfg.Stats.Path.
	Store *stats.Store
	Now   func() time.Time
}

// Stack holds the components shared by every transport lane.
type Stack struct {
	cfg          *config.Config
	registry     *command.Registry
	connectivity *connectivity.Cache
	translator   localize.Translator
	store        *stats.Store
	ownsStore    bool
	bus          *bus.MessageBus
	location     *time.Location
	now          func() time.Time
	log          *slog.Logger
}

// NewStack builds the command registry and shared services from cfg.
func NewStack(cfg *config.Config, log *slog.Logger, opts StackOptions) (*Stack, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = slog.Default()
	}

	location, err := cfg.Bot.Location()
	if err != nil {
		return nil, err
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var translator localize.Translator
	if cfg.LocaleFile != "" {
		catalog, err := localize.LoadCatalog(cfg.LocaleFile)
		if err != nil {
			return nil, err
		}
		translator = catalog
	}

	store, ownsStore := opts.Store, false
	if store == nil && cfg.Stats.Enabled {
		store, err = stats.Open(cfg.Stats.Path, log)
		if err != nil {
			return nil, err
		}
		ownsStore = true
	}

	prober := opts.Prober
	if prober == nil {
		prober = connectivity.NewNetProber(cfg.Connectivity.TCPAddress, cfg.Connectivity.HTTPURLs, cfg.Connectivity.Timeout())
	}
	cacheOpts := []connectivity.Option{connectivity.WithLogger(log), connectivity.WithClock(now)}
	if ttl := cfg.Connectivity.TTL(); ttl > 0 {
		cacheOpts = append(cacheOpts, connectivity.WithTTL(ttl))
	}

	registry := command.NewRegistry(helpAliases(cfg.HelpAliases))
	env := command.Environment{
		Prefix:          cfg.Bot.CommandPrefix,
		Admins:          cfg.Bot.Admins,
		MonitorChannels: cfg.Bot.MonitorChannels,
		Now:             now,
	}
	var counts command.CountSource
	if store != nil {
		counts = store
	}
	if err := command.RegisterBuiltins(registry, CommandSettings(cfg.Commands), env, counts); err != nil {
		if ownsStore {
			_ = store.Close()
		}
		return nil, fmt.Errorf("register commands: %w", err)
	}

	return &Stack{
		cfg:          cfg,
		registry:     registry,
		connectivity: connectivity.NewCache(prober, cacheOpts...),
		translator:   translator,
		store:        store,
		ownsStore:    ownsStore,
		bus:          bus.NewMessageBus(),
		location:     location,
		now:          now,
		log:          log,
	}, nil
}

// Registry returns the shared command registry.
func (s *Stack) Registry() *command.Registry {
	return s.registry
}

// Bus returns the message bus lanes and the scheduler communicate over.
func (s *Stack) Bus() *bus.MessageBus {
	return s.bus
}

// Store returns the stats store, or nil when stats are disabled.
func (s *Stack) Store() *stats.Store {
	return s.store
}

// Connectivity returns the shared reachability cache.
func (s *Stack) Connectivity() *connectivity.Cache {
	return s.connectivity
}

// Close releases the bus and an owned stats store.
func (s *Stack) Close() error {
	s.bus.Close()
	if s.ownsStore && s.store != nil {
		return s.store.Close()
	}

	return nil
}

// NewLane wires a pipeline and dispatcher over transport. Each lane paces
// its own link.
func (s *Stack) NewLane(transport channel.Transport) *Lane {
	cfg := s.cfg
	log := s.log.With("transport", transport.Name())

	var channels mesh.ChannelResolver = mesh.StaticChannels(cfg.ChannelMap)
	if resolver, ok := transport.(mesh.ChannelResolver); ok {
		channels = resolver
	}

	pipeline := delivery.NewPipeline(transport, channels, delivery.Options{
		TxDelay:        cfg.Bot.TxDelay(),
		InterPartDelay: cfg.Bot.InterPartDelay(),
		Retry: mesh.RetryOptions{
			MaxAttempts:      cfg.Bot.DMMaxRetries,
			MaxFloodAttempts: cfg.Bot.DMMaxFloodAttempts,
			FloodAfter:       cfg.Bot.DMFloodAfter,
			Timeout:          cfg.Bot.DMTimeout(),
		},
		UserLimiter: ratelimit.NewUserLimiter(cfg.RateLimits.UserInterval()),
		TxLimiter:   ratelimit.NewTxLimiter(cfg.RateLimits.TxPerMinute, cfg.RateLimits.TxBurst),
		Logger:      log,
	})

	sink := bus.NewSink(s.bus)
	telemetry := dispatch.Telemetries{sink}
	observers := dispatch.Observers{sink}
	placeholders := placeholder.Options{Timezone: s.location, Now: s.now}
	if s.store != nil {
		telemetry = append(telemetry, s.store)
		observers = append(observers, s.store)
		placeholders.Locator = s.store
	}

	dispatcher := dispatch.New(s.registry, pipeline, dispatch.Options{
		Keywords:        cfg.Keywords,
		CustomSyntax:    cfg.CustomSyntax,
		Prefix:          cfg.Bot.CommandPrefix,
		BannedUsers:     cfg.Bot.BannedUsers,
		MonitorChannels: cfg.Bot.MonitorChannels,
		SettleDelay:     cfg.Bot.SettleDelay(),
		Placeholders:    placeholders,
		Translator:      s.translator,
		Connectivity:    s.connectivity,
		Telemetry:       telemetry,
		Observer:        observers,
		Logger:          log,
	})

	return &Lane{transport: transport, pipeline: pipeline, dispatcher: dispatcher}
}

// NewScheduler builds the scheduled message loop, publishing to the bus.
func (s *Stack) NewScheduler() (*schedule.Scheduler, error) {
	entries := make([]schedule.Entry, 0, len(s.cfg.ScheduledMessages))
	for i, msg := range s.cfg.ScheduledMessages {
		name := msg.Name
		if name == "" {
			name = fmt.Sprintf("message-%d", i+1)
		}
		entries = append(entries, schedule.Entry{Name: name, Cron: msg.Cron, Channel: msg.Channel, Message: msg.Message})
	}

	opts := schedule.Options{
		Placeholders: placeholder.Options{Timezone: s.location, Now: s.now},
		Now:          s.now,
		Logger:       s.log,
	}
	if s.store != nil {
		opts.MeshInfo = s.store
	}

	return schedule.New(entries, s.bus, opts)
}

// CommandSettings converts per-command config into registry overrides.
func CommandSettings(commands map[string]config.CommandConfig) map[string]command.Settings {
	settings := make(map[string]command.Settings, len(commands))
	for name, cfg := range commands {
		settings[name] = command.Settings{
			Disabled:        cfg.Enabled != nil && !*cfg.Enabled,
			Keywords:        cfg.Keywords,
			Help:            cfg.Help,
			Template:        cfg.Response,
			Cooldown:        time.Duration(cfg.CooldownSeconds) * time.Second,
			PerCaller:       cfg.PerCaller,
			AllowedChannels: cfg.AllowedChannels,
			RequireInternet: cfg.RequireInternet,
			RequireDM:       cfg.RequireDM,
			RequireAdmin:    cfg.RequireAdmin,
		}
	}

	return settings
}

func helpAliases(configured map[string]string) map[string]string {
	aliases := make(map[string]string, len(command.DefaultAliases)+len(configured))
	for alias, target := range command.DefaultAliases {
		aliases[alias] = target
	}
	for alias, target := range configured {
		aliases[alias] = target
	}

	return aliases
}
