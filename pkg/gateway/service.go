package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"meshbot/pkg/bus"
	"meshbot/pkg/channel"
	"meshbot/pkg/config"
	"meshbot/pkg/mesh"
	"meshbot/pkg/schedule"
)

const (
	defaultHealthHost = "127.0.0.1"
	defaultHealthPort = 18790
)

type Service struct {
	cfg        *config.Config
	log        *slog.Logger
	stack      *Stack
	router     *laneRouter
	transports []channel.Transport
	scheduler  *schedule.Scheduler

	mu            sync.RWMutex
	startedAt     time.Time
	listenAddr    string
	channelStates map[string]channelState
}

type channelState struct {
	Running   bool   `json:"running"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

type connectivityState struct {
	HasInternet bool   `json:"has_internet"`
	CheckedAt   string `json:"checked_at,omitempty"`
}

type statusResponse struct {
	Status        string                  `json:"status"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Commands      []string                `json:"commands"`
	Connectivity  connectivityState       `json:"connectivity"`
	Channels      map[string]channelState `json:"channels"`
}

// NewService wires one lane per transport over stack. The first transport is
// the primary one for scheduled messages.
func NewService(cfg *config.Config, stack *Stack, transports []channel.Transport, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if stack == nil {
		return nil, errors.New("stack is required")
	}
	if len(transports) == 0 {
		return nil, errors.New("at least one transport is required")
	}
	if log == nil {
		log = slog.Default()
	}

	lanes := make([]*Lane, 0, len(transports))
	channelStates := make(map[string]channelState, len(transports))
	for _, transport := range transports {
		lanes = append(lanes, stack.NewLane(transport))
		channelStates[transport.Name()] = channelState{}
	}

	router, err := newLaneRouter(lanes, stack.Bus(), log)
	if err != nil {
		return nil, err
	}

	scheduler, err := stack.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initialize scheduler: %w", err)
	}

	return &Service{
		cfg:           cfg,
		log:           log.With("component", "gateway.service"),
		stack:         stack,
		router:        router,
		transports:    transports,
		scheduler:     scheduler,
		channelStates: channelStates,
	}, nil
}

// Run serves until ctx ends or a transport, the worker or the status server fails.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	listener, err := s.listen()
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return s.serveStatus(groupCtx, listener)
	})
	group.Go(func() error {
		bus.ObserveEvents(groupCtx, s.stack.Bus(), s.log)
		return nil
	})
	group.Go(func() error {
		return s.router.Run(groupCtx)
	})
	if s.scheduler.Len() > 0 {
		group.Go(func() error {
			return s.scheduler.Run(groupCtx)
		})
	}

	for _, transport := range s.transports {
		transport := transport
		s.setChannelState(transport.Name(), channelState{Running: true})

		group.Go(func() error {
			err := transport.Run(groupCtx, s.inboundHandler(transport.Name()))
			s.setChannelState(transport.Name(), channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run %s transport: %w", transport.Name(), err)
			}
			return nil
		})
	}

	s.log.Info("Gateway started", "transports", len(s.transports), "commands", s.stack.Registry().Len(), "scheduled", s.scheduler.Len())

	return group.Wait()
}

// inboundHandler queues messages for the single dispatch worker.
func (s *Service) inboundHandler(transport string) channel.Handler {
	return func(ctx context.Context, msg mesh.Message) error {
		if !s.stack.Bus().PublishInbound(ctx, bus.InboundMessage{Transport: transport, Message: msg}) {
			if err := ctx.Err(); err != nil {
				return err
			}
			return errors.New("message bus closed")
		}
		return nil
	}
}

func (s *Service) listen() (net.Listener, error) {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHealthHost
	}

	port := s.cfg.Gateway.Port
	if port < 0 {
		port = defaultHealthPort
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("start status server: %w", err)
	}

	s.mu.Lock()
	s.listenAddr = listener.Addr().String()
	s.mu.Unlock()

	return listener, nil
}

// Addr returns the status server address once Run has started listening.
func (s *Service) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listenAddr
}

func (s *Service) serveStatus(ctx context.Context, listener net.Listener) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", listener.Addr().String())
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve status: %w", err)
	}

	return nil
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	channels := s.channelSnapshot()

	s.mu.RLock()
	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}
	s.mu.RUnlock()

	internet := s.stack.Connectivity().Snapshot()
	checkedAt := ""
	if !internet.CheckedAt.IsZero() {
		checkedAt = internet.CheckedAt.UTC().Format(time.RFC3339)
	}

	return statusResponse{
		Status:        status,
		UptimeSeconds: uptime,
		Commands:      s.stack.Registry().Names(),
		Connectivity:  connectivityState{HasInternet: internet.HasInternet, CheckedAt: checkedAt},
		Channels:      channels,
	}
}

// channelSnapshot reports run state plus the live link state of each transport.
func (s *Service) channelSnapshot() map[string]channelState {
	s.mu.RLock()
	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}
	s.mu.RUnlock()

	for _, transport := range s.transports {
		state := channels[transport.Name()]
		state.Connected = state.Running && transport.Connected()
		channels[transport.Name()] = state
	}

	return channels
}

// isReady requires at least one running and connected transport.
func (s *Service) isReady() bool {
	for _, state := range s.channelSnapshot() {
		if state.Running && state.Connected {
			return true
		}
	}

	return false
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
