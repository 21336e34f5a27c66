// Package schedule posts configured channel messages on cron schedules.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"meshbot/pkg/bus"
	"meshbot/pkg/placeholder"
)

// Entry is one scheduled channel message.
type Entry struct {
	Name    string `json:"name" yaml:"name"`
	Cron    string `json:"cron" yaml:"cron"`
	Channel string `json:"channel" yaml:"channel"`
	Message string `json:"message" yaml:"message"`
}

// Publisher queues outbound messages.
type Publisher interface {
	PublishOutbound(ctx context.Context, msg bus.OutboundMessage) bool
}

// MeshInfoSource supplies network counters for message placeholders.
type MeshInfoSource interface {
	MeshInfo(ctx context.Context) (map[string]int, error)
}

// Options configures a Scheduler.
type Options struct {
	Placeholders placeholder.Options
	MeshInfo     MeshInfoSource
	Now          func() time.Time
	Logger       *slog.Logger
}

type Scheduler struct {
	entries      []Entry
	publisher    Publisher
	placeholders placeholder.Options
	meshInfo     MeshInfoSource
	gron         *gronx.Gronx
	now          func() time.Time
	log          *slog.Logger
}

// New validates every cron expression up front.
func New(entries []Entry, publisher Publisher, opts Options) (*Scheduler, error) {
	gron := gronx.New()
	for i, entry := range entries {
		if entry.Channel == "" {
			return nil, fmt.Errorf("scheduled message %d (%s): channel is required", i, entry.Name)
		}
		if !gron.IsValid(entry.Cron) {
			return nil, fmt.Errorf("scheduled message %d (%s): invalid cron expression %q", i, entry.Name, entry.Cron)
		}
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Scheduler{
		entries:      entries,
		publisher:    publisher,
		placeholders: opts.Placeholders,
		meshInfo:     opts.MeshInfo,
		gron:         gron,
		now:          now,
		log:          log.With("component", "schedule.scheduler"),
	}, nil
}

// Len returns the number of entries.
func (s *Scheduler) Len() int {
	return len(s.entries)
}

// Next returns the earliest tick strictly after ref across all entries.
func (s *Scheduler) Next(ref time.Time) (time.Time, bool) {
	var next time.Time
	for _, entry := range s.entries {
		tick, err := gronx.NextTickAfter(entry.Cron, ref, false)
		if err != nil {
			s.log.Warn("Failed to compute next tick", "entry", entry.Name, "error", err)
			continue
		}
		if next.IsZero() || tick.Before(next) {
			next = tick
		}
	}

	return next, !next.IsZero()
}

// Due returns the entries scheduled at the given minute.
func (s *Scheduler) Due(at time.Time) []Entry {
	var due []Entry
	for _, entry := range s.entries {
		ok, err := s.gron.IsDue(entry.Cron, at)
		if err != nil {
			s.log.Warn("Failed to evaluate schedule", "entry", entry.Name, "error", err)
			continue
		}
		if ok {
			due = append(due, entry)
		}
	}

	return due
}

// Fire formats entry and queues it for delivery.
func (s *Scheduler) Fire(ctx context.Context, entry Entry) bool {
	opts := s.placeholders
	if s.meshInfo != nil {
		info, err := s.meshInfo.MeshInfo(ctx)
		if err != nil {
			s.log.Warn("Failed to load mesh info", "entry", entry.Name, "error", err)
		} else {
			opts.MeshInfo = info
		}
	}

	content, err := placeholder.Format(ctx, entry.Message, nil, opts)
	if err != nil {
		s.log.Warn("Error formatting scheduled message", "entry", entry.Name, "error", err)
		content = entry.Message
	}

	ok := s.publisher.PublishOutbound(ctx, bus.OutboundMessage{
		Source:  "schedule:" + entry.Name,
		Channel: entry.Channel,
		Content: content,
	})
	if ok {
		s.log.Info("Scheduled message queued", "entry", entry.Name, "channel", entry.Channel)
	}

	return ok
}

// Run fires due entries until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.entries) == 0 {
		<-ctx.Done()
		return nil
	}

	for {
		next, ok := s.Next(s.now())
		if !ok {
			<-ctx.Done()
			return nil
		}

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		for _, entry := range s.Due(next) {
			s.Fire(ctx, entry)
		}
	}
}
