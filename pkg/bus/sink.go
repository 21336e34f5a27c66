package bus

import (
	"context"
	"log/slog"
	"strconv"

	"meshbot/pkg/mesh"
)

// Sink publishes dispatch telemetry as bus events.
type Sink struct {
	bus *MessageBus
}

func NewSink(mb *MessageBus) *Sink {
	return &Sink{bus: mb}
}

// RecordCommand publishes a command_dispatched event.
func (s *Sink) RecordCommand(ctx context.Context, msg mesh.Message, commandName string, responseSent bool) {
	s.bus.PublishEvent(ctx, Event{
		Type:    EventCommandDispatched,
		Sender:  msg.SenderID,
		Channel: msg.Channel,
		Command: commandName,
		Payload: map[string]string{
			"dm":            strconv.FormatBool(msg.IsDM),
			"response_sent": strconv.FormatBool(responseSent),
		},
	})
}

// CaptureCommand publishes a command_captured event.
func (s *Sink) CaptureCommand(ctx context.Context, msg mesh.Message, commandName string, response string, success bool) {
	s.bus.PublishEvent(ctx, Event{
		Type:    EventCommandCaptured,
		Sender:  msg.SenderID,
		Channel: msg.Channel,
		Command: commandName,
		Payload: map[string]string{
			"response": response,
			"success":  strconv.FormatBool(success),
		},
	})
}

// ObserveEvents logs every bus event until ctx ends or the bus closes.
func ObserveEvents(ctx context.Context, mb *MessageBus, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "bus.observer")

	events, unsubscribe := mb.SubscribeEvents(ctx, 0)
	defer unsubscribe()

	for event := range events {
		attrs := []any{"type", event.Type, "id", event.ID}
		if event.Command != "" {
			attrs = append(attrs, "command", event.Command)
		}
		if event.Sender != "" {
			attrs = append(attrs, "sender", event.Sender)
		}
		if event.Channel != "" {
			attrs = append(attrs, "channel", event.Channel)
		}
		for key, value := range event.Payload {
			attrs = append(attrs, key, value)
		}

		if event.Error != "" {
			log.Warn("Bus event", append(attrs, "error", event.Error)...)
			continue
		}
		log.Debug("Bus event", attrs...)
	}
}
