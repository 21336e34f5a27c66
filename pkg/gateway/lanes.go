package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"meshbot/pkg/bus"
	"meshbot/pkg/channel"
	"meshbot/pkg/delivery"
	"meshbot/pkg/dispatch"
)

// Lane is the dispatch and delivery path of one transport.
type Lane struct {
	transport  channel.Transport
	pipeline   *delivery.Pipeline
	dispatcher *dispatch.Dispatcher
}

func (l *Lane) Transport() channel.Transport {
	return l.transport
}

func (l *Lane) Pipeline() *delivery.Pipeline {
	return l.pipeline
}

func (l *Lane) Dispatcher() *dispatch.Dispatcher {
	return l.dispatcher
}

// laneRouter owns one lane per transport and processes bus traffic one
// message at a time.
type laneRouter struct {
	lanes   map[string]*Lane
	primary string
	bus     *bus.MessageBus
	log     *slog.Logger
}

func newLaneRouter(lanes []*Lane, mb *bus.MessageBus, log *slog.Logger) (*laneRouter, error) {
	if len(lanes) == 0 {
		return nil, errors.New("at least one transport lane is required")
	}

	byName := make(map[string]*Lane, len(lanes))
	for _, lane := range lanes {
		name := lane.transport.Name()
		if _, exists := byName[name]; exists {
			return nil, fmt.Errorf("duplicate transport %q", name)
		}
		byName[name] = lane
	}

	return &laneRouter{
		lanes:   byName,
		primary: lanes[0].transport.Name(),
		bus:     mb,
		log:     log.With("component", "gateway.router"),
	}, nil
}

// Run drains the bus until ctx ends or the bus closes.
func (r *laneRouter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.bus.Done():
			return nil
		case inbound := <-r.bus.Inbound():
			r.handleInbound(ctx, inbound)
		case outbound := <-r.bus.Outbound():
			r.deliver(ctx, outbound)
		}
	}
}

func (r *laneRouter) handleInbound(ctx context.Context, inbound bus.InboundMessage) dispatch.HandleReport {
	lane, ok := r.lanes[inbound.Transport]
	if !ok {
		r.log.Warn("Dropping message from unknown transport", "transport", inbound.Transport)
		return dispatch.HandleReport{}
	}

	msg := inbound.Message
	r.bus.PublishEvent(ctx, bus.Event{
		Type:    bus.EventMessageReceived,
		Sender:  msg.SenderID,
		Channel: msg.Channel,
		Payload: map[string]string{"transport": inbound.Transport, "content": channel.Preview(msg.Content)},
	})

	report := lane.dispatcher.Handle(ctx, msg)
	if report.Outcome.Attempted && !report.Outcome.Sent {
		r.bus.PublishEvent(ctx, bus.Event{
			Type:    bus.EventDeliveryFailed,
			Sender:  msg.SenderID,
			Channel: msg.Channel,
			Command: report.Trigger,
			Payload: map[string]string{"transport": inbound.Transport, "target": msg.Target()},
			Error:   fmt.Sprintf("delivered %d of %d parts", report.Outcome.Delivered, report.Outcome.Parts),
		})
	}

	return report
}

func (r *laneRouter) deliver(ctx context.Context, outbound bus.OutboundMessage) (delivery.Outcome, error) {
	name := outbound.Transport
	if name == "" {
		name = r.primary
	}
	lane, ok := r.lanes[name]
	if !ok {
		err := fmt.Errorf("unknown transport %q", name)
		r.log.Warn("Dropping outbound message", "source", outbound.Source, "error", err)
		return delivery.Outcome{}, err
	}

	var (
		outcome delivery.Outcome
		err     error
		target  string
	)
	if outbound.Recipient != "" {
		target = "dm:" + outbound.Recipient
		outcome, err = lane.pipeline.SendDirect(ctx, outbound.Recipient, outbound.Content)
	} else {
		target = "channel:" + outbound.Channel
		outcome, err = lane.pipeline.SendChannel(ctx, outbound.Channel, outbound.Content)
	}

	if err != nil {
		r.log.Warn("Outbound delivery failed", "source", outbound.Source, "target", target, "category", delivery.CategoryFromError(err), "error", err)
		r.bus.PublishEvent(ctx, bus.Event{
			Type:    bus.EventDeliveryFailed,
			Channel: outbound.Channel,
			Payload: map[string]string{"transport": name, "source": outbound.Source, "target": target},
			Error:   err.Error(),
		})
	}

	return outcome, err
}
