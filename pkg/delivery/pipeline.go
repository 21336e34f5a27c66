// Package delivery sends responses over a mesh transport, splitting them into
// budget-legal parts and pacing every physical transmission.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"meshbot/pkg/mesh"
	"meshbot/pkg/split"
)

const (
	DefaultInterPartDelay = 2 * time.Second
	// UnknownNameReserve is reserved on channel sends when the bot's own
	// display name is unknown: roughly a 15 byte name plus ": ".
	UnknownNameReserve = 17
	// rateLimitWarnThreshold suppresses noisy warnings from timing jitter.
	rateLimitWarnThreshold = 100 * time.Millisecond
)

// UserLimiter gates replies per bot user.
type UserLimiter interface {
	CanSend() bool
	TimeUntilNext() time.Duration
	RecordSend()
}

// TxLimiter gates the bot's total transmissions.
type TxLimiter interface {
	WaitForTransmit(ctx context.Context) error
	RecordTransmit()
}

// Outcome describes what happened to one logical response.
type Outcome struct {
	// Attempted is true once the pipeline started sending parts.
	Attempted bool
	// Sent is true only when every part was confirmed.
	Sent      bool
	Parts     int
	Delivered int
	Text      string
}

// Options configures a Pipeline.
type Options struct {
	TxDelay        time.Duration
	InterPartDelay time.Duration
	Retry          mesh.RetryOptions
	// MaxBytes overrides mesh.MaxMessageBytes.
	MaxBytes    int
	UserLimiter UserLimiter
	TxLimiter   TxLimiter
	Logger      *slog.Logger
}

// Pipeline is the per-destination send path.
type Pipeline struct {
	transport mesh.Transport
	channels  mesh.ChannelResolver
	user      UserLimiter
	tx        TxLimiter

	txDelay        time.Duration
	interPartDelay time.Duration
	retry          mesh.RetryOptions
	maxBytes       int

	sleep func(ctx context.Context, d time.Duration) error
	log   *slog.Logger
}

// NewPipeline builds a pipeline over transport. Nil limiters disable limiting.
func NewPipeline(transport mesh.Transport, channels mesh.ChannelResolver, opts Options) *Pipeline {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = mesh.MaxMessageBytes
	}
	if channels == nil {
		channels = mesh.StaticChannels{}
	}

	return &Pipeline{
		transport:      transport,
		channels:       channels,
		user:           opts.UserLimiter,
		tx:             opts.TxLimiter,
		txDelay:        opts.TxDelay,
		interPartDelay: opts.InterPartDelay,
		retry:          opts.Retry,
		maxBytes:       maxBytes,
		sleep:          sleepContext,
		log:            log.With("component", "delivery.pipeline"),
	}
}

// Respond replies to msg on the path it arrived on.
func (p *Pipeline) Respond(ctx context.Context, msg mesh.Message, content string) (Outcome, error) {
	if msg.IsDM {
		return p.SendDirect(ctx, msg.SenderID, content)
	}

	return p.SendChannel(ctx, msg.Channel, content)
}

// SendDirect delivers content to the contact with the given display name.
func (p *Pipeline) SendDirect(ctx context.Context, recipient string, content string) (Outcome, error) {
	if !p.connected() {
		return Outcome{Text: content}, ErrNotConnected
	}

	parts := split.Split(content, p.maxBytes)
	if len(parts) > 1 {
		p.log.Info("Splitting DM", "parts", len(parts), "bytes", len(content), "recipient", recipient)
	}

	return p.sendParts(ctx, "DM", content, parts, func(ctx context.Context, text string, continuation bool) error {
		return p.sendDirectPart(ctx, recipient, text, continuation)
	})
}

// SendChannel delivers content to the named channel.
func (p *Pipeline) SendChannel(ctx context.Context, channel string, content string) (Outcome, error) {
	if !p.connected() {
		return Outcome{Text: content}, ErrNotConnected
	}

	budget := p.ChannelBudget()
	parts := split.Split(content, budget)
	if len(parts) > 1 {
		p.log.Info("Splitting channel message", "parts", len(parts), "bytes", len(content), "channel", channel)
	}

	return p.sendParts(ctx, "channel message", content, parts, func(ctx context.Context, text string, continuation bool) error {
		return p.sendChannelPart(ctx, channel, text, continuation)
	})
}

// ChannelBudget is the per-part byte budget on channels, which the transport
// prefixes with "<name>: " on the wire.
func (p *Pipeline) ChannelBudget() int {
	name := ""
	if p.transport != nil {
		name = p.transport.SelfName()
	}
	if name == "" {
		return p.maxBytes - UnknownNameReserve
	}

	return p.maxBytes - len(name) - 2
}

// DirectBudget is the per-part byte budget for direct messages.
func (p *Pipeline) DirectBudget() int {
	return p.maxBytes
}

func (p *Pipeline) connected() bool {
	return p.transport != nil && p.transport.Connected()
}

func (p *Pipeline) sendParts(
	ctx context.Context,
	operation string,
	content string,
	parts []split.Part,
	send func(ctx context.Context, text string, continuation bool) error,
) (Outcome, error) {
	if len(parts) == 0 {
		p.log.Debug("Nothing to send after trimming", "operation", operation, "bytes", len(content))
		return Outcome{Text: content}, nil
	}

	outcome := Outcome{Attempted: true, Parts: len(parts), Text: content}

	for i, part := range parts {
		if err := send(ctx, part.String(), i > 0); err != nil {
			p.log.Error("Failed to send part", "operation", operation, "part", i+1, "parts", len(parts), "error", err)
			return outcome, err
		}
		outcome.Delivered++

		if i < len(parts)-1 {
			if err := p.sleep(ctx, p.interPartDelay); err != nil {
				return outcome, fmt.Errorf("%w: %w", ErrCanceled, err)
			}
		}
	}

	outcome.Sent = true
	return outcome, nil
}

func (p *Pipeline) sendDirectPart(ctx context.Context, recipient string, text string, continuation bool) error {
	if err := p.admit(ctx, continuation); err != nil {
		return err
	}

	contact, ok := p.transport.ContactByName(recipient)
	if !ok {
		return NewError(ErrorDestinationNotFound, fmt.Sprintf("contact %q", recipient))
	}

	p.log.Info("Sending DM", "contact", contact.Name, "text", text)

	var (
		event    *mesh.Event
		err      error
		retrying bool
	)
	if retrier, ok := p.transport.(mesh.RetryTransport); ok {
		retrying = true
		p.log.Debug("Using retry-with-ack send", "max_attempts", p.retry.MaxAttempts)
		event, err = retrier.SendDirectWithRetry(ctx, contact, text, p.retry)
	} else {
		p.log.Debug("Retry send unavailable, using single send")
		event, err = p.transport.SendDirect(ctx, contact, text)
	}
	if err != nil {
		return normalizeTransportError(err)
	}

	return p.classify(event, false, contact.Name, retrying, continuation)
}

func (p *Pipeline) sendChannelPart(ctx context.Context, channel string, text string, continuation bool) error {
	if err := p.admit(ctx, continuation); err != nil {
		return err
	}

	number, ok := p.channels.ChannelNumber(channel)
	if !ok {
		return NewError(ErrorDestinationNotFound, fmt.Sprintf("channel %q", channel))
	}

	p.log.Info("Sending channel message", "channel", channel, "number", number, "text", text)

	event, err := p.transport.SendChannel(ctx, number, text)
	if err != nil {
		return normalizeTransportError(err)
	}

	return p.classify(event, true, fmt.Sprintf("%s (channel %d)", channel, number), false, continuation)
}

// admit acquires both limiters and applies the fixed transmission delay.
// The reply interval gates a logical message once, so continuation parts
// only wait on the tx limiter.
func (p *Pipeline) admit(ctx context.Context, continuation bool) error {
	if p.user != nil && !continuation && !p.user.CanSend() {
		wait := p.user.TimeUntilNext()
		if wait > rateLimitWarnThreshold {
			p.log.Warn("Rate limited", "wait", wait.Round(100*time.Millisecond))
		}
		return NewError(ErrorRateLimited, fmt.Sprintf("retry in %.1fs", wait.Seconds()))
	}

	if p.tx != nil {
		if err := p.tx.WaitForTransmit(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrCanceled, err)
		}
	}

	if p.txDelay > 0 {
		p.log.Debug("Applying transmission delay", "delay", p.txDelay)
		if err := p.sleep(ctx, p.txDelay); err != nil {
			return fmt.Errorf("%w: %w", ErrCanceled, err)
		}
	}

	return nil
}

func (p *Pipeline) classify(event *mesh.Event, channel bool, target string, retrying bool, continuation bool) error {
	if event == nil {
		if retrying {
			return NewError(ErrorNoResult, "no ACK received from "+target+" after retries")
		}
		return NewError(ErrorNoResult, "no result sending to "+target)
	}

	switch event.Type {
	case mesh.EventError:
		return NewError(ErrorTransport, fmt.Sprintf("send to %s failed: %v", target, event.Payload))
	case mesh.EventMsgSent, mesh.EventOK:
		if retrying {
			p.log.Info("DM sent and acknowledged", "target", target)
		} else {
			p.log.Info("Message sent", "target", target)
		}
		p.recordSend(continuation)
		return nil
	}

	if channel && event.Reason() == mesh.ReasonNoEventReceived {
		p.log.Warn("Channel message sent but confirmation not received", "target", target)
		p.recordSend(continuation)
		return nil
	}

	p.log.Warn("Unexpected event type", "target", target, "type", event.Type)
	return NewError(ErrorUnexpectedEvent, string(event.Type))
}

func (p *Pipeline) recordSend(continuation bool) {
	if p.user != nil && !continuation {
		p.user.RecordSend()
	}
	if p.tx != nil {
		p.tx.RecordTransmit()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
