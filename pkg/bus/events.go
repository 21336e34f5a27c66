package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventMessageReceived   EventType = "message_received"
	EventCommandDispatched EventType = "command_dispatched"
	EventCommandCaptured   EventType = "command_captured"
	EventDeliveryFailed    EventType = "delivery_failed"
)

type Event struct {
	ID      string            `json:"id"`
	Type    EventType         `json:"type"`
	At      time.Time         `json:"at"`
	Sender  string            `json:"sender,omitempty"`
	Channel string            `json:"channel,omitempty"`
	Command string            `json:"command,omitempty"`
	Payload map[string]string `json:"payload,omitempty"`
	Error   string            `json:"error,omitempty"`
}

func (mb *MessageBus) PublishEvent(ctx context.Context, event Event) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	default:
	}

	// Held across the sends so unsubscribe cannot close a channel mid-send.
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	for _, ch := range mb.eventSubscribers {
		select {
		case ch <- event:
		default:
			// Drop instead of blocking the publisher on slow subscribers.
		}
	}

	return true
}

func (mb *MessageBus) SubscribeEvents(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	ch := make(chan Event, buffer)

	mb.mu.Lock()
	select {
	case <-mb.done:
		mb.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}

	id := mb.nextEventSubscriberID
	mb.nextEventSubscriberID++
	mb.eventSubscribers[id] = ch
	mb.mu.Unlock()

	stop := make(chan struct{})
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			close(stop)
			mb.mu.Lock()
			if eventCh, ok := mb.eventSubscribers[id]; ok {
				delete(mb.eventSubscribers, id)
				close(eventCh)
			}
			mb.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-mb.done:
			unsubscribe()
		case <-stop:
		}
	}()

	return ch, unsubscribe
}
