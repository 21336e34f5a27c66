// Package bus queues inbound mesh traffic for the dispatch worker and fans out
// dispatch events to observers.
package bus

import (
	"context"
	"sync"
)

const defaultBufferSize = 100

type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	eventSubscribers      map[uint64]chan Event
	nextEventSubscriberID uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

func NewMessageBus() *MessageBus {
	return NewMessageBusSize(defaultBufferSize)
}

// NewMessageBusSize sets the inbound and outbound queue depth.
func NewMessageBusSize(size int) *MessageBus {
	if size <= 0 {
		size = defaultBufferSize
	}

	return &MessageBus{
		inbound:          make(chan InboundMessage, size),
		outbound:         make(chan OutboundMessage, size),
		eventSubscribers: make(map[uint64]chan Event),
		done:             make(chan struct{}),
	}
}

func (mb *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) bool {
	return publish(ctx, mb.done, mb.inbound, msg)
}

// Inbound is drained by the dispatch worker's select loop. It is never closed.
func (mb *MessageBus) Inbound() <-chan InboundMessage {
	return mb.inbound
}

func (mb *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) bool {
	return publish(ctx, mb.done, mb.outbound, msg)
}

// Outbound exposes the queue for select loops. It is never closed.
func (mb *MessageBus) Outbound() <-chan OutboundMessage {
	return mb.outbound
}

// Done is closed by Close.
func (mb *MessageBus) Done() <-chan struct{} {
	return mb.done
}

func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		close(mb.done)

		mb.mu.Lock()
		for id, ch := range mb.eventSubscribers {
			close(ch)
			delete(mb.eventSubscribers, id)
		}
		mb.mu.Unlock()
	})
}

func publish[T any](ctx context.Context, done <-chan struct{}, queue chan<- T, msg T) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return false
	case <-done:
		return false
	default:
	}

	select {
	case <-ctx.Done():
		return false
	case <-done:
		return false
	case queue <- msg:
		return true
	}
}
