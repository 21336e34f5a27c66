package command

import (
	"sync"
	"time"
)

// CooldownPolicy is a closed set: nil, *GlobalCooldown or *PerCallerCooldown.
type CooldownPolicy interface {
	cooldownPolicy()
}

// GlobalCooldown spaces invocations by any caller.
type GlobalCooldown struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewGlobalCooldown returns a tracker. A nil clock uses time.Now.
func NewGlobalCooldown(window time.Duration, now func() time.Time) *GlobalCooldown {
	if now == nil {
		now = time.Now
	}

	return &GlobalCooldown{window: window, now: now}
}

func (*GlobalCooldown) cooldownPolicy() {}

// Window is the configured cooldown length.
func (c *GlobalCooldown) Window() time.Duration { return c.window }

// Remaining is zero when the command may run.
func (c *GlobalCooldown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	return remaining(c.last, c.window, c.now())
}

// Record marks an execution now.
func (c *GlobalCooldown) Record() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.last = c.now()
}

// PerCallerCooldown spaces invocations by the same caller.
type PerCallerCooldown struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewPerCallerCooldown returns a tracker. A nil clock uses time.Now.
func NewPerCallerCooldown(window time.Duration, now func() time.Time) *PerCallerCooldown {
	if now == nil {
		now = time.Now
	}

	return &PerCallerCooldown{window: window, now: now, last: make(map[string]time.Time)}
}

func (*PerCallerCooldown) cooldownPolicy() {}

// Window is the configured cooldown length.
func (c *PerCallerCooldown) Window() time.Duration { return c.window }

// RemainingFor is zero when caller may run the command.
func (c *PerCallerCooldown) RemainingFor(caller string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	return remaining(c.last[caller], c.window, c.now())
}

// RecordFor marks an execution by caller now.
func (c *PerCallerCooldown) RecordFor(caller string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.last[caller] = now

	// Drop entries that can no longer block anyone.
	for id, at := range c.last {
		if now.Sub(at) >= c.window {
			delete(c.last, id)
		}
	}
}

// RemainingOf queries any policy for caller. Nil policies never block.
func RemainingOf(policy CooldownPolicy, caller string) time.Duration {
	switch p := policy.(type) {
	case *GlobalCooldown:
		return p.Remaining()
	case *PerCallerCooldown:
		return p.RemainingFor(caller)
	default:
		return 0
	}
}

// RecordOf records an execution by caller against any policy.
func RecordOf(policy CooldownPolicy, caller string) {
	switch p := policy.(type) {
	case *GlobalCooldown:
		p.Record()
	case *PerCallerCooldown:
		p.RecordFor(caller)
	}
}

func remaining(last time.Time, window time.Duration, now time.Time) time.Duration {
	if last.IsZero() || window <= 0 {
		return 0
	}

	left := window - now.Sub(last)
	if left < 0 {
		return 0
	}

	return left
}
