// Package ratelimit provides the send-rate limiters consulted before every
// physical transmission.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// UserLimiter enforces a minimum interval between bot replies.
type UserLimiter struct {
	limiter *rate.Limiter
	now     func() time.Time
}

// NewUserLimiter allows one send per interval. A non-positive interval disables limiting.
func NewUserLimiter(interval time.Duration) *UserLimiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}

	return &UserLimiter{limiter: rate.NewLimiter(limit, 1), now: time.Now}
}

// CanSend reports whether a send is admitted right now.
func (l *UserLimiter) CanSend() bool {
	return l.limiter.TokensAt(l.now()) >= 1
}

// TimeUntilNext returns how long until CanSend becomes true.
func (l *UserLimiter) TimeUntilNext() time.Duration {
	now := l.now()
	reservation := l.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return 0
	}
	delay := reservation.DelayFrom(now)
	reservation.CancelAt(now)

	return delay
}

// RecordSend consumes the interval for a completed send.
func (l *UserLimiter) RecordSend() {
	l.limiter.ReserveN(l.now(), 1)
}

// TxLimiter caps the bot's total transmissions per minute.
type TxLimiter struct {
	limiter *rate.Limiter
}

// NewTxLimiter allows perMinute transmissions with the given burst. A
// non-positive perMinute disables limiting.
func NewTxLimiter(perMinute int, burst int) *TxLimiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60.0)
	}

	return &TxLimiter{limiter: rate.NewLimiter(limit, burst)}
}

// WaitForTransmit blocks until a transmission slot is free without consuming it.
func (l *TxLimiter) WaitForTransmit(ctx context.Context) error {
	for {
		now := time.Now()
		if l.limiter.TokensAt(now) >= 1 {
			return nil
		}

		reservation := l.limiter.ReserveN(now, 1)
		delay := reservation.DelayFrom(now)
		reservation.CancelAt(now)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RecordTransmit consumes a slot for a completed transmission.
func (l *TxLimiter) RecordTransmit() {
	l.limiter.ReserveN(time.Now(), 1)
}
