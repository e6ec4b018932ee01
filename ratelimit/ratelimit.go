// Package ratelimit provides the shared politeness limiter used for
// outbound HTTP and DNS traffic.
package ratelimit

import (
	"context"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket refilled at Rate tokens per second. A nil
// *Limiter never blocks.
type Limiter struct {
	limiter  *rate.Limiter
	rate     float64
	capacity float64
}

// Status describes the current utilisation state of a Limiter.
type Status struct {
	Rate        float64
	Capacity    float64
	Remaining   float64
	Utilization float64
	RefillIn    time.Duration
}

// New returns a limiter allowing rate requests per second, or nil when rate
// is not positive.
func New(r float64) *Limiter {
	if r <= 0 {
		return nil
	}
	capacity := math.Max(math.Floor(r), 1)
	return &Limiter{
		limiter:  rate.NewLimiter(rate.Limit(r), int(capacity)),
		rate:     r,
		capacity: capacity,
	}
}

func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}

// Acquire blocks until a token is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return l.limiter.Wait(ctx)
}

// Status returns information about the limiter's current token bucket state.
func (l *Limiter) Status() Status {
	if l == nil {
		return Status{}
	}

	remaining := l.limiter.Tokens()
	if remaining < 0 {
		remaining = 0
	}
	if remaining > l.capacity {
		remaining = l.capacity
	}

	utilization := 0.0
	if l.capacity > 0 {
		utilization = math.Min(math.Max((l.capacity-remaining)/l.capacity, 0), 1)
	}

	refillIn := time.Duration(0)
	if deficit := l.capacity - remaining; deficit > 0 && l.rate > 0 {
		refillIn = time.Duration(deficit / l.rate * float64(time.Second))
	}

	return Status{
		Rate:        l.rate,
		Capacity:    l.capacity,
		Remaining:   remaining,
		Utilization: utilization,
		RefillIn:    refillIn,
	}
}
