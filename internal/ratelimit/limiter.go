// Package ratelimit provides request pacing for the fetcher.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces outgoing probe traffic. It combines a token-bucket
// rate limit with a fixed minimum interval between consecutive
// requests, whichever is slower.
type Limiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	minInterval time.Duration
	lastRequest time.Time
}

// NewLimiter creates a limiter allowing requestsPerSecond with the
// given burst and enforcing minInterval between requests.
func NewLimiter(requestsPerSecond float64, burst int, minInterval time.Duration) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiter:     rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		minInterval: minInterval,
	}
}

// Wait blocks until a request is allowed or the context is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}

	if l.minInterval <= 0 {
		return nil
	}

	l.mu.Lock()
	now := time.Now()
	wait := l.minInterval - now.Sub(l.lastRequest)
	if wait < 0 {
		wait = 0
	}
	// Claim the slot before sleeping so concurrent callers queue up
	// behind each other instead of all firing after one interval.
	l.lastRequest = now.Add(wait)
	l.mu.Unlock()

	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Allow checks if a request is allowed without blocking. The minimum
// interval is not consulted.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// SetRate updates the rate limit.
func (l *Limiter) SetRate(requestsPerSecond float64, burst int) {
	l.limiter.SetLimit(rate.Limit(requestsPerSecond))
	l.limiter.SetBurst(burst)
}

// SetMinInterval updates the minimum interval between requests.
func (l *Limiter) SetMinInterval(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minInterval = d
}

// MinInterval returns the configured minimum interval.
func (l *Limiter) MinInterval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.minInterval
}
