package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimiter interface {
	Wait(ctx context.Context) error
	SetDelay(min, max time.Duration)
}

// Feedback is implemented by limiters that adapt to request outcomes.
type Feedback interface {
	RecordSuccess()
	RecordError()
}

// SimpleRateLimiter spaces actions by a random delay in [min, max], the
// randomized download delay politeness setting of most crawlers.
type SimpleRateLimiter struct {
	minDelay time.Duration
	maxDelay time.Duration
	next     time.Time
	mu       sync.Mutex
	jitter   bool
}

func NewSimpleRateLimiter(minDelay, maxDelay time.Duration) *SimpleRateLimiter {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &SimpleRateLimiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
		jitter:   true,
	}
}

// Wait reserves the next slot and sleeps until it. Concurrent callers get
// consecutive slots.
func (r *SimpleRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	now := time.Now()
	slot := r.next
	if slot.Before(now) {
		slot = now
	}
	r.next = slot.Add(r.calculateDelay())
	r.mu.Unlock()

	wait := time.Until(slot)
	if wait <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *SimpleRateLimiter) SetDelay(min, max time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.minDelay = min
	r.maxDelay = max
}

// Delays returns the current bounds.
func (r *SimpleRateLimiter) Delays() (time.Duration, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.minDelay, r.maxDelay
}

func (r *SimpleRateLimiter) calculateDelay() time.Duration {
	if !r.jitter || r.maxDelay <= r.minDelay {
		return r.minDelay
	}

	delta := r.maxDelay - r.minDelay
	jitter := time.Duration(rand.Int63n(int64(delta)))
	return r.minDelay + jitter
}

// AdaptiveRateLimiter slows down after repeated errors and speeds up again
// after a run of successes.
type AdaptiveRateLimiter struct {
	*SimpleRateLimiter
	floor         time.Duration
	errorCount    int
	successCount  int
	maxErrorCount int
	backoffFactor float64
}

func NewAdaptiveRateLimiter(minDelay, maxDelay time.Duration) *AdaptiveRateLimiter {
	return &AdaptiveRateLimiter{
		SimpleRateLimiter: NewSimpleRateLimiter(minDelay, maxDelay),
		floor:             minDelay,
		maxErrorCount:     3,
		backoffFactor:     1.5,
	}
}

func (a *AdaptiveRateLimiter) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successCount++
	a.errorCount = 0

	if a.successCount > 5 {
		newMin := time.Duration(float64(a.minDelay) * 0.9)
		if newMin < a.floor {
			newMin = a.floor
		}
		a.minDelay = newMin
		if a.maxDelay < a.minDelay {
			a.maxDelay = a.minDelay
		}
		a.successCount = 0
	}
}

func (a *AdaptiveRateLimiter) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.errorCount++
	a.successCount = 0

	if a.errorCount >= a.maxErrorCount {
		newMin := time.Duration(float64(a.minDelay) * a.backoffFactor)
		newMax := time.Duration(float64(a.maxDelay) * a.backoffFactor)

		if newMin > 60*time.Second {
			newMin = 60 * time.Second
		}
		if newMax > 120*time.Second {
			newMax = 120 * time.Second
		}

		a.minDelay = newMin
		a.maxDelay = newMax
		a.errorCount = 0
	}
}

// TokenBucketRateLimiter allows bursts of up to maxTokens requests and
// refills one token per refillRate.
type TokenBucketRateLimiter struct {
	limiter *rate.Limiter
}

func NewTokenBucketRateLimiter(maxTokens int, refillRate time.Duration) *TokenBucketRateLimiter {
	if maxTokens < 1 {
		maxTokens = 1
	}
	return &TokenBucketRateLimiter{
		limiter: rate.NewLimiter(rate.Every(refillRate), maxTokens),
	}
}

func (t *TokenBucketRateLimiter) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// SetDelay sets the refill interval to min; max is ignored.
func (t *TokenBucketRateLimiter) SetDelay(min, _ time.Duration) {
	t.limiter.SetLimit(rate.Every(min))
}

// New picks the limiter for a config: a token bucket when burst > 1,
// otherwise the adaptive delay limiter.
func New(minDelay, maxDelay time.Duration, burst int) RateLimiter {
	if burst > 1 {
		return NewTokenBucketRateLimiter(burst, minDelay)
	}
	return NewAdaptiveRateLimiter(minDelay, maxDelay)
}
