// Package ratelimit paces outbound provider calls with per-provider token
// buckets and an optional global bucket shared across all providers.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultBurst = 10

// Decision is the outcome of a non-blocking acquire. When Allowed is false,
// RetryAt hints when a permit would next be available; the caller decides
// whether to wait or skip to the next adapter.
type Decision struct {
	Allowed bool
	RetryAt time.Time
}

// Status is a read-only view of one provider's bucket.
type Status struct {
	Provider  string  `json:"provider"`
	PerMinute int     `json:"per_minute"`
	Burst     int     `json:"burst"`
	Tokens    float64 `json:"tokens"`
}

// Limiter holds per-provider token buckets. State is shared across all
// workers; the zero value is not usable, construct with New.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	perMin   map[string]int
	bursts   map[string]int
	global   *rate.Limiter
	now      func() time.Time
	fallback int // per-minute rate applied to unconfigured providers
}

// New creates a Limiter. globalPerMinute <= 0 disables the global bucket.
func New(globalPerMinute int) *Limiter {
	l := &Limiter{
		buckets:  make(map[string]*rate.Limiter),
		perMin:   make(map[string]int),
		bursts:   make(map[string]int),
		now:      time.Now,
		fallback: 60,
	}
	if globalPerMinute > 0 {
		l.global = rate.NewLimiter(perMinuteLimit(globalPerMinute), globalPerMinute)
	}
	return l
}

// WithNow sets the clock used for reservations. For tests.
func (l *Limiter) WithNow(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Configure sets the sustained rate and burst size for a provider. A burst
// of zero uses the default.
func (l *Limiter) Configure(provider string, perMinute, burst int) {
	if perMinute <= 0 {
		perMinute = l.fallback
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[provider] = rate.NewLimiter(perMinuteLimit(perMinute), burst)
	l.perMin[provider] = perMinute
	l.bursts[provider] = burst
	zap.L().Debug("ratelimit: configured provider",
		zap.String("provider", provider),
		zap.Int("per_minute", perMinute),
		zap.Int("burst", burst),
	)
}

// Acquire attempts to take one permit for the provider without blocking.
// Unconfigured providers get a default bucket on first use.
func (l *Limiter) Acquire(provider string) Decision {
	now := l.now()
	bucket := l.bucket(provider)

	res := bucket.ReserveN(now, 1)
	if !res.OK() {
		return Decision{Allowed: false, RetryAt: now.Add(time.Minute)}
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return Decision{Allowed: false, RetryAt: now.Add(delay)}
	}

	if l.global != nil {
		gres := l.global.ReserveN(now, 1)
		if !gres.OK() {
			res.CancelAt(now)
			return Decision{Allowed: false, RetryAt: now.Add(time.Minute)}
		}
		if delay := gres.DelayFrom(now); delay > 0 {
			gres.CancelAt(now)
			res.CancelAt(now)
			return Decision{Allowed: false, RetryAt: now.Add(delay)}
		}
	}

	return Decision{Allowed: true}
}

// Wait blocks until a permit is available or the context is done. Used when
// the cascade decides a single pending call is worth waiting for.
func (l *Limiter) Wait(ctx context.Context, provider string) error {
	if l.global != nil {
		if err := l.global.Wait(ctx); err != nil {
			return eris.Wrapf(err, "ratelimit: wait global for %s", provider)
		}
	}
	if err := l.bucket(provider).Wait(ctx); err != nil {
		return eris.Wrapf(err, "ratelimit: wait %s", provider)
	}
	return nil
}

// StatusAll returns the current bucket state for every configured provider.
func (l *Limiter) StatusAll() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	out := make([]Status, 0, len(l.buckets))
	for name, b := range l.buckets {
		out = append(out, Status{
			Provider:  name,
			PerMinute: l.perMin[name],
			Burst:     l.bursts[name],
			Tokens:    b.TokensAt(now),
		})
	}
	return out
}

func (l *Limiter) bucket(provider string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[provider]
	if !ok {
		b = rate.NewLimiter(perMinuteLimit(l.fallback), defaultBurst)
		l.buckets[provider] = b
		l.perMin[provider] = l.fallback
		l.bursts[provider] = defaultBurst
	}
	return b
}

func perMinuteLimit(perMinute int) rate.Limit {
	return rate.Limit(float64(perMinute) / 60.0)
}
