package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultRatePerMinute applies to providers with no configured limit.
const DefaultRatePerMinute = 60

// Limiters is a token-bucket registry keyed by provider. Limits are given in
// calls per minute and can be replaced while jobs run.
type Limiters struct {
	mu       sync.Mutex
	limiters map[string]*providerLimiter
	perMin   map[string]int
	fallback int
}

type providerLimiter struct {
	limiter *rate.Limiter
	perMin  int
	// throttled is the reduced rate after a 429, restored on Update.
	throttled bool
}

// NewLimiters creates a registry with the given per-provider limits.
func NewLimiters(perMinute map[string]int, fallback int) *Limiters {
	if fallback <= 0 {
		fallback = DefaultRatePerMinute
	}
	l := &Limiters{
		limiters: make(map[string]*providerLimiter),
		perMin:   make(map[string]int),
		fallback: fallback,
	}
	l.Update(perMinute)
	return l
}

func perMinuteLimit(n int) rate.Limit {
	return rate.Every(time.Minute / time.Duration(n))
}

func burstFor(n int) int {
	return max(1, n/10)
}

// Update replaces the configured limits. Providers absent from perMinute
// keep the value they were created with.
func (l *Limiters) Update(perMinute map[string]int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for provider, n := range perMinute {
		if n <= 0 {
			continue
		}
		l.perMin[provider] = n
		if pl, ok := l.limiters[provider]; ok && (pl.perMin != n || pl.throttled) {
			pl.perMin = n
			pl.throttled = false
			pl.limiter.SetLimit(perMinuteLimit(n))
			pl.limiter.SetBurst(burstFor(n))
		}
	}
}

func (l *Limiters) get(provider string) *providerLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pl, ok := l.limiters[provider]; ok {
		return pl
	}
	n, ok := l.perMin[provider]
	if !ok {
		n = l.fallback
	}
	pl := &providerLimiter{limiter: rate.NewLimiter(perMinuteLimit(n), burstFor(n)), perMin: n}
	l.limiters[provider] = pl
	return pl
}

// Wait blocks until provider has a token or ctx is done.
func (l *Limiters) Wait(ctx context.Context, provider string) error {
	if err := l.get(provider).limiter.Wait(ctx); err != nil {
		return eris.Wrapf(err, "resilience: rate limit wait for %s", provider)
	}
	return nil
}

// Throttle halves the rate of provider after it answered 429, down to a
// quarter of its configured limit.
func (l *Limiters) Throttle(provider string) {
	pl := l.get(provider)
	l.mu.Lock()
	defer l.mu.Unlock()
	floor := perMinuteLimit(pl.perMin) / 4
	next := pl.limiter.Limit() / 2
	if next < floor {
		next = floor
	}
	pl.limiter.SetLimit(next)
	pl.throttled = true
	zap.L().Warn("resilience: reducing rate after 429",
		zap.String("provider", provider),
		zap.Float64("per_second", float64(next)),
	)
}

// PerMinute returns the configured limit of provider.
func (l *Limiters) PerMinute(provider string) int {
	return l.get(provider).perMin
}
