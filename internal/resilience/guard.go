package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// DefaultCallTimeout bounds one collaborator call.
const DefaultCallTimeout = 30 * time.Second

// Guards wraps every collaborator call of the engine: a token from the
// provider's bucket, the provider's circuit breaker, a per-call timeout and
// bounded retries of transient failures.
type Guards struct {
	Limiters    *Limiters
	Retry       RetryConfig
	Circuit     CircuitBreakerConfig
	CallTimeout time.Duration

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewGuards creates a registry over the given limiters.
func NewGuards(limiters *Limiters, retry RetryConfig, circuit CircuitBreakerConfig, callTimeout time.Duration) *Guards {
	if limiters == nil {
		limiters = NewLimiters(nil, 0)
	}
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Guards{
		Limiters:    limiters,
		Retry:       retry,
		Circuit:     circuit,
		CallTimeout: callTimeout,
		breakers:    make(map[string]*Breaker),
	}
}

// Breaker returns the circuit breaker of provider, creating it on first use.
func (g *Guards) Breaker(provider string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[provider]
	if !ok {
		b = NewBreaker(provider, g.Circuit)
		g.breakers[provider] = b
	}
	return b
}

// States returns a snapshot of every breaker's state.
func (g *Guards) States() map[string]CircuitState {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]CircuitState, len(g.breakers))
	for name, b := range g.breakers {
		out[name] = b.State()
	}
	return out
}

// CallStats reports what a guarded call cost.
type CallStats struct {
	Attempts int
	Retries  int
}

// Call runs fn for provider under the guard. The returned error is
// classified: IsTransient holds for a failure that exhausted its retries,
// IsPermanent for a categorical one.
func Call[T any](ctx context.Context, g *Guards, provider string, fn func(ctx context.Context) (T, error)) (T, CallStats, error) {
	return call(ctx, g, provider, g.Retry, fn)
}

// CallOnce is Call without retries, for side effects that must not repeat
// within one job.
func CallOnce[T any](ctx context.Context, g *Guards, provider string, fn func(ctx context.Context) (T, error)) (T, CallStats, error) {
	cfg := g.Retry
	cfg.MaxAttempts = 1
	return call(ctx, g, provider, cfg, fn)
}

func call[T any](ctx context.Context, g *Guards, provider string, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, CallStats, error) {
	var stats CallStats
	cfg.OnRetry = func(attempt int, err error) {
		stats.Retries++
		if IsRateLimited(err) {
			g.Limiters.Throttle(provider)
		}
		RetryLogger(provider, "call")(attempt, err)
	}
	breaker := g.Breaker(provider)

	val, err := DoVal(ctx, cfg, func(ctx context.Context) (T, error) {
		stats.Attempts++
		var zero T
		if err := g.Limiters.Wait(ctx, provider); err != nil {
			return zero, err
		}
		if err := breaker.Allow(); err != nil {
			return zero, err
		}
		callCtx, cancel := context.WithTimeout(ctx, g.CallTimeout)
		defer cancel()
		v, err := fn(callCtx)
		if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = Transient(provider, eris.Wrapf(err, "call exceeded %s", g.CallTimeout))
		}
		if ctx.Err() == nil {
			breaker.Record(err)
		}
		return v, err
	})
	return val, stats, err
}
