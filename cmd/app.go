package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/runner"
	"github.com/sells-group/outreach-cli/internal/settings"
	"github.com/sells-group/outreach-cli/internal/stage"
	"github.com/sells-group/outreach-cli/internal/status"
	"github.com/sells-group/outreach-cli/internal/store"
)

// appEnv holds everything the serve and run commands share.
type appEnv struct {
	Store      store.Store
	Settings   *settings.Service
	Guards     *resilience.Guards
	Runner     *runner.Runner
	Dispatcher *dispatch.Dispatcher
	Status     *status.Aggregator
	redis      *redis.Client
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// queueOnly accepts jobs without running them. A serve process picks them
// up on its next start.
type queueOnly struct {
	store store.Store
}

func (queueOnly) Submit(*model.Job) {}

func (q queueOnly) Cancel(ctx context.Context, id string) (bool, error) {
	return q.store.CancelJob(ctx, id, time.Now().UTC())
}

// initApp opens the store and wires the settings, guards, collaborators,
// runner, status aggregator and dispatcher. With execute false the
// dispatcher only queues jobs. Callers should defer env.Close().
func initApp(ctx context.Context, mode string, execute bool) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}
	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env.Settings = settings.New(st, time.Duration(cfg.Runner.SettingsCacheSecs)*time.Second)
	current, err := env.Settings.Get(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}

	limiters := resilience.NewLimiters(
		resilience.MergeRates(cfg.RateLimits.PerMinute, current.RateLimitPerMinute),
		cfg.RateLimits.DefaultPerMinute,
	)
	env.Settings.OnChange(func(s model.Settings) {
		limiters.Update(resilience.MergeRates(cfg.RateLimits.PerMinute, s.RateLimitPerMinute))
	})
	policy := resilience.Policy{
		RetryAttempts:    cfg.Runner.RetryAttempts,
		BreakerThreshold: cfg.Runner.BreakerThreshold,
		BreakerReset:     time.Duration(cfg.Runner.BreakerResetSecs) * time.Second,
		CallTimeout:      cfg.Runner.CallTimeout(),
	}
	env.Guards = policy.Guards(limiters)

	var cache status.Cache = status.NewMemoryCache(status.DefaultTTL)
	if cfg.Redis.Addr != "" {
		env.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cache = status.NewRedisCache(env.redis, cfg.Redis.Key, status.DefaultTTL)
		zap.L().Info("status cache using redis", zap.String("addr", cfg.Redis.Addr))
	}
	env.Status = status.NewAggregator(st, env.Settings, cache)

	if !execute {
		env.Dispatcher = dispatch.New(st, env.Settings, queueOnly{store: st}, env.Status)
		return env, nil
	}

	providers, err := buildProviders(ctx, cfg)
	if err != nil {
		env.Close()
		return nil, err
	}
	executors := &stage.Executors{Providers: providers, BatchSize: cfg.Runner.BatchSize}
	env.Runner = runner.New(st, env.Settings, env.Guards, executors, runner.Config{
		MaxInflight: cfg.Runner.MaxInflightJobs,
		JobTimeout:  cfg.Runner.JobTimeout(),
	})
	env.Dispatcher = dispatch.New(st, env.Settings, env.Runner, env.Status)
	env.Runner.SetTrigger(env.Dispatcher)
	return env, nil
}
