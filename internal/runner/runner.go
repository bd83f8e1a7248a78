// Package runner executes jobs in the background with a bounded number in
// flight, a per-job timeout and cooperative cancellation. On start it
// reconciles jobs a previous process left running.
package runner

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/settings"
	"github.com/sells-group/outreach-cli/internal/stage"
	"github.com/sells-group/outreach-cli/internal/store"
)

// Defaults for Config fields left zero.
const (
	DefaultMaxInflight = 4
	DefaultJobTimeout  = 30 * time.Minute
)

const (
	restartReason  = "interrupted by restart"
	shutdownReason = "interrupted by shutdown"
	timeoutReason  = "job timeout"
)

// sweepTimeout bounds the writes that close out a job after its context
// has ended.
const sweepTimeout = 30 * time.Second

// Executors resolves the executor of a job type.
type Executors interface {
	For(jobType model.JobType) (stage.Func, error)
}

// Config bounds the runner.
type Config struct {
	MaxInflight int
	JobTimeout  time.Duration
}

// Runner runs submitted jobs.
type Runner struct {
	store     store.Store
	settings  *settings.Service
	guards    *resilience.Guards
	executors Executors
	cfg       Config
	sem       *semaphore.Weighted
	now       func() time.Time

	mu      sync.Mutex
	base    context.Context
	trigger stage.SendTrigger
	running map[string]*stage.Env
	wg      sync.WaitGroup
}

// New creates a runner. Jobs run under context.Background until Start
// supplies a base context.
func New(st store.Store, svc *settings.Service, guards *resilience.Guards, x Executors, cfg Config) *Runner {
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = DefaultMaxInflight
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	return &Runner{
		store:     st,
		settings:  svc,
		guards:    guards,
		executors: x,
		cfg:       cfg,
		sem:       semaphore.NewWeighted(int64(cfg.MaxInflight)),
		now:       time.Now,
		base:      context.Background(),
		running:   make(map[string]*stage.Env),
	}
}

// SetTrigger installs the hook draft jobs use to enqueue sends.
func (r *Runner) SetTrigger(t stage.SendTrigger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trigger = t
}

// Start reconciles jobs a previous process left running and requeues
// pending ones. Jobs submitted afterwards run under ctx; cancelling it
// stops them at their next checkpoint.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	r.base = ctx
	r.mu.Unlock()

	stale, err := r.store.ListJobs(ctx, store.JobFilter{Status: model.JobRunning})
	if err != nil {
		return eris.Wrap(err, "runner: list running jobs")
	}
	for i := range stale {
		job := &stale[i]
		r.sweep(ctx, job.ID)
		if _, err := r.store.FinishJob(ctx, job.ID, model.JobFailed, job.Result, restartReason, r.now().UTC()); err != nil {
			return eris.Wrapf(err, "runner: fail stale job %s", job.ID)
		}
		zap.L().Warn("runner: failed job left running by a previous process",
			zap.String("job_id", job.ID), zap.String("stage", string(job.Type)))
	}

	pending, err := r.store.ListJobs(ctx, store.JobFilter{Status: model.JobPending})
	if err != nil {
		return eris.Wrap(err, "runner: list pending jobs")
	}
	slices.SortFunc(pending, func(a, b model.Job) int { return a.CreatedAt.Compare(b.CreatedAt) })
	for i := range pending {
		r.Submit(&pending[i])
	}
	zap.L().Info("runner: started",
		zap.Int("reconciled", len(stale)),
		zap.Int("requeued", len(pending)),
		zap.Int("max_inflight", r.cfg.MaxInflight),
	)
	return nil
}

// Submit queues a pending job. It returns at once; the job starts when an
// inflight slot frees up.
func (r *Runner) Submit(job *model.Job) {
	r.mu.Lock()
	base := r.base
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.sem.Acquire(base, 1); err != nil {
			// Left pending; the next Start requeues it.
			return
		}
		defer r.sem.Release(1)
		r.Run(base, job.ID)
	}()
}

// Cancel cancels a pending or running job. A running executor stops at its
// next checkpoint; calls in flight complete. It returns false when the job
// had already finished.
func (r *Runner) Cancel(ctx context.Context, id string) (bool, error) {
	ok, err := r.store.CancelJob(ctx, id, r.now().UTC())
	if err != nil {
		return false, eris.Wrapf(err, "runner: cancel %s", id)
	}
	r.mu.Lock()
	if env := r.running[id]; env != nil {
		env.Cancel()
	}
	r.mu.Unlock()
	return ok, nil
}

// Running returns the ids of jobs executing in this process.
func (r *Runner) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.running))
	for id := range r.running {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Wait blocks until every submitted job has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Run executes one job synchronously and returns its final row. A job that
// is no longer pending is returned unchanged.
func (r *Runner) Run(ctx context.Context, id string) *model.Job {
	log := zap.L().With(zap.String("job_id", id))
	job, err := r.store.GetJob(ctx, id)
	if err != nil {
		log.Error("runner: load job", zap.Error(err))
		return nil
	}
	started, err := r.store.StartJob(ctx, id, r.now().UTC())
	if err != nil {
		log.Error("runner: start job", zap.Error(err))
		return job
	}
	if !started {
		log.Info("runner: job no longer pending", zap.String("status", string(job.Status)))
		return job
	}
	job.Status = model.JobRunning

	env := stage.NewEnv(r.store, r.settings, r.guards, job)
	env.Now = r.now
	r.mu.Lock()
	env.Trigger = r.trigger
	r.running[id] = env
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.running, id)
		r.mu.Unlock()
	}()

	log.Info("runner: job started", zap.String("stage", string(job.Type)))
	start := time.Now()

	jctx, cancel := context.WithTimeout(ctx, r.cfg.JobTimeout)
	runErr := r.execute(jctx, env)
	timedOut := errors.Is(jctx.Err(), context.DeadlineExceeded)
	cancel()

	status, msg := classify(runErr, timedOut, ctx.Err() != nil)
	env.Result.Cancelled = status == model.JobCancelled || env.Cancelled()

	// The job context may be gone; closing out the job must still land.
	fctx, fcancel := context.WithTimeout(context.WithoutCancel(ctx), sweepTimeout)
	defer fcancel()
	r.sweep(fctx, id)
	final, err := r.store.FinishJob(fctx, id, status, env.Result, msg, r.now().UTC())
	if err != nil {
		log.Error("runner: finish job", zap.Error(err))
	}

	log.Info("runner: job finished",
		zap.String("stage", string(job.Type)),
		zap.String("status", string(final)),
		zap.Int("processed", env.Result.Processed),
		zap.Int("succeeded", env.Result.Succeeded),
		zap.Int("failed", env.Result.Failed),
		zap.Int("skipped", env.Result.Skipped),
		zap.Duration("elapsed", time.Since(start)),
	)
	if done, err := r.store.GetJob(fctx, id); err == nil {
		return done
	}
	return job
}

// execute runs the job's executor, turning a panic into a job failure.
func (r *Runner) execute(ctx context.Context, env *stage.Env) (err error) {
	fn, err := r.executors.For(env.Job.Type)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			err = eris.Errorf("runner: executor panicked: %v", p)
		}
	}()
	return fn(ctx, env)
}

// classify maps an executor's return onto the job's final status.
func classify(err error, timedOut, shutdown bool) (model.JobStatus, string) {
	switch {
	case err == nil:
		return model.JobCompleted, ""
	case errors.Is(err, stage.ErrCancelled):
		return model.JobCancelled, ""
	case timedOut:
		return model.JobFailed, timeoutReason
	case shutdown && errors.Is(err, context.Canceled):
		return model.JobFailed, shutdownReason
	}
	return model.JobFailed, err.Error()
}

// sweep settles every claim a job still holds. Sends are failed, every
// other axis returns to its pre-claim value.
func (r *Runner) sweep(ctx context.Context, jobID string) {
	log := zap.L().With(zap.String("job_id", jobID))
	claimed, err := r.store.ListClaimed(ctx, jobID)
	if err != nil {
		log.Error("runner: list claims", zap.Error(err))
	}
	for _, p := range claimed {
		_, err := r.store.UpdateProspect(ctx, p.ID, func(p *model.Prospect) error {
			if p.ClaimJobID == nil || *p.ClaimJobID != jobID {
				return nil
			}
			return p.Interrupt(store.InterruptedReason)
		})
		if err != nil {
			log.Error("runner: release claim", zap.String("prospect_id", p.ID), zap.Error(err))
		}
	}
	n, err := r.store.ReleaseSocialClaims(ctx, jobID)
	if err != nil {
		log.Error("runner: release social claims", zap.Error(err))
	}
	if total := len(claimed) + n; total > 0 {
		log.Warn("runner: released dangling claims", zap.Int("prospects", len(claimed)), zap.Int("social_drafts", n))
	}
}
