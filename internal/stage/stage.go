// Package stage implements the pipeline stage executors. An executor claims
// each eligible prospect, calls one class of external collaborator outside
// any transaction, and settles the prospect with the outcome.
package stage

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/settings"
	"github.com/sells-group/outreach-cli/internal/store"
)

// ErrCancelled is returned by an executor that stopped at a checkpoint
// because its job was cancelled.
var ErrCancelled = eris.New("stage: job cancelled")

// DefaultBatchSize caps how many prospects one job processes.
const DefaultBatchSize = 50

// releaseTimeout bounds the write that returns a claim after the job
// context has ended.
const releaseTimeout = 10 * time.Second

// SendTrigger enqueues a send job for one prospect. The draft stage uses it
// when email_trigger_mode is automatic.
type SendTrigger interface {
	TriggerSend(ctx context.Context, prospectID string) error
}

// Env is the per-job context of an executor.
type Env struct {
	Store    store.Store
	Settings *settings.Service
	Guards   *resilience.Guards
	Job      *model.Job
	Result   *model.JobResult
	Trigger  SendTrigger
	Now      func() time.Time
	Log      *zap.Logger

	current   model.Settings
	cancelled atomic.Bool
}

// NewEnv builds the environment of one job run.
func NewEnv(st store.Store, svc *settings.Service, guards *resilience.Guards, job *model.Job) *Env {
	return &Env{
		Store:    st,
		Settings: svc,
		Guards:   guards,
		Job:      job,
		Result:   &model.JobResult{Items: []model.ItemOutcome{}},
		Now:      time.Now,
		Log:      zap.L().With(zap.String("job_id", job.ID), zap.String("stage", string(job.Type))),
	}
}

// Cancel asks the executor to stop at its next checkpoint. Calls already in
// flight run to completion.
func (e *Env) Cancel() {
	e.cancelled.Store(true)
}

// Cancelled reports whether Cancel was called or a checkpoint observed the
// job row cancelled.
func (e *Env) Cancelled() bool {
	return e.cancelled.Load()
}

// Checkpoint runs between items. It observes cancellation, including a
// cancel written to the job row by another process, and reloads settings.
func (e *Env) Checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.cancelled.Load() {
		return ErrCancelled
	}
	job, err := e.Store.GetJob(ctx, e.Job.ID)
	if err != nil {
		return eris.Wrap(err, "stage: poll job")
	}
	if job.Status == model.JobCancelled {
		e.cancelled.Store(true)
		return ErrCancelled
	}
	s, err := e.Settings.Get(ctx)
	if err != nil {
		return err
	}
	e.current = s
	return nil
}

// Current returns the settings loaded at the last checkpoint.
func (e *Env) Current() model.Settings {
	return e.current
}

func (e *Env) gateParams() model.GateParams {
	return e.current.GateParams(e.Now().UTC())
}

func (e *Env) record(id string, outcome model.Outcome, detail string, err error) {
	item := model.ItemOutcome{ID: id, Outcome: outcome, Detail: detail}
	if err != nil {
		item.Error = err.Error()
	}
	e.Result.Record(item)
}

func batchLimit(maxProspects, batchSize int) int {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if maxProspects > 0 && maxProspects < batchSize {
		return maxProspects
	}
	return batchSize
}

// markIneligible records NOT_ELIGIBLE for explicitly requested ids the gate
// list did not return. When the list filled its limit the missing ids may
// simply be beyond it, so nothing is recorded.
func (e *Env) markIneligible(requested []string, found map[string]bool, complete bool) {
	if !complete {
		return
	}
	seen := make(map[string]bool, len(requested))
	for _, id := range requested {
		if found[id] || seen[id] {
			continue
		}
		seen[id] = true
		e.record(id, model.OutcomeNotEligible, "gate does not hold", nil)
	}
}

// targets lists the prospects a batch job processes, in insertion order.
func (e *Env) targets(ctx context.Context, g model.Gate, bp model.BatchParams, batchSize int) ([]model.Prospect, error) {
	limit := batchLimit(bp.MaxProspects, batchSize)
	list, err := e.Store.ListProspects(ctx, store.ProspectFilter{
		Gate:       g,
		GateParams: e.gateParams(),
		IDs:        bp.ProspectIDs,
		Limit:      limit,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "stage: list %s targets", g)
	}
	found := make(map[string]bool, len(list))
	for _, p := range list {
		found[p.ID] = true
	}
	e.markIneligible(bp.ProspectIDs, found, len(list) < limit)
	e.Log.Info("stage: targets selected", zap.String("gate", string(g)), zap.Int("count", len(list)))
	return list, nil
}

// claim moves the gate's axis of id into progress for this job. It returns
// false after recording SKIPPED_RACE when another writer got there first.
func (e *Env) claim(ctx context.Context, id string, g model.Gate, artifacts ...store.Artifact) (*model.Prospect, bool, error) {
	gp := e.gateParams()
	claimed, err := e.Store.UpdateProspect(ctx, id, func(p *model.Prospect) error {
		if !p.Ready(g, gp) {
			return eris.Wrapf(model.ErrIllegalTransition, "%s gate no longer holds", g)
		}
		return p.Claim(g.Axis(), e.Job.ID)
	}, artifacts...)
	switch {
	case err == nil:
		return claimed, true, nil
	case errors.Is(err, model.ErrIllegalTransition), errors.Is(err, store.ErrNotFound):
		e.record(id, model.OutcomeSkippedRace, "", err)
		return nil, false, nil
	}
	return nil, false, eris.Wrapf(err, "stage: claim %s", id)
}

// recheck reports whether the gate still holds for id, recording
// SKIPPED_RACE when it no longer does. Gates that move no axis use it in
// place of a claim.
func (e *Env) recheck(ctx context.Context, id string, g model.Gate) (bool, error) {
	list, err := e.Store.ListProspects(ctx, store.ProspectFilter{
		Gate:       g,
		GateParams: e.gateParams(),
		IDs:        []string{id},
		Limit:      1,
	})
	if err != nil {
		return false, eris.Wrapf(err, "stage: recheck %s", id)
	}
	if len(list) == 0 {
		e.record(id, model.OutcomeSkippedRace, "gate no longer holds", nil)
		return false, nil
	}
	return true, nil
}

// settle applies fn to a claimed prospect. A settle refused by the state
// machine is recorded as FAILED; a store failure aborts the job.
func (e *Env) settle(ctx context.Context, id string, fn func(p *model.Prospect) error, artifacts ...store.Artifact) (*model.Prospect, bool, error) {
	p, err := e.Store.UpdateProspect(ctx, id, fn, artifacts...)
	switch {
	case err == nil:
		return p, true, nil
	case errors.Is(err, model.ErrIllegalTransition), errors.Is(err, store.ErrNotFound):
		e.Log.Warn("stage: settle refused", zap.String("prospect_id", id), zap.Error(err))
		e.record(id, model.OutcomeFailed, "settle refused", err)
		return nil, false, nil
	}
	return nil, false, eris.Wrapf(err, "stage: settle %s", id)
}

// abandon returns the claim on id after the job context ended mid-call. The
// write runs on a detached context; a failure is left to the runner's
// claim sweep.
func (e *Env) abandon(ctx context.Context, id string, cause error) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	_, err := e.Store.UpdateProspect(rctx, id, func(p *model.Prospect) error {
		return p.Interrupt(store.InterruptedReason)
	})
	if err != nil {
		e.Log.Warn("stage: release claim", zap.String("prospect_id", id), zap.Error(err))
	}
	e.record(id, model.OutcomeReleased, "job ended mid-call", cause)
}

// call runs fn under the provider's guard and accounts for it in the
// job result.
func call[T any](ctx context.Context, e *Env, provider string, fn func(context.Context) (T, error)) (T, error) {
	v, stats, err := resilience.Call(ctx, e.Guards, provider, fn)
	e.Result.Track(provider, stats.Retries, err != nil)
	return v, err
}

// callOnce is call without retries.
func callOnce[T any](ctx context.Context, e *Env, provider string, fn func(context.Context) (T, error)) (T, error) {
	v, stats, err := resilience.CallOnce(ctx, e.Guards, provider, fn)
	e.Result.Track(provider, stats.Retries, err != nil)
	return v, err
}

func strPtr(s string) *string { return &s }
