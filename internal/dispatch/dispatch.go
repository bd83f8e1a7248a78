// Package dispatch enforces the preconditions of every stage operation and
// hands accepted jobs to the runner.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/settings"
	"github.com/sells-group/outreach-cli/internal/store"
)

// Kind classifies a refused stage operation.
type Kind string

const (
	KindDisabled Kind = "DISABLED"
	KindNoWork   Kind = "NO_WORK"
	KindConflict Kind = "CONFLICT"
)

// Refusal is an expected refusal of a stage operation. It is not a fault.
type Refusal struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func (r *Refusal) Error() string {
	return fmt.Sprintf("%s: %s", r.Kind, r.Message)
}

func refuse(kind Kind, format string, args ...any) *Refusal {
	return &Refusal{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsRefusal unwraps a refusal from err.
func AsRefusal(err error) (*Refusal, bool) {
	var r *Refusal
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// ErrInvalid marks a request whose params fail validation.
var ErrInvalid = eris.New("dispatch: invalid request")

// Runner accepts jobs for execution.
type Runner interface {
	Submit(job *model.Job)
	Cancel(ctx context.Context, id string) (bool, error)
}

// Invalidator drops a cached pipeline status.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

// Dispatcher is the single entry point of every stage operation.
type Dispatcher struct {
	store    store.Store
	settings *settings.Service
	runner   Runner
	status   Invalidator
	now      func() time.Time
}

// New creates a dispatcher. status may be nil.
func New(st store.Store, svc *settings.Service, r Runner, status Invalidator) *Dispatcher {
	return &Dispatcher{store: st, settings: svc, runner: r, status: status, now: time.Now}
}

// BatchRequest is the body of every prospect-batch stage operation.
// MaxProspects distinguishes an explicit zero from an absent cap.
type BatchRequest struct {
	ProspectIDs  []string `json:"prospect_ids,omitempty"`
	MaxProspects *int     `json:"max_prospects,omitempty"`
}

func (r BatchRequest) params() model.BatchParams {
	bp := model.BatchParams{ProspectIDs: r.ProspectIDs}
	if r.MaxProspects != nil {
		bp.MaxProspects = *r.MaxProspects
	}
	return bp
}

// Discover enqueues a website discover job.
func (d *Dispatcher) Discover(ctx context.Context, p model.DiscoverParams) (*model.Job, error) {
	return d.discover(ctx, model.JobDiscover, p)
}

// SocialDiscover enqueues a social discover job.
func (d *Dispatcher) SocialDiscover(ctx context.Context, p model.DiscoverParams) (*model.Job, error) {
	for _, name := range p.Platforms {
		if _, err := model.ParsePlatform(name); err != nil {
			return nil, eris.Wrap(ErrInvalid, err.Error())
		}
	}
	return d.discover(ctx, model.JobSocialDiscover, p)
}

func (d *Dispatcher) discover(ctx context.Context, jobType model.JobType, p model.DiscoverParams) (*model.Job, error) {
	if err := d.enabled(ctx); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, eris.Wrap(ErrInvalid, err.Error())
	}
	return d.enqueue(ctx, jobType, "*", p)
}

// Stage enqueues a prospect-batch job of jobType after checking that the
// master switch is on, that at least one target satisfies the stage gate
// and that no active job holds the same scope.
func (d *Dispatcher) Stage(ctx context.Context, jobType model.JobType, req BatchRequest) (*model.Job, error) {
	if err := d.enabled(ctx); err != nil {
		return nil, err
	}
	bp := req.params()
	if err := bp.Validate(); err != nil {
		return nil, eris.Wrap(ErrInvalid, err.Error())
	}
	if req.MaxProspects != nil && *req.MaxProspects == 0 {
		return nil, refuse(KindNoWork, "max_prospects is 0")
	}
	ready, err := d.hasWork(ctx, jobType, bp.ProspectIDs)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, refuse(KindNoWork, "no prospect is ready for %s", jobType)
	}
	return d.enqueue(ctx, jobType, bp.ScopeKey(), bp)
}

// TriggerSend enqueues a send for one freshly drafted prospect. Draft jobs
// call it when email_trigger_mode is automatic.
func (d *Dispatcher) TriggerSend(ctx context.Context, prospectID string) error {
	_, err := d.Stage(ctx, model.JobSend, BatchRequest{ProspectIDs: []string{prospectID}})
	return err
}

// Cancel cancels a job. It returns false when the job already finished.
func (d *Dispatcher) Cancel(ctx context.Context, jobID string) (bool, error) {
	ok, err := d.runner.Cancel(ctx, jobID)
	if err != nil {
		return false, err
	}
	d.invalidate(ctx)
	return ok, nil
}

func (d *Dispatcher) enabled(ctx context.Context) error {
	s, err := d.settings.Get(ctx)
	if err != nil {
		return err
	}
	if !s.MasterSwitch {
		return refuse(KindDisabled, "master switch is off")
	}
	return nil
}

// hasWork reports whether the stage gate of jobType holds for at least one
// target, restricted to ids when given.
func (d *Dispatcher) hasWork(ctx context.Context, jobType model.JobType, ids []string) (bool, error) {
	s, err := d.settings.Get(ctx)
	if err != nil {
		return false, err
	}
	gp := s.GateParams(d.now().UTC())
	if g, ok := websiteGates[jobType]; ok {
		list, err := d.store.ListProspects(ctx, store.ProspectFilter{Gate: g, GateParams: gp, IDs: ids, Limit: 1})
		return len(list) > 0, err
	}
	sg, ok := socialGates[jobType]
	if !ok {
		return false, eris.Wrapf(ErrInvalid, "job type %q is not a batch stage", jobType)
	}
	f := store.SocialFilter{Gate: sg, GateParams: gp, IDs: ids, Limit: 1}
	if sg == model.SocialGateDraft {
		list, err := d.store.ListSocialProfiles(ctx, f)
		return len(list) > 0, err
	}
	list, err := d.store.ListSocialDrafts(ctx, f)
	return len(list) > 0, err
}

var websiteGates = map[model.JobType]model.Gate{
	model.JobScrape:   model.GateScrape,
	model.JobEnrich:   model.GateScrape,
	model.JobVerify:   model.GateVerify,
	model.JobDraft:    model.GateDraft,
	model.JobSend:     model.GateSend,
	model.JobFollowup: model.GateFollowup,
}

var socialGates = map[model.JobType]model.SocialGate{
	model.JobSocialDraft:    model.SocialGateDraft,
	model.JobSocialSend:     model.SocialGateSend,
	model.JobSocialFollowup: model.SocialGateFollowup,
}

func (d *Dispatcher) enqueue(ctx context.Context, jobType model.JobType, scope string, params any) (*model.Job, error) {
	active, err := d.store.HasActiveJob(ctx, jobType, scope)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, refuse(KindConflict, "a %s job for this prospect set is already pending or running", jobType)
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "dispatch: encode params")
	}
	job := &model.Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Status:    model.JobPending,
		ScopeKey:  scope,
		Params:    raw,
		CreatedAt: d.now().UTC(),
	}
	if err := d.store.CreateJob(ctx, job); err != nil {
		if errors.Is(err, store.ErrActiveJob) {
			return nil, refuse(KindConflict, "a %s job for this prospect set is already pending or running", jobType)
		}
		return nil, err
	}
	zap.L().Info("dispatch: job enqueued",
		zap.String("job_id", job.ID),
		zap.String("stage", string(jobType)),
		zap.String("scope", scope),
	)
	d.runner.Submit(job)
	d.invalidate(ctx)
	return job, nil
}

func (d *Dispatcher) invalidate(ctx context.Context) {
	if d.status != nil {
		d.status.Invalidate(ctx)
	}
}
