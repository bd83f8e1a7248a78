// Package automation drives the dispatcher on a schedule while
// automation_mode is automatic.
package automation

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/settings"
)

// DefaultSchedule is how often the loop wakes up to look for work.
const DefaultSchedule = "@every 1m"

// Dispatcher is the subset of the stage dispatcher the loop drives.
type Dispatcher interface {
	Discover(ctx context.Context, p model.DiscoverParams) (*model.Job, error)
	SocialDiscover(ctx context.Context, p model.DiscoverParams) (*model.Job, error)
	Stage(ctx context.Context, jobType model.JobType, req dispatch.BatchRequest) (*model.Job, error)
}

// Config controls the loop.
type Config struct {
	// Schedule is a robfig/cron expression such as "@every 1m".
	Schedule string
	// SocialPlatforms are searched by the scheduled social discover. Empty
	// disables it.
	SocialPlatforms []string
	// BatchSize caps the prospects each scheduled stage job takes on.
	BatchSize int
}

// Loop ticks the pipeline forward.
type Loop struct {
	dispatcher Dispatcher
	settings   *settings.Service
	cfg        Config
	now        func() time.Time

	mu           sync.Mutex
	lastDiscover time.Time
}

// New creates a loop.
func New(d Dispatcher, svc *settings.Service, cfg Config) *Loop {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	return &Loop{dispatcher: d, settings: svc, cfg: cfg, now: time.Now}
}

// Run ticks on the configured schedule until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(l.cfg.Schedule, func() { l.Tick(ctx) }); err != nil {
		return eris.Wrapf(err, "automation: schedule %q", l.cfg.Schedule)
	}
	zap.L().Info("automation: loop started", zap.String("schedule", l.cfg.Schedule))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	zap.L().Info("automation: loop stopped")
	return nil
}

// Tick runs one pass: a discover when the search interval has elapsed, then
// every downstream stage. Refusals are expected and only logged.
func (l *Loop) Tick(ctx context.Context) {
	s, err := l.settings.Get(ctx)
	if err != nil {
		zap.L().Warn("automation: load settings", zap.Error(err))
		return
	}
	if !s.MasterSwitch || s.AutomationMode != model.AutomationAutomatic {
		return
	}

	if l.discoverDue(s) {
		p := model.DiscoverParams{Categories: s.SearchCategories, Locations: s.SearchLocations}
		l.submit(ctx, model.JobDiscover, func() (*model.Job, error) { return l.dispatcher.Discover(ctx, p) })
		if len(l.cfg.SocialPlatforms) > 0 {
			p.Platforms = l.cfg.SocialPlatforms
			l.submit(ctx, model.JobSocialDiscover, func() (*model.Job, error) { return l.dispatcher.SocialDiscover(ctx, p) })
		}
	}

	req := dispatch.BatchRequest{}
	if l.cfg.BatchSize > 0 {
		req.MaxProspects = &l.cfg.BatchSize
	}
	for _, jt := range l.stages(s) {
		l.submit(ctx, jt, func() (*model.Job, error) { return l.dispatcher.Stage(ctx, jt, req) })
	}
}

// stages lists the batch stages a tick dispatches. Email and social sends
// only run here when email_trigger_mode is automatic.
func (l *Loop) stages(s model.Settings) []model.JobType {
	auto := s.EmailTriggerMode == model.EmailTriggerAutomatic
	out := []model.JobType{model.JobScrape, model.JobVerify, model.JobDraft}
	if auto {
		out = append(out, model.JobSend)
	}
	out = append(out, model.JobFollowup, model.JobSocialDraft)
	if auto {
		out = append(out, model.JobSocialSend)
	}
	return append(out, model.JobSocialFollowup)
}

func (l *Loop) discoverDue(s model.Settings) bool {
	if len(s.SearchCategories) == 0 || len(s.SearchLocations) == 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	interval := time.Duration(s.SearchIntervalSeconds) * time.Second
	if !l.lastDiscover.IsZero() && now.Sub(l.lastDiscover) < interval {
		return false
	}
	l.lastDiscover = now
	return true
}

func (l *Loop) submit(ctx context.Context, jt model.JobType, fn func() (*model.Job, error)) {
	job, err := fn()
	if err != nil {
		if r, ok := dispatch.AsRefusal(err); ok {
			zap.L().Debug("automation: stage refused",
				zap.String("stage", string(jt)),
				zap.String("kind", string(r.Kind)),
			)
			return
		}
		if ctx.Err() == nil {
			zap.L().Warn("automation: dispatch failed", zap.String("stage", string(jt)), zap.Error(err))
		}
		return
	}
	zap.L().Info("automation: job dispatched", zap.String("stage", string(jt)), zap.String("job_id", job.ID))
}
