// Package status aggregates the pipeline counts the UI uses to gate each
// stage. Every figure is one COUNT(*) inside a single read snapshot.
package status

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/settings"
	"github.com/sells-group/outreach-cli/internal/store"
)

// DefaultTTL bounds how stale a served status may be.
const DefaultTTL = 3 * time.Second

// Block states.
const (
	Active   = "active"
	Inactive = "inactive"
)

// Website holds the counts of the website product line.
type Website struct {
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
	Discovered     int    `json:"discovered"`
	ScrapeReady    int    `json:"scrape_ready_count"`
	Scraped        int    `json:"scraped"`
	EmailFound     int    `json:"email_found"`
	Leads          int    `json:"leads"`
	EmailsVerified int    `json:"emails_verified"`
	DraftingReady  int    `json:"drafting_ready"`
	Drafted        int    `json:"drafted"`
	SendReady      int    `json:"send_ready_count"`
	Sent           int    `json:"sent"`
	FollowupReady  int    `json:"followup_ready"`
}

// Social holds the counts of the social product line.
type Social struct {
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
	Discovered    int    `json:"discovered"`
	Reviewed      int    `json:"reviewed"`
	Qualified     int    `json:"qualified"`
	DraftingReady int    `json:"drafting_ready"`
	Drafted       int    `json:"drafted"`
	SendReady     int    `json:"send_ready_count"`
	Sent          int    `json:"sent"`
	FollowupReady int    `json:"followup_ready"`
}

// Jobs counts unfinished jobs.
type Jobs struct {
	Pending int `json:"pending"`
	Running int `json:"running"`
}

// Pipeline is the aggregator response.
type Pipeline struct {
	Website     Website   `json:"website"`
	Social      Social    `json:"social"`
	Jobs        Jobs      `json:"jobs"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Cache stores the last computed status. Get reports a miss with false.
type Cache interface {
	Get(ctx context.Context) (*Pipeline, bool, error)
	Set(ctx context.Context, p *Pipeline) error
	Invalidate(ctx context.Context) error
}

// Aggregator computes the pipeline status.
type Aggregator struct {
	store    store.Snapshotter
	settings *settings.Service
	cache    Cache
	now      func() time.Time
}

// NewAggregator creates an aggregator. A nil cache disables caching.
func NewAggregator(st store.Snapshotter, svc *settings.Service, cache Cache) *Aggregator {
	return &Aggregator{store: st, settings: svc, cache: cache, now: time.Now}
}

// Status returns the cached status, computing it on a miss. A cache
// failure is logged and the status computed directly.
func (a *Aggregator) Status(ctx context.Context) (*Pipeline, error) {
	if a.cache != nil {
		p, ok, err := a.cache.Get(ctx)
		if err != nil {
			zap.L().Warn("status: cache read failed", zap.Error(err))
		}
		if ok {
			return p, nil
		}
	}
	p, err := a.Compute(ctx)
	if err != nil {
		return nil, err
	}
	if a.cache != nil {
		if err := a.cache.Set(ctx, p); err != nil {
			zap.L().Warn("status: cache write failed", zap.Error(err))
		}
	}
	return p, nil
}

// Invalidate drops the cached status so the next read recomputes it.
func (a *Aggregator) Invalidate(ctx context.Context) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Invalidate(ctx); err != nil {
		zap.L().Warn("status: cache invalidate failed", zap.Error(err))
	}
}

// Compute runs every count in one snapshot. Any failed count fails the
// whole status.
func (a *Aggregator) Compute(ctx context.Context) (*Pipeline, error) {
	s, err := a.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	now := a.now().UTC()
	gp := s.GateParams(now)
	p := &Pipeline{GeneratedAt: now}

	counts := []struct {
		dst  *int
		pred store.Predicate
	}{
		{&p.Website.Discovered, store.Discovered},
		{&p.Website.ScrapeReady, store.GatePredicate(model.GateScrape, gp)},
		{&p.Website.Scraped, store.Scraped},
		{&p.Website.EmailFound, store.EmailFound},
		{&p.Website.Leads, store.Leads},
		{&p.Website.EmailsVerified, store.EmailsVerified},
		{&p.Website.DraftingReady, store.GatePredicate(model.GateDraft, gp)},
		{&p.Website.Drafted, store.Drafted},
		{&p.Website.SendReady, store.GatePredicate(model.GateSend, gp)},
		{&p.Website.Sent, store.Sent},
		{&p.Website.FollowupReady, store.GatePredicate(model.GateFollowup, gp)},

		{&p.Social.Discovered, store.SocialDiscovered},
		{&p.Social.Reviewed, store.SocialReviewed},
		{&p.Social.Qualified, store.SocialQualified},
		{&p.Social.DraftingReady, store.SocialGatePredicate(model.SocialGateDraft, gp)},
		{&p.Social.Drafted, store.SocialDrafted},
		{&p.Social.SendReady, store.SocialGatePredicate(model.SocialGateSend, gp)},
		{&p.Social.Sent, store.SocialSent},
		{&p.Social.FollowupReady, store.SocialGatePredicate(model.SocialGateFollowup, gp)},

		{&p.Jobs.Pending, store.JobsPending},
		{&p.Jobs.Running, store.JobsRunning},
	}
	err = a.store.Snapshot(ctx, func(c store.Counter) error {
		for _, cnt := range counts {
			n, err := c.Count(ctx, cnt.pred)
			if err != nil {
				return err
			}
			*cnt.dst = n
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "status: count pipeline")
	}

	p.Website.Status, p.Website.Reason = blockState(s)
	p.Social.Status, p.Social.Reason = blockState(s)
	return p, nil
}

// blockState derives a product line's state from the settings. A line is
// active while the master switch is on; the reason explains an inactive
// line or one that only runs on request.
func blockState(s model.Settings) (string, string) {
	switch {
	case !s.MasterSwitch:
		return Inactive, "master switch is off"
	case s.AutomationMode != model.AutomationAutomatic:
		return Active, "automation is " + string(s.AutomationMode) + "; stages run on request"
	}
	return Active, ""
}
