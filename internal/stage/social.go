package stage

import (
	"context"
	"errors"
	"slices"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/prompt"
	"github.com/sells-group/outreach-cli/internal/provider"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/pkg/social"
)

// socialDiscover searches each platform's site for profiles matching every
// category × location pair.
func (x *Executors) socialDiscover(ctx context.Context, env *Env) error {
	search := x.Providers.SiteSearch
	if search == nil {
		return eris.New("social discover: no site search configured")
	}
	var dp model.DiscoverParams
	if err := env.Job.DecodeParams(&dp); err != nil {
		return err
	}
	platforms := model.Platforms
	if len(dp.Platforms) > 0 {
		platforms = nil
		for _, name := range dp.Platforms {
			p, err := model.ParsePlatform(name)
			if err != nil {
				return err
			}
			platforms = append(platforms, p)
		}
	}
	pageSize := dp.MaxResults
	if pageSize <= 0 {
		pageSize = DefaultMaxResults
	}

	for _, platform := range platforms {
		for _, category := range dp.Categories {
			for _, location := range dp.Locations {
				if err := env.Checkpoint(ctx); err != nil {
					return err
				}
				run := &model.SocialDiscoveryJob{
					ID:        uuid.New().String(),
					JobID:     env.Job.ID,
					Platform:  platform,
					Category:  category,
					Location:  location,
					Keywords:  dp.Keywords,
					CreatedAt: env.Now().UTC(),
				}
				if err := x.runSocialSearch(ctx, env, search, run, pageSize); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (x *Executors) runSocialSearch(ctx context.Context, env *Env, search provider.SiteSearcher, run *model.SocialDiscoveryJob, pageSize int) error {
	env.Result.Queries = append(env.Result.Queries, run.ID)
	phrase := model.SearchPhrase(run.Category, run.Keywords)
	results, err := call(ctx, env, search.Provider(), func(ctx context.Context) ([]provider.SearchResult, error) {
		return search.SearchSite(ctx, run.Platform.Host(), phrase, run.Location, pageSize)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		env.Log.Warn("social discover: search failed", zap.String("platform", string(run.Platform)), zap.Error(err))
		run.Status = model.QueryFailed
		run.Error = strPtr(err.Error())
		env.record(run.ID, model.OutcomeFailed, "search failed", err)
		return eris.Wrap(env.Store.SaveSocialDiscoveryJob(ctx, run), "social discover: save failed search")
	}
	run.Status = model.QueryCompleted
	run.ResultsFound = len(results)
	if err := env.Store.SaveSocialDiscoveryJob(ctx, run); err != nil {
		return eris.Wrap(err, "social discover: save search")
	}

	jobID := env.Job.ID
	for _, r := range results {
		platform, username, ok := model.ProfileFromURL(r.URL)
		if !ok || platform != run.Platform {
			continue
		}
		p := model.NewSocialProfile(platform, username, r.URL, env.Now().UTC())
		p.FullName = r.Title
		p.Category = run.Category
		p.Location = run.Location
		p.DiscoveryJobID = &jobID
		created, err := env.Store.InsertSocialProfile(ctx, p)
		if err != nil && !errors.Is(err, store.ErrDuplicate) {
			return eris.Wrapf(err, "social discover: insert %s/%s", platform, username)
		}
		if !created {
			run.ResultsSkippedDuplicate++
			env.record(string(platform)+"/"+username, model.OutcomeDuplicate, "", nil)
			continue
		}
		run.ResultsSaved++
		env.record(p.ID, model.OutcomeCreated, p.ProfileURL, nil)
	}
	return eris.Wrap(env.Store.SaveSocialDiscoveryJob(ctx, run), "social discover: save search counts")
}

// socialTargets lists social rows for a batch job and marks explicit ids
// the gate did not return.
func socialTargets[T any](ctx context.Context, env *Env, bp model.BatchParams, batchSize int,
	list func(store.SocialFilter) ([]T, error), id func(*T) string) ([]T, error) {
	limit := batchLimit(bp.MaxProspects, batchSize)
	rows, err := list(store.SocialFilter{GateParams: env.gateParams(), IDs: bp.ProspectIDs, Limit: limit})
	if err != nil {
		return nil, err
	}
	found := make(map[string]bool, len(rows))
	for i := range rows {
		found[id(&rows[i])] = true
	}
	env.markIneligible(bp.ProspectIDs, found, len(rows) < limit)
	return rows, nil
}

// socialDraft composes the opening message to each qualified profile.
func (x *Executors) socialDraft(ctx context.Context, env *Env) error {
	llm := x.Providers.LLM
	if llm == nil {
		return eris.New("social draft: no LLM configured")
	}
	bp, err := batchParams(ctx, env)
	if err != nil {
		return err
	}
	profiles, err := socialTargets(ctx, env, bp, x.BatchSize, func(f store.SocialFilter) ([]model.SocialProfile, error) {
		f.Gate = model.SocialGateDraft
		return env.Store.ListSocialProfiles(ctx, f)
	}, func(p *model.SocialProfile) string { return p.ID })
	if err != nil {
		return eris.Wrap(err, "social draft: list targets")
	}

	for i := range profiles {
		if i > 0 {
			if err := env.Checkpoint(ctx); err != nil {
				return err
			}
		}
		p := &profiles[i]
		req := provider.ComposeRequest{
			Template: prompt.SocialDraft,
			Vars:     prompt.SocialVars(p, nil),
			Stage:    string(model.JobSocialDraft),
		}
		out, err := call(ctx, env, llm.Provider(), func(ctx context.Context) (*provider.Composed, error) {
			return llm.Compose(ctx, req)
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			env.record(p.ID, model.OutcomeFailed, "", err)
			continue
		}
		d := model.NewSocialDraft(p.ID, out.Subject, out.Body, env.Now().UTC())
		switch err := env.Store.InsertSocialDraft(ctx, d); {
		case errors.Is(err, store.ErrDuplicate), errors.Is(err, model.ErrIllegalTransition):
			env.record(p.ID, model.OutcomeSkippedRace, "", err)
		case err != nil:
			return eris.Wrapf(err, "social draft: insert for %s", p.ID)
		default:
			env.record(p.ID, model.OutcomeDrafted, d.ID, nil)
		}
	}
	return nil
}

// socialSend delivers each pending social draft once. Platforms without a
// sender are refused as a permanent provider failure.
func (x *Executors) socialSend(ctx context.Context, env *Env) error {
	sender := x.Providers.Social
	if sender == nil {
		sender = social.NewRegistry()
	}
	bp, err := batchParams(ctx, env)
	if err != nil {
		return err
	}
	drafts, err := socialTargets(ctx, env, bp, x.BatchSize, func(f store.SocialFilter) ([]model.SocialDraft, error) {
		f.Gate = model.SocialGateSend
		return env.Store.ListSocialDrafts(ctx, f)
	}, func(d *model.SocialDraft) string { return d.ID })
	if err != nil {
		return eris.Wrap(err, "social send: list targets")
	}

	for i := range drafts {
		if i > 0 {
			if err := env.Checkpoint(ctx); err != nil {
				return err
			}
		}
		if err := x.socialSendOne(ctx, env, sender, &drafts[i]); err != nil {
			return err
		}
	}
	return nil
}

func (x *Executors) socialSendOne(ctx context.Context, env *Env, sender provider.SocialSender, d *model.SocialDraft) error {
	profile, err := env.Store.GetSocialProfile(ctx, d.ProfileID)
	if errors.Is(err, store.ErrNotFound) {
		env.record(d.ID, model.OutcomeSkippedRace, "profile deleted", err)
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "social send: load profile of %s", d.ID)
	}
	claimed, err := env.Store.ClaimSocialDraft(ctx, d.ID, env.Job.ID)
	if err != nil {
		return eris.Wrapf(err, "social send: claim %s", d.ID)
	}
	if !claimed {
		env.record(d.ID, model.OutcomeSkippedRace, "", nil)
		return nil
	}

	msg := social.Message{
		Platform:       profile.Platform,
		Username:       profile.Username,
		ProfileURL:     profile.ProfileURL,
		Subject:        d.Subject,
		Body:           d.Body,
		ThreadID:       d.ThreadID,
		IdempotencyKey: d.IdempotencyKey(),
	}
	key := social.ProviderFor(profile.Platform)
	messageID, err := callOnce(ctx, env, key, func(ctx context.Context) (string, error) {
		return sender.Send(ctx, msg)
	})

	now := env.Now().UTC()
	entry := model.SocialMessage{
		DraftID:   d.ID,
		ProfileID: profile.ID,
		JobID:     env.Job.ID,
		Platform:  profile.Platform,
		CreatedAt: now,
	}
	settleCtx := ctx
	switch {
	case ctx.Err() != nil:
		var cancel context.CancelFunc
		settleCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		d.Status = model.SocialDraftFailed
		d.LastError = strPtr(store.InterruptedReason)
		entry.Error = d.LastError
	case err != nil:
		env.Log.Warn("social send: failed", zap.String("draft_id", d.ID), zap.String("provider", key), zap.Error(err))
		d.Status = model.SocialDraftFailed
		d.LastError = strPtr(err.Error())
		entry.Error = d.LastError
	default:
		d.Status = model.SocialDraftSent
		d.PlatformMessageID = &messageID
		d.SentAt = &now
		d.LastError = nil
		entry.PlatformMessageID = &messageID
	}
	if serr := env.Store.SettleSocialDraft(settleCtx, d, entry); serr != nil {
		if ctx.Err() == nil && !errors.Is(serr, model.ErrIllegalTransition) {
			return eris.Wrapf(serr, "social send: settle %s", d.ID)
		}
		env.Log.Warn("social send: settle refused", zap.String("draft_id", d.ID), zap.Error(serr))
	}

	switch {
	case ctx.Err() != nil:
		env.record(d.ID, model.OutcomeReleased, "job ended mid-call", ctx.Err())
		return ctx.Err()
	case err != nil:
		env.record(d.ID, model.OutcomeFailed, "", err)
	default:
		env.record(d.ID, model.OutcomeSent, messageID, nil)
	}
	return nil
}

// socialFollowup drafts the next message of each social thread past its
// cool-off.
func (x *Executors) socialFollowup(ctx context.Context, env *Env) error {
	llm := x.Providers.LLM
	if llm == nil {
		return eris.New("social follow-up: no LLM configured")
	}
	bp, err := batchParams(ctx, env)
	if err != nil {
		return err
	}
	drafts, err := socialTargets(ctx, env, bp, x.BatchSize, func(f store.SocialFilter) ([]model.SocialDraft, error) {
		f.Gate = model.SocialGateFollowup
		return env.Store.ListSocialDrafts(ctx, f)
	}, func(d *model.SocialDraft) string { return d.ID })
	if err != nil {
		return eris.Wrap(err, "social follow-up: list targets")
	}

	for i := range drafts {
		if i > 0 {
			if err := env.Checkpoint(ctx); err != nil {
				return err
			}
		}
		prev := &drafts[i]
		profile, err := env.Store.GetSocialProfile(ctx, prev.ProfileID)
		if errors.Is(err, store.ErrNotFound) {
			env.record(prev.ID, model.OutcomeSkippedRace, "profile deleted", err)
			continue
		}
		if err != nil {
			return eris.Wrapf(err, "social follow-up: load profile of %s", prev.ID)
		}
		thread, err := env.Store.ListSocialDrafts(ctx, store.SocialFilter{ProfileID: profile.ID})
		if err != nil {
			return eris.Wrapf(err, "social follow-up: load thread of %s", prev.ID)
		}
		thread = slices.DeleteFunc(thread, func(d model.SocialDraft) bool { return d.ThreadID != prev.ThreadID })
		slices.SortFunc(thread, func(a, b model.SocialDraft) int { return a.SequenceIndex - b.SequenceIndex })

		req := provider.ComposeRequest{
			Template: prompt.SocialFollowup,
			Vars:     prompt.SocialVars(profile, thread),
			Stage:    string(model.JobSocialFollowup),
		}
		out, err := call(ctx, env, llm.Provider(), func(ctx context.Context) (*provider.Composed, error) {
			return llm.Compose(ctx, req)
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			env.record(prev.ID, model.OutcomeFailed, "", err)
			continue
		}
		next, err := model.NextSocialDraft(prev, out.Subject, out.Body, env.Now().UTC())
		if err != nil {
			env.record(prev.ID, model.OutcomeSkippedRace, "", err)
			continue
		}
		switch err := env.Store.InsertSocialDraft(ctx, next); {
		case errors.Is(err, store.ErrDuplicate):
			env.record(prev.ID, model.OutcomeSkippedRace, "thread already has a successor", err)
		case err != nil:
			return eris.Wrapf(err, "social follow-up: insert for %s", prev.ID)
		default:
			env.record(next.ID, model.OutcomeDrafted, "follow-up of "+prev.ID, nil)
		}
	}
	return nil
}
