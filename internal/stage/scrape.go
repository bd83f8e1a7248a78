package stage

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/extract"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/provider"
)

// scrape fetches each prospect's page for addresses and falls back to the
// email finder when the page has none.
func (x *Executors) scrape(ctx context.Context, env *Env) error {
	if x.Providers.Extractor == nil {
		return eris.New("scrape: no email extractor configured")
	}
	return x.batch(ctx, env, model.GateScrape, func(ctx context.Context, env *Env, listed *model.Prospect) error {
		return x.scrapeOne(ctx, env, listed, true)
	})
}

// enrich is scrape without the page fetch: the finder alone supplies the
// address.
func (x *Executors) enrich(ctx context.Context, env *Env) error {
	if x.Providers.Finder == nil {
		return eris.New("enrich: no email finder configured")
	}
	return x.batch(ctx, env, model.GateScrape, func(ctx context.Context, env *Env, listed *model.Prospect) error {
		return x.scrapeOne(ctx, env, listed, false)
	})
}

func (x *Executors) scrapeOne(ctx context.Context, env *Env, listed *model.Prospect, fetchPage bool) error {
	claimed, ok, err := env.claim(ctx, listed.ID, model.GateScrape)
	if err != nil || !ok {
		return err
	}
	log := env.Log.With(zap.String("prospect_id", claimed.ID), zap.String("domain", claimed.Domain))

	var callErr error
	if fetchPage {
		ext := x.Providers.Extractor
		res, err := call(ctx, env, ext.Provider(), func(ctx context.Context) (*extract.Result, error) {
			return ext.FetchAndExtract(ctx, claimed.PageURL)
		})
		if ctx.Err() != nil {
			env.abandon(ctx, claimed.ID, ctx.Err())
			return ctx.Err()
		}
		if err != nil {
			log.Warn("scrape: page fetch failed", zap.Error(err))
			callErr = err
		} else if email := extract.Pick(res.Emails, claimed.Domain); email != "" {
			return x.settleScrape(ctx, env, claimed.ID, model.ScrapeScraped, email, nil)
		}
	}

	var payload json.RawMessage
	if finder := x.Providers.Finder; finder != nil {
		found, err := call(ctx, env, finder.Provider(), func(ctx context.Context) (*provider.Findings, error) {
			return finder.FindByDomain(ctx, claimed.Domain)
		})
		if ctx.Err() != nil {
			env.abandon(ctx, claimed.ID, ctx.Err())
			return ctx.Err()
		}
		switch {
		case err != nil:
			log.Warn("scrape: finder failed", zap.Error(err))
			if callErr == nil {
				callErr = err
			}
		default:
			if best, ok := found.Best(); ok {
				return x.settleScrape(ctx, env, claimed.ID, model.ScrapeEnriched, best.Email, found.Payload)
			}
			payload = found.Payload
		}
	}

	if callErr != nil {
		reason := callErr.Error()
		_, ok, err := env.settle(ctx, claimed.ID, func(p *model.Prospect) error {
			return p.Fail(model.AxisScrape, reason)
		})
		if err == nil && ok {
			env.record(claimed.ID, model.OutcomeFailed, "", callErr)
		}
		return err
	}

	_, ok, err = env.settle(ctx, claimed.ID, func(p *model.Prospect) error {
		if err := p.Settle(model.AxisScrape, string(model.ScrapeNoEmailFound)); err != nil {
			return err
		}
		if payload != nil {
			p.FinderPayload = payload
		}
		p.LastError = nil
		return nil
	})
	if err == nil && ok {
		env.record(claimed.ID, model.OutcomeNoEmailFound, "", nil)
	}
	return err
}

// settleScrape records a found address. An address the operator set while
// the page was being fetched is kept.
func (x *Executors) settleScrape(ctx context.Context, env *Env, id string, status model.ScrapeStatus, email string, payload json.RawMessage) error {
	settled, ok, err := env.settle(ctx, id, func(p *model.Prospect) error {
		if err := p.Settle(model.AxisScrape, string(status)); err != nil {
			return err
		}
		if payload != nil {
			p.FinderPayload = payload
		}
		p.LastError = nil
		if p.ContactEmail == nil {
			return p.ReplaceContactEmail(email)
		}
		return nil
	})
	if err != nil || !ok {
		return err
	}
	outcome := model.OutcomeScraped
	if status == model.ScrapeEnriched {
		outcome = model.OutcomeEnriched
	}
	env.record(id, outcome, *settled.ContactEmail, nil)
	return nil
}
