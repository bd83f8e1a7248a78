package stage

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/provider"
	"github.com/sells-group/outreach-cli/internal/store"
)

// DefaultMaxResults is the SERP page size when a discover job names none.
const DefaultMaxResults = 10

// discover runs one SERP search per category × location pair. A failed
// search is recorded on its query row and the job moves on.
func (x *Executors) discover(ctx context.Context, env *Env) error {
	serp := x.Providers.SERP
	if serp == nil {
		return eris.New("discover: no SERP provider configured")
	}
	var dp model.DiscoverParams
	if err := env.Job.DecodeParams(&dp); err != nil {
		return err
	}
	pageSize := dp.MaxResults
	if pageSize <= 0 {
		pageSize = DefaultMaxResults
	}

	for _, category := range dp.Categories {
		for _, location := range dp.Locations {
			if err := env.Checkpoint(ctx); err != nil {
				return err
			}
			q := model.NewDiscoveryQuery(env.Job.ID, category, location, dp.Keywords, env.Now().UTC())
			if err := x.runQuery(ctx, env, serp, q, dp.Keywords, pageSize); err != nil {
				return err
			}
		}
	}
	return nil
}

func (x *Executors) runQuery(ctx context.Context, env *Env, serp provider.SERP, q *model.DiscoveryQuery, keywords string, pageSize int) error {
	log := env.Log.With(zap.String("query_id", q.ID), zap.String("keyword", q.Keyword), zap.String("location", q.Location))
	env.Result.Queries = append(env.Result.Queries, q.ID)

	results, err := call(ctx, env, serp.Provider(), func(ctx context.Context) ([]provider.SearchResult, error) {
		return serp.Search(ctx, q.Keyword, q.Location, pageSize)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("discover: search failed", zap.Error(err))
		q.Status = model.QueryFailed
		q.Error = strPtr(err.Error())
		env.record(q.ID, model.OutcomeFailed, "search failed", err)
		return eris.Wrap(env.Store.SaveDiscoveryQuery(ctx, q), "discover: save failed query")
	}
	q.ResultsFound = len(results)
	// The query row must exist before prospects reference it.
	q.Status = model.QueryCompleted
	if err := env.Store.SaveDiscoveryQuery(ctx, q); err != nil {
		return eris.Wrap(err, "discover: save query")
	}

	domains := make([]string, 0, len(results))
	for _, r := range results {
		if d := model.NormalizeDomain(r.URL); d != "" {
			domains = append(domains, d)
		}
	}
	existing, contacted, err := env.Store.ExistingDomains(ctx, domains)
	if err != nil {
		return eris.Wrap(err, "discover: existing domains")
	}

	seen := make(map[string]bool, len(results))
	for _, r := range results {
		domain := model.NormalizeDomain(r.URL)
		switch {
		case domain == "":
			q.ResultsFiltered++
			continue
		case contacted[domain]:
			q.ResultsSkippedExisting++
			env.record(domain, model.OutcomeDuplicate, "already contacted", nil)
			continue
		case existing[domain] || seen[domain]:
			q.ResultsSkippedDuplicate++
			env.record(domain, model.OutcomeDuplicate, "", nil)
			continue
		}
		seen[domain] = true

		p := model.NewProspect(domain, r.URL, r.Title, env.Now().UTC())
		p.DiscoveryCategory = q.Category
		p.DiscoveryLocation = q.Location
		p.DiscoveryKeywords = keywords
		p.DiscoveryQueryID = &q.ID
		created, err := env.Store.InsertProspect(ctx, p)
		if err != nil && !errors.Is(err, store.ErrDuplicate) {
			return eris.Wrapf(err, "discover: insert %s", domain)
		}
		if !created {
			q.ResultsSkippedDuplicate++
			env.record(domain, model.OutcomeDuplicate, "", nil)
			continue
		}
		q.ResultsSaved++
		env.record(p.ID, model.OutcomeCreated, domain, nil)
	}

	log.Info("discover: query complete",
		zap.Int("found", q.ResultsFound),
		zap.Int("saved", q.ResultsSaved),
		zap.Int("skipped_duplicate", q.ResultsSkippedDuplicate),
		zap.Int("skipped_existing", q.ResultsSkippedExisting),
	)
	return eris.Wrap(env.Store.SaveDiscoveryQuery(ctx, q), "discover: save query counts")
}
