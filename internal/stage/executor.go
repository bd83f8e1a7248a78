package stage

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/provider"
)

// Func runs one job. It returns nil when the batch completed, ErrCancelled
// when it stopped at a checkpoint, and any other error when the job must
// fail.
type Func func(ctx context.Context, env *Env) error

// Executors builds the executor of every job type from the collaborators.
type Executors struct {
	Providers provider.Set
	BatchSize int
}

// For returns the executor of jobType.
func (x *Executors) For(jobType model.JobType) (Func, error) {
	switch jobType {
	case model.JobDiscover:
		return x.discover, nil
	case model.JobScrape:
		return x.scrape, nil
	case model.JobEnrich:
		return x.enrich, nil
	case model.JobVerify:
		return x.verify, nil
	case model.JobDraft:
		return x.draft, nil
	case model.JobSend:
		return x.send, nil
	case model.JobFollowup:
		return x.followup, nil
	case model.JobSocialDiscover:
		return x.socialDiscover, nil
	case model.JobSocialDraft:
		return x.socialDraft, nil
	case model.JobSocialSend:
		return x.socialSend, nil
	case model.JobSocialFollowup:
		return x.socialFollowup, nil
	}
	return nil, eris.Errorf("stage: no executor for job type %q", jobType)
}

// batchParams decodes the job params and runs the first checkpoint.
func batchParams(ctx context.Context, env *Env) (model.BatchParams, error) {
	var bp model.BatchParams
	if err := env.Job.DecodeParams(&bp); err != nil {
		return bp, err
	}
	return bp, env.Checkpoint(ctx)
}

// itemFunc processes one listed prospect. It returns an error only when the
// job must stop.
type itemFunc func(ctx context.Context, env *Env, listed *model.Prospect) error

// batch runs fn over the gate's targets with a checkpoint between items.
func (x *Executors) batch(ctx context.Context, env *Env, g model.Gate, fn itemFunc) error {
	bp, err := batchParams(ctx, env)
	if err != nil {
		return err
	}
	list, err := env.targets(ctx, g, bp, x.BatchSize)
	if err != nil {
		return err
	}
	for i := range list {
		if i > 0 {
			if err := env.Checkpoint(ctx); err != nil {
				return err
			}
		}
		if err := fn(ctx, env, &list[i]); err != nil {
			return err
		}
	}
	return nil
}
