package stage

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/provider"
)

var verdictOutcomes = map[model.VerificationStatus]model.Outcome{
	model.VerificationVerified: model.OutcomeVerified,
	model.VerificationRisky:    model.OutcomeRisky,
	model.VerificationInvalid:  model.OutcomeInvalid,
}

// verify classifies each contact address. Verification has no failure
// state: a failed call returns the prospect to its previous verdict with
// the error recorded.
func (x *Executors) verify(ctx context.Context, env *Env) error {
	verifier := x.Providers.Verifier
	if verifier == nil {
		return eris.New("verify: no email verifier configured")
	}
	return x.batch(ctx, env, model.GateVerify, func(ctx context.Context, env *Env, listed *model.Prospect) error {
		claimed, ok, err := env.claim(ctx, listed.ID, model.GateVerify)
		if err != nil || !ok {
			return err
		}
		email := *claimed.ContactEmail
		v, err := call(ctx, env, verifier.Provider(), func(ctx context.Context) (*provider.Verdict, error) {
			return verifier.Verify(ctx, email)
		})
		if ctx.Err() != nil {
			env.abandon(ctx, claimed.ID, ctx.Err())
			return ctx.Err()
		}
		if err != nil {
			env.Log.Warn("verify: call failed", zap.String("prospect_id", claimed.ID), zap.Error(err))
			reason := err.Error()
			_, ok, serr := env.settle(ctx, claimed.ID, func(p *model.Prospect) error {
				if err := p.Release(); err != nil {
					return err
				}
				p.LastError = &reason
				return nil
			})
			if serr == nil && ok {
				env.record(claimed.ID, model.OutcomeFailed, "", err)
			}
			return serr
		}

		status := v.Status()
		_, ok, err = env.settle(ctx, claimed.ID, func(p *model.Prospect) error {
			if err := p.RecordVerdict(status, v.Score, v.Payload); err != nil {
				return err
			}
			p.LastError = nil
			return nil
		})
		if err == nil && ok {
			env.record(claimed.ID, verdictOutcomes[status], email, nil)
		}
		return err
	})
}
