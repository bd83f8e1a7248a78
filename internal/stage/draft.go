package stage

import (
	"context"
	"errors"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/prompt"
	"github.com/sells-group/outreach-cli/internal/provider"
	"github.com/sells-group/outreach-cli/internal/store"
)

// draft composes the first message to each prospect. The prompt is built
// from the claimed row, so an address replaced before the claim is the one
// the body is written for.
func (x *Executors) draft(ctx context.Context, env *Env) error {
	llm := x.Providers.LLM
	if llm == nil {
		return eris.New("draft: no LLM configured")
	}
	return x.batch(ctx, env, model.GateDraft, func(ctx context.Context, env *Env, listed *model.Prospect) error {
		claimed, ok, err := env.claim(ctx, listed.ID, model.GateDraft)
		if err != nil || !ok {
			return err
		}
		req := provider.ComposeRequest{
			Template: prompt.Draft,
			Vars:     prompt.ProspectVars(claimed, nil),
			Stage:    string(model.JobDraft),
		}
		out, err := call(ctx, env, llm.Provider(), func(ctx context.Context) (*provider.Composed, error) {
			return llm.Compose(ctx, req)
		})
		if ctx.Err() != nil {
			env.abandon(ctx, claimed.ID, ctx.Err())
			return ctx.Err()
		}
		if err != nil {
			env.Log.Warn("draft: compose failed", zap.String("prospect_id", claimed.ID), zap.Error(err))
			reason := err.Error()
			_, ok, serr := env.settle(ctx, claimed.ID, func(p *model.Prospect) error {
				return p.Fail(model.AxisDraft, reason)
			})
			if serr == nil && ok {
				env.record(claimed.ID, model.OutcomeFailed, "", err)
			}
			return serr
		}

		drafted, ok, err := env.settle(ctx, claimed.ID, func(p *model.Prospect) error {
			return p.RecordDraft(out.Subject, out.Body)
		})
		if err != nil || !ok {
			return err
		}
		env.record(claimed.ID, model.OutcomeDrafted, out.Subject, nil)
		env.chainSend(ctx, drafted)
		return nil
	})
}

// chainSend enqueues a send for a fresh draft when email_trigger_mode is
// automatic. A refused send is logged, not recorded against the draft.
func (e *Env) chainSend(ctx context.Context, p *model.Prospect) {
	if e.Trigger == nil || e.current.EmailTriggerMode != model.EmailTriggerAutomatic || !p.SendReady() {
		return
	}
	if err := e.Trigger.TriggerSend(ctx, p.ID); err != nil {
		e.Log.Info("draft: automatic send not enqueued", zap.String("prospect_id", p.ID), zap.Error(err))
	}
}

// followup drafts the next message of every thread whose latest send is
// past the cool-off. The new row joins the thread already drafted; sending
// it is the send stage's job.
func (x *Executors) followup(ctx context.Context, env *Env) error {
	llm := x.Providers.LLM
	if llm == nil {
		return eris.New("follow-up: no LLM configured")
	}
	return x.batch(ctx, env, model.GateFollowup, func(ctx context.Context, env *Env, parent *model.Prospect) error {
		history, err := threadHistory(ctx, env.Store, parent)
		if err != nil {
			return err
		}
		// Another follow-up job may have drafted this thread since listing.
		if ok, err := env.recheck(ctx, parent.ID, model.GateFollowup); err != nil || !ok {
			return err
		}
		req := provider.ComposeRequest{
			Template: prompt.Followup,
			Vars:     prompt.ProspectVars(parent, history),
			Stage:    string(model.JobFollowup),
		}
		out, err := call(ctx, env, llm.Provider(), func(ctx context.Context) (*provider.Composed, error) {
			return llm.Compose(ctx, req)
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			env.Log.Warn("follow-up: compose failed", zap.String("prospect_id", parent.ID), zap.Error(err))
			env.record(parent.ID, model.OutcomeFailed, "", err)
			return nil
		}

		child, err := model.NewFollowUp(parent, out.Subject, out.Body, env.Now().UTC())
		if err != nil {
			env.record(parent.ID, model.OutcomeSkippedRace, "", err)
			return nil
		}
		switch err := env.Store.InsertFollowUp(ctx, child); {
		case errors.Is(err, store.ErrDuplicate):
			env.record(parent.ID, model.OutcomeSkippedRace, "thread already has a successor", err)
			return nil
		case err != nil:
			return eris.Wrapf(err, "follow-up: insert for %s", parent.ID)
		}
		env.record(child.ID, model.OutcomeDrafted, "follow-up of "+parent.ID, nil)
		env.chainSend(ctx, child)
		return nil
	})
}

// threadHistory walks the parent links of p back to the first message and
// returns the thread oldest first, p included.
func threadHistory(ctx context.Context, st store.ProspectStore, p *model.Prospect) ([]model.Prospect, error) {
	history := []model.Prospect{*p}
	cur := p
	for i := 0; cur.ParentID != nil && i < p.SequenceIndex; i++ {
		parent, err := st.GetProspect(ctx, *cur.ParentID)
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "follow-up: load thread of %s", p.ID)
		}
		history = append(history, *parent)
		cur = parent
	}
	slices.Reverse(history)
	return history, nil
}
