package dispatch

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

// Review actions.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
	ActionDelete  = "delete"
	ActionQualify = "qualify"
)

// ReviewResult reports what an operator review did.
type ReviewResult struct {
	Updated int      `json:"updated"`
	Deleted int      `json:"deleted"`
	Skipped []string `json:"skipped"`
}

// approveAllPage is how many pending prospects ApproveAll loads at once.
const approveAllPage = 500

// Approve applies an approval action to website prospects. Prospects whose
// approval is no longer pending are reported as skipped.
func (d *Dispatcher) Approve(ctx context.Context, ids []string, action string) (*ReviewResult, error) {
	if len(ids) == 0 {
		return nil, eris.Wrap(ErrInvalid, "prospect_ids: at least one is required")
	}
	res := &ReviewResult{Skipped: []string{}}
	switch action {
	case ActionDelete:
		n, err := d.store.DeleteProspects(ctx, ids)
		if err != nil {
			return nil, err
		}
		res.Deleted = n
	case ActionApprove, ActionReject:
		for _, id := range ids {
			_, err := d.store.UpdateProspect(ctx, id, func(p *model.Prospect) error {
				if action == ActionApprove {
					return p.Approve()
				}
				return p.Reject()
			})
			switch {
			case err == nil:
				res.Updated++
			case errors.Is(err, model.ErrIllegalTransition), errors.Is(err, store.ErrNotFound):
				res.Skipped = append(res.Skipped, id)
			default:
				return nil, err
			}
		}
	default:
		return nil, eris.Wrapf(ErrInvalid, "action %q is not one of approve, reject, delete", action)
	}
	d.invalidate(ctx)
	zap.L().Info("dispatch: prospects reviewed",
		zap.String("action", action),
		zap.Int("updated", res.Updated),
		zap.Int("deleted", res.Deleted),
		zap.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}

// ApproveAll approves every prospect still pending approval.
func (d *Dispatcher) ApproveAll(ctx context.Context) (*ReviewResult, error) {
	res := &ReviewResult{Skipped: []string{}}
	seen := make(map[string]bool)
	for {
		list, err := d.store.ListProspects(ctx, store.ProspectFilter{
			Approval:    model.ApprovalPending,
			OriginsOnly: true,
			Limit:       approveAllPage,
		})
		if err != nil {
			return nil, err
		}
		progressed := false
		for _, p := range list {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			progressed = true
			_, err := d.store.UpdateProspect(ctx, p.ID, func(p *model.Prospect) error { return p.Approve() })
			switch {
			case err == nil:
				res.Updated++
			case errors.Is(err, model.ErrIllegalTransition), errors.Is(err, store.ErrNotFound):
				res.Skipped = append(res.Skipped, p.ID)
			default:
				return nil, err
			}
		}
		if len(list) < approveAllPage || !progressed {
			break
		}
	}
	d.invalidate(ctx)
	return res, nil
}

// ReplaceContactEmail sets an operator-supplied address. An invalid verdict
// reopens and any draft written for the old address is cleared.
func (d *Dispatcher) ReplaceContactEmail(ctx context.Context, id, email string) (*model.Prospect, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, eris.Wrapf(ErrInvalid, "contact_email %q is not an address", email)
	}
	p, err := d.store.UpdateProspect(ctx, id, func(p *model.Prospect) error {
		return p.ReplaceContactEmail(email)
	})
	if err != nil {
		return nil, err
	}
	d.invalidate(ctx)
	return p, nil
}

// Review applies a review action to social profiles.
func (d *Dispatcher) Review(ctx context.Context, ids []string, action string) (*ReviewResult, error) {
	if len(ids) == 0 {
		return nil, eris.Wrap(ErrInvalid, "profile_ids: at least one is required")
	}
	res := &ReviewResult{Skipped: []string{}}
	switch action {
	case ActionDelete:
		n, err := d.store.DeleteSocialProfiles(ctx, ids)
		if err != nil {
			return nil, err
		}
		res.Deleted = n
	case ActionQualify, ActionReject:
		qualify := action == ActionQualify
		for _, id := range ids {
			_, err := d.store.UpdateSocialProfile(ctx, id, func(p *model.SocialProfile) error {
				return p.Review(qualify)
			})
			switch {
			case err == nil:
				res.Updated++
			case errors.Is(err, model.ErrIllegalTransition), errors.Is(err, store.ErrNotFound):
				res.Skipped = append(res.Skipped, id)
			default:
				return nil, err
			}
		}
	default:
		return nil, eris.Wrapf(ErrInvalid, "action %q is not one of qualify, reject, delete", action)
	}
	d.invalidate(ctx)
	return res, nil
}
