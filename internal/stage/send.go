package stage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/provider"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/pkg/mailer"
)

// send delivers each drafted message once. The attempt is logged in the
// claim transaction before the transport is called, and the transport is
// never retried within the job.
func (x *Executors) send(ctx context.Context, env *Env) error {
	mail := x.Providers.Mail
	if mail == nil {
		return eris.New("send: no mail transport configured")
	}
	return x.batch(ctx, env, model.GateSend, func(ctx context.Context, env *Env, listed *model.Prospect) error {
		return x.sendOne(ctx, env, mail, listed)
	})
}

func (x *Executors) sendOne(ctx context.Context, env *Env, mail provider.MailTransport, listed *model.Prospect) error {
	attempt := &model.SendLogEntry{
		ID:             uuid.New().String(),
		JobID:          env.Job.ID,
		ProspectID:     listed.ID,
		IdempotencyKey: listed.IdempotencyKey(),
		CreatedAt:      env.Now().UTC(),
	}
	claimed, ok, err := env.claim(ctx, listed.ID, model.GateSend, store.SendAttempt(attempt))
	if err != nil || !ok {
		return err
	}
	log := env.Log.With(zap.String("prospect_id", claimed.ID), zap.String("provider", mail.Provider()))

	msg := mailer.Message{
		To:             *claimed.ContactEmail,
		Subject:        *claimed.DraftSubject,
		Body:           *claimed.DraftBody,
		IdempotencyKey: claimed.IdempotencyKey(),
	}
	if claimed.ParentID != nil {
		parent, err := env.Store.GetProspect(ctx, *claimed.ParentID)
		switch {
		case err == nil && parent.MessageID != nil:
			msg.InReplyTo = *parent.MessageID
		case err != nil && !errors.Is(err, store.ErrNotFound):
			env.abandon(ctx, claimed.ID, err)
			return eris.Wrapf(err, "send: load parent of %s", claimed.ID)
		}
	}

	messageID, err := callOnce(ctx, env, mail.Provider(), func(ctx context.Context) (string, error) {
		return mail.Send(ctx, msg)
	})
	if ctx.Err() != nil {
		// The transport may have accepted the message.
		env.abandon(ctx, claimed.ID, ctx.Err())
		return ctx.Err()
	}
	if err != nil {
		log.Warn("send: transport failed", zap.Error(err))
		reason := err.Error()
		_, ok, serr := env.settle(ctx, claimed.ID, func(p *model.Prospect) error {
			return p.Fail(model.AxisSend, reason)
		}, store.SendOutcome(attempt.ID, nil, &reason))
		if serr == nil && ok {
			env.record(claimed.ID, model.OutcomeFailed, "", err)
		}
		return serr
	}

	now := env.Now().UTC()
	_, ok, err = env.settle(ctx, claimed.ID, func(p *model.Prospect) error {
		return p.RecordSent(messageID, now)
	}, store.SendOutcome(attempt.ID, &messageID, nil))
	if err != nil || !ok {
		return err
	}
	log.Info("send: delivered", zap.String("message_id", messageID))
	env.record(claimed.ID, model.OutcomeSent, messageID, nil)
	return nil
}
