package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/db"
	"github.com/sells-group/outreach-cli/internal/model"
)

// SocialFilter selects social profiles or drafts for a list.
type SocialFilter struct {
	Gate       model.SocialGate
	GateParams model.GateParams
	IDs        []string
	ProfileID  string
	Limit      int
}

const socialProfileColumns = `id, platform, username, full_name, profile_url, followers_count, engagement_score,
	bio, category, location, discovery_job_id, discovery_status, outreach_status, version, created_at, updated_at`

const socialDraftColumns = `id, profile_id, thread_id, sequence_index, draft_subject, draft_body, status,
	platform_message_id, last_error, claim_job_id, sent_at, created_at, updated_at`

func scanSocialProfile(r row) (*model.SocialProfile, error) {
	var p model.SocialProfile
	err := r.Scan(&p.ID, &p.Platform, &p.Username, &p.FullName, &p.ProfileURL, &p.FollowersCount, &p.EngagementScore,
		&p.Bio, &p.Category, &p.Location, &p.DiscoveryJobID, &p.DiscoveryStatus, &p.OutreachStatus, &p.Version,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanSocialDraft(r row) (*model.SocialDraft, error) {
	var d model.SocialDraft
	err := r.Scan(&d.ID, &d.ProfileID, &d.ThreadID, &d.SequenceIndex, &d.Subject, &d.Body, &d.Status,
		&d.PlatformMessageID, &d.LastError, &d.ClaimJobID, &d.SentAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func socialWhere(f SocialFilter, table string) (string, []any) {
	var clauses []string
	var args []any
	if f.Gate != "" {
		p := SocialGatePredicate(f.Gate, f.GateParams)
		if p.Table == table {
			clauses = append(clauses, "("+p.Where+")")
			args = append(args, p.Args...)
		}
	}
	if len(f.IDs) > 0 {
		clauses = append(clauses, "id IN ("+db.Placeholders(len(f.IDs))+")")
		args = append(args, strArgs(f.IDs)...)
	}
	if f.ProfileID != "" && table == tableSocialDrafts {
		clauses = append(clauses, "profile_id = ?")
		args = append(args, f.ProfileID)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (c *core) InsertSocialProfile(ctx context.Context, p *model.SocialProfile) (bool, error) {
	n, err := c.be.exec(ctx, `INSERT INTO social_profiles (`+socialProfileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		p.ID, string(p.Platform), p.Username, p.FullName, p.ProfileURL, p.FollowersCount, p.EngagementScore,
		p.Bio, p.Category, p.Location, p.DiscoveryJobID, string(p.DiscoveryStatus), string(p.OutreachStatus),
		p.Version, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		return false, c.wrap(err, "insert social profile")
	}
	return n == 1, nil
}

func (c *core) GetSocialProfile(ctx context.Context, id string) (*model.SocialProfile, error) {
	p, err := scanSocialProfile(c.be.queryRow(ctx, `SELECT `+socialProfileColumns+` FROM social_profiles WHERE id = ?`, id))
	if errors.Is(err, errNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "social profile %s", id)
	}
	if err != nil {
		return nil, c.wrap(err, "get social profile")
	}
	return p, nil
}

func (c *core) ListSocialProfiles(ctx context.Context, f SocialFilter) ([]model.SocialProfile, error) {
	where, args := socialWhere(f, tableSocialProfiles)
	query := `SELECT ` + socialProfileColumns + ` FROM social_profiles` + where + ` ORDER BY created_at, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rs, err := c.be.query(ctx, query, args...)
	if err != nil {
		return nil, c.wrap(err, "list social profiles")
	}
	defer rs.Close()
	var out []model.SocialProfile
	for rs.Next() {
		p, err := scanSocialProfile(rs)
		if err != nil {
			return nil, c.wrap(err, "scan social profile")
		}
		out = append(out, *p)
	}
	return out, c.wrap(rs.Err(), "list social profiles iterate")
}

func (c *core) UpdateSocialProfile(ctx context.Context, id string, fn func(p *model.SocialProfile) error) (*model.SocialProfile, error) {
	var out *model.SocialProfile
	err := c.inTx(ctx, false, func(q querier) error {
		p, err := scanSocialProfile(q.queryRow(ctx, `SELECT `+socialProfileColumns+` FROM social_profiles WHERE id = ?`, id))
		if errors.Is(err, errNoRows) {
			return eris.Wrapf(ErrNotFound, "social profile %s", id)
		}
		if err != nil {
			return c.wrap(err, "load social profile")
		}
		version := p.Version
		if err := fn(p); err != nil {
			return err
		}
		p.Version = version + 1
		p.UpdatedAt = time.Now().UTC()
		n, err := q.exec(ctx, `UPDATE social_profiles SET
			full_name = ?, followers_count = ?, engagement_score = ?, bio = ?,
			discovery_status = ?, outreach_status = ?, version = ?, updated_at = ?
			WHERE id = ? AND version = ?`,
			p.FullName, p.FollowersCount, p.EngagementScore, p.Bio,
			string(p.DiscoveryStatus), string(p.OutreachStatus), p.Version, p.UpdatedAt,
			id, version)
		if err != nil {
			return c.wrap(err, "update social profile")
		}
		if n == 0 {
			return eris.Wrapf(model.ErrIllegalTransition, "social profile %s changed concurrently", id)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *core) DeleteSocialProfiles(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var deleted int64
	err := c.inTx(ctx, false, func(q querier) error {
		// Profiles already messaged keep their audit trail.
		n, err := q.exec(ctx, `DELETE FROM social_profiles
			WHERE id IN (`+db.Placeholders(len(ids))+`) AND outreach_status = 'PENDING'`,
			strArgs(ids)...)
		if err != nil {
			return c.wrap(err, "delete social profiles")
		}
		deleted = n
		_, err = q.exec(ctx, `DELETE FROM social_drafts
			WHERE profile_id NOT IN (SELECT id FROM social_profiles)`)
		return c.wrap(err, "delete orphan social drafts")
	})
	return int(deleted), err
}

func (c *core) CountSocialGate(ctx context.Context, g model.SocialGate, gp model.GateParams) (int, error) {
	return c.count(ctx, c.be, SocialGatePredicate(g, gp))
}

func (c *core) InsertSocialDraft(ctx context.Context, d *model.SocialDraft) error {
	return c.inTx(ctx, false, func(q querier) error {
		n, err := q.exec(ctx, `INSERT INTO social_drafts (`+socialDraftColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING`,
			d.ID, d.ProfileID, d.ThreadID, d.SequenceIndex, d.Subject, d.Body, string(d.Status),
			d.PlatformMessageID, d.LastError, d.ClaimJobID, tsArg(d.SentAt), d.CreatedAt.UTC(), d.UpdatedAt.UTC())
		if err != nil {
			return c.wrap(err, "insert social draft")
		}
		if n == 0 {
			return eris.Wrapf(ErrDuplicate, "social thread %s sequence %d", d.ThreadID, d.SequenceIndex)
		}
		if d.SequenceIndex > 0 {
			return nil
		}
		n, err = q.exec(ctx, `UPDATE social_profiles SET outreach_status = 'DRAFTED', version = version + 1, updated_at = ?
			WHERE id = ? AND outreach_status = 'PENDING' AND discovery_status = 'QUALIFIED'`,
			time.Now().UTC(), d.ProfileID)
		if err != nil {
			return c.wrap(err, "mark social profile drafted")
		}
		if n == 0 {
			return eris.Wrapf(model.ErrIllegalTransition, "social profile %s is not awaiting a draft", d.ProfileID)
		}
		return nil
	})
}

func (c *core) GetSocialDraft(ctx context.Context, id string) (*model.SocialDraft, error) {
	d, err := scanSocialDraft(c.be.queryRow(ctx, `SELECT `+socialDraftColumns+` FROM social_drafts WHERE id = ?`, id))
	if errors.Is(err, errNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "social draft %s", id)
	}
	if err != nil {
		return nil, c.wrap(err, "get social draft")
	}
	return d, nil
}

func (c *core) ListSocialDrafts(ctx context.Context, f SocialFilter) ([]model.SocialDraft, error) {
	where, args := socialWhere(f, tableSocialDrafts)
	query := `SELECT ` + socialDraftColumns + ` FROM social_drafts` + where + ` ORDER BY created_at, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rs, err := c.be.query(ctx, query, args...)
	if err != nil {
		return nil, c.wrap(err, "list social drafts")
	}
	defer rs.Close()
	var out []model.SocialDraft
	for rs.Next() {
		d, err := scanSocialDraft(rs)
		if err != nil {
			return nil, c.wrap(err, "scan social draft")
		}
		out = append(out, *d)
	}
	return out, c.wrap(rs.Err(), "list social drafts iterate")
}

func (c *core) ClaimSocialDraft(ctx context.Context, id, jobID string) (bool, error) {
	n, err := c.be.exec(ctx, `UPDATE social_drafts SET status = 'sending', claim_job_id = ?, updated_at = ?
		WHERE id = ? AND `+whereSocialSendReady,
		jobID, time.Now().UTC(), id)
	if err != nil {
		return false, c.wrap(err, "claim social draft")
	}
	return n == 1, nil
}

func (c *core) SettleSocialDraft(ctx context.Context, d *model.SocialDraft, msg model.SocialMessage) error {
	if d.Status != model.SocialDraftSent && d.Status != model.SocialDraftFailed {
		return eris.Errorf("store: social draft %s cannot settle as %s", d.ID, d.Status)
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	return c.inTx(ctx, false, func(q querier) error {
		d.UpdatedAt = time.Now().UTC()
		n, err := q.exec(ctx, `UPDATE social_drafts SET status = ?, platform_message_id = ?, last_error = ?,
			sent_at = ?, claim_job_id = NULL, updated_at = ?
			WHERE id = ? AND status = 'sending'`,
			string(d.Status), d.PlatformMessageID, d.LastError, tsArg(d.SentAt), d.UpdatedAt, d.ID)
		if err != nil {
			return c.wrap(err, "settle social draft")
		}
		if n == 0 {
			return eris.Wrapf(model.ErrIllegalTransition, "social draft %s is not sending", d.ID)
		}
		_, err = q.exec(ctx, `INSERT INTO social_messages (id, draft_id, profile_id, job_id, platform, platform_message_id, error, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, msg.DraftID, msg.ProfileID, msg.JobID, string(msg.Platform), msg.PlatformMessageID, msg.Error,
			msg.CreatedAt.UTC())
		if err != nil {
			return c.wrap(err, "insert social message")
		}
		if d.Status != model.SocialDraftSent {
			return nil
		}
		_, err = q.exec(ctx, `UPDATE social_profiles SET outreach_status = 'SENT', version = version + 1, updated_at = ?
			WHERE id = ? AND outreach_status <> 'SENT'`, d.UpdatedAt, d.ProfileID)
		return c.wrap(err, "mark social profile sent")
	})
}

// ReleaseSocialClaims fails every draft a job left in sending. The platform
// may have accepted the message, so the draft is not returned to drafted.
func (c *core) ReleaseSocialClaims(ctx context.Context, jobID string) (int, error) {
	n, err := c.be.exec(ctx, `UPDATE social_drafts
		SET status = 'failed', last_error = ?, claim_job_id = NULL, updated_at = ?
		WHERE claim_job_id = ? AND status = 'sending'`,
		InterruptedReason, time.Now().UTC(), jobID)
	if err != nil {
		return 0, c.wrap(err, "release social claims")
	}
	return int(n), nil
}

// InterruptedReason is recorded on sends abandoned mid-flight.
const InterruptedReason = "interrupted; reconcile with provider log"

func (c *core) SaveSocialDiscoveryJob(ctx context.Context, j *model.SocialDiscoveryJob) error {
	_, err := c.be.exec(ctx, `INSERT INTO social_discovery_jobs
		(id, job_id, platform, category, location, keywords, status, error,
		 results_found, results_saved, results_skipped_duplicate, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
		  status = excluded.status, error = excluded.error,
		  results_found = excluded.results_found, results_saved = excluded.results_saved,
		  results_skipped_duplicate = excluded.results_skipped_duplicate`,
		j.ID, j.JobID, string(j.Platform), j.Category, j.Location, j.Keywords, j.Status, j.Error,
		j.ResultsFound, j.ResultsSaved, j.ResultsSkippedDuplicate, j.CreatedAt.UTC())
	return c.wrap(err, "save social discovery job")
}
