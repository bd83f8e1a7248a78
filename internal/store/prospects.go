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

// maxCASAttempts bounds how often UpdateProspect reloads after losing a
// version race before reporting the row as contended.
const maxCASAttempts = 3

var errVersionConflict = eris.New("store: version conflict")

const prospectColumns = `id, domain, page_url, page_title,
	discovery_category, discovery_location, discovery_keywords, discovery_query_id,
	contact_email, draft_subject, draft_body, final_body,
	thread_id, sequence_index, parent_id, message_id,
	discovery_status, approval_status, scrape_status, verification_status, draft_status, send_status,
	verification_score, verification_payload, finder_payload, last_error,
	claim_job_id, claim_axis, claim_prev_status,
	followups_sent, last_sent, version, created_at, updated_at`

const selectProspects = `SELECT ` + prospectColumns + `,
	EXISTS (SELECT 1 FROM replies r WHERE r.thread_id = prospects.thread_id) AS replied
	FROM prospects`

func scanProspect(r row) (*model.Prospect, error) {
	var p model.Prospect
	var verificationPayload, finderPayload []byte
	var claimAxis *string
	if err := r.Scan(
		&p.ID, &p.Domain, &p.PageURL, &p.PageTitle,
		&p.DiscoveryCategory, &p.DiscoveryLocation, &p.DiscoveryKeywords, &p.DiscoveryQueryID,
		&p.ContactEmail, &p.DraftSubject, &p.DraftBody, &p.FinalBody,
		&p.ThreadID, &p.SequenceIndex, &p.ParentID, &p.MessageID,
		&p.DiscoveryStatus, &p.ApprovalStatus, &p.ScrapeStatus, &p.VerificationStatus, &p.DraftStatus, &p.SendStatus,
		&p.VerificationScore, &verificationPayload, &finderPayload, &p.LastError,
		&p.ClaimJobID, &claimAxis, &p.ClaimPrevStatus,
		&p.FollowupsSent, &p.LastSent, &p.Version, &p.CreatedAt, &p.UpdatedAt,
		&p.Replied,
	); err != nil {
		return nil, err
	}
	if len(verificationPayload) > 0 {
		p.VerificationPayload = verificationPayload
	}
	if len(finderPayload) > 0 {
		p.FinderPayload = finderPayload
	}
	if claimAxis != nil {
		a := model.Axis(*claimAxis)
		p.ClaimAxis = &a
	}
	return &p, nil
}

func scanProspects(rs rows) ([]model.Prospect, error) {
	defer rs.Close()
	var out []model.Prospect
	for rs.Next() {
		p, err := scanProspect(rs)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rs.Err()
}

func claimAxisArg(p *model.Prospect) any {
	if p.ClaimAxis == nil {
		return nil
	}
	return string(*p.ClaimAxis)
}

func insertProspect(ctx context.Context, q querier, p *model.Prospect) (int64, error) {
	return q.exec(ctx, `INSERT INTO prospects (`+prospectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		p.ID, p.Domain, p.PageURL, p.PageTitle,
		p.DiscoveryCategory, p.DiscoveryLocation, p.DiscoveryKeywords, p.DiscoveryQueryID,
		p.ContactEmail, p.DraftSubject, p.DraftBody, p.FinalBody,
		p.ThreadID, p.SequenceIndex, p.ParentID, p.MessageID,
		string(p.DiscoveryStatus), string(p.ApprovalStatus), string(p.ScrapeStatus),
		string(p.VerificationStatus), string(p.DraftStatus), string(p.SendStatus),
		p.VerificationScore, jsonArg(p.VerificationPayload), jsonArg(p.FinderPayload), p.LastError,
		p.ClaimJobID, claimAxisArg(p), p.ClaimPrevStatus,
		p.FollowupsSent, tsArg(p.LastSent), p.Version, p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
}

func (c *core) InsertProspect(ctx context.Context, p *model.Prospect) (bool, error) {
	if err := p.Validate(); err != nil {
		return false, err
	}
	n, err := insertProspect(ctx, c.be, p)
	if err != nil {
		return false, c.wrap(err, "insert prospect")
	}
	return n == 1, nil
}

func (c *core) GetProspect(ctx context.Context, id string) (*model.Prospect, error) {
	p, err := scanProspect(c.be.queryRow(ctx, selectProspects+` WHERE id = ?`, id))
	if errors.Is(err, errNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "prospect %s", id)
	}
	if err != nil {
		return nil, c.wrap(err, "get prospect")
	}
	return p, nil
}

func (c *core) UpdateProspect(ctx context.Context, id string, fn func(p *model.Prospect) error, artifacts ...Artifact) (*model.Prospect, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		p, err := c.tryUpdateProspect(ctx, id, fn, artifacts)
		if errors.Is(err, errVersionConflict) {
			continue
		}
		return p, err
	}
	return nil, eris.Wrapf(model.ErrIllegalTransition, "prospect %s: lost %d version races", id, maxCASAttempts)
}

func (c *core) tryUpdateProspect(ctx context.Context, id string, fn func(p *model.Prospect) error, artifacts []Artifact) (*model.Prospect, error) {
	var out *model.Prospect
	err := c.inTx(ctx, false, func(q querier) error {
		p, err := scanProspect(q.queryRow(ctx, selectProspects+` WHERE id = ?`, id))
		if errors.Is(err, errNoRows) {
			return eris.Wrapf(ErrNotFound, "prospect %s", id)
		}
		if err != nil {
			return c.wrap(err, "load prospect")
		}
		version := p.Version
		if err := fn(p); err != nil {
			return err
		}
		if err := p.Validate(); err != nil {
			return err
		}
		p.Version = version + 1
		p.UpdatedAt = time.Now().UTC()

		n, err := q.exec(ctx, `UPDATE prospects SET
			contact_email = ?, draft_subject = ?, draft_body = ?, final_body = ?,
			thread_id = ?, sequence_index = ?, message_id = ?,
			approval_status = ?, scrape_status = ?, verification_status = ?, draft_status = ?, send_status = ?,
			verification_score = ?, verification_payload = ?, finder_payload = ?, last_error = ?,
			claim_job_id = ?, claim_axis = ?, claim_prev_status = ?,
			followups_sent = ?, last_sent = ?, version = ?, updated_at = ?
			WHERE id = ? AND version = ?`,
			p.ContactEmail, p.DraftSubject, p.DraftBody, p.FinalBody,
			p.ThreadID, p.SequenceIndex, p.MessageID,
			string(p.ApprovalStatus), string(p.ScrapeStatus), string(p.VerificationStatus),
			string(p.DraftStatus), string(p.SendStatus),
			p.VerificationScore, jsonArg(p.VerificationPayload), jsonArg(p.FinderPayload), p.LastError,
			p.ClaimJobID, claimAxisArg(p), p.ClaimPrevStatus,
			p.FollowupsSent, tsArg(p.LastSent), p.Version, p.UpdatedAt,
			id, version,
		)
		if err != nil {
			if db.IsUniqueViolation(err) {
				return eris.Wrapf(ErrDuplicate, "prospect %s", id)
			}
			return c.wrap(err, "update prospect")
		}
		if n == 0 {
			return errVersionConflict
		}
		for _, a := range artifacts {
			if err := a.write(ctx, q); err != nil {
				return c.wrap(err, "write artifact")
			}
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// prospectWhere builds the WHERE clause and args of a prospect filter.
func prospectWhere(f ProspectFilter) (string, []any) {
	var clauses []string
	var args []any
	if f.Gate != "" {
		p := GatePredicate(f.Gate, f.GateParams)
		clauses = append(clauses, "("+p.Where+")")
		args = append(args, p.Args...)
	}
	if len(f.IDs) > 0 {
		clauses = append(clauses, "id IN ("+db.Placeholders(len(f.IDs))+")")
		args = append(args, strArgs(f.IDs)...)
	}
	if f.Approval != "" {
		clauses = append(clauses, "approval_status = ?")
		args = append(args, string(f.Approval))
	}
	if f.OriginsOnly {
		clauses = append(clauses, "sequence_index = 0")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (c *core) ListProspects(ctx context.Context, f ProspectFilter) ([]model.Prospect, error) {
	where, args := prospectWhere(f)
	query := selectProspects + where + ` ORDER BY created_at, id`
	listArgs := args
	if f.Limit > 0 {
		query += ` LIMIT ?`
		listArgs = append(append([]any{}, args...), f.Limit)
		if f.Offset > 0 {
			query += ` OFFSET ?`
			listArgs = append(listArgs, f.Offset)
		}
	}

	var out []model.Prospect
	err := c.inTx(ctx, true, func(q querier) error {
		rs, err := q.query(ctx, query, listArgs...)
		if err != nil {
			return c.wrap(err, "list prospects")
		}
		out, err = scanProspects(rs)
		if err != nil {
			return c.wrap(err, "scan prospects")
		}
		if f.Gate == "" || len(out) > 0 || f.Offset > 0 {
			return nil
		}
		var count int
		if err := q.queryRow(ctx, `SELECT COUNT(*) FROM prospects`+where, args...).Scan(&count); err != nil {
			return c.wrap(err, "count gate")
		}
		if count > 0 {
			return &DataIntegrityError{Gate: string(f.Gate), Count: count, Rows: len(out)}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *core) CountGate(ctx context.Context, g model.Gate, gp model.GateParams) (int, error) {
	return c.count(ctx, c.be, GatePredicate(g, gp))
}

func (c *core) count(ctx context.Context, q querier, p Predicate) (int, error) {
	var n int
	err := q.queryRow(ctx, `SELECT COUNT(*) FROM `+p.Table+` WHERE `+p.Where, p.Args...).Scan(&n)
	if err != nil {
		return 0, c.wrap(err, "count "+p.Table)
	}
	return n, nil
}

func (c *core) DeleteProspects(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := c.be.exec(ctx, `DELETE FROM prospects
		WHERE id IN (`+db.Placeholders(len(ids))+`)
		AND thread_id IS NULL AND claim_job_id IS NULL AND send_status = 'NOT_SENT'`,
		strArgs(ids)...)
	if err != nil {
		return 0, c.wrap(err, "delete prospects")
	}
	return int(n), nil
}

func (c *core) ListClaimed(ctx context.Context, jobID string) ([]model.Prospect, error) {
	rs, err := c.be.query(ctx, selectProspects+` WHERE claim_job_id = ? ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, c.wrap(err, "list claimed")
	}
	out, err := scanProspects(rs)
	return out, c.wrap(err, "scan claimed")
}

func (c *core) ExistingDomains(ctx context.Context, domains []string) (map[string]bool, map[string]bool, error) {
	existing := make(map[string]bool)
	sent := make(map[string]bool)
	if len(domains) == 0 {
		return existing, sent, nil
	}
	rs, err := c.be.query(ctx, `SELECT domain, thread_id IS NOT NULL FROM prospects
		WHERE sequence_index = 0 AND domain IN (`+db.Placeholders(len(domains))+`)`,
		strArgs(domains)...)
	if err != nil {
		return nil, nil, c.wrap(err, "existing domains")
	}
	defer rs.Close()
	for rs.Next() {
		var domain string
		var contacted bool
		if err := rs.Scan(&domain, &contacted); err != nil {
			return nil, nil, c.wrap(err, "scan existing domain")
		}
		existing[domain] = true
		if contacted {
			sent[domain] = true
		}
	}
	return existing, sent, c.wrap(rs.Err(), "existing domains iterate")
}

func (c *core) InsertFollowUp(ctx context.Context, child *model.Prospect) error {
	if err := child.Validate(); err != nil {
		return err
	}
	if child.ThreadID == nil || child.SequenceIndex < 1 {
		return eris.Errorf("store: follow-up %s has no thread position", child.ID)
	}
	return c.inTx(ctx, false, func(q querier) error {
		n, err := insertProspect(ctx, q, child)
		if err != nil {
			return c.wrap(err, "insert follow-up")
		}
		if n == 0 {
			return eris.Wrapf(ErrDuplicate, "thread %s sequence %d", *child.ThreadID, child.SequenceIndex)
		}
		_, err = q.exec(ctx, `UPDATE prospects
			SET followups_sent = followups_sent + 1, version = version + 1, updated_at = ?
			WHERE thread_id = ? AND sequence_index = 0`,
			time.Now().UTC(), *child.ThreadID)
		return c.wrap(err, "count follow-up")
	})
}

// SendAttempt records an outbound attempt before the transport is called.
func SendAttempt(e *model.SendLogEntry) Artifact { return sendAttempt{e} }

type sendAttempt struct{ e *model.SendLogEntry }

func (a sendAttempt) write(ctx context.Context, q querier) error {
	if a.e.ID == "" {
		a.e.ID = uuid.New().String()
	}
	_, err := q.exec(ctx, `INSERT INTO send_log (id, job_id, prospect_id, idempotency_key, message_id, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.e.ID, a.e.JobID, a.e.ProspectID, a.e.IdempotencyKey, a.e.MessageID, a.e.Error, a.e.CreatedAt.UTC())
	return err
}

// SendOutcome completes the send log row opened by SendAttempt.
func SendOutcome(id string, messageID, errMsg *string) Artifact {
	return sendOutcome{id: id, messageID: messageID, errMsg: errMsg}
}

type sendOutcome struct {
	id        string
	messageID *string
	errMsg    *string
}

func (o sendOutcome) write(ctx context.Context, q querier) error {
	_, err := q.exec(ctx, `UPDATE send_log SET message_id = ?, error = ? WHERE id = ?`, o.messageID, o.errMsg, o.id)
	return err
}

func (c *core) ListSendLog(ctx context.Context, prospectID string) ([]model.SendLogEntry, error) {
	rs, err := c.be.query(ctx, `SELECT id, job_id, prospect_id, idempotency_key, message_id, error, created_at
		FROM send_log WHERE prospect_id = ? ORDER BY created_at, id`, prospectID)
	if err != nil {
		return nil, c.wrap(err, "list send log")
	}
	defer rs.Close()
	var out []model.SendLogEntry
	for rs.Next() {
		var e model.SendLogEntry
		if err := rs.Scan(&e.ID, &e.JobID, &e.ProspectID, &e.IdempotencyKey, &e.MessageID, &e.Error, &e.CreatedAt); err != nil {
			return nil, c.wrap(err, "scan send log")
		}
		out = append(out, e)
	}
	return out, c.wrap(rs.Err(), "send log iterate")
}

func (c *core) RecordReply(ctx context.Context, r model.Reply) error {
	_, err := c.be.exec(ctx, `INSERT INTO replies (thread_id, received_at) VALUES (?, ?)`, r.ThreadID, r.ReceivedAt.UTC())
	return c.wrap(err, "record reply")
}

func (c *core) SaveDiscoveryQuery(ctx context.Context, q *model.DiscoveryQuery) error {
	_, err := c.be.exec(ctx, `INSERT INTO discovery_queries
		(id, job_id, keyword, location, category, status, error,
		 results_found, results_saved, results_skipped_duplicate, results_skipped_existing, results_filtered, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
		  status = excluded.status, error = excluded.error,
		  results_found = excluded.results_found, results_saved = excluded.results_saved,
		  results_skipped_duplicate = excluded.results_skipped_duplicate,
		  results_skipped_existing = excluded.results_skipped_existing,
		  results_filtered = excluded.results_filtered`,
		q.ID, q.JobID, q.Keyword, q.Location, q.Category, q.Status, q.Error,
		q.ResultsFound, q.ResultsSaved, q.ResultsSkippedDuplicate, q.ResultsSkippedExisting, q.ResultsFiltered,
		q.CreatedAt.UTC())
	return c.wrap(err, "save discovery query")
}

func (c *core) ListDiscoveryQueries(ctx context.Context, jobID string) ([]model.DiscoveryQuery, error) {
	rs, err := c.be.query(ctx, `SELECT id, job_id, keyword, location, category, status, error,
		results_found, results_saved, results_skipped_duplicate, results_skipped_existing, results_filtered, created_at
		FROM discovery_queries WHERE job_id = ? ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, c.wrap(err, "list discovery queries")
	}
	defer rs.Close()
	var out []model.DiscoveryQuery
	for rs.Next() {
		var q model.DiscoveryQuery
		if err := rs.Scan(&q.ID, &q.JobID, &q.Keyword, &q.Location, &q.Category, &q.Status, &q.Error,
			&q.ResultsFound, &q.ResultsSaved, &q.ResultsSkippedDuplicate, &q.ResultsSkippedExisting, &q.ResultsFiltered,
			&q.CreatedAt); err != nil {
			return nil, c.wrap(err, "scan discovery query")
		}
		out = append(out, q)
	}
	return out, c.wrap(rs.Err(), "discovery queries iterate")
}

// Snapshot runs fn against one read transaction.
func (c *core) Snapshot(ctx context.Context, fn func(Counter) error) error {
	return c.inTx(ctx, true, func(q querier) error {
		return fn(txCounter{c: c, q: q})
	})
}

type txCounter struct {
	c *core
	q querier
}

func (t txCounter) Count(ctx context.Context, p Predicate) (int, error) {
	return t.c.count(ctx, t.q, p)
}
