package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/db"
	"github.com/sells-group/outreach-cli/internal/model"
)

const jobColumns = `id, job_type, status, scope_key, params, result, error_message, created_at, started_at, completed_at`

func scanJob(r row) (*model.Job, error) {
	var j model.Job
	var params, result []byte
	if err := r.Scan(&j.ID, &j.Type, &j.Status, &j.ScopeKey, &params, &result, &j.ErrorMessage,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt); err != nil {
		return nil, err
	}
	if len(params) > 0 {
		j.Params = json.RawMessage(params)
	}
	if len(result) > 0 {
		j.Result = &model.JobResult{}
		if err := json.Unmarshal(result, j.Result); err != nil {
			return nil, eris.Wrapf(err, "store: unmarshal result of job %s", j.ID)
		}
	}
	return &j, nil
}

func (c *core) CreateJob(ctx context.Context, j *model.Job) error {
	if j.Status == "" {
		j.Status = model.JobPending
	}
	if j.ScopeKey == "" {
		j.ScopeKey = "*"
	}
	_, err := c.be.exec(ctx, `INSERT INTO jobs (id, job_type, status, scope_key, params, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		j.ID, string(j.Type), string(j.Status), j.ScopeKey, jsonArg(j.Params), j.CreatedAt.UTC())
	if err != nil {
		if db.IsUniqueViolation(err) {
			return eris.Wrapf(ErrActiveJob, "%s scope %s", j.Type, j.ScopeKey)
		}
		return c.wrap(err, "insert job")
	}
	return nil
}

func (c *core) GetJob(ctx context.Context, id string) (*model.Job, error) {
	j, err := scanJob(c.be.queryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, errNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "job %s", id)
	}
	if err != nil {
		return nil, c.wrap(err, "get job")
	}
	return j, nil
}

func (c *core) ListJobs(ctx context.Context, f JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var clauses []string
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "job_type = ?")
		args = append(args, string(f.Type))
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rs, err := c.be.query(ctx, query, args...)
	if err != nil {
		return nil, c.wrap(err, "list jobs")
	}
	defer rs.Close()
	var out []model.Job
	for rs.Next() {
		j, err := scanJob(rs)
		if err != nil {
			return nil, c.wrap(err, "scan job")
		}
		out = append(out, *j)
	}
	return out, c.wrap(rs.Err(), "list jobs iterate")
}

func (c *core) StartJob(ctx context.Context, id string, now time.Time) (bool, error) {
	n, err := c.be.exec(ctx, `UPDATE jobs SET status = 'running', started_at = ?
		WHERE id = ? AND status = 'pending'`, now.UTC(), id)
	if err != nil {
		return false, c.wrap(err, "start job")
	}
	return n == 1, nil
}

func (c *core) FinishJob(ctx context.Context, id string, status model.JobStatus, result *model.JobResult, errMsg string, now time.Time) (model.JobStatus, error) {
	if !status.Finished() {
		return "", eris.Errorf("store: %s is not a final job status", status)
	}
	var resultJSON []byte
	if result != nil {
		var err error
		if resultJSON, err = json.Marshal(result); err != nil {
			return "", eris.Wrap(err, "store: marshal job result")
		}
	}
	var errArg *string
	if errMsg != "" {
		errArg = &errMsg
	}

	final := status
	err := c.inTx(ctx, false, func(q querier) error {
		n, err := q.exec(ctx, `UPDATE jobs SET status = ?, result = ?, error_message = ?, completed_at = ?
			WHERE id = ? AND status IN ('pending', 'running')`,
			string(status), jsonArg(resultJSON), errArg, now.UTC(), id)
		if err != nil {
			return c.wrap(err, "finish job")
		}
		if n == 1 {
			return nil
		}
		// Cancelled while running: keep the status, record what was done.
		n, err = q.exec(ctx, `UPDATE jobs SET result = ?, error_message = COALESCE(error_message, ?)
			WHERE id = ? AND status = 'cancelled'`,
			jsonArg(resultJSON), errArg, id)
		if err != nil {
			return c.wrap(err, "record cancelled job result")
		}
		if n == 1 {
			final = model.JobCancelled
			return nil
		}
		var current string
		if err := q.queryRow(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&current); err != nil {
			if errors.Is(err, errNoRows) {
				return eris.Wrapf(ErrNotFound, "job %s", id)
			}
			return c.wrap(err, "read job status")
		}
		final = model.JobStatus(current)
		return nil
	})
	return final, err
}

func (c *core) CancelJob(ctx context.Context, id string, now time.Time) (bool, error) {
	n, err := c.be.exec(ctx, `UPDATE jobs SET status = 'cancelled', completed_at = ?
		WHERE id = ? AND status IN ('pending', 'running')`, now.UTC(), id)
	if err != nil {
		return false, c.wrap(err, "cancel job")
	}
	if n == 1 {
		return true, nil
	}
	if _, err := c.GetJob(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (c *core) HasActiveJob(ctx context.Context, jobType model.JobType, scopeKey string) (bool, error) {
	var n int
	err := c.be.queryRow(ctx, `SELECT COUNT(*) FROM jobs
		WHERE job_type = ? AND scope_key = ? AND status IN ('pending', 'running')`,
		string(jobType), scopeKey).Scan(&n)
	if err != nil {
		return false, c.wrap(err, "has active job")
	}
	return n > 0, nil
}
