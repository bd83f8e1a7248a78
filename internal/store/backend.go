package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/db"
)

// errNoRows is the backend-neutral "no row" signal returned by row.Scan.
var errNoRows = eris.New("store: no rows")

type rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

type row interface {
	Scan(dest ...any) error
}

// querier runs '?'-placeholder SQL against a pool or a transaction.
type querier interface {
	exec(ctx context.Context, query string, args ...any) (int64, error)
	query(ctx context.Context, query string, args ...any) (rows, error)
	queryRow(ctx context.Context, query string, args ...any) row
}

type txn interface {
	querier
	commit(ctx context.Context) error
	rollback(ctx context.Context) error
}

type backend interface {
	querier
	begin(ctx context.Context, readOnly bool) (txn, error)
	name() string
}

// --- database/sql (SQLite) ---

type sqlExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlQuerier struct {
	q sqlExecutor
}

func (s sqlQuerier) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s sqlQuerier) query(ctx context.Context, query string, args ...any) (rows, error) {
	r, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{r}, nil
}

func (s sqlQuerier) queryRow(ctx context.Context, query string, args ...any) row {
	return sqlRow{s.q.QueryRowContext(ctx, query, args...)}
}

type sqlRows struct{ *sql.Rows }

func (r sqlRows) Close() { _ = r.Rows.Close() }

type sqlRow struct{ r *sql.Row }

func (r sqlRow) Scan(dest ...any) error {
	err := r.r.Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return errNoRows
	}
	return err
}

type sqlBackend struct {
	sqlQuerier
	db *sql.DB
}

func (b *sqlBackend) name() string { return "sqlite" }

func (b *sqlBackend) begin(ctx context.Context, _ bool) (txn, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqlTxn{sqlQuerier: sqlQuerier{q: tx}, tx: tx}, nil
}

type sqlTxn struct {
	sqlQuerier
	tx *sql.Tx
}

func (t *sqlTxn) commit(context.Context) error { return t.tx.Commit() }

func (t *sqlTxn) rollback(context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// --- pgx (PostgreSQL) ---

type pgxExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgxQuerier struct {
	q pgxExecutor
}

func (p pgxQuerier) exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := p.q.Exec(ctx, db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p pgxQuerier) query(ctx context.Context, query string, args ...any) (rows, error) {
	r, err := p.q.Query(ctx, db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (p pgxQuerier) queryRow(ctx context.Context, query string, args ...any) row {
	return pgxRow{p.q.QueryRow(ctx, db.Rebind(query), args...)}
}

type pgxRow struct{ r pgx.Row }

func (r pgxRow) Scan(dest ...any) error {
	err := r.r.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return errNoRows
	}
	return err
}

type pgxBackend struct {
	pgxQuerier
	pool db.Pool
}

func (b *pgxBackend) name() string { return "postgres" }

func (b *pgxBackend) begin(ctx context.Context, readOnly bool) (txn, error) {
	opts := pgx.TxOptions{}
	if readOnly {
		opts.IsoLevel = pgx.RepeatableRead
		opts.AccessMode = pgx.ReadOnly
	}
	tx, err := b.pool.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &pgxTxn{pgxQuerier: pgxQuerier{q: tx}, tx: tx}, nil
}

type pgxTxn struct {
	pgxQuerier
	tx pgx.Tx
}

func (t *pgxTxn) commit(ctx context.Context) error { return t.tx.Commit(ctx) }

func (t *pgxTxn) rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// core implements Store over either backend. All SQL uses '?' placeholders.
type core struct {
	be backend
}

// inTx runs fn in a transaction, committing when it returns nil.
func (c *core) inTx(ctx context.Context, readOnly bool, fn func(q querier) error) error {
	tx, err := c.be.begin(ctx, readOnly)
	if err != nil {
		return eris.Wrapf(err, "%s: begin", c.be.name())
	}
	defer tx.rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrapf(tx.commit(ctx), "%s: commit", c.be.name())
}

// wrap prefixes err with the backend name, in the "pkg: action" style.
func (c *core) wrap(err error, action string) error {
	if err == nil {
		return nil
	}
	return eris.Wrapf(err, "%s: %s", c.be.name(), action)
}

// jsonArg turns an optional JSON document into a bind argument.
func jsonArg(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// tsArg binds an optional instant in UTC so stored values order as text.
func tsArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func strArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
