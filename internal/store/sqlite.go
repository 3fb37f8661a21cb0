package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/lead-mailer/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", withBusyTimeout(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	payload    TEXT NOT NULL,
	result     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS suppressions (
	email    TEXT PRIMARY KEY,
	added_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS delivery_failures (
	id         TEXT PRIMARY KEY,
	job_id     TEXT NOT NULL REFERENCES jobs(id),
	email      TEXT NOT NULL,
	reason     TEXT NOT NULL,
	error_type TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_kind_created ON jobs(kind, created_at);
CREATE INDEX IF NOT EXISTS idx_delivery_failures_job_id ON delivery_failures(job_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, kind model.JobKind, payload json.RawMessage) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, kind, status, payload, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(kind), string(model.StatusPending), string(payload), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
	}

	return &model.Job{
		ID:        id,
		Kind:      kind,
		Status:    model.StatusPending,
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, status, payload, result, created_at, updated_at FROM jobs WHERE id = ?`, id,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrJobNotFound, "sqlite: get job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return job, nil
}

// UpdateJobStatus applies the transition with a single conditional UPDATE so
// concurrent writers cannot move a job backward.
func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, id string, status model.JobStatus, result json.RawMessage) error {
	preds := statusStrings(model.Predecessors(status))
	if len(preds) > 0 {
		args := []any{string(status), nullString(result), time.Now().UTC(), id}
		for _, p := range preds {
			args = append(args, p)
		}
		query := `UPDATE jobs SET status = ?, result = COALESCE(?, result), updated_at = ? WHERE id = ? AND status IN (` +
			placeholders(len(preds)) + `)`

		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return eris.Wrapf(err, "sqlite: update job status %s", id)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return eris.Wrap(err, "sqlite: rows affected")
		}
		if n > 0 {
			return nil
		}
	}
	return s.transitionFailure(ctx, id, status)
}

func (s *SQLiteStore) transitionFailure(ctx context.Context, id string, to model.JobStatus) error {
	var current string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrJobNotFound, "sqlite: update job %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: load job status %s", id)
	}
	return eris.Wrapf(ErrInvalidTransition, "job %s: %s -> %s", id, current, to)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter model.JobFilter) ([]model.Job, error) {
	query := `SELECT id, kind, status, payload, result, created_at, updated_at FROM jobs`
	var conds []string
	var args []any
	if filter.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, listLimit(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close() //nolint:errcheck

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: iterate jobs")
}

func (s *SQLiteStore) AddSuppression(ctx context.Context, email string) (bool, error) {
	key := NormalizeEmail(email)
	if key == "" {
		return false, ErrEmptyEmail
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO suppressions (email, added_at) VALUES (?, ?) ON CONFLICT(email) DO NOTHING`,
		key, time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: add suppression %s", key)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) AddSuppressions(ctx context.Context, emails []string) (int64, error) {
	keys := normalizeAll(emails)
	if len(keys) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin suppression import")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO suppressions (email, added_at) VALUES (?, ?) ON CONFLICT(email) DO NOTHING`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare suppression import")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	var added int64
	for _, key := range keys {
		res, err := stmt.ExecContext(ctx, key, now)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: import suppression %s", key)
		}
		n, _ := res.RowsAffected()
		added += n
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit suppression import")
	}
	return added, nil
}

func (s *SQLiteStore) IsSuppressed(ctx context.Context, email string) (bool, error) {
	key := NormalizeEmail(email)
	if key == "" {
		return false, nil
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM suppressions WHERE email = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: check suppression %s", key)
	}
	return true, nil
}

func (s *SQLiteStore) ListSuppressions(ctx context.Context, limit, offset int) ([]model.Suppression, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT email, added_at FROM suppressions ORDER BY added_at DESC, email LIMIT ? OFFSET ?`,
		listLimit(limit), offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list suppressions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Suppression
	for rows.Next() {
		var sup model.Suppression
		if err := rows.Scan(&sup.Email, &sup.AddedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan suppression")
		}
		out = append(out, sup)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate suppressions")
}

func (s *SQLiteStore) RecordDeliveryFailure(ctx context.Context, f model.DeliveryFailure) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_failures (id, job_id, email, reason, error_type, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.JobID, f.Email, f.Reason, f.ErrorType, f.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: record delivery failure for job %s", f.JobID)
}

func (s *SQLiteStore) ListDeliveryFailures(ctx context.Context, jobID string) ([]model.DeliveryFailure, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, email, reason, error_type, created_at FROM delivery_failures WHERE job_id = ? ORDER BY created_at, id`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list delivery failures")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.DeliveryFailure
	for rows.Next() {
		var f model.DeliveryFailure
		if err := rows.Scan(&f.ID, &f.JobID, &f.Email, &f.Reason, &f.ErrorType, &f.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan delivery failure")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate delivery failures")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.Job, error) {
	var j model.Job
	var kind, status, payload string
	var result sql.NullString

	if err := row.Scan(&j.ID, &kind, &status, &payload, &result, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Kind = model.JobKind(kind)
	j.Status = model.JobStatus(status)
	j.Payload = json.RawMessage(payload)
	if result.Valid {
		j.Result = json.RawMessage(result.String)
	}
	return &j, nil
}

// withBusyTimeout sets busy_timeout on every pooled connection, not just the
// one that runs the PRAGMA below.
func withBusyTimeout(dsn string) string {
	if strings.Contains(dsn, "busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)"
}

func nullString(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
