package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-mailer/internal/db"
	"github.com/sells-group/lead-mailer/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	kind       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	payload    JSONB NOT NULL,
	result     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS suppressions (
	email    TEXT PRIMARY KEY,
	added_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS delivery_failures (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	job_id     TEXT NOT NULL REFERENCES jobs(id),
	email      TEXT NOT NULL,
	reason     TEXT NOT NULL,
	error_type TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_kind_created ON jobs(kind, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_delivery_failures_job_id ON delivery_failures(job_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, kind model.JobKind, payload json.RawMessage) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, kind, status, payload, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, string(kind), string(model.StatusPending), []byte(payload), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
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

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	job, err := scanPgJob(s.pool.QueryRow(ctx,
		`SELECT id, kind, status, payload, result, created_at, updated_at FROM jobs WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrJobNotFound, "postgres: get job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return job, nil
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id string, status model.JobStatus, result json.RawMessage) error {
	preds := statusStrings(model.Predecessors(status))
	if len(preds) > 0 {
		tag, err := s.pool.Exec(ctx,
			`UPDATE jobs SET status = $1, result = COALESCE($2, result), updated_at = $3 WHERE id = $4 AND status = ANY($5)`,
			string(status), nullBytes(result), time.Now().UTC(), id, preds,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: update job status %s", id)
		}
		if tag.RowsAffected() > 0 {
			return nil
		}
	}

	var current string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrJobNotFound, "postgres: update job %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: load job status %s", id)
	}
	return eris.Wrapf(ErrInvalidTransition, "job %s: %s -> %s", id, current, status)
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter model.JobFilter) ([]model.Job, error) {
	query := `SELECT id, kind, status, payload, result, created_at, updated_at FROM jobs`
	var conds []string
	var args []any
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		conds = append(conds, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, listLimit(filter.Limit), filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanPgJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: iterate jobs")
}

func (s *PostgresStore) AddSuppression(ctx context.Context, email string) (bool, error) {
	key := NormalizeEmail(email)
	if key == "" {
		return false, ErrEmptyEmail
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO suppressions (email, added_at) VALUES ($1, $2) ON CONFLICT (email) DO NOTHING`,
		key, time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: add suppression %s", key)
	}
	return tag.RowsAffected() > 0, nil
}

// AddSuppressions bulk-loads addresses through COPY; existing entries are kept.
func (s *PostgresStore) AddSuppressions(ctx context.Context, emails []string) (int64, error) {
	keys := normalizeAll(emails)
	now := time.Now().UTC()
	rows := make([][]any, len(keys))
	for i, k := range keys {
		rows[i] = []any{k, now}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "suppressions",
		Columns:      []string{"email", "added_at"},
		ConflictKeys: []string{"email"},
	}, rows)
	return n, eris.Wrap(err, "postgres: import suppressions")
}

func (s *PostgresStore) IsSuppressed(ctx context.Context, email string) (bool, error) {
	key := NormalizeEmail(email)
	if key == "" {
		return false, nil
	}
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM suppressions WHERE email = $1)`, key).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: check suppression %s", key)
	}
	return exists, nil
}

func (s *PostgresStore) ListSuppressions(ctx context.Context, limit, offset int) ([]model.Suppression, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT email, added_at FROM suppressions ORDER BY added_at DESC, email LIMIT $1 OFFSET $2`,
		listLimit(limit), offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list suppressions")
	}
	defer rows.Close()

	var out []model.Suppression
	for rows.Next() {
		var sup model.Suppression
		if err := rows.Scan(&sup.Email, &sup.AddedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan suppression")
		}
		out = append(out, sup)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate suppressions")
}

func (s *PostgresStore) RecordDeliveryFailure(ctx context.Context, f model.DeliveryFailure) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO delivery_failures (id, job_id, email, reason, error_type, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		f.ID, f.JobID, f.Email, f.Reason, f.ErrorType, f.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: record delivery failure for job %s", f.JobID)
}

func (s *PostgresStore) ListDeliveryFailures(ctx context.Context, jobID string) ([]model.DeliveryFailure, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, email, reason, error_type, created_at FROM delivery_failures WHERE job_id = $1 ORDER BY created_at, id`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list delivery failures")
	}
	defer rows.Close()

	var out []model.DeliveryFailure
	for rows.Next() {
		var f model.DeliveryFailure
		if err := rows.Scan(&f.ID, &f.JobID, &f.Email, &f.Reason, &f.ErrorType, &f.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan delivery failure")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate delivery failures")
}

func scanPgJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var kind, status string
	var payload, result []byte

	if err := row.Scan(&j.ID, &kind, &status, &payload, &result, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Kind = model.JobKind(kind)
	j.Status = model.JobStatus(status)
	j.Payload = json.RawMessage(payload)
	if result != nil {
		j.Result = json.RawMessage(result)
	}
	return &j, nil
}

func nullBytes(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
