package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-mailer/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var jobColumns = []string{"id", "kind", "status", "payload", "result", "created_at", "updated_at"}

func TestPostgresStore_CreateJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO jobs \(id, kind, status, payload, created_at, updated_at\)`).
		WithArgs(pgxmock.AnyArg(), "prepare", "pending", []byte(`{"tone":"conservative"}`), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job, err := s.CreateJob(context.Background(), model.JobKindPrepare, json.RawMessage(`{"tone":"conservative"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.StatusPending, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, kind, status, payload, result, created_at, updated_at FROM jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows(jobColumns).
			AddRow("job-1", "send", "completed", []byte(`{"prepare_id":"p"}`), []byte(`{"sent":1}`), now, now))

	job, err := s.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobKindSend, job.Kind)
	assert.Equal(t, model.StatusCompleted, job.Status)
	assert.JSONEq(t, `{"sent":1}`, string(job.Result))
	assert.Equal(t, now, job.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM jobs WHERE id = \$1`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetJob(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrJobNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateJobStatus(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET status = \$1, result = COALESCE\(\$2, result\), updated_at = \$3 WHERE id = \$4 AND status = ANY\(\$5\)`).
		WithArgs("completed", []byte(`{"sent":3}`), pgxmock.AnyArg(), "job-1", []string{"pending", "prepared", "queued"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateJobStatus(context.Background(), "job-1", model.StatusCompleted, json.RawMessage(`{"sent":3}`))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateJobStatus_InvalidTransition(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET status`).
		WithArgs("queued", nil, pgxmock.AnyArg(), "job-1", []string{"pending", "prepared"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT status FROM jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("completed"))

	err := s.UpdateJobStatus(context.Background(), "job-1", model.StatusQueued, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Contains(t, err.Error(), "completed -> queued")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateJobStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET status`).
		WithArgs("prepared", pgxmock.AnyArg(), pgxmock.AnyArg(), "missing", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT status FROM jobs WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	err := s.UpdateJobStatus(context.Background(), "missing", model.StatusPrepared, nil)
	assert.True(t, errors.Is(err, ErrJobNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListJobs_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM jobs WHERE kind = \$1 AND status = \$2 ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("send", "completed", 5, 10).
		WillReturnRows(pgxmock.NewRows(jobColumns).
			AddRow("job-2", "send", "completed", []byte(`{}`), nil, now, now))

	jobs, err := s.ListJobs(context.Background(), model.JobFilter{
		Kind: model.JobKindSend, Status: model.StatusCompleted, Limit: 5, Offset: 10,
	})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Nil(t, jobs[0].Result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AddSuppression(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO suppressions \(email, added_at\) VALUES \(\$1, \$2\) ON CONFLICT \(email\) DO NOTHING`).
		WithArgs("x@y.com", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO suppressions`).
		WithArgs("x@y.com", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	added, err := s.AddSuppression(context.Background(), "X@Y.com")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.AddSuppression(context.Background(), "x@y.com ")
	require.NoError(t, err)
	assert.False(t, added)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IsSuppressed(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM suppressions WHERE email = \$1\)`).
		WithArgs("x@y.com").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := s.IsSuppressed(context.Background(), "X@y.com")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IsSuppressed_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("x@y.com").
		WillReturnError(errors.New("connection reset"))

	_, err := s.IsSuppressed(context.Background(), "x@y.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "check suppression")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AddSuppressions_UsesCopy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_suppressions"}, []string{"email", "added_at"}).WillReturnResult(2)
	mock.ExpectExec(`ON CONFLICT \("email"\) DO NOTHING`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := s.AddSuppressions(context.Background(), []string{"A@x.com", "a@x.com", "b@x.com"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordDeliveryFailure(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO delivery_failures`).
		WithArgs(pgxmock.AnyArg(), "job-1", "c@x.com", "smtp 550", "permanent", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.RecordDeliveryFailure(context.Background(), model.DeliveryFailure{
		JobID: "job-1", Email: "c@x.com", Reason: "smtp 550", ErrorType: "permanent",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS jobs`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectPing()

	require.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
