package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var suppressionCfg = UpsertConfig{
	Table:        "suppressions",
	Columns:      []string{"email", "added_at"},
	ConflictKeys: []string{"email"},
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, suppressionCfg, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "suppressions",
		ConflictKeys: []string{"email"},
	}, [][]any{{"a@x.com"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:   "suppressions",
		Columns: []string{"email"},
	}, [][]any{{"a@x.com"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_DoNothing(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_suppressions" \(LIKE "suppressions" INCLUDING DEFAULTS\) ON COMMIT DROP`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_suppressions"}, []string{"email", "added_at"}).
		WillReturnResult(3)
	mock.ExpectExec(`INSERT INTO "suppressions" .* SELECT DISTINCT ON \("email"\) .* ON CONFLICT \("email"\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	rows := [][]any{{"a@x.com", nil}, {"b@x.com", nil}, {"a@x.com", nil}}
	n, err := BulkUpsert(context.Background(), mock, suppressionCfg, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyErrorRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_suppressions"}, []string{"email", "added_at"}).
		WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, suppressionCfg, [][]any{{"a@x.com", nil}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table for suppressions")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildMergeSQL_DoUpdate(t *testing.T) {
	cfg := UpsertConfig{
		Table:        "public.jobs",
		Columns:      []string{"id", "status"},
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"status"},
	}
	got := buildMergeSQL(cfg, "_tmp_upsert_public_jobs")
	assert.Equal(t,
		`INSERT INTO "public"."jobs" ("id", "status") SELECT DISTINCT ON ("id") "id", "status" FROM "_tmp_upsert_public_jobs" ON CONFLICT ("id") DO UPDATE SET "status" = EXCLUDED."status"`,
		got)
}

func TestSanitizeTable(t *testing.T) {
	assert.Equal(t, `"simple"`, sanitizeTable("simple"))
	assert.Equal(t, `"public"."suppressions"`, sanitizeTable("public.suppressions"))
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "name", "value"`, quoteAndJoin([]string{"id", "name", "value"}))
}
