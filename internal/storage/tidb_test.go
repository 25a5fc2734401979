package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/maneesh/filedrop/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockTiDB(t *testing.T) (*TiDBClient, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &TiDBClient{db: db}, mock
}

func TestRecordUpload(t *testing.T) {
	tc, mock := newMockTiDB(t)
	expires := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	created := expires.Add(-time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO uploads")).
		WithArgs("abcd1234", "a.pdf", "application/pdf", uint64(42), expires, created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := tc.RecordUpload(context.Background(), &models.LedgerEntry{
		ID:          "abcd1234",
		FileName:    "a.pdf",
		ContentType: "application/pdf",
		Size:        42,
		ExpiresAt:   expires,
		CreatedAt:   created,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordUploadError(t *testing.T) {
	tc, mock := newMockTiDB(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO uploads")).WillReturnError(errors.New("duplicate key"))

	err := tc.RecordUpload(context.Background(), &models.LedgerEntry{ID: "x"})
	assert.ErrorContains(t, err, "failed to insert upload")
}

func TestExpiredUploads(t *testing.T) {
	tc, mock := newMockTiDB(t)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "file_name", "content_type", "size", "expires_at", "created_at"}).
		AddRow("a", "one.txt", "text/plain", uint64(1), now.Add(-2*time.Hour), now.Add(-3*time.Hour)).
		AddRow("b", "two.bin", "application/octet-stream", uint64(2), now.Add(-time.Hour), now.Add(-3*time.Hour))

	mock.ExpectQuery(regexp.QuoteMeta("FROM uploads")).
		WithArgs(now, 50).
		WillReturnRows(rows)

	entries, err := tc.ExpiredUploads(context.Background(), now, 50)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].ID)
	assert.Equal(t, "two.bin", entries[1].FileName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPurged(t *testing.T) {
	tc, mock := newMockTiDB(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE uploads SET purged = TRUE WHERE id = ?")).
		WithArgs("a").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, tc.MarkPurged(context.Background(), "a"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	tc, mock := newMockTiDB(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS uploads")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, tc.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
