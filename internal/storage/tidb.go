package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/maneesh/filedrop/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const uploadsSchema = `CREATE TABLE IF NOT EXISTS uploads (
	id           VARCHAR(255) PRIMARY KEY,
	file_name    VARCHAR(1024) NOT NULL,
	content_type VARCHAR(255) NOT NULL,
	size         BIGINT UNSIGNED NOT NULL,
	expires_at   DATETIME NOT NULL,
	created_at   DATETIME NOT NULL,
	purged       BOOLEAN NOT NULL DEFAULT FALSE,
	INDEX idx_uploads_expiry (purged, expires_at)
)`

// TiDBClient records completed uploads so expired objects can be purged
type TiDBClient struct {
	db *sql.DB
}

// NewTiDBClient initializes a new TiDB client
func NewTiDBClient(dsn string) (*TiDBClient, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &TiDBClient{db: db}, nil
}

// Close closes the database connection
func (tc *TiDBClient) Close() error {
	return tc.db.Close()
}

// EnsureSchema creates the uploads table if it is missing
func (tc *TiDBClient) EnsureSchema(ctx context.Context) error {
	if _, err := tc.db.ExecContext(ctx, uploadsSchema); err != nil {
		return fmt.Errorf("failed to create uploads table: %w", err)
	}
	return nil
}

// RecordUpload inserts a ledger row for a completed upload
func (tc *TiDBClient) RecordUpload(ctx context.Context, entry *models.LedgerEntry) error {
	ctx, span := tracer.Start(ctx, "tidb.record_upload",
		trace.WithAttributes(
			attribute.String("object_key", entry.ID),
			attribute.String("file_name", entry.FileName),
			attribute.Int64("file_size", int64(entry.Size)),
		),
	)
	defer span.End()

	query := `INSERT INTO uploads (id, file_name, content_type, size, expires_at, created_at)
			  VALUES (?, ?, ?, ?, ?, ?)`

	_, err := tc.db.ExecContext(ctx, query,
		entry.ID, entry.FileName, entry.ContentType, entry.Size,
		entry.ExpiresAt.UTC(), entry.CreatedAt.UTC(),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert upload: %w", err)
	}

	span.SetAttributes(attribute.Bool("insert_success", true))
	return nil
}

// ExpiredUploads returns up to limit unpurged uploads that expired before now
func (tc *TiDBClient) ExpiredUploads(ctx context.Context, now time.Time, limit int) ([]*models.LedgerEntry, error) {
	ctx, span := tracer.Start(ctx, "tidb.expired_uploads")
	defer span.End()

	query := `SELECT id, file_name, content_type, size, expires_at, created_at
			  FROM uploads
			  WHERE purged = FALSE AND expires_at < ?
			  ORDER BY expires_at ASC
			  LIMIT ?`

	rows, err := tc.db.QueryContext(ctx, query, now.UTC(), limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query expired uploads: %w", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		var entry models.LedgerEntry
		err := rows.Scan(
			&entry.ID,
			&entry.FileName,
			&entry.ContentType,
			&entry.Size,
			&entry.ExpiresAt,
			&entry.CreatedAt,
		)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan upload: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating uploads: %w", err)
	}

	span.SetAttributes(attribute.Int("expired_count", len(entries)))
	return entries, nil
}

// MarkPurged flags an upload whose object was removed from storage
func (tc *TiDBClient) MarkPurged(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "tidb.mark_purged",
		trace.WithAttributes(
			attribute.String("object_key", id),
		),
	)
	defer span.End()

	_, err := tc.db.ExecContext(ctx, `UPDATE uploads SET purged = TRUE WHERE id = ?`, id)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to mark upload purged: %w", err)
	}
	return nil
}
