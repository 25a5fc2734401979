// Package upload turns one inbound form field into a stored object by
// driving the backend's multipart-upload protocol.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/maneesh/filedrop/internal/chunker"
	"github.com/maneesh/filedrop/internal/ident"
	"github.com/maneesh/filedrop/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("filedrop-upload")

const (
	defaultFileName    = "unnamed"
	defaultContentType = "application/octet-stream"

	// cleanupTimeout bounds abort and bookkeeping calls made after the
	// request context may already be cancelled.
	cleanupTimeout = 30 * time.Second
)

// SessionTracker records open sessions so a crashed process leaves a trail
type SessionTracker interface {
	TrackSession(ctx context.Context, session *models.UploadSession) error
	ForgetSession(ctx context.Context, sessionID string) error
}

// Ledger records completed uploads
type Ledger interface {
	RecordUpload(ctx context.Context, entry *models.LedgerEntry) error
}

// Coordinator uploads form fields to the backend
type Coordinator struct {
	backend  Backend
	sessions SessionTracker
	ledger   Ledger
	idLength uint8
	partSize int
	generate func(uint8) string
	now      func() time.Time
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithSessionTracker registers every opened session with tracker
func WithSessionTracker(tracker SessionTracker) Option {
	return func(c *Coordinator) { c.sessions = tracker }
}

// WithLedger records every completed upload in ledger
func WithLedger(ledger Ledger) Option {
	return func(c *Coordinator) { c.ledger = ledger }
}

// WithIdentifierGenerator replaces the identifier source
func WithIdentifierGenerator(generate func(uint8) string) Option {
	return func(c *Coordinator) { c.generate = generate }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator creates a coordinator storing objects through backend
func NewCoordinator(backend Backend, idLength uint8, partSize int, opts ...Option) *Coordinator {
	c := &Coordinator{
		backend:  backend,
		idLength: idLength,
		partSize: partSize,
		generate: ident.Generate,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UploadField stores the bytes of field under a fresh identifier that expires
// after duration. On any failure the multipart session is aborted and no
// result is returned.
func (c *Coordinator) UploadField(ctx context.Context, duration time.Duration, field io.Reader, fileName, contentType string) (result *models.UploadResult, err error) {
	id := c.generate(c.idLength)
	expires := c.now().Add(duration)
	if fileName == "" {
		fileName = defaultFileName
	}

	ctx, span := tracer.Start(ctx, "upload_field",
		trace.WithAttributes(
			attribute.String("object_key", id),
			attribute.String("file_name", fileName),
		),
	)
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
	}()

	parts := chunker.NewPartBuffer(field, c.partSize)

	// The first part is read before the session opens so a missing content
	// type can be sniffed from it.
	first, err := parts.NextPart()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	contentType = resolveContentType(contentType, first)
	span.SetAttributes(attribute.String("content_type", contentType))

	log.Printf("Uploading field: %s (ID: %s, type: %s)", fileName, id, contentType)

	session, err := Open(ctx, c.backend, id, contentType,
		map[string]string{models.MetadataFileName: fileName}, expires)
	if err != nil {
		return nil, fmt.Errorf("failed to open upload session: %w", err)
	}
	c.track(ctx, session)

	defer func() {
		if err != nil {
			c.abort(ctx, session)
		}
	}()

	var length uint64
	part := first
	for {
		if _, err = session.UploadPart(ctx, part); err != nil {
			return nil, fmt.Errorf("failed to upload part: %w", err)
		}
		length += uint64(len(part))

		part, err = parts.NextPart()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, err
		}
	}

	if err = session.Complete(ctx); err != nil {
		return nil, fmt.Errorf("failed to complete upload: %w", err)
	}
	c.forget(ctx, session)

	info := session.Info()
	span.SetAttributes(
		attribute.Int64("file_size", int64(length)),
		attribute.Int("part_count", len(info.Parts)),
	)

	result = &models.UploadResult{
		ObjectKey:           id,
		TotalLength:         length,
		FileName:            fileName,
		ContentType:         contentType,
		ExpirationTimestamp: expires.UTC().Format(http.TimeFormat),
	}
	c.record(ctx, result, expires)

	log.Printf("Upload completed: %s (ID: %s, %d bytes in %d parts)", fileName, id, length, len(info.Parts))
	return result, nil
}

func resolveContentType(hint string, sample []byte) string {
	if hint != "" {
		return hint
	}
	if len(sample) > 0 {
		return mimetype.Detect(sample).String()
	}
	return defaultContentType
}

func (c *Coordinator) abort(ctx context.Context, session *Session) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	info := session.Info()
	if err := session.Abort(ctx); err != nil {
		log.Printf("Warning: failed to abort upload session %s (ID: %s): %v", info.SessionID, info.ObjectKey, err)
		return
	}
	log.Printf("Aborted upload session %s (ID: %s) after %d parts", info.SessionID, info.ObjectKey, len(info.Parts))
	c.forget(ctx, session)
}

func (c *Coordinator) track(ctx context.Context, session *Session) {
	if c.sessions == nil {
		return
	}
	info := session.Info()
	if err := c.sessions.TrackSession(ctx, &info); err != nil {
		log.Printf("Warning: failed to track upload session %s: %v", info.SessionID, err)
	}
}

func (c *Coordinator) forget(ctx context.Context, session *Session) {
	if c.sessions == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	info := session.Info()
	if err := c.sessions.ForgetSession(ctx, info.SessionID); err != nil {
		log.Printf("Warning: failed to forget upload session %s: %v", info.SessionID, err)
	}
}

func (c *Coordinator) record(ctx context.Context, result *models.UploadResult, expires time.Time) {
	if c.ledger == nil {
		return
	}
	entry := &models.LedgerEntry{
		ID:          result.ObjectKey,
		FileName:    result.FileName,
		ContentType: result.ContentType,
		Size:        result.TotalLength,
		ExpiresAt:   expires,
		CreatedAt:   c.now(),
	}
	if err := c.ledger.RecordUpload(ctx, entry); err != nil {
		log.Printf("Warning: failed to record upload %s: %v", result.ObjectKey, err)
	}
}
