package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maneesh/filedrop/internal/models"
	"github.com/maneesh/filedrop/internal/storage"
)

// ErrSessionClosed is returned when a completed or aborted session is used again
var ErrSessionClosed = errors.New("upload session already closed")

// Backend is the multipart-upload protocol of the storage backend
type Backend interface {
	Bucket() string
	NewMultipartUpload(ctx context.Context, key, contentType string, metadata map[string]string, expires time.Time) (string, error)
	UploadPart(ctx context.Context, key, uploadID string, partNumber int, data []byte) (string, error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []models.CompletedPart) error
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
}

type sessionState int

const (
	stateOpen sessionState = iota
	stateCompleted
	stateAborted
)

// Session drives one multipart upload: open, upload parts in order, then
// complete or abort. It is not safe for concurrent use.
type Session struct {
	backend Backend
	info    models.UploadSession
	state   sessionState
}

// Open starts a multipart upload for key
func Open(ctx context.Context, backend Backend, key, contentType string, metadata map[string]string, expires time.Time) (*Session, error) {
	sessionID, err := backend.NewMultipartUpload(ctx, key, contentType, metadata, expires)
	if err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, storage.ProtocolError("new_multipart_upload", backend.Bucket(), key, "failed to get upload id")
	}

	return &Session{
		backend: backend,
		info: models.UploadSession{
			SessionID:   sessionID,
			ObjectKey:   key,
			Bucket:      backend.Bucket(),
			PartCounter: 1,
			StartedAt:   time.Now(),
		},
	}, nil
}

// Info returns a snapshot of the session
func (s *Session) Info() models.UploadSession {
	info := s.info
	info.Parts = append([]models.CompletedPart(nil), s.info.Parts...)
	return info
}

// UploadPart sends data as the next part and records its integrity token
func (s *Session) UploadPart(ctx context.Context, data []byte) (models.CompletedPart, error) {
	if s.state != stateOpen {
		return models.CompletedPart{}, ErrSessionClosed
	}

	partNumber := s.info.PartCounter
	token, err := s.backend.UploadPart(ctx, s.info.ObjectKey, s.info.SessionID, partNumber, data)
	if err != nil {
		return models.CompletedPart{}, err
	}
	if token == "" {
		return models.CompletedPart{}, storage.ProtocolError("upload_part", s.info.Bucket, s.info.ObjectKey,
			fmt.Sprintf("failed to get etag from upload part %d", partNumber))
	}

	part := models.CompletedPart{PartNumber: partNumber, IntegrityToken: token}
	s.info.Parts = append(s.info.Parts, part)
	s.info.PartCounter++
	return part, nil
}

// Complete submits the recorded parts. Parts must run 1..n without gaps.
func (s *Session) Complete(ctx context.Context) error {
	if s.state != stateOpen {
		return ErrSessionClosed
	}
	if err := checkPartOrder(s.info.Parts); err != nil {
		return storage.ProtocolError("complete_multipart_upload", s.info.Bucket, s.info.ObjectKey, err.Error())
	}

	if err := s.backend.CompleteMultipartUpload(ctx, s.info.ObjectKey, s.info.SessionID, s.info.Parts); err != nil {
		return err
	}
	s.state = stateCompleted
	return nil
}

// Abort discards the session and every part uploaded under it
func (s *Session) Abort(ctx context.Context) error {
	if s.state != stateOpen {
		return ErrSessionClosed
	}
	if err := s.backend.AbortMultipartUpload(ctx, s.info.ObjectKey, s.info.SessionID); err != nil {
		return err
	}
	s.state = stateAborted
	return nil
}

func checkPartOrder(parts []models.CompletedPart) error {
	if len(parts) == 0 {
		return errors.New("no parts to complete")
	}
	for i, p := range parts {
		if p.PartNumber != i+1 {
			return fmt.Errorf("part %d at position %d: parts must be ascending from 1 without gaps", p.PartNumber, i+1)
		}
	}
	return nil
}
