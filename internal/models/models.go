package models

import (
	"io"
	"time"
)

// MetadataFileName is the user metadata key carrying the original file name
const MetadataFileName = "file_name"

// UploadSession tracks one in-flight multipart upload
type UploadSession struct {
	SessionID   string          `json:"session_id"`
	ObjectKey   string          `json:"object_key"`
	Bucket      string          `json:"bucket"`
	Parts       []CompletedPart `json:"parts,omitempty"`
	PartCounter int             `json:"part_counter"`
	StartedAt   time.Time       `json:"started_at"`
}

// CompletedPart is a part acknowledged by the backend
type CompletedPart struct {
	PartNumber     int    `json:"part_number"`
	IntegrityToken string `json:"integrity_token"`
}

// UploadResult summarises one stored file
type UploadResult struct {
	ObjectKey           string `json:"id"`
	TotalLength         uint64 `json:"length"`
	FileName            string `json:"file_name"`
	ContentType         string `json:"content_type"`
	ExpirationTimestamp string `json:"expiration_date"`
}

// StoredObject is an object fetched for retrieval. Body can be read once.
type StoredObject struct {
	ContentType         string
	ETag                *string
	ContentLength       *uint64
	ExpirationTimestamp *string
	Metadata            map[string]string
	Body                io.ReadCloser
}

// FileName returns the original file name recorded at upload time
func (o *StoredObject) FileName() (string, bool) {
	name, ok := o.Metadata[MetadataFileName]
	return name, ok && name != ""
}

// LedgerEntry is the ledger row for a completed upload
type LedgerEntry struct {
	ID          string    `json:"id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        uint64    `json:"size"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}
