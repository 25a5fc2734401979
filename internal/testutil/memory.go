// Package testutil provides an in-memory storage backend for tests.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/maneesh/filedrop/internal/chunker"
	"github.com/maneesh/filedrop/internal/models"
	"github.com/maneesh/filedrop/internal/storage"
)

type pendingUpload struct {
	key         string
	contentType string
	metadata    map[string]string
	expires     time.Time
	parts       map[int][]byte
	etags       map[int]string
}

// Object is an object held by MemoryBackend
type Object struct {
	Data        []byte
	ContentType string
	Metadata    map[string]string
	Expires     time.Time
	ETag        string
}

// MemoryBackend implements the multipart protocol and object reads in memory.
// The hook fields let tests inject failures.
type MemoryBackend struct {
	BucketName string

	// FailOpen makes NewMultipartUpload fail with this error
	FailOpen error
	// FailPart makes UploadPart fail for this part number
	FailPart int
	// OmitETag makes UploadPart acknowledge parts without an ETag
	OmitETag bool
	// FailComplete makes CompleteMultipartUpload fail with this error
	FailComplete error
	// FailGet makes GetObject fail with this error
	FailGet error

	mu       sync.Mutex
	nextID   int
	uploads  map[string]*pendingUpload
	objects  map[string]*Object
	aborted  []string
	removed  []string
	partLogs []int
}

// NewMemoryBackend creates an empty backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		BucketName: "test-bucket",
		uploads:    make(map[string]*pendingUpload),
		objects:    make(map[string]*Object),
	}
}

// Bucket returns the bucket name
func (m *MemoryBackend) Bucket() string {
	return m.BucketName
}

// NewMultipartUpload opens a session
func (m *MemoryBackend) NewMultipartUpload(ctx context.Context, key, contentType string, metadata map[string]string, expires time.Time) (string, error) {
	if m.FailOpen != nil {
		return "", storage.BackendError("new_multipart_upload", m.BucketName, key, m.FailOpen)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := fmt.Sprintf("upload-%d", m.nextID)
	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	m.uploads[id] = &pendingUpload{
		key:         key,
		contentType: contentType,
		metadata:    meta,
		expires:     expires,
		parts:       make(map[int][]byte),
		etags:       make(map[int]string),
	}
	return id, nil
}

// UploadPart stores one part
func (m *MemoryBackend) UploadPart(ctx context.Context, key, uploadID string, partNumber int, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", storage.BackendError("upload_part", m.BucketName, key, err)
	}
	if m.FailPart == partNumber {
		return "", storage.BackendError("upload_part", m.BucketName, key, fmt.Errorf("part %d rejected", partNumber))
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	up, ok := m.uploads[uploadID]
	if !ok || up.key != key {
		return "", storage.BackendError("upload_part", m.BucketName, key, fmt.Errorf("no such upload %s", uploadID))
	}
	m.partLogs = append(m.partLogs, len(data))
	if m.OmitETag {
		return "", nil
	}
	etag := fmt.Sprintf("%q", chunker.ComputeHash(data)[:32])
	up.parts[partNumber] = append([]byte(nil), data...)
	up.etags[partNumber] = etag
	return etag, nil
}

// CompleteMultipartUpload assembles the parts into an object. Like S3, it
// rejects parts that are out of order or unknown.
func (m *MemoryBackend) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []models.CompletedPart) error {
	if m.FailComplete != nil {
		return storage.BackendError("complete_multipart_upload", m.BucketName, key, m.FailComplete)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	up, ok := m.uploads[uploadID]
	if !ok || up.key != key {
		return storage.BackendError("complete_multipart_upload", m.BucketName, key, fmt.Errorf("no such upload %s", uploadID))
	}
	if !sort.SliceIsSorted(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber }) {
		return storage.BackendError("complete_multipart_upload", m.BucketName, key, fmt.Errorf("invalid part order"))
	}

	var data bytes.Buffer
	for _, p := range parts {
		if up.etags[p.PartNumber] != p.IntegrityToken {
			return storage.BackendError("complete_multipart_upload", m.BucketName, key, fmt.Errorf("invalid part %d", p.PartNumber))
		}
		data.Write(up.parts[p.PartNumber])
	}

	m.objects[key] = &Object{
		Data:        data.Bytes(),
		ContentType: up.contentType,
		Metadata:    up.metadata,
		Expires:     up.expires,
		ETag:        fmt.Sprintf("%q", fmt.Sprintf("%s-%d", chunker.ComputeHash(data.Bytes())[:32], len(parts))),
	}
	delete(m.uploads, uploadID)
	return nil
}

// AbortMultipartUpload drops a session
func (m *MemoryBackend) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.uploads[uploadID]; !ok {
		return storage.BackendError("abort_multipart_upload", m.BucketName, key, fmt.Errorf("no such upload %s", uploadID))
	}
	delete(m.uploads, uploadID)
	m.aborted = append(m.aborted, uploadID)
	return nil
}

// GetObject returns a stored object
func (m *MemoryBackend) GetObject(ctx context.Context, key string) (*models.StoredObject, error) {
	if m.FailGet != nil {
		return nil, storage.BackendError("get_object", m.BucketName, key, m.FailGet)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}

	length := uint64(len(obj.Data))
	etag := obj.ETag
	stored := &models.StoredObject{
		ContentType:   obj.ContentType,
		ContentLength: &length,
		Metadata:      make(map[string]string),
		Body:          io.NopCloser(bytes.NewReader(obj.Data)),
	}
	if etag != "" {
		stored.ETag = &etag
	}
	if !obj.Expires.IsZero() {
		expires := obj.Expires.UTC().Format(http.TimeFormat)
		stored.ExpirationTimestamp = &expires
	}
	for k, v := range obj.Metadata {
		stored.Metadata[k] = v
	}
	return stored, nil
}

// RemoveObject deletes an object
func (m *MemoryBackend) RemoveObject(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, key)
	m.removed = append(m.removed, key)
	return nil
}

// PutObject stores an object directly
func (m *MemoryBackend) PutObject(key string, obj *Object) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = obj
}

// Object returns the stored object for key
func (m *MemoryBackend) Object(key string) (*Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj, ok
}

// PendingUploads returns the number of open sessions
func (m *MemoryBackend) PendingUploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploads)
}

// Aborted returns the ids of aborted sessions
func (m *MemoryBackend) Aborted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.aborted...)
}

// Removed returns the keys passed to RemoveObject
func (m *MemoryBackend) Removed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.removed...)
}

// PartSizes returns the size of every part received, in arrival order
func (m *MemoryBackend) PartSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.partLogs...)
}
