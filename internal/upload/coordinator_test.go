package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/maneesh/filedrop/internal/models"
	"github.com/maneesh/filedrop/internal/storage"
	"github.com/maneesh/filedrop/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPartSize = 1024

type fakeTracker struct {
	tracked   []string
	forgotten []string
}

func (f *fakeTracker) TrackSession(ctx context.Context, s *models.UploadSession) error {
	f.tracked = append(f.tracked, s.SessionID)
	return nil
}

func (f *fakeTracker) ForgetSession(ctx context.Context, id string) error {
	f.forgotten = append(f.forgotten, id)
	return nil
}

type fakeLedger struct {
	entries []*models.LedgerEntry
	err     error
}

func (f *fakeLedger) RecordUpload(ctx context.Context, e *models.LedgerEntry) error {
	f.entries = append(f.entries, e)
	return f.err
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCoordinator(backend Backend, opts ...Option) *Coordinator {
	opts = append([]Option{
		WithIdentifierGenerator(func(n uint8) string { return strings.Repeat("A", int(n)) }),
		WithClock(func() time.Time { return fixedNow }),
	}, opts...)
	return NewCoordinator(backend, 8, testPartSize, opts...)
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestUploadFieldMultipart(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	tracker := &fakeTracker{}
	ledger := &fakeLedger{}
	c := newTestCoordinator(backend, WithSessionTracker(tracker), WithLedger(ledger))

	data := payload(3*testPartSize + 17)
	result, err := c.UploadField(context.Background(), 30*time.Minute,
		iotest.OneByteReader(bytes.NewReader(data)), "report.pdf", "application/pdf")
	require.NoError(t, err)

	assert.Equal(t, "AAAAAAAA", result.ObjectKey)
	assert.Equal(t, uint64(len(data)), result.TotalLength)
	assert.Equal(t, "report.pdf", result.FileName)
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.Equal(t, fixedNow.Add(30*time.Minute).Format(http.TimeFormat), result.ExpirationTimestamp)

	obj, ok := backend.Object("AAAAAAAA")
	require.True(t, ok)
	assert.Equal(t, data, obj.Data)
	assert.Equal(t, "report.pdf", obj.Metadata[models.MetadataFileName])
	assert.True(t, obj.Expires.Equal(fixedNow.Add(30*time.Minute)))

	sizes := backend.PartSizes()
	require.Greater(t, len(sizes), 1)
	total := 0
	for i, s := range sizes {
		total += s
		if i < len(sizes)-1 {
			assert.GreaterOrEqual(t, s, testPartSize)
		}
	}
	assert.Equal(t, len(data), total)

	require.Len(t, tracker.tracked, 1)
	assert.Equal(t, tracker.tracked, tracker.forgotten)
	require.Len(t, ledger.entries, 1)
	assert.Equal(t, uint64(len(data)), ledger.entries[0].Size)
}

func TestUploadFieldDefaults(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	c := newTestCoordinator(backend)

	result, err := c.UploadField(context.Background(), time.Hour, strings.NewReader("%PDF-1.4\n%rest"), "", "")
	require.NoError(t, err)

	assert.Equal(t, "unnamed", result.FileName)
	assert.Equal(t, "application/pdf", result.ContentType)
}

func TestUploadFieldEmptyStream(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	c := newTestCoordinator(backend)

	result, err := c.UploadField(context.Background(), time.Hour, bytes.NewReader(nil), "empty.txt", "")
	require.NoError(t, err)

	assert.Equal(t, uint64(0), result.TotalLength)
	assert.Equal(t, "application/octet-stream", result.ContentType)
	assert.Equal(t, []int{0}, backend.PartSizes())

	obj, ok := backend.Object(result.ObjectKey)
	require.True(t, ok)
	assert.Empty(t, obj.Data)
}

func TestUploadFieldAbortsOnPartFailure(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	backend.FailPart = 2
	tracker := &fakeTracker{}
	ledger := &fakeLedger{}
	c := newTestCoordinator(backend, WithSessionTracker(tracker), WithLedger(ledger))

	result, err := c.UploadField(context.Background(), time.Hour, iotest.OneByteReader(bytes.NewReader(payload(3*testPartSize))), "f", "text/plain")
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, storage.IsKind(err, storage.KindBackend))

	assert.Len(t, backend.Aborted(), 1)
	assert.Equal(t, 0, backend.PendingUploads())
	_, stored := backend.Object("AAAAAAAA")
	assert.False(t, stored)
	assert.Equal(t, tracker.tracked, tracker.forgotten)
	assert.Empty(t, ledger.entries)
}

func TestUploadFieldAbortsOnCompleteFailure(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	backend.FailComplete = errors.New("InvalidPart")
	c := newTestCoordinator(backend)

	_, err := c.UploadField(context.Background(), time.Hour, strings.NewReader("abc"), "f", "text/plain")
	require.Error(t, err)
	assert.Len(t, backend.Aborted(), 1)
}

func TestUploadFieldMissingIntegrityToken(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	backend.OmitETag = true
	c := newTestCoordinator(backend)

	_, err := c.UploadField(context.Background(), time.Hour, strings.NewReader("abc"), "f", "text/plain")
	require.Error(t, err)
	assert.True(t, storage.IsKind(err, storage.KindProtocol))
	assert.Len(t, backend.Aborted(), 1)
}

func TestUploadFieldOpenFailure(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	backend.FailOpen = errors.New("no such bucket")
	c := newTestCoordinator(backend)

	_, err := c.UploadField(context.Background(), time.Hour, strings.NewReader("abc"), "f", "")
	require.Error(t, err)
	assert.True(t, storage.IsKind(err, storage.KindBackend))
	assert.Empty(t, backend.Aborted())
}

func TestUploadFieldClientDisconnect(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	c := newTestCoordinator(backend)

	disconnect := errors.New("unexpected EOF")
	field := io.MultiReader(bytes.NewReader(payload(2*testPartSize)), iotest.ErrReader(disconnect))

	_, err := c.UploadField(context.Background(), time.Hour, field, "f", "text/plain")
	require.ErrorIs(t, err, disconnect)
	assert.Len(t, backend.Aborted(), 1)
	_, stored := backend.Object("AAAAAAAA")
	assert.False(t, stored)
}

func TestUploadFieldCancelledContext(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	c := newTestCoordinator(backend)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.UploadField(ctx, time.Hour, strings.NewReader("abc"), "f", "text/plain")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, backend.Aborted(), 1)
}

func TestUploadFieldLedgerFailureIsNotFatal(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	c := newTestCoordinator(backend, WithLedger(&fakeLedger{err: errors.New("db down")}))

	result, err := c.UploadField(context.Background(), time.Hour, strings.NewReader("abc"), "f", "text/plain")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), result.TotalLength)
}
