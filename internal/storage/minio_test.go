package storage

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoredObjectFromHeader(t *testing.T) {
	header := http.Header{}
	header.Set("Content-Type", "application/pdf")
	header.Set("ETag", `"9b2cf535f27731c974343645a3985328"`)
	header.Set("Content-Length", "1024")
	header.Set("Expires", "Tue, 03 Mar 2026 10:00:00 GMT")
	header.Set("X-Amz-Meta-File_name", "a.pdf")

	obj := storedObjectFromHeader(header, io.NopCloser(strings.NewReader("")))

	assert.Equal(t, "application/pdf", obj.ContentType)
	require.NotNil(t, obj.ETag)
	assert.Equal(t, `"9b2cf535f27731c974343645a3985328"`, *obj.ETag)
	require.NotNil(t, obj.ContentLength)
	assert.Equal(t, uint64(1024), *obj.ContentLength)
	require.NotNil(t, obj.ExpirationTimestamp)

	name, ok := obj.FileName()
	assert.True(t, ok)
	assert.Equal(t, "a.pdf", name)
}

func TestStoredObjectFromHeaderMissingFields(t *testing.T) {
	obj := storedObjectFromHeader(http.Header{}, io.NopCloser(strings.NewReader("")))

	assert.Empty(t, obj.ContentType)
	assert.Nil(t, obj.ETag)
	assert.Nil(t, obj.ContentLength)
	assert.Nil(t, obj.ExpirationTimestamp)
	_, ok := obj.FileName()
	assert.False(t, ok)
}

func TestErrorKinds(t *testing.T) {
	cause := errors.New("connection refused")

	be := BackendError("upload_part", "bucket", "key", cause)
	assert.True(t, IsKind(be, KindBackend))
	assert.False(t, IsKind(be, KindProtocol))
	assert.ErrorIs(t, be, cause)
	assert.Equal(t, "backend error: storage.upload_part bucket/key: connection refused", be.Error())

	pe := ProtocolError("new_multipart_upload", "bucket", "", "failed to get upload id")
	assert.True(t, IsKind(pe, KindProtocol))
	assert.Equal(t, "protocol error: storage.new_multipart_upload bucket: failed to get upload id", pe.Error())

	assert.False(t, IsKind(cause, KindBackend))
}
