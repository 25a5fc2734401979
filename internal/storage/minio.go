package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/maneesh/filedrop/internal/chunker"
	"github.com/maneesh/filedrop/internal/models"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("filedrop-storage")

const userMetadataPrefix = "X-Amz-Meta-"

// MinioClient wraps the MinIO multipart and object operations with tracing.
// It holds no per-call state and is safe for concurrent use.
type MinioClient struct {
	core       *minio.Core
	bucketName string
}

// NewMinioClient initializes a new MinIO client
func NewMinioClient(endpoint, accessKey, secretKey, bucketName string, useSSL bool) (*MinioClient, error) {
	core, err := minio.NewCore(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	mc := &MinioClient{
		core:       core,
		bucketName: bucketName,
	}

	// Ensure bucket exists
	ctx := context.Background()
	exists, err := core.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		log.Printf("Creating bucket: %s", bucketName)
		err = core.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		log.Printf("Bucket %s created successfully", bucketName)
	}

	return mc, nil
}

// Bucket returns the bucket every object is stored in
func (mc *MinioClient) Bucket() string {
	return mc.bucketName
}

// NewMultipartUpload opens a multipart upload session and returns its id
func (mc *MinioClient) NewMultipartUpload(ctx context.Context, key, contentType string, metadata map[string]string, expires time.Time) (string, error) {
	ctx, span := tracer.Start(ctx, "minio.new_multipart_upload",
		trace.WithAttributes(
			attribute.String("object_key", key),
			attribute.String("content_type", contentType),
		),
	)
	defer span.End()

	uploadID, err := mc.core.NewMultipartUpload(ctx, mc.bucketName, key, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: metadata,
		Expires:      expires,
	})
	if err != nil {
		span.RecordError(err)
		return "", BackendError("new_multipart_upload", mc.bucketName, key, err)
	}
	if uploadID == "" {
		return "", ProtocolError("new_multipart_upload", mc.bucketName, key, "failed to get upload id")
	}

	span.SetAttributes(attribute.String("upload_id", uploadID))
	return uploadID, nil
}

// UploadPart sends one part and returns the ETag the backend assigned to it.
// The part's SHA-256 is sent along so the backend rejects corrupted payloads.
func (mc *MinioClient) UploadPart(ctx context.Context, key, uploadID string, partNumber int, data []byte) (string, error) {
	ctx, span := tracer.Start(ctx, "minio.upload_part",
		trace.WithAttributes(
			attribute.String("object_key", key),
			attribute.Int("part_number", partNumber),
			attribute.Int("size_bytes", len(data)),
		),
	)
	defer span.End()

	part, err := mc.core.PutObjectPart(ctx, mc.bucketName, key, uploadID, partNumber,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectPartOptions{Sha256Hex: chunker.ComputeHash(data)},
	)
	if err != nil {
		span.RecordError(err)
		return "", BackendError("upload_part", mc.bucketName, key, fmt.Errorf("part %d: %w", partNumber, err))
	}
	if part.ETag == "" {
		return "", ProtocolError("upload_part", mc.bucketName, key,
			fmt.Sprintf("failed to get etag from upload part %d", partNumber))
	}

	span.SetAttributes(attribute.Bool("upload_success", true))
	return part.ETag, nil
}

// CompleteMultipartUpload stitches the acknowledged parts into one object
func (mc *MinioClient) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []models.CompletedPart) error {
	ctx, span := tracer.Start(ctx, "minio.complete_multipart_upload",
		trace.WithAttributes(
			attribute.String("object_key", key),
			attribute.Int("part_count", len(parts)),
		),
	)
	defer span.End()

	completeParts := make([]minio.CompletePart, 0, len(parts))
	for _, p := range parts {
		completeParts = append(completeParts, minio.CompletePart{
			PartNumber: p.PartNumber,
			ETag:       p.IntegrityToken,
		})
	}

	_, err := mc.core.CompleteMultipartUpload(ctx, mc.bucketName, key, uploadID, completeParts, minio.PutObjectOptions{})
	if err != nil {
		span.RecordError(err)
		return BackendError("complete_multipart_upload", mc.bucketName, key, err)
	}

	return nil
}

// AbortMultipartUpload discards an upload session and the parts stored under it
func (mc *MinioClient) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	ctx, span := tracer.Start(ctx, "minio.abort_multipart_upload",
		trace.WithAttributes(
			attribute.String("object_key", key),
			attribute.String("upload_id", uploadID),
		),
	)
	defer span.End()

	if err := mc.core.AbortMultipartUpload(ctx, mc.bucketName, key, uploadID); err != nil {
		span.RecordError(err)
		return BackendError("abort_multipart_upload", mc.bucketName, key, err)
	}
	return nil
}

// GetObject opens an object for streaming. The caller must close the body.
func (mc *MinioClient) GetObject(ctx context.Context, key string) (*models.StoredObject, error) {
	ctx, span := tracer.Start(ctx, "minio.get_object",
		trace.WithAttributes(
			attribute.String("object_key", key),
		),
	)
	defer span.End()

	body, _, header, err := mc.core.GetObject(ctx, mc.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).StatusCode == http.StatusNotFound {
			span.SetAttributes(attribute.Bool("found", false))
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		span.RecordError(err)
		return nil, BackendError("get_object", mc.bucketName, key, err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return storedObjectFromHeader(header, body), nil
}

// RemoveObject deletes an object
func (mc *MinioClient) RemoveObject(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "minio.remove_object",
		trace.WithAttributes(
			attribute.String("object_key", key),
		),
	)
	defer span.End()

	err := mc.core.RemoveObject(ctx, mc.bucketName, key, minio.RemoveObjectOptions{})
	if err != nil {
		span.RecordError(err)
		return BackendError("remove_object", mc.bucketName, key, err)
	}

	return nil
}

func storedObjectFromHeader(header http.Header, body io.ReadCloser) *models.StoredObject {
	obj := &models.StoredObject{
		ContentType: header.Get("Content-Type"),
		Metadata:    make(map[string]string),
		Body:        body,
	}

	if etag := header.Get("ETag"); etag != "" {
		obj.ETag = &etag
	}
	if length, err := strconv.ParseUint(header.Get("Content-Length"), 10, 64); err == nil {
		obj.ContentLength = &length
	}
	if expires := header.Get("Expires"); expires != "" {
		obj.ExpirationTimestamp = &expires
	}

	for name, values := range header {
		if len(values) == 0 || !strings.HasPrefix(name, userMetadataPrefix) {
			continue
		}
		obj.Metadata[strings.ToLower(strings.TrimPrefix(name, userMetadataPrefix))] = values[0]
	}

	return obj
}
