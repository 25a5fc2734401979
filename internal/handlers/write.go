package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/maneesh/filedrop/internal/models"
	"github.com/maneesh/filedrop/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("filedrop-handlers")

const (
	expirationField = "expiration"
	fileField       = "file"

	// maxExpirationLen bounds how much of the expiration field is read
	maxExpirationLen = 32
)

// Uploader stores one form field as an object
type Uploader interface {
	UploadField(ctx context.Context, duration time.Duration, field io.Reader, fileName, contentType string) (*models.UploadResult, error)
}

// ExpirationPolicy validates requested expirations
type ExpirationPolicy interface {
	ParseExpiration(raw string) (time.Duration, error)
	DefaultExpiration() time.Duration
}

// WriteHandler handles file upload requests
type WriteHandler struct {
	uploader    Uploader
	expirations ExpirationPolicy
	maxBytes    int64
	templates   *templates
}

// NewWriteHandler creates a new write handler. Request bodies larger than
// maxBytes are rejected with 413.
func NewWriteHandler(uploader Uploader, expirations ExpirationPolicy, maxBytes int64) (*WriteHandler, error) {
	t, err := loadTemplates()
	if err != nil {
		return nil, err
	}
	return &WriteHandler{
		uploader:    uploader,
		expirations: expirations,
		maxBytes:    maxBytes,
		templates:   t,
	}, nil
}

// uploadOutput is one uploaded file as rendered in the HTML response
type uploadOutput struct {
	URL    string
	Upload *models.UploadResult
}

// ServeHTTP handles POST /
func (wh *WriteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "upload_files",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	origin := requestOrigin(r)
	terminal := isTerminal(r)
	span.SetAttributes(attribute.Bool("terminal", terminal))

	r.Body = http.MaxBytesReader(w, r.Body, wh.maxBytes)
	reader, err := r.MultipartReader()
	if err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("invalid multipart form: %v", err), http.StatusBadRequest)
		return
	}

	uploads, err := wh.readFields(ctx, reader)
	if err != nil {
		span.RecordError(err)
		status, msg := uploadErrorStatus(err)
		log.Printf("rid=%s msg=%q status=%d err=%v", RequestIDFromContext(ctx), "upload_failed", status, err)
		http.Error(w, msg, status)
		return
	}
	span.SetAttributes(attribute.Int("file_count", len(uploads)))

	if terminal {
		var body strings.Builder
		for _, u := range uploads {
			fmt.Fprintf(&body, "%s/%s\n", origin, u.ObjectKey)
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, body.String())
		return
	}

	outputs := make([]uploadOutput, 0, len(uploads))
	for _, u := range uploads {
		outputs = append(outputs, uploadOutput{URL: origin + "/" + u.ObjectKey, Upload: u})
	}

	var page bytes.Buffer
	if err := wh.templates.upload.Execute(&page, outputs); err != nil {
		span.RecordError(err)
		log.Printf("rid=%s msg=%q err=%v", RequestIDFromContext(ctx), "render_failed", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(page.Bytes())
}

// readFields walks the form in order. An expiration field applies to the
// file fields that follow it; unknown fields are ignored.
func (wh *WriteHandler) readFields(ctx context.Context, reader *multipart.Reader) ([]*models.UploadResult, error) {
	duration := wh.expirations.DefaultExpiration()
	var uploads []*models.UploadResult

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return uploads, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read form field: %w", err)
		}

		switch part.FormName() {
		case expirationField:
			raw, err := io.ReadAll(io.LimitReader(part, maxExpirationLen))
			if err != nil {
				part.Close()
				return nil, fmt.Errorf("failed to read expiration: %w", err)
			}
			if d, err := wh.expirations.ParseExpiration(string(raw)); err == nil {
				duration = d
			} else {
				log.Printf("rid=%s msg=%q value=%q", RequestIDFromContext(ctx), "expiration_rejected", raw)
			}
		case fileField:
			result, err := wh.uploader.UploadField(ctx, duration, part, part.FileName(), part.Header.Get("Content-Type"))
			if err != nil {
				part.Close()
				return nil, err
			}
			uploads = append(uploads, result)
		}
		part.Close()
	}
}

// uploadErrorStatus maps an upload failure to a status code and message.
// Storage failures hide their cause from the client.
func uploadErrorStatus(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit)
	case storage.IsKind(err, storage.KindBackend), storage.IsKind(err, storage.KindProtocol):
		return http.StatusInternalServerError, "Internal server error"
	default:
		return http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err)
	}
}

// isTerminal reports whether the client looks like a command-line tool
func isTerminal(r *http.Request) bool {
	ua := r.Header.Get("User-Agent")
	return ua != "" && !strings.Contains(strings.ToLower(ua), "mozilla")
}

// requestOrigin rebuilds the public origin, honoring reverse-proxy headers
func requestOrigin(r *http.Request) string {
	proto := r.Header.Get("X-Forwarded-Proto")
	if proto == "" {
		proto = "http"
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	if host == "" {
		host = "localhost"
	}
	return proto + "://" + host
}
