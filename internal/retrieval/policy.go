// Package retrieval fetches stored objects and decides how they may be served.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/maneesh/filedrop/internal/models"
	"github.com/maneesh/filedrop/internal/storage"
)

var (
	// ErrNotFound means the object is absent or could not be fetched
	ErrNotFound = errors.New("not found")
	// ErrExpired means the object exists but its expiration has passed
	ErrExpired = errors.New("expired")
)

const defaultContentType = "application/octet-stream"

// inlineSafe lists content types browsers may render directly
var inlineSafe = []string{"text/plain", "image/", "video/mp4"}

// Getter reads objects from the storage backend
type Getter interface {
	GetObject(ctx context.Context, key string) (*models.StoredObject, error)
}

// Header is one response header
type Header struct {
	Name  string
	Value string
}

// Policy fetches objects and derives how they are served
type Policy struct {
	getter Getter
	now    func() time.Time
}

// NewPolicy creates a retrieval policy over getter
func NewPolicy(getter Getter) *Policy {
	return &Policy{getter: getter, now: time.Now}
}

// Fetch returns the object stored under id, or nil if it is missing or the
// backend call failed.
func (p *Policy) Fetch(ctx context.Context, id string) *models.StoredObject {
	obj, err := p.getter.GetObject(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("Warning: failed to fetch object %s: %v", id, err)
		}
		return nil
	}
	return obj
}

// Open fetches id and checks its expiration. An expired object's body is
// closed before ErrExpired is returned.
func (p *Policy) Open(ctx context.Context, id string) (*models.StoredObject, error) {
	obj := p.Fetch(ctx, id)
	if obj == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if IsExpired(obj, p.now()) {
		if obj.Body != nil {
			_ = obj.Body.Close()
		}
		return nil, fmt.Errorf("%w: %s", ErrExpired, id)
	}
	return obj, nil
}

// IsExpired reports whether obj's expiration parses and lies strictly before now.
// Objects without a parsable expiration never expire.
func IsExpired(obj *models.StoredObject, now time.Time) bool {
	if obj.ExpirationTimestamp == nil {
		return false
	}
	expiration, ok := parseExpiration(*obj.ExpirationTimestamp)
	return ok && expiration.Before(now)
}

// parseExpiration accepts HTTP dates and their numeric-zone RFC 1123 form
func parseExpiration(value string) (time.Time, bool) {
	if t, err := http.ParseTime(value); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC1123Z, value); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// Headers derives the response headers for obj. Content-Type always comes
// first. Content-Disposition forces a download for types a browser could
// render unsafely, and is skipped when no usable file name is recorded.
func Headers(obj *models.StoredObject) []Header {
	contentType := obj.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	headers := []Header{{Name: "Content-Type", Value: contentType}}

	if obj.ETag != nil {
		headers = append(headers, Header{Name: "ETag", Value: *obj.ETag})
	}
	if obj.ContentLength != nil {
		headers = append(headers, Header{Name: "Content-Length", Value: strconv.FormatUint(*obj.ContentLength, 10)})
	}

	if obj.ContentType == "" || isInlineSafe(obj.ContentType) {
		return headers
	}
	name, ok := obj.FileName()
	if !ok || !isPathSegment(name) {
		return headers
	}
	return append(headers, Header{
		Name:  "Content-Disposition",
		Value: fmt.Sprintf("attachment; filename=\"%s\"", name),
	})
}

func isInlineSafe(contentType string) bool {
	for _, t := range inlineSafe {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

// isPathSegment reports whether name can be used verbatim in a URI path and
// inside a quoted header parameter.
func isPathSegment(name string) bool {
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= ' ' || c >= 0x7f {
			return false
		}
		switch c {
		case '"', '\\', '<', '>', '`', '{', '}', '|', '^':
			return false
		}
	}
	_, err := url.Parse(name)
	return err == nil
}
