package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the requested object does not exist
var ErrNotFound = errors.New("object not found")

// Kind classifies a storage failure by its source
type Kind int

const (
	// KindBackend is a transport failure or a rejection by the backend
	KindBackend Kind = iota
	// KindProtocol is a backend response missing an expected field
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindBackend:
		return "backend"
	case KindProtocol:
		return "protocol"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a storage operation failure with context about what was attempted
type Error struct {
	Kind   Kind
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s error: storage.%s %s/%s: %v", e.Kind, e.Op, e.Bucket, e.Key, e.Err)
	}
	return fmt.Sprintf("%s error: storage.%s %s: %v", e.Kind, e.Op, e.Bucket, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// BackendError wraps a failure reported by or on the way to the backend
func BackendError(op, bucket, key string, err error) *Error {
	return &Error{Kind: KindBackend, Op: op, Bucket: bucket, Key: key, Err: err}
}

// ProtocolError reports a malformed or unexpected backend response
func ProtocolError(op, bucket, key, msg string) *Error {
	return &Error{Kind: KindProtocol, Op: op, Bucket: bucket, Key: key, Err: errors.New(msg)}
}

// IsKind reports whether err carries a storage error of the given kind
func IsKind(err error, kind Kind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == kind
}
