package chunker

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// DefaultPartSize is the smallest part size the multipart protocol accepts
// for every part but the last.
const DefaultPartSize = 5 * 1024 * 1024

const readSize = 32 * 1024

// PartBuffer re-buffers a stream of arbitrarily sized reads into parts
// larger than a threshold. Only the final part may be smaller.
type PartBuffer struct {
	reader    io.Reader
	threshold int
	scratch   []byte
	done      bool
}

// NewPartBuffer creates a part buffer over reader. A non-positive threshold
// falls back to DefaultPartSize.
func NewPartBuffer(reader io.Reader, threshold int) *PartBuffer {
	if threshold <= 0 {
		threshold = DefaultPartSize
	}
	return &PartBuffer{
		reader:    reader,
		threshold: threshold,
		scratch:   make([]byte, readSize),
	}
}

// NextPart returns the next part. It returns io.EOF once the stream is
// exhausted and nothing is buffered, so an empty stream yields no parts.
// Any other read error is returned wrapped and ends the sequence.
func (pb *PartBuffer) NextPart() ([]byte, error) {
	if pb.done {
		return nil, io.EOF
	}

	var buffer bytes.Buffer
	for buffer.Len() <= pb.threshold {
		n, err := pb.reader.Read(pb.scratch)
		if n > 0 {
			buffer.Write(pb.scratch[:n])
		}

		if errors.Is(err, io.EOF) {
			pb.done = true
			break
		} else if err != nil {
			pb.done = true
			return nil, fmt.Errorf("error reading part: %w", err)
		}
	}

	if buffer.Len() == 0 {
		return nil, io.EOF
	}
	return buffer.Bytes(), nil
}

// ComputeHash computes SHA256 hash of data
func ComputeHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
