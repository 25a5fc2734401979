package chunker

import (
	"bytes"
	"errors"
	"io"
	"math/rand/v2"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, pb *PartBuffer) [][]byte {
	t.Helper()
	var parts [][]byte
	for {
		part, err := pb.NextPart()
		if errors.Is(err, io.EOF) {
			return parts
		}
		require.NoError(t, err)
		parts = append(parts, part)
	}
}

func randomBytes(n int) []byte {
	r := rand.New(rand.NewPCG(uint64(n), 42))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.UintN(256))
	}
	return b
}

func TestNextPartReassembles(t *testing.T) {
	const threshold = 1000

	tests := []struct {
		name string
		size int
	}{
		{"single byte", 1},
		{"below threshold", threshold - 1},
		{"exactly threshold", threshold},
		{"just above threshold", threshold + 1},
		{"several parts", 7*threshold + 123},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := randomBytes(tt.size)
			// OneByteReader forces many small reads, like a network stream.
			parts := drain(t, NewPartBuffer(iotest.OneByteReader(bytes.NewReader(data)), threshold))

			require.NotEmpty(t, parts)
			assert.Equal(t, data, bytes.Join(parts, nil))
			for i, p := range parts[:len(parts)-1] {
				assert.GreaterOrEqual(t, len(p), threshold, "part %d too small", i)
			}
		})
	}
}

func TestNextPartEmptyStream(t *testing.T) {
	pb := NewPartBuffer(bytes.NewReader(nil), 10)
	assert.Empty(t, drain(t, pb))

	_, err := pb.NextPart()
	assert.ErrorIs(t, err, io.EOF)
}

func TestNextPartOversizedChunk(t *testing.T) {
	data := randomBytes(100)
	pb := NewPartBuffer(bytes.NewReader(data), 10)
	pb.scratch = make([]byte, 64)

	parts := drain(t, pb)
	require.Len(t, parts, 2)
	assert.Len(t, parts[0], 64)
	assert.Equal(t, data, bytes.Join(parts, nil))
}

func TestNextPartReadError(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(bytes.NewReader([]byte("abc")), iotest.ErrReader(boom))

	_, err := NewPartBuffer(r, 10).NextPart()
	assert.ErrorIs(t, err, boom)
}

func TestNextPartDataWithEOF(t *testing.T) {
	data := randomBytes(50)
	parts := drain(t, NewPartBuffer(iotest.DataErrReader(bytes.NewReader(data)), 1000))
	require.Len(t, parts, 1)
	assert.Equal(t, data, parts[0])
}

func TestComputeHash(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		ComputeHash(nil),
	)
}
