package ident

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateLengthAndAlphabet(t *testing.T) {
	for _, n := range []uint8{0, 1, 8, 32, 255} {
		id := Generate(n)
		assert.Len(t, id, int(n))
		for _, c := range id {
			assert.True(t, strings.ContainsRune(alphabet, c), "unexpected rune %q in %q", c, id)
		}
	}
}

func TestGeneratorDeterministicWithSeed(t *testing.T) {
	a := NewGenerator(rand.NewPCG(1, 2)).Generate(16)
	b := NewGenerator(rand.NewPCG(1, 2)).Generate(16)
	assert.Equal(t, a, b)
}

func TestGenerateCoversAlphabet(t *testing.T) {
	g := NewGenerator(rand.NewPCG(7, 7))
	seen := make(map[rune]int)
	for i := 0; i < 2000; i++ {
		for _, c := range g.Generate(8) {
			seen[c]++
		}
	}
	// 16000 draws over 62 symbols; every symbol shows up.
	assert.Len(t, seen, len(alphabet))
}
