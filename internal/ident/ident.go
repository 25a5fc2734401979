// Package ident generates the short object identifiers used as both storage
// keys and public retrieval paths.
package ident

import "math/rand/v2"

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generator draws identifiers from a random source
type Generator struct {
	rng *rand.Rand
}

// NewGenerator creates a generator backed by the given source.
// A nil source uses the process-wide generator.
func NewGenerator(src rand.Source) *Generator {
	if src == nil {
		return &Generator{}
	}
	return &Generator{rng: rand.New(src)}
}

// Generate returns length characters drawn uniformly from [A-Za-z0-9].
// Collisions are possible and not checked.
func (g *Generator) Generate(length uint8) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = alphabet[g.intN(len(alphabet))]
	}
	return string(b)
}

func (g *Generator) intN(n int) int {
	if g == nil || g.rng == nil {
		return rand.IntN(n)
	}
	return g.rng.IntN(n)
}

// Generate is a convenience wrapper over the process-wide generator
func Generate(length uint8) string {
	return (*Generator)(nil).Generate(length)
}
