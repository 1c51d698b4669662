package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator issues active-event handles.
// Implemented by UUIDv7Generator (production), CounterGenerator and
// FixedGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 handles.
//
// UUIDv7 embeds a timestamp in the most significant bits, so handles sort
// by creation time in history dumps and the recorded trace.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// CounterGenerator returns prefix-1, prefix-2, ...
type CounterGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewCounterGenerator creates a counter generator. An empty prefix
// defaults to "ev".
func NewCounterGenerator(prefix string) *CounterGenerator {
	if prefix == "" {
		prefix = "ev"
	}
	return &CounterGenerator{prefix: prefix}
}

// Generate returns the next handle.
func (g *CounterGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// FixedGenerator returns predetermined handles for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedGenerator creates a generator that returns tokens in order.
//
// Example:
//
//	gen := NewFixedGenerator("ev-a", "ev-b")
//	gen.Generate() // "ev-a"
//	gen.Generate() // "ev-b"
//	gen.Generate() // panic: all tokens exhausted
func NewFixedGenerator(tokens ...string) *FixedGenerator {
	return &FixedGenerator{tokens: tokens}
}

// Generate returns the next predetermined token.
//
// Panics if all tokens have been consumed, to catch a test that plays more
// events than it declared.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.tokens) {
		panic("FixedGenerator: all tokens exhausted")
	}
	token := g.tokens[g.idx]
	g.idx++
	return token
}
