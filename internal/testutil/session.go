package testutil

import (
	"fmt"
	"sync"
)

// SequentialSessionGenerator yields "<prefix>-1", "<prefix>-2", ...
//
// The same scenario with a fresh generator always produces the same session
// ids, so journals and golden traces are byte-identical across runs.
//
// Implements bridge.SessionGenerator.
type SequentialSessionGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialSessionGenerator creates a generator. An empty prefix uses
// "test-session".
func NewSequentialSessionGenerator(prefix string) *SequentialSessionGenerator {
	if prefix == "" {
		prefix = "test-session"
	}
	return &SequentialSessionGenerator{prefix: prefix}
}

// Generate returns the next session id.
func (g *SequentialSessionGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
