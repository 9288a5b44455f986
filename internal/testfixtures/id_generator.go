package testfixtures

import (
	"fmt"
	"sync"
)

// IDGenerator produces deterministic run identifiers for tests.
type IDGenerator struct {
	mu      sync.Mutex
	prefix  string
	counter uint64
}

// NewIDGenerator constructs a generator that yields identifiers with the given
// prefix. When prefix is empty, "run" is used.
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "run"
	}
	return &IDGenerator{prefix: prefix}
}

// Next returns the next identifier in the sequence. Its signature matches
// migration.WithRunIDs.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("%s-%d", g.prefix, g.counter)
}
