package testutil

import (
	"fmt"
	"sync"
)

// SequentialSagaIDs generates "<prefix>-0001", "<prefix>-0002", ...
//
// Unlike types.FixedGenerator it never runs out, so scenarios need not
// count their withdrawals up front.
//
// Thread-safety: SequentialSagaIDs is safe for concurrent use via internal mutex.
type SequentialSagaIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialSagaIDs creates a generator. An empty prefix means "saga".
func NewSequentialSagaIDs(prefix string) *SequentialSagaIDs {
	if prefix == "" {
		prefix = "saga"
	}
	return &SequentialSagaIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *SequentialSagaIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
