package segment

import (
	"fmt"
	"sync/atomic"
)

// Generator hands out block ids that are unique for the process lifetime.
type Generator struct {
	counter uint64
}

func New() *Generator {
	return &Generator{}
}

func (g *Generator) Next(sessionId string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-blk-%d", sessionId, n)
}

// For binds the generator to one session, matching the id function the
// transcript engine expects.
func (g *Generator) For(sessionId string) func() string {
	return func() string {
		return g.Next(sessionId)
	}
}
