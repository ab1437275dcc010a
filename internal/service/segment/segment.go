// Package segment assembles recognizer turn events into ordered,
// deduplicated transcript segments.
package segment

import (
	"fmt"
	"sync/atomic"
)

// Generator hands out segment IDs that stay unique across resets.
type Generator struct {
	counter uint64
}

func New() *Generator {
	return &Generator{}
}

func (g *Generator) Next(sessionId string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-seg-%d", sessionId, n)
}
