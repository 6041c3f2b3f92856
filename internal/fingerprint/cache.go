// Package fingerprint implements the fingerprint cache: a map from a
// sub-square's pre-solve snapshot to its post-solve snapshot, used as a
// heuristic short-circuit during assignment.
//
// As noted in the design notes, this cache is unsound in general — a
// sub-square's completion depends on its row/column context, not just its
// own 3x3 snapshot — so callers must treat a hit as a candidate value only,
// still subject to the session's end-of-run Check.
package fingerprint

import (
	"sync"

	"github.com/RGarrido03/CD-Project/internal/grid"
)

// Cache is safe for concurrent use.
type Cache struct {
	mu sync.RWMutex
	m  map[string][3][3]int
}

func New() *Cache {
	return &Cache{m: make(map[string][3][3]int)}
}

// Lookup returns the cached completion for the sub-square snapshot sq, if
// any.
func (c *Cache) Lookup(sq [3][3]int) ([3][3]int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.m[grid.Encode(sq)]
	return v, ok
}

// Put records that the sub-square snapshot before solved into after.
func (c *Cache) Put(before, after [3][3]int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.m[grid.Encode(before)] = after
}

// PutSession populates the cache from a completed session: for every
// sub-square index, it maps the initial grid's snapshot to the final
// grid's snapshot.
func PutSession(c *Cache, initial, final grid.Grid) {
	for s := 0; s < 9; s++ {
		before := grid.ExtractSubSquare(s, initial)
		after := grid.ExtractSubSquare(s, final)
		c.Put(before, after)
	}
}
