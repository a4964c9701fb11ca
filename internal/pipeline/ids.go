package pipeline

import (
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces cycle ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator returns time-ordered UUIDv7 strings, so cycle ids sort by
// creation time.
type UUIDv7Generator struct{}

// Generate returns a new UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator hands out a fixed list of ids in order. It panics when the
// list is exhausted. Intended for tests.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
}

// NewFixedGenerator returns a generator that yields ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next id.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.ids) == 0 {
		panic("pipeline: FixedGenerator exhausted")
	}
	id := g.ids[0]
	g.ids = g.ids[1:]
	return id
}
