package warmup

import (
	"math/rand/v2"
	"sync"
)

// lockedSource serializes draws from a single PCG stream. rand/v2 sources
// are not goroutine-safe, and one *rand.Rand is shared between the
// scheduler tick and the runner's concurrent job handlers.
type lockedSource struct {
	mu  sync.Mutex
	src rand.Source
}

func (s *lockedSource) Uint64() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.Uint64()
}

// NewRand returns a seeded random source that is safe for concurrent use.
func NewRand(seed1, seed2 uint64) *rand.Rand {
	return rand.New(&lockedSource{src: rand.NewPCG(seed1, seed2)})
}
