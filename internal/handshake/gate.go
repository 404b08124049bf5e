package handshake

import (
	"math/rand/v2"
	"sync"
	"time"
)

// RandomSource yields uniform samples in [0, 1). Implementations shared
// between connections must be safe for concurrent use.
type RandomSource interface {
	Float64() float64
}

// LockedRand is a seeded PCG generator guarded by a mutex so a single
// instance can serve every connection.
type LockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewLockedRand creates a generator from a fixed seed.
func NewLockedRand(seed uint64) *LockedRand {
	return &LockedRand{r: rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))}
}

// NewTimeSeededRand creates a generator seeded from the clock.
func NewTimeSeededRand() *LockedRand {
	return NewLockedRand(uint64(time.Now().UnixNano()))
}

// Float64 returns a sample in [0, 1).
func (l *LockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// FixedSource always returns the same sample.
type FixedSource float64

// Float64 returns the fixed sample.
func (f FixedSource) Float64() float64 {
	return float64(f)
}

// Decide draws one Bernoulli sample with the given probability.
// probability <= 0 never challenges, probability >= 1 always does.
func Decide(src RandomSource, probability float64) bool {
	return src.Float64() < probability
}

// Gate is the per-connection password decision plus whether a challenge
// has been sent and not yet answered.
type Gate struct {
	required bool
	pending  bool
}

// NewGate draws the decision for one connection.
func NewGate(src RandomSource, probability float64) Gate {
	return Gate{required: Decide(src, probability)}
}

// Required reports whether this connection must go through the challenge.
func (g Gate) Required() bool {
	return g.required
}

// Pending reports whether a challenge is awaiting an answer.
func (g Gate) Pending() bool {
	return g.pending
}

func (g *Gate) challenge() {
	g.pending = true
}

func (g *Gate) answer() {
	g.pending = false
}
