// Package entropy provides the simulation's randomness: a seeded,
// concurrency-safe source shared by every actor, and a smooth bounded walk
// for drifting values.
// Falls back to a crypto/rand seed when none is configured.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	mrand "math/rand"
	"sync"
	"time"
)

// Source is a mutex-guarded pseudo-random generator. A single Source is
// shared by all actors so a fixed seed replays the same draw sequence for a
// given interleaving.
type Source struct {
	mu   sync.Mutex
	rng  *mrand.Rand
	seed int64
}

// NewSource creates a Source. A zero seed picks one from crypto/rand.
func NewSource(seed int64) *Source {
	if seed == 0 {
		seed = cryptoSeed()
	}
	return &Source{
		rng:  mrand.New(mrand.NewSource(seed)),
		seed: seed,
	}
}

// Seed returns the seed actually in use.
func (s *Source) Seed() int64 { return s.seed }

// Float64 returns a value in [0, 1).
func (s *Source) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// Intn returns a value in [0, n). n <= 0 returns 0.
func (s *Source) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

// IntRange returns a value in [lo, hi].
func (s *Source) IntRange(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + s.Intn(hi-lo+1)
}

// Sample picks k distinct elements of pool without replacement. The pool is
// not modified. k larger than the pool returns a shuffled copy of all of it.
func (s *Source) Sample(pool []int, k int) []int {
	out := append([]int(nil), pool...)
	s.mu.Lock()
	s.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	s.mu.Unlock()
	if k < len(out) {
		out = out[:k]
	}
	return out
}

// Jitter returns a duration in [lo, hi].
func (s *Source) Jitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + time.Duration(s.rng.Int63n(int64(hi-lo)+1))
}

// cryptoSeed draws a non-zero seed from crypto/rand.
func cryptoSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return time.Now().UnixNano()
	}
	seed := int64(binary.LittleEndian.Uint64(buf[:]) & math.MaxInt64)
	if seed == 0 {
		seed = 1
	}
	return seed
}
