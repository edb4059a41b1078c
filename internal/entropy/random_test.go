package entropy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeededSourcesRepeat(t *testing.T) {
	a := NewSource(42)
	b := NewSource(42)
	for i := 0; i < 100; i++ {
		assert.Equal(t, a.Float64(), b.Float64())
	}
	assert.Equal(t, int64(42), a.Seed())
}

func TestZeroSeedPicksOne(t *testing.T) {
	assert.NotZero(t, NewSource(0).Seed())
}

func TestBounds(t *testing.T) {
	s := NewSource(7)
	for i := 0; i < 1000; i++ {
		v := s.IntRange(5, 10)
		assert.GreaterOrEqual(t, v, 5)
		assert.LessOrEqual(t, v, 10)

		d := s.Jitter(100*time.Millisecond, 300*time.Millisecond)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
	}
	assert.Equal(t, 3, s.IntRange(3, 3))
	assert.Equal(t, 0, s.Intn(0))
	assert.Equal(t, 5*time.Millisecond, s.Jitter(5*time.Millisecond, 5*time.Millisecond))
}

func TestSampleWithoutReplacement(t *testing.T) {
	s := NewSource(11)
	pool := []int{0, 1, 2, 3, 4, 5, 6, 7}
	got := s.Sample(pool, 3)
	require.Len(t, got, 3)

	seen := map[int]bool{}
	for _, v := range got {
		assert.Contains(t, pool, v)
		assert.False(t, seen[v], "duplicate %d", v)
		seen[v] = true
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, pool)

	assert.ElementsMatch(t, pool, s.Sample(pool, 20))
}

func TestWalkBounded(t *testing.T) {
	w := NewWalk(3, 0)
	for key := 0; key < 5; key++ {
		for step := 0; step < 200; step++ {
			v := w.Step(key, float64(step), 0.1)
			assert.GreaterOrEqual(t, v, -0.1)
			assert.LessOrEqual(t, v, 0.1)
		}
	}
}

func TestWalkIsDeterministic(t *testing.T) {
	a := NewWalk(9, 0.5)
	b := NewWalk(9, 0.5)
	for step := 0; step < 20; step++ {
		assert.Equal(t, a.Step(2, float64(step), 0.1), b.Step(2, float64(step), 0.1))
	}
}
