package entropy

import (
	opensimplex "github.com/ojrac/opensimplex-go"
)

// Walk produces a smooth, bounded drift per key. Consecutive steps of the
// same key are correlated, unlike independent uniform draws.
type Walk struct {
	noise     opensimplex.Noise
	frequency float64
}

// NewWalk seeds a walk. Frequency controls how quickly successive steps
// decorrelate; 0 selects 0.35.
func NewWalk(seed int64, frequency float64) *Walk {
	if frequency <= 0 {
		frequency = 0.35
	}
	return &Walk{
		noise:     opensimplex.NewNormalized(seed),
		frequency: frequency,
	}
}

// Step returns a perturbation in [-amplitude, amplitude] for key at step t.
func (w *Walk) Step(key int, t, amplitude float64) float64 {
	v := octaveNoise(w.noise, float64(key)*7.13, t, 3, w.frequency, 0.5)
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	return (2*v - 1) * amplitude
}

// octaveNoise layers several frequencies of normalized noise. The result
// stays in [0, 1).
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
