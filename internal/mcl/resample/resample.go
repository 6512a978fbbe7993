// Package resample implements systematic (low-variance) resampling of a
// particle population.
package resample

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/overlap-mcl/internal/mcl/particle"
)

// LowVariance replaces the population with N particles drawn in proportion
// to their weights using a single random offset and N evenly spaced
// pointers. Every output particle carries weight 1/N. It runs in O(N) and
// returns particle.ErrDegenerateWeights when the weights sum to zero.
func LowVariance(st *particle.State) error {
	n := len(st.Particles)
	if n == 0 {
		return nil
	}
	cum := make([]float64, n)
	floats.CumSum(cum, st.Weights())
	total := cum[n-1]
	if !(total > 0) || math.IsInf(total, 0) {
		return particle.ErrDegenerateWeights
	}

	step := 1 / float64(n)
	u := st.Rng.Float64() * step
	out := make([]particle.Particle, n)
	j := 0
	for i := 0; i < n; i++ {
		target := (u + float64(i)*step) * total
		for j < n-1 && cum[j] <= target {
			j++
		}
		out[i] = st.Particles[j]
		out[i].Weight = step
	}
	st.Particles = out
	return nil
}
