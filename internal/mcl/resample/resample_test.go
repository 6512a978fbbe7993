package resample

import (
	"errors"
	"math"
	"testing"

	"github.com/banshee-data/overlap-mcl/internal/mcl/particle"
)

func population(weights ...float64) *particle.State {
	st := particle.NewState(42)
	for i, w := range weights {
		st.Particles = append(st.Particles, particle.Particle{X: float64(i), Weight: w})
	}
	return st
}

func TestLowVarianceUniformWeights(t *testing.T) {
	st := population(1, 1, 1, 1, 1)
	if err := LowVariance(st); err != nil {
		t.Fatal(err)
	}
	// Equal weights reproduce the population exactly.
	for i, p := range st.Particles {
		if p.X != float64(i) {
			t.Errorf("slot %d holds particle %v", i, p.X)
		}
		if p.Weight != 0.2 {
			t.Errorf("slot %d weight = %v, want 0.2", i, p.Weight)
		}
	}
}

func TestLowVarianceSingleDominant(t *testing.T) {
	st := population(0, 0, 5, 0)
	if err := LowVariance(st); err != nil {
		t.Fatal(err)
	}
	for i, p := range st.Particles {
		if p.X != 2 {
			t.Errorf("slot %d holds particle %v, want 2", i, p.X)
		}
	}
}

func TestLowVarianceProportions(t *testing.T) {
	// Weights 1:3 over 1000 copies each. Systematic resampling keeps the
	// count of each index within one of its expected value.
	weights := make([]float64, 2000)
	for i := range weights {
		if i < 1000 {
			weights[i] = 1
		} else {
			weights[i] = 3
		}
	}
	st := population(weights...)
	if err := LowVariance(st); err != nil {
		t.Fatal(err)
	}
	low := 0
	for _, p := range st.Particles {
		if p.X < 1000 {
			low++
		}
	}
	if math.Abs(float64(low)-500) > 1 {
		t.Errorf("low-weight survivors = %d, want 500±1", low)
	}
	if len(st.Particles) != 2000 {
		t.Errorf("population size = %d", len(st.Particles))
	}
}

func TestLowVarianceNeverPicksZeroWeight(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		st := population(0, 1, 0, 1, 0)
		st.Rng = particle.NewRand(seed)
		if err := LowVariance(st); err != nil {
			t.Fatal(err)
		}
		for _, p := range st.Particles {
			if p.X != 1 && p.X != 3 {
				t.Fatalf("seed %d: zero-weight particle %v survived", seed, p.X)
			}
		}
	}
}

func TestLowVarianceDegenerate(t *testing.T) {
	st := population(0, 0, 0)
	if err := LowVariance(st); !errors.Is(err, particle.ErrDegenerateWeights) {
		t.Errorf("expected ErrDegenerateWeights, got %v", err)
	}
	st = population(math.NaN(), 1)
	if err := LowVariance(st); !errors.Is(err, particle.ErrDegenerateWeights) {
		t.Errorf("expected ErrDegenerateWeights for NaN, got %v", err)
	}
	if err := LowVariance(population()); err != nil {
		t.Errorf("empty population: %v", err)
	}
}
