// Package particle holds the particle population and the run-scoped
// random source shared by every stochastic stage of the filter.
package particle

import (
	"errors"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/overlap-mcl/internal/mcl/geometry"
	"github.com/banshee-data/overlap-mcl/internal/mcl/grid"
)

// ErrDegenerateWeights is returned when a population's weights cannot be
// normalised or resampled because they sum to zero or are not finite.
var ErrDegenerateWeights = errors.New("particle: degenerate population weights")

// Particle is one pose hypothesis. X and Y are in grid units, Theta is in
// radians within (-π, π], Weight is non-negative.
type Particle struct {
	X      float64
	Y      float64
	Theta  float64
	Weight float64
}

// State is the mutable filter state. The population size may shrink once,
// at convergence; the Converged flag never resets.
type State struct {
	Particles []Particle
	Converged bool
	Rng       *rand.Rand
}

// NewState returns an empty state seeded for reproducible runs.
func NewState(seed int64) *State {
	return &State{Rng: NewRand(seed)}
}

// NewRand returns the generator a State uses for seed. It also serves as
// the Src of gonum distributions so one seed drives the whole run.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), 0x9e3779b97f4a7c15))
}

// randomHeading is uniform in (-π, π].
func (s *State) randomHeading() float64 {
	return geometry.WrapAngle(math.Pi - s.Rng.Float64()*2*math.Pi)
}

// InitUniform draws n particles uniformly within b, headings uniform in
// (-π, π], weights 1.
func (s *State) InitUniform(n int, b grid.Bounds) {
	s.Particles = make([]Particle, n)
	for i := range s.Particles {
		s.Particles[i] = Particle{
			X:      float64(b.XMin) + s.Rng.Float64()*float64(b.XMax-b.XMin),
			Y:      float64(b.YMin) + s.Rng.Float64()*float64(b.YMax-b.YMin),
			Theta:  s.randomHeading(),
			Weight: 1,
		}
	}
	s.Converged = false
}

// InitOnCoords places n particles on cells drawn uniformly, with
// replacement, from coords. Headings are uniform in (-π, π], weights 1.
func (s *State) InitOnCoords(n int, coords []grid.Coord) error {
	if len(coords) == 0 {
		return grid.ErrEmptyMap
	}
	s.Particles = make([]Particle, n)
	for i := range s.Particles {
		c := coords[s.Rng.IntN(len(coords))]
		s.Particles[i] = Particle{
			X:      float64(c.X),
			Y:      float64(c.Y),
			Theta:  s.randomHeading(),
			Weight: 1,
		}
	}
	s.Converged = false
	return nil
}

// Len returns the population size.
func (s *State) Len() int { return len(s.Particles) }

// Weights returns a copy of the particle weights.
func (s *State) Weights() []float64 {
	w := make([]float64, len(s.Particles))
	for i, p := range s.Particles {
		w[i] = p.Weight
	}
	return w
}

// NormalizeMax scales weights so the largest becomes 1.
func (s *State) NormalizeMax() error {
	if len(s.Particles) == 0 {
		return nil
	}
	w := s.Weights()
	maxW := floats.Max(w)
	if !(maxW > 0) || math.IsInf(maxW, 0) {
		return ErrDegenerateWeights
	}
	for i := range s.Particles {
		s.Particles[i].Weight /= maxW
	}
	return nil
}

// Snapshot returns a copy of the population.
func (s *State) Snapshot() []Particle {
	out := make([]Particle, len(s.Particles))
	copy(out, s.Particles)
	return out
}

// Estimate is the weighted pose estimate of a population in grid units.
type Estimate struct {
	X     float64
	Y     float64
	Theta float64
}

// Estimate returns the weight-averaged position and circular mean heading.
// With all-zero weights every particle counts equally.
func (s *State) Estimate() Estimate {
	n := len(s.Particles)
	if n == 0 {
		return Estimate{}
	}
	xs := make([]float64, n)
	ys := make([]float64, n)
	ths := make([]float64, n)
	w := make([]float64, n)
	for i, p := range s.Particles {
		xs[i], ys[i], ths[i], w[i] = p.X, p.Y, p.Theta, p.Weight
	}
	if !(floats.Sum(w) > 0) {
		w = nil
	}
	return Estimate{
		X:     stat.Mean(xs, w),
		Y:     stat.Mean(ys, w),
		Theta: stat.CircularMean(ths, w),
	}
}
