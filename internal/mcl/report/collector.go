package report

import (
	"context"
	"sync"

	"github.com/banshee-data/overlap-mcl/internal/mcl/grid"
	"github.com/banshee-data/overlap-mcl/internal/mcl/localiser"
	"github.com/banshee-data/overlap-mcl/internal/mcl/particle"
)

// Sample is one frame of a trajectory in metres.
type Sample struct {
	Frame     int
	X, Y      float64
	Theta     float64
	HasTruth  bool
	TruthX    float64
	TruthY    float64
	Error     float64
	Converged bool
	Observed  bool
}

// TrajectoryCollector records frame estimates for reporting. It implements
// localiser.Recorder.
type TrajectoryCollector struct {
	resolution float64
	cells      []grid.Coord

	mu        sync.Mutex
	samples   []Sample
	particles []particle.Particle
}

// NewTrajectoryCollector returns a collector converting grid units with
// resolution. cells, if given, are drawn as the map footprint.
func NewTrajectoryCollector(resolution float64, cells []grid.Coord) *TrajectoryCollector {
	return &TrajectoryCollector{resolution: resolution, cells: cells}
}

// RecordFrame appends rec. The most recent particle snapshot is kept.
func (c *TrajectoryCollector) RecordFrame(ctx context.Context, rec localiser.FrameRecord) error {
	s := Sample{
		Frame:     rec.Frame,
		X:         rec.Estimate.X * c.resolution,
		Y:         rec.Estimate.Y * c.resolution,
		Theta:     rec.Estimate.Theta,
		Error:     rec.LocationError,
		Converged: rec.Converged,
		Observed:  rec.Observed,
	}
	if rec.Truth != nil {
		s.HasTruth = true
		s.TruthX = rec.Truth.X * c.resolution
		s.TruthY = rec.Truth.Y * c.resolution
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, s)
	if rec.Particles != nil {
		c.particles = rec.Particles
	}
	return nil
}

// Samples returns a copy of the recorded samples.
func (c *TrajectoryCollector) Samples() []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Sample, len(c.samples))
	copy(out, c.samples)
	return out
}

func (c *TrajectoryCollector) lastParticles() []particle.Particle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.particles
}
