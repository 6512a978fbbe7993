package localiser

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/overlap-mcl/internal/config"
	"github.com/banshee-data/overlap-mcl/internal/mcl/geometry"
	"github.com/banshee-data/overlap-mcl/internal/mcl/motion"
	"github.com/banshee-data/overlap-mcl/internal/mcl/particle"
	"github.com/banshee-data/overlap-mcl/internal/mcl/resample"
	"github.com/banshee-data/overlap-mcl/internal/mcl/sensor"
)

// Config holds the loop parameters.
type Config struct {
	// StartIndex is the first frame processed.
	StartIndex int
	// MoveThreshold is the translation in metres a command must exceed for
	// the observation update to run.
	MoveThreshold float64
	// Resolution is the grid resolution in metres per cell.
	Resolution float64
	// RecordParticles attaches a population snapshot to every record.
	RecordParticles bool
}

// ConfigFromTuning builds a Config from the tuning config.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		StartIndex:    cfg.GetStartIndex(),
		MoveThreshold: cfg.GetMoveThreshold(),
		Resolution:    cfg.GetResolution(),
	}
}

// Observer reweights a population against a query frame.
type Observer interface {
	Update(ctx context.Context, st *particle.State, frame int) (sensor.UpdateStats, error)
}

// FrameRecord is the outcome of one processed frame. Positions are in
// grid units; errors are in metres and radians.
type FrameRecord struct {
	Frame    int
	Estimate particle.Estimate
	// Truth is nil when no ground truth is available for the frame.
	Truth         *geometry.Pose2D
	LocationError float64
	YawError      float64
	Population    int
	Converged     bool
	// Observed is set when the observation update ran and the population
	// was resampled.
	Observed  bool
	Sensor    sensor.UpdateStats
	Particles []particle.Particle
}

// Recorder consumes frame records, e.g. to persist or publish them.
type Recorder interface {
	RecordFrame(ctx context.Context, rec FrameRecord) error
}

// Summary aggregates a full run.
type Summary struct {
	Frames       int
	Observations int
	// ConvergedAt is the frame at which the population converged, or -1.
	ConvergedAt int
	FinalError  float64
	// MeanError and MeanYawError average over frames with ground truth
	// after convergence. They are NaN when there are none.
	MeanError    float64
	MeanYawError float64
}

// Localiser owns the filter state for one run. It is not safe for
// concurrent use.
type Localiser struct {
	cfg       Config
	state     *particle.State
	observer  Observer
	commands  []motion.Command
	noise     motion.Noise
	truth     []geometry.Pose2D
	recorders []Recorder
	started   bool
}

// New builds a localiser. commands[i] moves from frame i-1 to frame i.
// truth may be nil; when present it is indexed by frame, in grid units.
func New(cfg Config, st *particle.State, obs Observer, commands []motion.Command, noise motion.Noise, truth []geometry.Pose2D, recorders ...Recorder) (*Localiser, error) {
	if st == nil || obs == nil {
		return nil, errors.New("localiser requires a particle state and an observer")
	}
	if !(cfg.Resolution > 0) {
		return nil, fmt.Errorf("invalid resolution %f", cfg.Resolution)
	}
	if cfg.StartIndex < 0 || cfg.StartIndex >= len(commands) {
		return nil, fmt.Errorf("start index %d outside trajectory of %d frames", cfg.StartIndex, len(commands))
	}
	diagf("frames %d..%d, move threshold %.3fm at %.3fm/cell, %d recorders", cfg.StartIndex, len(commands)-1, cfg.MoveThreshold, cfg.Resolution, len(recorders))
	return &Localiser{
		cfg:       cfg,
		state:     st,
		observer:  obs,
		commands:  commands,
		noise:     noise,
		truth:     truth,
		recorders: recorders,
	}, nil
}

// State returns the live filter state.
func (l *Localiser) State() *particle.State { return l.state }

// Step processes one frame: propagate, then, if the robot moved far enough
// or this is the first processed frame, observe and resample.
func (l *Localiser) Step(ctx context.Context, frame int) (FrameRecord, error) {
	if frame < 0 || frame >= len(l.commands) {
		return FrameRecord{}, fmt.Errorf("frame %d outside trajectory of %d frames", frame, len(l.commands))
	}
	cmd := l.commands[frame]
	motion.Propagate(l.state, cmd, l.noise)

	rec := FrameRecord{Frame: frame}
	gate := cmd.Trans > l.cfg.MoveThreshold/l.cfg.Resolution
	if gate || !l.started {
		stats, err := l.observer.Update(ctx, l.state, frame)
		if err != nil {
			return rec, err
		}
		rec.Sensor = stats
		if stats.Ran {
			if err := resample.LowVariance(l.state); err != nil {
				return rec, fmt.Errorf("resample frame %d: %w", frame, err)
			}
			rec.Observed = true
		}
	}
	l.started = true

	rec.Estimate = l.state.Estimate()
	rec.Population = l.state.Len()
	rec.Converged = l.state.Converged
	rec.LocationError, rec.YawError = math.NaN(), math.NaN()
	if frame < len(l.truth) {
		truth := l.truth[frame]
		rec.Truth = &truth
		rec.LocationError = math.Hypot(rec.Estimate.X-truth.X, rec.Estimate.Y-truth.Y) * l.cfg.Resolution
		rec.YawError = geometry.AngleDiff(rec.Estimate.Theta, truth.Theta)
	}
	if l.cfg.RecordParticles {
		rec.Particles = l.state.Snapshot()
	}

	for _, r := range l.recorders {
		if err := r.RecordFrame(ctx, rec); err != nil {
			return rec, fmt.Errorf("record frame %d: %w", frame, err)
		}
	}
	tracef("frame %d: observed=%v population=%d error=%.3fm", frame, rec.Observed, rec.Population, rec.LocationError)
	return rec, nil
}

// Run processes every frame from StartIndex to the end of the trajectory.
func (l *Localiser) Run(ctx context.Context) (Summary, error) {
	sum := Summary{ConvergedAt: -1, FinalError: math.NaN()}
	var errSum, yawSum float64
	var errCount int
	for frame := l.cfg.StartIndex; frame < len(l.commands); frame++ {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		rec, err := l.Step(ctx, frame)
		if err != nil {
			return sum, err
		}
		sum.Frames++
		if rec.Observed {
			sum.Observations++
		}
		if rec.Converged && sum.ConvergedAt < 0 {
			sum.ConvergedAt = frame
		}
		sum.FinalError = rec.LocationError
		if rec.Converged && rec.Truth != nil {
			errSum += rec.LocationError
			yawSum += rec.YawError
			errCount++
		}
	}
	sum.MeanError, sum.MeanYawError = math.NaN(), math.NaN()
	if errCount > 0 {
		sum.MeanError = errSum / float64(errCount)
		sum.MeanYawError = yawSum / float64(errCount)
	}
	opsf("run complete: %d frames, %d observations, converged at %d, mean error %.3fm", sum.Frames, sum.Observations, sum.ConvergedAt, sum.MeanError)
	return sum, nil
}
