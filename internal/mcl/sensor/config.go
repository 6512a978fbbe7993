package sensor

import (
	"fmt"
	"math"

	"github.com/banshee-data/overlap-mcl/internal/config"
)

// Config holds the observation model parameters.
type Config struct {
	// UseYaw enables the yaw-agreement term when the scorer supports it.
	UseYaw bool
	// YawSigma is the yaw kernel standard deviation in radians.
	YawSigma float64
	// BorderOffset shrinks the map bounds by this many cells before the
	// in-bounds test.
	BorderOffset int
	// ConvergeThreshold is the occupied-cell count below which the
	// population is declared converged.
	ConvergeThreshold int
	// NumReduced is the population size kept at convergence. Reduction is
	// skipped when it is negative or not smaller than the population. Zero
	// is rejected.
	NumReduced int
	// MinOverlapForAngle gates the yaw kernel; below it the yaw term stays
	// at DefaultWeight.
	MinOverlapForAngle float64
	// DefaultWeight multiplies in-bounds particles with no score.
	DefaultWeight float64
	// InvalidWeight multiplies out-of-bounds particles.
	InvalidWeight float64
}

// DefaultConfig returns the model configuration from the canonical
// defaults file.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from the tuning config.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		UseYaw:             cfg.GetUseYaw(),
		YawSigma:           cfg.GetYawSigmaDeg() * math.Pi / 180,
		BorderOffset:       1,
		ConvergeThreshold:  cfg.GetConvergeThreshold(),
		NumReduced:         cfg.GetNumReduced(),
		MinOverlapForAngle: cfg.GetMinOverlapForAngle(),
		DefaultWeight:      cfg.GetDefaultWeight(),
		InvalidWeight:      cfg.GetInvalidWeight(),
	}
}

// Validate rejects configurations the model cannot run with.
func (c Config) Validate() error {
	if c.UseYaw && !(c.YawSigma > 0) {
		return fmt.Errorf("yaw sigma must be positive, got %f", c.YawSigma)
	}
	if c.BorderOffset < 0 {
		return fmt.Errorf("border offset must be non-negative, got %d", c.BorderOffset)
	}
	if !(c.DefaultWeight > 0) || !(c.InvalidWeight > 0) {
		return fmt.Errorf("default and invalid weights must be positive, got %f and %f", c.DefaultWeight, c.InvalidWeight)
	}
	if c.NumReduced == 0 {
		return fmt.Errorf("num reduced must be positive, or negative to disable reduction")
	}
	if c.MinOverlapForAngle < 0 || c.MinOverlapForAngle > 1 {
		return fmt.Errorf("min overlap for angle must be in [0, 1], got %f", c.MinOverlapForAngle)
	}
	return nil
}
