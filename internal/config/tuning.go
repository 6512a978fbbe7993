package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for a localisation run.
// The schema is flat so the same keys work in JSON and YAML files.
type TuningConfig struct {
	// Map and data layout
	DataRoot      *string `json:"data_root,omitempty" yaml:"data_root,omitempty"`
	MapSequence   *string `json:"map_sequence,omitempty" yaml:"map_sequence,omitempty"`
	QuerySequence *string `json:"query_sequence,omitempty" yaml:"query_sequence,omitempty"`
	PoseFile      *string `json:"pose_file,omitempty" yaml:"pose_file,omitempty"`
	CalibFile     *string `json:"calib_file,omitempty" yaml:"calib_file,omitempty"`
	VolumeBackend *string `json:"volume_backend,omitempty" yaml:"volume_backend,omitempty"` // "file" or "badger"

	// Filter params
	Resolution    *float64 `json:"resolution,omitempty" yaml:"resolution,omitempty"` // metres per grid cell
	NumParticles  *int     `json:"num_particles,omitempty" yaml:"num_particles,omitempty"`
	StartIndex    *int     `json:"start_index,omitempty" yaml:"start_index,omitempty"`
	MoveThreshold *float64 `json:"move_threshold,omitempty" yaml:"move_threshold,omitempty"` // metres
	InitMode      *string  `json:"init_mode,omitempty" yaml:"init_mode,omitempty"`           // "map" or "uniform"
	Seed          *int64   `json:"seed,omitempty" yaml:"seed,omitempty"`

	// Sensor model params
	UseYaw             *bool    `json:"use_yaw,omitempty" yaml:"use_yaw,omitempty"`
	YawSigmaDeg        *float64 `json:"yaw_sigma_deg,omitempty" yaml:"yaw_sigma_deg,omitempty"`
	YawBins            *int     `json:"yaw_bins,omitempty" yaml:"yaw_bins,omitempty"`
	NumReduced         *int     `json:"num_reduced,omitempty" yaml:"num_reduced,omitempty"`
	ConvergeThreshold  *int     `json:"converge_threshold,omitempty" yaml:"converge_threshold,omitempty"`
	MinOverlapForAngle *float64 `json:"min_overlap_for_angle,omitempty" yaml:"min_overlap_for_angle,omitempty"`
	DefaultWeight      *float64 `json:"default_weight,omitempty" yaml:"default_weight,omitempty"`
	InvalidWeight      *float64 `json:"invalid_weight,omitempty" yaml:"invalid_weight,omitempty"`

	// Motion model params (odometry noise)
	MotionAlpha1 *float64 `json:"motion_alpha1,omitempty" yaml:"motion_alpha1,omitempty"` // rot noise from rot
	MotionAlpha2 *float64 `json:"motion_alpha2,omitempty" yaml:"motion_alpha2,omitempty"` // rot noise from trans
	MotionAlpha3 *float64 `json:"motion_alpha3,omitempty" yaml:"motion_alpha3,omitempty"` // trans noise from trans
	MotionAlpha4 *float64 `json:"motion_alpha4,omitempty" yaml:"motion_alpha4,omitempty"` // trans noise from rot

	// Cache and inference params
	CacheCapacity  *int    `json:"cache_capacity,omitempty" yaml:"cache_capacity,omitempty"`
	BatchSize      *int    `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	ExtractWorkers *int    `json:"extract_workers,omitempty" yaml:"extract_workers,omitempty"`
	ScorerAddr     *string `json:"scorer_addr,omitempty" yaml:"scorer_addr,omitempty"` // empty: local cosine scorer
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from a file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated from
// the getter defaults. It mirrors config/tuning.defaults.json.
func DefaultTuningConfig() *TuningConfig {
	c := EmptyTuningConfig()
	return &TuningConfig{
		VolumeBackend:      ptrString(c.GetVolumeBackend()),
		Resolution:         ptrFloat64(c.GetResolution()),
		NumParticles:       ptrInt(c.GetNumParticles()),
		StartIndex:         ptrInt(c.GetStartIndex()),
		MoveThreshold:      ptrFloat64(c.GetMoveThreshold()),
		InitMode:           ptrString(c.GetInitMode()),
		Seed:               ptrInt64(c.GetSeed()),
		UseYaw:             ptrBool(c.GetUseYaw()),
		YawSigmaDeg:        ptrFloat64(c.GetYawSigmaDeg()),
		YawBins:            ptrInt(c.GetYawBins()),
		NumReduced:         ptrInt(c.GetNumReduced()),
		ConvergeThreshold:  ptrInt(c.GetConvergeThreshold()),
		MinOverlapForAngle: ptrFloat64(c.GetMinOverlapForAngle()),
		DefaultWeight:      ptrFloat64(c.GetDefaultWeight()),
		InvalidWeight:      ptrFloat64(c.GetInvalidWeight()),
		MotionAlpha1:       ptrFloat64(c.GetMotionAlpha1()),
		MotionAlpha2:       ptrFloat64(c.GetMotionAlpha2()),
		MotionAlpha3:       ptrFloat64(c.GetMotionAlpha3()),
		MotionAlpha4:       ptrFloat64(c.GetMotionAlpha4()),
		CacheCapacity:      ptrInt(c.GetCacheCapacity()),
		BatchSize:          ptrInt(c.GetBatchSize()),
		ExtractWorkers:     ptrInt(c.GetExtractWorkers()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON or YAML file.
// The extension selects the decoder (.json, .yaml, .yml) and the file must be
// under the max file size. Fields omitted from the file fall back to the
// getter defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/mcl/sensor/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.Resolution != nil && *c.Resolution <= 0 {
		return fmt.Errorf("resolution must be positive, got %f", *c.Resolution)
	}
	if c.NumParticles != nil && *c.NumParticles <= 0 {
		return fmt.Errorf("num_particles must be positive, got %d", *c.NumParticles)
	}
	if c.StartIndex != nil && *c.StartIndex < 0 {
		return fmt.Errorf("start_index must be non-negative, got %d", *c.StartIndex)
	}
	if c.MoveThreshold != nil && *c.MoveThreshold < 0 {
		return fmt.Errorf("move_threshold must be non-negative, got %f", *c.MoveThreshold)
	}
	if c.InitMode != nil {
		switch *c.InitMode {
		case "map", "uniform":
		default:
			return fmt.Errorf("init_mode must be 'map' or 'uniform', got %q", *c.InitMode)
		}
	}
	if c.VolumeBackend != nil {
		switch *c.VolumeBackend {
		case "file", "badger":
		default:
			return fmt.Errorf("volume_backend must be 'file' or 'badger', got %q", *c.VolumeBackend)
		}
	}
	if c.YawSigmaDeg != nil && *c.YawSigmaDeg <= 0 {
		return fmt.Errorf("yaw_sigma_deg must be positive, got %f", *c.YawSigmaDeg)
	}
	if c.YawBins != nil && *c.YawBins <= 0 {
		return fmt.Errorf("yaw_bins must be positive, got %d", *c.YawBins)
	}
	// Negative disables reduction; zero would empty the population.
	if c.NumReduced != nil && *c.NumReduced == 0 {
		return fmt.Errorf("num_reduced must be positive, or negative to disable reduction, got 0")
	}
	if c.MinOverlapForAngle != nil && (*c.MinOverlapForAngle < 0 || *c.MinOverlapForAngle > 1) {
		return fmt.Errorf("min_overlap_for_angle must be between 0 and 1, got %f", *c.MinOverlapForAngle)
	}
	// Strictly positive weights keep the max-normalisation well defined.
	if c.DefaultWeight != nil && *c.DefaultWeight <= 0 {
		return fmt.Errorf("default_weight must be positive, got %f", *c.DefaultWeight)
	}
	if c.InvalidWeight != nil && *c.InvalidWeight <= 0 {
		return fmt.Errorf("invalid_weight must be positive, got %f", *c.InvalidWeight)
	}
	for name, v := range map[string]*float64{
		"motion_alpha1": c.MotionAlpha1,
		"motion_alpha2": c.MotionAlpha2,
		"motion_alpha3": c.MotionAlpha3,
		"motion_alpha4": c.MotionAlpha4,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", name, *v)
		}
	}
	if c.CacheCapacity != nil && *c.CacheCapacity <= 0 {
		return fmt.Errorf("cache_capacity must be positive, got %d", *c.CacheCapacity)
	}
	if c.BatchSize != nil && *c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", *c.BatchSize)
	}
	if c.ExtractWorkers != nil && *c.ExtractWorkers <= 0 {
		return fmt.Errorf("extract_workers must be positive, got %d", *c.ExtractWorkers)
	}
	return nil
}

// ValidateRunPaths checks the fields that a full localisation run needs but
// that unit-level configs may omit.
func (c *TuningConfig) ValidateRunPaths() error {
	required := []struct {
		name string
		val  *string
	}{
		{"data_root", c.DataRoot},
		{"map_sequence", c.MapSequence},
		{"query_sequence", c.QuerySequence},
		{"pose_file", c.PoseFile},
		{"calib_file", c.CalibFile},
	}
	for _, r := range required {
		if r.val == nil || *r.val == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}
	return nil
}

// MapVolumeDir returns the directory holding map cell feature volumes.
func (c *TuningConfig) MapVolumeDir() string {
	return filepath.Join(c.GetDataRoot(), c.GetMapSequence(), "feature_volumes")
}

// QueryVolumeDir returns the directory holding query frame feature volumes.
func (c *TuningConfig) QueryVolumeDir() string {
	return filepath.Join(c.GetDataRoot(), c.GetQuerySequence(), "feature_volumes")
}

// GetDataRoot returns the data_root value or the default.
func (c *TuningConfig) GetDataRoot() string {
	if c.DataRoot == nil {
		return "."
	}
	return *c.DataRoot
}

// GetMapSequence returns the map_sequence value or the default.
func (c *TuningConfig) GetMapSequence() string {
	if c.MapSequence == nil {
		return ""
	}
	return *c.MapSequence
}

// GetQuerySequence returns the query_sequence value or the default.
func (c *TuningConfig) GetQuerySequence() string {
	if c.QuerySequence == nil {
		return ""
	}
	return *c.QuerySequence
}

// GetPoseFile returns the pose_file value or the default.
func (c *TuningConfig) GetPoseFile() string {
	if c.PoseFile == nil {
		return ""
	}
	return *c.PoseFile
}

// GetCalibFile returns the calib_file value or the default.
func (c *TuningConfig) GetCalibFile() string {
	if c.CalibFile == nil {
		return ""
	}
	return *c.CalibFile
}

// GetVolumeBackend returns the volume_backend value or the default.
func (c *TuningConfig) GetVolumeBackend() string {
	if c.VolumeBackend == nil {
		return "file"
	}
	return *c.VolumeBackend
}

// GetResolution returns the resolution value or the default.
func (c *TuningConfig) GetResolution() float64 {
	if c.Resolution == nil {
		return 0.2
	}
	return *c.Resolution
}

// GetNumParticles returns the num_particles value or the default.
func (c *TuningConfig) GetNumParticles() int {
	if c.NumParticles == nil {
		return 10000
	}
	return *c.NumParticles
}

// GetStartIndex returns the start_index value or the default.
func (c *TuningConfig) GetStartIndex() int {
	if c.StartIndex == nil {
		return 0
	}
	return *c.StartIndex
}

// GetMoveThreshold returns the move_threshold value (metres) or the default.
func (c *TuningConfig) GetMoveThreshold() float64 {
	if c.MoveThreshold == nil {
		return 0.2
	}
	return *c.MoveThreshold
}

// GetInitMode returns the init_mode value or the default.
func (c *TuningConfig) GetInitMode() string {
	if c.InitMode == nil {
		return "map"
	}
	return *c.InitMode
}

// GetSeed returns the seed value or the default.
func (c *TuningConfig) GetSeed() int64 {
	if c.Seed == nil {
		return 0
	}
	return *c.Seed
}

// GetUseYaw returns the use_yaw value or the default.
func (c *TuningConfig) GetUseYaw() bool {
	if c.UseYaw == nil {
		return true
	}
	return *c.UseYaw
}

// GetYawSigmaDeg returns the yaw_sigma_deg value or the default.
func (c *TuningConfig) GetYawSigmaDeg() float64 {
	if c.YawSigmaDeg == nil {
		return 5.0
	}
	return *c.YawSigmaDeg
}

// GetYawBins returns the yaw_bins value or the default.
func (c *TuningConfig) GetYawBins() int {
	if c.YawBins == nil {
		return 360
	}
	return *c.YawBins
}

// GetNumReduced returns the num_reduced value or the default.
func (c *TuningConfig) GetNumReduced() int {
	if c.NumReduced == nil {
		return 2000
	}
	return *c.NumReduced
}

// GetConvergeThreshold returns the converge_threshold value or the default.
func (c *TuningConfig) GetConvergeThreshold() int {
	if c.ConvergeThreshold == nil {
		return 500
	}
	return *c.ConvergeThreshold
}

// GetMinOverlapForAngle returns the min_overlap_for_angle value or the default.
func (c *TuningConfig) GetMinOverlapForAngle() float64 {
	if c.MinOverlapForAngle == nil {
		return 0.7
	}
	return *c.MinOverlapForAngle
}

// GetDefaultWeight returns the default_weight value or the default.
func (c *TuningConfig) GetDefaultWeight() float64 {
	if c.DefaultWeight == nil {
		return 0.1
	}
	return *c.DefaultWeight
}

// GetInvalidWeight returns the invalid_weight value or the default.
func (c *TuningConfig) GetInvalidWeight() float64 {
	if c.InvalidWeight == nil {
		return 0.001
	}
	return *c.InvalidWeight
}

// GetMotionAlpha1 returns the motion_alpha1 value or the default.
func (c *TuningConfig) GetMotionAlpha1() float64 {
	if c.MotionAlpha1 == nil {
		return 0.02
	}
	return *c.MotionAlpha1
}

// GetMotionAlpha2 returns the motion_alpha2 value or the default.
func (c *TuningConfig) GetMotionAlpha2() float64 {
	if c.MotionAlpha2 == nil {
		return 0.02
	}
	return *c.MotionAlpha2
}

// GetMotionAlpha3 returns the motion_alpha3 value or the default.
func (c *TuningConfig) GetMotionAlpha3() float64 {
	if c.MotionAlpha3 == nil {
		return 0.02
	}
	return *c.MotionAlpha3
}

// GetMotionAlpha4 returns the motion_alpha4 value or the default.
func (c *TuningConfig) GetMotionAlpha4() float64 {
	if c.MotionAlpha4 == nil {
		return 0.02
	}
	return *c.MotionAlpha4
}

// GetCacheCapacity returns the cache_capacity value or the default.
func (c *TuningConfig) GetCacheCapacity() int {
	if c.CacheCapacity == nil {
		return 50000
	}
	return *c.CacheCapacity
}

// GetBatchSize returns the batch_size value or the default.
func (c *TuningConfig) GetBatchSize() int {
	if c.BatchSize == nil {
		return 256
	}
	return *c.BatchSize
}

// GetExtractWorkers returns the extract_workers value or the default.
func (c *TuningConfig) GetExtractWorkers() int {
	if c.ExtractWorkers == nil {
		return 4
	}
	return *c.ExtractWorkers
}

// GetScorerAddr returns the scorer_addr value or the default.
func (c *TuningConfig) GetScorerAddr() string {
	if c.ScorerAddr == nil {
		return ""
	}
	return *c.ScorerAddr
}
