package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultTuningConfig(t *testing.T) {
	cfg := DefaultTuningConfig()

	// Test that defaults are set via pointers
	if cfg.Resolution == nil || *cfg.Resolution != 0.2 {
		t.Errorf("Expected Resolution 0.2, got %v", cfg.Resolution)
	}
	if cfg.UseYaw == nil || *cfg.UseYaw != true {
		t.Errorf("Expected UseYaw true, got %v", cfg.UseYaw)
	}
	if cfg.InitMode == nil || *cfg.InitMode != "map" {
		t.Errorf("Expected InitMode 'map', got %v", cfg.InitMode)
	}
	if cfg.NumParticles == nil || *cfg.NumParticles != 10000 {
		t.Errorf("Expected NumParticles 10000, got %v", cfg.NumParticles)
	}

	// Test getter methods
	if cfg.GetDefaultWeight() != 0.1 {
		t.Errorf("GetDefaultWeight() = %f, want 0.1", cfg.GetDefaultWeight())
	}
	if cfg.GetInvalidWeight() != 0.001 {
		t.Errorf("GetInvalidWeight() = %f, want 0.001", cfg.GetInvalidWeight())
	}
	if cfg.GetCacheCapacity() != 50000 {
		t.Errorf("GetCacheCapacity() = %d, want 50000", cfg.GetCacheCapacity())
	}
	if cfg.GetScorerAddr() != "" {
		t.Errorf("GetScorerAddr() = %q, want empty", cfg.GetScorerAddr())
	}
}

func TestDefaultsFileMatchesGetters(t *testing.T) {
	fromFile := MustLoadDefaultConfig()
	builtIn := DefaultTuningConfig()

	if fromFile.GetResolution() != builtIn.GetResolution() {
		t.Errorf("resolution: file %v, built-in %v", fromFile.GetResolution(), builtIn.GetResolution())
	}
	if fromFile.GetNumReduced() != builtIn.GetNumReduced() {
		t.Errorf("num_reduced: file %v, built-in %v", fromFile.GetNumReduced(), builtIn.GetNumReduced())
	}
	if fromFile.GetConvergeThreshold() != builtIn.GetConvergeThreshold() {
		t.Errorf("converge_threshold: file %v, built-in %v", fromFile.GetConvergeThreshold(), builtIn.GetConvergeThreshold())
	}
	if fromFile.GetMinOverlapForAngle() != builtIn.GetMinOverlapForAngle() {
		t.Errorf("min_overlap_for_angle: file %v, built-in %v", fromFile.GetMinOverlapForAngle(), builtIn.GetMinOverlapForAngle())
	}
	if fromFile.GetBatchSize() != builtIn.GetBatchSize() {
		t.Errorf("batch_size: file %v, built-in %v", fromFile.GetBatchSize(), builtIn.GetBatchSize())
	}
}

func TestLoadTuningConfigJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "resolution": 0.5,
  "use_yaw": false,
  "num_particles": 500,
  "init_mode": "uniform",
  "scorer_addr": "localhost:50051"
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetResolution() != 0.5 {
		t.Errorf("Expected Resolution 0.5, got %v", cfg.GetResolution())
	}
	if cfg.GetUseYaw() != false {
		t.Errorf("Expected UseYaw false, got %v", cfg.GetUseYaw())
	}
	if cfg.GetNumParticles() != 500 {
		t.Errorf("Expected NumParticles 500, got %v", cfg.GetNumParticles())
	}
	if cfg.GetInitMode() != "uniform" {
		t.Errorf("Expected InitMode uniform, got %v", cfg.GetInitMode())
	}
	if cfg.GetScorerAddr() != "localhost:50051" {
		t.Errorf("Expected ScorerAddr localhost:50051, got %v", cfg.GetScorerAddr())
	}
	// Omitted fields fall back to defaults
	if cfg.GetYawSigmaDeg() != 5.0 {
		t.Errorf("Expected default YawSigmaDeg 5.0, got %v", cfg.GetYawSigmaDeg())
	}
}

func TestLoadTuningConfigYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "localisation.yml")

	testYAML := `
data_root: /data
map_sequence: "07"
query_sequence: "07_query"
pose_file: /data/poses.txt
calib_file: /data/calib.txt
resolution: 0.2
num_reduced: 1000
converge_threshold: 300
seed: 42
`
	if err := os.WriteFile(configPath, []byte(testYAML), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.GetNumReduced() != 1000 {
		t.Errorf("Expected NumReduced 1000, got %d", cfg.GetNumReduced())
	}
	if cfg.GetConvergeThreshold() != 300 {
		t.Errorf("Expected ConvergeThreshold 300, got %d", cfg.GetConvergeThreshold())
	}
	if cfg.GetSeed() != 42 {
		t.Errorf("Expected Seed 42, got %d", cfg.GetSeed())
	}
	if err := cfg.ValidateRunPaths(); err != nil {
		t.Errorf("ValidateRunPaths() = %v, want nil", err)
	}
	if got, want := cfg.MapVolumeDir(), filepath.Join("/data", "07", "feature_volumes"); got != want {
		t.Errorf("MapVolumeDir() = %q, want %q", got, want)
	}
	if got, want := cfg.QueryVolumeDir(), filepath.Join("/data", "07_query", "feature_volumes"); got != want {
		t.Errorf("QueryVolumeDir() = %q, want %q", got, want)
	}
}

func TestLoadTuningConfigMissing(t *testing.T) {
	_, err := LoadTuningConfig("/nonexistent/path/to/config.json")
	if err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadTuningConfigBadExtension(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(configPath, []byte("resolution = 0.2"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTuningConfig(configPath); err == nil {
		t.Error("Expected error for unsupported extension, got nil")
	}
}

func TestLoadTuningConfigInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid_config.json")

	invalidJSON := `{
  "resolution": "invalid"
`
	if err := os.WriteFile(configPath, []byte(invalidJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadTuningConfig(configPath)
	if err == nil {
		t.Error("Expected error when loading invalid JSON, got nil")
	}
}

func TestLoadTuningConfigFailsValidation(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad.json")
	if err := os.WriteFile(configPath, []byte(`{"invalid_weight": 0}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTuningConfig(configPath); err == nil {
		t.Error("Expected validation error for zero invalid_weight, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *TuningConfig
		wantErr bool
	}{
		{name: "valid config", cfg: DefaultTuningConfig(), wantErr: false},
		{name: "empty config is valid", cfg: &TuningConfig{}, wantErr: false},
		{name: "zero resolution", cfg: &TuningConfig{Resolution: ptrFloat64(0)}, wantErr: true},
		{name: "negative particles", cfg: &TuningConfig{NumParticles: ptrInt(-1)}, wantErr: true},
		{name: "negative start index", cfg: &TuningConfig{StartIndex: ptrInt(-3)}, wantErr: true},
		{name: "unknown init mode", cfg: &TuningConfig{InitMode: ptrString("gaussian")}, wantErr: true},
		{name: "unknown backend", cfg: &TuningConfig{VolumeBackend: ptrString("s3")}, wantErr: true},
		{name: "badger backend", cfg: &TuningConfig{VolumeBackend: ptrString("badger")}, wantErr: false},
		{name: "zero yaw sigma", cfg: &TuningConfig{YawSigmaDeg: ptrFloat64(0)}, wantErr: true},
		{name: "overlap threshold above one", cfg: &TuningConfig{MinOverlapForAngle: ptrFloat64(1.5)}, wantErr: true},
		{name: "zero default weight", cfg: &TuningConfig{DefaultWeight: ptrFloat64(0)}, wantErr: true},
		{name: "negative motion alpha", cfg: &TuningConfig{MotionAlpha3: ptrFloat64(-0.1)}, wantErr: true},
		{name: "zero cache capacity", cfg: &TuningConfig{CacheCapacity: ptrInt(0)}, wantErr: true},
		{name: "zero batch size", cfg: &TuningConfig{BatchSize: ptrInt(0)}, wantErr: true},
		{name: "zero workers", cfg: &TuningConfig{ExtractWorkers: ptrInt(0)}, wantErr: true},
		{name: "negative num_reduced disables reduction", cfg: &TuningConfig{NumReduced: ptrInt(-1)}, wantErr: false},
		{name: "zero num_reduced", cfg: &TuningConfig{NumReduced: ptrInt(0)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRunPathsMissing(t *testing.T) {
	cfg := DefaultTuningConfig()
	cfg.DataRoot = ptrString("/data")
	if err := cfg.ValidateRunPaths(); err == nil {
		t.Error("Expected error for missing map_sequence, got nil")
	}
}
