package mcl

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/overlap-mcl/internal/config"
	"github.com/banshee-data/overlap-mcl/internal/fsutil"
	"github.com/banshee-data/overlap-mcl/internal/mcl/grid"
	"github.com/banshee-data/overlap-mcl/internal/mcl/localiser"
	"github.com/banshee-data/overlap-mcl/internal/mcl/scorer"
	"github.com/banshee-data/overlap-mcl/internal/mcl/volume"
)

const (
	testRes  = 0.2
	halfSide = 5
	dim      = (2 * halfSide) * (2 * halfSide)
)

func ptr[T any](v T) *T { return &v }

func testConfig() *config.TuningConfig {
	return &config.TuningConfig{
		DataRoot:          ptr("/data"),
		MapSequence:       ptr("map"),
		QuerySequence:     ptr("query"),
		PoseFile:          ptr("/data/query/poses.txt"),
		CalibFile:         ptr("/data/query/calib.txt"),
		Resolution:        ptr(testRes),
		NumParticles:      ptr(200),
		MoveThreshold:     ptr(0.1),
		InitMode:          ptr("map"),
		Seed:              ptr(int64(7)),
		UseYaw:            ptr(false),
		ConvergeThreshold: ptr(0),
		CacheCapacity:     ptr(1000),
		BatchSize:         ptr(16),
		ExtractWorkers:    ptr(2),
	}
}

// cellVolume is a constant background with a spike unique to the cell, so
// a cell matches itself with overlap 1 and every other cell partially.
func cellVolume(c grid.Coord) volume.Volume {
	data := make([]float32, dim)
	for i := range data {
		data[i] = 1
	}
	data[(c.X+halfSide)*2*halfSide+(c.Y+halfSide)] += 10
	return volume.Volume{Shape: []int{dim}, Data: data}
}

func writeDataset(t *testing.T, fsys *fsutil.MemoryFileSystem, cfg *config.TuningConfig) {
	t.Helper()
	store, err := volume.NewFileStore(fsys, cfg.MapVolumeDir(), cfg.QueryVolumeDir(), testRes)
	require.NoError(t, err)
	for x := -halfSide; x < halfSide; x++ {
		for y := -halfSide; y < halfSide; y++ {
			c := grid.Coord{X: x, Y: y}
			require.NoError(t, store.Save(volume.CellKey(c), cellVolume(c)))
		}
	}
	var poses string
	for i := 0; i < 3; i++ {
		// The robot drives one cell along x per frame.
		require.NoError(t, store.Save(volume.FrameKey(i), cellVolume(grid.Coord{X: i, Y: 0})))
		poses += fmt.Sprintf("1 0 0 %g 0 1 0 0 0 0 1 0\n", float64(i)*testRes)
	}
	require.NoError(t, fsys.MkdirAll("/data/query", 0o755))
	require.NoError(t, fsys.WriteFileAtomic("/data/query/poses.txt", []byte(poses), 0o644))
	require.NoError(t, fsys.WriteFileAtomic("/data/query/calib.txt", []byte("P0: 1 0 0 0 0 1 0 0 0 0 1 0\nTr: 1 0 0 0 0 1 0 0 0 0 1 0\n"), 0o644))
}

type recordCounter struct{ records []localiser.FrameRecord }

func (r *recordCounter) RecordFrame(ctx context.Context, rec localiser.FrameRecord) error {
	r.records = append(r.records, rec)
	return nil
}

func TestPipelineRunsEndToEnd(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	cfg := testConfig()
	writeDataset(t, fsys, cfg)

	p, err := Open(context.Background(), cfg, Options{FS: fsys, Scorer: scorer.CosineScorer{}})
	require.NoError(t, err)
	defer p.Close()

	rec := &recordCounter{}
	loc, err := p.NewLocaliser(rec)
	require.NoError(t, err)
	assert.Equal(t, 4*halfSide*halfSide, p.Index.Len())
	require.Len(t, p.Commands, 3)
	assert.InDelta(t, 1.0, p.Commands[1].Trans, 1e-9)
	assert.InDelta(t, 2.0, p.Truth[2].X, 1e-9)
	assert.Equal(t, 200, loc.State().Len())

	sum, err := loc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Frames)
	assert.Equal(t, 3, sum.Observations)
	require.Len(t, rec.records, 3)
	for _, r := range rec.records {
		assert.True(t, r.Observed)
		assert.False(t, math.IsNaN(r.LocationError))
	}

	cs := p.Cache.Stats()
	assert.Zero(t, cs.Computed)
	assert.Positive(t, cs.StoreLoads)
	assert.GreaterOrEqual(t, p.Client.Stats().Calls, int64(3))
	p.LogStatistics()
}

func TestPipelineRejectsMissingPaths(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	cfg := testConfig()
	writeDataset(t, fsys, cfg)
	cfg.CalibFile = nil

	p, err := Open(context.Background(), cfg, Options{FS: fsys, Scorer: scorer.CosineScorer{}})
	require.NoError(t, err)
	defer p.Close()
	_, err = p.NewLocaliser()
	assert.ErrorContains(t, err, "calib_file")
}

func TestPipelineEmptyMap(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	p, err := Open(context.Background(), testConfig(), Options{FS: fsys, Scorer: scorer.CosineScorer{}})
	require.NoError(t, err)
	defer p.Close()
	assert.ErrorIs(t, p.LoadMap(), grid.ErrEmptyMap)
}

func TestNewStateUniform(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	cfg := testConfig()
	cfg.InitMode = ptr("uniform")
	writeDataset(t, fsys, cfg)

	p, err := Open(context.Background(), cfg, Options{FS: fsys, Scorer: scorer.CosineScorer{}})
	require.NoError(t, err)
	defer p.Close()
	_, err = p.NewState()
	assert.Error(t, err)

	require.NoError(t, p.LoadMap())
	st, err := p.NewState()
	require.NoError(t, err)
	b := p.Index.Bounds()
	for _, pt := range st.Particles {
		assert.True(t, b.Contains(pt.X, pt.Y, 0))
	}
}

func TestOpenRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Resolution = ptr(-1.0)
	_, err := Open(context.Background(), cfg, Options{FS: fsutil.NewMemoryFileSystem()})
	assert.Error(t, err)
}

func TestOpenBadgerBackend(t *testing.T) {
	cfg := testConfig()
	cfg.DataRoot = ptr(t.TempDir())
	cfg.VolumeBackend = ptr("badger")
	p, err := Open(context.Background(), cfg, Options{FS: fsutil.NewMemoryFileSystem(), Scorer: scorer.CosineScorer{}})
	require.NoError(t, err)
	_, ok := p.Store.(*volume.BadgerStore)
	assert.True(t, ok)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}

type stubExtractor struct{ calls int }

func (s *stubExtractor) Extract(ctx context.Context, keys []volume.Key) ([]volume.Volume, error) {
	s.calls++
	out := make([]volume.Volume, len(keys))
	for i, k := range keys {
		out[i] = cellVolume(grid.Coord{X: k.Frame % halfSide, Y: 0})
	}
	return out, nil
}

func TestGenerateVolumes(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	cfg := testConfig()
	depth := filepath.Join("/data", "query", rangeImageDir)
	require.NoError(t, fsys.MkdirAll(depth, 0o755))
	for _, name := range []string{"000000.npy", "000001.npy", "000002.npy", "junk.npy", "notes.txt"} {
		require.NoError(t, fsys.WriteFileAtomic(filepath.Join(depth, name), nil, 0o644))
	}

	ex := &stubExtractor{}
	p, err := Open(context.Background(), cfg, Options{FS: fsys, Scorer: scorer.CosineScorer{}, Extractor: ex})
	require.NoError(t, err)
	defer p.Close()

	n, err := p.GenerateVolumes(context.Background(), volume.KindFrame)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, ex.calls)
	assert.True(t, fsys.Exists(filepath.Join(cfg.QueryVolumeDir(), "000002"+volume.FileExt)))

	// Already persisted: nothing is recomputed.
	n, err = p.GenerateVolumes(context.Background(), volume.KindFrame)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, ex.calls)
}

func TestGenerateVolumesWithoutExtractor(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	cfg := testConfig()
	depth := filepath.Join("/data", "map", rangeImageDir)
	require.NoError(t, fsys.MkdirAll(depth, 0o755))
	stem := grid.Coord{X: 1, Y: 2}.Stem(testRes)
	require.NoError(t, fsys.WriteFileAtomic(filepath.Join(depth, stem+".npy"), nil, 0o644))

	p, err := Open(context.Background(), cfg, Options{FS: fsys, Scorer: scorer.CosineScorer{}})
	require.NoError(t, err)
	defer p.Close()
	_, err = p.GenerateVolumes(context.Background(), volume.KindCell)
	assert.ErrorIs(t, err, volume.ErrNoExtractor)
}

func TestMissingQueryFrames(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	cfg := testConfig()
	writeDataset(t, fsys, cfg)
	require.NoError(t, fsys.Remove(filepath.Join(cfg.QueryVolumeDir(), "000001"+volume.FileExt)))

	p, err := Open(context.Background(), cfg, Options{FS: fsys, Scorer: scorer.CosineScorer{}})
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, p.LoadTrajectory())

	missing, err := p.MissingQueryFrames()
	require.NoError(t, err)
	assert.Equal(t, []int{1}, missing)

	cfg.StartIndex = ptr(2)
	missing, err = p.MissingQueryFrames()
	require.NoError(t, err)
	assert.Empty(t, missing)
}
