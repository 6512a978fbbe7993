// Package mcl assembles a localisation run from the tuning config: the
// volume store and cache, the scorer, the map index and sensor model, the
// trajectory and motion commands, and the initial particle population.
//
// Dependency rule: mcl may import every internal/mcl subpackage, config and
// fsutil. Only cmd/ imports mcl.
package mcl

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/banshee-data/overlap-mcl/internal/config"
	"github.com/banshee-data/overlap-mcl/internal/fsutil"
	"github.com/banshee-data/overlap-mcl/internal/mcl/geometry"
	"github.com/banshee-data/overlap-mcl/internal/mcl/grid"
	"github.com/banshee-data/overlap-mcl/internal/mcl/localiser"
	"github.com/banshee-data/overlap-mcl/internal/mcl/motion"
	"github.com/banshee-data/overlap-mcl/internal/mcl/particle"
	"github.com/banshee-data/overlap-mcl/internal/mcl/scorer"
	"github.com/banshee-data/overlap-mcl/internal/mcl/sensor"
	"github.com/banshee-data/overlap-mcl/internal/mcl/volume"
)

const (
	// BackendFile keeps one file per volume under the sequence directories.
	BackendFile = "file"
	// BackendBadger keeps volumes in a badger store under data_root.
	BackendBadger = "badger"

	// InitMap seeds particles on map cells.
	InitMap = "map"
	// InitUniform spreads particles uniformly over the map bounds.
	InitUniform = "uniform"

	rangeImageDir = "depth"
	rangeImageExt = ".npy"
	badgerDir     = "feature_volumes.badger"
)

// Options overrides pipeline components, mainly for tests.
type Options struct {
	// FS defaults to the OS filesystem.
	FS fsutil.FileSystem
	// Scorer replaces the configured scorer.
	Scorer scorer.Scorer
	// Extractor replaces the configured extractor.
	Extractor volume.Extractor
	// RecordParticles attaches a population snapshot to every frame record.
	RecordParticles bool
}

// Pipeline owns the long-lived components of a run.
type Pipeline struct {
	cfg             *config.TuningConfig
	fs              fsutil.FileSystem
	recordParticles bool

	Store  volume.Store
	Cache  *volume.Cache
	Client *scorer.BatchClient

	Index    *grid.Index
	Model    *sensor.Model
	Commands []motion.Command
	Truth    []geometry.Pose2D

	closers []func() error
}

// Open builds the store, scorer and cache. The map and trajectory are
// loaded lazily by NewLocaliser.
func Open(ctx context.Context, cfg *config.TuningConfig, opts Options) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	p := &Pipeline{cfg: cfg, fs: opts.FS, recordParticles: opts.RecordParticles}
	if p.fs == nil {
		p.fs = fsutil.OSFileSystem{}
	}
	if err := p.open(ctx, opts); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) open(ctx context.Context, opts Options) error {
	res := p.cfg.GetResolution()
	switch backend := p.cfg.GetVolumeBackend(); backend {
	case BackendFile:
		st, err := volume.NewFileStore(p.fs, p.cfg.MapVolumeDir(), p.cfg.QueryVolumeDir(), res)
		if err != nil {
			return err
		}
		p.Store = st
	case BackendBadger:
		st, err := volume.OpenBadgerStore(volume.BadgerOptions{
			Dir:        filepath.Join(p.cfg.GetDataRoot(), badgerDir),
			Resolution: res,
		})
		if err != nil {
			return err
		}
		p.Store = st
		p.closers = append(p.closers, st.Close)
	default:
		return fmt.Errorf("unknown volume backend %q", backend)
	}

	sc, ex := opts.Scorer, opts.Extractor
	if sc == nil {
		if addr := p.cfg.GetScorerAddr(); addr != "" {
			conn, err := scorer.Dial(addr)
			if err != nil {
				return err
			}
			p.closers = append(p.closers, conn.Close)
			remote, err := scorer.NewGRPCScorer(ctx, conn)
			if err != nil {
				return err
			}
			sc = remote
			if ex == nil {
				ex = scorer.NewGRPCExtractor(conn)
			}
			Opsf("using remote scorer at %s", addr)
		} else {
			local := scorer.CosineScorer{}
			if p.cfg.GetUseYaw() {
				local.YawBins = p.cfg.GetYawBins()
			}
			sc = local
			Opsf("using local cosine scorer; volumes must already be persisted")
		}
	}

	cache, err := volume.NewCache(volume.CacheConfig{
		Capacity:  p.cfg.GetCacheCapacity(),
		BatchSize: p.cfg.GetBatchSize(),
		Workers:   p.cfg.GetExtractWorkers(),
	}, p.Store, ex)
	if err != nil {
		return err
	}
	p.Cache = cache

	client, err := scorer.NewBatchClient(cache, sc, p.cfg.GetBatchSize())
	if err != nil {
		return err
	}
	p.Client = client
	return nil
}

// LoadMap discovers the map cells in the store and builds the sensor model.
func (p *Pipeline) LoadMap() error {
	cells, err := p.Store.ListCells()
	if err != nil {
		return fmt.Errorf("list map cells: %w", err)
	}
	ix, err := grid.NewIndex(cells)
	if err != nil {
		return err
	}
	model, err := sensor.NewModel(sensor.ConfigFromTuning(p.cfg), ix, p.Client)
	if err != nil {
		return err
	}
	b := ix.Bounds()
	Diagf("map: %d cells, x=[%d,%d] y=[%d,%d]", ix.Len(), b.XMin, b.XMax, b.YMin, b.YMax)
	p.Index, p.Model = ix, model
	return nil
}

// LoadTrajectory reads the query poses and calibration, converts them into
// the sensor frame, and derives motion commands and ground truth.
func (p *Pipeline) LoadTrajectory() error {
	poses, err := geometry.LoadPoses(p.fs, p.cfg.GetPoseFile())
	if err != nil {
		return err
	}
	tr, err := geometry.LoadCalib(p.fs, p.cfg.GetCalibFile())
	if err != nil {
		return err
	}
	poses, err = geometry.ToSensorFrame(poses, tr)
	if err != nil {
		return err
	}
	res := p.cfg.GetResolution()
	p.Commands = motion.GenerateCommands(poses, res)
	p.Truth = make([]geometry.Pose2D, len(poses))
	for i, pose := range poses {
		p.Truth[i] = pose.Planar(res)
	}
	Diagf("trajectory: %d poses", len(poses))
	return nil
}

// NewState draws the initial population according to init_mode.
func (p *Pipeline) NewState() (*particle.State, error) {
	if p.Index == nil {
		return nil, errors.New("map not loaded")
	}
	st := particle.NewState(p.cfg.GetSeed())
	n := p.cfg.GetNumParticles()
	switch mode := p.cfg.GetInitMode(); mode {
	case InitMap:
		if err := st.InitOnCoords(n, p.Index.Coords()); err != nil {
			return nil, err
		}
	case InitUniform:
		st.InitUniform(n, p.Index.Bounds())
	default:
		return nil, fmt.Errorf("unknown init mode %q", mode)
	}
	return st, nil
}

// NewLocaliser loads whatever is missing and returns a localiser over a
// fresh population.
func (p *Pipeline) NewLocaliser(recorders ...localiser.Recorder) (*localiser.Localiser, error) {
	if err := p.cfg.ValidateRunPaths(); err != nil {
		return nil, err
	}
	if p.Model == nil {
		if err := p.LoadMap(); err != nil {
			return nil, err
		}
	}
	if p.Commands == nil {
		if err := p.LoadTrajectory(); err != nil {
			return nil, err
		}
	}
	missing, err := p.MissingQueryFrames()
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		Opsf("%d query frames have no persisted volume (first %d); they must be extracted during the run", len(missing), missing[0])
	}
	st, err := p.NewState()
	if err != nil {
		return nil, err
	}
	lcfg := localiser.ConfigFromTuning(p.cfg)
	lcfg.RecordParticles = p.recordParticles
	return localiser.New(lcfg, st, p.Model, p.Commands, motion.NoiseFromTuning(p.cfg), p.Truth, recorders...)
}

// frameLister is implemented by stores that can enumerate query frames.
type frameLister interface {
	ListFrames() ([]int, error)
}

// MissingQueryFrames returns the frames from start_index to the end of the
// trajectory that have no persisted query volume. Stores that cannot
// enumerate frames report none.
func (p *Pipeline) MissingQueryFrames() ([]int, error) {
	fl, ok := p.Store.(frameLister)
	if !ok {
		return nil, nil
	}
	frames, err := fl.ListFrames()
	if err != nil {
		return nil, fmt.Errorf("list query frames: %w", err)
	}
	have := make(map[int]struct{}, len(frames))
	for _, f := range frames {
		have[f] = struct{}{}
	}
	var missing []int
	for f := p.cfg.GetStartIndex(); f < len(p.Commands); f++ {
		if _, ok := have[f]; !ok {
			missing = append(missing, f)
		}
	}
	return missing, nil
}

// GenerateVolumes resolves, and so computes and persists, the volume of
// every range image of the map or query sequence. It returns the number of
// volumes resolved.
func (p *Pipeline) GenerateVolumes(ctx context.Context, kind volume.Kind) (int, error) {
	seq := p.cfg.GetMapSequence()
	if kind == volume.KindFrame {
		seq = p.cfg.GetQuerySequence()
	}
	dir := filepath.Join(p.cfg.GetDataRoot(), seq, rangeImageDir)
	names, err := p.fs.ListFiles(dir, rangeImageExt)
	if err != nil {
		return 0, fmt.Errorf("list range images in %s: %w", dir, err)
	}

	keys := make([]volume.Key, 0, len(names))
	for _, name := range names {
		stem := strings.TrimSuffix(name, rangeImageExt)
		if kind == volume.KindFrame {
			idx, err := grid.ParseFrameStem(stem)
			if err != nil {
				Diagf("skipping %s: %v", name, err)
				continue
			}
			keys = append(keys, volume.FrameKey(idx))
			continue
		}
		c, err := grid.ParseStem(stem, p.cfg.GetResolution())
		if err != nil {
			Diagf("skipping %s: %v", name, err)
			continue
		}
		keys = append(keys, volume.CellKey(c))
	}

	chunk := p.cfg.GetBatchSize() * p.cfg.GetExtractWorkers()
	done := 0
	for start := 0; start < len(keys); start += chunk {
		end := min(start+chunk, len(keys))
		if _, err := p.Cache.Resolve(ctx, keys[start:end]); err != nil {
			return done, err
		}
		done = end
		Diagf("%s volumes: %d/%d", kind, done, len(keys))
	}
	return done, nil
}

// LogStatistics reports cache and scorer counters on the ops stream.
func (p *Pipeline) LogStatistics() {
	cs := p.Cache.Stats()
	ss := p.Client.Stats()
	Opsf("cache: hits=%d misses=%d store_loads=%d computed=%d persist_failures=%d resident=%d",
		cs.Hits, cs.Misses, cs.StoreLoads, cs.Computed, cs.PersistFailures, p.Cache.Len())
	Opsf("scorer: calls=%d scored=%d", ss.Calls, ss.Scored)
}

// Close releases the store and transport. It is safe to call more than once.
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}
