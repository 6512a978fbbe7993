package sensor

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/overlap-mcl/internal/mcl/geometry"
	"github.com/banshee-data/overlap-mcl/internal/mcl/grid"
	"github.com/banshee-data/overlap-mcl/internal/mcl/particle"
	"github.com/banshee-data/overlap-mcl/internal/mcl/scorer"
)

// Inferer answers one batched overlap request per frame.
type Inferer interface {
	Capabilities() scorer.Capabilities
	Infer(ctx context.Context, frame int, cells []grid.Coord) (scorer.Result, error)
}

// UpdateStats summarises one observation update.
type UpdateStats struct {
	Frame int
	// Ran is set when an inference was issued and weights were updated.
	// An update with no requestable cells leaves the population untouched.
	Ran bool
	// Requested is the number of distinct cells sent for inference.
	Requested int
	// Occupied is the number of requested cells read by at least one
	// in-bounds particle.
	Occupied int
	// OutOfBounds counts particles weighted by InvalidWeight.
	OutOfBounds int
	// Unscored counts in-bounds particles on cells with no map volume.
	Unscored int
	// Converged is set on the update that declared convergence.
	Converged bool
	// Population is the population size after the update.
	Population int
}

// Model is the overlap observation model for one map. It keeps a lookup
// table sized to the map bounds and reuses it across frames, so a Model
// must not be shared between goroutines.
type Model struct {
	cfg     Config
	index   *grid.Index
	bounds  grid.Bounds
	inferer Inferer
	useYaw  bool
	lut     *grid.LookupTable
}

// NewModel builds a model over the map index. The yaw term is enabled only
// when cfg.UseYaw is set and the inferer reports yaw capability.
func NewModel(cfg Config, index *grid.Index, inf Inferer) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sensor config: %w", err)
	}
	if index == nil {
		return nil, grid.ErrEmptyMap
	}
	if inf == nil {
		return nil, fmt.Errorf("sensor model requires an inferer")
	}
	caps := inf.Capabilities()
	useYaw := cfg.UseYaw && caps.Yaw
	if cfg.UseYaw && !caps.Yaw {
		opsf("scorer provides no yaw histograms; yaw term disabled")
	}
	b := index.Bounds()
	diagf("map bounds x=[%d,%d] y=[%d,%d], %d cells, yaw=%v", b.XMin, b.XMax, b.YMin, b.YMax, index.Len(), useYaw)
	return &Model{
		cfg:     cfg,
		index:   index,
		bounds:  b,
		inferer: inf,
		useYaw:  useYaw,
		lut:     grid.NewLookupTable(b),
	}, nil
}

// UsesYaw reports whether the yaw term is active.
func (m *Model) UsesYaw() bool { return m.useYaw }

// Update reweights st against query frame. At most one inference request
// is issued per call, covering every distinct map cell under an in-bounds
// particle.
func (m *Model) Update(ctx context.Context, st *particle.State, frame int) (UpdateStats, error) {
	stats := UpdateStats{Frame: frame}
	n := len(st.Particles)
	inBounds := make([]bool, n)

	m.lut.Reset()
	var requests []grid.Coord
	for i, p := range st.Particles {
		if !m.bounds.Contains(p.X, p.Y, m.cfg.BorderOffset) {
			continue
		}
		inBounds[i] = true
		c := grid.FromPosition(p.X, p.Y)
		if !m.index.Has(c) || m.lut.Get(c) != grid.NoEntry {
			continue
		}
		m.lut.Set(c, int32(len(requests)))
		requests = append(requests, c)
	}
	stats.Requested = len(requests)
	stats.Population = n
	if len(requests) == 0 {
		diagf("frame %d: no map cells under in-bounds particles, update skipped", frame)
		return stats, nil
	}

	res, err := m.inferer.Infer(ctx, frame, requests)
	if err != nil {
		return stats, fmt.Errorf("infer frame %d: %w", frame, err)
	}
	if len(res.Overlaps) != len(requests) {
		return stats, fmt.Errorf("%w: %d overlaps for %d cells", scorer.ErrResponseMismatch, len(res.Overlaps), len(requests))
	}
	if m.useYaw && len(res.YawHistograms) != len(requests) {
		return stats, fmt.Errorf("%w: %d yaw histograms for %d cells", scorer.ErrResponseMismatch, len(res.YawHistograms), len(requests))
	}
	stats.Ran = true

	overlaps := make([]float64, len(requests))
	var yaws []float64
	if m.useYaw {
		yaws = make([]float64, len(requests))
	}
	for j := range requests {
		overlaps[j] = clampUnit(res.Overlaps[j])
		if m.useYaw && overlaps[j] >= m.cfg.MinOverlapForAngle {
			yaws[j] = YawFromHistogram(res.YawHistograms[j])
		}
	}

	used := make([]bool, len(requests))
	twoSigmaSq := 2 * m.cfg.YawSigma * m.cfg.YawSigma
	for i := range st.Particles {
		p := &st.Particles[i]
		if !inBounds[i] {
			p.Weight *= m.cfg.InvalidWeight
			stats.OutOfBounds++
			continue
		}
		idx := m.lut.Get(grid.FromPosition(p.X, p.Y))
		if idx == grid.NoEntry {
			p.Weight *= m.cfg.DefaultWeight
			stats.Unscored++
			continue
		}
		used[idx] = true
		mult := overlaps[idx]
		if m.useYaw {
			yawTerm := m.cfg.DefaultWeight
			if overlaps[idx] >= m.cfg.MinOverlapForAngle {
				d := geometry.AngleDiff(yaws[idx], p.Theta)
				yawTerm = math.Exp(-d * d / twoSigmaSq)
			}
			mult *= yawTerm
		}
		p.Weight *= mult
	}
	for _, u := range used {
		if u {
			stats.Occupied++
		}
	}

	if !st.Converged && stats.Occupied < m.cfg.ConvergeThreshold {
		st.Converged = true
		stats.Converged = true
		if m.cfg.NumReduced >= 0 && m.cfg.NumReduced < n {
			reduce(st, m.cfg.NumReduced)
		}
		opsf("frame %d: converged with %d occupied cells, population %d -> %d", frame, stats.Occupied, n, len(st.Particles))
	}

	if err := st.NormalizeMax(); err != nil {
		return stats, fmt.Errorf("frame %d: %w", frame, err)
	}
	stats.Population = len(st.Particles)
	tracef("frame %d: requested=%d occupied=%d out_of_bounds=%d unscored=%d", frame, stats.Requested, stats.Occupied, stats.OutOfBounds, stats.Unscored)
	return stats, nil
}

// YawFromHistogram converts the argmax bin of a yaw histogram to radians.
// The centre bin is zero; bins run from +π down to just above -π.
func YawFromHistogram(h []float64) float64 {
	if len(h) == 0 {
		return 0
	}
	bins := len(h)
	idx := floats.MaxIdx(h)
	return geometry.WrapAngle(-float64(idx-bins/2) * 2 * math.Pi / float64(bins))
}

// reduce keeps the keep highest-weighted particles, ordered by weight.
func reduce(st *particle.State, keep int) {
	order := make([]int, len(st.Particles))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return st.Particles[order[a]].Weight > st.Particles[order[b]].Weight
	})
	kept := make([]particle.Particle, keep)
	for i := range kept {
		kept[i] = st.Particles[order[i]]
	}
	st.Particles = kept
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return math.Min(v, 1)
}
