package scorer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/banshee-data/overlap-mcl/internal/mcl/grid"
	"github.com/banshee-data/overlap-mcl/internal/mcl/volume"
)

// ErrResponseMismatch is returned when a scorer answers with a different
// number of results than it was asked for.
var ErrResponseMismatch = errors.New("scorer: response length does not match request")

// Capabilities describes what a scorer produces.
type Capabilities struct {
	// Yaw is set when the scorer returns a yaw histogram per map volume.
	Yaw bool `json:"yaw"`
	// YawBins is the histogram length when Yaw is set.
	YawBins int `json:"yaw_bins"`
}

// Result holds one overlap per map volume, in request order, and, when the
// scorer supports it, one yaw histogram per map volume.
type Result struct {
	Overlaps      []float64
	YawHistograms [][]float64
}

// Scorer compares a query volume against map volumes.
type Scorer interface {
	Capabilities() Capabilities
	Score(ctx context.Context, query volume.Volume, maps []volume.Volume) (Result, error)
}

// Resolver returns one volume per key in key order.
type Resolver interface {
	Resolve(ctx context.Context, keys []volume.Key) ([]volume.Volume, error)
}

// BatchClient answers inference requests for one query frame against many
// map cells. Volumes come from the resolver and are sent to the scorer in
// chunks of at most batchSize map volumes.
type BatchClient struct {
	volumes   Resolver
	scorer    Scorer
	batchSize int

	calls  atomic.Int64
	scored atomic.Int64
}

// NewBatchClient wires a resolver to a scorer.
func NewBatchClient(volumes Resolver, sc Scorer, batchSize int) (*BatchClient, error) {
	if volumes == nil || sc == nil {
		return nil, fmt.Errorf("batch client requires a resolver and a scorer")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("invalid batch size %d", batchSize)
	}
	return &BatchClient{volumes: volumes, scorer: sc, batchSize: batchSize}, nil
}

// Capabilities reports the wrapped scorer's capabilities.
func (c *BatchClient) Capabilities() Capabilities {
	return c.scorer.Capabilities()
}

// Infer scores frame against every cell. Results are aligned with cells.
func (c *BatchClient) Infer(ctx context.Context, frame int, cells []grid.Coord) (Result, error) {
	if len(cells) == 0 {
		return Result{}, nil
	}
	keys := make([]volume.Key, 0, len(cells)+1)
	keys = append(keys, volume.FrameKey(frame))
	for _, cell := range cells {
		keys = append(keys, volume.CellKey(cell))
	}
	vols, err := c.volumes.Resolve(ctx, keys)
	if err != nil {
		return Result{}, fmt.Errorf("resolve volumes for frame %d: %w", frame, err)
	}
	if len(vols) != len(keys) {
		return Result{}, fmt.Errorf("resolver returned %d volumes for %d keys", len(vols), len(keys))
	}
	query, maps := vols[0], vols[1:]

	withYaw := c.scorer.Capabilities().Yaw
	out := Result{Overlaps: make([]float64, 0, len(maps))}
	if withYaw {
		out.YawHistograms = make([][]float64, 0, len(maps))
	}
	for start := 0; start < len(maps); start += c.batchSize {
		chunk := maps[start:min(start+c.batchSize, len(maps))]
		res, err := c.scorer.Score(ctx, query, chunk)
		c.calls.Add(1)
		if err != nil {
			return Result{}, fmt.Errorf("score frame %d: %w", frame, err)
		}
		if len(res.Overlaps) != len(chunk) {
			return Result{}, fmt.Errorf("%w: %d overlaps for %d volumes", ErrResponseMismatch, len(res.Overlaps), len(chunk))
		}
		if withYaw && len(res.YawHistograms) != len(chunk) {
			return Result{}, fmt.Errorf("%w: %d yaw histograms for %d volumes", ErrResponseMismatch, len(res.YawHistograms), len(chunk))
		}
		out.Overlaps = append(out.Overlaps, res.Overlaps...)
		if withYaw {
			out.YawHistograms = append(out.YawHistograms, res.YawHistograms...)
		}
		c.scored.Add(int64(len(chunk)))
	}
	tracef("frame %d: scored %d cells", frame, len(maps))
	return out, nil
}

// ClientStats counts scorer traffic.
type ClientStats struct {
	Calls  int64
	Scored int64
}

// Stats returns a snapshot of the client counters.
func (c *BatchClient) Stats() ClientStats {
	return ClientStats{Calls: c.calls.Load(), Scored: c.scored.Load()}
}
