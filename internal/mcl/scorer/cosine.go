package scorer

import (
	"context"
	"fmt"
	"math"

	"github.com/viterin/vek/vek32"

	"github.com/banshee-data/overlap-mcl/internal/mcl/volume"
)

// CosineScorer scores volumes by cosine similarity, clamped to [0, 1].
//
// With YawBins > 0 it also produces yaw histograms. Volumes must then be
// 2-D with YawBins columns, one column per azimuth bin; histogram slot i
// holds the similarity after rotating the map volume by i-YawBins/2
// columns, so slot YawBins/2 is zero relative yaw.
type CosineScorer struct {
	YawBins int
}

func (s CosineScorer) Capabilities() Capabilities {
	if s.YawBins > 0 {
		return Capabilities{Yaw: true, YawBins: s.YawBins}
	}
	return Capabilities{}
}

func (s CosineScorer) Score(ctx context.Context, query volume.Volume, maps []volume.Volume) (Result, error) {
	res := Result{Overlaps: make([]float64, len(maps))}
	if s.YawBins > 0 {
		if err := s.checkYawShape(query); err != nil {
			return Result{}, fmt.Errorf("query: %w", err)
		}
		res.YawHistograms = make([][]float64, len(maps))
	}
	var rolled []float32
	for i, m := range maps {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if len(m.Data) != len(query.Data) {
			return Result{}, fmt.Errorf("map volume %d has %d values, query has %d", i, len(m.Data), len(query.Data))
		}
		res.Overlaps[i] = similarity(query.Data, m.Data)
		if s.YawBins == 0 {
			continue
		}
		if err := s.checkYawShape(m); err != nil {
			return Result{}, fmt.Errorf("map volume %d: %w", i, err)
		}
		if rolled == nil {
			rolled = make([]float32, len(m.Data))
		}
		hist := make([]float64, s.YawBins)
		for slot := range hist {
			rollColumns(rolled, m.Data, s.YawBins, slot-s.YawBins/2)
			hist[slot] = similarity(query.Data, rolled)
		}
		res.YawHistograms[i] = hist
	}
	return res, nil
}

func (s CosineScorer) checkYawShape(v volume.Volume) error {
	if len(v.Shape) != 2 || v.Shape[1] != s.YawBins {
		return fmt.Errorf("shape %v is not [rows, %d]", v.Shape, s.YawBins)
	}
	return nil
}

// similarity is cosine similarity clamped to [0, 1]; zero vectors give 0.
func similarity(a, b []float32) float64 {
	sim := float64(vek32.CosineSimilarity(a, b))
	if math.IsNaN(sim) || sim < 0 {
		return 0
	}
	return math.Min(sim, 1)
}

// rollColumns writes src with every row circularly shifted right by shift
// columns.
func rollColumns(dst, src []float32, cols, shift int) {
	shift = ((shift % cols) + cols) % cols
	for row := 0; row+cols <= len(src); row += cols {
		for c := 0; c < cols; c++ {
			dst[row+(c+shift)%cols] = src[row+c]
		}
	}
}
