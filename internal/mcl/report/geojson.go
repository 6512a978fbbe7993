package report

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/banshee-data/overlap-mcl/internal/fsutil"
	"github.com/banshee-data/overlap-mcl/internal/mcl/grid"
)

// FeatureCollection returns the run as GeoJSON in local metric
// coordinates: an "estimate" LineString, a "truth" LineString when ground
// truth exists, and one Point per frame with its error and flags. The bbox
// is the map footprint when map cells are known.
func (c *TrajectoryCollector) FeatureCollection() *geojson.FeatureCollection {
	samples := c.Samples()
	fc := geojson.NewFeatureCollection()
	if ix, err := grid.NewIndex(c.cells); err == nil {
		fc.BBox = geojson.NewBBox(ix.Bounds().Orb(c.resolution))
	}

	est := make(orb.LineString, 0, len(samples))
	var truth orb.LineString
	for _, s := range samples {
		est = append(est, orb.Point{s.X, s.Y})
		if s.HasTruth {
			truth = append(truth, orb.Point{s.TruthX, s.TruthY})
		}
	}
	if len(est) > 1 {
		f := geojson.NewFeature(est)
		f.Properties["name"] = "estimate"
		fc.Append(f)
	}
	if len(truth) > 1 {
		f := geojson.NewFeature(truth)
		f.Properties["name"] = "truth"
		fc.Append(f)
	}
	for _, s := range samples {
		f := geojson.NewFeature(orb.Point{s.X, s.Y})
		f.Properties["frame"] = s.Frame
		f.Properties["theta"] = s.Theta
		f.Properties["converged"] = s.Converged
		f.Properties["observed"] = s.Observed
		if s.HasTruth && !math.IsNaN(s.Error) {
			f.Properties["error_m"] = s.Error
		}
		fc.Append(f)
	}
	return fc
}

// WriteGeoJSON writes FeatureCollection to path.
func (c *TrajectoryCollector) WriteGeoJSON(fsys fsutil.FileSystem, path string) error {
	fc := c.FeatureCollection()
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal geojson: %w", err)
	}
	if err := fsys.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write geojson %s: %w", path, err)
	}
	opsf("wrote %d features to %s", len(fc.Features), path)
	return nil
}
