package report

import (
	"errors"
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// ErrNoSamples is returned when a plot is requested before any frame was
// recorded.
var ErrNoSamples = errors.New("report: no samples recorded")

var (
	mapColor      = color.RGBA{R: 200, G: 200, B: 200, A: 255}
	truthColor    = color.RGBA{R: 30, G: 30, B: 30, A: 255}
	estimateColor = color.RGBA{R: 220, G: 40, B: 40, A: 255}
	particleColor = color.RGBA{R: 40, G: 90, B: 220, A: 120}
)

// TrajectoryPlot builds the map footprint, true trajectory, estimated
// trajectory and last particle snapshot in metres.
func (c *TrajectoryCollector) TrajectoryPlot() (*plot.Plot, error) {
	samples := c.Samples()
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}

	p := plot.New()
	p.Title.Text = "Overlap MCL trajectory"
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"
	p.Add(plotter.NewGrid())

	if len(c.cells) > 0 {
		pts := make(plotter.XYs, len(c.cells))
		for i, cell := range c.cells {
			pts[i].X, pts[i].Y = cell.Metric(c.resolution)
		}
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, err
		}
		s.GlyphStyle.Color = mapColor
		s.GlyphStyle.Radius = vg.Points(0.5)
		s.GlyphStyle.Shape = draw.BoxGlyph{}
		p.Add(s)
		p.Legend.Add("map", s)
	}

	if ps := c.lastParticles(); len(ps) > 0 {
		pts := make(plotter.XYs, len(ps))
		for i, pt := range ps {
			pts[i].X, pts[i].Y = pt.X*c.resolution, pt.Y*c.resolution
		}
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, err
		}
		s.GlyphStyle.Color = particleColor
		s.GlyphStyle.Radius = vg.Points(0.8)
		p.Add(s)
		p.Legend.Add("particles", s)
	}

	var truth plotter.XYs
	est := make(plotter.XYs, len(samples))
	for i, s := range samples {
		est[i].X, est[i].Y = s.X, s.Y
		if s.HasTruth {
			truth = append(truth, plotter.XY{X: s.TruthX, Y: s.TruthY})
		}
	}
	if len(truth) > 0 {
		l, err := plotter.NewLine(truth)
		if err != nil {
			return nil, err
		}
		l.Color = truthColor
		l.Width = vg.Points(1)
		p.Add(l)
		p.Legend.Add("ground truth", l)
	}
	l, err := plotter.NewLine(est)
	if err != nil {
		return nil, err
	}
	l.Color = estimateColor
	l.Width = vg.Points(1)
	l.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(l)
	p.Legend.Add("estimate", l)

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// ErrorPlot builds the location error per frame. Frames without ground
// truth are skipped.
func (c *TrajectoryCollector) ErrorPlot() (*plot.Plot, error) {
	samples := c.Samples()
	var pts plotter.XYs
	for _, s := range samples {
		if s.HasTruth && !math.IsNaN(s.Error) {
			pts = append(pts, plotter.XY{X: float64(s.Frame), Y: s.Error})
		}
	}
	if len(pts) == 0 {
		return nil, ErrNoSamples
	}

	p := plot.New()
	p.Title.Text = "Location error"
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = "Error (m)"
	p.Add(plotter.NewGrid())
	l, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	l.Color = estimateColor
	l.Width = vg.Points(1)
	p.Add(l)
	return p, nil
}

// SavePlots writes the trajectory plot to trajectoryPath and the error
// plot to errorPath. An empty path skips that plot; the error plot is also
// skipped when no frame has ground truth.
func (c *TrajectoryCollector) SavePlots(trajectoryPath, errorPath string) error {
	if trajectoryPath != "" {
		p, err := c.TrajectoryPlot()
		if err != nil {
			return err
		}
		if err := p.Save(8*vg.Inch, 8*vg.Inch, trajectoryPath); err != nil {
			return fmt.Errorf("save trajectory plot: %w", err)
		}
		opsf("wrote trajectory plot %s", trajectoryPath)
	}
	if errorPath == "" {
		return nil
	}
	ep, err := c.ErrorPlot()
	if errors.Is(err, ErrNoSamples) {
		diagf("no ground truth; error plot skipped")
		return nil
	}
	if err != nil {
		return err
	}
	if err := ep.Save(14*vg.Inch, 6*vg.Inch, errorPath); err != nil {
		return fmt.Errorf("save error plot: %w", err)
	}
	opsf("wrote error plot %s", errorPath)
	return nil
}
