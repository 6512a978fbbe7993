package grid

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Coord is a map cell index at a fixed resolution. The metric position of
// the cell centre is (X*r, Y*r).
type Coord struct {
	X int
	Y int
}

// FromPosition rounds a position in grid units to the nearest cell.
func FromPosition(x, y float64) Coord {
	return Coord{X: int(math.Round(x)), Y: int(math.Round(y))}
}

// Metric returns the cell centre in metres.
func (c Coord) Metric(resolution float64) (float64, float64) {
	return float64(c.X) * resolution, float64(c.Y) * resolution
}

// Stem returns the file stem of the cell: the metric coordinates as
// zero-padded, signed, two-decimal fixed-point strings joined by "_",
// e.g. "+000012.40_-000003.20".
func (c Coord) Stem(resolution float64) string {
	mx, my := c.Metric(resolution)
	return formatFixed(mx) + "_" + formatFixed(my)
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

func formatFixed(v float64) string {
	// -0.00 would otherwise collide with +0.00 on disk.
	if v == 0 || math.Abs(v) < 0.005 {
		v = 0
	}
	return fmt.Sprintf("%+010.2f", v)
}

// ParseStem parses a cell stem produced by Coord.Stem back into a Coord at
// the given resolution.
func ParseStem(stem string, resolution float64) (Coord, error) {
	if resolution <= 0 {
		return Coord{}, fmt.Errorf("invalid resolution %f", resolution)
	}
	parts := strings.Split(stem, "_")
	if len(parts) != 2 {
		return Coord{}, fmt.Errorf("cell stem %q: want 2 fields, got %d", stem, len(parts))
	}
	mx, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return Coord{}, fmt.Errorf("cell stem %q: invalid x: %w", stem, err)
	}
	my, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return Coord{}, fmt.Errorf("cell stem %q: invalid y: %w", stem, err)
	}
	return FromPosition(mx/resolution, my/resolution), nil
}

// FrameStem returns the file stem of a query frame: the index zero-padded
// to six digits.
func FrameStem(idx int) string {
	return fmt.Sprintf("%06d", idx)
}

// ParseFrameStem parses a query frame stem.
func ParseFrameStem(stem string) (int, error) {
	idx, err := strconv.Atoi(stem)
	if err != nil {
		return 0, fmt.Errorf("frame stem %q: %w", stem, err)
	}
	if idx < 0 {
		return 0, fmt.Errorf("frame stem %q: negative index", stem)
	}
	return idx, nil
}
