package grid

import (
	"errors"
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// ErrEmptyMap is returned when an index is built from no map cells.
var ErrEmptyMap = errors.New("grid: map has no cells")

// Bounds is the inclusive axis-aligned box of map cells.
type Bounds struct {
	XMin, XMax int
	YMin, YMax int
}

// Width is the number of columns spanned by the bounds.
func (b Bounds) Width() int { return b.XMax - b.XMin + 1 }

// Height is the number of rows spanned by the bounds.
func (b Bounds) Height() int { return b.YMax - b.YMin + 1 }

// Contains reports whether a position in grid units lies inside the bounds
// shrunk by offset cells on every side.
func (b Bounds) Contains(x, y float64, offset int) bool {
	if x < float64(b.XMin+offset) || x > float64(b.XMax-offset) {
		return false
	}
	if y < float64(b.YMin+offset) || y > float64(b.YMax-offset) {
		return false
	}
	return true
}

// Orb converts the bounds to metric coordinates.
func (b Bounds) Orb(resolution float64) orb.Bound {
	return orb.Bound{
		Min: orb.Point{float64(b.XMin) * resolution, float64(b.YMin) * resolution},
		Max: orb.Point{float64(b.XMax) * resolution, float64(b.YMax) * resolution},
	}
}

// Index is the set of map cells that have a persisted feature volume.
// It is immutable once built.
type Index struct {
	cells  map[Coord]struct{}
	coords []Coord
	bounds Bounds
}

// NewIndex builds an index from the given cells. Duplicates are collapsed.
func NewIndex(coords []Coord) (*Index, error) {
	if len(coords) == 0 {
		return nil, ErrEmptyMap
	}
	ix := &Index{cells: make(map[Coord]struct{}, len(coords))}
	mp := make(orb.MultiPoint, 0, len(coords))
	for _, c := range coords {
		if _, ok := ix.cells[c]; ok {
			continue
		}
		ix.cells[c] = struct{}{}
		ix.coords = append(ix.coords, c)
		mp = append(mp, orb.Point{float64(c.X), float64(c.Y)})
	}
	sort.Slice(ix.coords, func(i, j int) bool {
		if ix.coords[i].X != ix.coords[j].X {
			return ix.coords[i].X < ix.coords[j].X
		}
		return ix.coords[i].Y < ix.coords[j].Y
	})

	bound := mp.Bound()
	ix.bounds = Bounds{
		XMin: int(math.Round(bound.Min.X())),
		XMax: int(math.Round(bound.Max.X())),
		YMin: int(math.Round(bound.Min.Y())),
		YMax: int(math.Round(bound.Max.Y())),
	}
	return ix, nil
}

// Has reports whether the cell has a map volume.
func (ix *Index) Has(c Coord) bool {
	_, ok := ix.cells[c]
	return ok
}

// Len returns the number of distinct map cells.
func (ix *Index) Len() int { return len(ix.coords) }

// Coords returns the map cells sorted by X then Y. Callers must not modify
// the returned slice.
func (ix *Index) Coords() []Coord { return ix.coords }

// Bounds returns the bounding box of all map cells.
func (ix *Index) Bounds() Bounds { return ix.bounds }
