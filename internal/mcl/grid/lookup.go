package grid

// NoEntry marks a lookup table slot with no assigned request.
const NoEntry int32 = -1

// LookupTable maps each cell within Bounds to an index into the current
// frame's request list. Row 0 is YMax so the layout matches an image of the
// map with north up.
type LookupTable struct {
	bounds Bounds
	width  int
	slots  []int32
}

// NewLookupTable allocates a table covering b with every slot empty.
func NewLookupTable(b Bounds) *LookupTable {
	t := &LookupTable{
		bounds: b,
		width:  b.Width(),
		slots:  make([]int32, b.Width()*b.Height()),
	}
	t.Reset()
	return t
}

// Reset clears every slot. The table can then be reused for the next frame.
func (t *LookupTable) Reset() {
	for i := range t.slots {
		t.slots[i] = NoEntry
	}
}

func (t *LookupTable) offset(c Coord) (int, bool) {
	if c.X < t.bounds.XMin || c.X > t.bounds.XMax || c.Y < t.bounds.YMin || c.Y > t.bounds.YMax {
		return 0, false
	}
	row := t.bounds.YMax - c.Y
	col := c.X - t.bounds.XMin
	return row*t.width + col, true
}

// Get returns the request index stored for c, or NoEntry.
func (t *LookupTable) Get(c Coord) int32 {
	off, ok := t.offset(c)
	if !ok {
		return NoEntry
	}
	return t.slots[off]
}

// Set stores idx for c. Cells outside the bounds are ignored and Set
// reports false.
func (t *LookupTable) Set(c Coord, idx int32) bool {
	off, ok := t.offset(c)
	if !ok {
		return false
	}
	t.slots[off] = idx
	return true
}
