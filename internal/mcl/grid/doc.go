// Package grid owns the discretised map representation used by the
// localiser.
//
// Responsibilities: grid coordinates and their deterministic file stems,
// the index of map cells that have a persisted feature volume, the map
// bounding box, and the per-frame overlap lookup table.
// Key types: Coord, Bounds, Index, LookupTable.
//
// Dependency rule: grid is a leaf package; it must not import any other
// internal/mcl package.
package grid
