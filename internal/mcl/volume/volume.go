package volume

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/gob"
	"fmt"
	"slices"

	"github.com/banshee-data/overlap-mcl/internal/mcl/grid"
)

// Volume is an opaque feature tensor. Data is stored row-major with
// len(Data) equal to the product of Shape.
type Volume struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// Validate checks that Data matches Shape.
func (v Volume) Validate() error {
	n := 1
	for _, d := range v.Shape {
		if d <= 0 {
			return fmt.Errorf("volume shape %v has non-positive dimension", v.Shape)
		}
		n *= d
	}
	if len(v.Shape) == 0 || n != len(v.Data) {
		return fmt.Errorf("volume shape %v does not match %d values", v.Shape, len(v.Data))
	}
	return nil
}

// Equal reports whether two volumes hold the same shape and data.
func (v Volume) Equal(o Volume) bool {
	return slices.Equal(v.Shape, o.Shape) && slices.Equal(v.Data, o.Data)
}

// Kind distinguishes map cell volumes from query frame volumes.
type Kind uint8

const (
	KindCell Kind = iota
	KindFrame
)

func (k Kind) String() string {
	switch k {
	case KindCell:
		return "cell"
	case KindFrame:
		return "frame"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Key identifies one volume. Keys are comparable and used directly as map
// and cache keys.
type Key struct {
	Kind  Kind       `json:"kind"`
	Cell  grid.Coord `json:"cell"`
	Frame int        `json:"frame"`
}

// CellKey returns the key of a map cell volume.
func CellKey(c grid.Coord) Key { return Key{Kind: KindCell, Cell: c} }

// FrameKey returns the key of a query frame volume.
func FrameKey(idx int) Key { return Key{Kind: KindFrame, Frame: idx} }

// Stem returns the deterministic name of the key at the given resolution.
func (k Key) Stem(resolution float64) string {
	if k.Kind == KindFrame {
		return grid.FrameStem(k.Frame)
	}
	return k.Cell.Stem(resolution)
}

func (k Key) String() string {
	if k.Kind == KindFrame {
		return "frame " + grid.FrameStem(k.Frame)
	}
	return "cell " + k.Cell.String()
}

// Extractor computes volumes that are not yet persisted. The result must
// have the same length and order as keys.
type Extractor interface {
	Extract(ctx context.Context, keys []Key) ([]Volume, error)
}

// encodeVolume serialises a volume as gob+gzip.
func encodeVolume(v Volume) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := gob.NewEncoder(gz)
	if err := enc.Encode(v); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeVolume decompresses and decodes a volume from a gob+gzip blob.
func decodeVolume(blob []byte) (Volume, error) {
	if len(blob) == 0 {
		return Volume{}, fmt.Errorf("empty volume blob")
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return Volume{}, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var v Volume
	if err := gob.NewDecoder(gz).Decode(&v); err != nil {
		return Volume{}, fmt.Errorf("failed to decode volume: %w", err)
	}
	if err := v.Validate(); err != nil {
		return Volume{}, err
	}
	return v, nil
}
