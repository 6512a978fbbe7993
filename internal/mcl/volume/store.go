package volume

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/banshee-data/overlap-mcl/internal/fsutil"
	"github.com/banshee-data/overlap-mcl/internal/mcl/grid"
)

// ErrNotFound is returned by Store.Load when no volume is persisted for a
// key.
var ErrNotFound = errors.New("volume: not found")

// FileExt is the extension of persisted volume files.
const FileExt = ".fvol"

// Store persists volumes across runs.
type Store interface {
	Load(key Key) (Volume, error)
	Save(key Key, v Volume) error
	// ListCells returns every map cell that has a persisted volume.
	ListCells() ([]grid.Coord, error)
}

// FileStore keeps one gob+gzip file per volume: map cells under MapDir,
// named by cell stem, and query frames under QueryDir, named by frame
// stem.
type FileStore struct {
	fs         fsutil.FileSystem
	mapDir     string
	queryDir   string
	resolution float64
}

// NewFileStore returns a store rooted at the two directories. Both are
// created if missing.
func NewFileStore(fsys fsutil.FileSystem, mapDir, queryDir string, resolution float64) (*FileStore, error) {
	if resolution <= 0 {
		return nil, fmt.Errorf("invalid resolution %f", resolution)
	}
	for _, dir := range []string{mapDir, queryDir} {
		if err := fsys.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create volume dir %s: %w", dir, err)
		}
	}
	return &FileStore{fs: fsys, mapDir: mapDir, queryDir: queryDir, resolution: resolution}, nil
}

// Path returns the file path of key.
func (s *FileStore) Path(key Key) string {
	dir := s.mapDir
	if key.Kind == KindFrame {
		dir = s.queryDir
	}
	return filepath.Join(dir, key.Stem(s.resolution)+FileExt)
}

func (s *FileStore) Load(key Key) (Volume, error) {
	blob, err := s.fs.ReadFile(s.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return Volume{}, ErrNotFound
	}
	if err != nil {
		return Volume{}, fmt.Errorf("read %s: %w", key, err)
	}
	v, err := decodeVolume(blob)
	if err != nil {
		return Volume{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, nil
}

func (s *FileStore) Save(key Key, v Volume) error {
	blob, err := encodeVolume(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.fs.WriteFileAtomic(s.Path(key), blob, 0644); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) ListCells() ([]grid.Coord, error) {
	return s.listCells(s.mapDir)
}

// ListFrames returns the indices of every persisted query frame.
func (s *FileStore) ListFrames() ([]int, error) {
	names, err := s.fs.ListFiles(s.queryDir, FileExt)
	if err != nil {
		return nil, err
	}
	frames := make([]int, 0, len(names))
	for _, name := range names {
		idx, err := grid.ParseFrameStem(strings.TrimSuffix(name, FileExt))
		if err != nil {
			diagf("skipping %s in query dir: %v", name, err)
			continue
		}
		frames = append(frames, idx)
	}
	return frames, nil
}

func (s *FileStore) listCells(dir string) ([]grid.Coord, error) {
	names, err := s.fs.ListFiles(dir, FileExt)
	if err != nil {
		return nil, err
	}
	coords := make([]grid.Coord, 0, len(names))
	for _, name := range names {
		c, err := grid.ParseStem(strings.TrimSuffix(name, FileExt), s.resolution)
		if err != nil {
			diagf("skipping %s in map dir: %v", name, err)
			continue
		}
		coords = append(coords, c)
	}
	return coords, nil
}
