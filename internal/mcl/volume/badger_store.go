package volume

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/banshee-data/overlap-mcl/internal/mcl/grid"
)

const (
	cellPrefix  = "cell/"
	framePrefix = "frame/"
)

// BadgerStore keeps volumes in a badger key-value store keyed by
// "cell/<stem>" and "frame/<stem>".
type BadgerStore struct {
	db         *badger.DB
	resolution float64
}

// BadgerOptions configures OpenBadgerStore.
type BadgerOptions struct {
	// Dir is the badger data directory. Ignored when InMemory is set.
	Dir        string
	InMemory   bool
	Resolution float64
}

// OpenBadgerStore opens (or creates) a badger-backed store.
func OpenBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	if opts.Resolution <= 0 {
		return nil, fmt.Errorf("invalid resolution %f", opts.Resolution)
	}
	bopts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts = bopts.WithLogger(nil)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &BadgerStore{db: db, resolution: opts.Resolution}, nil
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) key(k Key) []byte {
	if k.Kind == KindFrame {
		return []byte(framePrefix + k.Stem(s.resolution))
	}
	return []byte(cellPrefix + k.Stem(s.resolution))
}

func (s *BadgerStore) Load(key Key) (Volume, error) {
	var blob []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(key))
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Volume{}, ErrNotFound
	}
	if err != nil {
		return Volume{}, fmt.Errorf("load %s: %w", key, err)
	}
	v, err := decodeVolume(blob)
	if err != nil {
		return Volume{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, nil
}

func (s *BadgerStore) Save(key Key, v Volume) error {
	blob, err := encodeVolume(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key(key), blob)
	})
}

func (s *BadgerStore) ListCells() ([]grid.Coord, error) {
	var coords []grid.Coord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(cellPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			stem := strings.TrimPrefix(string(it.Item().Key()), cellPrefix)
			c, err := grid.ParseStem(stem, s.resolution)
			if err != nil {
				diagf("skipping badger key %q: %v", stem, err)
				continue
			}
			coords = append(coords, c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list cells: %w", err)
	}
	return coords, nil
}
