// Package volume owns feature volumes: the fixed-shape float tensors a
// scorer compares.
//
// Responsibilities: volume keys and their on-disk stems, gob+gzip
// encoding, persistent stores (file tree and badger), and the bounded
// in-memory cache that resolves keys by memory, then store, then batched
// extraction. Key types: Volume, Key, Store, Extractor, Cache.
//
// Dependency rule: volume may import grid and fsutil. It must not import
// scorer, sensor or localiser.
package volume
