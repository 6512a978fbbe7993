package volume

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
)

// ErrNoExtractor is returned when a volume is neither cached nor persisted
// and the cache has no extractor to compute it.
var ErrNoExtractor = errors.New("volume: no extractor configured")

// CacheConfig bounds the cache and its extraction fan-out.
type CacheConfig struct {
	// Capacity is the maximum number of volumes held in memory.
	Capacity int
	// BatchSize is the maximum number of keys per Extract call.
	BatchSize int
	// Workers is the maximum number of concurrent Extract calls.
	Workers int
}

// Stats counts cache outcomes. Hits and Misses are per distinct key per
// Resolve call.
type Stats struct {
	Hits            int64
	Misses          int64
	StoreLoads      int64
	Computed        int64
	PersistFailures int64
}

// Cache resolves volume keys by memory, then the persistent store, then
// the extractor. Computed volumes are persisted best-effort. Each key is
// computed at most once even when concurrent Resolve calls miss on it
// together.
type Cache struct {
	cfg       CacheConfig
	store     Store
	extractor Extractor
	mem       *lru.Cache[Key, Volume]

	mu       sync.Mutex
	inflight map[Key]*pending

	hits            atomic.Int64
	misses          atomic.Int64
	storeLoads      atomic.Int64
	computed        atomic.Int64
	persistFailures atomic.Int64
}

type pending struct {
	done chan struct{}
	vol  Volume
	err  error
}

// NewCache builds a cache over store. extractor may be nil, in which case
// only persisted volumes can be resolved.
func NewCache(cfg CacheConfig, store Store, extractor Extractor) (*Cache, error) {
	if store == nil {
		return nil, fmt.Errorf("volume cache requires a store")
	}
	if cfg.BatchSize <= 0 || cfg.Workers <= 0 {
		return nil, fmt.Errorf("invalid cache config: batch_size=%d workers=%d", cfg.BatchSize, cfg.Workers)
	}
	mem, err := lru.New[Key, Volume](cfg.Capacity)
	if err != nil {
		return nil, fmt.Errorf("create volume lru: %w", err)
	}
	return &Cache{
		cfg:       cfg,
		store:     store,
		extractor: extractor,
		mem:       mem,
		inflight:  make(map[Key]*pending),
	}, nil
}

// Resolve returns one volume per key, in the order of keys. Duplicate keys
// are resolved once.
func (c *Cache) Resolve(ctx context.Context, keys []Key) ([]Volume, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	found := make(map[Key]Volume, len(keys))
	waits := make(map[Key]*pending)
	var owned []Key

	c.mu.Lock()
	for _, k := range keys {
		if _, ok := found[k]; ok {
			continue
		}
		if _, ok := waits[k]; ok {
			continue
		}
		if v, ok := c.mem.Get(k); ok {
			c.hits.Add(1)
			found[k] = v
			continue
		}
		c.misses.Add(1)
		if p, ok := c.inflight[k]; ok {
			waits[k] = p
			continue
		}
		p := &pending{done: make(chan struct{})}
		c.inflight[k] = p
		waits[k] = p
		owned = append(owned, k)
	}
	c.mu.Unlock()

	if len(owned) > 0 {
		vols, errs := c.fetch(ctx, owned)
		c.complete(owned, vols, errs)
	}

	for k, p := range waits {
		select {
		case <-p.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if p.err != nil {
			return nil, p.err
		}
		found[k] = p.vol
	}

	out := make([]Volume, len(keys))
	for i, k := range keys {
		out[i] = found[k]
	}
	tracef("resolved %d keys (%d distinct, %d fetched)", len(keys), len(found), len(owned))
	return out, nil
}

// fetch loads keys from the store and computes whatever is missing.
// Errors are recorded per key.
func (c *Cache) fetch(ctx context.Context, keys []Key) ([]Volume, []error) {
	vols := make([]Volume, len(keys))
	errs := make([]error, len(keys))

	var missing []int
	for i, k := range keys {
		v, err := c.store.Load(k)
		switch {
		case err == nil:
			vols[i] = v
			c.storeLoads.Add(1)
		case errors.Is(err, ErrNotFound):
			missing = append(missing, i)
		default:
			errs[i] = err
		}
	}
	if len(missing) == 0 {
		return vols, errs
	}
	if c.extractor == nil {
		for _, i := range missing {
			errs[i] = fmt.Errorf("%s: %w", keys[i], ErrNoExtractor)
		}
		return vols, errs
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)
	for start := 0; start < len(missing); start += c.cfg.BatchSize {
		chunk := missing[start:min(start+c.cfg.BatchSize, len(missing))]
		g.Go(func() error {
			batch := make([]Key, len(chunk))
			for j, i := range chunk {
				batch[j] = keys[i]
			}
			out, err := c.extractor.Extract(gctx, batch)
			if err == nil && len(out) != len(batch) {
				err = fmt.Errorf("extractor returned %d volumes for %d keys", len(out), len(batch))
			}
			if err != nil {
				for _, i := range chunk {
					errs[i] = fmt.Errorf("extract %s: %w", keys[i], err)
				}
				return err
			}
			for j, i := range chunk {
				if verr := out[j].Validate(); verr != nil {
					errs[i] = fmt.Errorf("extract %s: %w", keys[i], verr)
					continue
				}
				vols[i] = out[j]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		diagf("extraction of %d volumes failed: %v", len(missing), err)
	}

	for _, i := range missing {
		if errs[i] != nil {
			continue
		}
		c.computed.Add(1)
		if err := c.store.Save(keys[i], vols[i]); err != nil {
			c.persistFailures.Add(1)
			opsf("failed to persist %s: %v", keys[i], err)
		}
	}
	return vols, errs
}

func (c *Cache) complete(keys []Key, vols []Volume, errs []error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, k := range keys {
		p := c.inflight[k]
		if errs[i] == nil {
			c.mem.Add(k, vols[i])
		}
		p.vol, p.err = vols[i], errs[i]
		delete(c.inflight, k)
		close(p.done)
	}
}

// Len returns the number of volumes held in memory.
func (c *Cache) Len() int {
	return c.mem.Len()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:            c.hits.Load(),
		Misses:          c.misses.Load(),
		StoreLoads:      c.storeLoads.Load(),
		Computed:        c.computed.Load(),
		PersistFailures: c.persistFailures.Load(),
	}
}
