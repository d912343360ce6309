package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/wfs-query/internal/cache/keys"
	"github.com/mohammed-shakir/wfs-query/internal/core/observability"
	"github.com/mohammed-shakir/wfs-query/internal/featurestore"
)

const defaultCacheSize = 64

type CacheOptions struct {
	Size      int
	Blacklist []string
	Logger    *slog.Logger
}

// Cache keeps the feature stores of recently used sources. Concurrent first
// loads of one source share a single backend call.
type Cache struct {
	backend   Backend
	lru       *lru.Cache[string, *featurestore.Store]
	group     singleflight.Group
	blacklist map[string]struct{}
	logger    *slog.Logger

	mu  sync.Mutex
	gen map[string]uint64 // bumped on invalidation so in-flight loads are not cached
}

func NewCache(backend Backend, opts CacheOptions) (*Cache, error) {
	if backend == nil {
		return nil, fmt.Errorf("dataset cache: nil backend")
	}
	if opts.Size <= 0 {
		opts.Size = defaultCacheSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	l, err := lru.New[string, *featurestore.Store](opts.Size)
	if err != nil {
		return nil, fmt.Errorf("dataset cache: %w", err)
	}
	bl := make(map[string]struct{}, len(opts.Blacklist))
	for _, s := range opts.Blacklist {
		if s = strings.TrimSpace(s); s != "" {
			bl[s] = struct{}{}
		}
	}
	return &Cache{
		backend:   backend,
		lru:       l,
		blacklist: bl,
		logger:    opts.Logger,
		gen:       map[string]uint64{},
	}, nil
}

// Get returns the store for source, loading it on a miss. Blacklisted
// sources get an empty store without touching the backend.
func (c *Cache) Get(ctx context.Context, source string) (*featurestore.Store, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("%w: empty source id", ErrUnknownSource)
	}
	if _, ok := c.blacklist[source]; ok {
		observability.IncDatasetCache("blacklisted")
		return featurestore.New(source, "EPSG:4326", nil)
	}

	key := keys.Dataset(source)
	if st, ok := c.lru.Get(key); ok {
		observability.IncDatasetCache("hit")
		return st, nil
	}

	c.mu.Lock()
	gen := c.gen[key]
	c.mu.Unlock()

	v, err, shared := c.group.Do(key, func() (any, error) {
		// a cancelled caller must not fail the others sharing this load
		return c.load(context.WithoutCancel(ctx), source, key, gen)
	})
	if shared {
		observability.IncDatasetCache("shared")
	} else {
		observability.IncDatasetCache("miss")
	}
	if err != nil {
		return nil, err
	}
	return v.(*featurestore.Store), nil
}

func (c *Cache) load(ctx context.Context, source, key string, gen uint64) (*featurestore.Store, error) {
	start := time.Now()
	st, err := c.build(ctx, source)
	observability.ObserveDatasetLoad(err, time.Since(start).Seconds())
	if err != nil {
		c.logger.WarnContext(ctx, "dataset load failed", "source", source, "err", err)
		return nil, err
	}

	c.mu.Lock()
	if c.gen[key] == gen {
		c.lru.Add(key, st)
	}
	c.mu.Unlock()
	observability.SetDatasetCacheEntries(c.lru.Len())

	c.logger.InfoContext(ctx, "dataset loaded",
		"source", source, "features", st.Len(), "duration", time.Since(start).String())
	return st, nil
}

func (c *Cache) build(ctx context.Context, source string) (*featurestore.Store, error) {
	doc, err := c.backend.GetDocument(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", source, err)
	}
	feats := doc.ListFeatures()
	if len(feats) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrEmptyDataset, source)
	}
	st, err := featurestore.New(source, doc.CRS(), feats)
	if err != nil {
		return nil, fmt.Errorf("build store %q: %w", source, err)
	}
	return st.WithLogger(c.logger), nil
}

// Invalidate evicts sources and returns how many were cached.
func (c *Cache) Invalidate(sources ...string) int {
	n := 0
	c.mu.Lock()
	for _, s := range sources {
		key := keys.Dataset(strings.TrimSpace(s))
		c.gen[key]++
		c.group.Forget(key)
		if c.lru.Remove(key) {
			n++
		}
	}
	c.mu.Unlock()
	observability.AddDatasetInvalidations(n)
	observability.SetDatasetCacheEntries(c.lru.Len())
	return n
}

func (c *Cache) Len() int { return c.lru.Len() }
