// Package cache is the content-addressed store for per-file analysis
// results. Values are keyed by (content id, language, rule-set version), so
// a cached entry is valid forever: any input that could change the result
// changes the key. There are two tiers, an in-memory LRU with pinning and a
// SQLite file shared across runs.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/mlade/weft/internal/model"
	"github.com/mlade/weft/internal/scopegraph"
)

// Key addresses one analysis result. Identical content analyzed under the
// same language and rule-set version always maps to the same key, whatever
// path or commit it came from.
type Key struct {
	ContentID    model.ContentID
	Language     string
	RulesVersion string
}

func (k Key) String() string {
	return fmt.Sprintf("%s\x00%s\x00%s", k.ContentID, k.Language, k.RulesVersion)
}

// Snapshot is everything derived from one file version: its entities, its
// scope graph, and the graph's partial path set. A non-empty Failure records
// that the build failed for this content; the failure is cached like a value
// so broken files are not re-analyzed every run.
type Snapshot struct {
	Entities []model.EntityProto      `json:"entities"`
	Graph    *scopegraph.Graph        `json:"graph,omitempty"`
	Paths    []scopegraph.PartialPath `json:"paths,omitempty"`
	Failure  string                   `json:"-"`
}

const defaultMaxEntries = 4096

// Cache is safe for concurrent use. Concurrent Acquire calls for the same
// key are coalesced: the compute function runs once and every caller gets
// the same snapshot.
type Cache struct {
	mu         sync.Mutex
	entries    map[Key]*entry
	idle       *list.List // unpinned keys, most recently released in front
	maxEntries int

	disk *diskStore // nil when running memory-only
	sf   singleflight.Group
}

type entry struct {
	snap *Snapshot
	pins int
	elem *list.Element // position in idle, nil while pinned
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxEntries bounds the memory tier. Pinned entries do not count against
// the bound and are never evicted.
func WithMaxEntries(n int) Option {
	return func(c *Cache) { c.maxEntries = n }
}

// Open creates a cache persisted under dir, or a memory-only cache when dir
// is empty.
func Open(dir string, opts ...Option) (*Cache, error) {
	c := &Cache{
		entries:    make(map[Key]*entry),
		idle:       list.New(),
		maxEntries: defaultMaxEntries,
	}
	for _, opt := range opts {
		opt(c)
	}
	if dir != "" {
		disk, err := openDiskStore(dir)
		if err != nil {
			return nil, err
		}
		c.disk = disk
	}
	return c, nil
}

// Acquire returns the snapshot for key, computing and storing it on a miss.
// The entry is pinned until the matching Release, so it cannot be evicted
// while a resolution still holds it. Compute errors are returned to every
// coalesced caller and nothing is stored; a compute that returns a snapshot
// with Failure set is stored like any value.
func (c *Cache) Acquire(ctx context.Context, key Key, compute func(context.Context) (*Snapshot, error)) (*Snapshot, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.pinLocked(e)
		c.mu.Unlock()
		return e.snap, nil
	}
	c.mu.Unlock()

	v, err, _ := c.sf.Do(key.String(), func() (any, error) {
		c.mu.Lock()
		if e, ok := c.entries[key]; ok {
			snap := e.snap
			c.mu.Unlock()
			return snap, nil
		}
		c.mu.Unlock()

		if c.disk != nil {
			if snap, ok := c.disk.get(ctx, key); ok {
				return snap, nil
			}
		}
		snap, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if c.disk != nil {
			// Persistence is best-effort; a full disk costs speed, not
			// correctness.
			_ = c.disk.put(ctx, key, snap)
		}
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	snap := v.(*Snapshot)

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{snap: snap}
		c.entries[key] = e
	}
	c.pinLocked(e)
	c.mu.Unlock()
	return snap, nil
}

// Release drops one pin. Unpinned entries become eligible for eviction.
func (c *Cache) Release(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.pins == 0 {
		return
	}
	e.pins--
	if e.pins == 0 {
		e.elem = c.idle.PushFront(key)
		c.evictLocked()
	}
}

// Clean drops every entry from both tiers.
func (c *Cache) Clean(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[Key]*entry)
	c.idle.Init()
	c.mu.Unlock()
	if c.disk != nil {
		return c.disk.clean(ctx)
	}
	return nil
}

// Close releases the persistence tier.
func (c *Cache) Close() error {
	if c.disk != nil {
		return c.disk.close()
	}
	return nil
}

func (c *Cache) pinLocked(e *entry) {
	e.pins++
	if e.elem != nil {
		c.idle.Remove(e.elem)
		e.elem = nil
	}
}

func (c *Cache) evictLocked() {
	for len(c.entries) > c.maxEntries {
		back := c.idle.Back()
		if back == nil {
			return // everything over the bound is pinned
		}
		key := c.idle.Remove(back).(Key)
		delete(c.entries, key)
	}
}
