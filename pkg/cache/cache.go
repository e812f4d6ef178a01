// Package cache keeps rendered directory listings and file contents in two
// independent, fixed-capacity LRU tiers.
//
// Keys are canonical root-relative slash paths. Each tier has its own mutex,
// held only while the LRU list is touched, so a listing miss never waits on
// file cache traffic.
package cache

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/marmos91/zest/pkg/metrics"
)

// Kind selects a cache tier.
type Kind int

const (
	Listing Kind = iota
	File
)

func (k Kind) String() string {
	switch k {
	case Listing:
		return "listing"
	case File:
		return "file"
	default:
		return "unknown"
	}
}

// tier is one LRU protected by its own lock.
type tier struct {
	kind     Kind
	mu       sync.Mutex
	lru      *simplelru.LRU[string, []byte]
	capacity int
}

func newTier(kind Kind, capacity int) (*tier, error) {
	lru, err := simplelru.NewLRU[string, []byte](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("%s cache: %w", kind, err)
	}
	return &tier{kind: kind, lru: lru, capacity: capacity}, nil
}

func (t *tier) get(key string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.Get(key)
}

func (t *tier) add(key string, value []byte) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lru.Add(key, value)
	return t.lru.Len()
}

func (t *tier) resize(capacity int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lru.Resize(capacity)
	t.capacity = capacity
	return t.lru.Len()
}

func (t *tier) purge() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lru.Purge()
}

func (t *tier) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.Len()
}

func (t *tier) cap() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.capacity
}

// ContentCache is the two-tier cache shared by every request of every
// listener generation. Values handed out are shared and must not be modified.
type ContentCache struct {
	listings *tier
	files    *tier

	// maxFileSize is the largest file value that is stored
	maxFileSize atomic.Int64

	metrics metrics.CacheMetrics
}

// New creates a cache with the given tier capacities. Capacities must be
// positive. A nil m disables metrics.
func New(listingCapacity, fileCapacity int, maxFileSize int64, m metrics.CacheMetrics) (*ContentCache, error) {
	listings, err := newTier(Listing, listingCapacity)
	if err != nil {
		return nil, err
	}
	files, err := newTier(File, fileCapacity)
	if err != nil {
		return nil, err
	}

	if m == nil {
		m = metrics.NewNoopCacheMetrics()
	}

	c := &ContentCache{listings: listings, files: files, metrics: m}
	c.maxFileSize.Store(maxFileSize)
	return c, nil
}

func (c *ContentCache) tier(kind Kind) *tier {
	if kind == Listing {
		return c.listings
	}
	return c.files
}

// Lookup returns the cached value for key and marks it most recently used.
func (c *ContentCache) Lookup(kind Kind, key string) ([]byte, bool) {
	value, ok := c.tier(kind).get(key)
	if ok {
		c.metrics.RecordHit(kind.String())
	} else {
		c.metrics.RecordMiss(kind.String())
	}
	return value, ok
}

// Insert stores value under key, evicting the least recently used entry when
// the tier is full. File values larger than the maximum size are not stored;
// Insert reports whether the value was cached.
func (c *ContentCache) Insert(kind Kind, key string, value []byte) bool {
	if kind == File && int64(len(value)) > c.maxFileSize.Load() {
		c.metrics.RecordBypass(kind.String())
		return false
	}

	n := c.tier(kind).add(key, value)
	c.metrics.SetEntries(kind.String(), n)
	return true
}

// LookupListing returns a cached listing page.
func (c *ContentCache) LookupListing(key string) (string, bool) {
	value, ok := c.Lookup(Listing, key)
	return string(value), ok
}

// InsertListing caches a rendered listing page.
func (c *ContentCache) InsertListing(key, html string) {
	c.Insert(Listing, key, []byte(html))
}

// LookupFile returns cached file contents.
func (c *ContentCache) LookupFile(key string) ([]byte, bool) {
	return c.Lookup(File, key)
}

// InsertFile caches file contents unless they exceed the maximum size.
func (c *ContentCache) InsertFile(key string, data []byte) bool {
	return c.Insert(File, key, data)
}

// Resize applies new capacities. Shrinking evicts least recently used
// entries first; growing keeps every entry.
func (c *ContentCache) Resize(listingCapacity, fileCapacity int, maxFileSize int64) {
	c.metrics.SetEntries(Listing.String(), c.listings.resize(listingCapacity))
	c.metrics.SetEntries(File.String(), c.files.resize(fileCapacity))
	c.maxFileSize.Store(maxFileSize)
}

// Purge drops every entry of both tiers.
func (c *ContentCache) Purge() {
	c.listings.purge()
	c.files.purge()
	c.metrics.SetEntries(Listing.String(), 0)
	c.metrics.SetEntries(File.String(), 0)
}

// Len returns the number of entries held by a tier.
func (c *ContentCache) Len(kind Kind) int {
	return c.tier(kind).len()
}

// Capacity returns the maximum number of entries of a tier.
func (c *ContentCache) Capacity(kind Kind) int {
	return c.tier(kind).cap()
}

// MaxFileSize returns the largest file size that is cached.
func (c *ContentCache) MaxFileSize() int64 {
	return c.maxFileSize.Load()
}
