// Package rcache implements three TTL-keyed caches: directory listings and
// per-path metadata, which the translator consults, and path-to-remote-ID
// resolution, which the ID-based Drive back-end owns. All three share the same
// get/put/invalidate contract; each owns an independent lock, and no lock
// is ever held across a back-end call.
package rcache

import (
	"strings"
	"sync"
	"time"

	"github.com/dansasser/ftp-winmount/pkg/pathutil"
	"github.com/dansasser/ftp-winmount/pkg/remote"
)

type entry[T any] struct {
	payload T
	expires time.Time
}

// clock is swappable in tests; defaults to time.Now.
var nowFunc = time.Now

// DirectoryCache maps a canonical directory path to its listing.
type DirectoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry[[]remote.FileStats]
}

// NewDirectoryCache builds a DirectoryCache with the given TTL. A zero TTL
// means every Get misses immediately; a negative TTL panics.
func NewDirectoryCache(ttl time.Duration) *DirectoryCache {
	mustNonNegative(ttl)
	return &DirectoryCache{ttl: ttl, entries: make(map[string]entry[[]remote.FileStats])}
}

// Get returns the cached listing for path, if present and unexpired.
func (c *DirectoryCache) Get(path string) ([]remote.FileStats, bool) {
	path = pathutil.Normalize(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	if !ok {
		return nil, false
	}
	if !nowFunc().Before(e.expires) {
		delete(c.entries, path)
		return nil, false
	}
	return e.payload, true
}

// Put replaces any existing listing for path.
func (c *DirectoryCache) Put(path string, listing []remote.FileStats) {
	path = pathutil.Normalize(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = entry[[]remote.FileStats]{payload: listing, expires: nowFunc().Add(c.ttl)}
}

// Invalidate removes path's entry, if present.
func (c *DirectoryCache) Invalidate(path string) {
	path = pathutil.Normalize(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}

// InvalidateParent removes the entry keyed by the parent of path.
func (c *DirectoryCache) InvalidateParent(path string) {
	c.Invalidate(pathutil.Parent(pathutil.Normalize(path)))
}

// MetadataCache maps a canonical path to its FileStats.
type MetadataCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry[remote.FileStats]
}

// NewMetadataCache builds a MetadataCache with the given TTL.
func NewMetadataCache(ttl time.Duration) *MetadataCache {
	mustNonNegative(ttl)
	return &MetadataCache{ttl: ttl, entries: make(map[string]entry[remote.FileStats])}
}

func (c *MetadataCache) Get(path string) (remote.FileStats, bool) {
	path = pathutil.Normalize(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	if !ok {
		return remote.FileStats{}, false
	}
	if !nowFunc().Before(e.expires) {
		delete(c.entries, path)
		return remote.FileStats{}, false
	}
	return e.payload, true
}

func (c *MetadataCache) Put(path string, stats remote.FileStats) {
	path = pathutil.Normalize(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = entry[remote.FileStats]{payload: stats, expires: nowFunc().Add(c.ttl)}
}

func (c *MetadataCache) Invalidate(path string) {
	path = pathutil.Normalize(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}

func (c *MetadataCache) InvalidateParent(path string) {
	c.Invalidate(pathutil.Parent(pathutil.Normalize(path)))
}

// PathIDCache maps a canonical path to an opaque remote-ID string, used by
// ID-based back-ends (cloud) to bridge path-based callbacks to ID-based API
// calls.
type PathIDCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry[string]
}

// NewPathIDCache builds a PathIDCache with the given TTL.
func NewPathIDCache(ttl time.Duration) *PathIDCache {
	mustNonNegative(ttl)
	return &PathIDCache{ttl: ttl, entries: make(map[string]entry[string])}
}

func (c *PathIDCache) Get(path string) (string, bool) {
	path = pathutil.Normalize(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	if !ok {
		return "", false
	}
	if !nowFunc().Before(e.expires) {
		delete(c.entries, path)
		return "", false
	}
	return e.payload, true
}

func (c *PathIDCache) Put(path, id string) {
	path = pathutil.Normalize(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = entry[string]{payload: id, expires: nowFunc().Add(c.ttl)}
}

func (c *PathIDCache) Invalidate(path string) {
	path = pathutil.Normalize(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}

func (c *PathIDCache) InvalidateParent(path string) {
	c.Invalidate(pathutil.Parent(pathutil.Normalize(path)))
}

// InvalidateSubtree removes every entry whose key equals prefix or starts
// with prefix + "/".
func (c *PathIDCache) InvalidateSubtree(prefix string) {
	prefix = pathutil.Normalize(prefix)
	withSlash := prefix
	if withSlash != "/" {
		withSlash += "/"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k == prefix || strings.HasPrefix(k, withSlash) {
			delete(c.entries, k)
		}
	}
}

func mustNonNegative(ttl time.Duration) {
	if ttl < 0 {
		panic("rcache: negative TTL is not permitted")
	}
}
