package rcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dansasser/ftp-winmount/pkg/remote"
)

func withFixedNow(t *testing.T, start time.Time) func(advance time.Duration) {
	t.Helper()
	current := start
	orig := nowFunc
	nowFunc = func() time.Time { return current }
	t.Cleanup(func() { nowFunc = orig })
	return func(advance time.Duration) { current = current.Add(advance) }
}

func TestMetadataCacheGetPutExpiry(t *testing.T) {
	advance := withFixedNow(t, time.Unix(1000, 0))
	c := NewMetadataCache(time.Second)

	_, ok := c.Get("/a")
	assert.False(t, ok, "expected miss before put")

	c.Put("/a", remote.FileStats{Name: "a"})
	got, ok := c.Get("/a")
	require.True(t, ok)
	assert.Equal(t, "a", got.Name)

	advance(1100 * time.Millisecond)
	_, ok = c.Get("/a")
	assert.False(t, ok, "expected miss after expiry")
}

func TestMetadataCacheZeroTTLAlwaysMisses(t *testing.T) {
	c := NewMetadataCache(0)
	c.Put("/a", remote.FileStats{Name: "a"})
	_, ok := c.Get("/a")
	assert.False(t, ok, "zero TTL should always miss")
}

func TestNegativeTTLPanics(t *testing.T) {
	assert.Panics(t, func() { NewMetadataCache(-1) })
}

func TestDirectoryCacheInvalidateParent(t *testing.T) {
	c := NewDirectoryCache(time.Minute)
	c.Put("/", []remote.FileStats{{Name: "foo"}})
	c.InvalidateParent("/foo")
	_, ok := c.Get("/")
	assert.False(t, ok, "InvalidateParent(/foo) should invalidate /")
}

func TestDirectoryCacheInvalidateParentOfRoot(t *testing.T) {
	c := NewDirectoryCache(time.Minute)
	c.Put("/", []remote.FileStats{{Name: "foo"}})
	c.InvalidateParent("/")
	_, ok := c.Get("/")
	assert.False(t, ok, "InvalidateParent(/) should invalidate /")
}

func TestPathIDCacheInvalidateSubtree(t *testing.T) {
	c := NewPathIDCache(time.Minute)
	c.Put("/docs", "id-docs")
	c.Put("/docs/a.txt", "id-a")
	c.Put("/docs/sub/b.txt", "id-b")
	c.Put("/other", "id-other")

	c.InvalidateSubtree("/docs")

	_, ok := c.Get("/docs")
	assert.False(t, ok, "/docs should be invalidated")
	_, ok = c.Get("/docs/a.txt")
	assert.False(t, ok, "/docs/a.txt should be invalidated")
	_, ok = c.Get("/docs/sub/b.txt")
	assert.False(t, ok, "/docs/sub/b.txt should be invalidated")
	_, ok = c.Get("/other")
	assert.True(t, ok, "/other should survive")
}

func TestPathIDCacheInvalidateSubtreeDoesNotMatchSiblingPrefix(t *testing.T) {
	c := NewPathIDCache(time.Minute)
	c.Put("/docs2", "id-docs2")
	c.InvalidateSubtree("/docs")
	_, ok := c.Get("/docs2")
	assert.True(t, ok, "/docs2 should not be treated as a child of /docs")
}
