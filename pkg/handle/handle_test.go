package handle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSeedsAllFourTimestamps(t *testing.T) {
	mt := time.Unix(1000, 0)
	h := New("/a.txt", false, 5, mt)
	assert.Equal(t, mt, h.CreationTime)
	assert.Equal(t, mt, h.LastAccessTime)
	assert.Equal(t, mt, h.LastWriteTime)
	assert.Equal(t, mt, h.ChangeTime)
	assert.Equal(t, StateOpenClean, h.State())
}

func TestMaterializeBufferEmptyFile(t *testing.T) {
	h := New("/a.txt", false, 0, time.Now())
	called := false
	err := h.MaterializeBuffer(func(size int64) ([]byte, error) {
		called = true
		return nil, nil
	})
	require.NoError(t, err)
	assert.False(t, called, "read should not be called for an empty file")
	assert.NotNil(t, h.WriteBuffer)
}

func TestMaterializeBufferDownloadsExisting(t *testing.T) {
	h := New("/a.txt", false, 3, time.Now())
	err := h.MaterializeBuffer(func(size int64) ([]byte, error) {
		require.EqualValues(t, 3, size)
		return []byte("abc"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "abc", string(h.WriteBuffer))
}

func TestWriteExtendsSizeAndMarksDirty(t *testing.T) {
	h := New("/a.txt", false, 0, time.Now())
	_ = h.MaterializeBuffer(func(int64) ([]byte, error) { return nil, nil })

	now := time.Now()
	h.Write([]byte("hello"), 0, now)

	assert.EqualValues(t, 5, h.SizeBytes)
	assert.True(t, h.Dirty)
	assert.Equal(t, StateOpenDirty, h.State())

	// Invariant: after write(buf, off), size >= off + len(buf).
	h.Write([]byte("X"), 10, now)
	assert.GreaterOrEqual(t, h.SizeBytes, int64(11))
}

func TestSetFileSizeTruncateAndExtend(t *testing.T) {
	h := New("/a.txt", false, 0, time.Now())
	_ = h.MaterializeBuffer(func(int64) ([]byte, error) { return nil, nil })
	h.Write([]byte("hello world"), 0, time.Now())

	h.SetFileSize(5, time.Now())
	assert.Equal(t, "hello", string(h.WriteBuffer))
	assert.EqualValues(t, 5, h.SizeBytes)

	h.SetFileSize(8, time.Now())
	assert.EqualValues(t, 8, h.SizeBytes)
	assert.Len(t, h.WriteBuffer, 8)
	for _, b := range h.WriteBuffer[5:] {
		assert.Zero(t, b, "expected zero-padding")
	}
}

func TestOverwriteResetsToEmpty(t *testing.T) {
	h := New("/a.txt", false, 10, time.Now())
	_ = h.MaterializeBuffer(func(int64) ([]byte, error) { return make([]byte, 10), nil })
	h.Overwrite(time.Now())
	assert.Zero(t, h.SizeBytes)
	assert.Empty(t, h.WriteBuffer)
	assert.Equal(t, StateOpenDirty, h.State())
}

func TestMarkFlushedClearsDirty(t *testing.T) {
	h := New("/a.txt", false, 0, time.Now())
	_ = h.MaterializeBuffer(func(int64) ([]byte, error) { return nil, nil })
	h.Write([]byte("x"), 0, time.Now())
	h.MarkFlushed()
	assert.False(t, h.Dirty)
	assert.Equal(t, StateOpenClean, h.State())
	assert.NotNil(t, h.WriteBuffer, "write buffer should remain allocated after flush")
}

func TestLifecycleToClosed(t *testing.T) {
	h := New("/a.txt", false, 0, time.Now())
	h.MarkCleanupPending()
	assert.Equal(t, StateCleanupPending, h.State())
	h.Close()
	assert.Equal(t, StateClosed, h.State())
}
