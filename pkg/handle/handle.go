// Package handle implements the per-open-file state the translator owns:
// the canonical path, cached attributes, and the lazily-materialized dirty
// write buffer, together with the state machine (closed → open-clean ⇄
// open-dirty → cleanup-pending → closed) that governs them.
package handle

import "time"

// State names a position in the open-handle lifecycle. The zero value,
// StateClosed, is never observed on a live *Handle returned to a caller.
type State int

const (
	StateClosed State = iota
	StateOpenClean
	StateOpenDirty
	StateCleanupPending
)

func (s State) String() string {
	switch s {
	case StateOpenClean:
		return "open-clean"
	case StateOpenDirty:
		return "open-dirty"
	case StateCleanupPending:
		return "cleanup-pending"
	default:
		return "closed"
	}
}

// Handle is the per-open-file context owned by the translator for the
// lifetime of a single host-driver open. It is not safe for concurrent use
// across handles that alias the same path; the host driver serializes calls
// against a single handle, and the translator inherits that serialization.
type Handle struct {
	RemotePath     string
	IsDirectory    bool
	SizeBytes      int64
	CreationTime   time.Time
	LastAccessTime time.Time
	LastWriteTime  time.Time
	ChangeTime     time.Time

	// WriteBuffer is nil until the first write materializes it. Always
	// nil for directory handles.
	WriteBuffer []byte
	Dirty       bool

	state State
}

// New builds a clean handle from remote stats, all four timestamps seeded
// from modifiedTime per the spec's "initialized to the remote modified_time"
// rule.
func New(path string, isDir bool, size int64, modifiedTime time.Time) *Handle {
	return &Handle{
		RemotePath:     path,
		IsDirectory:    isDir,
		SizeBytes:      size,
		CreationTime:   modifiedTime,
		LastAccessTime: modifiedTime,
		LastWriteTime:  modifiedTime,
		ChangeTime:     modifiedTime,
		state:          StateOpenClean,
	}
}

// State reports the handle's current lifecycle position.
func (h *Handle) State() State { return h.state }

// touchWrite stamps LastWriteTime/ChangeTime to now and marks the handle
// dirty; callers have already mutated WriteBuffer/SizeBytes.
func (h *Handle) touchWrite(now time.Time) {
	h.Dirty = true
	h.LastWriteTime = now
	h.ChangeTime = now
	h.state = StateOpenDirty
}

// MaterializeBuffer ensures WriteBuffer is non-nil, downloading existing
// content via read when the file is non-empty and the buffer has not yet
// been populated. read is called with the handle's current size.
func (h *Handle) MaterializeBuffer(read func(size int64) ([]byte, error)) error {
	if h.IsDirectory {
		return nil
	}
	if h.WriteBuffer != nil {
		return nil
	}
	if h.SizeBytes == 0 {
		h.WriteBuffer = []byte{}
		return nil
	}
	data, err := read(h.SizeBytes)
	if err != nil {
		return err
	}
	h.WriteBuffer = data
	return nil
}

// Write splices buf into the write buffer at offset, extending the buffer
// (and SizeBytes) as needed, and marks the handle dirty. Callers must have
// called MaterializeBuffer first.
func (h *Handle) Write(buf []byte, offset int64, now time.Time) {
	end := offset + int64(len(buf))
	if end > int64(len(h.WriteBuffer)) {
		grown := make([]byte, end)
		copy(grown, h.WriteBuffer)
		h.WriteBuffer = grown
	}
	copy(h.WriteBuffer[offset:end], buf)
	if end > h.SizeBytes {
		h.SizeBytes = end
	}
	h.touchWrite(now)
}

// SetFileSize truncates or zero-extends the write buffer to n bytes.
// Callers must have called MaterializeBuffer first.
func (h *Handle) SetFileSize(n int64, now time.Time) {
	switch {
	case n < int64(len(h.WriteBuffer)):
		h.WriteBuffer = h.WriteBuffer[:n]
	case n > int64(len(h.WriteBuffer)):
		grown := make([]byte, n)
		copy(grown, h.WriteBuffer)
		h.WriteBuffer = grown
	}
	h.SizeBytes = n
	h.touchWrite(now)
}

// Overwrite resets the write buffer to empty and size to 0.
func (h *Handle) Overwrite(now time.Time) {
	h.WriteBuffer = []byte{}
	h.SizeBytes = 0
	h.touchWrite(now)
}

// MarkFlushed transitions a dirty handle back to open-clean after a
// successful upload. WriteBuffer is left allocated.
func (h *Handle) MarkFlushed() {
	h.Dirty = false
	h.state = StateOpenClean
}

// MarkCleanupPending transitions the handle to cleanup-pending; the
// translator calls this once cleanup has processed (and, if requested,
// uploaded/deleted) the handle.
func (h *Handle) MarkCleanupPending() {
	h.state = StateCleanupPending
}

// Close transitions the handle to closed. Called once the host driver
// releases it; the translator then drops its reference.
func (h *Handle) Close() {
	h.state = StateClosed
}
