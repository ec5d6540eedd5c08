// Package fsys implements the filesystem translator: the state machine that
// maps host-driver callbacks onto remote.Store calls, with the cache
// lifecycle (populate on read, invalidate on mutation) and the failure-kind
// to host-error-code mapping described in the specification's component
// design section.
package fsys

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dansasser/ftp-winmount/pkg/handle"
	"github.com/dansasser/ftp-winmount/pkg/pathutil"
	"github.com/dansasser/ftp-winmount/pkg/rcache"
	"github.com/dansasser/ftp-winmount/pkg/remote"
)

// HostError is the fixed, driver-agnostic vocabulary the translator reports
// to the host driver, per §4.5. A concrete host-driver adapter (e.g. the
// cgofuse adapter) maps these to its own platform error codes.
type HostError int

const (
	HostErrOK HostError = iota
	HostErrObjectNameNotFound
	HostErrAccessDenied
	HostErrIOTimeout
	HostErrNameCollision
	HostErrDirectoryNotEmpty
	HostErrIOError // generic I/O error: exhausted retries or Fatal
)

func (e HostError) String() string {
	switch e {
	case HostErrOK:
		return "ok"
	case HostErrObjectNameNotFound:
		return "object-name-not-found"
	case HostErrAccessDenied:
		return "access-denied"
	case HostErrIOTimeout:
		return "io-timeout"
	case HostErrNameCollision:
		return "name-collision"
	case HostErrDirectoryNotEmpty:
		return "directory-not-empty"
	default:
		return "io-error"
	}
}

// mapKind implements the fixed table in §4.5. Unavailable only reaches here
// once a back-end's own retry loop has exhausted; it always surfaces as a
// generic I/O error, never as Unavailable itself.
func mapKind(k remote.Kind) HostError {
	switch k {
	case remote.KindNotFound:
		return HostErrObjectNameNotFound
	case remote.KindAccessDenied, remote.KindAuthenticationFailed:
		return HostErrAccessDenied
	case remote.KindTimedOut:
		return HostErrIOTimeout
	case remote.KindAlreadyExists:
		return HostErrNameCollision
	case remote.KindNotEmpty:
		return HostErrDirectoryNotEmpty
	default: // KindUnavailable, KindFatal, KindUnknown
		return HostErrIOError
	}
}

// Entry is the shape the translator hands back for directory listings and
// attribute queries: the same fields a host driver consumes.
type Entry struct {
	Name            string
	IsDirectory     bool
	SizeBytes       int64
	AllocationSize  int64
	CreationTime    time.Time
	LastAccessTime  time.Time
	LastWriteTime   time.Time
	ChangeTime      time.Time
	IndexNumber     uint64
}

func entryFromStats(s remote.FileStats) Entry {
	return Entry{
		Name:           s.Name,
		IsDirectory:    s.IsDirectory,
		SizeBytes:      s.Size,
		AllocationSize: s.Size,
		CreationTime:   s.ModifiedTime,
		LastAccessTime: s.ModifiedTime,
		LastWriteTime:  s.ModifiedTime,
		ChangeTime:     s.ModifiedTime,
		IndexNumber:    0,
	}
}

func entryFromHandle(name string, h *handle.Handle) Entry {
	return Entry{
		Name:           name,
		IsDirectory:    h.IsDirectory,
		SizeBytes:      h.SizeBytes,
		AllocationSize: h.SizeBytes,
		CreationTime:   h.CreationTime,
		LastAccessTime: h.LastAccessTime,
		LastWriteTime:  h.LastWriteTime,
		ChangeTime:     h.ChangeTime,
	}
}

// VolumeInfo answers get_volume_info. Constants are acceptable per spec.
type VolumeInfo struct {
	TotalBytes uint64
	FreeBytes  uint64
	Label      string
}

// SecurityDescriptor is the single constant permissive descriptor the
// translator returns for every entry on platforms that require one.
type SecurityDescriptor struct {
	Bytes []byte
}

// now is overridable in tests.
var now = time.Now

// Translator implements the host-driver callback surface named in spec §6
// directly, so it is testable without a concrete host driver present.
type Translator struct {
	store remote.Store

	dirCache  *rcache.DirectoryCache
	metaCache *rcache.MetadataCache

	mu      sync.Mutex
	handles map[uint64]*handle.Handle
	nextFH  uint64

	label string
	log   zerolog.Logger

	permissiveSD SecurityDescriptor
}

// Option configures a Translator at construction.
type Option func(*Translator)

// WithVolumeLabel sets the label returned by GetVolumeInfo.
func WithVolumeLabel(label string) Option {
	return func(t *Translator) { t.label = label }
}

// WithLogger overrides the default (disabled) logger.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Translator) { t.log = l }
}

// New builds a Translator around a connected back-end and the two caches
// that participate in the read/list path (directory and metadata; the
// path-to-ID cache, when needed, lives inside the ID-based back-end
// itself, per the "the back-ends do not leak protocol-specific identifiers
// upward" boundary).
func New(store remote.Store, dirCache *rcache.DirectoryCache, metaCache *rcache.MetadataCache, opts ...Option) *Translator {
	t := &Translator{
		store:     store,
		dirCache:  dirCache,
		metaCache: metaCache,
		handles:   make(map[uint64]*handle.Handle),
		label:     "Remote Drive",
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Translator) logOp(op, path string) *zerolog.Event {
	return t.log.Debug().Str("op", op).Str("path", path)
}

// GetVolumeInfo answers get_volume_info with constant capacity figures.
func (t *Translator) GetVolumeInfo() VolumeInfo {
	const oneTiB = 1 << 40
	return VolumeInfo{TotalBytes: oneTiB, FreeBytes: oneTiB, Label: t.label}
}

// GetSecurityByName answers get_security_by_name(path): attrs plus the
// constant permissive descriptor. It consults the metadata cache exactly
// as Open does.
func (t *Translator) GetSecurityByName(ctx context.Context, path string) (Entry, SecurityDescriptor, HostError) {
	entry, herr := t.statForRead(ctx, path)
	if herr != HostErrOK {
		return Entry{}, SecurityDescriptor{}, herr
	}
	return entry, t.permissiveSD, HostErrOK
}

// statForRead is the cache-then-back-end lookup shared by open and
// get-security.
func (t *Translator) statForRead(ctx context.Context, path string) (Entry, HostError) {
	path = pathutil.Normalize(path)
	if stats, ok := t.metaCache.Get(path); ok {
		return entryFromStats(stats), HostErrOK
	}
	stats, err := t.store.GetFileInfo(ctx, path)
	if err != nil {
		return Entry{}, mapKind(remote.KindOf(err))
	}
	t.metaCache.Put(path, stats)
	return entryFromStats(stats), HostErrOK
}

func (t *Translator) registerHandle(h *handle.Handle) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextFH++
	fh := t.nextFH
	t.handles[fh] = h
	return fh
}

func (t *Translator) lookupHandle(fh uint64) (*handle.Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.handles[fh]
	return h, ok
}

func (t *Translator) dropHandle(fh uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handles, fh)
}

// Open implements the closed --open(path)--> open-clean transition: fetch
// stats (cache, else back-end), build a handle.
func (t *Translator) Open(ctx context.Context, path string) (uint64, Entry, HostError) {
	path = pathutil.Normalize(path)
	entry, herr := t.statForRead(ctx, path)
	if herr != HostErrOK {
		return 0, Entry{}, herr
	}
	h := handle.New(path, entry.IsDirectory, entry.SizeBytes, entry.LastWriteTime)
	fh := t.registerHandle(h)
	return fh, entry, HostErrOK
}

// Create implements the closed --create(path,dir?)--> open-clean
// transition.
func (t *Translator) Create(ctx context.Context, path string, isDir bool) (uint64, HostError) {
	path = pathutil.Normalize(path)
	var err error
	if isDir {
		err = t.store.CreateDir(ctx, path)
	} else {
		err = t.store.CreateFile(ctx, path)
	}
	if err != nil {
		return 0, mapKind(remote.KindOf(err))
	}
	t.dirCache.InvalidateParent(path)

	h := handle.New(path, isDir, 0, now())
	fh := t.registerHandle(h)
	return fh, HostErrOK
}

// Read implements the open-clean read(offset,len) transition: boundary
// clamping happens without contacting the back-end.
func (t *Translator) Read(ctx context.Context, fh uint64, offset int64, length int64) ([]byte, HostError) {
	h, ok := t.lookupHandle(fh)
	if !ok {
		return nil, HostErrObjectNameNotFound
	}
	if offset >= h.SizeBytes {
		return []byte{}, HostErrOK
	}
	if offset+length > h.SizeBytes {
		length = h.SizeBytes - offset
	}
	h.LastAccessTime = now()

	if h.WriteBuffer != nil {
		end := offset + length
		if end > int64(len(h.WriteBuffer)) {
			end = int64(len(h.WriteBuffer))
		}
		return h.WriteBuffer[offset:end], HostErrOK
	}

	l := length
	data, err := t.store.ReadFile(ctx, h.RemotePath, offset, &l)
	if err != nil {
		return nil, mapKind(remote.KindOf(err))
	}
	return data, HostErrOK
}

// Write implements write(buf, off): lazily materializes the buffer, splices
// in the write, and transitions to open-dirty.
func (t *Translator) Write(ctx context.Context, fh uint64, buf []byte, offset int64) (int, HostError) {
	h, ok := t.lookupHandle(fh)
	if !ok {
		return 0, HostErrObjectNameNotFound
	}
	if err := t.materialize(ctx, h); err != nil {
		return 0, mapKind(remote.KindOf(err))
	}
	h.Write(buf, offset, now())
	return len(buf), HostErrOK
}

func (t *Translator) materialize(ctx context.Context, h *handle.Handle) error {
	return h.MaterializeBuffer(func(size int64) ([]byte, error) {
		return t.store.ReadFile(ctx, h.RemotePath, 0, nil)
	})
}

// SetFileSize implements set_file_size(handle, size, alloc).
func (t *Translator) SetFileSize(ctx context.Context, fh uint64, size int64) HostError {
	h, ok := t.lookupHandle(fh)
	if !ok {
		return HostErrObjectNameNotFound
	}
	if err := t.materialize(ctx, h); err != nil {
		return mapKind(remote.KindOf(err))
	}
	h.SetFileSize(size, now())
	return HostErrOK
}

// Overwrite implements overwrite(handle, attrs, replace_attrs, alloc):
// resets the buffer to empty.
func (t *Translator) Overwrite(fh uint64) HostError {
	h, ok := t.lookupHandle(fh)
	if !ok {
		return HostErrObjectNameNotFound
	}
	h.Overwrite(now())
	return HostErrOK
}

// Flush implements open-dirty --flush--> open-clean: uploads the buffer
// and invalidates the metadata cache.
func (t *Translator) Flush(ctx context.Context, fh uint64) HostError {
	h, ok := t.lookupHandle(fh)
	if !ok {
		return HostErrObjectNameNotFound
	}
	if !h.Dirty {
		return HostErrOK
	}
	if _, err := t.store.WriteFile(ctx, h.RemotePath, h.WriteBuffer, 0); err != nil {
		return mapKind(remote.KindOf(err))
	}
	t.metaCache.Invalidate(h.RemotePath)
	h.MarkFlushed()
	return HostErrOK
}

// GetFileInfo implements get_file_info(handle) from the live handle state,
// not the cache, so it reflects unflushed writes.
func (t *Translator) GetFileInfo(fh uint64) (Entry, HostError) {
	h, ok := t.lookupHandle(fh)
	if !ok {
		return Entry{}, HostErrObjectNameNotFound
	}
	return entryFromHandle(pathutil.Base(h.RemotePath), h), HostErrOK
}

// SetFileInfo implements set_file_info(handle, fields): only the four
// timestamps are host-settable per the data model; size changes go through
// SetFileSize.
func (t *Translator) SetFileInfo(fh uint64, creation, lastAccess, lastWrite, change *time.Time) HostError {
	h, ok := t.lookupHandle(fh)
	if !ok {
		return HostErrObjectNameNotFound
	}
	if creation != nil {
		h.CreationTime = *creation
	}
	if lastAccess != nil {
		h.LastAccessTime = *lastAccess
	}
	if lastWrite != nil {
		h.LastWriteTime = *lastWrite
	}
	if change != nil {
		h.ChangeTime = *change
	}
	return HostErrOK
}

// ReadDirectory implements read_directory(handle, marker?): consults the
// directory cache, on miss calls the back-end and populates both the
// directory cache and per-entry metadata cache. Pagination resumes after
// the entry whose name equals marker.
func (t *Translator) ReadDirectory(ctx context.Context, fh uint64, marker string) ([]Entry, HostError) {
	h, ok := t.lookupHandle(fh)
	if !ok {
		return nil, HostErrObjectNameNotFound
	}
	listing, herr := t.listDir(ctx, h.RemotePath)
	if herr != HostErrOK {
		return nil, herr
	}

	entries := make([]Entry, 0, len(listing))
	for _, s := range listing {
		entries = append(entries, entryFromStats(s))
	}
	if marker == "" {
		return entries, HostErrOK
	}
	for i, e := range entries {
		if e.Name == marker {
			return entries[i+1:], HostErrOK
		}
	}
	return entries, HostErrOK
}

func (t *Translator) listDir(ctx context.Context, path string) ([]remote.FileStats, HostError) {
	path = pathutil.Normalize(path)
	if listing, ok := t.dirCache.Get(path); ok {
		return listing, HostErrOK
	}
	listing, err := t.store.ListDir(ctx, path)
	if err != nil {
		return nil, mapKind(remote.KindOf(err))
	}
	t.dirCache.Put(path, listing)
	for _, s := range listing {
		t.metaCache.Put(pathutil.Join(path, s.Name), s)
	}
	return listing, HostErrOK
}

// Rename implements rename(handle, old, new, replace_if_exists) with the
// pre-check-then-rename sequence the spec preserves verbatim (see
// SPEC_FULL.md Open Question 1): not atomic with respect to a concurrent
// mutation between the pre-check and the rename call.
func (t *Translator) Rename(ctx context.Context, fh uint64, oldPath, newPath string, replaceIfExists bool) HostError {
	h, ok := t.lookupHandle(fh)
	if !ok {
		return HostErrObjectNameNotFound
	}
	oldPath = pathutil.Normalize(oldPath)
	newPath = pathutil.Normalize(newPath)

	dest, err := t.store.GetFileInfo(ctx, newPath)
	destExists := err == nil
	if destExists {
		if !replaceIfExists {
			return HostErrNameCollision
		}
		if dest.IsDirectory {
			if derr := t.store.DeleteDir(ctx, newPath); derr != nil {
				return mapKind(remote.KindOf(derr))
			}
		} else if derr := t.store.DeleteFile(ctx, newPath); derr != nil {
			return mapKind(remote.KindOf(derr))
		}
	}

	if err := t.store.Rename(ctx, oldPath, newPath); err != nil {
		return mapKind(remote.KindOf(err))
	}

	t.dirCache.InvalidateParent(oldPath)
	t.dirCache.InvalidateParent(newPath)
	if h.IsDirectory {
		t.dirCache.Invalidate(oldPath)
	}
	t.metaCache.Invalidate(oldPath)
	t.metaCache.Invalidate(newPath)

	h.RemotePath = newPath
	h.ChangeTime = now()
	return HostErrOK
}

// CleanupFlags selects the delete-on-close bit the host driver passes to
// cleanup.
type CleanupFlags struct {
	Delete bool
}

// Cleanup implements open-{clean,dirty} --cleanup(flags)--> cleanup-pending:
// if dirty, uploads (logging but not failing on error); if delete is set,
// deletes and invalidates. The handle is not dropped here; the host driver
// releasing it drives the final transition to closed via Release.
func (t *Translator) Cleanup(ctx context.Context, fh uint64, flags CleanupFlags) {
	h, ok := t.lookupHandle(fh)
	if !ok {
		return
	}
	if h.Dirty {
		if _, err := t.store.WriteFile(ctx, h.RemotePath, h.WriteBuffer, 0); err != nil {
			t.log.Warn().Str("path", h.RemotePath).Err(err).Msg("flush failed during cleanup; proceeding")
		} else {
			t.metaCache.Invalidate(h.RemotePath)
			h.MarkFlushed()
		}
	}
	if flags.Delete {
		var err error
		if h.IsDirectory {
			err = t.store.DeleteDir(ctx, h.RemotePath)
		} else {
			err = t.store.DeleteFile(ctx, h.RemotePath)
		}
		if err != nil {
			t.log.Warn().Str("path", h.RemotePath).Err(err).Msg("delete failed during cleanup")
		} else {
			t.dirCache.InvalidateParent(h.RemotePath)
			t.metaCache.Invalidate(h.RemotePath)
		}
	}
	h.MarkCleanupPending()
}

// Release drops the handle table entry once the host driver has finished
// with it, completing cleanup-pending --> closed.
func (t *Translator) Release(fh uint64) {
	if h, ok := t.lookupHandle(fh); ok {
		h.Close()
	}
	t.dropHandle(fh)
}

// GetSecurity implements get_security(handle): the same constant
// permissive descriptor GetSecurityByName returns.
func (t *Translator) GetSecurity(fh uint64) (SecurityDescriptor, HostError) {
	if _, ok := t.lookupHandle(fh); !ok {
		return SecurityDescriptor{}, HostErrObjectNameNotFound
	}
	return t.permissiveSD, HostErrOK
}

// HostCallbacks names every operation in spec.md §6 directly, in the
// spec's own vocabulary rather than a generic FUSE-shaped interface, so
// that a host-driver adapter (see pkg/fsys/cgofuseadapter) depends on this
// package instead of the other way around. *Translator satisfies it.
type HostCallbacks interface {
	GetVolumeInfo() VolumeInfo
	GetSecurityByName(ctx context.Context, path string) (Entry, SecurityDescriptor, HostError)
	Open(ctx context.Context, path string) (uint64, Entry, HostError)
	Create(ctx context.Context, path string, isDir bool) (uint64, HostError)
	Read(ctx context.Context, fh uint64, offset int64, length int64) ([]byte, HostError)
	Write(ctx context.Context, fh uint64, buf []byte, offset int64) (int, HostError)
	SetFileSize(ctx context.Context, fh uint64, size int64) HostError
	Overwrite(fh uint64) HostError
	Flush(ctx context.Context, fh uint64) HostError
	GetFileInfo(fh uint64) (Entry, HostError)
	SetFileInfo(fh uint64, creation, lastAccess, lastWrite, change *time.Time) HostError
	ReadDirectory(ctx context.Context, fh uint64, marker string) ([]Entry, HostError)
	Rename(ctx context.Context, fh uint64, oldPath, newPath string, replaceIfExists bool) HostError
	Cleanup(ctx context.Context, fh uint64, flags CleanupFlags)
	Release(fh uint64)
	GetSecurity(fh uint64) (SecurityDescriptor, HostError)
}

var _ HostCallbacks = (*Translator)(nil)
