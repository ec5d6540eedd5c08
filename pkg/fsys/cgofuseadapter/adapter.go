// Package cgofuseadapter binds pkg/fsys.Translator to
// github.com/winfsp/cgofuse/fuse.FileSystemInterface, the concrete
// host-driver surface spec.md treats as an external collaborator. It is a
// thin translation layer: cgofuse's combined path-plus-flags calls are
// split into the HostCallbacks pair the translator exposes, and FUSE's
// POSIX-shaped rename/unlink/mkdir calls (which carry no file handle) open
// a handle, perform the operation, and release it.
package cgofuseadapter

import (
	"context"
	"math"
	"time"

	"github.com/winfsp/cgofuse/fuse"

	"github.com/dansasser/ftp-winmount/pkg/fsys"
)

// noHandle is the sentinel cgofuse passes for Getattr/Truncate calls made
// without an open file handle.
const noHandle = math.MaxUint64

func validHandle(fh uint64) bool { return fh != noHandle }

// Adapter implements fuse.FileSystemInterface over a fsys.HostCallbacks.
// FileSystemBase supplies no-op defaults for the handful of calls the
// spec's translator has no analogue for (symlinks, xattrs, locking).
type Adapter struct {
	fuse.FileSystemBase

	t fsys.HostCallbacks

	// strictRename mirrors WinFsp's default replace_if_exists=false;
	// cgofuse's POSIX hosts (libfuse) always replace, so this only takes
	// effect when the adapter is told it is running under WinFsp.
	strictRename bool
}

// Option configures an Adapter at construction.
type Option func(*Adapter)

// WithStrictRename enables WinFsp's replace_if_exists=false semantics
// (spec.md §4.4 "Rename semantics"). Leave disabled on POSIX hosts, where
// cgofuse delegates to libfuse and rename always replaces.
func WithStrictRename(strict bool) Option {
	return func(a *Adapter) { a.strictRename = strict }
}

// New builds an Adapter around an already-constructed translator.
func New(t fsys.HostCallbacks, opts ...Option) *Adapter {
	a := &Adapter{t: t}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Mount blocks serving the filesystem at mountPoint until unmounted by the
// host OS's tooling (net use /delete, umount, etc. — out of scope per
// spec.md §1). It is the "process entry point" glue named in SPEC_FULL.md,
// kept out of the translator itself so the translator stays host-driver
// agnostic.
func Mount(t fsys.HostCallbacks, mountPoint, volumeLabel string, strictRename bool) error {
	a := New(t, WithStrictRename(strictRename))
	host := fuse.NewFileSystemHost(a)
	host.SetCapReaddirPlus(true)
	args := []string{}
	if volumeLabel != "" {
		args = append(args, "-o", "volname="+volumeLabel)
	}
	if !host.Mount(mountPoint, args) {
		return errMountFailed(mountPoint)
	}
	return nil
}

type errMountFailed string

func (e errMountFailed) Error() string { return "cgofuseadapter: mount failed: " + string(e) }

func mapHostError(e fsys.HostError) int {
	switch e {
	case fsys.HostErrOK:
		return 0
	case fsys.HostErrObjectNameNotFound:
		return -fuse.ENOENT
	case fsys.HostErrAccessDenied:
		return -fuse.EACCES
	case fsys.HostErrIOTimeout:
		return -fuse.ETIMEDOUT
	case fsys.HostErrNameCollision:
		return -fuse.EEXIST
	case fsys.HostErrDirectoryNotEmpty:
		return -fuse.ENOTEMPTY
	default:
		return -fuse.EIO
	}
}

func toTimespec(t time.Time) fuse.Timespec {
	return fuse.Timespec{Sec: t.Unix(), Nsec: int64(t.Nanosecond())}
}

func fromTimespec(ts fuse.Timespec) time.Time {
	return time.Unix(ts.Sec, ts.Nsec)
}

// fillStat projects a fsys.Entry onto the fields a host driver consumes
// per spec.md §4.4: attribute flags, size, allocation size, four
// timestamps, index number 0.
func fillStat(stat *fuse.Stat_t, e fsys.Entry) {
	mode := uint32(fuse.S_IFREG | 0644)
	if e.IsDirectory {
		mode = fuse.S_IFDIR | 0755
	}
	stat.Mode = mode
	stat.Nlink = 1
	stat.Size = e.SizeBytes
	stat.Blksize = 4096
	stat.Blocks = (e.SizeBytes + 511) / 512
	stat.Birthtim = toTimespec(e.CreationTime)
	stat.Atim = toTimespec(e.LastAccessTime)
	stat.Mtim = toTimespec(e.LastWriteTime)
	stat.Ctim = toTimespec(e.ChangeTime)
}

func (a *Adapter) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	if validHandle(fh) {
		entry, herr := a.t.GetFileInfo(fh)
		if herr != fsys.HostErrOK {
			return mapHostError(herr)
		}
		fillStat(stat, entry)
		return 0
	}
	entry, _, herr := a.t.GetSecurityByName(context.Background(), path)
	if herr != fsys.HostErrOK {
		return mapHostError(herr)
	}
	fillStat(stat, entry)
	return 0
}

func (a *Adapter) Statfs(path string, stat *fuse.Statfs_t) int {
	vi := a.t.GetVolumeInfo()
	stat.Bsize = 4096
	stat.Frsize = 4096
	stat.Blocks = vi.TotalBytes / 4096
	stat.Bfree = vi.FreeBytes / 4096
	stat.Bavail = stat.Bfree
	stat.Namemax = 255
	return 0
}

// Access grants everything: the back-ends carry no per-file ACLs, so the
// translator's single permissive security descriptor applies here too
// (spec.md §4.4 "Security").
func (a *Adapter) Access(path string, mask uint32) int { return 0 }

func (a *Adapter) Open(path string, flags int) (int, uint64) {
	fh, _, herr := a.t.Open(context.Background(), path)
	return mapHostError(herr), fh
}

func (a *Adapter) Opendir(path string) (int, uint64) {
	fh, _, herr := a.t.Open(context.Background(), path)
	return mapHostError(herr), fh
}

func (a *Adapter) Create(path string, flags int, mode uint32) (int, uint64) {
	fh, herr := a.t.Create(context.Background(), path, false)
	return mapHostError(herr), fh
}

func (a *Adapter) Mkdir(path string, mode uint32) int {
	fh, herr := a.t.Create(context.Background(), path, true)
	if herr == fsys.HostErrOK {
		a.t.Release(fh)
	}
	return mapHostError(herr)
}

func (a *Adapter) Read(path string, buff []byte, ofst int64, fh uint64) int {
	data, herr := a.t.Read(context.Background(), fh, ofst, int64(len(buff)))
	if herr != fsys.HostErrOK {
		return mapHostError(herr)
	}
	return copy(buff, data)
}

func (a *Adapter) Write(path string, buff []byte, ofst int64, fh uint64) int {
	n, herr := a.t.Write(context.Background(), fh, buff, ofst)
	if herr != fsys.HostErrOK {
		return mapHostError(herr)
	}
	return n
}

func (a *Adapter) Truncate(path string, size int64, fh uint64) int {
	handle := fh
	opened := false
	if !validHandle(fh) {
		h, _, herr := a.t.Open(context.Background(), path)
		if herr != fsys.HostErrOK {
			return mapHostError(herr)
		}
		handle, opened = h, true
	}
	herr := a.t.SetFileSize(context.Background(), handle, size)
	if herr == fsys.HostErrOK && opened {
		herr = a.t.Flush(context.Background(), handle)
	}
	if opened {
		a.t.Release(handle)
	}
	return mapHostError(herr)
}

func (a *Adapter) Flush(path string, fh uint64) int {
	return mapHostError(a.t.Flush(context.Background(), fh))
}

func (a *Adapter) Release(path string, fh uint64) int {
	a.t.Cleanup(context.Background(), fh, fsys.CleanupFlags{Delete: false})
	a.t.Release(fh)
	return 0
}

func (a *Adapter) Releasedir(path string, fh uint64) int {
	a.t.Release(fh)
	return 0
}

func (a *Adapter) unlinkOrRmdir(path string) int {
	fh, _, herr := a.t.Open(context.Background(), path)
	if herr != fsys.HostErrOK {
		return mapHostError(herr)
	}
	a.t.Cleanup(context.Background(), fh, fsys.CleanupFlags{Delete: true})
	a.t.Release(fh)
	return 0
}

func (a *Adapter) Unlink(path string) int { return a.unlinkOrRmdir(path) }
func (a *Adapter) Rmdir(path string) int  { return a.unlinkOrRmdir(path) }

// Rename bridges cgofuse's always-replace POSIX signature to the spec's
// replace_if_exists parameter: strict mode (WinFsp) honors the default
// replace_if_exists=false; non-strict (POSIX/libfuse) hosts always
// replace, since that is the only semantics libfuse offers.
func (a *Adapter) Rename(oldpath string, newpath string) int {
	fh, _, herr := a.t.Open(context.Background(), oldpath)
	if herr != fsys.HostErrOK {
		return mapHostError(herr)
	}
	defer a.t.Release(fh)
	replace := !a.strictRename
	herr = a.t.Rename(context.Background(), fh, oldpath, newpath, replace)
	return mapHostError(herr)
}

func (a *Adapter) Utimens(path string, tmsp []fuse.Timespec) int {
	if len(tmsp) < 2 {
		return 0
	}
	fh, _, herr := a.t.Open(context.Background(), path)
	if herr != fsys.HostErrOK {
		return mapHostError(herr)
	}
	defer a.t.Release(fh)
	at := fromTimespec(tmsp[0])
	mt := fromTimespec(tmsp[1])
	herr = a.t.SetFileInfo(fh, nil, &at, &mt, nil)
	return mapHostError(herr)
}

func (a *Adapter) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	entries, herr := a.t.ReadDirectory(context.Background(), fh, "")
	if herr != fsys.HostErrOK {
		return mapHostError(herr)
	}
	fill(".", nil, 0)
	fill("..", nil, 0)
	for _, e := range entries {
		var st fuse.Stat_t
		fillStat(&st, e)
		if !fill(e.Name, &st, 0) {
			break
		}
	}
	return 0
}

var _ fuse.FileSystemInterface = (*Adapter)(nil)
