// Package remote defines the back-end-agnostic remote-store contract: the
// 11-operation interface every FTP, SFTP, and cloud adapter implements, the
// uniform FileStats record, and the error-kind taxonomy back-ends translate
// protocol errors into at the boundary.
package remote

import (
	"context"
	"time"
)

// FileStats is the uniform metadata record every back-end returns for a
// single entry. It is immutable after construction.
type FileStats struct {
	Name         string
	Size         int64
	ModifiedTime time.Time
	IsDirectory  bool
}

// Store is the abstract remote-store contract. All paths passed in are
// canonical (see pkg/pathutil). Every operation may fail with an *Error
// carrying one of the Kind values below; implementations must not leak
// protocol-specific error types above this boundary.
type Store interface {
	// Connect establishes the session, performs auth, and probes
	// capabilities. Idempotent if already connected.
	Connect(ctx context.Context) error

	// Disconnect is a best-effort close; it never fails.
	Disconnect()

	// ListDir enumerates direct children of path. "." and ".." are
	// excluded; order is unspecified. Fails NotFound if path is not a
	// directory.
	ListDir(ctx context.Context, path string) ([]FileStats, error)

	// GetFileInfo returns metadata for a single entry.
	GetFileInfo(ctx context.Context, path string) (FileStats, error)

	// ReadFile returns up to length bytes starting at offset. A nil
	// length reads to EOF. Reading at or past EOF returns an empty slice.
	ReadFile(ctx context.Context, path string, offset int64, length *int64) ([]byte, error)

	// WriteFile writes data at offset, extending the file as needed, and
	// returns the number of bytes written. Back-ends without native
	// random-offset writes perform read-modify-write internally.
	WriteFile(ctx context.Context, path string, data []byte, offset int64) (int, error)

	// CreateFile creates an empty regular file. Fails AlreadyExists if
	// path already exists.
	CreateFile(ctx context.Context, path string) error

	// CreateDir creates a directory, creating intermediate parents as
	// needed. An already-existing directory is not an error.
	CreateDir(ctx context.Context, path string) error

	// DeleteFile removes a regular file (or moves it to trash on the
	// cloud back-end).
	DeleteFile(ctx context.Context, path string) error

	// DeleteDir removes an empty directory (or trashes the subtree on
	// the cloud back-end). Fails NotEmpty on strict back-ends when the
	// directory is non-empty.
	DeleteDir(ctx context.Context, path string) error

	// Rename moves old to new. Atomic on FTP/SFTP; on the cloud back-end,
	// a cross-parent rename both re-parents and renames in one call.
	Rename(ctx context.Context, oldPath, newPath string) error
}
