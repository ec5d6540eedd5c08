// Package drive implements remote.Store against the Google Drive v3 API:
// ID-based path resolution bridged by a path-to-ID cache, Workspace
// document export, shared-drive scoping, and rate-limit-aware retry.
package drive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/dansasser/ftp-winmount/pkg/pathutil"
	"github.com/dansasser/ftp-winmount/pkg/rcache"
	"github.com/dansasser/ftp-winmount/pkg/remote"
)

const (
	mimeFolder = "application/vnd.google-apps.folder"

	// resumableThreshold is the upload size at which the back-end switches
	// from a single-request upload to the API client's chunked resumable
	// mode, per spec.md §4.3 "uploads >= 5 MiB use resumable mode".
	resumableThreshold = 5 * 1024 * 1024

	listFields = "files(id,name,mimeType,size,modifiedTime)"
	getFields  = "id,name,mimeType,size,modifiedTime"
)

// Options configures the Drive back-end.
type Options struct {
	Auth AuthOptions

	// RootFolderID anchors path resolution; "" means the Drive root.
	RootFolderID string

	// SharedDrive is either an opaque shared-drive ID or a display name.
	// A value without spaces is used as an ID; a value with spaces is
	// resolved as a display name once at Connect.
	SharedDrive string

	PathIDTTL     time.Duration
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// Store implements remote.Store against the Drive v3 API. Path resolution
// is bridged by an internal PathIDCache: the translator's directory and
// metadata caches live one layer up, but the path->ID bridge is intrinsic
// to this back-end's wire model and so is owned here, per the boundary
// fsys.New documents ("the path-to-ID cache... lives inside the ID-based
// back-end itself").
type Store struct {
	opt Options
	log zerolog.Logger

	svc       *drive.Service
	rootID    string
	driveID   string // resolved shared-drive ID, "" for "My Drive"
	pathIDs   *rcache.PathIDCache
}

// New builds an unconnected Store. Call Connect to authenticate and
// resolve the configured root/shared-drive.
func New(opt Options, log zerolog.Logger) *Store {
	if opt.PathIDTTL <= 0 {
		opt.PathIDTTL = 2 * time.Minute
	}
	if opt.RetryAttempts <= 0 {
		opt.RetryAttempts = 3
	}
	if opt.RetryDelay <= 0 {
		opt.RetryDelay = time.Second
	}
	return &Store{
		opt:     opt,
		log:     log.With().Str("backend", "drive").Logger(),
		pathIDs: rcache.NewPathIDCache(opt.PathIDTTL),
	}
}

// Connect authenticates via OAuth, builds the Drive v3 client, resolves
// the shared-drive identifier (if a display name was configured), and
// validates the configured root folder. Idempotent.
func (s *Store) Connect(ctx context.Context) error {
	if s.svc != nil {
		return nil
	}
	ts, err := tokenSource(ctx, s.opt.Auth)
	if err != nil {
		return remote.NewError("connect", "", remote.KindAuthenticationFailed, err)
	}
	svc, err := drive.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return remote.NewError("connect", "", remote.KindUnavailable, err)
	}
	s.svc = svc

	if s.opt.SharedDrive != "" {
		id, err := s.resolveSharedDrive(ctx, s.opt.SharedDrive)
		if err != nil {
			if remote.KindOf(err) != remote.KindFatal {
				return err
			}
			return remote.NewError("connect", "", classify(err), errors.Wrap(err, "resolving shared drive"))
		}
		s.driveID = id
	}

	root := s.opt.RootFolderID
	if root == "" {
		root = "root"
	}
	s.rootID = root
	s.pathIDs.Put("/", root)
	return nil
}

// Disconnect is a no-op: the Drive client holds no persistent session
// beyond its HTTP transport's connection pool.
func (s *Store) Disconnect() {}

// withRetry runs fn, retrying per the Kind taxonomy's Retryable rule.
// Rate-limit (HTTP 429) failures back off exponentially; other transient
// failures use the configured fixed delay. This is a dedicated loop
// rather than internal/pacer.Pacer because the two back-off strategies
// must be selected per-attempt from the error actually observed, which
// Pacer's single fixed-or-exponential mode cannot express.
func (s *Store) withRetry(ctx context.Context, op, path string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < s.opt.RetryAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		kind := classify(err)
		if !kind.Retryable() || attempt == s.opt.RetryAttempts-1 {
			break
		}
		wait := s.opt.RetryDelay
		if isRateLimited(err) {
			wait = s.opt.RetryDelay * time.Duration(int64(1)<<uint(attempt))
		}
		s.log.Debug().Str("op", op).Str("path", path).Dur("wait", wait).Msg("retrying after transient drive error")
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return wrap(op, path, lastErr)
}

// escapeName quotes a name for inclusion in a Drive query string.
func escapeName(name string) string {
	name = strings.ReplaceAll(name, `\`, `\\`)
	name = strings.ReplaceAll(name, `'`, `\'`)
	return name
}

func (s *Store) filesList(ctx context.Context, q string) (*drive.FileList, error) {
	call := s.svc.Files.List().Context(ctx).Q(q).Fields(googleapi.Field(listFields)).PageSize(1000)
	if s.driveID != "" {
		call = call.DriveId(s.driveID).Corpora("drive").IncludeItemsFromAllDrives(true).SupportsAllDrives(true)
	}
	return call.Do()
}

// childID looks up a single child of parentID named name, returning its
// ID and mime type. ok is false if no such child exists.
func (s *Store) childID(ctx context.Context, parentID, name string) (id, mimeType string, ok bool, err error) {
	q := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", escapeName(name), parentID)
	var list *drive.FileList
	rerr := s.withRetry(ctx, "resolve", name, func() error {
		var e error
		list, e = s.filesList(ctx, q)
		return e
	})
	if rerr != nil {
		return "", "", false, rerr
	}
	if len(list.Files) == 0 {
		return "", "", false, nil
	}
	return list.Files[0].Id, list.Files[0].MimeType, true, nil
}

// resolve walks path segment-by-segment from the configured root,
// consulting and populating the path-to-ID cache at every level, exactly
// as the original PathCache.resolve does.
func (s *Store) resolve(ctx context.Context, path string) (string, error) {
	path = pathutil.Normalize(path)
	if id, ok := s.pathIDs.Get(path); ok {
		return id, nil
	}
	if path == "/" {
		s.pathIDs.Put("/", s.rootID)
		return s.rootID, nil
	}

	parent := pathutil.Parent(path)
	parentID, err := s.resolve(ctx, parent)
	if err != nil {
		return "", err
	}
	leaf := pathutil.Base(path)

	id, _, ok, err := s.childID(ctx, parentID, leaf)
	if err != nil {
		return "", err
	}
	if !ok {
		if stripped, isExport := stripExportExtension(leaf); isExport {
			id, _, ok, err = s.childID(ctx, parentID, stripped)
			if err != nil {
				return "", err
			}
		}
	}
	if !ok {
		return "", remote.NewError("resolve", path, remote.KindNotFound, nil)
	}
	s.pathIDs.Put(path, id)
	return id, nil
}

// invalidateAfterMutation clears the cached ID for path and the entire
// subtree under its parent, matching the original's
// "invalidate_children called after every write/create/delete/rename".
func (s *Store) invalidateAfterMutation(path string) {
	path = pathutil.Normalize(path)
	s.pathIDs.Invalidate(path)
	s.pathIDs.InvalidateSubtree(pathutil.Parent(path))
}

func toFileStats(f *drive.File) (remote.FileStats, bool) {
	if f.MimeType == mimeFolder {
		return remote.FileStats{Name: f.Name, IsDirectory: true, ModifiedTime: parseTime(f.ModifiedTime)}, true
	}
	if exp, ok := exportFormats[f.MimeType]; ok {
		return remote.FileStats{Name: f.Name + exp.ext, IsDirectory: false, ModifiedTime: parseTime(f.ModifiedTime)}, true
	}
	if hiddenNativeTypes[f.MimeType] {
		return remote.FileStats{}, false
	}
	return remote.FileStats{Name: f.Name, Size: f.Size, IsDirectory: false, ModifiedTime: parseTime(f.ModifiedTime)}, true
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ListDir enumerates the direct children of path, filtering out hidden
// Workspace native types and renaming exportable Workspace documents with
// their synthetic extension.
func (s *Store) ListDir(ctx context.Context, path string) ([]remote.FileStats, error) {
	id, err := s.resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("'%s' in parents and trashed = false", id)
	var list *drive.FileList
	rerr := s.withRetry(ctx, "list_dir", path, func() error {
		var e error
		list, e = s.filesList(ctx, q)
		return e
	})
	if rerr != nil {
		return nil, rerr
	}
	out := make([]remote.FileStats, 0, len(list.Files))
	for _, f := range list.Files {
		if st, ok := toFileStats(f); ok {
			out = append(out, st)
		}
	}
	return out, nil
}

// GetFileInfo returns metadata for a single path, resolving the
// synthetic-extension fallback for exported Workspace documents.
func (s *Store) GetFileInfo(ctx context.Context, path string) (remote.FileStats, error) {
	id, err := s.resolve(ctx, path)
	if err != nil {
		return remote.FileStats{}, err
	}
	var f *drive.File
	rerr := s.withRetry(ctx, "get_file_info", path, func() error {
		var e error
		f, e = s.svc.Files.Get(id).Context(ctx).Fields(googleapi.Field(getFields)).SupportsAllDrives(true).Do()
		return e
	})
	if rerr != nil {
		return remote.FileStats{}, rerr
	}
	st, ok := toFileStats(f)
	if !ok {
		return remote.FileStats{}, remote.NewError("get_file_info", path, remote.KindNotFound, nil)
	}
	// The caller-visible name must be the leaf actually requested (which
	// may carry the synthetic export extension) rather than the native
	// Drive object's bare name.
	st.Name = pathutil.Base(path)
	return st, nil
}

// ReadFile reads up to length bytes starting at offset. Workspace
// documents are rendered through the export endpoint, which has no
// byte-range support, so the slice is taken client-side; ordinary files
// use a Range request.
func (s *Store) ReadFile(ctx context.Context, path string, offset int64, length *int64) ([]byte, error) {
	id, err := s.resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	var f *drive.File
	rerr := s.withRetry(ctx, "read_file", path, func() error {
		var e error
		f, e = s.svc.Files.Get(id).Context(ctx).Fields(googleapi.Field(getFields)).SupportsAllDrives(true).Do()
		return e
	})
	if rerr != nil {
		return nil, rerr
	}

	if exp, ok := exportFormats[f.MimeType]; ok {
		data, err := s.exportFile(ctx, path, id, exp.mime)
		if err != nil {
			return nil, err
		}
		return sliceRange(data, offset, length), nil
	}

	var buf []byte
	rerr = s.withRetry(ctx, "read_file", path, func() error {
		call := s.svc.Files.Get(id).Context(ctx).SupportsAllDrives(true)
		if offset > 0 || length != nil {
			end := ""
			if length != nil {
				end = fmt.Sprintf("%d", offset+*length-1)
			}
			call.Header().Set("Range", fmt.Sprintf("bytes=%d-%s", offset, end))
		}
		resp, e := call.Download()
		if e != nil {
			return e
		}
		defer resp.Body.Close()
		data, e := io.ReadAll(resp.Body)
		buf = data
		return e
	})
	if rerr != nil {
		return nil, rerr
	}
	return buf, nil
}

func (s *Store) exportFile(ctx context.Context, path, id, exportMime string) ([]byte, error) {
	var buf []byte
	rerr := s.withRetry(ctx, "export", path, func() error {
		resp, e := s.svc.Files.Export(id, exportMime).Context(ctx).Download()
		if e != nil {
			return e
		}
		defer resp.Body.Close()
		data, e := io.ReadAll(resp.Body)
		buf = data
		return e
	})
	return buf, rerr
}

func sliceRange(data []byte, offset int64, length *int64) []byte {
	if offset >= int64(len(data)) {
		return []byte{}
	}
	end := int64(len(data))
	if length != nil && offset+*length < end {
		end = offset + *length
	}
	return data[offset:end]
}

// WriteFile writes data at offset. Workspace documents are read-only; a
// nonzero offset performs read-modify-write; uploads at or above the
// resumable threshold use chunked resumable upload.
func (s *Store) WriteFile(ctx context.Context, path string, data []byte, offset int64) (int, error) {
	id, err := s.resolve(ctx, path)
	if err != nil {
		return 0, err
	}

	var existing *drive.File
	rerr := s.withRetry(ctx, "write_file", path, func() error {
		var e error
		existing, e = s.svc.Files.Get(id).Context(ctx).Fields(googleapi.Field(getFields)).SupportsAllDrives(true).Do()
		return e
	})
	if rerr != nil {
		return 0, rerr
	}
	if _, isExport := exportFormats[existing.MimeType]; isExport {
		return 0, remote.NewError("write_file", path, remote.KindAccessDenied, nil)
	}

	final := data
	if offset != 0 {
		current, err := s.ReadFile(ctx, path, 0, nil)
		if err != nil && remote.KindOf(err) != remote.KindNotFound {
			return 0, err
		}
		end := offset + int64(len(data))
		if int64(len(current)) > end {
			end = int64(len(current))
		}
		final = make([]byte, end)
		copy(final, current)
		copy(final[offset:offset+int64(len(data))], data)
	}

	if err := s.uploadMedia(ctx, id, final); err != nil {
		return 0, wrap("write_file", path, err)
	}
	s.invalidateAfterMutation(path)
	return len(data), nil
}

// CreateFile creates an empty regular file under path's parent directory.
func (s *Store) CreateFile(ctx context.Context, path string) error {
	if _, err := s.resolve(ctx, path); err == nil {
		return remote.NewError("create_file", path, remote.KindAlreadyExists, nil)
	}
	parentID, err := s.resolve(ctx, pathutil.Parent(path))
	if err != nil {
		return err
	}
	f := &drive.File{Name: pathutil.Base(path), Parents: []string{parentID}}
	rerr := s.withRetry(ctx, "create_file", path, func() error {
		_, e := s.svc.Files.Create(f).Context(ctx).SupportsAllDrives(true).Do()
		return e
	})
	if rerr != nil {
		return rerr
	}
	s.invalidateAfterMutation(path)
	return nil
}

// CreateDir creates a directory, creating missing intermediate parents.
// An already-existing directory at path is not an error.
func (s *Store) CreateDir(ctx context.Context, path string) error {
	path = pathutil.Normalize(path)
	if path == "/" {
		return nil
	}
	if st, err := s.GetFileInfo(ctx, path); err == nil {
		if st.IsDirectory {
			return nil
		}
		return remote.NewError("create_dir", path, remote.KindAlreadyExists, nil)
	} else if remote.KindOf(err) != remote.KindNotFound {
		return err
	}

	parent := pathutil.Parent(path)
	if parent != path {
		if err := s.CreateDir(ctx, parent); err != nil {
			return err
		}
	}
	parentID, err := s.resolve(ctx, parent)
	if err != nil {
		return err
	}
	f := &drive.File{Name: pathutil.Base(path), Parents: []string{parentID}, MimeType: mimeFolder}
	rerr := s.withRetry(ctx, "create_dir", path, func() error {
		_, e := s.svc.Files.Create(f).Context(ctx).SupportsAllDrives(true).Do()
		return e
	})
	if rerr != nil {
		return rerr
	}
	s.invalidateAfterMutation(path)
	return nil
}

// trash sets the trashed flag on id; the cloud back-end never hard-deletes
// (spec.md §4.3, DESIGN.md Open Question 2).
func (s *Store) trash(ctx context.Context, op, path, id string) error {
	rerr := s.withRetry(ctx, op, path, func() error {
		_, e := s.svc.Files.Update(id, &drive.File{Trashed: true}).Context(ctx).SupportsAllDrives(true).Do()
		return e
	})
	if rerr != nil {
		return rerr
	}
	s.invalidateAfterMutation(path)
	return nil
}

// DeleteFile moves a regular file to the trash.
func (s *Store) DeleteFile(ctx context.Context, path string) error {
	id, err := s.resolve(ctx, path)
	if err != nil {
		return err
	}
	return s.trash(ctx, "delete_file", path, id)
}

// DeleteDir trashes the directory and, implicitly, its subtree; the cloud
// back-end never reports NotEmpty (spec.md §4.3).
func (s *Store) DeleteDir(ctx context.Context, path string) error {
	id, err := s.resolve(ctx, path)
	if err != nil {
		return err
	}
	return s.trash(ctx, "delete_dir", path, id)
}

// Rename moves oldPath to newPath. When the parent differs, re-parenting
// and renaming happen in the single Files.Update call the Drive API
// supports, per spec.md §4.3.
func (s *Store) Rename(ctx context.Context, oldPath, newPath string) error {
	oldPath = pathutil.Normalize(oldPath)
	newPath = pathutil.Normalize(newPath)

	id, err := s.resolve(ctx, oldPath)
	if err != nil {
		return err
	}
	oldParentID, err := s.resolve(ctx, pathutil.Parent(oldPath))
	if err != nil {
		return err
	}
	newParentID, err := s.resolve(ctx, pathutil.Parent(newPath))
	if err != nil {
		return err
	}

	update := &drive.File{Name: pathutil.Base(newPath)}
	call := func() error {
		req := s.svc.Files.Update(id, update).Context(ctx).SupportsAllDrives(true)
		if oldParentID != newParentID {
			req = req.AddParents(newParentID).RemoveParents(oldParentID)
		}
		_, e := req.Do()
		return e
	}
	rerr := s.withRetry(ctx, "rename", oldPath, call)
	if rerr != nil {
		return rerr
	}
	s.invalidateAfterMutation(oldPath)
	s.invalidateAfterMutation(newPath)
	return nil
}

// uploadMedia uploads the full content of id, switching to chunked
// resumable mode at or above resumableThreshold.
func (s *Store) uploadMedia(ctx context.Context, id string, data []byte) error {
	opts := []googleapi.MediaOption{}
	if len(data) >= resumableThreshold {
		opts = append(opts, googleapi.ChunkSize(defaultUploadChunkSize))
	} else {
		opts = append(opts, googleapi.ChunkSize(0))
	}
	_, err := s.svc.Files.Update(id, &drive.File{}).
		Context(ctx).
		Media(bytes.NewReader(data), opts...).
		SupportsAllDrives(true).
		Do()
	return err
}
