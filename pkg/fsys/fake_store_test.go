package fsys

import (
	"context"
	"sync"
	"time"

	"github.com/dansasser/ftp-winmount/pkg/pathutil"
	"github.com/dansasser/ftp-winmount/pkg/remote"
)

// fakeStore is an in-memory remote.Store used to exercise the translator
// without a protocol back-end, mirroring the role a test double plays
// against the teacher's own back-end test suites.
type fakeStore struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
	mtime map[string]time.Time

	calls []string
}

func newFakeStore() *fakeStore {
	s := &fakeStore{
		files: make(map[string][]byte),
		dirs:  map[string]bool{"/": true},
		mtime: make(map[string]time.Time),
	}
	return s
}

func (s *fakeStore) record(call string) { s.calls = append(s.calls, call) }

func (s *fakeStore) Connect(ctx context.Context) error { return nil }
func (s *fakeStore) Disconnect()                       {}

func (s *fakeStore) ListDir(ctx context.Context, path string) ([]remote.FileStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("list_dir " + path)
	if !s.dirs[path] {
		return nil, remote.NewError("list_dir", path, remote.KindNotFound, nil)
	}
	prefix := path
	if prefix != "/" {
		prefix += "/"
	}
	var out []remote.FileStats
	seen := map[string]bool{}
	for p := range s.dirs {
		if p == path || !hasDirectParent(p, path) {
			continue
		}
		name := pathutil.Base(p)
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, remote.FileStats{Name: name, IsDirectory: true, ModifiedTime: s.mtime[p]})
	}
	for p, data := range s.files {
		if !hasDirectParent(p, path) {
			continue
		}
		name := pathutil.Base(p)
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, remote.FileStats{Name: name, Size: int64(len(data)), ModifiedTime: s.mtime[p]})
	}
	return out, nil
}

func hasDirectParent(p, parent string) bool {
	return pathutil.Parent(p) == parent && p != parent
}

func (s *fakeStore) GetFileInfo(ctx context.Context, path string) (remote.FileStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("get_file_info " + path)
	if s.dirs[path] {
		return remote.FileStats{Name: pathutil.Base(path), IsDirectory: true, ModifiedTime: s.mtime[path]}, nil
	}
	if data, ok := s.files[path]; ok {
		return remote.FileStats{Name: pathutil.Base(path), Size: int64(len(data)), ModifiedTime: s.mtime[path]}, nil
	}
	return remote.FileStats{}, remote.NewError("get_file_info", path, remote.KindNotFound, nil)
}

func (s *fakeStore) ReadFile(ctx context.Context, path string, offset int64, length *int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("read_file " + path)
	data, ok := s.files[path]
	if !ok {
		return nil, remote.NewError("read_file", path, remote.KindNotFound, nil)
	}
	if offset >= int64(len(data)) {
		return []byte{}, nil
	}
	end := int64(len(data))
	if length != nil && offset+*length < end {
		end = offset + *length
	}
	out := make([]byte, end-offset)
	copy(out, data[offset:end])
	return out, nil
}

func (s *fakeStore) WriteFile(ctx context.Context, path string, data []byte, offset int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("write_file " + path)
	existing := s.files[path]
	end := offset + int64(len(data))
	if end > int64(len(existing)) {
		grown := make([]byte, end)
		copy(grown, existing)
		existing = grown
	}
	copy(existing[offset:end], data)
	s.files[path] = existing
	s.mtime[path] = time.Now()
	return len(data), nil
}

func (s *fakeStore) CreateFile(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("create_file " + path)
	if _, ok := s.files[path]; ok {
		return remote.NewError("create_file", path, remote.KindAlreadyExists, nil)
	}
	s.files[path] = []byte{}
	s.mtime[path] = time.Now()
	return nil
}

func (s *fakeStore) CreateDir(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("create_dir " + path)
	s.dirs[path] = true
	s.mtime[path] = time.Now()
	return nil
}

func (s *fakeStore) DeleteFile(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("delete_file " + path)
	if _, ok := s.files[path]; !ok {
		return remote.NewError("delete_file", path, remote.KindNotFound, nil)
	}
	delete(s.files, path)
	return nil
}

func (s *fakeStore) DeleteDir(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("delete_dir " + path)
	for p := range s.dirs {
		if hasDirectParent(p, path) {
			return remote.NewError("delete_dir", path, remote.KindNotEmpty, nil)
		}
	}
	for p := range s.files {
		if hasDirectParent(p, path) {
			return remote.NewError("delete_dir", path, remote.KindNotEmpty, nil)
		}
	}
	delete(s.dirs, path)
	return nil
}

func (s *fakeStore) Rename(ctx context.Context, oldPath, newPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("rename " + oldPath + " " + newPath)
	if data, ok := s.files[oldPath]; ok {
		s.files[newPath] = data
		s.mtime[newPath] = s.mtime[oldPath]
		delete(s.files, oldPath)
		delete(s.mtime, oldPath)
		return nil
	}
	if s.dirs[oldPath] {
		s.dirs[newPath] = true
		delete(s.dirs, oldPath)
		return nil
	}
	return remote.NewError("rename", oldPath, remote.KindNotFound, nil)
}
