// Package ftp implements remote.Store against an FTP or FTPS control
// channel: connection pooling, MLSD/LIST dialect parsing, REST-offset
// reads, and transient-error retry with reconnect.
package ftp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/textproto"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rs/zerolog"

	"github.com/dansasser/ftp-winmount/internal/pacer"
	"github.com/dansasser/ftp-winmount/pkg/pathutil"
	"github.com/dansasser/ftp-winmount/pkg/remote"
)

// Options configures the FTP/FTPS back-end. Field names mirror the
// configuration surface named in SPEC_FULL.md.
type Options struct {
	Host              string
	Port              string
	User              string
	Pass              string
	TLS               bool // implicit FTPS
	ExplicitTLS       bool
	SkipVerifyTLSCert bool
	DisablePassive    bool
	Concurrency       int           // not consulted: the pool has no size limit
	IdleTimeout       time.Duration // drain pooled connections after this much idle time
	Timeout           time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
}

// Store implements remote.Store over an FTP/FTPS control channel. A single
// mutex guards pool checkout and checkin (see SPEC_FULL.md's resolution of
// the concurrency Open Question): the protocol's control channel cannot
// multiplex transfers, so each concurrent call uses its own pooled
// connection. The number of connections is not capped; checkout dials a
// new one whenever the pool is empty.
type Store struct {
	opt      Options
	dialAddr string

	poolMu sync.Mutex
	pool   []*ftp.ServerConn
	drain  *time.Timer

	pacer *pacer.Pacer
	log   zerolog.Logger

	mlstSupported bool
}

// New builds an unconnected Store. Call Connect before use.
func New(opt Options, log zerolog.Logger) *Store {
	if opt.Port == "" {
		opt.Port = "21"
	}
	if opt.RetryAttempts <= 0 {
		opt.RetryAttempts = 3
	}
	if opt.RetryDelay <= 0 {
		opt.RetryDelay = time.Second
	}
	return &Store{
		opt:      opt,
		dialAddr: opt.Host + ":" + opt.Port,
		pacer:    pacer.New(opt.RetryAttempts, opt.RetryDelay),
		log:      log.With().Str("backend", "ftp").Logger(),
	}
}

// debugLog redacts PASS when jlaffaye/ftp's wire-dump option is enabled.
type debugLog struct {
	mu  sync.Mutex
	log zerolog.Logger
}

func (d *debugLog) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, file, _, ok := runtime.Caller(1)
	direction := "rx"
	if ok && strings.Contains(file, "multi") {
		direction = "tx"
	}
	for _, line := range strings.Split(strings.TrimRight(string(p), "\r\n"), "\r\n") {
		if strings.HasPrefix(line, "PASS") {
			d.log.Trace().Str("dir", direction).Msg("PASS *****")
			continue
		}
		d.log.Trace().Str("dir", direction).Str("line", line).Msg("wire")
	}
	return len(p), nil
}

func textprotoError(err error) *textproto.Error {
	var e *textproto.Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// statusNotLoggedIn is RFC 959's "not logged in" reply code (530).
// jlaffaye/ftp does not export this constant; hardcoded as the standard
// numeric code rather than risk referencing an unconfirmed symbol.
const statusNotLoggedIn = 530

// classify maps a jlaffaye/ftp error to the remote.Kind taxonomy.
func classify(err error) remote.Kind {
	if err == nil {
		return remote.KindUnknown
	}
	if e := textprotoError(err); e != nil {
		switch e.Code {
		case ftp.StatusFileUnavailable, ftp.StatusFileActionIgnored:
			return remote.KindNotFound
		case statusNotLoggedIn:
			return remote.KindAccessDenied
		case ftp.StatusNotAvailable, ftp.StatusTransfertAborted:
			return remote.KindUnavailable
		}
		return remote.KindFatal
	}
	if errors.Is(err, io.EOF) {
		return remote.KindUnavailable
	}
	return remote.KindUnavailable
}

func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return remote.NewError(op, path, classify(err), err)
}

func (s *Store) tlsConfig() *tls.Config {
	if !s.opt.TLS && !s.opt.ExplicitTLS {
		return nil
	}
	return &tls.Config{
		ServerName:         s.opt.Host,
		InsecureSkipVerify: s.opt.SkipVerifyTLSCert,
	}
}

func (s *Store) dial(ctx context.Context) (*ftp.ServerConn, error) {
	opts := []ftp.DialOption{ftp.DialWithContext(ctx)}
	if s.opt.Timeout > 0 {
		opts = append(opts, ftp.DialWithShutTimeout(s.opt.Timeout))
	}
	if tlsCfg := s.tlsConfig(); tlsCfg != nil {
		if s.opt.ExplicitTLS {
			opts = append(opts, ftp.DialWithExplicitTLS(tlsCfg))
		} else {
			opts = append(opts, ftp.DialWithTLS(tlsCfg))
		}
	}
	if s.opt.DisablePassive {
		opts = append(opts, ftp.DialWithDisabledEPSV(true))
	}
	opts = append(opts, ftp.DialWithDebugOutput(&debugLog{log: s.log}))

	c, err := ftp.Dial(s.dialAddr, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Login(s.opt.User, s.opt.Pass); err != nil {
		_ = c.Quit()
		return nil, err
	}
	return c, nil
}

// Connect probes capabilities and pools one connection to surface auth
// errors early. Idempotent: calling it again just verifies the pool still
// dials successfully.
func (s *Store) Connect(ctx context.Context) error {
	c, err := s.dial(ctx)
	if err != nil {
		return remote.NewError("connect", s.opt.Host, classifyConnect(err), err)
	}
	s.mlstSupported = c.IsTimePreciseInList()
	s.checkin(c, nil)
	return nil
}

func classifyConnect(err error) remote.Kind {
	if e := textprotoError(err); e != nil && e.Code == statusNotLoggedIn {
		return remote.KindAuthenticationFailed
	}
	return remote.KindUnavailable
}

// Disconnect drains the pool; best-effort.
func (s *Store) Disconnect() {
	s.poolMu.Lock()
	defer s.poolMu.Unlock()
	if s.drain != nil {
		s.drain.Stop()
	}
	for _, c := range s.pool {
		_ = c.Quit()
	}
	s.pool = nil
}

func (s *Store) checkout(ctx context.Context) (*ftp.ServerConn, error) {
	s.poolMu.Lock()
	if n := len(s.pool); n > 0 {
		c := s.pool[n-1]
		s.pool = s.pool[:n-1]
		s.poolMu.Unlock()
		return c, nil
	}
	s.poolMu.Unlock()
	return s.dial(ctx)
}

// checkin returns c to the pool, or closes it if err suggests the
// connection is dead.
func (s *Store) checkin(c *ftp.ServerConn, err error) {
	if c == nil {
		return
	}
	if err != nil && textprotoError(err) != nil {
		if nopErr := c.NoOp(); nopErr != nil {
			_ = c.Quit()
			return
		}
	}
	s.poolMu.Lock()
	s.pool = append(s.pool, c)
	if s.opt.IdleTimeout > 0 {
		if s.drain == nil {
			s.drain = time.AfterFunc(s.opt.IdleTimeout, s.Disconnect)
		} else {
			s.drain.Reset(s.opt.IdleTimeout)
		}
	}
	s.poolMu.Unlock()
}

// withConn runs fn against a pooled connection, retrying per the pacer on
// transient errors and reconnecting between attempts: the connection that
// failed is closed, and the next attempt's checkout takes another pooled
// connection or dials a new one.
func (s *Store) withConn(ctx context.Context, fn func(*ftp.ServerConn) error) error {
	return s.pacer.Call(ctx, func() (bool, error) {
		c, err := s.checkout(ctx)
		if err != nil {
			return true, err
		}
		err = fn(c)
		retry := classify(err).Retryable()
		if retry {
			_ = c.Quit()
		} else {
			s.checkin(c, err)
		}
		return retry, err
	})
}

func toEntry(e *ftp.Entry) remote.FileStats {
	return remote.FileStats{
		Name:         e.Name,
		Size:         int64(e.Size),
		ModifiedTime: e.Time,
		IsDirectory:  e.Type == ftp.EntryTypeFolder,
	}
}

// findItem locates a single entry via MLST when the server supports
// precise listing, else by scanning the parent directory's LIST output.
func (s *Store) findItem(ctx context.Context, path string) (*ftp.Entry, error) {
	if path == "/" {
		return &ftp.Entry{Name: "", Type: ftp.EntryTypeFolder, Time: time.Now()}, nil
	}
	var found *ftp.Entry
	err := s.withConn(ctx, func(c *ftp.ServerConn) error {
		if s.mlstSupported {
			e, err := c.GetEntry(path)
			if err != nil {
				if tpErr := textprotoError(err); tpErr != nil && tpErr.Code == ftp.StatusBadArguments {
					return nil
				}
				return err
			}
			found = e
			return nil
		}
		dir := pathutil.Parent(path)
		base := pathutil.Base(path)
		entries, err := c.List(dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Name == base {
				found = e
				return nil
			}
		}
		return nil
	})
	return found, err
}

func (s *Store) ListDir(ctx context.Context, path string) ([]remote.FileStats, error) {
	var entries []*ftp.Entry
	err := s.withConn(ctx, func(c *ftp.ServerConn) error {
		e, err := c.List(path)
		entries = e
		return err
	})
	if err != nil {
		return nil, wrap("list_dir", path, err)
	}
	out := make([]remote.FileStats, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		out = append(out, toEntry(e))
	}
	return out, nil
}

func (s *Store) GetFileInfo(ctx context.Context, path string) (remote.FileStats, error) {
	e, err := s.findItem(ctx, path)
	if err != nil {
		return remote.FileStats{}, wrap("get_file_info", path, err)
	}
	if e == nil {
		return remote.FileStats{}, remote.NewError("get_file_info", path, remote.KindNotFound, nil)
	}
	return toEntry(e), nil
}

// ReadFile issues a restart-offset RETR when offset is nonzero (the server
// is assumed to support REST; jlaffaye/ftp's RetrFrom issues it directly).
func (s *Store) ReadFile(ctx context.Context, path string, offset int64, length *int64) ([]byte, error) {
	var buf []byte
	err := s.withConn(ctx, func(c *ftp.ServerConn) error {
		resp, err := c.RetrFrom(path, uint64(offset))
		if err != nil {
			return err
		}
		defer resp.Close()
		if length != nil {
			limited := io.LimitReader(resp, *length)
			data, err := io.ReadAll(limited)
			buf = data
			return err
		}
		data, err := io.ReadAll(resp)
		buf = data
		return err
	})
	if err != nil {
		return nil, wrap("read_file", path, err)
	}
	return buf, nil
}

// WriteFile performs read-modify-write for nonzero offsets: FTP has no
// native random-offset write primitive, so such writes download the
// existing content, splice in data, and re-upload the whole file. A zero
// offset uploads data as the whole file without downloading first.
func (s *Store) WriteFile(ctx context.Context, path string, data []byte, offset int64) (int, error) {
	var final []byte
	if offset == 0 {
		final = data
	} else {
		existing, err := s.ReadFile(ctx, path, 0, nil)
		if err != nil && remote.KindOf(err) != remote.KindNotFound {
			return 0, err
		}
		end := offset + int64(len(data))
		if end < int64(len(existing)) {
			end = int64(len(existing))
		}
		final = make([]byte, end)
		copy(final, existing)
		copy(final[offset:offset+int64(len(data))], data)
	}
	err := s.withConn(ctx, func(c *ftp.ServerConn) error {
		return c.Stor(path, bytes.NewReader(final))
	})
	if err != nil {
		return 0, wrap("write_file", path, err)
	}
	return len(data), nil
}

func (s *Store) CreateFile(ctx context.Context, path string) error {
	if _, err := s.GetFileInfo(ctx, path); err == nil {
		return remote.NewError("create_file", path, remote.KindAlreadyExists, nil)
	}
	err := s.withConn(ctx, func(c *ftp.ServerConn) error {
		return c.Stor(path, bytes.NewReader(nil))
	})
	return wrap("create_file", path, err)
}

func (s *Store) CreateDir(ctx context.Context, path string) error {
	if path == "/" {
		return nil
	}
	fi, err := s.GetFileInfo(ctx, path)
	if err == nil {
		if fi.IsDirectory {
			return nil
		}
		return remote.NewError("create_dir", path, remote.KindAlreadyExists, nil)
	}
	if remote.KindOf(err) != remote.KindNotFound {
		return err
	}
	if parent := pathutil.Parent(path); parent != "/" {
		if err := s.CreateDir(ctx, parent); err != nil {
			return err
		}
	}
	mkErr := s.withConn(ctx, func(c *ftp.ServerConn) error {
		return c.MakeDir(path)
	})
	if tpErr := textprotoError(mkErr); tpErr != nil {
		switch tpErr.Code {
		case ftp.StatusRequestedFileActionOK, ftp.StatusFileUnavailable, 521:
			return nil
		}
	}
	return wrap("create_dir", path, mkErr)
}

func (s *Store) DeleteFile(ctx context.Context, path string) error {
	err := s.withConn(ctx, func(c *ftp.ServerConn) error {
		return c.Delete(path)
	})
	return wrap("delete_file", path, err)
}

// notEmptyMarkers are substrings FTP servers commonly put in the message
// of an otherwise generic failure reply when RMD targets a non-empty
// directory; there is no dedicated RFC 959 status code for this case.
var notEmptyMarkers = []string{"not empty", "directory not empty"}

func (s *Store) DeleteDir(ctx context.Context, path string) error {
	err := s.withConn(ctx, func(c *ftp.ServerConn) error {
		return c.RemoveDir(path)
	})
	if tpErr := textprotoError(err); tpErr != nil {
		lower := strings.ToLower(tpErr.Msg)
		for _, marker := range notEmptyMarkers {
			if strings.Contains(lower, marker) {
				return remote.NewError("delete_dir", path, remote.KindNotEmpty, err)
			}
		}
	}
	return wrap("delete_dir", path, err)
}

func (s *Store) Rename(ctx context.Context, oldPath, newPath string) error {
	err := s.withConn(ctx, func(c *ftp.ServerConn) error {
		return c.Rename(oldPath, newPath)
	})
	return wrap("rename", oldPath, err)
}
