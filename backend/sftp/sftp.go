// Package sftp implements the remote.Store contract over SFTP, using
// golang.org/x/crypto/ssh for transport and github.com/pkg/sftp for the
// file protocol, following the same pooled-connection, pacer-retried shape
// as the FTP back-end.
package sftp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/user"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/dansasser/ftp-winmount/internal/pacer"
	"github.com/dansasser/ftp-winmount/pkg/pathutil"
	"github.com/dansasser/ftp-winmount/pkg/remote"
)

// Options configures the SFTP back-end.
type Options struct {
	Host string
	Port string
	User string

	// Auth priority: KeyFile, then the running user's SSH agent, then Pass.
	Pass           string
	KeyFile        string
	KeyFilePass    string
	KeyUseAgent    bool
	HostKeyTOFU    bool // trust-on-first-use known_hosts verification
	KnownHostsPath string

	Concurrency   int
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// Store is a remote.Store backed by an SFTP server.
type Store struct {
	opt       Options
	addr      string
	sshConfig *ssh.ClientConfig

	mkdirLock *pathLock
	poolMu    sync.Mutex
	pool      []*conn
	pacer     *pacer.Pacer
	log       zerolog.Logger
}

// conn pairs an SSH transport with the SFTP session running over it.
type conn struct {
	sshClient  *ssh.Client
	sftpClient *sftp.Client
	err        chan error
}

func (c *conn) wait() { c.err <- c.sshClient.Conn.Wait() }

func (c *conn) close() error {
	sftpErr := c.sftpClient.Close()
	sshErr := c.sshClient.Close()
	if sftpErr != nil {
		return sftpErr
	}
	return sshErr
}

func (c *conn) closed() error {
	select {
	case err := <-c.err:
		return err
	default:
		return nil
	}
}

// New builds an SFTP Store. It does not dial; call Connect to establish
// the first pooled session.
func New(opt Options, log zerolog.Logger) (*Store, error) {
	if opt.Port == "" {
		opt.Port = "22"
	}
	if opt.User == "" {
		opt.User = currentUser()
	}
	if opt.RetryAttempts <= 0 {
		opt.RetryAttempts = 3
	}
	if opt.RetryDelay <= 0 {
		opt.RetryDelay = 2 * time.Second
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 30 * time.Second
	}

	hostKeyCallback, err := buildHostKeyCallback(opt)
	if err != nil {
		return nil, fmt.Errorf("sftp: %w", err)
	}

	cfg := &ssh.ClientConfig{
		User:            opt.User,
		Auth:            []ssh.AuthMethod{},
		HostKeyCallback: hostKeyCallback,
		Timeout:         opt.Timeout,
		ClientVersion:   "SSH-2.0-ftp-winmount",
	}

	if err := addAuthMethods(cfg, opt); err != nil {
		return nil, err
	}

	return &Store{
		opt:       opt,
		addr:      net.JoinHostPort(opt.Host, opt.Port),
		sshConfig: cfg,
		mkdirLock: newPathLock(),
		pacer:     pacer.New(opt.RetryAttempts, opt.RetryDelay),
		log:       log.With().Str("backend", "sftp").Logger(),
	}, nil
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if v := os.Getenv("USER"); v != "" {
		return v
	}
	return os.Getenv("LOGNAME")
}

// addAuthMethods follows the auth priority documented for this back-end:
// an explicit key file first, then the running user's ssh-agent, then a
// plain password.
func addAuthMethods(cfg *ssh.ClientConfig, opt Options) error {
	switch {
	case opt.KeyFile != "":
		key, err := os.ReadFile(opt.KeyFile)
		if err != nil {
			return fmt.Errorf("sftp: reading key file: %w", err)
		}
		var signer ssh.Signer
		if opt.KeyFilePass != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(opt.KeyFilePass))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return fmt.Errorf("sftp: parsing private key: %w", err)
		}
		cfg.Auth = append(cfg.Auth, ssh.PublicKeys(signer))
	case opt.KeyUseAgent:
		signers, err := agentSigners()
		if err != nil {
			return err
		}
		cfg.Auth = append(cfg.Auth, ssh.PublicKeys(signers...))
	case opt.Pass != "":
		cfg.Auth = append(cfg.Auth, ssh.Password(opt.Pass))
	default:
		if signers, err := agentSigners(); err == nil {
			cfg.Auth = append(cfg.Auth, ssh.PublicKeys(signers...))
		}
	}
	return nil
}

func agentSigners() ([]ssh.Signer, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, errors.New("sftp: SSH_AUTH_SOCK not set, cannot use ssh-agent")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("sftp: dialing ssh-agent: %w", err)
	}
	return agent.NewClient(conn).Signers()
}

// dial opens a raw SSH transport to the server.
func (s *Store) dial(ctx context.Context) (*ssh.Client, error) {
	d := net.Dialer{Timeout: s.opt.Timeout}
	raw, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(raw, s.addr, s.sshConfig)
	if err != nil {
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// newSession opens an SFTP client over a fresh SSH session, using the
// sftp subsystem.
func newSession(sshClient *ssh.Client) (*sftp.Client, error) {
	session, err := sshClient.NewSession()
	if err != nil {
		return nil, err
	}
	pw, err := session.StdinPipe()
	if err != nil {
		return nil, err
	}
	pr, err := session.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := session.RequestSubsystem("sftp"); err != nil {
		return nil, err
	}
	return sftp.NewClientPipe(pr, pw)
}

func (s *Store) newConn(ctx context.Context) (*conn, error) {
	sshClient, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	sftpClient, err := newSession(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, err
	}
	c := &conn{sshClient: sshClient, sftpClient: sftpClient, err: make(chan error, 1)}
	go c.wait()
	return c, nil
}

// checkout gets a connection from the pool, or dials a new one.
func (s *Store) checkout(ctx context.Context) (c *conn, err error) {
	s.poolMu.Lock()
	for len(s.pool) > 0 {
		c = s.pool[0]
		s.pool = s.pool[1:]
		if c.closed() == nil {
			s.poolMu.Unlock()
			return c, nil
		}
		s.log.Debug().Msg("discarding dead sftp connection")
		c = nil
	}
	s.poolMu.Unlock()

	err = s.pacer.Call(ctx, func() (bool, error) {
		c, err = s.newConn(ctx)
		if err != nil {
			return true, err
		}
		return false, nil
	})
	return c, err
}

func (s *Store) checkin(c *conn, opErr error) {
	if c == nil {
		return
	}
	if opErr != nil && !isRegularError(opErr) {
		if _, pingErr := c.sftpClient.Getwd(); pingErr != nil {
			_ = c.close()
			return
		}
	}
	s.poolMu.Lock()
	s.pool = append(s.pool, c)
	s.poolMu.Unlock()
}

func isRegularError(err error) bool {
	if errors.Is(err, os.ErrNotExist) {
		return true
	}
	var statusErr *sftp.StatusError
	if errors.As(err, &statusErr) {
		return true
	}
	var pathErr *os.PathError
	return errors.As(err, &pathErr)
}

// Connect validates connectivity by checking out and returning one
// pooled connection.
func (s *Store) Connect(ctx context.Context) error {
	c, err := s.checkout(ctx)
	if err != nil {
		return wrap("connect", "", err)
	}
	s.checkin(c, nil)
	return nil
}

// Disconnect closes every pooled connection.
func (s *Store) Disconnect() {
	s.poolMu.Lock()
	defer s.poolMu.Unlock()
	for _, c := range s.pool {
		_ = c.close()
	}
	s.pool = nil
}

// withConn runs fn against a checked-out connection, retrying through the
// pacer and checking the connection back in afterwards.
func (s *Store) withConn(ctx context.Context, op, path string, fn func(*sftp.Client) error) error {
	var lastErr error
	retryErr := s.pacer.Call(ctx, func() (bool, error) {
		c, err := s.checkout(ctx)
		if err != nil {
			lastErr = err
			return classify(err).Retryable(), err
		}
		err = fn(c.sftpClient)
		s.checkin(c, err)
		lastErr = err
		if err == nil {
			return false, nil
		}
		return classify(err).Retryable(), err
	})
	if retryErr == nil {
		return nil
	}
	return wrap(op, path, lastErr)
}

func classify(err error) remote.Kind {
	if err == nil {
		return remote.KindUnknown
	}
	if errors.Is(err, os.ErrNotExist) {
		return remote.KindNotFound
	}
	if errors.Is(err, os.ErrPermission) {
		return remote.KindAccessDenied
	}
	var statusErr *sftp.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Code {
		case sshFxNoSuchFile:
			return remote.KindNotFound
		case sshFxPermissionDenied:
			return remote.KindAccessDenied
		case sshFxFailure:
			// SFTP has no dedicated "directory not empty" status; servers
			// report rmdir-on-nonempty-dir as a generic failure.
			if strings.Contains(strings.ToLower(statusErr.Error()), "not empty") {
				return remote.KindNotEmpty
			}
			return remote.KindFatal
		}
		return remote.KindFatal
	}
	var authErr *ssh.AuthenticationError
	if errors.As(err, &authErr) {
		return remote.KindAuthenticationFailed
	}
	return remote.KindUnavailable
}

// SFTP protocol status codes (draft-ietf-secsh-filexfer), hardcoded since
// github.com/pkg/sftp does not export them.
const (
	sshFxNoSuchFile       = 2
	sshFxPermissionDenied = 3
	sshFxFailure          = 4
)

func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return remote.NewError(op, path, classify(err), err)
}

func toFileStats(name string, info os.FileInfo) remote.FileStats {
	return remote.FileStats{
		Name:         name,
		Size:         info.Size(),
		ModifiedTime: info.ModTime(),
		IsDirectory:  info.IsDir(),
	}
}

// ListDir lists the entries of a remote directory.
func (s *Store) ListDir(ctx context.Context, dirPath string) ([]remote.FileStats, error) {
	dirPath = pathutil.Normalize(dirPath)
	var out []remote.FileStats
	err := s.withConn(ctx, "list_dir", dirPath, func(c *sftp.Client) error {
		infos, err := c.ReadDir(sftpPath(dirPath))
		if err != nil {
			return err
		}
		out = make([]remote.FileStats, 0, len(infos))
		for _, info := range infos {
			out = append(out, toFileStats(info.Name(), info))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetFileInfo stats a single remote path.
func (s *Store) GetFileInfo(ctx context.Context, path string) (remote.FileStats, error) {
	path = pathutil.Normalize(path)
	var stats remote.FileStats
	err := s.withConn(ctx, "get_file_info", path, func(c *sftp.Client) error {
		info, err := c.Stat(sftpPath(path))
		if err != nil {
			return err
		}
		stats = toFileStats(pathutil.Base(path), info)
		return nil
	})
	if err != nil {
		return remote.FileStats{}, err
	}
	return stats, nil
}

// ReadFile reads length bytes (or to EOF if length is nil) starting at
// offset, using the SFTP client's native seek support.
func (s *Store) ReadFile(ctx context.Context, path string, offset int64, length *int64) ([]byte, error) {
	path = pathutil.Normalize(path)
	var out []byte
	err := s.withConn(ctx, "read_file", path, func(c *sftp.Client) error {
		f, err := c.Open(sftpPath(path))
		if err != nil {
			return err
		}
		defer f.Close()
		if offset > 0 {
			if _, err := f.Seek(offset, io.SeekStart); err != nil {
				return err
			}
		}
		var buf bytes.Buffer
		if length != nil {
			_, err = io.CopyN(&buf, f, *length)
			if err != nil && err != io.EOF {
				return err
			}
		} else {
			if _, err := f.WriteTo(&buf); err != nil {
				return err
			}
		}
		out = buf.Bytes()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

// WriteFile writes data at offset. Offset 0 truncates and overwrites; a
// nonzero offset seeks and writes in place, which SFTP supports natively
// without a read-modify-write round trip.
func (s *Store) WriteFile(ctx context.Context, path string, data []byte, offset int64) (int, error) {
	path = pathutil.Normalize(path)
	n := 0
	err := s.withConn(ctx, "write_file", path, func(c *sftp.Client) error {
		flags := os.O_WRONLY | os.O_CREATE
		if offset == 0 {
			flags |= os.O_TRUNC
		}
		f, err := c.OpenFile(sftpPath(path), flags)
		if err != nil {
			return err
		}
		defer f.Close()
		if offset > 0 {
			if _, err := f.Seek(offset, io.SeekStart); err != nil {
				return err
			}
		}
		written, err := f.Write(data)
		n = written
		return err
	})
	return n, err
}

// CreateFile creates an empty file. It fails AlreadyExists if path
// already exists.
func (s *Store) CreateFile(ctx context.Context, path string) error {
	path = pathutil.Normalize(path)
	if _, err := s.GetFileInfo(ctx, path); err == nil {
		return remote.NewError("create_file", path, remote.KindAlreadyExists, nil)
	}
	return s.withConn(ctx, "create_file", path, func(c *sftp.Client) error {
		f, err := c.OpenFile(sftpPath(path), os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
		if err != nil {
			return err
		}
		return f.Close()
	})
}

// CreateDir creates a directory, recursing through missing parents and
// serializing concurrent creation of the same path.
func (s *Store) CreateDir(ctx context.Context, dirPath string) error {
	dirPath = pathutil.Normalize(dirPath)
	return s.mkdirRecursive(ctx, dirPath)
}

func (s *Store) mkdirRecursive(ctx context.Context, dirPath string) error {
	s.mkdirLock.Lock(dirPath)
	defer s.mkdirLock.Unlock(dirPath)

	if dirPath == "/" {
		return nil
	}
	if _, err := s.GetFileInfo(ctx, dirPath); err == nil {
		return nil
	}
	parent := pathutil.Parent(dirPath)
	if parent != dirPath {
		if err := s.mkdirRecursive(ctx, parent); err != nil {
			return err
		}
	}
	return s.withConn(ctx, "create_dir", dirPath, func(c *sftp.Client) error {
		return c.Mkdir(sftpPath(dirPath))
	})
}

// DeleteFile removes a remote file.
func (s *Store) DeleteFile(ctx context.Context, path string) error {
	path = pathutil.Normalize(path)
	return s.withConn(ctx, "delete_file", path, func(c *sftp.Client) error {
		return c.Remove(sftpPath(path))
	})
}

// DeleteDir removes a remote directory. The directory must be empty.
func (s *Store) DeleteDir(ctx context.Context, dirPath string) error {
	dirPath = pathutil.Normalize(dirPath)
	return s.withConn(ctx, "delete_dir", dirPath, func(c *sftp.Client) error {
		return c.RemoveDirectory(sftpPath(dirPath))
	})
}

// Rename moves or renames a remote file or directory.
func (s *Store) Rename(ctx context.Context, oldPath, newPath string) error {
	oldPath = pathutil.Normalize(oldPath)
	newPath = pathutil.Normalize(newPath)
	return s.withConn(ctx, "rename", oldPath, func(c *sftp.Client) error {
		return c.Rename(sftpPath(oldPath), sftpPath(newPath))
	})
}

// sftpPath converts the translator's forward-slash-rooted paths into the
// form the SFTP server expects.
func sftpPath(p string) string {
	if p == "" {
		return "."
	}
	return p
}

// pathLock serializes concurrent mkdirRecursive calls against the same
// directory path, so two translator threads racing to create the same
// missing parent don't both issue a Mkdir and one doesn't spuriously fail.
type pathLock struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newPathLock() *pathLock {
	return &pathLock{locks: make(map[string]chan struct{})}
}

// Lock blocks until no other caller holds the lock for path.
func (l *pathLock) Lock(path string) {
	l.mu.Lock()
	for {
		ch, ok := l.locks[path]
		if !ok {
			break
		}
		l.mu.Unlock()
		<-ch
		l.mu.Lock()
	}
	l.locks[path] = make(chan struct{})
	l.mu.Unlock()
}

// Unlock releases the lock for path. Panics if path isn't locked.
func (l *pathLock) Unlock(path string) {
	l.mu.Lock()
	ch, ok := l.locks[path]
	if !ok {
		panic("pathLock: Unlock before Lock")
	}
	close(ch)
	delete(l.locks, path)
	l.mu.Unlock()
}
