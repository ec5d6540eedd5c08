package sftp

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// buildHostKeyCallback returns a trust-on-first-use host key verifier
// backed by golang.org/x/crypto/ssh/knownhosts, rather than a hand-rolled
// known_hosts parser: an unknown host's key is appended and accepted; a
// known host whose key matches is accepted; a known host whose key has
// changed under the same key type is rejected outright (possible
// interception), exactly as TrustOnFirstUsePolicy decided in the original.
// When opt.HostKeyTOFU is false it returns ssh.InsecureIgnoreHostKey, which
// accepts every key.
func buildHostKeyCallback(opt Options) (ssh.HostKeyCallback, error) {
	if !opt.HostKeyTOFU {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := opt.KnownHostsPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving known_hosts location: %w", err)
		}
		path = filepath.Join(home, ".ssh", "ftp-winmount_known_hosts")
	}
	if err := ensureFile(path); err != nil {
		return nil, fmt.Errorf("preparing known_hosts file: %w", err)
	}

	v := &tofuVerifier{path: path}
	if err := v.reload(); err != nil {
		return nil, fmt.Errorf("loading known hosts: %w", err)
	}
	return v.verify, nil
}

func ensureFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	return f.Close()
}

// tofuVerifier wraps knownhosts.New's callback: on an unrecognized host it
// appends the offered key to the known_hosts file and accepts; on a
// mismatched key for a recognized host it refuses, never silently
// downgrading to accept.
type tofuVerifier struct {
	path string

	mu       sync.Mutex
	callback ssh.HostKeyCallback
}

func (v *tofuVerifier) reload() error {
	cb, err := knownhosts.New(v.path)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.callback = cb
	v.mu.Unlock()
	return nil
}

func (v *tofuVerifier) verify(hostname string, remote net.Addr, key ssh.PublicKey) error {
	v.mu.Lock()
	cb := v.callback
	v.mu.Unlock()

	err := cb(hostname, remote, key)
	if err == nil {
		return nil
	}

	var keyErr *knownhosts.KeyError
	if !errors.As(err, &keyErr) {
		return err
	}
	if len(keyErr.Want) > 0 {
		return fmt.Errorf("host key for %s has changed: possible man-in-the-middle attack; "+
			"remove the stale entry from %s if the change is expected", hostname, v.path)
	}

	// len(Want) == 0: the host is simply not yet known. Trust on first
	// use: append it and reload the callback so later calls in this
	// process see the new entry too.
	if err := v.append(hostname, key); err != nil {
		return fmt.Errorf("recording new host key for %s: %w", hostname, err)
	}
	return v.reload()
}

func (v *tofuVerifier) append(hostname string, key ssh.PublicKey) error {
	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	f, err := os.OpenFile(v.path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintln(f, line)
	return err
}
