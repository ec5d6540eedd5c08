package sftp

import (
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func genKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return sshPub
}

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:22" }

func newTestVerifier(t *testing.T, path string) *tofuVerifier {
	t.Helper()
	require.NoError(t, ensureFile(path))
	v := &tofuVerifier{path: path}
	require.NoError(t, v.reload())
	return v
}

func TestTofuVerifierTrustsUnknownHostOnFirstUse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "known_hosts")
	v := newTestVerifier(t, path)
	key := genKey(t)

	require.NoError(t, v.verify("example.com", fakeAddr{}, key))
	data, err := os.ReadFile(path)
	require.NoError(t, err, "expected known_hosts file to be written")
	assert.NotEmpty(t, data, "expected known_hosts file to contain the new host entry")
}

func TestTofuVerifierAcceptsMatchingKeyOnSubsequentConnect(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "known_hosts")
	v := newTestVerifier(t, path)
	key := genKey(t)

	require.NoError(t, v.verify("example.com", fakeAddr{}, key))
	reloaded := newTestVerifier(t, path)
	assert.NoError(t, reloaded.verify("example.com", fakeAddr{}, key), "second verify with same key should succeed")
}

func TestTofuVerifierRejectsChangedKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "known_hosts")
	v := newTestVerifier(t, path)
	first := genKey(t)
	second := genKey(t)

	require.NoError(t, v.verify("example.com", fakeAddr{}, first))
	assert.Error(t, v.verify("example.com", fakeAddr{}, second), "expected error for changed host key")
}

func TestBuildHostKeyCallbackInsecureWhenTOFUDisabled(t *testing.T) {
	cb, err := buildHostKeyCallback(Options{})
	require.NoError(t, err)
	require.NotNil(t, cb)
	// InsecureIgnoreHostKey accepts any key; confirm it does not error.
	assert.NoError(t, cb("host", fakeAddr{}, genKey(t)))
}

func TestBuildHostKeyCallbackTOFUUsesConfiguredPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "khosts")
	cb, err := buildHostKeyCallback(Options{HostKeyTOFU: true, KnownHostsPath: path})
	require.NoError(t, err)
	key := genKey(t)
	require.NoError(t, cb("example.com", fakeAddr{}, key))
	assert.Error(t, cb("example.com", fakeAddr{}, genKey(t)), "expected rejection of changed key")
	_, err = os.Stat(path)
	assert.NoError(t, err, "expected known hosts file at %s", path)
}

var _ net.Addr = fakeAddr{}
