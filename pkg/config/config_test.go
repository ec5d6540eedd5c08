package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	path := writeTempConfig(t, `
remote: ftp
ftp:
  host: ftp.example.com
mount:
  mount_point: /mnt/remote
cache:
  directory_ttl_seconds: 5
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ftp.example.com", cfg.FTP.Host)
	assert.Equal(t, 21, cfg.FTP.Port, "expected default port 21")
	assert.Equal(t, 5, cfg.Cache.DirectoryTTLSeconds, "expected override 5")
	assert.Equal(t, 60, cfg.Cache.MetadataTTLSeconds, "expected default metadata ttl 60")
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeTempConfig(t, `
remote: ftp
ftp:
  host: ftp.example.com
  bogus_field: true
mount:
  mount_point: /mnt/remote
`)
	_, err := Load(path)
	assert.Error(t, err, "expected error for unknown field")
}

func TestLoadMissingRequiredFields(t *testing.T) {
	path := writeTempConfig(t, `
remote: sftp
`)
	_, err := Load(path)
	assert.Error(t, err, "expected error for missing ssh.host and mount.mount_point")
}

func TestFTPSImpliesSecureFTP(t *testing.T) {
	path := writeTempConfig(t, `
remote: ftps
ftp:
  host: ftp.example.com
mount:
  mount_point: /mnt/remote
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, RemoteFTP, cfg.Remote)
	assert.True(t, cfg.FTP.Secure, "expected ftps to normalize to secure ftp")
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	assert.Equal(t, float64(30), cfg.Cache.DirectoryTTL().Seconds())
	assert.Equal(t, float64(1), cfg.Connection.RetryDelay().Seconds())
}
