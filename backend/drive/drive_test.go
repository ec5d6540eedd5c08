package drive_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dansasser/ftp-winmount/backend/drive"
	"github.com/dansasser/ftp-winmount/pkg/remote"
)

// TestStoreImplementsRemoteStore is a compile-time-checked smoke test: the
// Drive back-end must satisfy the abstract contract the translator
// depends on, just like the FTP and SFTP back-ends.
func TestStoreImplementsRemoteStore(t *testing.T) {
	var _ remote.Store = drive.New(drive.Options{}, zerolog.Nop())
}

func TestNewAppliesDefaults(t *testing.T) {
	s := drive.New(drive.Options{}, zerolog.Nop())
	require.NotNil(t, s)
	// Defaults (PathIDTTL, RetryAttempts, RetryDelay) are asserted against
	// internal fields in drive_internal_test.go; this only checks
	// construction does not panic against a zero-value Options, which a
	// caller loading Config.Cloud verbatim could pass before Connect.
}
