package ftp_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/dansasser/ftp-winmount/backend/ftp"
	"github.com/dansasser/ftp-winmount/pkg/remote"
)

// TestStoreImplementsRemoteStore is a compile-time-checked smoke test: any
// back-end must satisfy the abstract contract the translator depends on.
func TestStoreImplementsRemoteStore(t *testing.T) {
	var _ remote.Store = ftp.New(ftp.Options{Host: "ftp.example.com"}, zerolog.Nop())
}

func TestNewNormalizesRetryDefaults(t *testing.T) {
	// Defaults are asserted against internal fields in ftp_internal_test.go;
	// this only checks construction does not panic with zero-value retry
	// settings, which a caller loading Config.Connection verbatim could pass.
	s := ftp.New(ftp.Options{
		Host:          "ftp.example.com",
		RetryAttempts: 0,
		RetryDelay:    0,
	}, zerolog.Nop())
	assert.NotNil(t, s)
}
