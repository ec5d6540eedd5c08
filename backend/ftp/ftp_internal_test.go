package ftp

import (
	"errors"
	"net/textproto"
	"testing"

	"github.com/jlaffaye/ftp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dansasser/ftp-winmount/pkg/remote"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

func TestClassifyMapsStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want remote.Kind
	}{
		{"not found", &textproto.Error{Code: ftp.StatusFileUnavailable}, remote.KindNotFound},
		{"action ignored", &textproto.Error{Code: ftp.StatusFileActionIgnored}, remote.KindNotFound},
		{"not logged in", &textproto.Error{Code: 530}, remote.KindAccessDenied},
		{"service not available", &textproto.Error{Code: ftp.StatusNotAvailable}, remote.KindUnavailable},
		{"transfer aborted", &textproto.Error{Code: ftp.StatusTransfertAborted}, remote.KindUnavailable},
		{"other protocol error", &textproto.Error{Code: 500}, remote.KindFatal},
		{"plain error", errors.New("boom"), remote.KindUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classify(tc.err))
		})
	}
}

type wrappedErr struct{ err error }

func (e wrappedErr) Error() string { return "wrapped: " + e.err.Error() }
func (e wrappedErr) Unwrap() error { return e.err }

func TestTextprotoErrorUnwrapsWrapped(t *testing.T) {
	inner := &textproto.Error{Code: 550, Msg: "no such file"}
	wrapped := wrappedErr{inner}
	got := textprotoError(wrapped)
	require.NotNil(t, got)
	assert.Equal(t, 550, got.Code)
}

func TestToEntryMapsDirectoryFlag(t *testing.T) {
	dirEntry := &ftp.Entry{Name: "docs", Type: ftp.EntryTypeFolder}
	fileEntry := &ftp.Entry{Name: "a.txt", Type: ftp.EntryTypeFile, Size: 5}

	d := toEntry(dirEntry)
	assert.True(t, d.IsDirectory)
	assert.Equal(t, "docs", d.Name)

	f := toEntry(fileEntry)
	assert.False(t, f.IsDirectory)
	assert.EqualValues(t, 5, f.Size)
}

func TestTLSConfigNilWhenNotRequested(t *testing.T) {
	s := New(Options{Host: "ftp.example.com"}, testLogger())
	assert.Nil(t, s.tlsConfig())

	s2 := New(Options{Host: "ftp.example.com", TLS: true}, testLogger())
	cfg := s2.tlsConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, "ftp.example.com", cfg.ServerName)
}

func TestNewAppliesDefaults(t *testing.T) {
	s := New(Options{Host: "ftp.example.com"}, testLogger())
	assert.Equal(t, "21", s.opt.Port)
	assert.Equal(t, 3, s.opt.RetryAttempts)
	assert.Equal(t, "ftp.example.com:21", s.dialAddr)
}
