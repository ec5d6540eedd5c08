package remote

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorUnwrapAndKindOf(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewError("read_file", "/a.bin", KindUnavailable, cause)

	assert.True(t, errors.Is(err, err), "expected error to equal itself")
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.Equal(t, KindUnavailable, KindOf(err))
	assert.Equal(t, KindFatal, KindOf(cause))
}

func TestKindRetryable(t *testing.T) {
	retryable := []Kind{KindUnavailable, KindTimedOut}
	notRetryable := []Kind{KindNotFound, KindAccessDenied, KindAlreadyExists, KindNotEmpty, KindFatal, KindAuthenticationFailed}

	for _, k := range retryable {
		assert.Truef(t, k.Retryable(), "%v should be retryable", k)
	}
	for _, k := range notRetryable {
		assert.Falsef(t, k.Retryable(), "%v should not be retryable", k)
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "unknown", Kind(99).String())
	assert.Equal(t, "not-empty", KindNotEmpty.String())
}
