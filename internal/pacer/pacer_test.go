package pacer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallSucceedsWithoutRetry(t *testing.T) {
	p := New(3, time.Millisecond)
	calls := 0
	err := p.Call(context.Background(), func() (bool, error) {
		calls++
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestCallExhaustsAttempts(t *testing.T) {
	p := New(3, time.Millisecond)
	calls := 0
	wantErr := errors.New("boom")
	err := p.Call(context.Background(), func() (bool, error) {
		calls++
		return true, wantErr
	})
	assert.Equal(t, wantErr, err)
	assert.Equal(t, 3, calls)
}

func TestCallStopsOnNonRetryable(t *testing.T) {
	p := New(5, time.Millisecond)
	calls := 0
	err := p.Call(context.Background(), func() (bool, error) {
		calls++
		if calls == 2 {
			return false, nil
		}
		return true, errors.New("transient")
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCallRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := New(5, 50*time.Millisecond)
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := p.Call(ctx, func() (bool, error) {
		return true, errors.New("transient")
	})
	assert.Equal(t, context.Canceled, err)
}
