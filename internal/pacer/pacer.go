// Package pacer implements the fixed-delay and exponential-backoff retry
// loops; the FTP and SFTP back-ends use the fixed-delay loop around
// transient failures.
// The call-site shape (Call(func() (bool, error))) mirrors the teacher's
// own lib/pacer package, whose source was not retrievable in this pack;
// this is a from-scratch reimplementation of the same idiom.
package pacer

import (
	"context"
	"time"
)

// Pacer retries a function while it reports retry==true, up to attempts
// total tries, sleeping delay between each (or, in exponential mode,
// delay*2^n).
type Pacer struct {
	attempts    int
	delay       time.Duration
	exponential bool
}

// New returns a Pacer with a fixed delay between attempts.
func New(attempts int, delay time.Duration) *Pacer {
	return &Pacer{attempts: attempts, delay: delay}
}

// NewExponential returns a Pacer whose delay doubles after every attempt.
// The cloud back-end does not use it; its withRetry loop picks fixed or
// exponential delay per attempt.
func NewExponential(attempts int, baseDelay time.Duration) *Pacer {
	return &Pacer{attempts: attempts, delay: baseDelay, exponential: true}
}

// Call invokes fn up to p.attempts times. fn returns (retry, err); retry
// true means try again (subject to the attempt budget), false means stop
// immediately and return err (which may be nil on success). Call returns
// the last error seen, or nil on eventual success.
func (p *Pacer) Call(ctx context.Context, fn func() (bool, error)) error {
	var lastErr error
	for attempt := 0; attempt < p.attempts; attempt++ {
		retry, err := fn()
		if !retry {
			return err
		}
		lastErr = err
		if attempt == p.attempts-1 {
			break
		}
		wait := p.delay
		if p.exponential {
			wait = p.delay * time.Duration(1<<uint(attempt))
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
