// Package guard runs model calls with a per-attempt deadline and a retry
// policy, optionally behind an admission.Queue ticket.
package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	llmrelay "github.com/bluefunda/llm-relay"
	"github.com/bluefunda/llm-relay/admission"
)

// Defaults applied by DefaultPolicy.
const (
	DefaultTimeout = 60 * time.Second
	DefaultBackoff = 5 * time.Second
)

// Policy controls one guarded call.
type Policy struct {
	// Timeout bounds each attempt. Zero disables the deadline.
	Timeout time.Duration

	// MaxRetries is the number of re-invocations after the first failure.
	MaxRetries int

	// Backoff is the wait between attempts; with Exponential it is the first wait
	// and doubles up to MaxBackoff.
	Backoff     time.Duration
	Exponential bool
	MaxBackoff  time.Duration

	// Retryable decides whether a failed attempt is retried. Nil retries every
	// failure. Timeouts are never retried.
	Retryable func(error) bool

	// Notify is called before each backoff wait.
	Notify func(err error, wait time.Duration)
}

// DefaultPolicy returns a 60s deadline, no retries and a fixed 5s backoff.
func DefaultPolicy() Policy {
	return Policy{
		Timeout: DefaultTimeout,
		Backoff: DefaultBackoff,
	}
}

// WithRetries returns a copy of p with MaxRetries set.
func (p Policy) WithRetries(n int) Policy {
	p.MaxRetries = n
	return p
}

// WithTimeout returns a copy of p with Timeout set.
func (p Policy) WithTimeout(d time.Duration) Policy {
	p.Timeout = d
	return p
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff
	if p.Exponential {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = p.Backoff
		eb.RandomizationFactor = 0
		eb.Multiplier = 2
		eb.MaxInterval = p.MaxBackoff
		if eb.MaxInterval < p.Backoff {
			eb.MaxInterval = p.Backoff
		}
		eb.MaxElapsedTime = 0
		eb.Reset()
		b = eb
	} else {
		b = backoff.NewConstantBackOff(p.Backoff)
	}

	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Call runs op until it succeeds, fails with a non-retryable error, times out,
// or runs out of retries. The last error is returned unchanged; a timed out
// attempt yields an error wrapping llmrelay.ErrRequestTimeout.
func Call[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	attempt := func() (T, error) {
		v, err := runAttempt(ctx, p.Timeout, op)
		if err == nil {
			return v, nil
		}
		if llmrelay.IsTimeout(err) {
			return v, backoff.Permanent(err)
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	return backoff.RetryNotifyWithData(attempt, p.backOff(ctx), p.Notify)
}

// Discarder is implemented by results that hold resources, such as an open
// stream. A result that arrives after its attempt timed out is discarded.
type Discarder interface {
	Discard()
}

// runAttempt races op against the deadline. A late result is dropped (and
// discarded when it is a Discarder); op's context is cancelled either way.
func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		v, err := op(attemptCtx)
		done <- result[T]{v, err}
	}()

	select {
	case r := <-done:
		// op gave up because of our deadline
		if r.err != nil && ctx.Err() == nil && attemptCtx.Err() != nil {
			return r.v, timeoutError(timeout)
		}
		return r.v, r.err
	case <-attemptCtx.Done():
		go discardLate(done)
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, timeoutError(timeout)
	}
}

type result[T any] struct {
	v   T
	err error
}

func discardLate[T any](done <-chan result[T]) {
	r := <-done
	if d, ok := any(r.v).(Discarder); ok && r.err == nil {
		d.Discard()
	}
}

func timeoutError(timeout time.Duration) error {
	return fmt.Errorf("%w after %s", llmrelay.ErrRequestTimeout, timeout)
}

// Admitted takes a ticket for id under key, runs op through Call and releases
// the ticket however the call ends.
func Admitted[T any](ctx context.Context, q *admission.Queue, key, id string, maxConcurrent int, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	release, err := q.Acquire(ctx, key, id, maxConcurrent)
	if err != nil {
		var zero T
		return zero, err
	}
	defer release()

	return Call(ctx, p, op)
}
