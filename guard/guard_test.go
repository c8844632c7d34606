package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	llmrelay "github.com/bluefunda/llm-relay"
	"github.com/bluefunda/llm-relay/admission"
)

func TestCallSucceedsWithoutRetry(t *testing.T) {
	var calls int32
	p := Policy{Timeout: time.Second, MaxRetries: 3, Backoff: 10 * time.Millisecond}

	got, err := Call(context.Background(), p, func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "ok" {
		t.Errorf("expected 'ok', got %q", got)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected 1 attempt, got %d", n)
	}
}

func TestCallRetriesThenReturnsLastError(t *testing.T) {
	const backoffDelay = 30 * time.Millisecond
	var mu sync.Mutex
	var starts []time.Time

	p := Policy{Timeout: time.Second, MaxRetries: 2, Backoff: backoffDelay}
	_, err := Call(context.Background(), p, func(ctx context.Context) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		starts = append(starts, time.Now())
		return 0, fmt.Errorf("attempt %d failed", len(starts))
	})

	if err == nil || err.Error() != "attempt 3 failed" {
		t.Fatalf("expected last attempt's error, got %v", err)
	}
	if len(starts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(starts))
	}
	for i := 1; i < len(starts); i++ {
		if gap := starts[i].Sub(starts[i-1]); gap < backoffDelay {
			t.Errorf("attempt %d started %v after previous, expected >= %v", i+1, gap, backoffDelay)
		}
	}
}

func TestCallTimeoutIsNotRetried(t *testing.T) {
	var calls int32
	p := Policy{Timeout: 200 * time.Millisecond, MaxRetries: 3, Backoff: 10 * time.Millisecond}

	start := time.Now()
	_, err := Call(context.Background(), p, func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		select {} // never settles
	})
	elapsed := time.Since(start)

	if !errors.Is(err, llmrelay.ErrRequestTimeout) {
		t.Fatalf("expected ErrRequestTimeout, got %v", err)
	}
	if elapsed < 200*time.Millisecond || elapsed > time.Second {
		t.Errorf("expected failure at ~200ms, took %v", elapsed)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected timeout not to be retried, got %d attempts", n)
	}
}

func TestCallTimeoutWhenOpHonoursContext(t *testing.T) {
	p := Policy{Timeout: 20 * time.Millisecond, MaxRetries: 2}

	var calls int32
	_, err := Call(context.Background(), p, func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		<-ctx.Done()
		return "", ctx.Err()
	})
	if !llmrelay.IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected 1 attempt, got %d", n)
	}
}

func TestCallNonRetryableStopsImmediately(t *testing.T) {
	var calls int32
	p := Policy{MaxRetries: 5, Retryable: llmrelay.IsRetryable}

	_, err := Call(context.Background(), p, func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", llmrelay.ErrAuthFailed
	})
	if !errors.Is(err, llmrelay.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected 1 attempt, got %d", n)
	}
}

func TestCallRecoversAfterTransientFailure(t *testing.T) {
	var calls int32
	var notified []time.Duration
	p := Policy{
		MaxRetries: 3,
		Backoff:    5 * time.Millisecond,
		Notify: func(err error, wait time.Duration) {
			notified = append(notified, wait)
		},
	}

	got, err := Call(context.Background(), p, func(ctx context.Context) (int, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return 0, errors.New("flaky")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	if len(notified) != 2 {
		t.Errorf("expected 2 notifications, got %d", len(notified))
	}
}

func TestCallExponentialBackoff(t *testing.T) {
	var waits []time.Duration
	p := Policy{
		MaxRetries:  3,
		Backoff:     time.Millisecond,
		Exponential: true,
		MaxBackoff:  3 * time.Millisecond,
		Notify: func(err error, wait time.Duration) {
			waits = append(waits, wait)
		},
	}

	_, _ = Call(context.Background(), p, func(ctx context.Context) (int, error) {
		return 0, errors.New("down")
	})

	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}
	if len(waits) != len(want) {
		t.Fatalf("expected %d waits, got %v", len(want), waits)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("wait %d: expected %v, got %v", i, want[i], waits[i])
		}
	}
}

func TestCallParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Timeout: time.Second, MaxRetries: 5, Backoff: time.Second}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := Call(ctx, p, func(ctx context.Context) (int, error) {
		return 0, errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("expected cancellation to cut the backoff short")
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.Timeout != 60*time.Second {
		t.Errorf("expected 60s timeout, got %v", p.Timeout)
	}
	if p.Backoff != 5*time.Second {
		t.Errorf("expected 5s backoff, got %v", p.Backoff)
	}
	if p.MaxRetries != 0 {
		t.Errorf("expected no retries, got %d", p.MaxRetries)
	}
	if p.WithRetries(2).MaxRetries != 2 || p.MaxRetries != 0 {
		t.Error("WithRetries must return a modified copy")
	}
}

func TestAdmittedReleasesTicket(t *testing.T) {
	q := admission.NewQueue()
	p := Policy{Timeout: 50 * time.Millisecond}

	_, err := Admitted(context.Background(), q, "m", "t1", 1, p, func(ctx context.Context) (string, error) {
		if q.Len("m") != 1 {
			t.Errorf("expected ticket held during call, len=%d", q.Len("m"))
		}
		return "", errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if q.Len("m") != 0 {
		t.Errorf("expected ticket released after failure, len=%d", q.Len("m"))
	}

	_, err = Admitted(context.Background(), q, "m", "t2", 1, p, func(ctx context.Context) (string, error) {
		select {}
	})
	if !llmrelay.IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if q.Len("m") != 0 {
		t.Errorf("expected ticket released after timeout, len=%d", q.Len("m"))
	}
}

func TestAdmittedSerialisesPerKey(t *testing.T) {
	q := admission.NewQueue()
	var running, maxSeen int32
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := Admitted(context.Background(), q, "m", fmt.Sprintf("c%d", i), 1, Policy{}, func(ctx context.Context) (int, error) {
				cur := atomic.AddInt32(&running, 1)
				for {
					old := atomic.LoadInt32(&maxSeen)
					if cur <= old || atomic.CompareAndSwapInt32(&maxSeen, old, cur) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return i, nil
			})
			if err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	if m := atomic.LoadInt32(&maxSeen); m != 1 {
		t.Errorf("expected calls serialised, saw %d concurrent", m)
	}
}

type lateStream struct{ discarded chan struct{} }

func (s lateStream) Discard() { close(s.discarded) }

func TestCallDiscardsLateResult(t *testing.T) {
	s := lateStream{discarded: make(chan struct{})}
	p := Policy{Timeout: 20 * time.Millisecond}

	_, err := Call(context.Background(), p, func(ctx context.Context) (lateStream, error) {
		time.Sleep(60 * time.Millisecond) // ignores ctx
		return s, nil
	})
	if !errors.Is(err, llmrelay.ErrRequestTimeout) {
		t.Fatalf("expected ErrRequestTimeout, got %v", err)
	}

	select {
	case <-s.discarded:
	case <-time.After(time.Second):
		t.Error("expected the late result to be discarded")
	}
}
