package llm

import (
	"context"
	"sync"
	"time"
)

// rateLimiter admits at most maxCalls per rolling window. Acquisition is
// serialized process-wide; callers block up to maxWait for a slot and get
// ErrRateLimited if none frees up in time.
type rateLimiter struct {
	mu       sync.Mutex
	window   time.Duration
	maxCalls int
	maxWait  time.Duration
	calls    []time.Time
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func newRateLimiter(window time.Duration, maxCalls int, maxWait time.Duration) *rateLimiter {
	return &rateLimiter{
		window:   window,
		maxCalls: maxCalls,
		maxWait:  maxWait,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

func (l *rateLimiter) setClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	l.mu.Lock()
	l.now = now
	l.sleep = sleep
	l.mu.Unlock()
}

// acquire claims a call slot or fails with ErrRateLimited once the wait
// would exceed maxWait. Cancellation of ctx aborts the wait.
func (l *rateLimiter) acquire(ctx context.Context) error {
	if l.maxCalls <= 0 {
		return ErrRateLimited
	}

	l.mu.Lock()
	deadline := l.now().Add(l.maxWait)
	l.mu.Unlock()

	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)
		if len(l.calls) < l.maxCalls {
			l.calls = append(l.calls, now)
			l.mu.Unlock()
			return nil
		}
		wait := l.calls[0].Add(l.window).Sub(now)
		sleep := l.sleep
		l.mu.Unlock()

		if now.Add(wait).After(deadline) {
			return ErrRateLimited
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// prune drops timestamps older than the window. Caller holds the lock.
func (l *rateLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	kept := l.calls[:0]
	for _, t := range l.calls {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.calls = kept
}
