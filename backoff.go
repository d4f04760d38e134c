package solanapay

import (
	"context"
	"sync"
	"time"
)

// Default backoff policy shared by the reconciler stages
const (
	DefaultBackoffBaseDelay   = 1 * time.Second
	DefaultBackoffMaxDelay    = 30 * time.Second
	DefaultBackoffMaxAttempts = 5
)

// SleepFunc suspends the caller for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// ContextSleep is the default SleepFunc
func ContextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BackoffScheduler runs retryable actions with exponential delay between
// attempts. It holds no retry state; callers own a BackoffState for their
// outer poll delay.
type BackoffScheduler struct {
	sleep SleepFunc
}

// NewBackoffScheduler creates a scheduler. A nil sleep uses ContextSleep.
func NewBackoffScheduler(sleep SleepFunc) *BackoffScheduler {
	if sleep == nil {
		sleep = ContextSleep
	}
	return &BackoffScheduler{sleep: sleep}
}

// Run executes action until it succeeds or maxAttempts is reached. After the
// n-th failed attempt (n starting at 0) it sleeps initialDelay × 2^n, so at
// most maxAttempts-1 sleeps happen. It returns true on the first success and
// false when every attempt failed or ctx was cancelled.
func (s *BackoffScheduler) Run(ctx context.Context, action func(ctx context.Context) error, maxAttempts int, initialDelay time.Duration) bool {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return false
		}

		if err := action(ctx); err == nil {
			return true
		}

		if attempt == maxAttempts-1 {
			break
		}

		delay := initialDelay * time.Duration(1<<uint(attempt))
		if err := s.sleep(ctx, delay); err != nil {
			return false
		}
	}

	return false
}

// BackoffPolicy configures a polling loop's retry behaviour
type BackoffPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultBackoffPolicy returns the 1s base / 30s cap / 5 attempts policy
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		BaseDelay:   DefaultBackoffBaseDelay,
		MaxDelay:    DefaultBackoffMaxDelay,
		MaxAttempts: DefaultBackoffMaxAttempts,
	}
}

// BackoffState is the outer inter-poll delay of one loop
type BackoffState struct {
	mu       sync.Mutex
	base     time.Duration
	max      time.Duration
	current  time.Duration
	failures int
}

// NewBackoffState creates a state starting at base
func NewBackoffState(base, max time.Duration) *BackoffState {
	if max < base {
		max = base
	}
	return &BackoffState{
		base:    base,
		max:     max,
		current: base,
	}
}

// Succeeded resets the delay to base and returns it
func (b *BackoffState) Succeeded() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current = b.base
	b.failures = 0
	return b.current
}

// Failed returns the delay to wait before the next poll and doubles the
// stored delay up to the cap.
func (b *BackoffState) Failed() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	// bounded so a long outage cannot overflow the counter
	if b.failures < 1<<16 {
		b.failures++
	}
	return delay
}

// Current returns the stored delay
func (b *BackoffState) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Failures returns the number of consecutive failed polls
func (b *BackoffState) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
