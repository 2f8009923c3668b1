package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/harrisonrobin/eventdesk/pkg/config"
)

// Policy describes an exponential backoff schedule.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter is the relative spread applied to each delay, 0.1 means ±10%.
	Jitter float64
	// ShouldRetry reports whether err is worth another attempt. Nil retries
	// everything except permanent errors.
	ShouldRetry func(error) bool
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		Jitter:       0.1,
	}
}

// FromConfig builds a policy from the retry section of the config file.
func FromConfig(cfg config.RetryConfig) Policy {
	p := DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialDelay > 0 {
		p.InitialDelay = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		p.MaxDelay = cfg.MaxDelay
	}
	if cfg.Multiplier >= 1 {
		p.Multiplier = cfg.Multiplier
	}
	return p
}

// Delay returns the wait before retry number attempt (1-based). r is a
// uniform sample in [0, 1) that positions the jitter.
func (p Policy) Delay(attempt int, r float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	base := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	d := base * (1 + p.Jitter*(2*r-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	switch {
	case math.IsNaN(d) || d < 0:
		return 0
	case d >= math.MaxInt64:
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func (p Policy) retryable(err error) bool {
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.ShouldRetry != nil {
		return p.ShouldRetry(err)
	}
	return true
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that no further attempts are made.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn until it succeeds, fails permanently, the attempts run out or
// ctx is done.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	r := &Retrier{Policy: p}
	return r.Do(ctx, fn)
}

// DoValue is Do for functions that produce a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Retrier runs operations under a Policy and exposes the progress of the
// current run, for callers that surface "retrying (2/3)" style state.
type Retrier struct {
	Policy Policy
	// OnRetry is called before each wait with the upcoming attempt number.
	OnRetry func(attempt int, delay time.Duration, err error)
	// Sleep and Rand are swapped in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Rand  func() float64

	mu       sync.Mutex
	attempts int
	retrying bool
	lastErr  error
}

func (r *Retrier) Do(ctx context.Context, fn func(context.Context) error) error {
	maxAttempts := r.Policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	r.Reset()

	var err error
	for attempt := 1; ; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			r.finish(cerr)
			return cerr
		}
		r.record(attempt, attempt > 1, err)

		err = fn(ctx)
		if err == nil {
			r.finish(nil)
			return nil
		}
		if attempt >= maxAttempts || !r.Policy.retryable(err) {
			r.finish(err)
			if attempt > 1 {
				return fmt.Errorf("after %d attempts: %w", attempt, err)
			}
			return err
		}

		delay := r.Policy.Delay(attempt, r.rand())
		if r.OnRetry != nil {
			r.OnRetry(attempt+1, delay, err)
		}
		if serr := r.sleep(ctx, delay); serr != nil {
			r.finish(err)
			return serr
		}
	}
}

func (r *Retrier) rand() float64 {
	if r.Rand != nil {
		return r.Rand()
	}
	return rand.Float64()
}

func (r *Retrier) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *Retrier) record(attempt int, retrying bool, lastErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = attempt
	r.retrying = retrying
	if lastErr != nil {
		r.lastErr = lastErr
	}
}

func (r *Retrier) finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retrying = false
	r.lastErr = err
}

// Attempts returns how many times fn has been called in the current run.
func (r *Retrier) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// Retrying is true while an attempt after the first is running.
func (r *Retrier) Retrying() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retrying
}

func (r *Retrier) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *Retrier) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = 0
	r.retrying = false
	r.lastErr = nil
}
