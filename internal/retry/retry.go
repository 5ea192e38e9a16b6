// Package retry runs fallible calls against external dependencies with
// bounded exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"regexp"
	"syscall"
	"time"
)

const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = 100 * time.Millisecond
	DefaultMaxDelay     = 5 * time.Second

	jitterFraction = 0.1
)

var retryableStatus = map[int]bool{
	408: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

var transientMessage = regexp.MustCompile(`(?i)timeout|timed out|unavailable|ECONNRESET|ETIMEDOUT|socket hang up`)

// Options configures a single Do call. Zero values fall back to the defaults.
type Options struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Name         string

	// OnRetry is invoked before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
	// Sleep replaces the context-aware timer, mainly for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts < 1 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.Name == "" {
		o.Name = "operation"
	}
	if o.Sleep == nil {
		o.Sleep = sleep
	}
	return o
}

// Do calls op until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. The last error is returned wrapped with the
// operation name.
func Do[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) (T, error) {
	opts = opts.withDefaults()

	var zero T
	delay := opts.InitialDelay
	for attempt := 1; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s: %w", opts.Name, err)
		}
		if !Retryable(err) {
			return zero, fmt.Errorf("%s: %w", opts.Name, err)
		}
		if attempt >= opts.MaxAttempts {
			return zero, fmt.Errorf("%s: retries exhausted after %d attempts: %w", opts.Name, attempt, err)
		}

		wait := min(delay+jitter(delay), opts.MaxDelay)
		slog.Debug("retrying after transient failure",
			"operation", opts.Name,
			"attempt", attempt,
			"delay", wait,
			"error", err,
		)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, wait, err)
		}
		if serr := opts.Sleep(ctx, wait); serr != nil {
			return zero, fmt.Errorf("%s: %w", opts.Name, errors.Join(err, serr))
		}
		delay = min(delay*2, opts.MaxDelay)
	}
}

func jitter(delay time.Duration) time.Duration {
	limit := int64(float64(delay) * jitterFraction)
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(limit + 1))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as non-retryable regardless of its shape.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type statusCoder interface {
	HTTPStatusCode() int
}

// Retryable reports whether err is a transient dependency failure worth
// another attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		if code := sc.HTTPStatusCode(); code != 0 {
			return retryableStatus[code]
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED, syscall.EPIPE, syscall.ETIMEDOUT:
			return true
		}
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return transientMessage.MatchString(err.Error())
}
