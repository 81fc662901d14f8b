// Package retry wraps calls to external services with error classification,
// bounded exponential backoff with jitter, an optional circuit breaker and an
// optional admission gate (used for per-run budget reservation).
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"syscall"
	"time"
)

// Classification says whether a failed call may succeed if repeated
type Classification int

const (
	// Fatal errors (bad input, auth, permanently exhausted quota) are returned immediately
	Fatal Classification = iota
	// Retryable errors (timeouts, transient rate limits, 5xx) are retried with backoff
	Retryable
)

func (c Classification) String() string {
	if c == Retryable {
		return "retryable"
	}
	return "fatal"
}

// Classifier maps a call error to a classification
type Classifier func(error) Classification

// Gate is consulted before every attempt, the first included. A non-nil error
// stops the loop without issuing the call.
type Gate func(ctx context.Context) error

// Policy holds retry configuration for one class of external call
type Policy struct {
	MaxRetries        int           // Retries after the first attempt (default: 3)
	InitialBackoff    time.Duration // Delay before the first retry (default: 1s)
	MaxBackoff        time.Duration // Cap on any single delay (default: 30s)
	BackoffMultiplier float64       // Growth factor per retry (default: 2.0)
	Jitter            float64       // Fraction of each delay randomized, 0-1 (default: 0.2)
	Timeout           time.Duration // Per-attempt timeout, independent of the run (default: 60s)

	// Breaker is optional and shared across every caller of one dependency
	Breaker *CircuitBreaker
}

// DefaultPolicy returns the default retry configuration
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.2,
		Timeout:           60 * time.Second,
	}
}

// ErrRetryExhausted is matched by every *ExhaustedError
var ErrRetryExhausted = errors.New("retries exhausted")

// ExhaustedError is returned when a retryable error persisted through every
// attempt. Callers treat it as a local failure, not a process-fatal one.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Is matches ErrRetryExhausted
func (e *ExhaustedError) Is(target error) bool { return target == ErrRetryExhausted }

type options struct {
	classify Classifier
	gate     Gate
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger
}

// Option customizes a single Do call
type Option func(*options)

// WithClassifier sets the error classifier (default: DefaultClassifier)
func WithClassifier(c Classifier) Option {
	return func(o *options) {
		if c != nil {
			o.classify = c
		}
	}
}

// WithGate sets a gate consulted before every attempt
func WithGate(g Gate) Option {
	return func(o *options) { o.gate = g }
}

// WithSleeper overrides how backoff waits are performed (useful for tests)
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// WithLogger sets the logger used for retry diagnostics
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Do executes fn with retry and exponential backoff.
//
// Each attempt runs on a context that carries ctx's values but not its
// cancellation, bounded by Policy.Timeout: a canceled run lets the in-flight
// request finish and stops before the next attempt or during backoff.
func Do[T any](ctx context.Context, p Policy, op string, fn func(context.Context) (T, error), opts ...Option) (T, error) {
	o := options{
		classify: DefaultClassifier,
		sleep:    sleepContext,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	var zero T
	var lastErr error
	backoff := p.InitialBackoff
	attempts := 0

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("%s canceled after %d attempts: %w (last error: %v)", op, attempts, err, lastErr)
			}
			return zero, fmt.Errorf("%s canceled: %w", op, err)
		}

		if p.Breaker != nil {
			if err := p.Breaker.Allow(); err != nil {
				return zero, fmt.Errorf("%s: %w", op, err)
			}
		}

		if o.gate != nil {
			if err := o.gate(ctx); err != nil {
				if lastErr != nil {
					// Out of budget mid-retry: the call is as failed as if retries ran out
					return zero, &ExhaustedError{Op: op, Attempts: attempts, Last: fmt.Errorf("%w (retry not admitted: %v)", lastErr, err)}
				}
				return zero, err
			}
		}

		attempts++
		result, err := runAttempt(ctx, p.Timeout, fn)
		if err == nil {
			if p.Breaker != nil {
				p.Breaker.RecordSuccess()
			}
			if attempt > 0 {
				o.logger.Debug("external call succeeded after retries", "op", op, "retries", attempt)
			}
			return result, nil
		}

		lastErr = err
		class := o.classify(err)
		if class == Fatal {
			o.logger.Debug("external call failed with non-retryable error", "op", op, "err", err)
			return zero, err
		}
		if p.Breaker != nil {
			p.Breaker.RecordFailure()
		}
		if attempt == p.MaxRetries {
			break
		}

		delay := p.delay(backoff)
		o.logger.Debug("external call failed, retrying",
			"op", op, "attempt", attempt+1, "max_attempts", p.MaxRetries+1, "delay", delay, "err", err)
		if err := o.sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%s canceled during backoff: %w (last error: %v)", op, err, lastErr)
		}
		backoff = p.next(backoff)
	}

	return zero, &ExhaustedError{Op: op, Attempts: attempts, Last: lastErr}
}

// DoErr is Do for calls without a result value
func DoErr(ctx context.Context, p Policy, op string, fn func(context.Context) error, opts ...Option) error {
	_, err := Do(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, opts...)
	return err
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	attemptCtx := context.WithoutCancel(ctx)
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(attemptCtx, timeout)
		defer cancel()
	}
	return fn(attemptCtx)
}

// delay applies jitter to the current backoff
func (p Policy) delay(backoff time.Duration) time.Duration {
	if backoff <= 0 {
		return 0
	}
	if p.Jitter <= 0 {
		return backoff
	}
	j := p.Jitter
	if j > 1 {
		j = 1
	}
	// uniform in [backoff*(1-j), backoff*(1+j)]
	factor := 1 - j + rand.Float64()*2*j
	d := time.Duration(float64(backoff) * factor)
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

func (p Policy) next(backoff time.Duration) time.Duration {
	mult := p.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	n := time.Duration(float64(backoff) * mult)
	if p.MaxBackoff > 0 && n > p.MaxBackoff {
		n = p.MaxBackoff
	}
	return n
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HTTPError is a non-2xx response from an HTTP collaborator
type HTTPError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: http %d: %s", e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: http %d", e.URL, e.StatusCode)
}

// DefaultClassifier treats timeouts, dropped connections, HTTP 429 and 5xx
// responses as retryable and everything else as fatal.
func DefaultClassifier(err error) Classification {
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500 {
			return Retryable
		}
		return Fatal
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Retryable
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return Retryable
	}
	return Fatal
}
