package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/steveyegge/scout/internal/retry"
)

// Error kinds returned by generation calls
var (
	ErrRateLimited    = errors.New("rate limited")
	ErrTimeout        = errors.New("timeout")
	ErrServer         = errors.New("server error")
	ErrInvalidInput   = errors.New("invalid input")
	ErrAuthFailure    = errors.New("auth failure")
	ErrQuotaExhausted = errors.New("quota exhausted")
)

// Error is a classified generation failure
type Error struct {
	Kind       error
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("generation %s: %v (http %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("generation %s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the error's kind
func (e *Error) Is(target error) bool { return target == e.Kind }

// wrapAPIError converts an SDK error into a classified *Error
func wrapAPIError(op string, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &Error{Kind: kindForStatus(apiErr.StatusCode, apiErr.Error()), Op: op, StatusCode: apiErr.StatusCode, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrTimeout, Op: op, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &Error{Kind: kindForMessage(err.Error()), Op: op, Err: err}
}

func kindForStatus(status int, msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuthFailure
	case status == http.StatusRequestTimeout:
		return ErrTimeout
	case status >= 500: // includes 529 overloaded
		return ErrServer
	case strings.Contains(lower, "credit balance") || strings.Contains(lower, "billing"):
		return ErrQuotaExhausted
	default:
		return ErrInvalidInput
	}
}

// kindForMessage classifies errors that did not come back as API errors
// (transport failures) by their text.
func kindForMessage(msg string) error {
	s := strings.ToLower(msg)
	switch {
	case strings.Contains(s, "429") || strings.Contains(s, "rate limit"):
		return ErrRateLimited
	case strings.Contains(s, "timeout") || strings.Contains(s, "deadline exceeded"):
		return ErrTimeout
	case strings.Contains(s, "connection refused") || strings.Contains(s, "connection reset") ||
		strings.Contains(s, "temporary failure") || strings.Contains(s, "eof") ||
		strings.Contains(s, "502") || strings.Contains(s, "503") || strings.Contains(s, "504"):
		return ErrServer
	case strings.Contains(s, "401") || strings.Contains(s, "403") || strings.Contains(s, "api key"):
		return ErrAuthFailure
	default:
		return ErrInvalidInput
	}
}

// Classify is the retry classifier for generation calls
func Classify(err error) retry.Classification {
	switch {
	case err == nil:
		return retry.Fatal
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrTimeout), errors.Is(err, ErrServer):
		return retry.Retryable
	case errors.Is(err, context.DeadlineExceeded):
		return retry.Retryable
	default:
		return retry.Fatal
	}
}
