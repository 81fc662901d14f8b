package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/steveyegge/scout/internal/retry"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want retry.Classification
	}{
		{"rate limited", &Error{Kind: ErrRateLimited, Err: errors.New("429")}, retry.Retryable},
		{"timeout", &Error{Kind: ErrTimeout, Err: errors.New("slow")}, retry.Retryable},
		{"server", &Error{Kind: ErrServer, Err: errors.New("529 overloaded")}, retry.Retryable},
		{"wrapped server", fmt.Errorf("extract: %w", &Error{Kind: ErrServer, Err: errors.New("x")}), retry.Retryable},
		{"deadline", context.DeadlineExceeded, retry.Retryable},
		{"invalid input", &Error{Kind: ErrInvalidInput, Err: errors.New("bad")}, retry.Fatal},
		{"auth", &Error{Kind: ErrAuthFailure, Err: errors.New("401")}, retry.Fatal},
		{"quota", &Error{Kind: ErrQuotaExhausted, Err: errors.New("credit balance")}, retry.Fatal},
		{"unknown", errors.New("boom"), retry.Fatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestKindForStatus(t *testing.T) {
	assert.Equal(t, ErrRateLimited, kindForStatus(429, ""))
	assert.Equal(t, ErrAuthFailure, kindForStatus(401, ""))
	assert.Equal(t, ErrServer, kindForStatus(529, "overloaded"))
	assert.Equal(t, ErrServer, kindForStatus(500, ""))
	assert.Equal(t, ErrQuotaExhausted, kindForStatus(400, "Your credit balance is too low"))
	assert.Equal(t, ErrInvalidInput, kindForStatus(400, "max_tokens too large"))
}

func TestWrapAPIErrorTransport(t *testing.T) {
	err := wrapAPIError("extract", errors.New("dial tcp: connection refused"))
	assert.ErrorIs(t, err, ErrServer)
	assert.Equal(t, retry.Retryable, Classify(err))

	err = wrapAPIError("extract", context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrTimeout)

	err = wrapAPIError("extract", context.Canceled)
	assert.ErrorIs(t, err, context.Canceled)
}
