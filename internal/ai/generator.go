// Package ai talks to the external text-generation service.
//
// Stages depend on the Generator interface; Client is the production
// implementation backed by the Anthropic Messages API. Every call a stage makes
// goes through an Invoker so it is admitted by the run's governor and retried
// according to the error classification in errors.go.
package ai

import (
	"context"
	"os"
)

// Model constants
//
// Extraction and filtering run many small calls and use the cheaper model by
// default; aggregation and review use the default model.
//
// Environment variable overrides:
// - SCOUT_MODEL_DEFAULT: Override default model (default: Sonnet)
// - SCOUT_MODEL_SIMPLE: Override model for simple tasks (default: Haiku)
const (
	// ModelSonnet is the high-end model for aggregation and review
	ModelSonnet = "claude-sonnet-4-5-20250929"

	// ModelHaiku is the cost-efficient model for per-item extraction
	ModelHaiku = "claude-3-5-haiku-20241022"
)

// GetDefaultModel returns the default model, checking SCOUT_MODEL_DEFAULT first
func GetDefaultModel() string {
	if model := os.Getenv("SCOUT_MODEL_DEFAULT"); model != "" {
		return model
	}
	return ModelSonnet
}

// GetSimpleTaskModel returns the model for simple tasks, checking SCOUT_MODEL_SIMPLE first
func GetSimpleTaskModel() string {
	if model := os.Getenv("SCOUT_MODEL_SIMPLE"); model != "" {
		return model
	}
	return ModelHaiku
}

// Request is one prompt payload
type Request struct {
	// Operation names the call for logs and test fakes, e.g. "extract", "review"
	Operation string
	System    string
	Prompt    string
	Model     string // empty means the client default
	MaxTokens int    // 0 means the client default
}

// Response is the generated text plus token usage
type Response struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Generator issues a single generation call. Implementations do not retry;
// retrying is the Invoker's job.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
