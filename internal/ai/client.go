package ai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
)

// Config holds client configuration
type Config struct {
	APIKey    string // Anthropic API key (if empty, reads from ANTHROPIC_API_KEY env var)
	Model     string // Default model (default: GetDefaultModel())
	MaxTokens int    // Default max output tokens (default: 4096)

	// MaxConcurrentCalls bounds in-flight calls across every stage of the
	// process (default: 6, 0 = unlimited)
	MaxConcurrentCalls int

	Logger *slog.Logger
}

// Client implements Generator with the Anthropic Messages API
type Client struct {
	client         anthropic.Client
	model          string
	maxTokens      int
	concurrencySem *semaphore.Weighted
	logger         *slog.Logger
}

var _ Generator = (*Client)(nil)

// NewClient creates a new generation client
func NewClient(cfg Config) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = GetDefaultModel()
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var sem *semaphore.Weighted
	if cfg.MaxConcurrentCalls > 0 {
		sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls))
	}

	return &Client{
		// Retries are owned by the Invoker so each attempt is charged to the budget
		client:         anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0)),
		model:          model,
		maxTokens:      maxTokens,
		concurrencySem: sem,
		logger:         logger,
	}, nil
}

// Generate makes one Messages API call
func (c *Client) Generate(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, &Error{Kind: ErrInvalidInput, Op: req.Operation, Err: fmt.Errorf("empty prompt")}
	}

	if c.concurrencySem != nil {
		if err := c.concurrencySem.Acquire(ctx, 1); err != nil {
			return nil, &Error{Kind: ErrTimeout, Op: req.Operation, Err: fmt.Errorf("waiting for concurrency slot: %w", err)}
		}
		defer c.concurrencySem.Release(1)
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	start := time.Now()
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapAPIError(req.Operation, err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	c.logger.Debug("generation call",
		"op", req.Operation, "model", model,
		"input_tokens", msg.Usage.InputTokens, "output_tokens", msg.Usage.OutputTokens,
		"duration", time.Since(start))

	if text.Len() == 0 {
		return nil, &Error{Kind: ErrServer, Op: req.Operation, Err: fmt.Errorf("empty content (stop_reason=%s)", msg.StopReason)}
	}

	return &Response{
		Text:         text.String(),
		Model:        model,
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}, nil
}
