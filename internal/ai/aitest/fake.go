// Package aitest provides a scripted Generator for tests.
package aitest

import (
	"context"
	"sync"

	"github.com/steveyegge/scout/internal/ai"
)

// HandlerFunc produces the text (or error) for one call
type HandlerFunc func(req ai.Request) (string, error)

// Generator is a concurrency-safe fake ai.Generator. Calls are counted per
// Request.Operation.
type Generator struct {
	mu       sync.Mutex
	handler  HandlerFunc
	calls    map[string]int
	requests []ai.Request
}

var _ ai.Generator = (*Generator)(nil)

// New returns a fake that answers every call with handler
func New(handler HandlerFunc) *Generator {
	return &Generator{handler: handler, calls: make(map[string]int)}
}

// Static returns a fake that answers every call with text
func Static(text string) *Generator {
	return New(func(ai.Request) (string, error) { return text, nil })
}

// Generate implements ai.Generator
func (g *Generator) Generate(ctx context.Context, req ai.Request) (*ai.Response, error) {
	g.mu.Lock()
	g.calls[req.Operation]++
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, err := g.handler(req)
	if err != nil {
		return nil, err
	}
	return &ai.Response{
		Text:         text,
		Model:        "fake",
		InputTokens:  int64(len(req.Prompt) / 4),
		OutputTokens: int64(len(text) / 4),
	}, nil
}

// Calls returns how many calls were made for op
func (g *Generator) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// Total returns the number of calls across all operations
func (g *Generator) Total() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

// Requests returns a copy of every request received, in arrival order
func (g *Generator) Requests() []ai.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ai.Request(nil), g.requests...)
}
