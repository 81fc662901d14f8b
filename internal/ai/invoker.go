package ai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/steveyegge/scout/internal/cost"
	"github.com/steveyegge/scout/internal/retry"
)

// Invoker runs generation calls under the run's governor and retry policy.
// Every attempt, including retries, is charged to the given resource class.
type Invoker struct {
	Generator Generator
	Governor  *cost.Governor
	Policy    retry.Policy
	Logger    *slog.Logger

	// RetryOptions are appended to the invoker's own options (tests use
	// retry.WithSleeper to skip real backoff).
	RetryOptions []retry.Option
}

// NewInvoker creates an invoker with the default retry policy
func NewInvoker(gen Generator, gov *cost.Governor, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		Generator: gen,
		Governor:  gov,
		Policy:    retry.DefaultPolicy(),
		Logger:    logger,
	}
}

// Invoke makes one logical generation call charged to class
func (inv *Invoker) Invoke(ctx context.Context, class cost.Resource, req Request) (*Response, error) {
	opts := []retry.Option{
		retry.WithClassifier(Classify),
		retry.WithLogger(inv.Logger),
	}
	if inv.Governor != nil {
		opts = append(opts, retry.WithGate(inv.Governor.Gate(cost.One(class))))
	}
	opts = append(opts, inv.RetryOptions...)

	op := req.Operation
	if op == "" {
		op = string(class)
	}

	resp, err := retry.Do(ctx, inv.Policy, op, func(ctx context.Context) (*Response, error) {
		return inv.Generator.Generate(ctx, req)
	}, opts...)
	if err != nil {
		return nil, err
	}

	if inv.Governor != nil {
		inv.Governor.RecordCost(class, inv.Governor.TokenCost(resp.InputTokens, resp.OutputTokens))
	}
	return resp, nil
}

// InvokeJSON makes a generation call and decodes the response as T
func InvokeJSON[T any](ctx context.Context, inv *Invoker, class cost.Resource, req Request) (T, error) {
	var zero T
	resp, err := inv.Invoke(ctx, class, req)
	if err != nil {
		return zero, err
	}
	v, err := Decode[T](resp.Text)
	if err != nil {
		inv.Logger.Warn("unparseable generation response",
			"op", req.Operation, "err", err, "response", truncate(resp.Text, 200))
		return zero, fmt.Errorf("%s: %w", req.Operation, err)
	}
	return v, nil
}
