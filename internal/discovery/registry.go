package discovery

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/steveyegge/scout/internal/cost"
	"github.com/steveyegge/scout/internal/retry"
	"github.com/steveyegge/scout/internal/types"
)

// PainPointSource mines complaint text for a query. Each Mine call is one
// external call, charged to the "mining" class and the source's own class.
type PainPointSource interface {
	Name() string
	Mine(ctx context.Context, query string) ([]types.PainPoint, error)
}

// QuotaCharger is implemented by sources whose calls also consume a metered
// quota (e.g. video-platform API units).
type QuotaCharger interface {
	QuotaCharges() []cost.Charge
}

// Classifier is implemented by sources and validators with their own error
// classification; others use retry.DefaultClassifier.
type Classifier interface {
	Classify(err error) retry.Classification
}

// Registry holds the pain-point sources available to the pipeline
type Registry struct {
	mu      sync.RWMutex
	sources map[string]PainPointSource
}

// NewRegistry creates an empty source registry
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]PainPointSource)}
}

// Register adds a source
func (r *Registry) Register(src PainPointSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := src.Name()
	if _, exists := r.sources[name]; exists {
		return fmt.Errorf("source %q already registered", name)
	}
	r.sources[name] = src
	return nil
}

// Get returns a registered source by name
func (r *Registry) Get(name string) (PainPointSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, ok := r.sources[name]
	return src, ok
}

// List returns all registered source names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func classifierFor(v any) retry.Classifier {
	if c, ok := v.(Classifier); ok {
		return c.Classify
	}
	return retry.DefaultClassifier
}
