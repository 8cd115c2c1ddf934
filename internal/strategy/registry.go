package strategy

import (
	"sort"
	"strings"
	"sync"

	"github.com/halcyonquant/backtest/internal/version"
	"github.com/halcyonquant/backtest/pkg/errors"
)

// Registry manages all available strategies, keyed by schema id.
//
// A registration with an invalid schema never evicts a previously valid
// entry for the same id: the last good definition stays usable and the
// error is returned to the caller.
type Registry struct {
	strategies map[string]Strategy
	mu         sync.RWMutex
}

// NewRegistry creates an empty strategy registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register validates the strategy's schema and binds it under its id,
// replacing any previous definition only when the new one is valid.
func (r *Registry) Register(s Strategy) error {
	schema := s.Schema()

	if err := schema.Validate(); err != nil {
		return err
	}

	if err := version.CheckCompatibility(version.GetVersion(), schema.Version); err != nil {
		return errors.Wrapf(errors.ErrCodeVersionMismatch, err, "strategy %s is not compatible with this engine", schema.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.strategies[schema.ID] = s

	return nil
}

// Get retrieves a strategy by id.
func (r *Registry) Get(id string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.strategies[id]
	if !exists {
		return nil, errors.Newf(errors.ErrCodeStrategyNotFound, "strategy %q not found", id)
	}

	return s, nil
}

// List returns the schemas of all registered strategies sorted by name.
func (r *Registry) List() []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]Schema, 0, len(r.strategies))
	for _, s := range r.strategies {
		schemas = append(schemas, s.Schema())
	}

	sort.Slice(schemas, func(i, j int) bool {
		return strings.ToLower(schemas[i].Name) < strings.ToLower(schemas[j].Name)
	})

	return schemas
}

// Remove deletes a strategy from the registry.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.strategies[id]; !exists {
		return errors.Newf(errors.ErrCodeStrategyNotFound, "strategy %q not found", id)
	}

	delete(r.strategies, id)

	return nil
}
