package fixtures

import (
	"context"
	"errors"

	"github.com/patrickmn/go-cache"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"
)

type RegistryOpt func(*Registry)

func RegistryLogger(logger *zap.Logger) RegistryOpt {
	return func(r *Registry) {
		r.log = logger
	}
}

// RegistryMetrics reports cache and materialization counters to scope. Defaults to tally.NoopScope.
func RegistryMetrics(scope tally.Scope) RegistryOpt {
	return func(r *Registry) {
		r.scope = scope
	}
}

// Registry memoizes fixtures by definition and overrides, so that Get with equal overrides
// returns the same persisted row. It is not safe for concurrent use; neither is the session.
type Registry struct {
	log     *zap.Logger
	scope   tally.Scope
	metrics *metrics
	session Session
	store   *cache.Cache
}

func NewRegistry(session Session, opts ...RegistryOpt) (*Registry, error) {
	if session == nil {
		return nil, PreconditionError{Reason: "registry constructed without a session"}
	}
	r := &Registry{session: session}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger()
	}
	if r.scope == nil {
		r.scope = tally.NoopScope
	}
	r.metrics = newMetrics(r.scope)
	r.store = cache.New(cache.NoExpiration, 0)
	return r, nil
}

func (r *Registry) Session() Session {
	return r.session
}

// Len returns the number of registered instances.
func (r *Registry) Len() int {
	return r.store.ItemCount()
}

// Lookup returns the instance registered for def and overrides without touching the session.
func (r *Registry) Lookup(def *Definition, overrides Overrides) (any, bool) {
	return r.store.Get(cacheKey(def, overrides))
}

// GetOrCreate returns the instance registered for def and overrides merged into the session.
// On a miss the instance is built with Model and registered.
func (r *Registry) GetOrCreate(ctx context.Context, def *Definition, overrides Overrides) (any, error) {
	key := cacheKey(def, overrides)
	instance, found := r.store.Get(key)
	if found {
		r.metrics.hits.Inc(1)
		r.log.Debug("registry hit", zap.String("fixture", def.name), zap.String("key", key))
	} else {
		r.metrics.misses.Inc(1)
		r.log.Debug("registry miss", zap.String("fixture", def.name), zap.String("key", key))
		f, err := def.New(r, overrides)
		if err != nil {
			return nil, err
		}
		if instance, err = f.Model(ctx); err != nil {
			return nil, err
		}
	}
	return r.Merge(ctx, instance, def, overrides)
}

// Merge detaches instance if the session holds it, merges it back, flushes and registers the
// merged copy under def and overrides. It is the only way instances enter the registry.
func (r *Registry) Merge(ctx context.Context, instance any, def *Definition, overrides Overrides) (any, error) {
	if err := r.session.Expunge(instance); err != nil && !errors.Is(err, ErrNotAttached) {
		return nil, err
	}
	merged, err := r.session.Merge(ctx, instance)
	if err != nil {
		return nil, err
	}
	if err := r.session.Flush(ctx); err != nil {
		return nil, err
	}
	key := cacheKey(def, overrides)
	r.store.Set(key, merged, cache.NoExpiration)
	r.metrics.merges.Inc(1)
	r.metrics.entries.Update(float64(r.store.ItemCount()))
	r.log.Debug("registry merge", zap.String("fixture", def.name), zap.String("key", key))
	return merged, nil
}

// cacheKey identifies a definition by its address, not its name, so that same-named
// definitions never share entries.
func cacheKey(def *Definition, overrides Overrides) string {
	return def.id() + "\x00" + canonical(overrides)
}
