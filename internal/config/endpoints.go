package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Enntity/cortex-sub003/internal/pathway"
	"github.com/Enntity/cortex-sub003/internal/resilience"
	"github.com/Enntity/cortex-sub003/pkg/provider/llm"
)

// ErrModelNotConfigured is returned by [Endpoints.Endpoint] when neither the
// requested logical model nor a default is configured.
var ErrModelNotConfigured = errors.New("config: model not configured")

// Endpoints resolves logical model names to completion providers using the
// configured [ModelsConfig] and a provider [Registry]. Providers are
// constructed lazily on first use and cached. Safe for concurrent use.
type Endpoints struct {
	reg *Registry

	mu           sync.RWMutex
	defaultModel string
	entries      map[string]ModelEndpoint
	cache        map[string]llm.Provider
}

var _ pathway.EndpointResolver = (*Endpoints)(nil)

// NewEndpoints builds an endpoint resolver over reg for the given models.
func NewEndpoints(reg *Registry, mc ModelsConfig) *Endpoints {
	e := &Endpoints{reg: reg}
	e.Reconfigure(mc)
	return e
}

// Endpoint returns the provider backing the logical model name. An empty
// name resolves to the configured default model.
func (e *Endpoints) Endpoint(model string) (llm.Provider, error) {
	e.mu.RLock()
	if model == "" {
		model = e.defaultModel
	}
	if p, ok := e.cache[model]; ok {
		e.mu.RUnlock()
		return p, nil
	}
	ep, ok := e.entries[model]
	e.mu.RUnlock()

	if !ok {
		if model == "" {
			return nil, ErrModelNotConfigured
		}
		return nil, fmt.Errorf("%w: %q", ErrModelNotConfigured, model)
	}

	p, err := e.build(model, ep)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	// Another goroutine may have built the provider concurrently; keep the
	// first one so callers share a single instance.
	if prev, ok := e.cache[model]; ok {
		p = prev
	} else {
		e.cache[model] = p
	}
	e.mu.Unlock()
	return p, nil
}

// build constructs the provider for one endpoint. Endpoints with
// fallbacks are wrapped in a [resilience.ModelFailover] so that a
// failing primary is bypassed per request while its breaker cools down.
func (e *Endpoints) build(model string, ep ModelEndpoint) (llm.Provider, error) {
	primary, err := e.reg.CreateLLM(ep.Provider)
	if err != nil {
		return nil, fmt.Errorf("config: endpoint %q: %w", model, err)
	}
	if len(ep.Fallbacks) == 0 {
		return primary, nil
	}

	mf := resilience.NewModelFailover(backendLabel(ep.Provider), primary)
	for i, fb := range ep.Fallbacks {
		if fb.Model == "" {
			fb.Model = model
		}
		p, err := e.reg.CreateLLM(fb)
		if err != nil {
			return nil, fmt.Errorf("config: endpoint %q fallback %d: %w", model, i, err)
		}
		mf.Add(backendLabel(fb), p)
	}
	return mf, nil
}

// backendLabel names one failover backend in logs.
func backendLabel(entry ProviderEntry) string {
	if entry.Model == "" {
		return entry.Name
	}
	return entry.Name + "/" + entry.Model
}

// Models returns the configured logical model names.
func (e *Endpoints) Models() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.entries))
	for name := range e.entries {
		names = append(names, name)
	}
	return names
}

// Reconfigure swaps in a new models section, dropping cached providers whose
// endpoint definition changed. Used by the config watcher on hot reload.
func (e *Endpoints) Reconfigure(mc ModelsConfig) {
	entries := make(map[string]ModelEndpoint, len(mc.Endpoints))
	for _, ep := range mc.Endpoints {
		if ep.Provider.Model == "" {
			ep.Provider.Model = ep.Model
		}
		entries[ep.Model] = ep
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cache := make(map[string]llm.Provider, len(e.cache))
	for model, p := range e.cache {
		oldEP, hadOld := e.entries[model]
		newEP, hasNew := entries[model]
		if hadOld && hasNew && modelEndpointEqual(oldEP, newEP) {
			cache[model] = p
		}
	}

	e.defaultModel = mc.Default
	e.entries = entries
	e.cache = cache
}
