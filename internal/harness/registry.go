package harness

import (
	"context"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/ljacobsen/foreman/internal/core"
)

// Factory creates a harness adapter from configuration.
type Factory func(cfg Config) core.Harness

// Registry maps harness identifiers onto adapters. The set of variants
// is closed and registrable: adding a new external tool means
// registering one factory here.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	configs   map[string]Config
	adapters  map[string]core.Harness
}

// NewRegistry creates a registry with the built-in adapters registered.
func NewRegistry() *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		configs:   make(map[string]Config),
		adapters:  make(map[string]core.Harness),
	}
	r.RegisterFactory("claude", NewClaudeHarness)
	r.RegisterFactory("codex", NewCodexHarness)
	r.RegisterFactory("aider", NewAiderHarness)
	return r
}

// RegisterFactory registers a factory for a harness identifier.
func (r *Registry) RegisterFactory(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Deregister removes a harness identifier entirely. A deregistered
// harness fails Get and Has, so disabled adapters are rejected at
// create time rather than at spawn time.
func (r *Registry) Deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.factories, name)
	delete(r.configs, name)
	delete(r.adapters, name)
}

// Configure sets configuration for a harness. Clears any cached
// adapter so the next Get rebuilds it.
func (r *Registry) Configure(name string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[name] = cfg
	delete(r.adapters, name)
}

// Get returns the adapter for an identifier, creating it on first use.
// Unknown identifiers fail with a validation error before any process
// is spawned.
func (r *Registry) Get(name string) (core.Harness, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if adapter, ok := r.adapters[name]; ok {
		return adapter, nil
	}
	factory, ok := r.factories[name]
	if !ok {
		return nil, core.ErrValidation(core.CodeUnknownHarness,
			"unknown harness "+name+" (known: "+strings.Join(r.namesLocked(), ", ")+")")
	}
	adapter := factory(r.configs[name])
	r.adapters[name] = adapter
	return adapter, nil
}

// Has checks whether an identifier is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// List returns the registered harness identifiers, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Ping checks whether the harness executable is on PATH.
func (r *Registry) Ping(_ context.Context, name string) error {
	adapter, err := r.Get(name)
	if err != nil {
		return err
	}
	cmd := adapter.(interface{ command() string }).command()
	if _, err := exec.LookPath(cmd); err != nil {
		return core.ErrNotFound("harness executable", cmd)
	}
	return nil
}

// Available returns the identifiers whose executables are installed.
func (r *Registry) Available(ctx context.Context) []string {
	var available []string
	for _, name := range r.List() {
		if r.Ping(ctx, name) == nil {
			available = append(available, name)
		}
	}
	return available
}
