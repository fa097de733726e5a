package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type EngineFactory func(ctx context.Context, cfg EngineConfig) (Engine, error)

// AcceleratorProbe reports whether an accelerated device can be used with cfg.
type AcceleratorProbe func(ctx context.Context, cfg EngineConfig) (bool, error)

type Backend struct {
	New         EngineFactory
	Accelerator AcceleratorProbe
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Backend)
)

func Register(name string, backend Backend) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if backend.New == nil {
		panic("engine: Register factory is nil")
	}
	if _, dup := registry[name]; dup {
		panic("engine: Register called twice for " + name)
	}
	registry[name] = backend
}

func Lookup(name string) (Backend, error) {
	registryMu.RLock()
	backend, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return Backend{}, fmt.Errorf("engine: unknown backend %q (registered: %v)", name, ListBackends())
	}
	return backend, nil
}

func New(ctx context.Context, name string, cfg EngineConfig) (Engine, error) {
	backend, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	cfg.Backend = name
	return backend.New(ctx, cfg)
}

// AcceleratorAvailable is false for backends that register no probe.
func (b Backend) AcceleratorAvailable(ctx context.Context, cfg EngineConfig) (bool, error) {
	if b.Accelerator == nil {
		return false, nil
	}
	return b.Accelerator(ctx, cfg)
}

func ListBackends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}
