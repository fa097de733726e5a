// Package model hands out ready-to-use speech models bound to a compute
// device. Models are expensive to load, so by default one instance per
// device is kept and shared between requests.
package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"xttsui/internal/pkg/xttsui/engine"
)

var ErrClosed = errors.New("model manager closed")

// InitializationError reports that no model could be made ready on Device.
type InitializationError struct {
	Device string
	Err    error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("failed to initialize model on %s: %v", e.Device, e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

type Options struct {
	// Cache keeps models loaded between requests. Without it every Get
	// builds a fresh model that is closed again on Release.
	Cache bool
	// IdleTTL unloads a cached model that has not been used for this long.
	// Zero keeps models until Close.
	IdleTTL time.Duration
}

type Manager struct {
	backend engine.Backend
	cfg     engine.EngineConfig
	opts    Options

	cache *ttlcache.Cache[string, *entry]
	group singleflight.Group

	mu     sync.Mutex
	closed bool
}

func NewManager(backend engine.Backend, cfg engine.EngineConfig, opts Options) *Manager {
	m := &Manager{
		backend: backend,
		cfg:     cfg,
		opts:    opts,
	}
	if opts.Cache {
		m.cache = ttlcache.New[string, *entry](
			ttlcache.WithTTL[string, *entry](opts.IdleTTL),
		)
		m.cache.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *entry]) {
			log.Debug().Str("device", item.Key()).Msg("Unloading cached model")
			item.Value().retire()
		})
		if opts.IdleTTL > 0 {
			go m.cache.Start()
		}
	}
	return m
}

// ResolveDevice picks the accelerated device when it is both requested and
// available, and the standard device otherwise.
func (m *Manager) ResolveDevice(ctx context.Context, accelerated bool) string {
	if !accelerated {
		return engine.DeviceCPU
	}
	ok, err := m.backend.AcceleratorAvailable(ctx, m.cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Accelerator probe failed, falling back to cpu")
		return engine.DeviceCPU
	}
	if !ok {
		log.Debug().Msg("Accelerated device requested but not available, using cpu")
		return engine.DeviceCPU
	}
	return engine.DeviceCUDA
}

// Get returns a model for the resolved device. Callers must Release the
// handle once the request is done with it.
func (m *Manager) Get(ctx context.Context, accelerated bool) (*Handle, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}

	device := m.ResolveDevice(ctx, accelerated)

	if !m.opts.Cache {
		e, err := m.load(ctx, device)
		if err != nil {
			return nil, err
		}
		e.acquire()
		e.retire()
		return newHandle(e), nil
	}

	// An entry can be retired by expiry between lookup and acquire; the
	// next round loads a replacement.
	for attempt := 0; attempt < 3; attempt++ {
		e, err := m.cached(ctx, device)
		if err != nil {
			return nil, err
		}
		if e.acquire() {
			return newHandle(e), nil
		}
	}
	return nil, &InitializationError{Device: device, Err: fmt.Errorf("model was unloaded while being acquired")}
}

func (m *Manager) cached(ctx context.Context, device string) (*entry, error) {
	if item := m.cache.Get(device); item != nil {
		return item.Value(), nil
	}

	// The load is shared by every waiter, so one caller going away must not
	// cancel it for the rest.
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := m.group.Do(device, func() (any, error) {
		if item := m.cache.Get(device); item != nil {
			return item.Value(), nil
		}
		e, err := m.load(loadCtx, device)
		if err != nil {
			return nil, err
		}
		if m.isClosed() {
			e.retire()
			return nil, ErrClosed
		}
		// Drops an expired entry the janitor has not collected yet.
		m.cache.Delete(device)
		m.cache.Set(device, e, ttlcache.DefaultTTL)
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*entry), nil
}

func (m *Manager) load(ctx context.Context, device string) (*entry, error) {
	cfg := m.cfg
	cfg.Device = device

	start := time.Now()
	eng, err := m.backend.New(ctx, cfg)
	if err != nil {
		return nil, &InitializationError{Device: device, Err: err}
	}

	info := eng.Info()
	log.Info().
		Str("backend", info.Name).
		Str("model", cfg.Model).
		Str("device", device).
		Dur("elapsed", time.Since(start)).
		Msg("Model loaded")

	return &entry{eng: eng, serialize: !info.ConcurrentSafe}, nil
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close unloads every cached model. Models still held by a request are
// closed when that request releases them.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	if m.cache == nil {
		return
	}
	if m.opts.IdleTTL > 0 {
		m.cache.Stop()
	}
	for _, item := range m.cache.Items() {
		item.Value().retire()
	}
	m.cache.DeleteAll()
}

type entry struct {
	eng       engine.Engine
	serialize bool
	callMu    sync.Mutex

	mu      sync.Mutex
	refs    int
	retired bool
	closed  bool
}

func (e *entry) acquire() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.retired {
		return false
	}
	e.refs++
	return true
}

func (e *entry) release() {
	e.mu.Lock()
	e.refs--
	done := e.retired && e.refs == 0
	e.mu.Unlock()
	if done {
		e.close()
	}
}

func (e *entry) retire() {
	e.mu.Lock()
	e.retired = true
	done := e.refs == 0
	e.mu.Unlock()
	if done {
		e.close()
	}
}

func (e *entry) close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	if err := e.eng.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close model")
	}
}
