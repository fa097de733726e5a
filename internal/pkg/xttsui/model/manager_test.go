package model

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xttsui/internal/pkg/xttsui/engine"
)

type fakeEngine struct {
	device         string
	concurrentSafe bool
	closed         atomic.Bool
	active         atomic.Int32
	maxActive      atomic.Int32
}

func (f *fakeEngine) Synthesize(ctx context.Context, req engine.SynthesisRequest) ([]float32, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return []float32{1}, nil
}

func (f *fakeEngine) SynthesizeToFile(ctx context.Context, req engine.FileRequest) error {
	return nil
}

func (f *fakeEngine) Voices() []string { return nil }

func (f *fakeEngine) Info() engine.EngineInfo {
	return engine.EngineInfo{Name: "fake", Device: f.device, ConcurrentSafe: f.concurrentSafe}
}

func (f *fakeEngine) Close() error {
	f.closed.Store(true)
	return nil
}

type fakeBackend struct {
	mu       sync.Mutex
	built    []*fakeEngine
	accel    bool
	probeErr error
	probes   atomic.Int32
	loadErr  error
	delay    time.Duration
	safe     bool
}

func (b *fakeBackend) backend() engine.Backend {
	return engine.Backend{
		New: func(ctx context.Context, cfg engine.EngineConfig) (engine.Engine, error) {
			if b.delay > 0 {
				select {
				case <-time.After(b.delay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			if b.loadErr != nil {
				return nil, b.loadErr
			}
			e := &fakeEngine{device: cfg.Device, concurrentSafe: b.safe}
			b.mu.Lock()
			b.built = append(b.built, e)
			b.mu.Unlock()
			return e, nil
		},
		Accelerator: func(ctx context.Context, cfg engine.EngineConfig) (bool, error) {
			b.probes.Add(1)
			return b.accel, b.probeErr
		},
	}
}

func (b *fakeBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.built)
}

func TestResolveDevice(t *testing.T) {
	ctx := context.Background()

	b := &fakeBackend{accel: true}
	m := NewManager(b.backend(), engine.EngineConfig{}, Options{Cache: true})
	defer m.Close()
	assert.Equal(t, engine.DeviceCUDA, m.ResolveDevice(ctx, true))
	assert.Equal(t, engine.DeviceCPU, m.ResolveDevice(ctx, false))
	assert.EqualValues(t, 1, b.probes.Load())

	b.accel = false
	assert.Equal(t, engine.DeviceCPU, m.ResolveDevice(ctx, true))

	b.accel, b.probeErr = true, errors.New("server down")
	assert.Equal(t, engine.DeviceCPU, m.ResolveDevice(ctx, true))
}

func TestCachedPerDevice(t *testing.T) {
	b := &fakeBackend{accel: true}
	m := NewManager(b.backend(), engine.EngineConfig{}, Options{Cache: true})
	defer m.Close()

	h1, err := m.Get(context.Background(), false)
	require.NoError(t, err)
	h1.Release()
	h2, err := m.Get(context.Background(), false)
	require.NoError(t, err)
	h2.Release()
	assert.Equal(t, 1, b.count())

	h3, err := m.Get(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, engine.DeviceCUDA, h3.Info().Device)
	h3.Release()
	assert.Equal(t, 2, b.count())
	assert.False(t, b.built[0].closed.Load())
}

func TestConcurrentFirstUseLoadsOnce(t *testing.T) {
	b := &fakeBackend{delay: 20 * time.Millisecond}
	m := NewManager(b.backend(), engine.EngineConfig{}, Options{Cache: true})
	defer m.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := m.Get(context.Background(), false)
			if assert.NoError(t, err) {
				h.Release()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, b.count())
}

func TestSharedLoadSurvivesCallerCancel(t *testing.T) {
	b := &fakeBackend{delay: 60 * time.Millisecond}
	m := NewManager(b.backend(), engine.EngineConfig{}, Options{Cache: true})
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		h, err := m.Get(ctx, false)
		if err == nil {
			h.Release()
		}
		first <- err
	}()

	time.Sleep(10 * time.Millisecond)
	second := make(chan error, 1)
	go func() {
		h, err := m.Get(context.Background(), false)
		if err == nil {
			h.Release()
		}
		second <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	require.NoError(t, <-second)
	<-first
	assert.Equal(t, 1, b.count())
}

func TestUncachedLoadsPerRequest(t *testing.T) {
	b := &fakeBackend{}
	m := NewManager(b.backend(), engine.EngineConfig{}, Options{Cache: false})
	defer m.Close()

	h1, err := m.Get(context.Background(), false)
	require.NoError(t, err)
	h2, err := m.Get(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 2, b.count())

	assert.False(t, b.built[0].closed.Load())
	h1.Release()
	h1.Release()
	assert.True(t, b.built[0].closed.Load())
	assert.False(t, b.built[1].closed.Load())
	h2.Release()
	assert.True(t, b.built[1].closed.Load())
}

func TestLoadFailure(t *testing.T) {
	b := &fakeBackend{loadErr: errors.New("weights missing")}
	m := NewManager(b.backend(), engine.EngineConfig{}, Options{Cache: true})
	defer m.Close()

	_, err := m.Get(context.Background(), false)
	var initErr *InitializationError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, engine.DeviceCPU, initErr.Device)
	assert.ErrorContains(t, err, "weights missing")
}

func TestCloseWaitsForHeldHandles(t *testing.T) {
	b := &fakeBackend{}
	m := NewManager(b.backend(), engine.EngineConfig{}, Options{Cache: true})

	h, err := m.Get(context.Background(), false)
	require.NoError(t, err)

	m.Close()
	assert.False(t, b.built[0].closed.Load())
	h.Release()
	assert.True(t, b.built[0].closed.Load())

	_, err = m.Get(context.Background(), false)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestIdleModelsExpire(t *testing.T) {
	b := &fakeBackend{}
	m := NewManager(b.backend(), engine.EngineConfig{}, Options{Cache: true, IdleTTL: 30 * time.Millisecond})
	defer m.Close()

	h, err := m.Get(context.Background(), false)
	require.NoError(t, err)
	h.Release()

	assert.Eventually(t, func() bool { return b.built[0].closed.Load() }, 2*time.Second, 10*time.Millisecond)

	h, err = m.Get(context.Background(), false)
	require.NoError(t, err)
	h.Release()
	assert.Equal(t, 2, b.count())
}

func TestSerializesUnsafeEngines(t *testing.T) {
	for _, safe := range []bool{false, true} {
		b := &fakeBackend{safe: safe}
		m := NewManager(b.backend(), engine.EngineConfig{}, Options{Cache: true})

		var wg sync.WaitGroup
		for i := 0; i < 6; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				h, err := m.Get(context.Background(), false)
				if !assert.NoError(t, err) {
					return
				}
				defer h.Release()
				_, err = h.Synthesize(context.Background(), engine.SynthesisRequest{Text: "x"})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		if !safe {
			assert.EqualValues(t, 1, b.built[0].maxActive.Load())
		}
		m.Close()
	}
}
