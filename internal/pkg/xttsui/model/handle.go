package model

import (
	"context"
	"sync"

	"xttsui/internal/pkg/xttsui/engine"
)

// Handle is a model lent to one request.
type Handle struct {
	entry *entry
	once  sync.Once
}

func newHandle(e *entry) *Handle {
	return &Handle{entry: e}
}

func (h *Handle) Synthesize(ctx context.Context, req engine.SynthesisRequest) ([]float32, error) {
	if h.entry.serialize {
		h.entry.callMu.Lock()
		defer h.entry.callMu.Unlock()
	}
	return h.entry.eng.Synthesize(ctx, req)
}

func (h *Handle) SynthesizeToFile(ctx context.Context, req engine.FileRequest) error {
	if h.entry.serialize {
		h.entry.callMu.Lock()
		defer h.entry.callMu.Unlock()
	}
	return h.entry.eng.SynthesizeToFile(ctx, req)
}

func (h *Handle) Voices() []string {
	return h.entry.eng.Voices()
}

func (h *Handle) Info() engine.EngineInfo {
	return h.entry.eng.Info()
}

// Release returns the model to the manager. It is safe to call more than once.
func (h *Handle) Release() {
	h.once.Do(h.entry.release)
}
