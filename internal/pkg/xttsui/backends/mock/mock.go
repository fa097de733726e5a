// Package mock is an in-process stand-in for an XTTS model. It renders a
// deterministic tone per character and, when cloning, echoes the reference
// clip in front of it, so the UI can be exercised without model weights.
package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"xttsui/internal/pkg/xttsui/audio"
	"xttsui/internal/pkg/xttsui/engine"
)

const (
	mockSampleRate = 24000
	samplesPerRune = mockSampleRate / 20
)

var roster = []string{"Claribel Dervla", "Daisy Studious", "Gracie Wise"}

func init() {
	engine.Register("mock", engine.Backend{
		New: NewEngine,
		Accelerator: func(ctx context.Context, cfg engine.EngineConfig) (bool, error) {
			return true, nil
		},
	})
}

type Engine struct {
	model  string
	device string
}

func NewEngine(ctx context.Context, cfg engine.EngineConfig) (engine.Engine, error) {
	if cfg.Device != engine.DeviceCPU && cfg.Device != engine.DeviceCUDA {
		return nil, fmt.Errorf("unsupported device %q", cfg.Device)
	}
	return &Engine{model: cfg.Model, device: cfg.Device}, nil
}

func (e *Engine) Synthesize(ctx context.Context, req engine.SynthesisRequest) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return tone(req.Text, req.Language+"/"+req.Speaker), nil
}

func (e *Engine) SynthesizeToFile(ctx context.Context, req engine.FileRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var samples []float32
	for _, ref := range req.SpeakerReferences {
		clip, err := audio.LoadWAV(ref)
		if err != nil {
			return fmt.Errorf("failed to load speaker reference: %w", err)
		}
		samples = append(samples, clip.Samples...)
	}
	samples = append(samples, tone(req.Text, req.Language)...)

	return audio.NewAudioWithSampleRate(samples, mockSampleRate).SaveWAV(req.FilePath)
}

func (e *Engine) Voices() []string {
	out := make([]string, len(roster))
	copy(out, roster)
	return out
}

func (e *Engine) Info() engine.EngineInfo {
	return engine.EngineInfo{
		Name:           "mock",
		Model:          e.model,
		Device:         e.device,
		SampleRate:     mockSampleRate,
		ConcurrentSafe: true,
	}
}

func (e *Engine) Close() error {
	return nil
}

func tone(text, seed string) []float32 {
	h := fnv.New32a()
	h.Write([]byte(seed))
	base := 180 + float64(h.Sum32()%120)

	runes := []rune(text)
	out := make([]float32, 0, len(runes)*samplesPerRune)
	for i, r := range runes {
		freq := base + float64(r%32)*8
		for n := 0; n < samplesPerRune; n++ {
			t := float64(i*samplesPerRune+n) / mockSampleRate
			out = append(out, float32(0.3*math.Sin(2*math.Pi*freq*t)))
		}
	}
	return out
}
