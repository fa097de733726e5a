package engine

import (
	"context"
	"time"
)

const (
	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda"

	DefaultModel = "tts_models/multilingual/multi-dataset/xtts_v2"
)

// Engine is a loaded speech model bound to one compute device.
type Engine interface {
	Synthesize(ctx context.Context, req SynthesisRequest) ([]float32, error)
	SynthesizeToFile(ctx context.Context, req FileRequest) error
	// Voices returns the built-in speaker roster in model order, or nil.
	Voices() []string
	Info() EngineInfo
	Close() error
}

type SynthesisRequest struct {
	Text     string
	Language string
	Speaker  string
}

type FileRequest struct {
	Text              string
	FilePath          string
	SpeakerReferences []string
	Language          string
	SplitSentences    bool
}

type EngineInfo struct {
	Name       string
	Model      string
	Device     string
	Languages  []string
	SampleRate int
	// ConcurrentSafe reports whether Synthesize calls may overlap.
	ConcurrentSafe bool
}

type EngineConfig struct {
	Model     string
	Device    string
	ServerURL string
	Command   string
	Timeout   time.Duration
	Backend   string
}
