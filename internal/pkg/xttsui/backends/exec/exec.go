// Package exec drives a local worker process that hosts the model. Each call
// spawns the configured command, writes one JSON request to its stdin and
// reads one JSON reply from stdout; audio always travels through WAV files.
package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	osexec "os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/rs/zerolog/log"

	"xttsui/internal/pkg/xttsui/audio"
	"xttsui/internal/pkg/xttsui/engine"
)

func init() {
	engine.Register("exec", engine.Backend{
		New:         NewEngine,
		Accelerator: AcceleratorAvailable,
	})
}

type Engine struct {
	cmd    []string
	model  string
	device string
	voices []string
	rate   int
}

type request struct {
	Op             string   `json:"op"`
	Model          string   `json:"model,omitempty"`
	Device         string   `json:"device,omitempty"`
	Text           string   `json:"text,omitempty"`
	Language       string   `json:"language,omitempty"`
	Speaker        string   `json:"speaker,omitempty"`
	SpeakerWav     []string `json:"speaker_wav,omitempty"`
	FilePath       string   `json:"file_path,omitempty"`
	SplitSentences bool     `json:"split_sentences,omitempty"`
}

type response struct {
	Error      string   `json:"error"`
	CUDA       bool     `json:"cuda"`
	Voices     []string `json:"voices"`
	SampleRate int      `json:"sample_rate"`
}

func parseCommand(command string) ([]string, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse worker command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("worker command empty")
	}
	return args, nil
}

func AcceleratorAvailable(ctx context.Context, cfg engine.EngineConfig) (bool, error) {
	args, err := parseCommand(cfg.Command)
	if err != nil {
		return false, err
	}
	resp, err := run(ctx, args, request{Op: "probe"})
	if err != nil {
		return false, err
	}
	return resp.CUDA, nil
}

func NewEngine(ctx context.Context, cfg engine.EngineConfig) (engine.Engine, error) {
	args, err := parseCommand(cfg.Command)
	if err != nil {
		return nil, err
	}

	resp, err := run(ctx, args, request{Op: "load", Model: cfg.Model, Device: cfg.Device})
	if err != nil {
		return nil, fmt.Errorf("failed to load model %q on %s: %w", cfg.Model, cfg.Device, err)
	}

	return &Engine{
		cmd:    args,
		model:  cfg.Model,
		device: cfg.Device,
		voices: resp.Voices,
		rate:   resp.SampleRate,
	}, nil
}

func (e *Engine) Synthesize(ctx context.Context, req engine.SynthesisRequest) ([]float32, error) {
	file, err := os.CreateTemp("", "xttsui_exec_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	path := file.Name()
	file.Close()
	defer os.Remove(path)

	_, err = run(ctx, e.cmd, request{
		Op:       "synthesize",
		Model:    e.model,
		Device:   e.device,
		Text:     req.Text,
		Language: req.Language,
		Speaker:  req.Speaker,
		FilePath: path,
	})
	if err != nil {
		return nil, err
	}

	out, err := audio.LoadWAV(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read worker output: %w", err)
	}
	return out.Samples, nil
}

func (e *Engine) SynthesizeToFile(ctx context.Context, req engine.FileRequest) error {
	_, err := run(ctx, e.cmd, request{
		Op:             "synthesize_to_file",
		Model:          e.model,
		Device:         e.device,
		Text:           req.Text,
		Language:       req.Language,
		SpeakerWav:     req.SpeakerReferences,
		FilePath:       req.FilePath,
		SplitSentences: req.SplitSentences,
	})
	return err
}

func (e *Engine) Voices() []string {
	if len(e.voices) == 0 {
		return nil
	}
	out := make([]string, len(e.voices))
	copy(out, e.voices)
	return out
}

func (e *Engine) Info() engine.EngineInfo {
	return engine.EngineInfo{
		Name:       "exec",
		Model:      e.model,
		Device:     e.device,
		SampleRate: e.rate,
	}
}

func (e *Engine) Close() error {
	return nil
}

func run(ctx context.Context, args []string, req request) (response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return response{}, err
	}

	cmd := osexec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug().Str("op", req.Op).Strs("command", args).Msg("Running worker")

	if err := cmd.Run(); err != nil {
		return response{}, fmt.Errorf("worker %s failed: %w: %s", req.Op, err, strings.TrimSpace(stderr.String()))
	}

	var resp response
	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) > 0 {
		if err := json.Unmarshal(out, &resp); err != nil {
			return response{}, fmt.Errorf("decode worker response: %w", err)
		}
	}
	if resp.Error != "" {
		return response{}, fmt.Errorf("worker %s: %s", req.Op, resp.Error)
	}
	return resp, nil
}
