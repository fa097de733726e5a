// Package xttsserver talks to an XTTS inference server over HTTP. The server
// owns the model weights and the GPU; this side only ships text and
// reference clips and receives WAV bodies back.
package xttsserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"xttsui/internal/pkg/xttsui/audio"
	"xttsui/internal/pkg/xttsui/engine"
)

const defaultServerURL = "http://127.0.0.1:8020"

// Routes served by scripts/xtts_server.py.
const (
	pathDevices          = "/v1/devices"
	pathLoad             = "/v1/models/load"
	pathUnload           = "/v1/models/unload"
	pathSynthesize       = "/v1/synthesize"
	pathSynthesizeToFile = "/v1/synthesize_to_file"
)

func init() {
	engine.Register("xtts-server", engine.Backend{
		New:         NewEngine,
		Accelerator: AcceleratorAvailable,
	})
}

type Engine struct {
	client *client
	model  string
	device string
	info   loadResponse
}

type client struct {
	baseURL    string
	httpClient *http.Client
}

type loadRequest struct {
	Model  string `json:"model"`
	Device string `json:"device"`
}

type loadResponse struct {
	Model      string   `json:"model"`
	Device     string   `json:"device"`
	Voices     []string `json:"voices"`
	Languages  []string `json:"languages"`
	SampleRate int      `json:"sample_rate"`
}

type devicesResponse struct {
	CUDA bool `json:"cuda"`
}

type synthesizeRequest struct {
	Model    string `json:"model"`
	Device   string `json:"device"`
	Text     string `json:"text"`
	Language string `json:"language"`
	Speaker  string `json:"speaker,omitempty"`
}

func newClient(cfg engine.EngineConfig) *client {
	base := cfg.ServerURL
	if base == "" {
		base = defaultServerURL
	}
	return &client{
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func AcceleratorAvailable(ctx context.Context, cfg engine.EngineConfig) (bool, error) {
	c := newClient(cfg)
	var resp devicesResponse
	if err := c.getJSON(ctx, pathDevices, &resp); err != nil {
		return false, fmt.Errorf("failed to query devices: %w", err)
	}
	return resp.CUDA, nil
}

func NewEngine(ctx context.Context, cfg engine.EngineConfig) (engine.Engine, error) {
	c := newClient(cfg)

	var info loadResponse
	if err := c.postJSON(ctx, pathLoad, loadRequest{Model: cfg.Model, Device: cfg.Device}, &info); err != nil {
		return nil, fmt.Errorf("failed to load model %q on %s: %w", cfg.Model, cfg.Device, err)
	}

	log.Debug().
		Str("server", c.baseURL).
		Str("model", cfg.Model).
		Str("device", cfg.Device).
		Int("voices", len(info.Voices)).
		Msg("Model loaded on inference server")

	return &Engine{
		client: c,
		model:  cfg.Model,
		device: cfg.Device,
		info:   info,
	}, nil
}

func (e *Engine) Synthesize(ctx context.Context, req engine.SynthesisRequest) ([]float32, error) {
	body, err := json.Marshal(synthesizeRequest{
		Model:    e.model,
		Device:   e.device,
		Text:     req.Text,
		Language: req.Language,
		Speaker:  req.Speaker,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	wav, err := e.client.do(ctx, http.MethodPost, pathSynthesize, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	out, err := audio.Decode(bytes.NewReader(wav))
	if err != nil {
		return nil, fmt.Errorf("failed to decode server audio: %w", err)
	}
	return out.Samples, nil
}

func (e *Engine) SynthesizeToFile(ctx context.Context, req engine.FileRequest) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fields := map[string]string{
		"model":           e.model,
		"device":          e.device,
		"text":            req.Text,
		"language":        req.Language,
		"split_sentences": strconv.FormatBool(req.SplitSentences),
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("failed to write form field %s: %w", k, err)
		}
	}
	for _, ref := range req.SpeakerReferences {
		if err := attachFile(mw, "speaker_wav", ref); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to finish form: %w", err)
	}

	wav, err := e.client.do(ctx, http.MethodPost, pathSynthesizeToFile, mw.FormDataContentType(), &body)
	if err != nil {
		return err
	}

	if err := os.WriteFile(req.FilePath, wav, 0o644); err != nil {
		return fmt.Errorf("failed to write synthesized audio: %w", err)
	}
	return nil
}

func (e *Engine) Voices() []string {
	if len(e.info.Voices) == 0 {
		return nil
	}
	out := make([]string, len(e.info.Voices))
	copy(out, e.info.Voices)
	return out
}

func (e *Engine) Info() engine.EngineInfo {
	return engine.EngineInfo{
		Name:       "xtts-server",
		Model:      e.model,
		Device:     e.device,
		Languages:  e.info.Languages,
		SampleRate: e.info.SampleRate,
	}
}

// Close asks the server to drop the model. The server may already have
// unloaded it, so failures are only logged.
func (e *Engine) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.client.postJSON(ctx, pathUnload, loadRequest{Model: e.model, Device: e.device}, nil); err != nil {
		log.Warn().Err(err).Str("model", e.model).Str("device", e.device).Msg("Failed to unload model")
	}
	return nil
}

func attachFile(mw *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open speaker reference: %w", err)
	}
	defer f.Close()

	part, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("failed to attach speaker reference: %w", err)
	}
	return nil
}

func (c *client) getJSON(ctx context.Context, path string, out any) error {
	data, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	data, err := c.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *client) do(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference server error (status %d): %s", resp.StatusCode, serverMessage(data))
	}
	return data, nil
}

// serverMessage prefers the "detail" or "error" field of a JSON error body.
func serverMessage(data []byte) string {
	var body struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Detail != "" {
			return body.Detail
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(data))
}
