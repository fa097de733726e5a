// Package speech turns UI requests into model calls: plain text-to-speech
// and voice cloning from a reference clip.
package speech

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"xttsui/internal/pkg/xttsui/audio"
	"xttsui/internal/pkg/xttsui/engine"
	"xttsui/internal/pkg/xttsui/lang"
	"xttsui/internal/pkg/xttsui/model"
	"xttsui/internal/pkg/xttsui/preprocess"
)

// MinReferenceSeconds is the shortest recording accepted as a voice to clone.
const MinReferenceSeconds = 2.0

var errNoAudio = errors.New("model returned no audio")

type ModelSource interface {
	Get(ctx context.Context, accelerated bool) (*model.Handle, error)
}

type Options struct {
	// TempDir receives per-request reference and output files.
	TempDir string
	// DirectAccelerated lets plain text-to-speech ask for the accelerated device.
	DirectAccelerated bool
}

type Service struct {
	models       ModelSource
	preprocessor *preprocess.Preprocessor
	opts         Options
}

func NewService(models ModelSource, opts Options) *Service {
	return &Service{
		models:       models,
		preprocessor: preprocess.NewPreprocessor(),
		opts:         opts,
	}
}

type ClonedRequest struct {
	Text           string
	Language       string
	Speed          float64
	Reference      SpeakerReference
	UseAccelerated bool
}

// Generate speaks text with the model's first built-in voice, if it has any.
// The result is always labeled 22050 Hz.
func (s *Service) Generate(ctx context.Context, text, language string) (*audio.Audio, error) {
	text, language, err := s.checkInput(text, language)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	h, err := s.models.Get(ctx, s.opts.DirectAccelerated)
	if err != nil {
		return nil, &SynthesisError{Err: err}
	}
	defer h.Release()

	req := engine.SynthesisRequest{Text: text, Language: language}
	if voices := h.Voices(); len(voices) > 0 {
		req.Speaker = voices[0]
	}

	samples, err := h.Synthesize(ctx, req)
	if err != nil {
		return nil, &SynthesisError{Err: err}
	}
	if len(samples) == 0 {
		return nil, &SynthesisError{Err: errNoAudio}
	}

	result := audio.NewAudio(samples)
	log.Info().
		Str("language", language).
		Str("speaker", req.Speaker).
		Dur("elapsed", time.Since(start)).
		Float64("duration_sec", result.Duration()).
		Msg("Speech generated")

	return result, nil
}

// GenerateCloned speaks text in the voice of req.Reference. Speed is applied
// by relabeling the output sample rate, which shifts pitch together with
// tempo; the samples themselves are returned untouched.
func (s *Service) GenerateCloned(ctx context.Context, req ClonedRequest) (*audio.Audio, error) {
	text, language, err := s.checkInput(req.Text, req.Language)
	if err != nil {
		return nil, err
	}
	if !(req.Speed > 0) || math.IsInf(req.Speed, 0) {
		return nil, invalid("speed must be a positive number")
	}
	if req.Reference.Kind != PathReference && req.Reference.Kind != RecordedReference {
		return nil, invalid("a reference voice is required")
	}

	start := time.Now()

	files := newScratch(s.opts.TempDir)
	defer files.cleanup()

	out, err := s.clone(ctx, files, text, language, req)
	if err != nil {
		return nil, &CloneError{Err: err}
	}

	scaled := math.Round(float64(out.SampleRate) * req.Speed)
	if scaled < 1 || scaled > math.MaxUint32 {
		return nil, &CloneError{Err: invalid("speed %g gives unusable sample rate for %d Hz output", req.Speed, out.SampleRate)}
	}
	rate := int(scaled)
	result := audio.NewAudioWithSampleRate(out.Samples, rate)

	log.Info().
		Str("language", language).
		Stringer("reference", req.Reference.Kind).
		Float64("speed", req.Speed).
		Int("native_rate", out.SampleRate).
		Int("sample_rate", rate).
		Dur("elapsed", time.Since(start)).
		Msg("Cloned speech generated")

	return result, nil
}

func (s *Service) clone(ctx context.Context, files *scratch, text, language string, req ClonedRequest) (*audio.Audio, error) {
	var refPath string
	switch req.Reference.Kind {
	case RecordedReference:
		ref := req.Reference
		if ref.SampleRate <= 0 {
			return nil, invalid("recorded reference has invalid sample rate %d", ref.SampleRate)
		}
		if d := ref.Duration(); d < MinReferenceSeconds {
			return nil, invalid("reference too short: %.2fs recorded, at least %.0fs needed", d, MinReferenceSeconds)
		}
		refPath = files.path("ref")
		if err := audio.NewAudioWithSampleRate(ref.Samples, ref.SampleRate).SaveWAV(refPath); err != nil {
			return nil, err
		}
	case PathReference:
		if req.Reference.Path == "" {
			return nil, invalid("reference path is empty")
		}
		refPath = req.Reference.Path
	}

	h, err := s.models.Get(ctx, req.UseAccelerated)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	outPath := files.path("out")
	err = h.SynthesizeToFile(ctx, engine.FileRequest{
		Text:              text,
		FilePath:          outPath,
		SpeakerReferences: []string{refPath},
		Language:          language,
		SplitSentences:    true,
	})
	if err != nil {
		return nil, err
	}

	out, err := audio.LoadWAV(outPath)
	if err != nil {
		return nil, err
	}
	if len(out.Samples) == 0 {
		return nil, errNoAudio
	}
	return out, nil
}

// checkInput rejects blank text and unsupported languages; whitespace-only
// text never reaches the model.
func (s *Service) checkInput(text, language string) (string, string, error) {
	cleaned := s.preprocessor.Process(text)
	if cleaned == "" {
		return "", "", invalid("text must not be empty")
	}
	code := lang.Normalize(language)
	if !lang.IsSupported(code) {
		return "", "", invalid("unsupported language %q", language)
	}
	return cleaned, code, nil
}
