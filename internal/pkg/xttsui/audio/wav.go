package audio

import (
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	// SampleRate is the rate the direct synthesis path reports for its output.
	SampleRate    = 22050
	NumChannels   = 1
	BitsPerSample = 16
)

type Audio struct {
	Samples    []float32
	SampleRate int
}

func NewAudio(samples []float32) *Audio {
	return &Audio{
		Samples:    samples,
		SampleRate: SampleRate,
	}
}

func NewAudioWithSampleRate(samples []float32, sampleRate int) *Audio {
	return &Audio{
		Samples:    samples,
		SampleRate: sampleRate,
	}
}

func (a *Audio) Duration() float64 {
	if a.SampleRate <= 0 {
		return 0
	}
	return float64(len(a.Samples)) / float64(a.SampleRate)
}

func (a *Audio) SaveWAV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := a.Encode(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Encode writes the samples as 16-bit mono PCM WAV.
func (a *Audio) Encode(w io.WriteSeeker) error {
	if a.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", a.SampleRate)
	}

	data := make([]int, len(a.Samples))
	for i, sample := range a.Samples {
		clamped := sample
		if clamped > 1.0 {
			clamped = 1.0
		} else if clamped < -1.0 {
			clamped = -1.0
		}
		data[i] = int(clamped * math.MaxInt16)
	}

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: NumChannels, SampleRate: a.SampleRate},
		Data:           data,
		SourceBitDepth: BitsPerSample,
	}

	enc := wav.NewEncoder(w, a.SampleRate, BitsPerSample, NumChannels, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("failed to write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to close wav encoder: %w", err)
	}
	return nil
}

// LoadWAV reads a PCM WAV file, folding multi-channel audio down to mono.
func LoadWAV(path string) (*Audio, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	return Decode(f)
}

func Decode(r io.ReadSeeker) (*Audio, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("not a valid wav file")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode wav: %w", err)
	}

	channels := int(dec.NumChans)
	if channels < 1 {
		channels = 1
	}
	bitDepth := int(dec.BitDepth)
	if bitDepth <= 0 {
		bitDepth = BitsPerSample
	}
	scale := float32(int64(1) << (bitDepth - 1))
	// 8-bit PCM is unsigned with silence at 128.
	offset := 0
	if bitDepth == 8 {
		offset = 128
	}

	frames := len(buf.Data) / channels
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum int
		for c := 0; c < channels; c++ {
			sum += buf.Data[i*channels+c] - offset
		}
		samples[i] = float32(sum) / float32(channels) / scale
	}

	return NewAudioWithSampleRate(samples, int(dec.SampleRate)), nil
}
