package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/hlog"

	"xttsui/internal/pkg/xttsui/audio"
	"xttsui/internal/pkg/xttsui/lang"
	"xttsui/internal/pkg/xttsui/speech"
)

const multipartMemory = 8 << 20

type errorBody struct {
	Error string `json:"error"`
}

type generateRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type recordingPayload struct {
	SampleRate int       `json:"sample_rate"`
	Samples    []float32 `json:"samples"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "ok")
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, lang.Options())
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, requestError(err))
		return
	}
	if req.Language == "" {
		req.Language = lang.Default
	}

	if err := s.sem.Acquire(r.Context(), 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	result, err := s.svc.Generate(r.Context(), req.Text, req.Language)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeAudio(w, r, result)
}

func (s *Server) handleClone(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.writeError(w, r, requestError(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	req := speech.ClonedRequest{
		Text:     r.FormValue("text"),
		Language: r.FormValue("language"),
		Speed:    1.0,
	}
	if req.Language == "" {
		req.Language = lang.Default
	}
	if v := r.FormValue("speed"); v != "" {
		speed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.writeError(w, r, &speech.ValidationError{Reason: fmt.Sprintf("invalid speed %q", v)})
			return
		}
		req.Speed = speed
	}
	req.UseAccelerated = formBool(r.FormValue("use_gpu"))

	ref, cleanup, err := s.reference(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer cleanup()
	req.Reference = ref

	if err := s.sem.Acquire(r.Context(), 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	result, err := s.svc.GenerateCloned(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeAudio(w, r, result)
}

// reference pulls the voice to clone out of the form. An uploaded file is
// kept on disk only for the lifetime of the request.
func (s *Server) reference(r *http.Request) (speech.SpeakerReference, func(), error) {
	noop := func() {}

	file, header, err := r.FormFile("reference")
	switch {
	case err == nil:
		defer file.Close()
		path, err := s.saveUpload(file, header)
		if err != nil {
			return speech.SpeakerReference{}, noop, err
		}
		cleanup := func() { os.Remove(path) }
		if _, err := audio.LoadWAV(path); err != nil {
			cleanup()
			return speech.SpeakerReference{}, noop, &speech.ValidationError{Reason: "reference must be a WAV file"}
		}
		return speech.FromPath(path), cleanup, nil
	case !errors.Is(err, http.ErrMissingFile):
		return speech.SpeakerReference{}, noop, requestError(err)
	}

	if raw := r.FormValue("recording"); raw != "" {
		var rec recordingPayload
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return speech.SpeakerReference{}, noop, &speech.ValidationError{Reason: "recording is not valid JSON"}
		}
		return speech.FromRecording(rec.SampleRate, rec.Samples), noop, nil
	}

	return speech.SpeakerReference{}, noop, nil
}

func (s *Server) saveUpload(file multipart.File, header *multipart.FileHeader) (string, error) {
	dir := s.opts.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "xttsui-upload-"+uuid.NewString()+".wav")

	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to store upload: %w", err)
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to store upload %s: %w", header.Filename, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to store upload: %w", err)
	}
	return path, nil
}

// writeAudio sends the result as WAV labeled with the result's sample rate.
func (s *Server) writeAudio(w http.ResponseWriter, r *http.Request, result *audio.Audio) {
	f, err := os.CreateTemp(s.opts.TempDir, "xttsui-resp-*.wav")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if err := result.Encode(f); err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("X-Sample-Rate", strconv.Itoa(result.SampleRate))
	http.ServeContent(w, r, "speech.wav", time.Time{}, f)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	logger := hlog.FromRequest(r)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Msg("Request failed")
	} else {
		logger.Debug().Err(err).Msg("Request rejected")
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	var verr *speech.ValidationError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &verr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// requestError marks malformed bodies as client errors while keeping the
// size-limit error intact for statusFor.
func requestError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	return &speech.ValidationError{Reason: "malformed request: " + err.Error()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func formBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}
