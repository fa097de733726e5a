package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"xttsui/internal/pkg/xttsui/audio"
	"xttsui/internal/pkg/xttsui/speech"
)

// Synthesizer is the handler pair the UI drives.
type Synthesizer interface {
	Generate(ctx context.Context, text, language string) (*audio.Audio, error)
	GenerateCloned(ctx context.Context, req speech.ClonedRequest) (*audio.Audio, error)
}

type Options struct {
	Addr string

	// MaxConcurrency bounds how many synthesis requests run at once.
	MaxConcurrency int64
	MaxUploadBytes int64
	TempDir        string

	// RateLimit caps synthesis requests per second across all clients.
	// Zero disables the limit.
	RateLimit float64
	RateBurst int
}

type Server struct {
	svc     Synthesizer
	opts    Options
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	http    *http.Server
}

func New(svc Synthesizer, opts Options) *Server {
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	if opts.RateBurst < 1 {
		opts.RateBurst = 1
	}
	s := &Server{
		svc:  svc,
		opts: opts,
		sem:  semaphore.NewWeighted(opts.MaxConcurrency),
	}
	if opts.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst)
	}
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/languages", s.handleLanguages)
	mux.Handle("POST /api/generate", s.throttle(http.HandlerFunc(s.handleGenerate)))
	mux.Handle("POST /api/clone", s.throttle(http.HandlerFunc(s.handleClone)))

	var h http.Handler = mux
	h = recoverer(h)
	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).WithLevel(accessLevel(status)).
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request")
	})(h)
	h = hlog.RequestIDHandler("req_id", "X-Request-Id")(h)
	h = hlog.NewHandler(log.Logger)(h)
	return h
}

func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.opts.Addr).Msg("Listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// recoverer turns a handler panic into a 500 JSON response.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				hlog.FromRequest(r).Error().Interface("panic", v).Msg("Handler panicked")
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) throttle(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func accessLevel(status int) zerolog.Level {
	if status >= http.StatusInternalServerError {
		return zerolog.WarnLevel
	}
	return zerolog.InfoLevel
}
