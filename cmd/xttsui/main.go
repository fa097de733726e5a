package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"xttsui/internal/pkg/xttsui/config"
	"xttsui/internal/pkg/xttsui/engine"
	"xttsui/internal/pkg/xttsui/lang"
	"xttsui/internal/pkg/xttsui/model"
	"xttsui/internal/pkg/xttsui/server"
	"xttsui/internal/pkg/xttsui/speech"

	_ "xttsui/internal/pkg/xttsui/backends/exec"
	_ "xttsui/internal/pkg/xttsui/backends/mock"
	_ "xttsui/internal/pkg/xttsui/backends/xttsserver"
)

const shutdownTimeout = 30 * time.Second

func main() {
	fmt.Fprintf(os.Stderr, "xttsui %s\n", Version)

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.LoadAndParse(os.Args[1:])
	if err != nil {
		if errors.Is(err, config.ErrHelp) {
			return
		}
		log.Fatal().Err(err).Msg("Failed to parse configuration")
	}

	closeLog, err := setupLogging(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to setup logging")
	}
	defer closeLog()

	if cfg.ListLanguages {
		for _, opt := range lang.Options() {
			fmt.Fprintf(os.Stdout, "%-6s %s\n", opt.Code, opt.Name)
		}
		return
	}
	if cfg.ListBackends {
		for _, name := range engine.ListBackends() {
			fmt.Fprintln(os.Stdout, name)
		}
		return
	}

	log.Debug().
		Str("backend", cfg.Backend).
		Str("model", cfg.Model).
		Str("server_url", cfg.ServerURL).
		Str("temp_dir", cfg.TempDir).
		Bool("model_cache", cfg.ModelCache).
		Dur("model_idle_ttl", cfg.ModelIdleTTL).
		Int("max_concurrency", cfg.MaxConcurrency).
		Msg("Configuration loaded")

	backend, err := engine.Lookup(cfg.Backend)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Backend).Msg("Failed to find backend")
	}

	models := model.NewManager(backend, cfg.EngineConfig(), model.Options{
		Cache:   cfg.ModelCache,
		IdleTTL: cfg.ModelIdleTTL,
	})
	defer models.Close()

	svc := speech.NewService(models, speech.Options{
		TempDir:           cfg.TempDir,
		DirectAccelerated: cfg.DirectAccelerated,
	})

	srv := server.New(svc, server.Options{
		Addr:           cfg.Addr(),
		MaxConcurrency: int64(cfg.MaxConcurrency),
		MaxUploadBytes: int64(cfg.MaxUploadMB) << 20,
		TempDir:        cfg.TempDir,
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("Server failed")
			models.Close()
			os.Exit(1)
		}
		return
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Graceful shutdown failed")
	}
}

// setupLogging applies the configured level. With a log file, JSON lines go
// to the file next to the console output; the returned func closes it.
func setupLogging(cfg *config.Config) (func(), error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFile == "" {
		return func() {}, nil
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", cfg.LogFile, err)
	}
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(console, f)).With().Timestamp().Logger()
	return func() { f.Close() }, nil
}
