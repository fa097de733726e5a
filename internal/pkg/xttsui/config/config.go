package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"xttsui/internal/pkg/xttsui/engine"
)

// ErrHelp is returned when -h was given; usage has already been printed.
var ErrHelp = pflag.ErrHelp

type Config struct {
	Backend           string        `mapstructure:"backend"`
	Model             string        `mapstructure:"model"`
	ServerURL         string        `mapstructure:"server_url"`
	Command           string        `mapstructure:"command"`
	HTTPTimeout       time.Duration `mapstructure:"http_timeout"`
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	TempDir           string        `mapstructure:"temp_dir"`
	ModelCache        bool          `mapstructure:"model_cache"`
	ModelIdleTTL      time.Duration `mapstructure:"model_idle_ttl"`
	DirectAccelerated bool          `mapstructure:"direct_accelerated"`
	MaxConcurrency    int           `mapstructure:"max_concurrency"`
	MaxUploadMB       int           `mapstructure:"max_upload_mb"`
	RateLimit         float64       `mapstructure:"rate_limit"`
	RateBurst         int           `mapstructure:"rate_burst"`
	LogLevel          string        `mapstructure:"log_level"`
	LogFile           string        `mapstructure:"log_file"`
	ListLanguages     bool          `mapstructure:"list_languages"`
	ListBackends      bool          `mapstructure:"list_backends"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) EngineConfig() engine.EngineConfig {
	return engine.EngineConfig{
		Model:     c.Model,
		ServerURL: c.ServerURL,
		Command:   c.Command,
		Timeout:   c.HTTPTimeout,
		Backend:   c.Backend,
	}
}

var bindings = map[string]string{
	"backend":            "backend",
	"model":              "model",
	"server_url":         "server-url",
	"command":            "command",
	"http_timeout":       "http-timeout",
	"host":               "host",
	"port":               "port",
	"temp_dir":           "temp-dir",
	"model_cache":        "model-cache",
	"model_idle_ttl":     "model-idle-ttl",
	"direct_accelerated": "direct-gpu",
	"max_concurrency":    "max-concurrency",
	"max_upload_mb":      "max-upload-mb",
	"rate_limit":         "rate-limit",
	"rate_burst":         "rate-burst",
	"log_level":          "log-level",
	"log_file":           "log-file",
	"list_languages":     "list-languages",
	"list_backends":      "list-backends",
}

func LoadAndParse(args []string) (*Config, error) {
	v := viper.New()
	v.SetDefault("backend", "xtts-server")
	v.SetDefault("model", engine.DefaultModel)
	v.SetDefault("server_url", "http://127.0.0.1:8020")
	v.SetDefault("command", "python3 scripts/xtts_worker.py")
	v.SetDefault("http_timeout", 5*time.Minute)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 7860)
	v.SetDefault("temp_dir", "")
	v.SetDefault("model_cache", true)
	v.SetDefault("model_idle_ttl", time.Duration(0))
	v.SetDefault("direct_accelerated", false)
	v.SetDefault("max_concurrency", 1)
	v.SetDefault("max_upload_mb", 32)
	v.SetDefault("rate_limit", 0.0)
	v.SetDefault("rate_burst", 4)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")

	flagSet := pflag.NewFlagSet("xttsui", pflag.ContinueOnError)
	configFile := flagSet.StringP("config", "c", "", "Path to config file")
	flagSet.StringP("backend", "b", "xtts-server", "Speech model backend (xtts-server, exec, mock)")
	flagSet.StringP("model", "m", engine.DefaultModel, "Model identifier passed to the backend")
	flagSet.String("server-url", "http://127.0.0.1:8020", "Base URL of the XTTS inference server")
	flagSet.String("command", "python3 scripts/xtts_worker.py", "Worker command for the exec backend")
	flagSet.Duration("http-timeout", 5*time.Minute, "Timeout for a single inference server call (0 disables)")
	flagSet.String("host", "0.0.0.0", "Address to listen on")
	flagSet.IntP("port", "p", 7860, "Port to listen on")
	flagSet.String("temp-dir", "", "Directory for per-request temporary audio files")
	flagSet.Bool("model-cache", true, "Keep loaded models between requests")
	flagSet.Duration("model-idle-ttl", 0, "Unload cached models after this much idle time (0 keeps them)")
	flagSet.Bool("direct-gpu", false, "Prefer the accelerated device for plain text-to-speech")
	flagSet.Int("max-concurrency", 1, "Requests synthesized at the same time")
	flagSet.Int("max-upload-mb", 32, "Maximum size of an uploaded reference clip")
	flagSet.Float64("rate-limit", 0, "Synthesis requests per second across all clients (0 disables)")
	flagSet.Int("rate-burst", 4, "Requests allowed above the rate limit in a burst")
	flagSet.StringP("log-level", "l", "info", "Log level (debug, info, warn, error)")
	flagSet.String("log-file", "", "Log file path")
	flagSet.Bool("list-languages", false, "List supported languages and exit")
	flagSet.Bool("list-backends", false, "List registered backends and exit")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: xttsui [options]\n\nOptions:\n")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, ErrHelp
		}
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	for key, flag := range bindings {
		if err := v.BindPFlag(key, flagSet.Lookup(flag)); err != nil {
			return nil, err
		}
	}

	if *configFile != "" {
		v.SetConfigFile(*configFile)
	} else {
		v.SetConfigName("xttsui.cfg")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "xttsui"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix("XTTSUI")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Backend == "" {
		return fmt.Errorf("backend is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be at least 1")
	}
	if c.MaxUploadMB < 1 {
		return fmt.Errorf("max_upload_mb must be at least 1")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	if c.ModelIdleTTL < 0 {
		return fmt.Errorf("model_idle_ttl must not be negative")
	}
	return nil
}
