// Package config loads runtime settings from an optional YAML file and
// CONTRACT_REVIEW_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joelkehle/contract-review/internal/contractreview"
	"github.com/joelkehle/contract-review/internal/llm"
)

const EnvPrefix = "CONTRACT_REVIEW_"

type PipelineConfig struct {
	MaxChunkSize      int           `yaml:"max_chunk_size"`
	Concurrency       int           `yaml:"concurrency"`
	ExtractionTimeout time.Duration `yaml:"extraction_timeout"`
	SynthesisTimeout  time.Duration `yaml:"synthesis_timeout"`
}

type LLMConfig struct {
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	BaseURL     string `yaml:"base_url"`
	MaxTokens   int    `yaml:"max_tokens"`
	MaxAttempts int    `yaml:"max_attempts"`
}

type ServerConfig struct {
	Addr       string `yaml:"addr"`
	SQLitePath string `yaml:"sqlite_path"`
	Workers    int    `yaml:"workers"`
	QueueSize  int    `yaml:"queue_size"`
	// MaxUploadBytes caps POST /analyze bodies.
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	ChromePath     string `yaml:"chrome_path"`
	ReportCSS      string `yaml:"report_css"`
}

type LogConfig struct {
	Mode  string `yaml:"mode"`
	Level string `yaml:"level"`
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
	ServiceName string  `yaml:"service_name"`
}

type Config struct {
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	LLM       LLMConfig       `yaml:"llm"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

func Default() Config {
	return Config{
		Pipeline: PipelineConfig{
			MaxChunkSize:      contractreview.DefaultMaxChunkSize,
			Concurrency:       1,
			ExtractionTimeout: 2 * time.Minute,
			SynthesisTimeout:  5 * time.Minute,
		},
		LLM: LLMConfig{
			Provider:    llm.ProviderAnthropic,
			MaxTokens:   4096,
			MaxAttempts: 3,
		},
		Server: ServerConfig{
			Addr:           ":8090",
			SQLitePath:     "contract-review.db",
			Workers:        2,
			QueueSize:      32,
			MaxUploadBytes: 10 << 20,
		},
		Log: LogConfig{Mode: "development", Level: "info"},
		Telemetry: TelemetryConfig{
			SampleRatio: 0.1,
			ServiceName: "contract-review",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty or missing path means defaults only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path = strings.TrimSpace(path); path != "" {
		blob, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(blob, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = llm.DefaultModel(cfg.LLM.Provider)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(EnvPrefix + key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	var errs []error
	setInt := func(key string, dst *int) {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	setString := func(key string, dst *string) {
		if v, ok := get(key); ok {
			*dst = v
		}
	}

	setInt("MAX_CHUNK_SIZE", &c.Pipeline.MaxChunkSize)
	setInt("CONCURRENCY", &c.Pipeline.Concurrency)
	setString("LLM_PROVIDER", &c.LLM.Provider)
	setString("LLM_MODEL", &c.LLM.Model)
	setString("LLM_BASE_URL", &c.LLM.BaseURL)
	setString("ADDR", &c.Server.Addr)
	setString("LOG_MODE", &c.Log.Mode)
	setString("LOG_LEVEL", &c.Log.Level)
	// An explicitly empty path selects the in-memory store.
	if v, ok := lookup(EnvPrefix + "SQLITE_PATH"); ok {
		c.Server.SQLitePath = strings.TrimSpace(v)
	}
	if v, ok := get("TELEMETRY_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sTELEMETRY_ENABLED: %w", EnvPrefix, err))
		} else {
			c.Telemetry.Enabled = b
		}
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_ENDPOINT"); ok && c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = strings.TrimSpace(v)
	}
	return errors.Join(errs...)
}

func (c Config) Validate() error {
	var errs []error
	if c.Pipeline.MaxChunkSize < contractreview.MinMaxChunkSize {
		errs = append(errs, fmt.Errorf("pipeline.max_chunk_size must be >= %d, got %d", contractreview.MinMaxChunkSize, c.Pipeline.MaxChunkSize))
	}
	if c.Pipeline.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("pipeline.concurrency must be >= 1, got %d", c.Pipeline.Concurrency))
	}
	if c.Pipeline.ExtractionTimeout <= 0 || c.Pipeline.SynthesisTimeout <= 0 {
		errs = append(errs, errors.New("pipeline timeouts must be positive"))
	}
	if !slices.Contains(llm.Providers(), c.LLM.Provider) {
		errs = append(errs, fmt.Errorf("llm.provider %q is not one of %s", c.LLM.Provider, strings.Join(llm.Providers(), ", ")))
	}
	if c.LLM.MaxTokens <= 0 || c.LLM.MaxAttempts <= 0 {
		errs = append(errs, errors.New("llm.max_tokens and llm.max_attempts must be positive"))
	}
	if c.Server.Workers < 1 || c.Server.QueueSize < 1 {
		errs = append(errs, errors.New("server.workers and server.queue_size must be >= 1"))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("server.max_upload_bytes must be positive"))
	}
	if r := c.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio must be within [0,1], got %v", r))
	}
	return errors.Join(errs...)
}

// ContractReview converts the settings into the pipeline config.
func (c Config) ContractReview() contractreview.Config {
	return contractreview.Config{
		MaxChunkSize:          c.Pipeline.MaxChunkSize,
		ExtractionConcurrency: c.Pipeline.Concurrency,
		ExtractionTimeout:     c.Pipeline.ExtractionTimeout,
		SynthesisTimeout:      c.Pipeline.SynthesisTimeout,
		ModelName:             c.LLM.Model,
	}
}

// Caller converts the settings into an llm.Config. The API key comes from
// the provider's environment variable only.
func (c Config) Caller() llm.Config {
	return llm.Config{
		Provider:    c.LLM.Provider,
		Model:       c.LLM.Model,
		BaseURL:     c.LLM.BaseURL,
		APIKey:      llm.APIKeyFromEnv(c.LLM.Provider),
		MaxTokens:   c.LLM.MaxTokens,
		MaxAttempts: c.LLM.MaxAttempts,
	}
}
