package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGroq      = "groq"
	ProviderOllama    = "ollama"
	ProviderGemini    = "gemini"
)

const (
	defaultMaxTokens   = 4096
	defaultMaxAttempts = 3
)

var statusCodeRe = regexp.MustCompile(`(?:status(?:\s+code)?[:=\s]+|": )(\d{3})\b`)

type failureClass int

const (
	failureNone failureClass = iota
	failureTimeout
	failureRateLimit
	failureServer
	failureClient
	failureCancelled
)

// Caller is a text generation backend. Implementations return the model's
// raw text; they do not interpret it.
type Caller interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
	ModelName() string
}

type Config struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKey      string
	MaxTokens   int
	MaxAttempts int
}

// Providers lists the supported provider names.
func Providers() []string {
	return []string{ProviderAnthropic, ProviderOpenAI, ProviderGroq, ProviderOllama, ProviderGemini}
}

func DefaultModel(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderGroq:
		return "llama-3.3-70b-versatile"
	case ProviderOllama:
		return "llama3.1"
	case ProviderGemini:
		return "gemini-2.0-flash"
	default:
		return "claude-sonnet-4-20250514"
	}
}

// APIKeyFromEnv reads the conventional key variable for a provider.
func APIKeyFromEnv(provider string) string {
	var names []string
	switch provider {
	case ProviderAnthropic:
		names = []string{"ANTHROPIC_API_KEY"}
	case ProviderOpenAI:
		names = []string{"OPENAI_API_KEY"}
	case ProviderGroq:
		names = []string{"GROQ_API_KEY"}
	case ProviderGemini:
		names = []string{"GOOGLE_API_KEY", "GEMINI_API_KEY"}
	}
	for _, n := range names {
		if v := strings.TrimSpace(os.Getenv(n)); v != "" {
			return v
		}
	}
	return ""
}

// NewCaller builds the configured provider wrapped in retries.
func NewCaller(ctx context.Context, cfg Config) (Caller, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderAnthropic
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel(provider)
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = APIKeyFromEnv(provider)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	var (
		base Caller
		err  error
	)
	switch provider {
	case ProviderAnthropic:
		base, err = NewAnthropicCaller(apiKey, model, maxTokens)
	case ProviderOpenAI, ProviderGroq, ProviderOllama:
		base, err = NewOpenAICaller(provider, apiKey, cfg.BaseURL, model, maxTokens)
	case ProviderGemini:
		base, err = NewGeminiCaller(ctx, apiKey, model, maxTokens)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewRetryingCaller(base, cfg.MaxAttempts), nil
}

// RetryingCaller retries transient transport failures with backoff.
type RetryingCaller struct {
	inner       Caller
	maxAttempts int
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRetryingCaller(inner Caller, maxAttempts int) *RetryingCaller {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &RetryingCaller{inner: inner, maxAttempts: maxAttempts, sleep: sleepContext}
}

func (r *RetryingCaller) ModelName() string { return r.inner.ModelName() }

func (r *RetryingCaller) Generate(ctx context.Context, system, prompt string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		out, err := r.inner.Generate(ctx, system, prompt)
		if err == nil {
			return out, nil
		}
		lastErr = err
		class := classifyTransportError(ctx, err)
		if !retryable(class) || attempt == r.maxAttempts {
			break
		}
		delay := backoffDelay(attempt)
		zap.L().Warn("llm call failed, retrying",
			zap.String("model", r.inner.ModelName()),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := r.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("%s: %w", r.inner.ModelName(), lastErr)
}

func retryable(class failureClass) bool {
	return class == failureTimeout || class == failureRateLimit || class == failureServer
}

// classifyTransportError buckets an SDK error. A cancelled or expired parent
// context is never retried.
func classifyTransportError(ctx context.Context, err error) failureClass {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return failureCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return failureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failureTimeout
	}
	msg := strings.ToLower(err.Error())
	if m := statusCodeRe.FindStringSubmatch(msg); len(m) == 2 {
		switch {
		case m[1] == "429":
			return failureRateLimit
		case m[1] == "408":
			return failureTimeout
		case strings.HasPrefix(m[1], "5"):
			return failureServer
		case strings.HasPrefix(m[1], "4"):
			return failureClient
		}
	}
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "resource exhausted"):
		return failureRateLimit
	case strings.Contains(msg, "server error"), strings.Contains(msg, "overloaded"), strings.Contains(msg, "unavailable"):
		return failureServer
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "invalid api key"), strings.Contains(msg, "permission"):
		return failureClient
	default:
		return failureServer
	}
}

func backoffDelay(attempt int) time.Duration {
	switch attempt {
	case 1:
		return 1 * time.Second
	case 2:
		return 2 * time.Second
	default:
		return 4 * time.Second
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
