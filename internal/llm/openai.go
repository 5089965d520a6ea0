package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	oaoption "github.com/openai/openai-go/v3/option"
)

const (
	groqBaseURL   = "https://api.groq.com/openai/v1"
	ollamaBaseURL = "http://localhost:11434/v1"
)

// ChatCompleter is the slice of the OpenAI chat API used here. Groq and
// Ollama expose the same API under their own base URLs.
type ChatCompleter interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...oaoption.RequestOption) (*openai.ChatCompletion, error)
}

type OpenAIClientCreator func(apiKey, baseURL string) ChatCompleter

func defaultOpenAICreator(apiKey, baseURL string) ChatCompleter {
	opts := []oaoption.RequestOption{oaoption.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, oaoption.WithBaseURL(baseURL))
	}
	c := openai.NewClient(opts...)
	return &c.Chat.Completions
}

var newOpenAIClient OpenAIClientCreator = defaultOpenAICreator

type OpenAICaller struct {
	completions ChatCompleter
	provider    string
	model       string
	maxTokens   int
}

func NewOpenAICaller(provider, apiKey, baseURL, model string, maxTokens int) (*OpenAICaller, error) {
	baseURL = strings.TrimSpace(baseURL)
	switch provider {
	case ProviderGroq:
		if baseURL == "" {
			baseURL = groqBaseURL
		}
	case ProviderOllama:
		if baseURL == "" {
			baseURL = ollamaBaseURL
		}
		if apiKey == "" {
			// Ollama ignores the key but the client requires one.
			apiKey = "ollama"
		}
	}
	if apiKey == "" {
		return nil, errors.New(strings.ToUpper(provider) + "_API_KEY not configured")
	}
	return &OpenAICaller{
		completions: newOpenAIClient(apiKey, baseURL),
		provider:    provider,
		model:       model,
		maxTokens:   maxTokens,
	}, nil
}

func (o *OpenAICaller) ModelName() string { return o.model }

func (o *OpenAICaller) Generate(ctx context.Context, system, prompt string) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(prompt))
	resp, err := o.completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       o.model,
		Messages:    messages,
		Temperature: openai.Float(0),
		MaxTokens:   openai.Int(int64(o.maxTokens)),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s returned no choices", o.provider)
	}
	return resp.Choices[0].Message.Content, nil
}
