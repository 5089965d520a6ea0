package llm

import (
	"context"
	"errors"

	"google.golang.org/genai"
)

type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiClientCreator func(ctx context.Context, apiKey string) (ContentGenerator, error)

func defaultGeminiCreator(ctx context.Context, apiKey string) (ContentGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return client.Models, nil
}

var newGeminiClient GeminiClientCreator = defaultGeminiCreator

type GeminiCaller struct {
	models    ContentGenerator
	model     string
	maxTokens int
}

func NewGeminiCaller(ctx context.Context, apiKey, model string, maxTokens int) (*GeminiCaller, error) {
	if apiKey == "" {
		return nil, errors.New("GOOGLE_API_KEY not configured")
	}
	models, err := newGeminiClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return &GeminiCaller{models: models, model: model, maxTokens: maxTokens}, nil
}

func (g *GeminiCaller) ModelName() string { return g.model }

func (g *GeminiCaller) Generate(ctx context.Context, system, prompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0),
		MaxOutputTokens: int32(g.maxTokens),
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
