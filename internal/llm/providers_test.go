package llm

import (
	"context"
	"errors"
	"testing"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go/v3"
	oaoption "github.com/openai/openai-go/v3/option"
	"google.golang.org/genai"
)

type mockMessager struct {
	response *anthropic.Message
	err      error
	params   anthropic.MessageNewParams
}

func (m *mockMessager) New(_ context.Context, params anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	m.params = params
	return m.response, m.err
}

func withMockAnthropic(mock *mockMessager) func() {
	old := newAnthropicClient
	newAnthropicClient = func(_ string) AnthropicMessager { return mock }
	return func() { newAnthropicClient = old }
}

type mockCompleter struct {
	response *openai.ChatCompletion
	err      error
	params   openai.ChatCompletionNewParams
	baseURL  string
}

func (m *mockCompleter) New(_ context.Context, body openai.ChatCompletionNewParams, _ ...oaoption.RequestOption) (*openai.ChatCompletion, error) {
	m.params = body
	return m.response, m.err
}

func withMockOpenAI(mock *mockCompleter) func() {
	old := newOpenAIClient
	newOpenAIClient = func(_, baseURL string) ChatCompleter {
		mock.baseURL = baseURL
		return mock
	}
	return func() { newOpenAIClient = old }
}

type mockGenerator struct {
	response *genai.GenerateContentResponse
	err      error
	model    string
	config   *genai.GenerateContentConfig
}

func (m *mockGenerator) GenerateContent(_ context.Context, model string, _ []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.model = model
	m.config = config
	return m.response, m.err
}

func withMockGemini(mock *mockGenerator) func() {
	old := newGeminiClient
	newGeminiClient = func(context.Context, string) (ContentGenerator, error) { return mock, nil }
	return func() { newGeminiClient = old }
}

func TestAnthropicCallerJoinsTextBlocks(t *testing.T) {
	mock := &mockMessager{response: &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: `{"riscos": `},
			{Type: "thinking"},
			{Type: "text", Text: `["x"]}`},
		},
	}}
	defer withMockAnthropic(mock)()

	c, err := NewAnthropicCaller("test-key", "claude-test", 1024)
	if err != nil {
		t.Fatalf("NewAnthropicCaller: %v", err)
	}
	out, err := c.Generate(context.Background(), "sistema", "prompt")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != `{"riscos": ["x"]}` {
		t.Fatalf("unexpected output %q", out)
	}
	if string(mock.params.Model) != "claude-test" || mock.params.MaxTokens != 1024 {
		t.Fatalf("unexpected params model=%s max_tokens=%d", mock.params.Model, mock.params.MaxTokens)
	}
	if len(mock.params.System) != 1 || mock.params.System[0].Text != "sistema" {
		t.Fatalf("expected system prompt, got %+v", mock.params.System)
	}
}

func TestAnthropicCallerRequiresKey(t *testing.T) {
	if _, err := NewAnthropicCaller("", "m", 10); err == nil {
		t.Fatal("expected missing key error")
	}
}

func TestAnthropicCallerPropagatesError(t *testing.T) {
	defer withMockAnthropic(&mockMessager{err: errors.New("status code: 500")})()
	c, _ := NewAnthropicCaller("k", "m", 10)
	if _, err := c.Generate(context.Background(), "", "p"); err == nil {
		t.Fatal("expected error")
	}
}

func TestOpenAICallerReturnsFirstChoice(t *testing.T) {
	mock := &mockCompleter{response: &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: `{"parecer_resumido": "ok"}`}},
		},
	}}
	defer withMockOpenAI(mock)()

	c, err := NewOpenAICaller(ProviderOpenAI, "k", "", "gpt-test", 512)
	if err != nil {
		t.Fatalf("NewOpenAICaller: %v", err)
	}
	out, err := c.Generate(context.Background(), "sys", "prompt")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != `{"parecer_resumido": "ok"}` {
		t.Fatalf("unexpected output %q", out)
	}
	if mock.params.Model != "gpt-test" || len(mock.params.Messages) != 2 {
		t.Fatalf("unexpected params model=%s messages=%d", mock.params.Model, len(mock.params.Messages))
	}
}

func TestOpenAICallerNoChoices(t *testing.T) {
	defer withMockOpenAI(&mockCompleter{response: &openai.ChatCompletion{}})()
	c, _ := NewOpenAICaller(ProviderOpenAI, "k", "", "m", 10)
	if _, err := c.Generate(context.Background(), "", "p"); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestOpenAICompatibleBaseURLs(t *testing.T) {
	mock := &mockCompleter{}
	defer withMockOpenAI(mock)()

	if _, err := NewOpenAICaller(ProviderGroq, "gk", "", "m", 10); err != nil {
		t.Fatalf("groq: %v", err)
	}
	if mock.baseURL != groqBaseURL {
		t.Fatalf("groq base url = %q", mock.baseURL)
	}
	if _, err := NewOpenAICaller(ProviderOllama, "", "", "m", 10); err != nil {
		t.Fatalf("ollama without key: %v", err)
	}
	if mock.baseURL != ollamaBaseURL {
		t.Fatalf("ollama base url = %q", mock.baseURL)
	}
	if _, err := NewOpenAICaller(ProviderOpenAI, "", "", "m", 10); err == nil {
		t.Fatal("expected openai to require a key")
	}
}

func TestGeminiCaller(t *testing.T) {
	mock := &mockGenerator{response: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(`{"topicos_principais": ["a"]}`, genai.RoleModel)}},
	}}
	defer withMockGemini(mock)()

	c, err := NewGeminiCaller(context.Background(), "k", "gemini-test", 256)
	if err != nil {
		t.Fatalf("NewGeminiCaller: %v", err)
	}
	out, err := c.Generate(context.Background(), "sys", "prompt")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != `{"topicos_principais": ["a"]}` {
		t.Fatalf("unexpected output %q", out)
	}
	if mock.model != "gemini-test" || mock.config.MaxOutputTokens != 256 || mock.config.SystemInstruction == nil {
		t.Fatalf("unexpected request model=%s config=%+v", mock.model, mock.config)
	}
}

func TestNewCallerWrapsProviderInRetries(t *testing.T) {
	defer withMockOpenAI(&mockCompleter{})()
	c, err := NewCaller(context.Background(), Config{Provider: "groq", APIKey: "k"})
	if err != nil {
		t.Fatalf("NewCaller: %v", err)
	}
	if _, ok := c.(*RetryingCaller); !ok {
		t.Fatalf("expected *RetryingCaller, got %T", c)
	}
	if c.ModelName() != DefaultModel(ProviderGroq) {
		t.Fatalf("unexpected model %s", c.ModelName())
	}
}
