package contractreview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeExtractor struct {
	mu       sync.Mutex
	respond  func(ctx context.Context, chunk string) (string, error)
	calls    []string
	contexts []string
}

func (f *fakeExtractor) Extract(ctx context.Context, chunkText, userContext string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, chunkText)
	f.contexts = append(f.contexts, userContext)
	f.mu.Unlock()
	return f.respond(ctx, chunkText)
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSynthesizer struct {
	out        SynthesisOutput
	err        error
	wait       bool
	calls      int
	aggregated string
	user       string
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, aggregatedContext, userContext string) (SynthesisOutput, error) {
	f.calls++
	f.aggregated = aggregatedContext
	f.user = userContext
	if f.wait {
		<-ctx.Done()
		return SynthesisOutput{}, ctx.Err()
	}
	return f.out, f.err
}

func chunkResponse(chunk string) string {
	return fmt.Sprintf(`Aqui está: {"topicos_principais": ["t-%s"], "clausulas": [{"numero": "1", "titulo": "DO OBJETO", "texto": %q}]}`, chunk, chunk)
}

func okSynthesizer() *fakeSynthesizer {
	return &fakeSynthesizer{out: SynthesisOutput{
		RawAnalysis:   `{"riscos": ["multa elevada"], "avisos": [{"aviso": "foro", "detalhe": "sem ocorrencias"}]}`,
		RawDraft:      "```json\n{\"parecer_resumido\": \"Assinar com ressalvas\", \"parecer_detalhado\": \"...\", \"contra_proposta\": {\"clausula_multa\": \"2%\"}}\n```",
		RawExtraction: `{"topicos_principais": ["ignorado"]}`,
	}}
}

func testRequest() RequestEnvelope {
	return RequestEnvelope{
		CaseID:       "case-1",
		DocumentText: "AAAABBBBCCCC",
		Instructions: "Foco em multas",
		Warnings:     []string{"foro"},
	}
}

func testConfig() Config {
	return Config{MaxChunkSize: 4, ExtractionConcurrency: 3, ModelName: "fake-model"}
}

func TestPipelineHappyPath(t *testing.T) {
	ext := &fakeExtractor{respond: func(_ context.Context, chunk string) (string, error) {
		return chunkResponse(chunk), nil
	}}
	syn := okSynthesizer()
	var stages []string
	res, err := NewPipeline(ext, syn, testConfig()).RunWithProgress(context.Background(), testRequest(), func(stage, _ string) {
		stages = append(stages, stage)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateComplete {
		t.Fatalf("state = %s, want complete", res.State)
	}
	wantTrace := []State{StateIdle, StateChunking, StatePerChunkExtraction, StateAggregating, StateSynthesizing, StateComplete}
	if diff := cmp.Diff(wantTrace, res.Metadata.StateTrace); diff != "" {
		t.Fatalf("state trace mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"t-AAAA", "t-BBBB", "t-CCCC"}, res.Analysis.Extraction.Topics); diff != "" {
		t.Fatalf("topics mismatch (-want +got):\n%s", diff)
	}
	if res.Analysis.Analysis.Risks[0] != "multa elevada" || res.Analysis.Opinion.Summary != "Assinar com ressalvas" {
		t.Fatalf("unexpected synthesis result %+v", res.Analysis)
	}
	if res.Analysis.Opinion.CounterProposal.Penalty != "2%" {
		t.Fatalf("unexpected counter proposal %+v", res.Analysis.Opinion.CounterProposal)
	}
	if res.Metadata.ChunksTotal != 3 || res.Metadata.ChunksSucceeded != 3 || res.Metadata.RunID == "" || res.Metadata.Model != "fake-model" {
		t.Fatalf("unexpected metadata %+v", res.Metadata)
	}
	if len(stages) == 0 || stages[0] != StageChunking || stages[len(stages)-1] != StageSynthesis {
		t.Fatalf("unexpected progress stages %v", stages)
	}

	var sent ExtractionRecord
	if err := json.Unmarshal([]byte(syn.aggregated), &sent); err != nil {
		t.Fatalf("aggregated context is not JSON: %v", err)
	}
	if diff := cmp.Diff(res.Analysis.Extraction, sent, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("synthesizer saw a different aggregate (-want +got):\n%s", diff)
	}
	if !strings.Contains(syn.user, "Foco em multas") || !strings.Contains(syn.user, "- foro") {
		t.Fatalf("user context not forwarded: %q", syn.user)
	}
	for _, uc := range ext.contexts {
		if uc != syn.user {
			t.Fatalf("extractor saw user context %q, synthesizer %q", uc, syn.user)
		}
	}
}

func TestPipelineSkipsFailedChunk(t *testing.T) {
	ext := &fakeExtractor{respond: func(_ context.Context, chunk string) (string, error) {
		if chunk == "BBBB" {
			return "", errors.New("status code: 500")
		}
		return chunkResponse(chunk), nil
	}}
	res, err := NewPipeline(ext, okSynthesizer(), testConfig()).Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateComplete {
		t.Fatalf("state = %s, want complete", res.State)
	}
	want := []Clause{
		{Number: "1", Title: "DO OBJETO", Text: "AAAA"},
		{Number: "1", Title: "DO OBJETO", Text: "CCCC"},
	}
	if diff := cmp.Diff(want, res.Analysis.Extraction.Clauses); diff != "" {
		t.Fatalf("clauses mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1}, res.Metadata.FailedChunks); diff != "" {
		t.Fatalf("failed chunks mismatch (-want +got):\n%s", diff)
	}
	if res.Metadata.ChunksSucceeded != 2 {
		t.Fatalf("chunks succeeded = %d, want 2", res.Metadata.ChunksSucceeded)
	}
}

func TestPipelineAllChunksFail(t *testing.T) {
	ext := &fakeExtractor{respond: func(context.Context, string) (string, error) {
		return "", errors.New("status code: 503")
	}}
	syn := okSynthesizer()
	res, err := NewPipeline(ext, syn, testConfig()).Run(context.Background(), testRequest())
	if !errors.Is(err, ErrAllChunksFailed) {
		t.Fatalf("err = %v, want ErrAllChunksFailed", err)
	}
	if res.State != StateFailed || res.Metadata.ErrorKind != KindAllChunksFailed {
		t.Fatalf("unexpected state=%s kind=%s", res.State, res.Metadata.ErrorKind)
	}
	if StageNameFromError(err) != StageAggregating {
		t.Fatalf("stage = %s, want %s", StageNameFromError(err), StageAggregating)
	}
	if syn.calls != 0 {
		t.Fatal("synthesizer must not run when every chunk failed")
	}
}

func TestPipelineStructuralFailure(t *testing.T) {
	ext := &fakeExtractor{respond: func(context.Context, string) (string, error) { return "{}", nil }}
	req := testRequest()
	req.DocumentText = "   \n\t  "
	res, err := NewPipeline(ext, okSynthesizer(), testConfig()).Run(context.Background(), req)
	if !errors.Is(err, ErrNoExtractableContent) {
		t.Fatalf("err = %v, want ErrNoExtractableContent", err)
	}
	if KindOf(err) != KindStructural || res.Metadata.ErrorKind != KindStructural {
		t.Fatalf("kind = %s", KindOf(err))
	}
	if diff := cmp.Diff([]State{StateIdle, StateChunking, StateFailed}, res.Metadata.StateTrace); diff != "" {
		t.Fatalf("state trace mismatch (-want +got):\n%s", diff)
	}
	if ext.callCount() != 0 {
		t.Fatal("extractor must not be called for blank input")
	}
}

func TestPipelineSynthesisFailure(t *testing.T) {
	ext := &fakeExtractor{respond: func(_ context.Context, chunk string) (string, error) { return chunkResponse(chunk), nil }}
	syn := &fakeSynthesizer{err: errors.New("status code: 400")}
	res, err := NewPipeline(ext, syn, testConfig()).Run(context.Background(), testRequest())
	if !errors.Is(err, ErrSynthesisFailed) {
		t.Fatalf("err = %v, want ErrSynthesisFailed", err)
	}
	if res.Metadata.ErrorKind != KindSynthesisFailed || res.State != StateFailed {
		t.Fatalf("unexpected state=%s kind=%s", res.State, res.Metadata.ErrorKind)
	}
	if len(res.Analysis.Extraction.Topics) != 0 {
		t.Fatal("failed run must not carry a partial analysis")
	}
}

func TestPipelineSynthesisTimeoutIsFatal(t *testing.T) {
	ext := &fakeExtractor{respond: func(_ context.Context, chunk string) (string, error) { return chunkResponse(chunk), nil }}
	cfg := testConfig()
	cfg.SynthesisTimeout = 10 * time.Millisecond
	_, err := NewPipeline(ext, &fakeSynthesizer{wait: true}, cfg).Run(context.Background(), testRequest())
	if KindOf(err) != KindSynthesisFailed || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v kind = %s", err, KindOf(err))
	}
}

func TestPipelineCallerDeadlineDuringSynthesis(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	ext := &fakeExtractor{respond: func(_ context.Context, chunk string) (string, error) { return chunkResponse(chunk), nil }}
	res, err := NewPipeline(ext, &fakeSynthesizer{wait: true}, testConfig()).Run(ctx, testRequest())
	if !errors.Is(err, ErrSynthesisFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want synthesis failure wrapping the deadline", err)
	}
	if res.Metadata.ErrorKind != KindSynthesisFailed || res.State != StateFailed {
		t.Fatalf("unexpected state=%s kind=%s", res.State, res.Metadata.ErrorKind)
	}
}

func TestPipelineBoundsExtractionConcurrency(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight int
		peak     int
	)
	ext := &fakeExtractor{respond: func(_ context.Context, chunk string) (string, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return chunkResponse(chunk), nil
	}}
	cfg := testConfig()
	cfg.ExtractionConcurrency = 2
	req := testRequest()
	req.DocumentText = "AAAABBBBCCCCDDDDEEEEFFFFGGGGHHHH"

	res, err := NewPipeline(ext, okSynthesizer(), cfg).Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Metadata.ChunksTotal != 8 || ext.callCount() != 8 {
		t.Fatalf("chunks = %d calls = %d, want 8", res.Metadata.ChunksTotal, ext.callCount())
	}
	if peak != 2 {
		t.Fatalf("peak concurrent extractions = %d, want 2", peak)
	}
}

func TestPipelineExtractionTimeoutSkipsChunk(t *testing.T) {
	ext := &fakeExtractor{respond: func(ctx context.Context, chunk string) (string, error) {
		if chunk == "CCCC" {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return chunkResponse(chunk), nil
	}}
	cfg := testConfig()
	cfg.ExtractionTimeout = 10 * time.Millisecond
	res, err := NewPipeline(ext, okSynthesizer(), cfg).Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]int{2}, res.Metadata.FailedChunks); diff != "" {
		t.Fatalf("failed chunks mismatch (-want +got):\n%s", diff)
	}
}

func TestPipelineMergesInChunkOrder(t *testing.T) {
	// Chunks finish in reverse order: C, then B, then A.
	doneC := make(chan struct{})
	doneB := make(chan struct{})
	ext := &fakeExtractor{respond: func(_ context.Context, chunk string) (string, error) {
		switch chunk {
		case "AAAA":
			<-doneB
		case "BBBB":
			<-doneC
			defer close(doneB)
		case "CCCC":
			defer close(doneC)
		}
		return chunkResponse(chunk), nil
	}}
	res, err := NewPipeline(ext, okSynthesizer(), testConfig()).Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]string{"t-AAAA", "t-BBBB", "t-CCCC"}, res.Analysis.Extraction.Topics); diff != "" {
		t.Fatalf("topics mismatch (-want +got):\n%s", diff)
	}
}

func TestPipelineCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := make(chan struct{}, 3)
	ext := &fakeExtractor{respond: func(ctx context.Context, _ string) (string, error) {
		started <- struct{}{}
		<-ctx.Done()
		return "", ctx.Err()
	}}
	go func() {
		<-started
		cancel()
	}()
	syn := okSynthesizer()
	res, err := NewPipeline(ext, syn, testConfig()).Run(ctx, testRequest())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res.State != StateFailed || res.Metadata.ErrorKind != KindCancelled {
		t.Fatalf("unexpected state=%s kind=%s", res.State, res.Metadata.ErrorKind)
	}
	if res.Metadata.ChunksSucceeded != 0 || syn.calls != 0 {
		t.Fatal("cancelled run must not produce partial results")
	}
}

func TestPipelineAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ext := &fakeExtractor{respond: func(context.Context, string) (string, error) { return "{}", nil }}
	res, err := NewPipeline(ext, okSynthesizer(), testConfig()).Run(ctx, testRequest())
	if KindOf(err) != KindCancelled {
		t.Fatalf("kind = %s, want cancelled", KindOf(err))
	}
	if diff := cmp.Diff([]State{StateIdle, StateFailed}, res.Metadata.StateTrace); diff != "" {
		t.Fatalf("state trace mismatch (-want +got):\n%s", diff)
	}
}

func TestPipelineRecordsDegradedOutputs(t *testing.T) {
	ext := &fakeExtractor{respond: func(_ context.Context, chunk string) (string, error) {
		if chunk == "AAAA" {
			return "Não encontrei cláusulas neste trecho.", nil
		}
		return chunkResponse(chunk), nil
	}}
	syn := okSynthesizer()
	syn.out.RawAnalysis = "sem resposta estruturada"
	res, err := NewPipeline(ext, syn, testConfig()).Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]string{"chunk_0", "analysis"}, res.Metadata.DegradedOutputs); diff != "" {
		t.Fatalf("degraded outputs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(AnalysisEvaluation{}, res.Analysis.Analysis, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("expected zero evaluation (-want +got):\n%s", diff)
	}
	if res.Metadata.ChunksSucceeded != 3 {
		t.Fatalf("degraded chunk should still count as succeeded, got %d", res.Metadata.ChunksSucceeded)
	}
}

func TestPipelineIgnoresSynthesisExtraction(t *testing.T) {
	ext := &fakeExtractor{respond: func(_ context.Context, chunk string) (string, error) { return chunkResponse(chunk), nil }}
	res, err := NewPipeline(ext, okSynthesizer(), testConfig()).Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, topic := range res.Analysis.Extraction.Topics {
		if topic == "ignorado" {
			t.Fatal("synthesis extraction leaked into the final analysis")
		}
	}
}

func TestStateMachineRejectsIllegalTransition(t *testing.T) {
	if CanTransition(StateIdle, StateSynthesizing) {
		t.Fatal("idle -> synthesizing must be illegal")
	}
	if CanTransition(StateComplete, StateFailed) {
		t.Fatal("terminal states must not transition")
	}
	if !CanTransition(StateAggregating, StateFailed) {
		t.Fatal("aggregating -> failed must be legal")
	}
	if !StateFailed.Terminal() || StateSynthesizing.Terminal() {
		t.Fatal("unexpected terminal classification")
	}
}
