package contractreview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/joelkehle/contract-review/internal/contractreview"

type StageProgressFn func(stage, message string)

type Config struct {
	MaxChunkSize          int
	ExtractionConcurrency int
	ExtractionTimeout     time.Duration
	SynthesisTimeout      time.Duration
	ModelName             string
}

type Pipeline struct {
	extractor   Extractor
	synthesizer Synthesizer
	cfg         Config
	tracer      trace.Tracer
}

// NewPipeline builds a pipeline. A zero MaxChunkSize means the default size;
// a negative one disables chunking. Timeouts <= 0 leave calls bounded only by
// the run context.
func NewPipeline(extractor Extractor, synthesizer Synthesizer, cfg Config) *Pipeline {
	if cfg.MaxChunkSize == 0 {
		cfg.MaxChunkSize = DefaultMaxChunkSize
	}
	if cfg.ExtractionConcurrency < 1 {
		cfg.ExtractionConcurrency = 1
	}
	return &Pipeline{
		extractor:   extractor,
		synthesizer: synthesizer,
		cfg:         cfg,
		tracer:      otel.Tracer(tracerName),
	}
}

func (p *Pipeline) Run(ctx context.Context, req RequestEnvelope) (PipelineResult, error) {
	return p.runWithProgress(ctx, req, nil)
}

// RunWithProgress is Run with stage notifications. progress is never called
// concurrently.
func (p *Pipeline) RunWithProgress(ctx context.Context, req RequestEnvelope, progress StageProgressFn) (PipelineResult, error) {
	return p.runWithProgress(ctx, req, progress)
}

func (p *Pipeline) runWithProgress(ctx context.Context, req RequestEnvelope, progress StageProgressFn) (PipelineResult, error) {
	started := time.Now()
	res := PipelineResult{
		Request: req,
		State:   StateIdle,
		Metadata: PipelineMetadata{
			RunID:        uuid.NewString(),
			StartedAt:    started,
			MaxChunkSize: p.cfg.MaxChunkSize,
			Concurrency:  p.cfg.ExtractionConcurrency,
			Model:        p.cfg.ModelName,
		},
	}
	log := zap.L().With(zap.String("run_id", res.Metadata.RunID), zap.String("case_id", req.CaseID))
	sm := newStateMachine(log)

	ctx, span := p.tracer.Start(ctx, "contractreview.run", trace.WithAttributes(
		attribute.String("run.id", res.Metadata.RunID),
		attribute.String("case.id", req.CaseID),
	))
	defer span.End()

	fail := func(stage string, err error) (PipelineResult, error) {
		serr := &StageError{Stage: stage, Err: err}
		if terr := sm.transition(StateFailed); terr != nil {
			log.Error("state machine", zap.Error(terr))
		}
		res.Analysis = FinalAnalysis{}
		res.Metadata.ErrorKind = KindOf(err)
		res.Metadata.Error = serr.Error()
		span.RecordError(serr)
		span.SetStatus(codes.Error, string(res.Metadata.ErrorKind))
		log.Warn("contract review failed",
			zap.String("stage", stage),
			zap.String("kind", string(res.Metadata.ErrorKind)),
			zap.Error(err),
		)
		return p.finalize(res, sm), serr
	}

	if err := ctx.Err(); err != nil {
		return fail(StageChunking, err)
	}

	// Chunking.
	if err := sm.transition(StateChunking); err != nil {
		return fail(StageChunking, err)
	}
	emit(progress, StageChunking, "Dividindo o documento em trechos...")
	chunks := ChunkText(req.DocumentText, p.cfg.MaxChunkSize)
	res.Metadata.ChunksTotal = len(chunks)
	span.SetAttributes(attribute.Int("chunks.total", len(chunks)))
	if len(chunks) == 0 {
		return fail(StageChunking, ErrNoExtractableContent)
	}
	emit(progress, StageChunking, fmt.Sprintf("%d trecho(s) gerado(s)", len(chunks)))

	// Per-chunk extraction.
	if err := sm.transition(StatePerChunkExtraction); err != nil {
		return fail(StageExtraction, err)
	}
	stageStarted := time.Now()
	userContext := req.UserContext()
	outcomes, err := p.extractChunks(ctx, chunks, userContext, progress)
	if err != nil {
		return fail(StageExtraction, err)
	}
	var records []ExtractionRecord
	for i, o := range outcomes {
		if !o.ok {
			res.Metadata.FailedChunks = append(res.Metadata.FailedChunks, chunks[i].Index)
			continue
		}
		records = append(records, o.record)
		if o.degraded {
			res.Metadata.DegradedOutputs = append(res.Metadata.DegradedOutputs, fmt.Sprintf("chunk_%d", chunks[i].Index))
		}
	}
	res.Metadata.ChunksSucceeded = len(records)
	span.SetAttributes(
		attribute.Int("chunks.succeeded", len(records)),
		attribute.Int("chunks.failed", len(res.Metadata.FailedChunks)),
	)
	emit(progress, StageExtraction, fmt.Sprintf("Extração concluída em %s (%d/%d trechos)",
		time.Since(stageStarted).Round(time.Millisecond), len(records), len(chunks)))

	// Aggregation.
	if err := sm.transition(StateAggregating); err != nil {
		return fail(StageAggregating, err)
	}
	aggregate, err := Merge(records)
	if err != nil {
		return fail(StageAggregating, err)
	}
	if err := ctx.Err(); err != nil {
		return fail(StageAggregating, err)
	}

	// Synthesis.
	if err := sm.transition(StateSynthesizing); err != nil {
		return fail(StageSynthesis, err)
	}
	emit(progress, StageSynthesis, "Gerando análise de riscos e parecer...")
	stageStarted = time.Now()
	evaluation, draft, degraded, err := p.synthesize(ctx, aggregate, userContext)
	if err != nil {
		return fail(StageSynthesis, err)
	}
	res.Metadata.DegradedOutputs = append(res.Metadata.DegradedOutputs, degraded...)
	emit(progress, StageSynthesis, fmt.Sprintf("Síntese concluída em %s", time.Since(stageStarted).Round(time.Millisecond)))

	if err := sm.transition(StateComplete); err != nil {
		return fail(StageSynthesis, err)
	}
	res.Analysis = FinalAnalysis{
		Extraction: aggregate,
		Analysis:   evaluation,
		Opinion:    draft,
	}
	return p.finalize(res, sm), nil
}

type chunkOutcome struct {
	record   ExtractionRecord
	ok       bool
	degraded bool
}

// extractChunks runs the extractor over every chunk with bounded
// parallelism. Outcomes are indexed like chunks regardless of completion
// order. The only error returned is the parent context's.
func (p *Pipeline) extractChunks(ctx context.Context, chunks []Chunk, userContext string, progress StageProgressFn) ([]chunkOutcome, error) {
	outcomes := make([]chunkOutcome, len(chunks))
	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.ExtractionConcurrency)
	for i, c := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, diag, err := p.extractOne(gctx, c, userContext, len(chunks))
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				zap.L().Warn("chunk extraction failed",
					zap.Int("chunk", c.Index),
					zap.Int("chunks", len(chunks)),
					zap.Error(err),
				)
			} else {
				outcomes[i] = chunkOutcome{record: rec, ok: true, degraded: diag.Degraded}
			}
			mu.Lock()
			done++
			emit(progress, StageExtraction, fmt.Sprintf("Trecho %d processado (%d/%d)", c.Index+1, done, len(chunks)))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (p *Pipeline) extractOne(ctx context.Context, c Chunk, userContext string, total int) (ExtractionRecord, Diagnostic, error) {
	ctx, span := p.tracer.Start(ctx, "contractreview.extract_chunk", trace.WithAttributes(
		attribute.Int("chunk.index", c.Index),
		attribute.Int("chunk.offset", c.Offset),
		attribute.Int("chunks.total", total),
	))
	defer span.End()

	callCtx, cancel := withOptionalTimeout(ctx, p.cfg.ExtractionTimeout)
	defer cancel()
	raw, err := p.extractor.Extract(callCtx, c.Text, userContext)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "extract")
		return ExtractionRecord{}, Diagnostic{}, err
	}
	rec, diag := RecoverDetailed(raw, SchemaExtraction)
	span.SetAttributes(
		attribute.String("recovery.stage", string(diag.Stage)),
		attribute.Bool("recovery.degraded", diag.Degraded),
	)
	out, _ := rec.Extraction()
	return out, diag, nil
}

// synthesize serializes the aggregate, calls the synthesizer and recovers
// both outputs. The synthesizer's own extraction is not used.
func (p *Pipeline) synthesize(ctx context.Context, aggregate ExtractionRecord, userContext string) (AnalysisEvaluation, DraftOpinion, []string, error) {
	ctx, span := p.tracer.Start(ctx, "contractreview.synthesize")
	defer span.End()

	payload, err := json.MarshalIndent(aggregate, "", "  ")
	if err != nil {
		return AnalysisEvaluation{}, DraftOpinion{}, nil, fmt.Errorf("encode aggregate: %w", err)
	}
	span.SetAttributes(attribute.Int("context.bytes", len(payload)))

	callCtx, cancel := withOptionalTimeout(ctx, p.cfg.SynthesisTimeout)
	defer cancel()
	out, err := p.synthesizer.Synthesize(callCtx, string(payload), userContext)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesize")
		// A caller deadline expiring here fails synthesis like SynthesisTimeout.
		if errors.Is(ctx.Err(), context.Canceled) {
			return AnalysisEvaluation{}, DraftOpinion{}, nil, ctx.Err()
		}
		return AnalysisEvaluation{}, DraftOpinion{}, nil, fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
	}

	var degraded []string
	evalRec, evalDiag := RecoverDetailed(out.RawAnalysis, SchemaEvaluation)
	if evalDiag.Degraded {
		degraded = append(degraded, "analysis")
	}
	draftRec, draftDiag := RecoverDetailed(out.RawDraft, SchemaDraft)
	if draftDiag.Degraded {
		degraded = append(degraded, "draft")
	}
	evaluation, _ := evalRec.Evaluation()
	draft, _ := draftRec.Draft()
	return evaluation, draft, degraded, nil
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func emit(progress StageProgressFn, stage, message string) {
	if progress != nil {
		progress(stage, message)
	}
}

func (p *Pipeline) finalize(res PipelineResult, sm *stateMachine) PipelineResult {
	res.State = sm.current
	res.Metadata.FinalState = sm.current
	res.Metadata.StateTrace = sm.Trace()
	res.Metadata.CompletedAt = time.Now()
	res.Metadata.DurationMS = res.Metadata.CompletedAt.Sub(res.Metadata.StartedAt).Milliseconds()
	if res.State == StateComplete {
		zap.L().Info("contract review complete",
			zap.String("run_id", res.Metadata.RunID),
			zap.String("case_id", res.Request.CaseID),
			zap.Int("chunks", res.Metadata.ChunksTotal),
			zap.Int("chunks_succeeded", res.Metadata.ChunksSucceeded),
			zap.Strings("degraded", res.Metadata.DegradedOutputs),
			zap.Int64("duration_ms", res.Metadata.DurationMS),
		)
	}
	return res
}
