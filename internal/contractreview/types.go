package contractreview

import (
	"strings"
	"time"
)

const Disclaimer = "Esta é uma análise automatizada preliminar e não substitui o parecer de um advogado. " +
	"Revise as conclusões antes de qualquer uso contratual."

const (
	DefaultMaxChunkSize = 2000
	MinMaxChunkSize     = 256
)

// Chunk is a contiguous slice of the source text. Offset counts runes.
type Chunk struct {
	Index  int    `json:"index"`
	Offset int    `json:"offset"`
	Text   string `json:"text"`
}

type Clause struct {
	Number string `json:"numero,omitempty"`
	Title  string `json:"titulo"`
	Text   string `json:"texto"`
}

type Party struct {
	Type    string `json:"tipo,omitempty"`
	Name    string `json:"nome"`
	TaxID   string `json:"cnpj,omitempty"`
	Address string `json:"endereco,omitempty"`
}

type MonetaryValue struct {
	Description string `json:"descricao"`
	Value       string `json:"valor,omitempty"`
}

type DateEntry struct {
	Description string `json:"descricao"`
	Date        string `json:"data,omitempty"`
	Deadline    string `json:"prazo,omitempty"`
	Value       string `json:"valor,omitempty"`
}

type ExtractedInfo struct {
	Parties []Party         `json:"partes"`
	Values  []MonetaryValue `json:"valores"`
	Dates   []DateEntry     `json:"datas"`
}

// ExtractionRecord is the structured output for one chunk. The aggregated
// extraction for a whole document has the same shape.
type ExtractionRecord struct {
	Topics    []string      `json:"topicos_principais"`
	Clauses   []Clause      `json:"clausulas"`
	KeyPoints []string      `json:"pontos_chave"`
	Info      ExtractedInfo `json:"informacoes_extraidas"`
}

// WarningResponse answers one user-supplied warning.
type WarningResponse struct {
	Warning string `json:"aviso"`
	Detail  string `json:"detalhe"`
	Excerpt string `json:"trecho,omitempty"`
}

type AnalysisEvaluation struct {
	Risks           []string          `json:"riscos"`
	Inconsistencies []string          `json:"inconsistencias"`
	AbusiveClauses  []string          `json:"clausulas_abusivas"`
	Improvements    []string          `json:"melhorias_recomendadas"`
	Warnings        []WarningResponse `json:"avisos"`
}

type CounterProposal struct {
	Term              string `json:"clausula_vigencia"`
	Penalty           string `json:"clausula_multa"`
	Obligations       string `json:"clausula_obrigacoes"`
	DisputeResolution string `json:"clausula_resolucao_conflitos"`
}

type DraftOpinion struct {
	Summary         string          `json:"parecer_resumido"`
	Detailed        string          `json:"parecer_detalhado"`
	CounterProposal CounterProposal `json:"contra_proposta"`
}

type FinalAnalysis struct {
	Extraction ExtractionRecord   `json:"extracao"`
	Analysis   AnalysisEvaluation `json:"analise"`
	Opinion    DraftOpinion       `json:"parecer"`
}

type State string

const (
	StateIdle               State = "idle"
	StateChunking           State = "chunking"
	StatePerChunkExtraction State = "per_chunk_extraction"
	StateAggregating        State = "aggregating"
	StateSynthesizing       State = "synthesizing"
	StateComplete           State = "complete"
	StateFailed             State = "failed"
)

type RequestMetadata struct {
	SourceFilename string `json:"source_filename,omitempty"`
	ContentType    string `json:"content_type,omitempty"`
}

type RequestEnvelope struct {
	CaseID       string          `json:"case_id"`
	DocumentText string          `json:"document_text"`
	Instructions string          `json:"instructions,omitempty"`
	Warnings     []string        `json:"warnings,omitempty"`
	Metadata     RequestMetadata `json:"metadata,omitempty"`
}

// UserContext renders instructions and warnings as the free-form context
// passed to every capability call. It is empty when the user gave neither.
func (r RequestEnvelope) UserContext() string {
	var b strings.Builder
	if s := strings.TrimSpace(r.Instructions); s != "" {
		b.WriteString("Instruções do usuário:\n")
		b.WriteString(s)
		b.WriteString("\n")
	}
	var warnings []string
	for _, w := range r.Warnings {
		if w = strings.TrimSpace(w); w != "" {
			warnings = append(warnings, w)
		}
	}
	if len(warnings) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Avisos prioritários do usuário:\n")
		for _, w := range warnings {
			b.WriteString("- ")
			b.WriteString(w)
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String())
}

type PipelineMetadata struct {
	RunID           string    `json:"run_id"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
	DurationMS      int64     `json:"duration_ms"`
	MaxChunkSize    int       `json:"max_chunk_size"`
	Concurrency     int       `json:"concurrency"`
	Model           string    `json:"model,omitempty"`
	ChunksTotal     int       `json:"chunks_total"`
	ChunksSucceeded int       `json:"chunks_succeeded"`
	FailedChunks    []int     `json:"failed_chunks,omitempty"`
	DegradedOutputs []string  `json:"degraded_outputs,omitempty"`
	StateTrace      []State   `json:"state_trace"`
	FinalState      State     `json:"final_state"`
	ErrorKind       ErrorKind `json:"error_kind,omitempty"`
	Error           string    `json:"error,omitempty"`
}

type PipelineResult struct {
	Request  RequestEnvelope
	Analysis FinalAnalysis
	State    State
	Metadata PipelineMetadata
}

type ResponseEnvelope struct {
	CaseID           string           `json:"case_id"`
	Analysis         FinalAnalysis    `json:"analysis"`
	ReportMarkdown   string           `json:"report_markdown"`
	PipelineMetadata PipelineMetadata `json:"pipeline_metadata"`
	Disclaimer       string           `json:"disclaimer"`
}
