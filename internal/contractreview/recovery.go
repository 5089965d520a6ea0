package contractreview

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/joelkehle/contract-review/internal/llmjson"
)

type Schema string

const (
	SchemaExtraction Schema = "extraction"
	SchemaEvaluation Schema = "evaluation"
	SchemaDraft      Schema = "draft"
)

// Record holds a recovered value of exactly one schema.
type Record struct {
	schema     Schema
	extraction ExtractionRecord
	evaluation AnalysisEvaluation
	draft      DraftOpinion
}

func (r Record) Schema() Schema { return r.schema }

func (r Record) Extraction() (ExtractionRecord, bool) {
	return r.extraction, r.schema == SchemaExtraction
}

func (r Record) Evaluation() (AnalysisEvaluation, bool) {
	return r.evaluation, r.schema == SchemaEvaluation
}

func (r Record) Draft() (DraftOpinion, bool) {
	return r.draft, r.schema == SchemaDraft
}

// ZeroRecord is the default a failed recovery falls back to.
func ZeroRecord(schema Schema) Record {
	return Record{schema: schema}
}

// Diagnostic describes how a recovery went.
type Diagnostic struct {
	Stage    llmjson.Stage
	Degraded bool
	Reason   string
}

// Recover converts raw model output into a record of the given schema. It
// never fails: unusable input yields ZeroRecord(schema).
func Recover(raw string, schema Schema) Record {
	rec, _ := RecoverDetailed(raw, schema)
	return rec
}

func RecoverExtraction(raw string) ExtractionRecord {
	rec, _ := RecoverDetailed(raw, SchemaExtraction)
	return rec.extraction
}

func RecoverEvaluation(raw string) AnalysisEvaluation {
	rec, _ := RecoverDetailed(raw, SchemaEvaluation)
	return rec.evaluation
}

func RecoverDraft(raw string) DraftOpinion {
	rec, _ := RecoverDetailed(raw, SchemaDraft)
	return rec.draft
}

// RecoverDetailed is Recover plus a report of which parse stage succeeded and
// whether the result degraded to defaults.
func RecoverDetailed(raw string, schema Schema) (Record, Diagnostic) {
	v, stage := llmjson.Parse(raw)
	diag := Diagnostic{Stage: stage}

	obj, ok := v.(*llmjson.Object)
	switch {
	case !ok:
		return degrade(raw, schema, diag, "top-level value is a list")
	case stage == llmjson.StageEmpty && strings.TrimSpace(raw) != "":
		return degrade(raw, schema, diag, "no structured payload found")
	}

	rec := Record{schema: schema}
	var err error
	switch schema {
	case SchemaExtraction:
		rec.extraction = normalizeExtraction(obj)
		err = rec.extraction.Validate()
	case SchemaEvaluation:
		rec.evaluation = normalizeEvaluation(obj)
		err = rec.evaluation.Validate()
	case SchemaDraft:
		rec.draft = normalizeDraft(obj)
	default:
		err = fmt.Errorf("unknown schema %q", schema)
	}
	if err != nil {
		return degrade(raw, schema, diag, err.Error())
	}
	return rec, diag
}

func degrade(raw string, schema Schema, diag Diagnostic, reason string) (Record, Diagnostic) {
	diag.Degraded = true
	diag.Reason = reason
	zap.L().Warn("recovery fell back to defaults",
		zap.String("schema", string(schema)),
		zap.String("stage", string(diag.Stage)),
		zap.String("reason", reason),
		zap.String("preview", preview(raw, 200)),
	)
	return ZeroRecord(schema), diag
}

func preview(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

var (
	topicKeys     = []string{"topicos_principais", "topicos", "topics"}
	keyPointKeys  = []string{"pontos_chave", "key_points"}
	clauseKeys    = []string{"clausulas", "clausulas_relevantes", "clauses"}
	infoKeys      = []string{"informacoes_extraidas", "informacoes", "extracted_info"}
	partyListKeys = []string{"partes", "parties"}
	valueListKeys = []string{"valores", "values"}
	dateListKeys  = []string{"datas", "dates"}

	clauseNumberKeys = []string{"numero", "number", "n"}
	clauseTitleKeys  = []string{"titulo", "descricao", "clausula", "title", "description", "clause"}
	clauseTextKeys   = []string{"texto", "detalhes", "conteudo", "descricao", "text", "details"}

	partyTypeKeys    = []string{"tipo", "papel", "type", "role"}
	partyNameKeys    = []string{"nome", "razao_social", "name"}
	partyTaxIDKeys   = []string{"cnpj", "cpf", "documento", "tax_id"}
	partyAddressKeys = []string{"endereco", "address"}

	descriptionKeys = []string{"descricao", "description", "item", "evento"}
	amountKeys      = []string{"valor", "montante", "value", "amount"}
	dateKeys        = []string{"data", "date"}
	deadlineKeys    = []string{"prazo", "deadline"}

	riskKeys           = []string{"riscos", "risks"}
	inconsistencyKeys  = []string{"inconsistencias", "inconsistencies"}
	abusiveKeys        = []string{"clausulas_abusivas", "abusive_clauses"}
	improvementKeys    = []string{"melhorias_recomendadas", "melhorias", "recommendations", "improvements"}
	warningListKeys    = []string{"avisos", "alertas", "warnings"}
	warningTextKeys    = []string{"aviso", "alerta", "titulo", "warning"}
	warningDetailKeys  = []string{"detalhe", "descricao", "motivo", "justificativa", "detail"}
	warningExcerptKeys = []string{"trecho", "referencia", "onde", "excerpt"}

	summaryKeys         = []string{"parecer_resumido", "resumo", "summary"}
	detailedKeys        = []string{"parecer_detalhado", "parecer", "detalhado", "detailed"}
	counterProposalKeys = []string{"contra_proposta", "contraproposta", "counter_proposal"}
	termKeys            = []string{"clausula_vigencia", "vigencia"}
	penaltyKeys         = []string{"clausula_multa", "multa"}
	obligationKeys      = []string{"clausula_obrigacoes", "obrigacoes"}
	disputeKeys         = []string{"clausula_resolucao_conflitos", "resolucao_conflitos", "foro"}
)

func normalizeExtraction(obj *llmjson.Object) ExtractionRecord {
	info := asObject(field(obj, infoKeys...))
	return ExtractionRecord{
		Topics:    stringList(field(obj, topicKeys...)),
		Clauses:   recordList(field(obj, clauseKeys...), clauseFromObject, clauseFromText),
		KeyPoints: stringList(field(obj, keyPointKeys...)),
		Info: ExtractedInfo{
			Parties: recordList(field(info, partyListKeys...), partyFromObject, partyFromText),
			Values:  recordList(field(info, valueListKeys...), valueFromObject, valueFromText),
			Dates:   recordList(field(info, dateListKeys...), dateFromObject, dateFromText),
		},
	}
}

func normalizeEvaluation(obj *llmjson.Object) AnalysisEvaluation {
	return AnalysisEvaluation{
		Risks:           stringList(field(obj, riskKeys...)),
		Inconsistencies: stringList(field(obj, inconsistencyKeys...)),
		AbusiveClauses:  stringList(field(obj, abusiveKeys...)),
		Improvements:    stringList(field(obj, improvementKeys...)),
		Warnings:        recordList(field(obj, warningListKeys...), warningFromObject, warningFromText),
	}
}

func normalizeDraft(obj *llmjson.Object) DraftOpinion {
	cp := asObject(field(obj, counterProposalKeys...))
	return DraftOpinion{
		Summary:  coerceString(field(obj, summaryKeys...)),
		Detailed: coerceString(field(obj, detailedKeys...)),
		CounterProposal: CounterProposal{
			Term:              coerceString(field(cp, termKeys...)),
			Penalty:           coerceString(field(cp, penaltyKeys...)),
			Obligations:       coerceString(field(cp, obligationKeys...)),
			DisputeResolution: coerceString(field(cp, disputeKeys...)),
		},
	}
}

func clauseFromObject(o *llmjson.Object) (Clause, bool) {
	c := Clause{
		Number: coerceString(field(o, clauseNumberKeys...)),
		Title:  coerceString(field(o, clauseTitleKeys...)),
		Text:   coerceString(field(o, clauseTextKeys...)),
	}
	return c, c != Clause{}
}

func clauseFromText(s string) (Clause, bool) {
	return Clause{Text: s}, s != ""
}

func partyFromObject(o *llmjson.Object) (Party, bool) {
	p := Party{
		Type:    coerceString(field(o, partyTypeKeys...)),
		Name:    coerceString(field(o, partyNameKeys...)),
		TaxID:   coerceString(field(o, partyTaxIDKeys...)),
		Address: coerceString(field(o, partyAddressKeys...)),
	}
	return p, p != Party{}
}

func partyFromText(s string) (Party, bool) {
	return Party{Name: s}, s != ""
}

func valueFromObject(o *llmjson.Object) (MonetaryValue, bool) {
	v := MonetaryValue{
		Description: coerceString(field(o, descriptionKeys...)),
		Value:       coerceString(field(o, amountKeys...)),
	}
	return v, v != MonetaryValue{}
}

func valueFromText(s string) (MonetaryValue, bool) {
	return MonetaryValue{Description: s}, s != ""
}

func dateFromObject(o *llmjson.Object) (DateEntry, bool) {
	d := DateEntry{
		Description: coerceString(field(o, descriptionKeys...)),
		Date:        coerceString(field(o, dateKeys...)),
		Deadline:    coerceString(field(o, deadlineKeys...)),
		Value:       coerceString(field(o, amountKeys...)),
	}
	return d, d != DateEntry{}
}

func dateFromText(s string) (DateEntry, bool) {
	return DateEntry{Description: s}, s != ""
}

func warningFromObject(o *llmjson.Object) (WarningResponse, bool) {
	w := WarningResponse{
		Warning: coerceString(field(o, warningTextKeys...)),
		Detail:  coerceString(field(o, warningDetailKeys...)),
		Excerpt: coerceString(field(o, warningExcerptKeys...)),
	}
	return w, w != WarningResponse{}
}

func warningFromText(s string) (WarningResponse, bool) {
	return WarningResponse{Warning: s, Detail: s}, s != ""
}
