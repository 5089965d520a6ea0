package contractreview

import (
	"context"
	"fmt"
	"strings"
)

// Generator is the text generation call the role adapters need. llm.Caller
// satisfies it.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Extractor turns one chunk of contract text into raw model output that the
// recovery engine later reads as an ExtractionRecord.
type Extractor interface {
	Extract(ctx context.Context, chunkText, userContext string) (string, error)
}

// SynthesisOutput is the raw text of one synthesis call. RawExtraction is
// whatever extraction the synthesizer echoed back; the pipeline ignores it.
type SynthesisOutput struct {
	RawAnalysis   string
	RawDraft      string
	RawExtraction string
}

type Synthesizer interface {
	Synthesize(ctx context.Context, aggregatedContext, userContext string) (SynthesisOutput, error)
}

const ptJSONDirective = "Use apenas portugues brasileiro formal e devolva JSON valido exatamente no formato esperado."

const ptRoleDirective = "Produza respostas objetivas em portugues brasileiro formal e mantenha dados estruturados quando solicitados."

const readerSystemPrompt = `Você é um Leitor Jurídico: especialista em contratos que resume documentos extensos e identifica obrigações críticas.
Objetivo: extrair tópicos principais, cláusulas, partes, datas e valores. ` + ptRoleDirective

const analystSystemPrompt = `Você é um Analista Jurídico: advogado corporativo focado em compliance e mitigação de passivos.
Objetivo: mapear riscos, inconsistências e sugerir melhorias acionáveis. ` + ptRoleDirective

const lawyerSystemPrompt = `Você é um Redator Jurídico experiente que consolida todo o estudo em linguagem técnica e clara.
Objetivo: produzir parecer profissional completo e contra-proposta. ` + ptRoleDirective

const readerTaskPrompt = "Analise o trecho do contrato e extraia TODAS as cláusulas presentes nele. " +
	"Se houver cláusulas numeradas (1, 2, 3...), capture o número, o título e o texto completo. " +
	"Não resuma o texto da cláusula. " +
	"Também extraia tópicos principais, partes, valores e datas."

const analystTaskPrompt = "A partir da extracao do leitor, detalhe riscos juridicos, inconsistencias, clausulas abusivas " +
	"e melhorias recomendadas. " +
	"Responda explicitamente ao(s) aviso(s) prioritario(s) do usuario em um campo 'avisos': " +
	"para cada aviso, devolva {aviso, detalhe, trecho}. " +
	"Se houver ocorrencias, explique o porquê e cite o trecho/referencia. " +
	"Se nao houver, use detalhe='sem ocorrencias' e deixe trecho vazio."

const lawyerTaskPrompt = "Consolide todo o estudo em parecer resumido, parecer detalhado e contra-proposta juridica."

const readerSchemaPrompt = `Formato esperado:
{
  "topicos_principais": ["string"],
  "clausulas": [{"numero": "1", "titulo": "DO OBJETO", "texto": "O presente contrato tem como objeto..."}],
  "pontos_chave": ["string"],
  "informacoes_extraidas": {
    "partes": [{"tipo": "string", "nome": "string", "cnpj": "string", "endereco": "string"}],
    "valores": [{"descricao": "string", "valor": "string"}],
    "datas": [{"descricao": "string", "data": "string", "prazo": "string", "valor": "string"}]
  }
}`

const analystSchemaPrompt = `Formato esperado:
{
  "riscos": ["string"],
  "inconsistencias": ["string"],
  "clausulas_abusivas": ["string"],
  "melhorias_recomendadas": ["string"],
  "avisos": [{"aviso": "string", "detalhe": "string", "trecho": "string"}]
}`

const lawyerSchemaPrompt = `Formato esperado:
{
  "parecer_resumido": "string",
  "parecer_detalhado": "string",
  "contra_proposta": {
    "clausula_vigencia": "string",
    "clausula_multa": "string",
    "clausula_obrigacoes": "string",
    "clausula_resolucao_conflitos": "string"
  }
}`

// taskPrompt lays out a role task the same way for every call: instruction,
// optional user guidance, language directive, schema, then the material.
func taskPrompt(task, userContext, schema, materialLabel, material string) string {
	var b strings.Builder
	b.WriteString(task)
	if uc := strings.TrimSpace(userContext); uc != "" {
		fmt.Fprintf(&b, "\n\nDiretrizes do usuário:\n%s", uc)
	}
	fmt.Fprintf(&b, "\n\n%s\n\n%s", ptJSONDirective, schema)
	if strings.TrimSpace(material) != "" {
		fmt.Fprintf(&b, "\n\n%s:\n%s", materialLabel, material)
	}
	return b.String()
}

type LLMExtractor struct {
	caller Generator
}

func NewLLMExtractor(caller Generator) *LLMExtractor {
	return &LLMExtractor{caller: caller}
}

func (e *LLMExtractor) Extract(ctx context.Context, chunkText, userContext string) (string, error) {
	prompt := taskPrompt(readerTaskPrompt, userContext, readerSchemaPrompt, "Trecho do contrato para análise", chunkText)
	return e.caller.Generate(ctx, readerSystemPrompt, prompt)
}

// LLMSynthesizer runs the analyst and then the lawyer over the aggregated
// extraction. The lawyer sees the analyst's raw output.
type LLMSynthesizer struct {
	caller Generator
}

func NewLLMSynthesizer(caller Generator) *LLMSynthesizer {
	return &LLMSynthesizer{caller: caller}
}

func (s *LLMSynthesizer) Synthesize(ctx context.Context, aggregatedContext, userContext string) (SynthesisOutput, error) {
	out := SynthesisOutput{RawExtraction: aggregatedContext}

	analystPrompt := taskPrompt(analystTaskPrompt, userContext, analystSchemaPrompt, "Extração do leitor", aggregatedContext)
	analysis, err := s.caller.Generate(ctx, analystSystemPrompt, analystPrompt)
	if err != nil {
		return out, fmt.Errorf("analyst: %w", err)
	}
	out.RawAnalysis = analysis

	material := aggregatedContext + "\n\nAnálise do analista:\n" + analysis
	lawyerPrompt := taskPrompt(lawyerTaskPrompt, userContext, lawyerSchemaPrompt, "Extração do leitor", material)
	draft, err := s.caller.Generate(ctx, lawyerSystemPrompt, lawyerPrompt)
	if err != nil {
		return out, fmt.Errorf("lawyer: %w", err)
	}
	out.RawDraft = draft
	return out, nil
}
