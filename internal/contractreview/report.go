package contractreview

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

func BuildResponse(result PipelineResult) ResponseEnvelope {
	analysis := result.Analysis.withEmptyLists()
	result.Analysis = analysis
	env := ResponseEnvelope{
		CaseID:           result.Request.CaseID,
		Analysis:         analysis,
		PipelineMetadata: result.Metadata,
		Disclaimer:       Disclaimer,
	}
	env.ReportMarkdown = buildMarkdown(result)
	return env
}

func buildMarkdown(result PipelineResult) string {
	a := result.Analysis
	var b strings.Builder
	fmt.Fprintf(&b, "# Parecer de Análise Contratual\n\n")
	fmt.Fprintf(&b, "- Caso: %s\n", sanitizeLine(result.Request.CaseID))
	if name := result.Request.Metadata.SourceFilename; name != "" {
		fmt.Fprintf(&b, "- Documento: %s\n", sanitizeLine(name))
	}
	fmt.Fprintf(&b, "- Data: %s\n", reportDate(result.Metadata).Format(time.RFC3339))
	fmt.Fprintf(&b, "- Situação: `%s`\n\n", result.Metadata.FinalState)
	fmt.Fprintf(&b, "%s\n\n", Disclaimer)

	if result.Metadata.FinalState == StateFailed {
		fmt.Fprintf(&b, "## Falha\n\n")
		fmt.Fprintf(&b, "- Tipo: `%s`\n", result.Metadata.ErrorKind)
		fmt.Fprintf(&b, "- Detalhe: %s\n\n", sanitizeLine(result.Metadata.Error))
	}

	fmt.Fprintf(&b, "## Parecer\n\n")
	fmt.Fprintf(&b, "### Resumo\n\n%s\n\n", paragraph(a.Opinion.Summary))
	fmt.Fprintf(&b, "### Parecer Detalhado\n\n%s\n\n", paragraph(a.Opinion.Detailed))

	fmt.Fprintf(&b, "## Análise\n\n")
	appendList(&b, "Riscos", a.Analysis.Risks)
	appendList(&b, "Inconsistências", a.Analysis.Inconsistencies)
	appendList(&b, "Cláusulas Abusivas", a.Analysis.AbusiveClauses)
	appendList(&b, "Melhorias Recomendadas", a.Analysis.Improvements)
	fmt.Fprintf(&b, "### Avisos Prioritários\n\n")
	if len(a.Analysis.Warnings) == 0 {
		fmt.Fprintf(&b, "- Nenhum aviso informado.\n")
	}
	for _, w := range a.Analysis.Warnings {
		fmt.Fprintf(&b, "- **%s**: %s", sanitizeLine(w.Warning), sanitizeLine(w.Detail))
		if strings.TrimSpace(w.Excerpt) != "" {
			fmt.Fprintf(&b, " (trecho: %q)", sanitizeLine(w.Excerpt))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Contraproposta\n\n")
	cp := a.Opinion.CounterProposal
	fmt.Fprintf(&b, "- Vigência: %s\n", sanitizeLine(cp.Term))
	fmt.Fprintf(&b, "- Multa: %s\n", sanitizeLine(cp.Penalty))
	fmt.Fprintf(&b, "- Obrigações: %s\n", sanitizeLine(cp.Obligations))
	fmt.Fprintf(&b, "- Resolução de Conflitos: %s\n\n", sanitizeLine(cp.DisputeResolution))

	fmt.Fprintf(&b, "## Extração\n\n")
	appendList(&b, "Tópicos Principais", a.Extraction.Topics)
	fmt.Fprintf(&b, "### Cláusulas\n\n")
	if len(a.Extraction.Clauses) == 0 {
		fmt.Fprintf(&b, "- Nenhuma cláusula extraída.\n")
	}
	for _, c := range a.Extraction.Clauses {
		label := strings.TrimSpace(strings.Join(nonEmpty(c.Number, c.Title), " - "))
		if label == "" {
			label = "Cláusula"
		}
		fmt.Fprintf(&b, "- **%s**: %s\n", sanitizeLine(label), sanitizeLine(c.Text))
	}
	b.WriteString("\n")
	appendList(&b, "Pontos-Chave", a.Extraction.KeyPoints)
	fmt.Fprintf(&b, "### Partes\n\n")
	if len(a.Extraction.Info.Parties) == 0 {
		fmt.Fprintf(&b, "- -\n")
	}
	for _, p := range a.Extraction.Info.Parties {
		fmt.Fprintf(&b, "- %s\n", sanitizeLine(strings.Join(nonEmpty(p.Type, p.Name, p.TaxID, p.Address), " | ")))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "### Valores\n\n")
	if len(a.Extraction.Info.Values) == 0 {
		fmt.Fprintf(&b, "- -\n")
	}
	for _, v := range a.Extraction.Info.Values {
		fmt.Fprintf(&b, "- %s\n", sanitizeLine(strings.Join(nonEmpty(v.Description, v.Value), ": ")))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "### Datas e Prazos\n\n")
	if len(a.Extraction.Info.Dates) == 0 {
		fmt.Fprintf(&b, "- -\n")
	}
	for _, d := range a.Extraction.Info.Dates {
		fmt.Fprintf(&b, "- %s\n", sanitizeLine(strings.Join(nonEmpty(d.Description, d.Date, d.Deadline, d.Value), " | ")))
	}
	b.WriteString("\n")

	m := result.Metadata
	fmt.Fprintf(&b, "## Metadados\n\n")
	fmt.Fprintf(&b, "- Execução: `%s`\n", m.RunID)
	if m.Model != "" {
		fmt.Fprintf(&b, "- Modelo: `%s`\n", m.Model)
	}
	fmt.Fprintf(&b, "- Trechos processados: %d de %d\n", m.ChunksSucceeded, m.ChunksTotal)
	if len(m.FailedChunks) > 0 {
		fmt.Fprintf(&b, "- Trechos com falha: %s\n", joinInts(m.FailedChunks))
	}
	if len(m.DegradedOutputs) > 0 {
		fmt.Fprintf(&b, "- Saídas degradadas: %s\n", strings.Join(m.DegradedOutputs, ", "))
	}
	fmt.Fprintf(&b, "- Duração: %dms\n\n", m.DurationMS)

	fmt.Fprintf(&b, "## Apêndice\n\n")
	fmt.Fprintf(&b, "### Análise (JSON)\n\n```json\n%s\n```\n", prettyJSON(a))
	fmt.Fprintf(&b, "\n### Metadados da Execução (JSON)\n\n```json\n%s\n```\n", prettyJSON(m))
	return b.String()
}

func appendList(b *strings.Builder, title string, items []string) {
	fmt.Fprintf(b, "### %s\n\n", title)
	if len(items) == 0 {
		fmt.Fprintf(b, "- -\n\n")
		return
	}
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", sanitizeLine(it))
	}
	b.WriteString("\n")
}

func reportDate(m PipelineMetadata) time.Time {
	if !m.CompletedAt.IsZero() {
		return m.CompletedAt
	}
	return m.StartedAt
}

func paragraph(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "-"
	}
	return s
}

func nonEmpty(parts ...string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ", ")
}

func prettyJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

func sanitizeLine(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if s == "" {
		return "-"
	}
	return s
}

// withEmptyLists replaces nil slices so the JSON form always carries [] for
// list fields.
func (f FinalAnalysis) withEmptyLists() FinalAnalysis {
	e := &f.Extraction
	e.Topics = orEmpty(e.Topics)
	e.Clauses = orEmpty(e.Clauses)
	e.KeyPoints = orEmpty(e.KeyPoints)
	e.Info.Parties = orEmpty(e.Info.Parties)
	e.Info.Values = orEmpty(e.Info.Values)
	e.Info.Dates = orEmpty(e.Info.Dates)
	a := &f.Analysis
	a.Risks = orEmpty(a.Risks)
	a.Inconsistencies = orEmpty(a.Inconsistencies)
	a.AbusiveClauses = orEmpty(a.AbusiveClauses)
	a.Improvements = orEmpty(a.Improvements)
	a.Warnings = orEmpty(a.Warnings)
	return f
}

func orEmpty[T any](xs []T) []T {
	if xs == nil {
		return []T{}
	}
	return xs
}
