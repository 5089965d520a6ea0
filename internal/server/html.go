package server

import (
	_ "embed"
	"fmt"
	"html"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/joelkehle/contract-review/internal/contractreview"
)

//go:embed report.css
var defaultReportCSS string

var (
	reAppendixHeading = regexp.MustCompile(`(?i)<h2([^>]*)>\s*Apêndice\s*</h2>`)
	reSectionHeading  = regexp.MustCompile(`<h2([^>]*)>\s*(Parecer|Análise|Contraproposta|Extração)\s*</h2>`)
)

// HTMLRenderer turns a report into a standalone HTML document.
type HTMLRenderer struct {
	cssPath   string
	styleOnce sync.Once
	styleCSS  string
	styleErr  error
}

// NewHTMLRenderer uses the stylesheet at cssPath, or the built-in one when
// cssPath is empty.
func NewHTMLRenderer(cssPath string) *HTMLRenderer {
	return &HTMLRenderer{cssPath: strings.TrimSpace(cssPath)}
}

// Render accepts either raw Markdown or an encoded response envelope. For an
// envelope the header carries case metadata and status badges, and a missing
// report_markdown is rebuilt from the analysis.
func (r *HTMLRenderer) Render(report string) (string, error) {
	metaHTML := ""
	badgeHTML := ""
	markdown := report

	if env, err := contractreview.DecodeResponseEnvelope([]byte(report)); err == nil {
		markdown = env.ReportMarkdown
		if strings.TrimSpace(markdown) == "" {
			markdown = contractreview.RebuildResponseFromEnvelope(env).ReportMarkdown
		}
		metaHTML = buildMetaHTML(env)
		badgeHTML = buildBadgeHTML(env)
	}

	var content strings.Builder
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(markdown), &content); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	contentHTML := applyPrintLayoutHooks(content.String())

	styleCSS, err := r.loadStyleCSS()
	if err != nil {
		return "", err
	}
	return "<!doctype html><html lang='pt-BR'><head><meta charset='utf-8'><title>Parecer de Análise Contratual</title>" +
		"<style>" + styleCSS + "\n" +
		"html,body,*{-webkit-print-color-adjust:exact !important;print-color-adjust:exact !important;} " +
		"body{background:#fff !important;padding:0.6rem;} .pdf-wrap{max-width:1000px;margin:0 auto;} .pdf-gutter{border-left:3px solid #1e3a8a !important;border-right:3px solid #1e3a8a !important;padding:0 0.65rem;} " +
		".report-badge{background:#dbeafe !important;color:#1e3a8a !important;border:1px solid #93c5fd !important;} " +
		".report-meta strong{color:#1c1917 !important;} .report-meta{color:#44403c !important;} " +
		".report-html h2[data-section-heading='true']{border-bottom:1px solid #cbd5e1;padding-bottom:0.2rem;} " +
		".report-html table{width:100% !important;border-collapse:collapse !important;border:1px solid #a8a29e !important;font-size:0.8rem !important;} " +
		".report-html th,.report-html td{border:1px solid #a8a29e !important;padding:0.35rem 0.45rem !important;text-align:left !important;vertical-align:top !important;} " +
		`h2[data-page-break-before="true"]{break-before:page;page-break-before:always;} ` +
		"@media print{ @page{size:auto;margin:12mm;} body{padding:0;} .pdf-wrap{max-width:none;} }" +
		"</style></head><body>" +
		"<div class='pdf-wrap'><div class='pdf-gutter'><section class='report-viewer'><div class='report-header'>" +
		"<div class='report-meta'>" + metaHTML + "</div>" +
		"<div class='report-badges'>" + badgeHTML + "</div>" +
		"</div><div class='report-html'>" + contentHTML + "</div></section></div></div>" +
		"</body></html>", nil
}

func applyPrintLayoutHooks(contentHTML string) string {
	out := reAppendixHeading.ReplaceAllString(contentHTML, `<h2$1 data-page-break-before="true">Apêndice</h2>`)
	return reSectionHeading.ReplaceAllString(out, `<h2$1 data-section-heading="true">$2</h2>`)
}

func (r *HTMLRenderer) loadStyleCSS() (string, error) {
	r.styleOnce.Do(func() {
		if r.cssPath == "" {
			r.styleCSS = defaultReportCSS
			return
		}
		b, err := os.ReadFile(r.cssPath)
		if err != nil {
			r.styleErr = fmt.Errorf("read report css: %w", err)
			return
		}
		r.styleCSS = string(b)
	})
	return r.styleCSS, r.styleErr
}

func buildMetaHTML(env contractreview.ResponseEnvelope) string {
	var out strings.Builder
	if id := strings.TrimSpace(env.CaseID); id != "" {
		out.WriteString("<div><strong>Caso:</strong> " + html.EscapeString(id) + "</div>")
	}
	if ts := env.PipelineMetadata.CompletedAt; !ts.IsZero() {
		out.WriteString("<div><strong>Data:</strong> " + html.EscapeString(ts.In(time.Local).Format("02/01/2006 15:04 MST")) + "</div>")
	}
	if model := strings.TrimSpace(env.PipelineMetadata.Model); model != "" {
		out.WriteString("<div><strong>Modelo:</strong> " + html.EscapeString(model) + "</div>")
	}
	return out.String()
}

func buildBadgeHTML(env contractreview.ResponseEnvelope) string {
	meta := env.PipelineMetadata
	var out strings.Builder
	switch meta.FinalState {
	case contractreview.StateComplete:
		out.WriteString("<span class='report-badge' data-state='complete'>Concluído</span>")
	case contractreview.StateFailed:
		label := "Falhou"
		if meta.ErrorKind != contractreview.KindNone {
			label += ": " + string(meta.ErrorKind)
		}
		out.WriteString("<span class='report-badge' data-state='failed'>" + html.EscapeString(label) + "</span>")
	}
	if n := len(meta.FailedChunks); n > 0 {
		fmt.Fprintf(&out, "<span class='report-badge'>Trechos com falha: %d</span>", n)
	}
	if n := len(meta.DegradedOutputs); n > 0 {
		fmt.Fprintf(&out, "<span class='report-badge'>Saídas degradadas: %d</span>", n)
	}
	return out.String()
}
