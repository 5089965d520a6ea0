package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joelkehle/contract-review/internal/contractreview"
	"github.com/joelkehle/contract-review/internal/server"
	"github.com/joelkehle/contract-review/internal/store"
)

type fakePDFRenderer struct {
	got string
}

func (f *fakePDFRenderer) Render(_ context.Context, report string) ([]byte, error) {
	f.got = report
	return []byte("%PDF-fake"), nil
}

func savedEnvelope(t *testing.T) []byte {
	t.Helper()
	env := contractreview.ResponseEnvelope{
		CaseID: "case-9",
		Analysis: contractreview.FinalAnalysis{
			Opinion: contractreview.DraftOpinion{Summary: "Contrato equilibrado."},
		},
		PipelineMetadata: contractreview.PipelineMetadata{
			CompletedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
			FinalState:  contractreview.StateComplete,
		},
		ReportMarkdown: "stale",
	}
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestRenderEnvelopeFormats(t *testing.T) {
	data := savedEnvelope(t)
	htmlRenderer := server.NewHTMLRenderer("")
	pdf := &fakePDFRenderer{}

	md, err := renderEnvelope(context.Background(), data, "markdown", htmlRenderer, pdf)
	if err != nil {
		t.Fatalf("markdown: %v", err)
	}
	if !strings.Contains(string(md), "Contrato equilibrado.") || strings.Contains(string(md), "stale") {
		t.Fatalf("markdown should be rebuilt from the analysis:\n%s", md)
	}

	js, err := renderEnvelope(context.Background(), data, "json", htmlRenderer, pdf)
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	env, err := contractreview.DecodeResponseEnvelope(js)
	if err != nil || env.CaseID != "case-9" {
		t.Fatalf("json output does not decode: %v", err)
	}

	doc, err := renderEnvelope(context.Background(), data, "html", htmlRenderer, pdf)
	if err != nil {
		t.Fatalf("html: %v", err)
	}
	if !strings.Contains(string(doc), "<strong>Caso:</strong> case-9") {
		t.Fatalf("html missing case meta")
	}

	out, err := renderEnvelope(context.Background(), data, "pdf", htmlRenderer, pdf)
	if err != nil {
		t.Fatalf("pdf: %v", err)
	}
	if !bytes.HasPrefix(out, []byte("%PDF")) || !strings.Contains(pdf.got, "Contrato equilibrado.") {
		t.Fatalf("unexpected pdf output %q / renderer input %q", out, pdf.got)
	}

	if _, err := renderEnvelope(context.Background(), data, "docx", htmlRenderer, pdf); err == nil {
		t.Fatal("expected error for unknown format")
	}
	if _, err := renderEnvelope(context.Background(), []byte(`{"foo": 1}`), "markdown", htmlRenderer, pdf); err == nil {
		t.Fatal("expected error for foreign JSON")
	}
}

func TestBuildRequest(t *testing.T) {
	req, err := buildRequest([]byte("CLÁUSULA 1\n\n  DO   OBJETO"), "/tmp/contrato.txt", "", " foco ", []string{"multa", "  "})
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}
	if !strings.HasPrefix(req.CaseID, "CR-") || len(req.CaseID) != 11 {
		t.Fatalf("unexpected generated case id %q", req.CaseID)
	}
	if req.DocumentText != "CLÁUSULA 1 DO OBJETO" {
		t.Fatalf("document text not cleaned: %q", req.DocumentText)
	}
	if req.Instructions != "foco" || len(req.Warnings) != 1 || req.Metadata.SourceFilename != "contrato.txt" {
		t.Fatalf("unexpected request %+v", req)
	}

	req, err = buildRequest([]byte("texto"), "-", "case-1", "", nil)
	if err != nil || req.CaseID != "case-1" || req.Metadata.SourceFilename != "" {
		t.Fatalf("stdin request = %+v, %v", req, err)
	}

	if _, err := buildRequest([]byte("%PDF-1.7"), "x.pdf", "", "", nil); err == nil {
		t.Fatal("expected PDF input to be rejected")
	}
}

func TestEncodeEnvelope(t *testing.T) {
	env := contractreview.ResponseEnvelope{CaseID: "c", ReportMarkdown: "# Parecer"}
	md, err := encodeEnvelope(env, "md")
	if err != nil || string(md) != "# Parecer" {
		t.Fatalf("markdown = %q, %v", md, err)
	}
	js, err := encodeEnvelope(env, "json")
	if err != nil || !bytes.HasSuffix(js, []byte("}\n")) {
		t.Fatalf("json = %q, %v", js, err)
	}
	if _, err := encodeEnvelope(env, "yaml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestReadAndWriteIO(t *testing.T) {
	got, err := readInput(strings.NewReader("from stdin"), "-")
	if err != nil || string(got) != "from stdin" {
		t.Fatalf("readInput(-) = %q, %v", got, err)
	}

	path := filepath.Join(t.TempDir(), "out.md")
	if err := writeOutput(nil, path, []byte("arquivo")); err != nil {
		t.Fatalf("writeOutput: %v", err)
	}
	if got, err := readInput(nil, path); err != nil || string(got) != "arquivo" {
		t.Fatalf("readInput(file) = %q, %v", got, err)
	}

	var buf bytes.Buffer
	if err := writeOutput(&buf, "", []byte("stdout")); err != nil || buf.String() != "stdout" {
		t.Fatalf("writeOutput(stdout) = %q, %v", buf.String(), err)
	}
}

func TestOpenStore(t *testing.T) {
	mem, err := openStore(" ")
	if err != nil {
		t.Fatalf("openStore(memory): %v", err)
	}
	if _, ok := mem.(*store.MemoryStore); !ok {
		t.Fatalf("expected MemoryStore, got %T", mem)
	}

	path := filepath.Join(t.TempDir(), "review.db")
	db, err := openStore(path)
	if err != nil {
		t.Fatalf("openStore(sqlite): %v", err)
	}
	defer db.Close()
	if _, ok := db.(*store.SQLiteStore); !ok {
		t.Fatalf("expected SQLiteStore, got %T", db)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file not created: %v", err)
	}
}
