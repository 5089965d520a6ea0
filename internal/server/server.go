// Package server exposes the contract review pipeline over HTTP. Analyses are
// queued on a bounded worker pool and their envelopes kept in a store.Store.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joelkehle/contract-review/internal/contractreview"
	"github.com/joelkehle/contract-review/internal/store"
)

// Runner is satisfied by *contractreview.Pipeline.
type Runner interface {
	RunWithProgress(ctx context.Context, req contractreview.RequestEnvelope, progress contractreview.StageProgressFn) (contractreview.PipelineResult, error)
}

type Options struct {
	Workers        int
	QueueSize      int
	MaxUploadBytes int64
	ChromePath     string
	ReportCSS      string
}

type Server struct {
	runner      Runner
	store       store.Store
	html        *HTMLRenderer
	pdfRenderer ReportPDFRenderer
	dispatcher  *Dispatcher
	maxUpload   int64
	log         *zap.Logger
	mux         *http.ServeMux
}

// New builds the server and starts its workers. ctx bounds queued runs;
// call Close after the HTTP listener stops to drain the queue.
func New(ctx context.Context, runner Runner, st store.Store, opts Options) *Server {
	htmlRenderer := NewHTMLRenderer(opts.ReportCSS)
	return newServer(ctx, runner, st, opts, htmlRenderer, NewChromiumPDFRenderer(htmlRenderer, opts.ChromePath))
}

func newServer(ctx context.Context, runner Runner, st store.Store, opts Options, htmlRenderer *HTMLRenderer, pdfRenderer ReportPDFRenderer) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	s := &Server{
		runner:      runner,
		store:       st,
		html:        htmlRenderer,
		pdfRenderer: pdfRenderer,
		maxUpload:   opts.MaxUploadBytes,
		log:         zap.L().Named("server"),
	}
	s.dispatcher = NewDispatcher(ctx, opts.Workers, opts.QueueSize, func(ctx context.Context, job Job) {
		s.execute(ctx, job)
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/analyze", s.handleAnalyze)
	mux.HandleFunc("/submissions", s.handleSubmissions)
	mux.HandleFunc("/status/", s.handleStatus)
	mux.HandleFunc("/result/", s.handleResult)
	mux.HandleFunc("/report/", s.handleReport)
	mux.HandleFunc("/report-html/", s.handleReportHTML)
	mux.HandleFunc("/report-pdf/", s.handleReportPDF)
	mux.HandleFunc("/report-pdf-inline", s.handleReportPDFInline)
	mux.HandleFunc("/healthz", s.handleHealth)
	s.mux = mux
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close stops accepting analyses and waits for queued ones to finish.
func (s *Server) Close() {
	s.dispatcher.Close()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// statusForKind maps a run's error kind onto the HTTP status of its result.
func statusForKind(kind contractreview.ErrorKind) int {
	switch kind {
	case contractreview.KindNone:
		return http.StatusOK
	case contractreview.KindStructural:
		return http.StatusUnprocessableEntity
	case contractreview.KindAllChunksFailed, contractreview.KindSynthesisFailed:
		return http.StatusBadGateway
	case contractreview.KindCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var stageStates = map[string]contractreview.State{
	contractreview.StageChunking:    contractreview.StateChunking,
	contractreview.StageExtraction:  contractreview.StatePerChunkExtraction,
	contractreview.StageAggregating: contractreview.StateAggregating,
	contractreview.StageSynthesis:   contractreview.StateSynthesizing,
}

// execute runs one job and records its envelope. Store writes outlive ctx so
// a run cancelled at shutdown is still recorded as cancelled.
func (s *Server) execute(ctx context.Context, job Job) contractreview.ResponseEnvelope {
	storeCtx := context.WithoutCancel(ctx)
	log := s.log.With(zap.String("token", job.Token), zap.String("case_id", job.Request.CaseID))

	progress := func(stage, message string) {
		log.Debug("progress", zap.String("stage", stage), zap.String("message", message))
		state, ok := stageStates[stage]
		if !ok {
			return
		}
		if err := s.store.SetState(storeCtx, job.Token, state); err != nil {
			log.Warn("update submission state failed", zap.Error(err))
		}
	}
	res, runErr := s.runner.RunWithProgress(ctx, job.Request, progress)
	env := contractreview.BuildResponse(res)
	body, err := json.Marshal(env)
	if err != nil {
		log.Error("encode response failed", zap.Error(err))
		body = nil
	}

	if runErr != nil {
		kind := res.Metadata.ErrorKind
		if kind == contractreview.KindNone {
			kind = contractreview.KindOf(runErr)
		}
		if err := s.store.Fail(storeCtx, job.Token, kind, runErr.Error(), body); err != nil {
			log.Error("record failed submission failed", zap.Error(err))
		}
		log.Info("analysis failed", zap.String("error_kind", string(kind)), zap.Error(runErr))
		return env
	}
	if err := s.store.Complete(storeCtx, job.Token, body); err != nil {
		log.Error("record completed submission failed", zap.Error(err))
	}
	return env
}

type analyzeRequest struct {
	CaseID       string   `json:"case_id"`
	Text         string   `json:"text"`
	Instructions string   `json:"instructions"`
	Warnings     []string `json:"warnings"`
	Filename     string   `json:"filename"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	req, status, err := s.decodeAnalyzeRequest(r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	sub, err := s.store.Create(r.Context(), req.CaseID, req.Metadata.SourceFilename)
	if err != nil {
		s.log.Error("create submission failed", zap.Error(err))
		writeError(w, 500, "failed to create submission")
		return
	}
	job := Job{Token: sub.Token, Request: req}

	if inline, _ := strconv.ParseBool(r.URL.Query().Get("sync")); inline {
		env := s.execute(r.Context(), job)
		w.Header().Set("X-Submission-Token", sub.Token)
		writeJSON(w, statusForKind(env.PipelineMetadata.ErrorKind), env)
		return
	}
	if err := s.dispatcher.Submit(job); err != nil {
		s.log.Warn("queue analysis failed", zap.String("token", sub.Token), zap.Error(err))
		_ = s.store.Fail(context.WithoutCancel(r.Context()), sub.Token, contractreview.KindCancelled, err.Error(), nil)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"token":      sub.Token,
		"case_id":    sub.CaseID,
		"status":     sub.Status,
		"status_url": "/status/" + sub.Token,
	})
}

func (s *Server) decodeAnalyzeRequest(r *http.Request) (contractreview.RequestEnvelope, int, error) {
	var in analyzeRequest
	contentType := ""
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			return contractreview.RequestEnvelope{}, bodyErrorStatus(err), errors.New("invalid JSON body")
		}
		contentType = "text/plain"
	case "multipart/form-data":
		if err := r.ParseMultipartForm(s.maxUpload); err != nil {
			return contractreview.RequestEnvelope{}, bodyErrorStatus(err), errors.New("invalid multipart form")
		}
		in.CaseID = r.FormValue("case_number")
		if in.CaseID == "" {
			in.CaseID = r.FormValue("case_id")
		}
		in.Instructions = r.FormValue("instructions")
		in.Warnings = strings.Split(r.FormValue("warnings"), "\n")
		in.Text = r.FormValue("text")
		contentType = "text/plain"

		file, header, err := r.FormFile("file")
		switch {
		case err == nil:
			defer file.Close()
			b, err := io.ReadAll(file)
			if err != nil {
				return contractreview.RequestEnvelope{}, bodyErrorStatus(err), errors.New("failed to read uploaded file")
			}
			ct := header.Header.Get("Content-Type")
			if isPDF(header.Filename, ct, b) {
				return contractreview.RequestEnvelope{}, http.StatusUnsupportedMediaType, errors.New("PDF uploads are not supported, send the extracted text")
			}
			in.Text = string(b)
			in.Filename = header.Filename
			if ct != "" {
				contentType = ct
			}
		case errors.Is(err, http.ErrMissingFile):
		default:
			return contractreview.RequestEnvelope{}, 400, errors.New("invalid file field")
		}
	default:
		return contractreview.RequestEnvelope{}, http.StatusUnsupportedMediaType, errors.New("content type must be multipart/form-data or application/json")
	}

	if in.Text == "" {
		return contractreview.RequestEnvelope{}, 400, errors.New("text or file is required")
	}
	caseID := strings.TrimSpace(in.CaseID)
	if caseID == "" {
		caseID = "CR-" + strings.ToUpper(uuid.NewString()[:8])
	}
	filename := strings.TrimSpace(in.Filename)
	if filename != "" {
		filename = filepath.Base(filename)
	}
	var warnings []string
	for _, w := range in.Warnings {
		if w = strings.TrimSpace(w); w != "" {
			warnings = append(warnings, w)
		}
	}
	return contractreview.RequestEnvelope{
		CaseID:       caseID,
		DocumentText: contractreview.CleanText(in.Text),
		Instructions: strings.TrimSpace(in.Instructions),
		Warnings:     warnings,
		Metadata: contractreview.RequestMetadata{
			SourceFilename: filename,
			ContentType:    contentType,
		},
	}, 0, nil
}

func bodyErrorStatus(err error) int {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func isPDF(filename, contentType string, body []byte) bool {
	if strings.EqualFold(filepath.Ext(filename), ".pdf") || strings.HasPrefix(contentType, "application/pdf") {
		return true
	}
	return bytes.HasPrefix(body, []byte("%PDF-"))
}

func (s *Server) handleSubmissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, 400, "limit must be a positive integer")
			return
		}
		limit = n
	}
	subs, err := s.store.List(r.Context(), limit)
	if err != nil {
		s.log.Error("list submissions failed", zap.Error(err))
		writeError(w, 500, "failed to list submissions")
		return
	}
	writeJSON(w, 200, map[string]any{"submissions": subs})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sub, ok := s.lookup(w, r, "/status/")
	if !ok {
		return
	}
	writeJSON(w, 200, sub)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sub, ok := s.lookup(w, r, "/result/")
	if !ok {
		return
	}
	if !sub.Done() {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"token":          sub.Token,
			"status":         sub.Status,
			"pipeline_state": sub.State,
		})
		return
	}
	if len(sub.Response) == 0 {
		writeError(w, statusForKind(sub.ErrorKind), sub.Error)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForKind(sub.ErrorKind))
	_, _ = w.Write(sub.Response)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sub, ok := s.lookupReport(w, r, "/report/")
	if !ok {
		return
	}
	env, err := contractreview.DecodeResponseEnvelope(sub.Response)
	if err != nil {
		s.log.Error("decode stored envelope failed", zap.String("token", sub.Token), zap.Error(err))
		writeError(w, 500, "stored result is unreadable")
		return
	}
	if strings.TrimSpace(env.ReportMarkdown) == "" {
		env = contractreview.RebuildResponseFromEnvelope(env)
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(200)
	_, _ = w.Write([]byte(env.ReportMarkdown))
}

func (s *Server) handleReportHTML(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sub, ok := s.lookupReport(w, r, "/report-html/")
	if !ok {
		return
	}
	doc, err := s.html.Render(string(sub.Response))
	if err != nil {
		s.log.Error("render report html failed", zap.String("token", sub.Token), zap.Error(err))
		writeError(w, 500, "failed to render html")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(200)
	_, _ = w.Write([]byte(doc))
}

func (s *Server) handleReportPDF(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.pdfRenderer == nil {
		writeError(w, 503, "pdf renderer unavailable")
		return
	}
	sub, ok := s.lookupReport(w, r, "/report-pdf/")
	if !ok {
		return
	}
	pdf, err := s.pdfRenderer.Render(r.Context(), string(sub.Response))
	if err != nil {
		s.log.Error("render report pdf failed", zap.String("token", sub.Token), zap.Error(err))
		writeError(w, 500, "failed to render pdf")
		return
	}
	filename := fmt.Sprintf("parecer-%s.pdf", sanitizeFilename(sub.CaseID))
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(200)
	_, _ = w.Write(pdf)
}

func (s *Server) handleReportPDFInline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.pdfRenderer == nil {
		writeError(w, 503, "pdf renderer unavailable")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 5<<20))
	if err != nil {
		writeError(w, 400, "invalid request body")
		return
	}
	report := strings.TrimSpace(string(body))
	if report == "" {
		writeError(w, 400, "report body is required")
		return
	}
	pdf, err := s.pdfRenderer.Render(r.Context(), report)
	if err != nil {
		s.log.Error("render inline report pdf failed", zap.Error(err))
		writeError(w, 500, "failed to render pdf")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="parecer.pdf"`)
	w.WriteHeader(200)
	_, _ = w.Write(pdf)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true, "queue_depth": s.dispatcher.Depth()})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request, prefix string) (store.Submission, bool) {
	token := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if token == "" {
		writeError(w, 400, "token is required")
		return store.Submission{}, false
	}
	sub, err := s.store.Get(r.Context(), token)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, 404, "submission not found")
		return store.Submission{}, false
	}
	if err != nil {
		s.log.Error("load submission failed", zap.String("token", token), zap.Error(err))
		writeError(w, 500, "failed to load submission")
		return store.Submission{}, false
	}
	return sub, true
}

// lookupReport is lookup for runs that produced an envelope. Failed runs have
// one too, carrying the failure section.
func (s *Server) lookupReport(w http.ResponseWriter, r *http.Request, prefix string) (store.Submission, bool) {
	sub, ok := s.lookup(w, r, prefix)
	if !ok {
		return store.Submission{}, false
	}
	if !sub.Done() || len(sub.Response) == 0 {
		writeError(w, 404, "report not ready")
		return store.Submission{}, false
	}
	return sub, true
}

func sanitizeFilename(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "relatorio"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, v)
}
