package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joelkehle/contract-review/internal/contractreview"
)

var analyzeFlags struct {
	caseID       string
	instructions string
	warnings     []string
	format       string
	out          string
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file|->",
	Short: "Analyze one contract from a text file or stdin",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVar(&analyzeFlags.caseID, "case-id", "", "case identifier (generated when empty)")
	f.StringVar(&analyzeFlags.instructions, "instructions", "", "free-text guidance for the analysis")
	f.StringArrayVar(&analyzeFlags.warnings, "warning", nil, "priority topic to check (repeatable)")
	f.StringVar(&analyzeFlags.format, "format", "json", "output format: json or markdown")
	f.StringVar(&analyzeFlags.out, "out", "", "output path (defaults to stdout)")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	switch analyzeFlags.format {
	case "json", "markdown", "md":
	default:
		return fmt.Errorf("unknown format %q (want json or markdown)", analyzeFlags.format)
	}
	data, err := readInput(cmd.InOrStdin(), args[0])
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	req, err := buildRequest(data, args[0], analyzeFlags.caseID, analyzeFlags.instructions, analyzeFlags.warnings)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	shutdownTracing, err := initTracing(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.WithoutCancel(ctx)) }()

	pipeline, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	res, runErr := pipeline.RunWithProgress(ctx, req, func(stage, message string) {
		logger.Info(message, zap.String("stage", stage), zap.String("case_id", req.CaseID))
	})

	out, err := encodeEnvelope(contractreview.BuildResponse(res), analyzeFlags.format)
	if err != nil {
		return err
	}
	if err := writeOutput(cmd.OutOrStdout(), analyzeFlags.out, out); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	if runErr != nil {
		return fmt.Errorf("analysis failed (%s): %w", res.Metadata.ErrorKind, runErr)
	}
	return nil
}

func buildRequest(data []byte, source, caseID, instructions string, warnings []string) (contractreview.RequestEnvelope, error) {
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return contractreview.RequestEnvelope{}, errors.New("PDF input is not supported, extract the text first")
	}
	caseID = strings.TrimSpace(caseID)
	if caseID == "" {
		caseID = "CR-" + strings.ToUpper(uuid.NewString()[:8])
	}
	filename := ""
	if source != "-" {
		filename = filepath.Base(source)
	}
	var cleaned []string
	for _, w := range warnings {
		if w = strings.TrimSpace(w); w != "" {
			cleaned = append(cleaned, w)
		}
	}
	return contractreview.RequestEnvelope{
		CaseID:       caseID,
		DocumentText: contractreview.CleanText(string(data)),
		Instructions: strings.TrimSpace(instructions),
		Warnings:     cleaned,
		Metadata: contractreview.RequestMetadata{
			SourceFilename: filename,
			ContentType:    "text/plain",
		},
	}, nil
}

func encodeEnvelope(env contractreview.ResponseEnvelope, format string) ([]byte, error) {
	switch format {
	case "json":
		b, err := json.MarshalIndent(env, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	case "markdown", "md":
		return []byte(env.ReportMarkdown), nil
	default:
		return nil, fmt.Errorf("unknown format %q (want json or markdown)", format)
	}
}
