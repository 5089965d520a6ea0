package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joelkehle/contract-review/internal/contractreview"
	"github.com/joelkehle/contract-review/internal/server"
)

var renderFlags struct {
	format string
	out    string
}

var renderCmd = &cobra.Command{
	Use:   "render <envelope.json|->",
	Short: "Rebuild the report of a saved response envelope",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(cmd.InOrStdin(), args[0])
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		htmlRenderer := server.NewHTMLRenderer(cfg.Server.ReportCSS)
		pdfRenderer := server.NewChromiumPDFRenderer(htmlRenderer, cfg.Server.ChromePath)
		out, err := renderEnvelope(cmd.Context(), data, renderFlags.format, htmlRenderer, pdfRenderer)
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), renderFlags.out, out)
	},
}

func init() {
	f := renderCmd.Flags()
	f.StringVar(&renderFlags.format, "format", "markdown", "output format: markdown, json, html or pdf")
	f.StringVar(&renderFlags.out, "out", "", "output path (defaults to stdout)")
}

// renderEnvelope regenerates the report from a stored envelope without any
// model call.
func renderEnvelope(ctx context.Context, data []byte, format string, htmlRenderer *server.HTMLRenderer, pdfRenderer server.ReportPDFRenderer) ([]byte, error) {
	env, err := contractreview.DecodeResponseEnvelope(data)
	if err != nil {
		return nil, err
	}
	rebuilt := contractreview.RebuildResponseFromEnvelope(env)

	switch format {
	case "markdown", "md", "json":
		return encodeEnvelope(rebuilt, format)
	case "html", "pdf":
	default:
		return nil, fmt.Errorf("unknown format %q (want markdown, json, html or pdf)", format)
	}

	encoded, err := json.Marshal(rebuilt)
	if err != nil {
		return nil, err
	}
	if format == "html" {
		doc, err := htmlRenderer.Render(string(encoded))
		if err != nil {
			return nil, err
		}
		return []byte(doc), nil
	}
	pdf, err := pdfRenderer.Render(ctx, string(encoded))
	if err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return pdf, nil
}
