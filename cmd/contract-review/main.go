package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joelkehle/contract-review/internal/config"
	"github.com/joelkehle/contract-review/internal/contractreview"
	"github.com/joelkehle/contract-review/internal/llm"
	"github.com/joelkehle/contract-review/internal/logging"
	"github.com/joelkehle/contract-review/internal/observability"
	"github.com/joelkehle/contract-review/internal/store"
)

var version = "dev"

var (
	configPath string
	logMode    string
	logLevel   string

	cfg    config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:          "contract-review",
	Short:        "Chunked analysis of legal contracts with LLM extraction and synthesis",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-mode") {
			loaded.Log.Mode = logMode
		}
		if cmd.Flags().Changed("log-level") {
			loaded.Log.Level = logLevel
		}
		l, err := logging.New(loaded.Log.Mode, loaded.Log.Level)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		cfg = loaded
		logger = l
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logMode, "log-mode", "development", "log encoding: development or production")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "minimum log level")
	rootCmd.AddCommand(serveCmd, analyzeCmd, renderCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newPipeline(ctx context.Context, cfg config.Config) (*contractreview.Pipeline, error) {
	caller, err := llm.NewCaller(ctx, cfg.Caller())
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	return contractreview.NewPipeline(
		contractreview.NewLLMExtractor(caller),
		contractreview.NewLLMSynthesizer(caller),
		cfg.ContractReview(),
	), nil
}

func initTracing(ctx context.Context, cfg config.Config) (func(context.Context) error, error) {
	return observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
}

// openStore returns a SQLite store, or an in-memory one for an empty path.
func openStore(path string) (store.Store, error) {
	if strings.TrimSpace(path) == "" {
		return store.NewMemoryStore(), nil
	}
	s, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// readInput reads path, or stdin when path is "-".
func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// writeOutput writes to path, or to stdout when path is empty.
func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "" {
		_, err := stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
