package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joelkehle/contract-review/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP analysis service",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := initTracing(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	st, err := openStore(cfg.Server.SQLitePath)
	if err != nil {
		return err
	}
	defer st.Close()

	pipeline, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}

	// Queued runs outlive the listener so Close can drain them.
	runCtx, cancelRuns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRuns()
	srv := server.New(runCtx, pipeline, st, server.Options{
		Workers:        cfg.Server.Workers,
		QueueSize:      cfg.Server.QueueSize,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		ChromePath:     cfg.Server.ChromePath,
		ReportCSS:      cfg.Server.ReportCSS,
	})

	httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: srv, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		// A second signal kills the process instead of waiting for the drain.
		stop()
		httpSrv.Close()
	}()

	logger.Info("contract review listening",
		zap.String("addr", cfg.Server.Addr),
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", cfg.LLM.Model),
		zap.String("sqlite_path", cfg.Server.SQLitePath),
		zap.Int("workers", cfg.Server.Workers),
	)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		srv.Close()
		return err
	}
	logger.Info("draining queued analyses")
	srv.Close()
	logger.Info("contract review stopped")
	return nil
}
