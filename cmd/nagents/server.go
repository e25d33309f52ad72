package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/nchua-brex/nchua-agents/internal/api"
	"github.com/nchua-brex/nchua-agents/internal/config"
	"github.com/nchua-brex/nchua-agents/internal/extraction"
	"github.com/nchua-brex/nchua-agents/internal/patterns"
	"github.com/nchua-brex/nchua-agents/internal/warehouse"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the nagents server (REST API + MCP stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "nagents version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	if cfg.Server.APIToken == "" {
		return fmt.Errorf("missing API token: set NAGENTS_API_TOKEN")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := patterns.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening pattern store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing pattern store: %v\n", err)
		}
	}()

	executor, closeExecutor, err := newExecutor(cfg)
	if err != nil {
		return err
	}
	defer closeExecutor()

	svc := extraction.NewService(store, executor)

	handler := api.NewHandler(api.Deps{
		Store:     store,
		Extractor: svc,
		Token:     cfg.Server.APIToken,
		ExportDir: cfg.Export.OutputDir,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP server on stdio transport.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:     store,
		Extractor: svc,
		ExportDir: cfg.Export.OutputDir,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		slog.Info("nagents listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newExecutor opens the configured warehouse, or returns a stub that
// reports the warehouse as unconfigured so pattern management still
// works without one.
func newExecutor(cfg config.Config) (warehouse.Executor, func(), error) {
	if cfg.Warehouse.Driver == "" || cfg.Warehouse.DSN == "" {
		slog.Warn("warehouse not configured; extraction endpoints will refuse queries")
		return unconfiguredExecutor{}, func() {}, nil
	}

	timeout := time.Duration(cfg.Warehouse.QueryTimeoutSeconds) * time.Second
	exec, err := warehouse.OpenSQL(cfg.Warehouse.Driver, cfg.Warehouse.DSN, timeout)
	if err != nil {
		return nil, nil, fmt.Errorf("opening warehouse: %w", err)
	}
	return exec, func() {
		if err := exec.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing warehouse: %v\n", err)
		}
	}, nil
}

type unconfiguredExecutor struct{}

func (unconfiguredExecutor) Execute(context.Context, string) (*warehouse.Table, error) {
	return nil, errors.New("warehouse not configured: set warehouse.driver and NAGENTS_WAREHOUSE_DSN")
}
