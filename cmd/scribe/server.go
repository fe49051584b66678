package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/penwright/scribe/internal/api"
	"github.com/penwright/scribe/internal/memory"
)

const janitorInterval = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scribe server (HTTP + MCP stdio, foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "scribe version %s\n", version)

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing store: %v\n", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler := api.NewAppHandler(api.AppDeps{
		Runner: a.orch,
		Store:  a.store,
		Token:  a.cfg.Server.AuthToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", a.cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Cache janitor enforces the retention window in the background.
	go runCacheJanitor(ctx, a.store, a.cfg.Storage.CacheRetentionDays)

	// MCP server over stdio.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Runner: a.orch,
		Store:  a.store,
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
		fmt.Fprintf(os.Stderr, "scribe listening on %s\n", addr)
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

// runCacheJanitor periodically deletes cache entries past the retention
// window. It runs once immediately, then on every tick.
func runCacheJanitor(ctx context.Context, store *memory.Store, retentionDays int) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		deleted, err := store.ClearOldCache(retentionDays)
		if err != nil {
			slog.Error("cache janitor sweep failed", "error", err)
		} else if deleted > 0 {
			slog.Info("cache janitor removed stale entries", "deleted", deleted, "retention_days", retentionDays)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
