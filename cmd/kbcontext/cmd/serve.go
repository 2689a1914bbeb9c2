package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/kbcontext/internal/config"
	"github.com/Aman-CERP/kbcontext/internal/logging"
	"github.com/Aman-CERP/kbcontext/internal/mcp"
	"github.com/Aman-CERP/kbcontext/internal/watcher"
)

const telemetryFlushInterval = 30 * time.Second

func newServeCmd(g *globalOptions) *cobra.Command {
	var transport string
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the Model Context Protocol server over stdio.

Tools:
  retrieve_context   semantic retrieval with keyword fallback
  retrieve_keyword   keyword-only retrieval
  kb_status          knowledge base and embedder health
  kb_reload          reload the knowledge base files

Logs go to ~/.kbcontext/logs/; stdout carries only JSON-RPC.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, g, transport, watch)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "", "Transport protocol (stdio); default from config")
	cmd.Flags().BoolVar(&watch, "watch", false, "Reload the knowledge base when its files change")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, g *globalOptions, transport string, watch bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(g.dir)
	if err != nil {
		slog.Error("config_load_failed", slog.String("error", err.Error()))
		return err
	}
	if !g.debug && cfg.Server.LogLevel != "" {
		if g.loggingCleanup != nil {
			g.loggingCleanup()
		}
		cleanup, err := logging.SetupDefault(logging.ServerConfig(cfg.Server.LogLevel))
		if err != nil {
			return fmt.Errorf("failed to setup logging: %w", err)
		}
		g.loggingCleanup = cleanup
	}
	if transport == "" {
		transport = cfg.Server.Transport
	}

	a, err := openApp(ctx, cfg, appOptions{flushEvery: telemetryFlushInterval})
	if err != nil {
		slog.Error("startup_failed", slog.String("error", err.Error()))
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("close_failed", slog.String("error", err.Error()))
		}
	}()

	srv, err := mcp.NewServer(a.service, a.embedder, cfg)
	if err != nil {
		return err
	}
	srv.SetReloader(a.reloader.Reload)
	if a.recorder != nil {
		srv.SetTelemetry(a.recorder)
	}

	grp, gctx := errgroup.WithContext(ctx)
	if watch || cfg.Watch.Enabled {
		w, err := newKBWatcher(cfg)
		if err != nil {
			slog.Warn("watcher_unavailable", slog.String("error", err.Error()))
		} else {
			slog.Info("watching_kb", slog.String("dir", cfg.KBDir()), slog.String("mode", w.Mode()))
			grp.Go(func() error {
				watcher.Serve(gctx, w.Events(), func(ctx context.Context) error {
					_, err := a.reloader.Reload(ctx)
					return err
				})
				return nil
			})
			grp.Go(func() error {
				defer func() { _ = w.Stop() }()
				// A watcher failure leaves the server running without hot reload.
				if err := w.Start(gctx); err != nil && gctx.Err() == nil {
					slog.Warn("watcher_stopped", slog.String("error", err.Error()))
				}
				return nil
			})
		}
	}

	grp.Go(func() error {
		defer stop()
		return srv.Serve(gctx, transport)
	})
	return grp.Wait()
}

// newKBWatcher watches the knowledge base files named in cfg.
func newKBWatcher(cfg *config.Config) (*watcher.Watcher, error) {
	opts := watcher.DefaultOptions()
	if d := cfg.Watch.Debounce.Std(); d > 0 {
		opts.DebounceWindow = d
	}
	files := []string{filepath.Base(cfg.ChunksPath()), filepath.Base(cfg.EmbeddingsPath())}
	if meta := cfg.MetaPath(); meta != "" {
		files = append(files, filepath.Base(meta))
	}
	return watcher.New(cfg.KBDir(), files, opts)
}
