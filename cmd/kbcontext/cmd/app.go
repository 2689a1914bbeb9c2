package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/kbcontext/internal/config"
	"github.com/Aman-CERP/kbcontext/internal/embed"
	"github.com/Aman-CERP/kbcontext/internal/kb"
	"github.com/Aman-CERP/kbcontext/internal/retrieval"
	"github.com/Aman-CERP/kbcontext/internal/telemetry"
)

// app is the wired retrieval stack shared by query, serve and explore.
type app struct {
	cfg      *config.Config
	embedder embed.Embedder
	service  *retrieval.Service
	reloader *kb.Reloader
	loaded   kb.InitResult

	recorder *telemetry.Recorder
	store    *telemetry.SQLiteStore
}

// appOptions tunes openApp.
type appOptions struct {
	// keywordOnly skips building an embedder.
	keywordOnly bool
	// flushEvery writes telemetry in the background. Zero flushes on Close only.
	flushEvery time.Duration
}

// loadConfig resolves the project root from dir and loads its configuration.
func loadConfig(dir string) (*config.Config, error) {
	root, err := config.FindProjectRoot(dir)
	if err != nil {
		return nil, err
	}
	return config.Load(root)
}

// openApp loads the knowledge base and wires the retrieval service. A
// degraded or unavailable knowledge base is not an error; the service
// reports it on every call.
func openApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg}

	if !opts.keywordOnly {
		emb, err := embed.New(cfg.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("create embedder: %w", err)
		}
		a.embedder = emb
	}

	loadOpts := kb.OptionsFromConfig(cfg)
	a.loaded = kb.Initialize(ctx, loadOpts)
	if !a.loaded.Ready() {
		slog.Warn("kb_not_ready",
			slog.String("state", a.loaded.State.String()),
			slog.String("reason", a.loaded.Reason))
	}

	retrievalOpts := []retrieval.Option{
		retrieval.WithEmbedTimeout(cfg.Retrieval.EmbedTimeout.Std()),
		retrieval.WithMinQueryLength(cfg.Retrieval.MinQueryLength),
		retrieval.WithScoreTolerance(cfg.Retrieval.ScoreTolerance),
	}

	if cfg.Telemetry.Enabled {
		store, err := telemetry.OpenStore(cfg.Telemetry.Path)
		if err != nil {
			// Telemetry is advisory; retrieval works without it.
			slog.Warn("telemetry_unavailable", slog.String("error", err.Error()))
		} else {
			a.store = store
			a.recorder = telemetry.NewRecorder(telemetry.WithStore(store), telemetry.WithFlushInterval(opts.flushEvery))
			retrievalOpts = append(retrievalOpts, retrieval.WithObserver(a.recorder))
		}
	}

	a.service = retrieval.New(a.loaded.Snapshot, a.embedder, retrievalOpts...)
	a.reloader = kb.NewReloader(loadOpts, a.service)
	return a, nil
}

// Close flushes telemetry and releases the knowledge base and embedder.
func (a *app) Close() error {
	var errs []error
	if a.recorder != nil {
		errs = append(errs, a.recorder.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.service != nil {
		errs = append(errs, a.service.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	return errors.Join(errs...)
}
