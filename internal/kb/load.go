package kb

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/kbcontext/internal/config"
	"github.com/Aman-CERP/kbcontext/internal/corpus"
	kberrors "github.com/Aman-CERP/kbcontext/internal/errors"
	"github.com/Aman-CERP/kbcontext/internal/keyword"
	"github.com/Aman-CERP/kbcontext/internal/vector"
)

// Keyword modes.
const (
	KeywordScan = "scan"
	KeywordBM25 = "bm25"
)

// Options locates the knowledge base files and selects index backends.
type Options struct {
	ChunksPath     string
	EmbeddingsPath string
	// MetaPath is optional.
	MetaPath    string
	Vector      vector.LoadOptions
	KeywordMode string
	// LockTimeout bounds the wait for the shared directory lock. Zero skips locking.
	LockTimeout time.Duration
}

// OptionsFromConfig maps configuration onto loader options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ChunksPath:     cfg.ChunksPath(),
		EmbeddingsPath: cfg.EmbeddingsPath(),
		MetaPath:       cfg.MetaPath(),
		Vector: vector.LoadOptions{
			Backend: cfg.Vector.Backend,
			HNSW:    vector.HNSWConfig{M: cfg.Vector.M, EfSearch: cfg.Vector.EfSearch},
		},
		KeywordMode: cfg.Retrieval.KeywordMode,
		LockTimeout: cfg.KB.LockTimeout.Std(),
	}
}

// InitResult is the outcome of Initialize. Snapshot is always usable; State
// and Reason say how much of it works. Err carries the underlying cause for
// a non-ready state.
type InitResult struct {
	Snapshot *Snapshot
	State    State
	Reason   string
	Err      error
}

// Ready reports whether vector ranking is available.
func (r InitResult) Ready() bool { return r.State == StateReady }

// Initialize loads the knowledge base. The corpus and the matrix are read in
// parallel under a shared directory lock; the matrix is only indexed once it
// is known to match the corpus row count.
func Initialize(ctx context.Context, opts Options) InitResult {
	start := time.Now()

	unlock := lockDir(ctx, filepath.Dir(opts.ChunksPath), opts.LockTimeout)
	defer unlock()

	var (
		store     *corpus.Store
		corpusErr error
		matrix    *vector.Matrix
		matrixErr error
		meta      *Meta
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		store, corpusErr = corpus.Load(gctx, opts.ChunksPath)
		return nil
	})
	g.Go(func() error {
		matrix, matrixErr = vector.ReadMatrixFile(gctx, opts.EmbeddingsPath)
		return nil
	})
	g.Go(func() error {
		m, err := ReadMeta(opts.MetaPath)
		if err != nil {
			slog.Warn("kb_meta_unreadable", slog.String("path", opts.MetaPath), slog.String("error", err.Error()))
		}
		meta = m
		return nil
	})
	_ = g.Wait()

	if ctx.Err() != nil {
		snap := NewSnapshot(corpus.Empty(), nil, nil)
		return InitResult{Snapshot: snap, State: StateUnavailable, Reason: "load cancelled", Err: ctx.Err()}
	}

	if corpusErr != nil || store.Size() == 0 {
		snap := NewSnapshot(corpus.Empty(), nil, nil)
		snap.Meta = meta
		res := InitResult{Snapshot: snap, State: StateUnavailable, Reason: snap.Reason, Err: corpusErr}
		if corpusErr != nil {
			res.Reason = "corpus unavailable"
			snap.Reason = res.Reason
		}
		logResult(res, opts, start)
		return res
	}

	vectors, vecErr := vector.FromRead(opts.EmbeddingsPath, matrix, matrixErr, store.Size(), opts.Vector)
	snap := NewSnapshot(store, vectors, buildKeyword(ctx, store, opts.KeywordMode))
	snap.Meta = meta
	checkMeta(meta, snap)

	res := InitResult{Snapshot: snap, State: snap.State, Reason: snap.Reason, Err: vecErr}
	logResult(res, opts, start)
	return res
}

func buildKeyword(ctx context.Context, store *corpus.Store, mode string) keyword.Searcher {
	if mode != KeywordBM25 {
		return keyword.NewScan(store)
	}
	idx, err := keyword.NewBM25(ctx, store)
	if err != nil {
		slog.Warn("bm25_index_failed", slog.String("error", err.Error()))
		return keyword.NewScan(store)
	}
	return idx
}

func checkMeta(meta *Meta, snap *Snapshot) {
	if meta == nil || snap.State != StateReady {
		return
	}
	if meta.Dimensions > 0 && meta.Dimensions != snap.Vectors.Dimensions() {
		slog.Warn("kb_meta_dimension_mismatch",
			slog.Int("meta_dimensions", meta.Dimensions),
			slog.Int("matrix_dimensions", snap.Vectors.Dimensions()))
	}
	if meta.Count > 0 && meta.Count != snap.Corpus.Size() {
		slog.Warn("kb_meta_count_mismatch",
			slog.Int("meta_count", meta.Count),
			slog.Int("chunks", snap.Corpus.Size()))
	}
}

// lockDir takes the shared KB lock. A missing directory or a lock that
// cannot be had in time is logged and loading proceeds unlocked.
func lockDir(ctx context.Context, dir string, timeout time.Duration) func() {
	if timeout <= 0 {
		return func() {}
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return func() {}
	}

	lock := NewFileLock(dir)
	if err := lock.RLock(ctx, timeout); err != nil {
		slog.Warn("kb_lock_unavailable", kberrors.LogArgs(err)...)
		return func() {}
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("kb_unlock_failed", slog.String("error", err.Error()))
		}
	}
}

func logResult(res InitResult, opts Options, start time.Time) {
	attrs := []any{
		slog.String("state", res.State.String()),
		slog.String("chunks_path", opts.ChunksPath),
		slog.String("embeddings_path", opts.EmbeddingsPath),
		slog.Int("chunks", res.Snapshot.Corpus.Size()),
		slog.Int("vectors", res.Snapshot.Vectors.Len()),
		slog.String("backend", res.Snapshot.Vectors.Backend()),
		slog.Duration("duration", time.Since(start)),
	}
	if res.State == StateReady {
		slog.Info("kb_loaded", attrs...)
		return
	}
	attrs = append(attrs, slog.String("reason", res.Reason))
	if res.Err != nil {
		attrs = append(attrs, kberrors.LogArgs(res.Err)...)
	}
	slog.Warn("kb_degraded", attrs...)
}

// String renders r for status output.
func (r InitResult) String() string {
	if r.Reason == "" {
		return r.State.String()
	}
	return fmt.Sprintf("%s (%s)", r.State, r.Reason)
}
