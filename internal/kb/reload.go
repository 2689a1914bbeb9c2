package kb

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	kberrors "github.com/Aman-CERP/kbcontext/internal/errors"
)

// Swapper holds the active snapshot. Swap must reject a misaligned snapshot
// and keep the current one.
type Swapper interface {
	Current() *Snapshot
	Swap(next *Snapshot) error
}

// Reloader rebuilds snapshots from disk and installs them. Concurrent
// Reload calls share one load.
type Reloader struct {
	opts   Options
	target Swapper
	group  singleflight.Group
	load   func(context.Context, Options) InitResult
}

// NewReloader creates a reloader that installs snapshots into target.
func NewReloader(opts Options, target Swapper) *Reloader {
	return &Reloader{opts: opts, target: target, load: Initialize}
}

// Reload loads the knowledge base again. The new snapshot is installed only
// if its files line up and it is at least as usable as the current one;
// otherwise it is discarded and an ErrCodeSnapshotRejected error is returned.
func (r *Reloader) Reload(ctx context.Context) (*Snapshot, error) {
	v, err, shared := r.group.Do("reload", func() (any, error) {
		return r.reload(ctx)
	})
	if shared {
		slog.Debug("kb_reload_shared")
	}
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (r *Reloader) reload(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	res := r.load(ctx, r.opts)
	next := res.Snapshot

	current := r.target.Current()
	if current != nil {
		next.Generation = current.Generation + 1
		misaligned := kberrors.GetCode(res.Err) == kberrors.ErrCodeCorpusMisaligned
		if misaligned || res.State > current.State {
			_ = next.Close()
			err := kberrors.New(kberrors.ErrCodeSnapshotRejected,
				"reloaded knowledge base is "+res.String()+"; keeping the current "+current.State.String()+" snapshot", res.Err).
				WithDetail("current_generation", strconv.FormatUint(current.Generation, 10))
			slog.Warn("kb_reload_rejected", kberrors.LogArgs(err)...)
			return nil, err
		}
	}

	if err := r.target.Swap(next); err != nil {
		_ = next.Close()
		slog.Warn("kb_reload_rejected", kberrors.LogArgs(err)...)
		return nil, err
	}

	slog.Info("kb_reloaded",
		slog.Uint64("generation", next.Generation),
		slog.String("state", next.State.String()),
		slog.Int("chunks", next.Corpus.Size()),
		slog.Duration("duration", time.Since(start)))
	return next, nil
}
