package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a set of files in one directory.
type Watcher struct {
	dir       string
	tracked   map[string]bool
	opts      Options
	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer
	errors    chan error

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
	state   map[string]fileState
}

type fileState struct {
	modTime time.Time
	size    int64
}

// New creates a watcher for files (base names) inside dir. It falls back to
// polling if fsnotify cannot be initialized.
func New(dir string, files []string, opts Options) (*Watcher, error) {
	opts = opts.WithDefaults()

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute path: %w", err)
	}

	w := &Watcher{
		dir:       abs,
		tracked:   make(map[string]bool, len(files)),
		opts:      opts,
		debouncer: NewDebouncer(opts.DebounceWindow),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		state:     make(map[string]fileState),
	}
	for _, f := range files {
		if f != "" {
			w.tracked[filepath.Base(f)] = true
		}
	}

	if !opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			slog.Warn("fsnotify_unavailable", slog.String("error", err.Error()))
		} else {
			w.fsWatcher = fsw
		}
	}
	return w, nil
}

// Mode returns "fsnotify" or "polling".
func (w *Watcher) Mode() string {
	if w.fsWatcher != nil {
		return "fsnotify"
	}
	return "polling"
}

// Start watches until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if w.fsWatcher != nil {
		if err := w.fsWatcher.Add(w.dir); err != nil {
			return fmt.Errorf("watch %s: %w", w.dir, err)
		}
		return w.runFsnotify(ctx)
	}
	return w.runPolling(ctx)
}

func (w *Watcher) runFsnotify(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleFsnotifyEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

func (w *Watcher) handleFsnotifyEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if !w.tracked[name] {
		return
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		return
	}
	w.debouncer.Add(FileEvent{Path: name, Operation: op, Timestamp: time.Now()})
}

func (w *Watcher) runPolling(ctx context.Context) error {
	w.poll(false)

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case <-ticker.C:
			w.poll(true)
		}
	}
}

// poll stats the tracked files and, when emit is set, reports differences
// from the previous poll.
func (w *Watcher) poll(emit bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for name := range w.tracked {
		prev, existed := w.state[name]
		info, err := os.Stat(filepath.Join(w.dir, name))
		if err != nil {
			if !os.IsNotExist(err) {
				w.emitErrorLocked(err)
				continue
			}
			if existed {
				delete(w.state, name)
				if emit {
					w.debouncer.Add(FileEvent{Path: name, Operation: OpDelete, Timestamp: time.Now()})
				}
			}
			continue
		}

		cur := fileState{modTime: info.ModTime(), size: info.Size()}
		w.state[name] = cur
		if !emit {
			continue
		}
		switch {
		case !existed:
			w.debouncer.Add(FileEvent{Path: name, Operation: OpCreate, Timestamp: time.Now()})
		case prev != cur:
			w.debouncer.Add(FileEvent{Path: name, Operation: OpModify, Timestamp: time.Now()})
		}
	}
}

func (w *Watcher) emitError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emitErrorLocked(err)
}

func (w *Watcher) emitErrorLocked(err error) {
	if w.stopped {
		return
	}
	select {
	case w.errors <- err:
	default:
	}
}

// Events returns debounced batches. The channel closes on Stop.
func (w *Watcher) Events() <-chan []FileEvent {
	return w.debouncer.Output()
}

// Errors returns non-fatal watcher errors. The channel closes on Stop.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Stop stops the watcher. Safe to call multiple times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	if w.fsWatcher != nil {
		_ = w.fsWatcher.Close()
	}
	close(w.errors)
	return nil
}

// Serve calls reload once per batch until events closes or ctx is done.
// Reload errors are logged; the previous snapshot stays active.
func Serve(ctx context.Context, events <-chan []FileEvent, reload func(context.Context) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-events:
			if !ok {
				return
			}
			files := make([]string, len(batch))
			for i, e := range batch {
				files[i] = e.Path + ":" + e.Operation.String()
			}
			slog.Info("kb_files_changed", slog.Any("files", files))

			if err := reload(ctx); err != nil {
				slog.Warn("kb_reload_failed", slog.String("error", err.Error()))
			}
		}
	}
}
