package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Aman-CERP/cardrag/internal/resolve"
)

// SourceWatcher watches category directories recursively with fsnotify.
type SourceWatcher struct {
	fsw       *fsnotify.Watcher
	roots     []resolve.Root
	opts      Options
	debouncer *Debouncer
	events    chan []FileEvent
	errors    chan error
	ready     chan struct{}
	stopCh    chan struct{}

	mu      sync.RWMutex
	stopped bool
	dropped atomic.Uint64
}

// New creates a watcher over roots. Directories are resolved to absolute
// paths; nothing is watched until Start.
func New(roots []resolve.Root, opts Options) (*SourceWatcher, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("no category directories to watch")
	}
	opts = opts.WithDefaults()

	abs := make([]resolve.Root, 0, len(roots))
	for _, r := range roots {
		dir, err := filepath.Abs(r.Dir)
		if err != nil {
			return nil, fmt.Errorf("resolve %s directory: %w", r.Category, err)
		}
		abs = append(abs, resolve.Root{Category: r.Category, Dir: dir})
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &SourceWatcher{
		fsw:       fsw,
		roots:     abs,
		opts:      opts,
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 8),
		ready:     make(chan struct{}),
		stopCh:    make(chan struct{}),
	}, nil
}

// Start adds every existing category directory to the watch list and
// processes events until ctx is done or Stop is called. Missing category
// directories are skipped with a warning; it fails only when none exist.
func (w *SourceWatcher) Start(ctx context.Context) error {
	watched := 0
	for _, r := range w.roots {
		if _, err := os.Stat(r.Dir); err != nil {
			slog.Warn("watch_root_missing", slog.String("category", r.Category), slog.String("dir", r.Dir))
			continue
		}
		if err := w.addRecursive(r.Dir); err != nil {
			return fmt.Errorf("watch %s: %w", r.Dir, err)
		}
		watched++
	}
	if watched == 0 {
		return fmt.Errorf("none of the %d category directories exist", len(w.roots))
	}

	go w.forward(ctx)
	close(w.ready)
	slog.Info("watch_started", slog.Int("roots", watched), slog.Duration("debounce", w.opts.DebounceWindow))

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

// Ready is closed once the directories are being watched.
func (w *SourceWatcher) Ready() <-chan struct{} {
	return w.ready
}

func (w *SourceWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *SourceWatcher) handle(ev fsnotify.Event) {
	var op Operation
	switch {
	case ev.Op&fsnotify.Create != 0:
		op = OpCreate
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				w.emitError(err)
			}
			return
		}
	case ev.Op&fsnotify.Write != 0:
		op = OpModify
	case ev.Op&fsnotify.Remove != 0:
		op = OpDelete
	case ev.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		return
	}

	if !w.tracked(ev.Name) {
		return
	}
	category := w.categoryOf(ev.Name)
	if category == "" {
		return
	}

	w.debouncer.Add(FileEvent{
		Path:      ev.Name,
		Category:  category,
		Operation: op,
		Timestamp: time.Now(),
	})
}

func (w *SourceWatcher) tracked(path string) bool {
	ext := filepath.Ext(path)
	for _, e := range w.opts.Extensions {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

// categoryOf returns the category of the deepest root containing path.
func (w *SourceWatcher) categoryOf(path string) string {
	best, bestLen := "", -1
	for _, r := range w.roots {
		rel, err := filepath.Rel(r.Dir, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if len(r.Dir) > bestLen {
			best, bestLen = r.Category, len(r.Dir)
		}
	}
	return best
}

func (w *SourceWatcher) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			w.emit(batch)
		}
	}
}

func (w *SourceWatcher) emit(batch []FileEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}
	select {
	case w.events <- batch:
	default:
		n := w.dropped.Add(1)
		slog.Warn("watch_buffer_full",
			slog.Int("batch_size", len(batch)),
			slog.Uint64("total_dropped_batches", n))
	}
}

func (w *SourceWatcher) emitError(err error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}
	select {
	case w.errors <- err:
	default:
	}
}

// Events returns debounced batches. It is closed by Stop.
func (w *SourceWatcher) Events() <-chan []FileEvent {
	return w.events
}

// Errors returns non-fatal watch errors. It is closed by Stop.
func (w *SourceWatcher) Errors() <-chan error {
	return w.errors
}

// DroppedBatches reports batches dropped because Events was full.
func (w *SourceWatcher) DroppedBatches() uint64 {
	return w.dropped.Load()
}

// Stop releases the fsnotify watcher. Safe to call multiple times.
func (w *SourceWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	err := w.fsw.Close()
	close(w.events)
	close(w.errors)
	return err
}
