// Package watcher reloads handler files when they change on disk.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/m3rciful/wabot/core/logger"
	"github.com/m3rciful/wabot/core/queue"
)

// Reloader reloads a single handler file given its path relative to the root.
type Reloader interface {
	Reload(ctx context.Context, rel string) error
	Known(rel string) bool
}

// Options configures a Watcher.
type Options struct {
	Root      string
	Extension string
	Reloader  Reloader
	// QueueSize bounds pending reloads; 0 means 64.
	QueueSize int
}

// Watcher observes the handler tree and feeds a single-worker reload queue,
// so reloads never run concurrently with each other.
type Watcher struct {
	root     string
	ext      string
	reloader Reloader
	fsw      *fsnotify.Watcher
	reloads  *queue.Queue

	once sync.Once
	wg   sync.WaitGroup
	stop chan struct{}
}

// New creates a Watcher. Call Start to begin observing.
func New(opts Options) (*Watcher, error) {
	if opts.Reloader == nil {
		return nil, errors.New("watcher: nil reloader")
	}
	root, err := filepath.Abs(filepath.Clean(opts.Root))
	if err != nil {
		return nil, fmt.Errorf("watcher: resolve root: %w", err)
	}
	ext := opts.Extension
	if ext == "" {
		ext = ".yaml"
	}
	size := opts.QueueSize
	if size <= 0 {
		size = 64
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	return &Watcher{
		root:     root,
		ext:      ext,
		reloader: opts.Reloader,
		fsw:      fsw,
		reloads: queue.New(queue.Options{
			Name:       "watch.reload",
			QueueSize:  size,
			Workers:    1,
			MaxRetries: 0,
			Retryable:  func(error) bool { return false },
		}),
		stop: make(chan struct{}),
	}, nil
}

// Start adds every directory below the root and starts the event loop.
// fsnotify is not recursive, so directories created later are added as they appear.
func (w *Watcher) Start(ctx context.Context) error {
	n, err := w.addTree(w.root)
	if err != nil {
		return fmt.Errorf("watcher: watch %s: %w", w.root, err)
	}
	logger.Watch.LogAttrs(ctx, slog.LevelInfo, "watch.start",
		slog.String("path", w.root),
		slog.Int("count", n),
	)
	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Close stops the event loop and waits for pending reloads.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.stop)
		err = w.fsw.Close()
		w.wg.Wait()
		w.reloads.Close()
	})
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Watch.LogAttrs(ctx, slog.LevelWarn, "watch.error", slog.String("err", err.Error()))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if n, err := w.addTree(ev.Name); err != nil {
				logger.Watch.LogAttrs(ctx, slog.LevelWarn, "watch.add_failed",
					slog.String("path", ev.Name), slog.String("err", err.Error()))
			} else {
				logger.Watch.LogAttrs(ctx, slog.LevelDebug, "watch.add",
					slog.String("path", ev.Name), slog.Int("count", n))
			}
			return
		}
		// Editors that save by rename-over produce a Create for a known file.
		if rel, ok := w.handlerRel(ev.Name); ok && w.reloader.Known(rel) {
			w.enqueue(ctx, rel)
		}
	case ev.Has(fsnotify.Write):
		if rel, ok := w.handlerRel(ev.Name); ok {
			logger.Watch.LogAttrs(ctx, slog.LevelInfo, "watch.changed", slog.String("path", rel))
			w.enqueue(ctx, rel)
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if rel, ok := w.handlerRel(ev.Name); ok {
			// The registered command stays callable.
			logger.Watch.LogAttrs(ctx, slog.LevelInfo, "watch.removed",
				slog.String("path", rel),
				slog.String("kind", strings.ToLower(ev.Op.String())),
			)
		}
	}
}

func (w *Watcher) enqueue(ctx context.Context, rel string) {
	rid := uuid.NewString()
	taskCtx := logger.WithRID(ctx, rid)
	err := w.reloads.EnqueueKey(taskCtx, rel, queue.Job{
		Action: "reload",
		Target: rel,
		Run: func(ctx context.Context) error {
			return w.reloader.Reload(ctx, rel)
		},
	})
	switch {
	case err == nil:
		logger.Watch.LogAttrs(taskCtx, slog.LevelDebug, "reload.queued", slog.String("path", rel))
	case errors.Is(err, queue.ErrDuplicate):
		logger.Watch.LogAttrs(taskCtx, slog.LevelDebug, "reload.coalesced", slog.String("path", rel))
	default:
		logger.Watch.LogAttrs(taskCtx, slog.LevelWarn, "reload.dropped",
			slog.String("path", rel),
			slog.String("err", err.Error()),
		)
	}
}

// handlerRel returns the root-relative path of a handler file event.
func (w *Watcher) handlerRel(name string) (string, bool) {
	if !strings.HasSuffix(name, w.ext) {
		return "", false
	}
	abs, err := filepath.Abs(name)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

func (w *Watcher) addTree(dir string) (int, error) {
	n := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}
