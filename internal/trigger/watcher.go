package trigger

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joseph-ayodele/docflow/constants"
)

// Watcher reports new files in trigger folders so the scanner can run before its next
// tick. Folders are watched non-recursively, matching the scan.
type Watcher struct {
	w        *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger
	events   chan string

	mu      sync.Mutex
	watched map[string]struct{}
}

func NewWatcher(debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create fsnotify watcher", "error", err)
		return nil, err
	}
	return &Watcher{
		w:        w,
		debounce: debounce,
		logger:   logger,
		events:   make(chan string, 16),
		watched:  make(map[string]struct{}),
	}, nil
}

// Watch adds folder once. Calling it again for the same folder is a no-op.
func (w *Watcher) Watch(folder string) error {
	folder = filepath.Clean(folder)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.watched[folder]; ok {
		return nil
	}
	if err := w.w.Add(folder); err != nil {
		return err
	}
	w.watched[folder] = struct{}{}
	w.logger.Debug("trigger.watch.added", "folder", folder)
	return nil
}

// Events carries the last changed path of each debounced burst.
func (w *Watcher) Events() <-chan string { return w.events }

// Run forwards debounced events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.events)
	defer func() {
		if err := w.w.Close(); err != nil {
			w.logger.Warn("trigger.watch.close_failed", "error", err)
		}
	}()

	var (
		timer   *time.Timer
		fire    <-chan time.Time
		pending string
	)
	emit := func() {
		select {
		case w.events <- pending:
		default:
		}
		pending = ""
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case e, ok := <-w.w.Events:
			if !ok {
				return
			}
			if !allowed(e.Name) || e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			pending = e.Name
			if w.debounce <= 0 {
				emit()
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			emit()
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			w.logger.Error("trigger.watch.error", "error", err)
		}
	}
}

func allowed(path string) bool {
	_, ok := constants.AllowedExtensions[constants.NormalizeExt(filepath.Ext(path))]
	return ok
}
