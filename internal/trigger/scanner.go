// Package trigger scans watched folders and runs every new file through the pipeline.
package trigger

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

// Store is the trigger persistence the scanner needs. repository.TriggerRepository implements it.
type Store interface {
	ListEnabled(ctx context.Context) ([]*entity.Trigger, error)
	AddProcessedFiles(ctx context.Context, id uuid.UUID, names []string) ([]string, error)
}

// FileHandler processes one new file of a trigger folder to completion.
type FileHandler interface {
	Handle(ctx context.Context, t *entity.Trigger, path string) error
}

// ErrScanInProgress is returned by ScanTrigger when the trigger is already being scanned.
var ErrScanInProgress = errors.New("trigger scan already in progress")

// Result summarises one scan of one trigger.
type Result struct {
	Found     int
	Processed int
	Failed    int
}

type Scanner struct {
	store       Store
	handler     FileHandler
	logger      *slog.Logger
	interval    time.Duration
	concurrency int
	watcher     *Watcher

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

type Option func(*Scanner)

func WithInterval(d time.Duration) Option {
	return func(s *Scanner) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithConcurrency bounds how many triggers are scanned at once. Files of one trigger are
// always handled one after another.
func WithConcurrency(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithWatcher makes the scanner register trigger folders with w and rescan on its events.
func WithWatcher(w *Watcher) Option {
	return func(s *Scanner) { s.watcher = w }
}

func NewScanner(store Store, handler FileHandler, logger *slog.Logger, opts ...Option) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scanner{
		store:       store,
		handler:     handler,
		logger:      logger,
		interval:    30 * time.Second,
		concurrency: 2,
		locks:       make(map[uuid.UUID]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run scans immediately and then on every tick until ctx is done. Watcher events cause an
// early scan.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var wake <-chan string
	if s.watcher != nil {
		wake = s.watcher.Events()
	}
	s.logger.Info("trigger.scanner.started", "interval", s.interval, "concurrency", s.concurrency, "watch", s.watcher != nil)

	s.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("trigger.scanner.stopped")
			return nil
		case <-ticker.C:
			s.scan(ctx)
		case path, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
			s.logger.Debug("trigger.scanner.woken", "path", path)
			s.scan(ctx)
		}
	}
}

func (s *Scanner) scan(ctx context.Context) {
	if err := s.ScanAll(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("trigger.scan.failed", "error", err)
	}
}

// ScanAll scans every enabled trigger. Per trigger failures are logged, only a failure to
// list the triggers is returned.
func (s *Scanner) ScanAll(ctx context.Context) error {
	triggers, err := s.store.ListEnabled(ctx)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, t := range triggers {
		if s.watcher != nil {
			if err := s.watcher.Watch(t.Folder); err != nil {
				s.logger.Warn("trigger.watch.add_failed", "trigger_id", t.ID, "folder", t.Folder, "error", err)
			}
		}
		g.Go(func() error {
			_, err := s.ScanTrigger(gctx, t)
			if err != nil && !errors.Is(err, ErrScanInProgress) {
				s.logger.Error("trigger.scan.trigger_failed", "trigger_id", t.ID, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Scanner) lock(id uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// ScanTrigger handles the new files of t in folder order and then records all of them,
// failed ones included, in the trigger's processed set. A file interrupted by ctx is left
// for the next scan.
func (s *Scanner) ScanTrigger(ctx context.Context, t *entity.Trigger) (Result, error) {
	var res Result
	l := s.lock(t.ID)
	if !l.TryLock() {
		s.logger.Debug("trigger.scan.busy", "trigger_id", t.ID)
		return res, ErrScanInProgress
	}
	defer l.Unlock()

	log := s.logger.With("trigger_id", t.ID, "folder", t.Folder)
	files, err := pendingFiles(t)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn("trigger.scan.folder_missing")
			return res, nil
		}
		return res, err
	}
	res.Found = len(files)
	if len(files) == 0 {
		return res, nil
	}
	log.Info("trigger.scan.found", "files", len(files))

	done := make([]string, 0, len(files))
	for _, name := range files {
		if ctx.Err() != nil {
			break
		}
		start := time.Now()
		err := s.handler.Handle(ctx, t, filepath.Join(t.Folder, name))
		if err != nil && ctx.Err() != nil {
			log.Warn("trigger.scan.file_interrupted", "file", name, "error", err)
			break
		}
		done = append(done, name)
		if err != nil {
			res.Failed++
			log.Warn("trigger.scan.file_failed", "file", name, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
			continue
		}
		res.Processed++
		log.Info("trigger.scan.file_ok", "file", name, "elapsed_ms", time.Since(start).Milliseconds())
	}

	if len(done) > 0 {
		merged, err := s.store.AddProcessedFiles(context.WithoutCancel(ctx), t.ID, done)
		if err != nil {
			return res, err
		}
		t.ProcessedFiles = merged
	}
	log.Info("trigger.scan.done", "processed", res.Processed, "failed", res.Failed)
	return res, nil
}

// pendingFiles lists the regular files of the trigger folder with an allowed extension that
// are not yet in the processed set, in directory order.
func pendingFiles(t *entity.Trigger) ([]string, error) {
	entries, err := os.ReadDir(t.Folder)
	if err != nil {
		return nil, err
	}
	seen := t.ProcessedSet()
	var out []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		if _, ok := constants.AllowedExtensions[constants.NormalizeExt(filepath.Ext(name))]; !ok {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}
