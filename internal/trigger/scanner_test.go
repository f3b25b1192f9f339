package trigger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

type fakeStore struct {
	mu       sync.Mutex
	triggers []*entity.Trigger
	added    map[uuid.UUID][][]string
}

func (f *fakeStore) ListEnabled(context.Context) ([]*entity.Trigger, error) {
	return f.triggers, nil
}

func (f *fakeStore) AddProcessedFiles(_ context.Context, id uuid.UUID, names []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.added == nil {
		f.added = map[uuid.UUID][][]string{}
	}
	f.added[id] = append(f.added[id], names)
	var cur []string
	for _, t := range f.triggers {
		if t.ID == id {
			cur = append(cur, t.ProcessedFiles...)
		}
	}
	return append(cur, names...), nil
}

type fakeHandler struct {
	mu      sync.Mutex
	handled []string
	fail    map[string]bool
	block   chan struct{}
	started chan struct{}
}

func (f *fakeHandler) Handle(ctx context.Context, _ *entity.Trigger, path string) error {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	name := filepath.Base(path)
	f.mu.Lock()
	f.handled = append(f.handled, name)
	f.mu.Unlock()
	if f.fail[name] {
		return errors.New("unable to classify")
	}
	return nil
}

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte(n), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestScanTrigger(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.pdf", "b.txt", "c.png", "done.pdf")
	if err := os.Mkdir(filepath.Join(dir, "nested.pdf"), 0o755); err != nil {
		t.Fatal(err)
	}
	tr := &entity.Trigger{ID: uuid.New(), UserID: uuid.New(), Enabled: true, Folder: dir, ProcessedFiles: []string{"done.pdf"}}
	store := &fakeStore{triggers: []*entity.Trigger{tr}}
	handler := &fakeHandler{fail: map[string]bool{"c.png": true}}
	s := NewScanner(store, handler, nil)

	res, err := s.ScanTrigger(context.Background(), tr)
	if err != nil {
		t.Fatalf("ScanTrigger() error = %v", err)
	}
	if res != (Result{Found: 2, Processed: 1, Failed: 1}) {
		t.Errorf("result = %+v", res)
	}
	if len(handler.handled) != 2 || handler.handled[0] != "a.pdf" || handler.handled[1] != "c.png" {
		t.Errorf("handled = %v", handler.handled)
	}
	batches := store.added[tr.ID]
	if len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("persisted batches = %v, want one batch with both files", batches)
	}
	if len(tr.ProcessedFiles) != 3 {
		t.Errorf("processed set = %v", tr.ProcessedFiles)
	}

	// A second scan finds nothing new.
	handler.handled = nil
	res, err = s.ScanTrigger(context.Background(), tr)
	if err != nil || res.Found != 0 || len(handler.handled) != 0 {
		t.Errorf("rescan = %+v, %v, handled %v", res, err, handler.handled)
	}
	if len(store.added[tr.ID]) != 1 {
		t.Error("an empty scan persisted the processed set")
	}
}

func TestScanTriggerMissingFolder(t *testing.T) {
	tr := &entity.Trigger{ID: uuid.New(), Folder: filepath.Join(t.TempDir(), "gone")}
	store := &fakeStore{triggers: []*entity.Trigger{tr}}
	res, err := NewScanner(store, &fakeHandler{}, nil).ScanTrigger(context.Background(), tr)
	if err != nil || res.Found != 0 {
		t.Errorf("ScanTrigger() = %+v, %v", res, err)
	}
}

func TestScanTriggerIsSerialized(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.pdf")
	tr := &entity.Trigger{ID: uuid.New(), Folder: dir}
	store := &fakeStore{triggers: []*entity.Trigger{tr}}
	handler := &fakeHandler{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s := NewScanner(store, handler, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := s.ScanTrigger(context.Background(), tr)
		errc <- err
	}()
	<-handler.started

	if _, err := s.ScanTrigger(context.Background(), tr); !errors.Is(err, ErrScanInProgress) {
		t.Errorf("concurrent scan error = %v, want ErrScanInProgress", err)
	}
	close(handler.block)
	if err := <-errc; err != nil {
		t.Fatalf("first scan error = %v", err)
	}
	if len(handler.handled) != 1 {
		t.Errorf("handled = %v, want the file once", handler.handled)
	}
}

func TestScanTriggerInterruptedFileStaysPending(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.pdf", "b.pdf")
	tr := &entity.Trigger{ID: uuid.New(), Folder: dir}
	store := &fakeStore{triggers: []*entity.Trigger{tr}}
	handler := &fakeHandler{block: make(chan struct{}), started: make(chan struct{}, 2)}
	s := NewScanner(store, handler, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-handler.started
		cancel()
	}()
	if _, err := s.ScanTrigger(ctx, tr); err != nil {
		t.Fatalf("ScanTrigger() error = %v", err)
	}
	if len(store.added[tr.ID]) != 0 {
		t.Errorf("interrupted file was recorded: %v", store.added[tr.ID])
	}
}

func TestScanAllFansOut(t *testing.T) {
	var triggers []*entity.Trigger
	for range 3 {
		dir := t.TempDir()
		writeFiles(t, dir, "x.pdf", "y.jpg")
		triggers = append(triggers, &entity.Trigger{ID: uuid.New(), Folder: dir})
	}
	store := &fakeStore{triggers: triggers}
	handler := &fakeHandler{}
	s := NewScanner(store, handler, nil, WithConcurrency(2))

	if err := s.ScanAll(context.Background()); err != nil {
		t.Fatalf("ScanAll() error = %v", err)
	}
	if len(handler.handled) != 6 {
		t.Errorf("handled = %v", handler.handled)
	}
	for _, tr := range triggers {
		if len(store.added[tr.ID]) != 1 {
			t.Errorf("trigger %s batches = %v", tr.ID, store.added[tr.ID])
		}
	}
}

func TestRunScansUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.pdf")
	tr := &entity.Trigger{ID: uuid.New(), Folder: dir}
	store := &fakeStore{triggers: []*entity.Trigger{tr}}
	handler := &fakeHandler{started: make(chan struct{}, 1)}
	s := NewScanner(store, handler, nil, WithInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-handler.started:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not scan on start")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestName(t *testing.T) {
	tests := []struct{ folder, want string }{
		{"/srv/inbox/Счета", "Счета"},
		{"/srv/inbox/", "inbox"},
		{"", "Триггер"},
		{"/", "Триггер"},
		{".", "Триггер"},
	}
	for _, tt := range tests {
		if got := Name(tt.folder); got != tt.want {
			t.Errorf("Name(%q) = %q, want %q", tt.folder, got, tt.want)
		}
	}
}

func TestWatcherReportsNewFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(20*time.Millisecond, nil)
	if err != nil {
		t.Skipf("fsnotify unavailable: %v", err)
	}
	if err := w.Watch(dir); err != nil {
		t.Fatal(err)
	}
	if err := w.Watch(dir); err != nil {
		t.Fatalf("second Watch() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	writeFiles(t, dir, "ignored.txt", "new.pdf")
	select {
	case p := <-w.Events():
		if filepath.Base(p) != "new.pdf" {
			t.Errorf("event path = %q", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event for new file")
	}
}
