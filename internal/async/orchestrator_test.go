package async

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/pipeline"
)

type scriptedProcessor struct {
	mu        sync.Mutex
	errs      []error // consumed one per attempt; nil entries succeed
	attempts  []int
	discarded []uuid.UUID
	block     chan struct{}
	deadline  bool
}

func (p *scriptedProcessor) Process(ctx context.Context, job pipeline.Job) (*pipeline.Outcome, error) {
	if p.block != nil {
		<-p.block
	}
	_, hasDeadline := ctx.Deadline()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deadline = hasDeadline
	p.attempts = append(p.attempts, job.Attempt)
	if common.AttemptFromContext(ctx) != job.Attempt {
		return nil, errors.New("attempt missing from context")
	}
	var err error
	if len(p.errs) > 0 {
		err, p.errs = p.errs[0], p.errs[1:]
	}
	if err != nil {
		return nil, err
	}
	return &pipeline.Outcome{RawText: "ok"}, nil
}

func (p *scriptedProcessor) Discard(_ context.Context, id uuid.UUID) {
	p.mu.Lock()
	p.discarded = append(p.discarded, id)
	p.mu.Unlock()
}

type recordingFailer struct {
	mu       sync.Mutex
	messages []string
}

func (f *recordingFailer) Fail(_ context.Context, _, _ uuid.UUID, message string) error {
	f.mu.Lock()
	f.messages = append(f.messages, message)
	f.mu.Unlock()
	return nil
}

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return nil
}

func newJob() pipeline.Job {
	return pipeline.Job{DocumentID: uuid.New(), RunID: uuid.New(), OwnerID: uuid.New()}
}

func TestRunRetryPolicy(t *testing.T) {
	engineDown := common.EngineUnavailable("ocr engine")
	ambiguous := common.NewAppError(common.CodeClassification, "unable to classify document", common.ErrClassificationAmbiguous)

	tests := []struct {
		name         string
		errs         []error
		wantAttempts []int
		wantWaits    []time.Duration
		wantErr      error
		wantFailed   bool
	}{
		{"first attempt succeeds", nil, []int{1}, nil, nil, false},
		{"recovers on third", []error{engineDown, engineDown, nil}, []int{1, 2, 3}, []time.Duration{time.Minute, 2 * time.Minute}, nil, false},
		{"exhausted", []error{engineDown, engineDown, engineDown}, []int{1, 2, 3}, []time.Duration{time.Minute, 2 * time.Minute}, common.ErrRetryExhausted, true},
		{"not retried", []error{ambiguous}, []int{1}, nil, common.ErrClassificationAmbiguous, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &scriptedProcessor{errs: tt.errs}
			failer := &recordingFailer{}
			sleeps := &sleepRecorder{}
			o := NewOrchestrator(proc, failer, nil, WithWorkers(1), WithBackoff(time.Minute), WithSleep(sleeps.sleep))
			defer o.Shutdown(context.Background())

			job := newJob()
			out, err := o.Run(context.Background(), job)
			if tt.wantErr == nil {
				if err != nil || out == nil {
					t.Fatalf("Run() = %v, %v", out, err)
				}
			} else if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Run() error = %v, want %v", err, tt.wantErr)
			}
			if len(proc.attempts) != len(tt.wantAttempts) {
				t.Fatalf("attempts = %v, want %v", proc.attempts, tt.wantAttempts)
			}
			for i := range tt.wantAttempts {
				if proc.attempts[i] != tt.wantAttempts[i] {
					t.Errorf("attempts = %v, want %v", proc.attempts, tt.wantAttempts)
				}
			}
			if len(sleeps.waits) != len(tt.wantWaits) {
				t.Fatalf("waits = %v, want %v", sleeps.waits, tt.wantWaits)
			}
			for i := range tt.wantWaits {
				if sleeps.waits[i] != tt.wantWaits[i] {
					t.Errorf("waits = %v, want %v", sleeps.waits, tt.wantWaits)
				}
			}
			if got := len(failer.messages) == 1; got != tt.wantFailed {
				t.Errorf("failed = %v (%v), want %v", got, failer.messages, tt.wantFailed)
			}
			if tt.wantFailed && len(proc.discarded) != 1 {
				t.Errorf("discarded = %v, want the document", proc.discarded)
			}
		})
	}
}

func TestExhaustedMessageIsUserFacing(t *testing.T) {
	proc := &scriptedProcessor{errs: []error{
		common.EngineUnavailable("ocr engine"),
		common.EngineUnavailable("ocr engine"),
		common.EngineUnavailable("ocr engine"),
	}}
	failer := &recordingFailer{}
	o := NewOrchestrator(proc, failer, nil, WithBackoff(0))
	defer o.Shutdown(context.Background())

	_, err := o.Run(context.Background(), newJob())
	var appErr *common.AppError
	if !errors.As(err, &appErr) || appErr.Code != common.CodeRetryExhausted {
		t.Fatalf("error = %v, want RETRY_EXHAUSTED", err)
	}
	if !errors.Is(err, common.ErrEngineUnavailable) {
		t.Error("exhaustion error should keep its cause")
	}
	if len(failer.messages) != 1 || failer.messages[0] != "ocr engine is not initialized" {
		t.Errorf("messages = %v", failer.messages)
	}
}

func TestSubmitProcessesInBackground(t *testing.T) {
	proc := &scriptedProcessor{}
	o := NewOrchestrator(proc, &recordingFailer{}, nil, WithWorkers(2), WithTimeouts(time.Minute, 50*time.Second))

	job := newJob()
	h, err := o.Submit(context.Background(), job)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := h.Wait(ctx)
	if err != nil || out.RawText != "ok" {
		t.Fatalf("Wait() = %v, %v", out, err)
	}
	if !proc.deadline {
		t.Error("attempt ran without a hard deadline")
	}

	o.Shutdown(context.Background())
	if _, err := o.Submit(context.Background(), newJob()); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Submit() after shutdown error = %v", err)
	}
}

func TestSubmitSameDocumentSharesTask(t *testing.T) {
	proc := &scriptedProcessor{block: make(chan struct{})}
	o := NewOrchestrator(proc, &recordingFailer{}, nil, WithWorkers(1))
	defer o.Shutdown(context.Background())

	job := newJob()
	h1, err := o.Submit(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := o.Submit(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Error("second submit of an in-flight document created a new task")
	}
	close(proc.block)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := h1.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if len(proc.attempts) != 1 {
		t.Errorf("attempts = %v, want one", proc.attempts)
	}
}

func TestSubmitRejectsMissingIDs(t *testing.T) {
	o := NewOrchestrator(&scriptedProcessor{}, nil, nil)
	defer o.Shutdown(context.Background())
	if _, err := o.Submit(context.Background(), pipeline.Job{}); !errors.Is(err, common.ErrInvalidInput) {
		t.Errorf("error = %v, want invalid input", err)
	}
}

func TestRunOnceDoesNotRetry(t *testing.T) {
	proc := &scriptedProcessor{errs: []error{common.EngineUnavailable("ocr engine")}}
	failer := &recordingFailer{}
	sleeps := &sleepRecorder{}
	o := NewOrchestrator(proc, failer, nil, WithMaxAttempts(3), WithSleep(sleeps.sleep))
	defer o.Shutdown(context.Background())

	if _, err := o.RunOnce(context.Background(), newJob()); !errors.Is(err, common.ErrEngineUnavailable) {
		t.Fatalf("RunOnce() error = %v, want engine unavailable", err)
	}
	if len(proc.attempts) != 1 || len(sleeps.waits) != 0 {
		t.Errorf("attempts = %v, waits = %v; want one attempt and no wait", proc.attempts, sleeps.waits)
	}
	if len(failer.messages) != 1 || len(proc.discarded) != 1 {
		t.Errorf("failed = %v, discarded = %v", failer.messages, proc.discarded)
	}
}

// gatedSleep blocks every backoff wait until release is closed or ctx ends.
type gatedSleep struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSleep) sleep(ctx context.Context, _ time.Duration) error {
	g.entered <- struct{}{}
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestRetryWaitFreesWorker(t *testing.T) {
	proc := &scriptedProcessor{errs: []error{common.EngineUnavailable("ocr engine"), nil, nil}}
	gate := &gatedSleep{entered: make(chan struct{}, 1), release: make(chan struct{})}
	o := NewOrchestrator(proc, &recordingFailer{}, nil, WithWorkers(1), WithSleep(gate.sleep))
	defer o.Shutdown(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, err := o.Submit(ctx, newJob())
	if err != nil {
		t.Fatal(err)
	}
	<-gate.entered
	second, err := o.Submit(ctx, newJob())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := second.Wait(ctx); err != nil {
		t.Fatalf("second task blocked behind a retry wait: %v", err)
	}

	close(gate.release)
	if out, err := first.Wait(ctx); err != nil || out.RawText != "ok" {
		t.Fatalf("retried task = %v, %v", out, err)
	}
	proc.mu.Lock()
	defer proc.mu.Unlock()
	want := []int{1, 1, 2}
	if len(proc.attempts) != len(want) {
		t.Fatalf("attempts = %v, want %v", proc.attempts, want)
	}
	for i := range want {
		if proc.attempts[i] != want[i] {
			t.Errorf("attempts = %v, want %v", proc.attempts, want)
		}
	}
}

func TestShutdownFailsPendingRetry(t *testing.T) {
	proc := &scriptedProcessor{errs: []error{common.EngineUnavailable("ocr engine")}}
	failer := &recordingFailer{}
	gate := &gatedSleep{entered: make(chan struct{}, 1), release: make(chan struct{})}
	o := NewOrchestrator(proc, failer, nil, WithWorkers(1), WithSleep(gate.sleep))

	h, err := o.Submit(context.Background(), newJob())
	if err != nil {
		t.Fatal(err)
	}
	<-gate.entered
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o.Shutdown(ctx)

	if _, err := h.Wait(ctx); !errors.Is(err, common.ErrRetryExhausted) || !errors.Is(err, common.ErrEngineUnavailable) {
		t.Fatalf("Wait() error = %v, want exhausted engine failure", err)
	}
	failer.mu.Lock()
	defer failer.mu.Unlock()
	if len(failer.messages) != 1 {
		t.Errorf("messages = %v, want one failure", failer.messages)
	}
}
