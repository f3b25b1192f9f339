package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/pipeline"
)

// Processor runs one attempt of a document. *pipeline.Processor implements it.
type Processor interface {
	Process(ctx context.Context, job pipeline.Job) (*pipeline.Outcome, error)
	Discard(ctx context.Context, documentID uuid.UUID)
}

// Failer records the terminal failure of a document and its run. *status.Service implements it.
type Failer interface {
	Fail(ctx context.Context, documentID, runID uuid.UUID, message string) error
}

// ErrShuttingDown is returned by Submit once Shutdown has begun.
var ErrShuttingDown = errors.New("orchestrator is shutting down")

type Orchestrator struct {
	proc   Processor
	failer Failer
	logger *slog.Logger

	workers     int
	maxAttempts int
	backoffBase time.Duration
	hardTimeout time.Duration
	softTimeout time.Duration
	sleep       func(ctx context.Context, d time.Duration) error

	ch   chan *Task
	wg   sync.WaitGroup // workers and pending retries
	once sync.Once

	retryCtx    context.Context // ends pending retry waits on Shutdown
	stopRetries context.CancelFunc

	mu     sync.Mutex // guards closed and sends on ch
	closed bool

	imu      sync.Mutex
	inflight map[uuid.UUID]*Handle
}

type Option func(*Orchestrator)

func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.ch = make(chan *Task, n)
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithBackoff sets the base delay; attempt n waits base*n before attempt n+1.
func WithBackoff(base time.Duration) Option {
	return func(o *Orchestrator) {
		if base >= 0 {
			o.backoffBase = base
		}
	}
}

// WithTimeouts sets the hard per-attempt deadline and the earlier soft deadline that only logs.
func WithTimeouts(hard, soft time.Duration) Option {
	return func(o *Orchestrator) {
		if hard > 0 {
			o.hardTimeout = hard
		}
		if soft > 0 {
			o.softTimeout = soft
		}
	}
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

func NewOrchestrator(proc Processor, failer Failer, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		proc:        proc,
		failer:      failer,
		logger:      logger,
		workers:     4,
		maxAttempts: 3,
		backoffBase: 60 * time.Second,
		hardTimeout: 600 * time.Second,
		softTimeout: 540 * time.Second,
		sleep:       sleepCtx,
		ch:          make(chan *Task, 256),
		inflight:    make(map[uuid.UUID]*Handle),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.softTimeout >= o.hardTimeout {
		o.softTimeout = o.hardTimeout * 9 / 10
	}
	o.retryCtx, o.stopRetries = context.WithCancel(context.Background())
	o.start()
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) start() {
	o.once.Do(func() {
		for i := 0; i < o.workers; i++ {
			o.wg.Add(1)
			go func(workerID int) {
				defer o.wg.Done()
				o.logger.Debug("async.worker.started", "worker_id", workerID)
				for task := range o.ch {
					o.dispatch(task)
				}
				o.logger.Debug("async.worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

// claim registers documentID as owned by a new task. It returns the existing handle when
// the document is already in flight.
func (o *Orchestrator) claim(job pipeline.Job) (*Handle, bool, error) {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return nil, false, ErrShuttingDown
	}

	o.imu.Lock()
	defer o.imu.Unlock()
	if h, ok := o.inflight[job.DocumentID]; ok {
		return h, false, nil
	}
	h := newHandle(job.DocumentID, uuid.NewString())
	o.inflight[job.DocumentID] = h
	return h, true, nil
}

func (o *Orchestrator) release(documentID uuid.UUID) {
	o.imu.Lock()
	delete(o.inflight, documentID)
	o.imu.Unlock()
}

// Submit queues a document. A document already in flight keeps its task and the existing
// handle is returned. Submit blocks while the queue is full.
func (o *Orchestrator) Submit(ctx context.Context, job pipeline.Job) (*Handle, error) {
	if job.DocumentID == uuid.Nil || job.RunID == uuid.Nil {
		return nil, common.NewAppError(common.CodeInvalidArgument, "document and run ids are required", common.ErrInvalidInput)
	}
	h, fresh, err := o.claim(job)
	if err != nil {
		o.logger.Warn("async.submit.rejected", "document_id", job.DocumentID, "error", err)
		return nil, err
	}
	if !fresh {
		o.logger.Info("async.submit.duplicate", "document_id", job.DocumentID)
		return h, nil
	}

	job.Attempt = 1
	task := &Task{Job: job, SubmittedAt: time.Now(), TraceID: h.TraceID, handle: h}
	if err := o.enqueue(ctx, task); err != nil {
		o.release(job.DocumentID)
		h.finish(nil, err)
		return nil, err
	}
	o.logger.Info("async.submit.queued", "document_id", job.DocumentID, "run_id", job.RunID, "trace_id", h.TraceID)
	return h, nil
}

func (o *Orchestrator) enqueue(ctx context.Context, task *Task) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrShuttingDown
	}
	select {
	case o.ch <- task:
		return nil
	default:
	}
	o.logger.Warn("async.queue.full", "document_id", task.Job.DocumentID)
	select {
	case o.ch <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes a document on the calling goroutine with the same retry policy as queued
// tasks.
func (o *Orchestrator) Run(ctx context.Context, job pipeline.Job) (*pipeline.Outcome, error) {
	return o.runSync(ctx, job, o.maxAttempts)
}

// RunOnce processes a document on the calling goroutine with a single attempt. A failure
// is recorded on the document and run like an exhausted retry budget.
func (o *Orchestrator) RunOnce(ctx context.Context, job pipeline.Job) (*pipeline.Outcome, error) {
	return o.runSync(ctx, job, 1)
}

func (o *Orchestrator) runSync(ctx context.Context, job pipeline.Job, maxAttempts int) (*pipeline.Outcome, error) {
	h, fresh, err := o.claim(job)
	if err != nil {
		return nil, err
	}
	if !fresh {
		return h.Wait(ctx)
	}
	out, err := o.execute(common.WithTraceID(ctx, h.TraceID), job, maxAttempts)
	o.release(job.DocumentID)
	h.finish(out, err)
	return out, err
}

// execute runs attempts until one succeeds, the error is not retryable or maxAttempts is
// spent. The document and run are failed on the way out.
func (o *Orchestrator) execute(ctx context.Context, job pipeline.Job, maxAttempts int) (*pipeline.Outcome, error) {
	log := o.taskLogger(ctx, job)
	for job.Attempt = 1; ; job.Attempt++ {
		out, err := o.try(ctx, job, log)
		if err == nil {
			return out, nil
		}
		wait, ok := o.backoff(job, maxAttempts, err)
		if !ok {
			return nil, o.giveUp(ctx, job, err, log)
		}
		log.Info("async.task.retry_scheduled", "attempt", job.Attempt, "wait", wait)
		if serr := o.sleep(ctx, wait); serr != nil {
			return nil, o.giveUp(ctx, job, fmt.Errorf("retry wait interrupted: %w", serr), log)
		}
	}
}

// dispatch runs one attempt of a queued task. A retryable failure waits off the worker and
// re-enters the queue, so the worker moves on to the next task.
func (o *Orchestrator) dispatch(task *Task) {
	ctx := common.WithTraceID(context.Background(), task.TraceID)
	log := o.taskLogger(ctx, task.Job)
	out, err := o.try(ctx, task.Job, log)
	if err == nil {
		o.complete(task, out, nil)
		return
	}
	if wait, ok := o.backoff(task.Job, o.maxAttempts, err); ok {
		o.retryLater(ctx, task, err, wait, log)
		return
	}
	o.complete(task, nil, o.giveUp(ctx, task.Job, err, log))
}

// retryLater queues the next attempt of task after wait. When Shutdown ends the wait, or the
// queue no longer accepts the task, the document is failed with cause.
func (o *Orchestrator) retryLater(ctx context.Context, task *Task, cause error, wait time.Duration, log *slog.Logger) {
	log.Info("async.task.retry_scheduled", "attempt", task.Job.Attempt, "wait", wait)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		err := o.sleep(o.retryCtx, wait)
		if err == nil {
			next := *task
			next.Job.Attempt++
			if err = o.enqueue(o.retryCtx, &next); err == nil {
				return
			}
		}
		o.complete(task, nil, o.giveUp(ctx, task.Job, fmt.Errorf("retry interrupted: %w: %w", err, cause), log))
	}()
}

func (o *Orchestrator) complete(task *Task, out *pipeline.Outcome, err error) {
	o.release(task.Job.DocumentID)
	task.handle.finish(out, err)
}

// backoff reports the wait before the attempt after job.Attempt, or false when err is final.
func (o *Orchestrator) backoff(job pipeline.Job, maxAttempts int, err error) (time.Duration, bool) {
	if !common.IsRetryable(err) || job.Attempt >= maxAttempts {
		return 0, false
	}
	return o.backoffBase * time.Duration(job.Attempt), true
}

func (o *Orchestrator) taskLogger(ctx context.Context, job pipeline.Job) *slog.Logger {
	return o.logger.With("document_id", job.DocumentID, "run_id", job.RunID, "trace_id", common.TraceIDFromContext(ctx))
}

func (o *Orchestrator) try(ctx context.Context, job pipeline.Job, log *slog.Logger) (*pipeline.Outcome, error) {
	start := time.Now()
	out, err := o.attempt(common.WithAttempt(ctx, job.Attempt), job, log)
	if err != nil {
		log.Warn("async.task.attempt_failed", "attempt", job.Attempt, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, err
	}
	log.Info("async.task.ok", "attempt", job.Attempt, "elapsed_ms", time.Since(start).Milliseconds())
	return out, nil
}

func (o *Orchestrator) attempt(ctx context.Context, job pipeline.Job, log *slog.Logger) (*pipeline.Outcome, error) {
	ctx, cancel := common.WithTimeout(ctx, o.hardTimeout)
	defer cancel()
	soft := time.AfterFunc(o.softTimeout, func() {
		log.Warn("async.task.soft_timeout", "attempt", job.Attempt, "limit", o.softTimeout)
	})
	defer soft.Stop()

	out, err := o.proc.Process(ctx, job)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		log.Error("async.task.hard_timeout", "attempt", job.Attempt, "limit", o.hardTimeout)
	}
	return out, err
}

// giveUp sets the document and run to error with a user-facing message and drops the
// checkpoint so that a later re-extraction starts from scratch.
func (o *Orchestrator) giveUp(ctx context.Context, job pipeline.Job, cause error, log *slog.Logger) error {
	msg := common.UserMessage(cause)
	bg := context.WithoutCancel(ctx)
	if o.failer != nil {
		if err := o.failer.Fail(bg, job.DocumentID, job.RunID, msg); err != nil {
			log.Error("async.task.fail_status_failed", "error", err)
		}
	}
	o.proc.Discard(bg, job.DocumentID)

	if common.IsRetryable(cause) {
		log.Error("async.task.exhausted", "attempts", job.Attempt, "error", cause)
		return common.NewAppError(common.CodeRetryExhausted, msg, fmt.Errorf("%w: %w", common.ErrRetryExhausted, cause))
	}
	log.Error("async.task.failed", "attempts", job.Attempt, "error", cause)
	return cause
}

// Shutdown stops accepting tasks and waits for queued ones to finish or ctx to end. Tasks
// waiting to retry are failed with their last error.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.stopRetries()
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.ch)
	o.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); o.wg.Wait() }()

	select {
	case <-ctx.Done():
		o.logger.Warn("async.shutdown.interrupted")
	case <-done:
		o.logger.Info("async.shutdown.drained")
	}
}
