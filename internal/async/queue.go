package async

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/joseph-ayodele/docflow/internal/pipeline"
)

// Task is one document submitted for processing.
type Task struct {
	Job         pipeline.Job
	SubmittedAt time.Time
	TraceID     string
	handle      *Handle
}

// Queue accepts documents and processes them in the background.
type Queue interface {
	Submit(ctx context.Context, job pipeline.Job) (*Handle, error)
	Shutdown(ctx context.Context)
}

// Handle tracks a submitted task until its last attempt finishes.
type Handle struct {
	DocumentID uuid.UUID
	TraceID    string

	done    chan struct{}
	outcome *pipeline.Outcome
	err     error
}

func newHandle(documentID uuid.UUID, traceID string) *Handle {
	return &Handle{DocumentID: documentID, TraceID: traceID, done: make(chan struct{})}
}

func (h *Handle) finish(out *pipeline.Outcome, err error) {
	h.outcome, h.err = out, err
	close(h.done)
}

// Done is closed once the task has succeeded or given up.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the task finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) (*pipeline.Outcome, error) {
	select {
	case <-h.done:
		return h.outcome, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
