package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/async"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/pipeline"
	"github.com/joseph-ayodele/docflow/internal/storage"
)

type fakeRuns struct {
	created  []*entity.ProcessingRun
	statuses map[uuid.UUID]constants.RunStatus
}

func (f *fakeRuns) Create(_ context.Context, run *entity.ProcessingRun) error {
	run.ID = uuid.New()
	f.created = append(f.created, run)
	return nil
}

func (f *fakeRuns) UpdateStatus(_ context.Context, id uuid.UUID, status constants.RunStatus) error {
	if f.statuses == nil {
		f.statuses = map[uuid.UUID]constants.RunStatus{}
	}
	f.statuses[id] = status
	return nil
}

type fakeDocs struct {
	created  []*entity.ProcessedDocument
	statuses map[uuid.UUID]constants.DocumentStatus
}

func (f *fakeDocs) Create(_ context.Context, doc *entity.ProcessedDocument) error {
	doc.ID = uuid.New()
	f.created = append(f.created, doc)
	return nil
}

func (f *fakeDocs) UpdateStatus(_ context.Context, id uuid.UUID, status constants.DocumentStatus, _ *string) error {
	if f.statuses == nil {
		f.statuses = map[uuid.UUID]constants.DocumentStatus{}
	}
	f.statuses[id] = status
	return nil
}

type fakeQueue struct {
	jobs []pipeline.Job
	err  error
}

func (f *fakeQueue) Submit(_ context.Context, job pipeline.Job) (*async.Handle, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.jobs = append(f.jobs, job)
	return &async.Handle{DocumentID: job.DocumentID}, nil
}

func newService(t *testing.T) (*Service, *fakeRuns, *fakeDocs, *fakeQueue, *storage.DirStore) {
	t.Helper()
	blobs, err := storage.NewDirStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	runs, docs, queue := &fakeRuns{}, &fakeDocs{}, &fakeQueue{}
	return NewService(runs, docs, blobs, queue, nil), runs, docs, queue, blobs
}

func TestSubmit(t *testing.T) {
	svc, runs, docs, queue, blobs := newService(t)
	ctx := context.Background()
	owner, typeID := uuid.New(), uuid.New()

	sub, err := svc.Submit(ctx, Request{
		OwnerID:        owner,
		DocumentTypeID: typeID,
		Files: []Upload{
			{Filename: "scan.pdf", Data: []byte("%PDF-1")},
			{Filename: "scan.pdf", Data: []byte("%PDF-2")},
			{Filename: `C:\Users\me\photo.JPG`, Data: []byte("jpeg")},
		},
		RequestedFields: []string{"Номер"},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if len(runs.created) != 1 || runs.created[0].Source != constants.SourceManual || runs.created[0].Status != constants.RunProcessing {
		t.Fatalf("runs = %+v", runs.created)
	}
	run := sub.Run
	prefix := typeID.String() + "/" + run.ID.String() + "/"

	wantKeys := []string{prefix + "scan.pdf", prefix + "scan_1.pdf", prefix + "photo.JPG"}
	if len(docs.created) != len(wantKeys) {
		t.Fatalf("documents = %d, want %d", len(docs.created), len(wantKeys))
	}
	for i, want := range wantKeys {
		doc := docs.created[i]
		if doc.FilePath != want {
			t.Errorf("doc %d key = %q, want %q", i, doc.FilePath, want)
		}
		if doc.Status != constants.DocumentProcessing {
			t.Errorf("doc %d status = %q", i, doc.Status)
		}
		ok, err := blobs.Exists(ctx, want)
		if err != nil || !ok {
			t.Errorf("blob %q missing: %v", want, err)
		}
	}
	if docs.created[2].MimeType != "image/jpeg" || docs.created[2].Filename != "photo.JPG" {
		t.Errorf("third doc = %+v", docs.created[2])
	}
	if docs.created[1].FileSize != 6 {
		t.Errorf("size = %d", docs.created[1].FileSize)
	}

	if len(queue.jobs) != 3 || len(sub.Handles) != 3 {
		t.Fatalf("jobs = %d handles = %d", len(queue.jobs), len(sub.Handles))
	}
	job := queue.jobs[1]
	if job.StorageKey != prefix+"scan_1.pdf" || job.RunID != run.ID || job.OwnerID != owner {
		t.Errorf("job = %+v", job)
	}
	if job.DocumentTypeID == nil || *job.DocumentTypeID != typeID {
		t.Errorf("job type = %v", job.DocumentTypeID)
	}
	if len(job.RequestedFields) != 1 {
		t.Errorf("requested fields = %v", job.RequestedFields)
	}
}

func TestSubmitRejects(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"no owner", Request{DocumentTypeID: uuid.New(), Files: []Upload{{Filename: "a.pdf", Data: []byte("x")}}}},
		{"no files", Request{OwnerID: uuid.New(), DocumentTypeID: uuid.New()}},
		{"bad extension", Request{OwnerID: uuid.New(), DocumentTypeID: uuid.New(), Files: []Upload{{Filename: "a.exe", Data: []byte("x")}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, runs, _, _, _ := newService(t)
			if _, err := svc.Submit(context.Background(), tt.req); !errors.Is(err, common.ErrInvalidInput) {
				t.Errorf("error = %v, want invalid input", err)
			}
			if len(runs.created) != 0 {
				t.Error("a rejected submission created a run")
			}
		})
	}
}

func TestSubmitQueueFailureKeepsStoredDocuments(t *testing.T) {
	svc, runs, docs, queue, _ := newService(t)
	queue.err = async.ErrShuttingDown
	sub, err := svc.Submit(context.Background(), Request{
		OwnerID: uuid.New(), DocumentTypeID: uuid.New(),
		Files: []Upload{{Filename: "a.png", Data: []byte("png")}},
	})
	if !errors.Is(err, async.ErrShuttingDown) {
		t.Fatalf("error = %v", err)
	}
	if sub == nil || len(sub.Documents) != 1 || len(docs.created) != 1 || len(sub.Handles) != 0 {
		t.Fatalf("submission = %+v", sub)
	}
	doc := sub.Documents[0]
	if docs.statuses[doc.ID] != constants.DocumentError || doc.ErrorMessage == nil {
		t.Errorf("document status = %s, message = %v; want error", docs.statuses[doc.ID], doc.ErrorMessage)
	}
	if runs.statuses[sub.Run.ID] != constants.RunError || sub.Run.Status != constants.RunError {
		t.Errorf("run status = %s, want error", runs.statuses[sub.Run.ID])
	}
}

func TestSubmitUnreadableOriginalFailsRun(t *testing.T) {
	svc, runs, docs, queue, _ := newService(t)
	sub, err := svc.Submit(context.Background(), Request{
		OwnerID: uuid.New(), DocumentTypeID: uuid.New(),
		Files: []Upload{{Filename: "a.png", Path: filepath.Join(t.TempDir(), "missing", "a.png")}},
	})
	if !errors.Is(err, common.ErrStorageFailure) {
		t.Fatalf("error = %v, want storage failure", err)
	}
	if len(runs.created) != 1 || runs.statuses[runs.created[0].ID] != constants.RunError {
		t.Errorf("run statuses = %v, want error", runs.statuses)
	}
	if sub == nil || sub.Run.Status != constants.RunError {
		t.Errorf("submission = %+v", sub)
	}
	if len(docs.created) != 0 || len(queue.jobs) != 0 {
		t.Errorf("documents = %d, jobs = %d; want none", len(docs.created), len(queue.jobs))
	}
}

func TestSubmitDirectory(t *testing.T) {
	root := t.TempDir()
	write := func(rel string) {
		p := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(rel), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("a.pdf")
	write("notes.txt")
	write("sub/b.png")
	write(".hidden/c.pdf")
	write(".d.pdf")

	svc, _, docs, queue, _ := newService(t)
	sub, stats, err := svc.SubmitDirectory(context.Background(), uuid.New(), uuid.New(), root, true)
	if err != nil {
		t.Fatalf("SubmitDirectory() error = %v", err)
	}
	if stats.Matched != 2 {
		t.Errorf("stats = %+v, want 2 matched", stats)
	}
	if sub == nil || len(docs.created) != 2 || len(queue.jobs) != 2 {
		t.Fatalf("documents = %d jobs = %d", len(docs.created), len(queue.jobs))
	}
	if queue.jobs[0].FilePath != filepath.Join(root, "a.pdf") {
		t.Errorf("first job path = %q", queue.jobs[0].FilePath)
	}
}

func TestSubmitDirectoryEmpty(t *testing.T) {
	svc, runs, _, _, _ := newService(t)
	sub, _, err := svc.SubmitDirectory(context.Background(), uuid.New(), uuid.New(), t.TempDir(), true)
	if err != nil || sub != nil || len(runs.created) != 0 {
		t.Errorf("SubmitDirectory() = %v, %v; runs = %d", sub, err, len(runs.created))
	}
}
