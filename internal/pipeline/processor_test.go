package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/ocr"
	"github.com/joseph-ayodele/docflow/internal/repository"
	"github.com/joseph-ayodele/docflow/internal/search"
)

const ocrText = "Счёт № 42\nСумма: 1500.00"

type fakeRecognizer struct {
	ready  bool
	pages  []string
	calls  int
	paths  []string
	result entity.OCRResult
}

func (f *fakeRecognizer) Ready() bool { return f.ready }

func (f *fakeRecognizer) Extract(_ context.Context, path string) (*ocr.Document, error) {
	f.calls++
	f.paths = append(f.paths, path)
	return &ocr.Document{OCR: f.result, PageImages: f.pages, Pages: 1}, nil
}

type fakeClassifier struct {
	pick  int
	calls int
}

func (f *fakeClassifier) Classify(_ context.Context, _ string, candidates []*entity.DocumentType) (*entity.DocumentType, error) {
	f.calls++
	if f.pick < 0 || f.pick >= len(candidates) {
		return nil, common.NewAppError(common.CodeClassification, "unable to classify document", common.ErrClassificationAmbiguous)
	}
	return candidates[f.pick], nil
}

type fakeGenerator struct {
	ready   bool
	resp    string
	err     error
	prompts []string
}

func (g *fakeGenerator) Ready() bool { return g.ready }

func (g *fakeGenerator) Generate(_ context.Context, prompt string, _ int) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return g.resp, g.err
}

type fakeTypes struct {
	types []*entity.DocumentType
}

func (f *fakeTypes) Get(_ context.Context, id uuid.UUID) (*entity.DocumentType, error) {
	for _, dt := range f.types {
		if dt.ID == id {
			return dt, nil
		}
	}
	return nil, common.NewAppError(common.CodeNotFound, "document type not found", common.ErrNotFound)
}

func (f *fakeTypes) ListByUser(_ context.Context, userID uuid.UUID) ([]*entity.DocumentType, error) {
	var out []*entity.DocumentType
	for _, dt := range f.types {
		if dt.UserID == userID {
			out = append(out, dt)
		}
	}
	return out, nil
}

type fakeDocs struct {
	docs     map[uuid.UUID]*entity.ProcessedDocument
	recent   []*entity.ProcessedDocument
	saveErr  error
	saves    int
	statuses []constants.DocumentStatus
}

func (f *fakeDocs) Get(_ context.Context, id uuid.UUID) (*entity.ProcessedDocument, error) {
	d, ok := f.docs[id]
	if !ok {
		return nil, common.NewAppError(common.CodeNotFound, "document not found", common.ErrNotFound)
	}
	return d, nil
}

func (f *fakeDocs) UpdateStatus(_ context.Context, id uuid.UUID, status constants.DocumentStatus, _ *string) error {
	f.statuses = append(f.statuses, status)
	if d, ok := f.docs[id]; ok {
		d.Status = status
	}
	return nil
}

func (f *fakeDocs) SaveExtractionResults(_ context.Context, id uuid.UUID, res repository.ExtractionResults) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	d := f.docs[id]
	d.OCRResult, d.ExtractedFields, d.Status = res.OCR, res.Fields, res.Status
	return nil
}

func (f *fakeDocs) RecentExtractedByType(context.Context, uuid.UUID, int) ([]*entity.ProcessedDocument, error) {
	return f.recent, nil
}

type fakeRuns struct {
	runs map[uuid.UUID]*entity.ProcessingRun
}

func (f *fakeRuns) Get(_ context.Context, id uuid.UUID) (*entity.ProcessingRun, error) {
	r, ok := f.runs[id]
	if !ok {
		return nil, common.NewAppError(common.CodeNotFound, "run not found", common.ErrNotFound)
	}
	return r, nil
}

func (f *fakeRuns) UpdateStatus(_ context.Context, id uuid.UUID, status constants.RunStatus) error {
	f.runs[id].Status = status
	return nil
}

type fakeCheckpoints struct {
	m     map[uuid.UUID]entity.TaskCheckpoint
	saved []constants.Stage
}

func newFakeCheckpoints() *fakeCheckpoints {
	return &fakeCheckpoints{m: map[uuid.UUID]entity.TaskCheckpoint{}}
}

func (f *fakeCheckpoints) Get(_ context.Context, id uuid.UUID) (*entity.TaskCheckpoint, error) {
	cp, ok := f.m[id]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func (f *fakeCheckpoints) Save(_ context.Context, cp *entity.TaskCheckpoint) error {
	f.m[cp.DocumentID] = *cp
	f.saved = append(f.saved, cp.Stage)
	return nil
}

func (f *fakeCheckpoints) Delete(_ context.Context, id uuid.UUID) error {
	delete(f.m, id)
	return nil
}

type fakeBlobs struct {
	objects map[string][]byte
}

func (f *fakeBlobs) Put(_ context.Context, key string, data []byte, _ string) error {
	f.objects[key] = data
	return nil
}

func (f *fakeBlobs) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, common.ErrNotFound
	}
	return data, nil
}

type fakeIndex struct {
	added map[uuid.UUID]search.Metadata
	err   error
}

func (f *fakeIndex) AddDocument(_ context.Context, id uuid.UUID, _ string, meta search.Metadata) error {
	if f.err != nil {
		return f.err
	}
	f.added[id] = meta
	return nil
}

func (f *fakeIndex) Update(ctx context.Context, id uuid.UUID, text string, meta search.Metadata) error {
	return f.AddDocument(ctx, id, text, meta)
}

func (f *fakeIndex) Delete(context.Context, uuid.UUID) error { return nil }

func (f *fakeIndex) SimilaritySearch(context.Context, string, int, search.Metadata) ([]search.Hit, error) {
	return nil, nil
}

type harness struct {
	proc        *Processor
	rec         *fakeRecognizer
	classifier  *fakeClassifier
	gen         *fakeGenerator
	docs        *fakeDocs
	runs        *fakeRuns
	checkpoints *fakeCheckpoints
	blobs       *fakeBlobs
	index       *fakeIndex
	docType     *entity.DocumentType
	job         Job
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	local := filepath.Join(dir, "scan.pdf")
	if err := os.WriteFile(local, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatal(err)
	}
	page := filepath.Join(dir, "page-1.png")
	if err := os.WriteFile(page, []byte("png-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	owner := uuid.New()
	dt := &entity.DocumentType{ID: uuid.New(), UserID: owner, Name: "Счёт", Fields: []string{"Номер", "Сумма"}}
	run := &entity.ProcessingRun{ID: uuid.New(), DocumentTypeID: dt.ID, UserID: owner, Status: constants.RunProcessing}
	doc := &entity.ProcessedDocument{ID: uuid.New(), ProcessingRunID: run.ID, Filename: "scan.pdf", Status: constants.DocumentProcessing}
	key := dt.ID.String() + "/" + run.ID.String() + "/scan.pdf"

	h := &harness{
		rec: &fakeRecognizer{
			ready: true,
			pages: []string{page},
			result: entity.OCRResult{
				RawText: ocrText,
				JSONContent: entity.OCRContent{ParsingResList: []entity.OCRBlock{
					{ID: 0, Content: "Счёт № 42", BBox: []float64{10, 10, 200, 40}},
					{ID: 1, Content: "Сумма: 1500.00", BBox: []float64{10, 50, 200, 80}},
				}},
			},
		},
		classifier:  &fakeClassifier{},
		gen:         &fakeGenerator{ready: true, resp: `{"fields": [{"name": "Номер", "value": "42", "confidence": 0.9}]}`},
		docs:        &fakeDocs{docs: map[uuid.UUID]*entity.ProcessedDocument{doc.ID: doc}},
		runs:        &fakeRuns{runs: map[uuid.UUID]*entity.ProcessingRun{run.ID: run}},
		checkpoints: newFakeCheckpoints(),
		blobs:       &fakeBlobs{objects: map[string][]byte{key: []byte("%PDF-1.4")}},
		index:       &fakeIndex{added: map[uuid.UUID]search.Metadata{}},
		docType:     dt,
	}
	h.job = Job{
		DocumentID:     doc.ID,
		RunID:          run.ID,
		DocumentTypeID: &dt.ID,
		FilePath:       local,
		Filename:       "scan.pdf",
		StorageKey:     key,
		OwnerID:        owner,
		Attempt:        1,
	}
	h.proc = NewProcessor(Options{
		Recognizer:  h.rec,
		Classifier:  h.classifier,
		Generator:   h.gen,
		Types:       &fakeTypes{types: []*entity.DocumentType{dt}},
		Documents:   h.docs,
		Runs:        h.runs,
		Checkpoints: h.checkpoints,
		Blobs:       h.blobs,
		Index:       h.index,
	})
	return h
}

func fieldByName(fields []entity.ExtractedField, name string) (entity.ExtractedField, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return entity.ExtractedField{}, false
}

func TestProcessFullRun(t *testing.T) {
	h := newHarness(t)

	out, err := h.proc.Process(context.Background(), h.job)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if out.FinalStatus != constants.DocumentNeedsReview || out.RawText != ocrText {
		t.Errorf("outcome = %+v", out)
	}

	number, ok := fieldByName(out.Fields, "Номер")
	if !ok || number.Value != "42" || number.OriginalValue != "42" || number.IsCorrected {
		t.Errorf("Номер = %+v", number)
	}
	if len(number.Coordinate) != 4 || number.Coordinate[1] != 10 {
		t.Errorf("Номер coordinate = %v, want first block", number.Coordinate)
	}
	sum, ok := fieldByName(out.Fields, "Сумма")
	if !ok || sum.Value != "1500.00" || sum.Confidence != constants.FallbackConfidence {
		t.Errorf("Сумма = %+v, want OCR fallback", sum)
	}

	wantPreview := h.docType.ID.String() + "/" + h.job.RunID.String() + "/scan_preview.png"
	if out.PreviewImageKey == nil || *out.PreviewImageKey != wantPreview {
		t.Errorf("preview key = %v, want %s", out.PreviewImageKey, wantPreview)
	}
	if _, ok := h.blobs.objects[wantPreview]; !ok {
		t.Error("preview was not uploaded")
	}

	doc := h.docs.docs[h.job.DocumentID]
	if doc.Status != constants.DocumentNeedsReview || len(doc.ExtractedFields) != len(out.Fields) {
		t.Errorf("stored document = %+v", doc)
	}
	if got := h.runs.runs[h.job.RunID].Status; got != constants.RunNeedsReview {
		t.Errorf("run status = %s, want needs_review", got)
	}
	meta := h.index.added[h.job.DocumentID]
	if meta["document_type_name"] != "Счёт" || meta["user_id"] != h.job.OwnerID.String() || meta["status"] != "needs_review" {
		t.Errorf("index metadata = %v", meta)
	}
	if _, ok := h.checkpoints.m[h.job.DocumentID]; ok {
		t.Error("checkpoint left behind after success")
	}
	want := []constants.Stage{constants.StageOCRDone, constants.StageClassified, constants.StageExtracted, constants.StagePersisted}
	if strings.Join(stageStrings(h.checkpoints.saved), ",") != strings.Join(stageStrings(want), ",") {
		t.Errorf("saved stages = %v, want %v", h.checkpoints.saved, want)
	}
}

func stageStrings(stages []constants.Stage) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = string(s)
	}
	return out
}

func TestProcessResumesAfterPersistFailure(t *testing.T) {
	h := newHarness(t)
	h.docs.saveErr = errors.New("disk full")

	_, err := h.proc.Process(context.Background(), h.job)
	if !errors.Is(err, common.ErrStorageFailure) {
		t.Fatalf("first attempt error = %v, want storage failure", err)
	}
	cp := h.checkpoints.m[h.job.DocumentID]
	if cp.Stage != constants.StageExtracted || cp.LastError == nil {
		t.Fatalf("checkpoint = %+v, want extracted with last error", cp)
	}

	h.docs.saveErr = nil
	h.job.Attempt = 2
	if _, err := h.proc.Process(context.Background(), h.job); err != nil {
		t.Fatalf("second attempt error = %v", err)
	}
	if h.rec.calls != 1 {
		t.Errorf("ocr calls = %d, want 1", h.rec.calls)
	}
	if len(h.gen.prompts) != 1 {
		t.Errorf("generator calls = %d, want 1", len(h.gen.prompts))
	}
	if h.docs.saves != 1 {
		t.Errorf("saves = %d, want 1", h.docs.saves)
	}
}

func TestProcessOCRUnavailable(t *testing.T) {
	h := newHarness(t)
	h.rec.ready = false

	_, err := h.proc.Process(context.Background(), h.job)
	if !errors.Is(err, common.ErrEngineUnavailable) {
		t.Fatalf("error = %v, want engine unavailable", err)
	}
	if !common.IsRetryable(err) {
		t.Error("engine unavailability should be retryable")
	}
	if cp := h.checkpoints.m[h.job.DocumentID]; cp.Stage != constants.StageNone || cp.LastError == nil {
		t.Errorf("checkpoint = %+v", cp)
	}
}

func TestProcessClassifiesWithoutType(t *testing.T) {
	h := newHarness(t)
	h.job.DocumentTypeID = nil

	out, err := h.proc.Process(context.Background(), h.job)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if h.classifier.calls != 1 || out.DocumentTypeID != h.docType.ID {
		t.Errorf("classifier calls = %d, type = %s", h.classifier.calls, out.DocumentTypeID)
	}

	h2 := newHarness(t)
	h2.job.DocumentTypeID = nil
	h2.classifier.pick = -1
	_, err = h2.proc.Process(context.Background(), h2.job)
	if !errors.Is(err, common.ErrClassificationAmbiguous) || common.IsRetryable(err) {
		t.Errorf("error = %v, want non-retryable ambiguity", err)
	}
}

func TestProcessFetchesOriginalWhenLocalCopyGone(t *testing.T) {
	h := newHarness(t)
	h.job.FilePath = filepath.Join(t.TempDir(), "gone.pdf")

	if _, err := h.proc.Process(context.Background(), h.job); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(h.rec.paths) != 1 || h.rec.paths[0] == h.job.FilePath || !strings.HasSuffix(h.rec.paths[0], ".pdf") {
		t.Errorf("ocr paths = %v", h.rec.paths)
	}
	if _, err := os.Stat(h.rec.paths[0]); !errors.Is(err, os.ErrNotExist) {
		t.Error("temporary copy was not removed")
	}
}

func TestProcessIndexFailureSwallowed(t *testing.T) {
	h := newHarness(t)
	h.index.err = common.NewAppError(common.CodeIndex, "add", common.ErrIndexFailure)

	if _, err := h.proc.Process(context.Background(), h.job); err != nil {
		t.Fatalf("Process() error = %v, want nil", err)
	}
	if h.docs.docs[h.job.DocumentID].Status != constants.DocumentNeedsReview {
		t.Error("document should still be persisted")
	}
}

func TestExtractStage(t *testing.T) {
	dt := &entity.DocumentType{ID: uuid.New(), Name: "Счёт"}
	self := uuid.New()
	res := entity.OCRResult{RawText: "Номер: 7"}

	tests := []struct {
		name      string
		gen       *fakeGenerator
		wantValue string
		wantConf  float64
	}{
		{"generator error", &fakeGenerator{ready: true, err: errors.New("timeout")}, "7", constants.FallbackConfidence},
		{"llm unavailable", &fakeGenerator{ready: false}, "7", constants.FallbackConfidence},
		{"garbled", &fakeGenerator{ready: true, resp: "не знаю"}, "7", constants.FallbackConfidence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewExtractStage(tt.gen, &fakeDocs{}, nil, nil)
			fields := s.Run(context.Background(), self, []string{"Номер", "Дата"}, dt, res)
			number, _ := fieldByName(fields, "Номер")
			if number.Value != tt.wantValue || number.Confidence != tt.wantConf || number.OriginalValue != tt.wantValue {
				t.Errorf("Номер = %+v", number)
			}
			date, ok := fieldByName(fields, "Дата")
			if !ok || date.Confidence != 0 {
				t.Errorf("Дата = %+v", date)
			}
		})
	}

	t.Run("error placeholder", func(t *testing.T) {
		s := NewExtractStage(&fakeGenerator{ready: true, err: errors.New("timeout")}, &fakeDocs{}, nil, nil)
		fields := s.Run(context.Background(), self, []string{"Дата"}, dt, res)
		if len(fields) != 1 || fields[0].Value != constants.ExtractionErrorValue {
			t.Errorf("fields = %+v", fields)
		}
	})

	t.Run("rag examples skip self", func(t *testing.T) {
		gen := &fakeGenerator{ready: true, resp: `{"fields": []}`}
		docs := &fakeDocs{recent: []*entity.ProcessedDocument{
			{ID: self, Filename: "self.png", ExtractedFields: []entity.ExtractedField{{Name: "Номер", Value: "1"}}},
			{ID: uuid.New(), Filename: "old.png", ExtractedFields: []entity.ExtractedField{{Name: "Номер", Value: "5"}}},
		}}
		s := NewExtractStage(gen, docs, nil, nil)
		s.Run(context.Background(), self, []string{"Номер"}, dt, res)
		if len(gen.prompts) != 1 {
			t.Fatalf("prompts = %d", len(gen.prompts))
		}
		if !strings.Contains(gen.prompts[0], "Пример 1 (old.png)") || strings.Contains(gen.prompts[0], "self.png") {
			t.Errorf("prompt RAG context wrong:\n%s", gen.prompts[0])
		}
	})

	t.Run("empty schema", func(t *testing.T) {
		s := NewExtractStage(&fakeGenerator{ready: true}, &fakeDocs{}, nil, nil)
		if fields := s.Run(context.Background(), self, nil, dt, res); fields != nil {
			t.Errorf("fields = %+v, want nil", fields)
		}
	})
}

func TestAnalyzeAndSeed(t *testing.T) {
	h := newHarness(t)
	h.job.DocumentTypeID = nil

	a, err := h.proc.Analyze(context.Background(), h.job.FilePath, h.job.OwnerID)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	defer a.Close()
	if a.Type.ID != h.docType.ID {
		t.Errorf("type = %s", a.Type.ID)
	}
	if err := h.proc.Seed(context.Background(), h.job.DocumentID, h.job.StorageKey, h.job.Filename, a); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	cp := h.checkpoints.m[h.job.DocumentID]
	if cp.Stage != constants.StageClassified || cp.OCR == nil || cp.OCR.PreviewImage == nil {
		t.Fatalf("seeded checkpoint = %+v", cp)
	}

	out, err := h.proc.Process(context.Background(), h.job)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if h.rec.calls != 1 || h.classifier.calls != 1 {
		t.Errorf("ocr calls = %d, classifier calls = %d, want 1 and 1", h.rec.calls, h.classifier.calls)
	}
	if out.PreviewImageKey == nil {
		t.Error("preview key lost on resume")
	}
}
