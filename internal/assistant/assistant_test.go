package assistant

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/llm"
	"github.com/joseph-ayodele/docflow/internal/search"
)

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

type fakeDocs struct {
	docs map[uuid.UUID]*entity.ProcessedDocument
}

func (f *fakeDocs) Get(_ context.Context, id uuid.UUID) (*entity.ProcessedDocument, error) {
	d, ok := f.docs[id]
	if !ok {
		return nil, common.NewAppError(common.CodeNotFound, "document not found", common.ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDocs) UpdateFields(_ context.Context, id uuid.UUID, fields []entity.ExtractedField) error {
	f.docs[id].ExtractedFields = fields
	return nil
}

type fakeRuns map[uuid.UUID]*entity.ProcessingRun

func (f fakeRuns) Get(_ context.Context, id uuid.UUID) (*entity.ProcessingRun, error) {
	r, ok := f[id]
	if !ok {
		return nil, common.NewAppError(common.CodeNotFound, "run not found", common.ErrNotFound)
	}
	return r, nil
}

type fakeTypes map[uuid.UUID]*entity.DocumentType

func (f fakeTypes) Get(_ context.Context, id uuid.UUID) (*entity.DocumentType, error) {
	if dt, ok := f[id]; ok {
		return dt, nil
	}
	return nil, common.ErrNotFound
}

type fakeQueries struct {
	stored []*entity.DocumentQuery
}

func (f *fakeQueries) Create(_ context.Context, q *entity.DocumentQuery) error {
	f.stored = append(f.stored, q)
	return nil
}

func (f *fakeQueries) ListByDocument(_ context.Context, documentID, userID uuid.UUID) ([]*entity.DocumentQuery, error) {
	var out []*entity.DocumentQuery
	for _, q := range f.stored {
		if q.DocumentID == documentID && q.UserID == userID {
			out = append(out, q)
		}
	}
	return out, nil
}

func (f *fakeQueries) DeleteByDocument(_ context.Context, documentID, userID uuid.UUID) (int64, error) {
	var kept []*entity.DocumentQuery
	var n int64
	for _, q := range f.stored {
		if q.DocumentID == documentID && q.UserID == userID {
			n++
			continue
		}
		kept = append(kept, q)
	}
	f.stored = kept
	return n, nil
}

type fakeIndex struct {
	updates map[uuid.UUID]string
	meta    map[uuid.UUID]search.Metadata
	err     error
}

func (f *fakeIndex) AddDocument(ctx context.Context, id uuid.UUID, text string, meta search.Metadata) error {
	return f.Update(ctx, id, text, meta)
}

func (f *fakeIndex) Update(_ context.Context, id uuid.UUID, text string, meta search.Metadata) error {
	if f.err != nil {
		return f.err
	}
	if f.updates == nil {
		f.updates = map[uuid.UUID]string{}
		f.meta = map[uuid.UUID]search.Metadata{}
	}
	f.updates[id] = text
	f.meta[id] = meta
	return nil
}

func (f *fakeIndex) Delete(context.Context, uuid.UUID) error { return nil }

func (f *fakeIndex) SimilaritySearch(context.Context, string, int, search.Metadata) ([]search.Hit, error) {
	return nil, nil
}

type fixture struct {
	a       *Assistant
	gen     *fakeGenerator
	docs    *fakeDocs
	queries *fakeQueries
	index   *fakeIndex
	doc     *entity.ProcessedDocument
	owner   uuid.UUID
}

func newFixture() *fixture {
	owner := uuid.New()
	typeID := uuid.New()
	run := &entity.ProcessingRun{ID: uuid.New(), DocumentTypeID: typeID, UserID: owner}
	raw := "Счёт № 42 от 01.02.2024"
	doc := &entity.ProcessedDocument{
		ID:              uuid.New(),
		ProcessingRunID: run.ID,
		Filename:        "invoice.png",
		OCRResult:       entity.OCRResult{RawText: raw},
		ExtractedFields: []entity.ExtractedField{
			{Name: "Номер", Value: "42", OriginalValue: "42", Confidence: 0.8},
			{Name: "Сумма", Value: "Не найдено", OriginalValue: "Не найдено"},
		},
	}
	f := &fixture{
		gen:     &fakeGenerator{ready: true},
		docs:    &fakeDocs{docs: map[uuid.UUID]*entity.ProcessedDocument{doc.ID: doc}},
		queries: &fakeQueries{},
		index:   &fakeIndex{},
		doc:     doc,
		owner:   owner,
	}
	f.a = New(Options{
		Generator: f.gen,
		Documents: f.docs,
		Runs:      fakeRuns{run.ID: run},
		Types:     fakeTypes{typeID: {ID: typeID, Name: "Счёт"}},
		Queries:   f.queries,
		Index:     f.index,
	})
	return f
}

func items(n int) []llm.RerankItem {
	out := make([]llm.RerankItem, n)
	for i := range out {
		out[i] = llm.RerankItem{Filename: "doc.pdf", Content: "content"}
	}
	return out
}

func TestRerank(t *testing.T) {
	tests := []struct {
		name  string
		ready bool
		resp  string
		err   error
		n     int
		topK  int
		want  []int
	}{
		{"few candidates untouched", true, `{"ranked":[2,1]}`, nil, 2, 5, []int{0, 1}},
		{"not ready", false, "", nil, 6, 3, []int{0, 1, 2}},
		{"ranked one-based", true, `Вот ответ: {"ranked": [3, 1, 2]}`, nil, 5, 3, []int{2, 0, 1}},
		{"invalid and duplicate dropped", true, `{"ranked": [9, 2, 2, 0, 4]}`, nil, 5, 3, []int{1, 3}},
		{"capped at topK", true, `{"ranked": [5, 4, 3, 2, 1]}`, nil, 5, 2, []int{4, 3}},
		{"garbled falls back", true, `no json here`, nil, 5, 2, []int{0, 1}},
		{"wrong shape falls back", true, `{"ranked": "first"}`, nil, 5, 2, []int{0, 1}},
		{"generator error falls back", true, "", errors.New("boom"), 5, 2, []int{0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{ready: tt.ready, resp: tt.resp, err: tt.err}
			a := New(Options{Generator: gen})
			got := a.Rerank(context.Background(), "счёт", items(tt.n), tt.topK)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Rerank() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRerankPromptListsCandidates(t *testing.T) {
	gen := &fakeGenerator{ready: true, resp: `{"ranked":[1]}`}
	a := New(Options{Generator: gen})
	a.Rerank(context.Background(), "договор", []llm.RerankItem{
		{Filename: "a.pdf", Content: "первый"},
		{Filename: "b.pdf", Content: "второй"},
	}, 1)
	if len(gen.prompts) != 1 {
		t.Fatalf("prompts = %d, want 1", len(gen.prompts))
	}
	for _, want := range []string{`"договор"`, "1. [a.pdf]: первый", "2. [b.pdf]: второй", "максимум 1 штук"} {
		if !strings.Contains(gen.prompts[0], want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestQueryDocument(t *testing.T) {
	f := newFixture()
	f.gen.resp = "  Номер счёта 42.  "

	q, err := f.a.QueryDocument(context.Background(), f.doc.ID, f.owner, "Какой номер?")
	if err != nil {
		t.Fatalf("QueryDocument() error = %v", err)
	}
	if q.Answer != "Номер счёта 42." || q.Error != nil {
		t.Errorf("query = %+v", q)
	}
	prompt := f.gen.prompts[0]
	if !strings.Contains(prompt, "Счёт № 42") || !strings.Contains(prompt, "- Номер: 42") {
		t.Errorf("prompt lacks document context: %q", prompt)
	}
	if strings.Contains(prompt, "Сумма") {
		t.Error("placeholder field leaked into the prompt")
	}

	list, err := f.a.ListQueries(context.Background(), f.doc.ID, f.owner)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListQueries() = %d, %v", len(list), err)
	}
	n, err := f.a.DeleteQueries(context.Background(), f.doc.ID, f.owner)
	if err != nil || n != 1 {
		t.Fatalf("DeleteQueries() = %d, %v", n, err)
	}
}

func TestQueryDocumentGeneratorFailure(t *testing.T) {
	f := newFixture()
	f.gen.err = errors.New("upstream timeout")

	q, err := f.a.QueryDocument(context.Background(), f.doc.ID, f.owner, "Сумма?")
	if err == nil {
		t.Fatal("QueryDocument() error = nil, want error")
	}
	if len(f.queries.stored) != 1 {
		t.Fatalf("stored = %d, want 1", len(f.queries.stored))
	}
	if q.Error == nil || *q.Error != "upstream timeout" {
		t.Errorf("stored error = %v", q.Error)
	}
}

func TestQueryDocumentRejects(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.a.QueryDocument(ctx, f.doc.ID, f.owner, "   "); !errors.Is(err, common.ErrInvalidInput) {
		t.Errorf("empty question error = %v", err)
	}
	if _, err := f.a.QueryDocument(ctx, f.doc.ID, uuid.New(), "чей?"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("foreign owner error = %v", err)
	}
	if _, err := f.a.QueryDocument(ctx, uuid.New(), f.owner, "где?"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("missing document error = %v", err)
	}
	f.gen.ready = false
	if _, err := f.a.QueryDocument(ctx, f.doc.ID, f.owner, "что?"); !errors.Is(err, common.ErrEngineUnavailable) {
		t.Errorf("not ready error = %v", err)
	}
	if len(f.queries.stored) != 0 {
		t.Errorf("stored = %d, want 0", len(f.queries.stored))
	}
}

func TestUpdateExtractedField(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	doc, err := f.a.UpdateExtractedField(ctx, f.doc.ID, 1, "1500.00")
	if err != nil {
		t.Fatalf("UpdateExtractedField() error = %v", err)
	}
	got := doc.ExtractedFields[1]
	if got.Value != "1500.00" || !got.IsCorrected || got.OriginalValue != "Не найдено" {
		t.Errorf("field = %+v", got)
	}

	// A second correction keeps the first original value.
	doc, err = f.a.UpdateExtractedField(ctx, f.doc.ID, 1, "1600.00")
	if err != nil {
		t.Fatalf("second UpdateExtractedField() error = %v", err)
	}
	if got := doc.ExtractedFields[1]; got.Value != "1600.00" || got.OriginalValue != "Не найдено" {
		t.Errorf("field after second correction = %+v", got)
	}
	if stored := f.docs.docs[f.doc.ID].ExtractedFields[1]; stored.Value != "1600.00" {
		t.Errorf("stored value = %q", stored.Value)
	}

	text := f.index.updates[f.doc.ID]
	if !strings.HasPrefix(text, "Corrected fields:\n- Сумма: 1600.00") || !strings.Contains(text, "Счёт № 42") {
		t.Errorf("indexed text = %q", text)
	}
	if meta := f.index.meta[f.doc.ID]; meta["document_type_name"] != "Счёт" || meta["user_id"] != f.owner.String() {
		t.Errorf("indexed metadata = %v", meta)
	}
}

func TestUpdateExtractedFieldIndexFailureSwallowed(t *testing.T) {
	f := newFixture()
	f.index.err = common.NewAppError(common.CodeIndex, "update", common.ErrIndexFailure)

	if _, err := f.a.UpdateExtractedField(context.Background(), f.doc.ID, 0, "43"); err != nil {
		t.Fatalf("UpdateExtractedField() error = %v, want nil", err)
	}
	if _, err := f.a.UpdateExtractedField(context.Background(), f.doc.ID, 5, "x"); !errors.Is(err, common.ErrInvalidInput) {
		t.Errorf("out of range error = %v", err)
	}
}
