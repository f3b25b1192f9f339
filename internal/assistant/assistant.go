// Package assistant answers questions about processed documents, reranks search candidates
// with the LLM and applies manual field corrections.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/llm"
	"github.com/joseph-ayodele/docflow/internal/search"
)

var (
	reObject = regexp.MustCompile(`\{[^{}]*\}`)

	rankingSchema = llm.MustCompileSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ranked": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "integer"},
			},
		},
		"required": []any{"ranked"},
	})
)

// DocumentStore is the document persistence the assistant reads and corrects.
type DocumentStore interface {
	Get(ctx context.Context, id uuid.UUID) (*entity.ProcessedDocument, error)
	UpdateFields(ctx context.Context, id uuid.UUID, fields []entity.ExtractedField) error
}

// RunStore resolves the owner and type of a document.
type RunStore interface {
	Get(ctx context.Context, id uuid.UUID) (*entity.ProcessingRun, error)
}

// TypeStore resolves document type names for index metadata.
type TypeStore interface {
	Get(ctx context.Context, id uuid.UUID) (*entity.DocumentType, error)
}

// QueryStore is the question/answer log.
type QueryStore interface {
	Create(ctx context.Context, q *entity.DocumentQuery) error
	ListByDocument(ctx context.Context, documentID, userID uuid.UUID) ([]*entity.DocumentQuery, error)
	DeleteByDocument(ctx context.Context, documentID, userID uuid.UUID) (int64, error)
}

type Options struct {
	Generator llm.Generator
	Documents DocumentStore
	Runs      RunStore
	Types     TypeStore
	Queries   QueryStore
	// Index is optional; corrections skip re-indexing without it.
	Index  search.Index
	Logger *slog.Logger
}

type Assistant struct {
	gen     llm.Generator
	docs    DocumentStore
	runs    RunStore
	types   TypeStore
	queries QueryStore
	index   search.Index
	log     *slog.Logger
}

func New(opts Options) *Assistant {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		gen:     opts.Generator,
		docs:    opts.Documents,
		runs:    opts.Runs,
		types:   opts.Types,
		queries: opts.Queries,
		index:   opts.Index,
		log:     logger,
	}
}

func (a *Assistant) ready() bool {
	return a.gen != nil && a.gen.Ready()
}

// Rerank returns candidate positions, most relevant first, at most topK of them.
// It implements search.Reranker.
func (a *Assistant) Rerank(ctx context.Context, query string, items []llm.RerankItem, topK int) []int {
	if topK <= 0 || topK > len(items) {
		topK = len(items)
	}
	if len(items) <= topK || !a.ready() {
		return identity(topK)
	}

	start := time.Now()
	resp, err := a.gen.Generate(ctx, llm.BuildRerankPrompt(query, items, topK), llm.MaxTokensRerank)
	if err != nil {
		a.log.Warn("assistant.rerank.failed", "error", err)
		return identity(topK)
	}
	order, ok := parseRanking(resp, len(items))
	if !ok || len(order) == 0 {
		a.log.Info("assistant.rerank.unparsed", "response", llm.Truncate(resp, 200))
		return identity(topK)
	}
	if len(order) > topK {
		order = order[:topK]
	}
	a.log.Info("assistant.rerank.ok", "candidates", len(items), "kept", len(order), "elapsed_ms", time.Since(start).Milliseconds())
	return order
}

// parseRanking reads {"ranked":[...]} with 1-based positions into unique 0-based ones.
func parseRanking(resp string, n int) ([]int, bool) {
	for _, raw := range reObject.FindAllString(resp, -1) {
		if err := llm.ValidateJSON(rankingSchema, []byte(raw)); err != nil {
			continue
		}
		var out struct {
			Ranked []int `json:"ranked"`
		}
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			continue
		}
		seen := make(map[int]bool, len(out.Ranked))
		order := make([]int, 0, len(out.Ranked))
		for _, r := range out.Ranked {
			i := r - 1
			if i < 0 || i >= n || seen[i] {
				continue
			}
			seen[i] = true
			order = append(order, i)
		}
		return order, true
	}
	return nil, false
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// document loads a document and its run and checks the owner.
func (a *Assistant) document(ctx context.Context, documentID, userID uuid.UUID) (*entity.ProcessedDocument, *entity.ProcessingRun, error) {
	doc, err := a.docs.Get(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}
	run, err := a.runs.Get(ctx, doc.ProcessingRunID)
	if err != nil {
		return nil, nil, err
	}
	if userID != uuid.Nil && run.UserID != userID {
		return nil, nil, common.NewAppError(common.CodeNotFound, "document not found", common.ErrNotFound)
	}
	return doc, run, nil
}

const maxQuestionLen = 2000

// QueryDocument answers a question about one document and records the exchange. A failed
// generation is recorded with its error and the error is returned.
func (a *Assistant) QueryDocument(ctx context.Context, documentID, userID uuid.UUID, question string) (*entity.DocumentQuery, error) {
	question = strings.TrimSpace(question)
	v := common.NewValidator().Field("question", question, common.Required, common.MaxLen(maxQuestionLen))
	if err := common.ValidateAndReturnError(v); err != nil {
		return nil, err
	}
	doc, run, err := a.document(ctx, documentID, userID)
	if err != nil {
		return nil, err
	}
	if !a.ready() {
		return nil, common.EngineUnavailable("llm")
	}

	q := &entity.DocumentQuery{DocumentID: doc.ID, UserID: run.UserID, Question: question}
	start := time.Now()
	answer, genErr := a.gen.Generate(ctx, llm.BuildAnswerPrompt(question, doc.RawText(), doc.ExtractedFields), llm.MaxTokensAnswer)
	if genErr != nil {
		msg := common.UserMessage(genErr)
		q.Error = &msg
	} else {
		q.Answer = strings.TrimSpace(answer)
	}
	if err := a.queries.Create(ctx, q); err != nil {
		return nil, err
	}
	if genErr != nil {
		a.log.Warn("assistant.query.failed", "document_id", doc.ID, "error", genErr)
		return q, fmt.Errorf("answer question: %w", genErr)
	}
	a.log.Info("assistant.query.ok", "document_id", doc.ID, "elapsed_ms", time.Since(start).Milliseconds())
	return q, nil
}

// ListQueries returns the owner's questions about a document, oldest first.
func (a *Assistant) ListQueries(ctx context.Context, documentID, userID uuid.UUID) ([]*entity.DocumentQuery, error) {
	if _, _, err := a.document(ctx, documentID, userID); err != nil {
		return nil, err
	}
	return a.queries.ListByDocument(ctx, documentID, userID)
}

// DeleteQueries removes the owner's questions about a document.
func (a *Assistant) DeleteQueries(ctx context.Context, documentID, userID uuid.UUID) (int64, error) {
	if _, _, err := a.document(ctx, documentID, userID); err != nil {
		return 0, err
	}
	n, err := a.queries.DeleteByDocument(ctx, documentID, userID)
	if err != nil {
		return 0, err
	}
	a.log.Info("assistant.queries.deleted", "document_id", documentID, "count", n)
	return n, nil
}

// UpdateExtractedField overwrites one field value. OriginalValue is never overwritten; the
// first correction fills it when extraction left it empty. The document is re-indexed with
// the corrections; indexing errors are logged only.
func (a *Assistant) UpdateExtractedField(ctx context.Context, documentID uuid.UUID, index int, value string) (*entity.ProcessedDocument, error) {
	doc, run, err := a.document(ctx, documentID, uuid.Nil)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(doc.ExtractedFields) {
		return nil, common.NewAppError(common.CodeInvalidArgument,
			fmt.Sprintf("field index %d out of range", index), common.ErrInvalidInput)
	}

	fields := make([]entity.ExtractedField, len(doc.ExtractedFields))
	copy(fields, doc.ExtractedFields)
	f := &fields[index]
	if !f.IsCorrected && f.OriginalValue == "" {
		f.OriginalValue = f.Value
	}
	f.Value = value
	f.IsCorrected = true

	if err := a.docs.UpdateFields(ctx, doc.ID, fields); err != nil {
		return nil, err
	}
	doc.ExtractedFields = fields
	a.log.Info("assistant.field.corrected", "document_id", doc.ID, "field", f.Name, "index", index)

	a.reindex(ctx, doc, run)
	return doc, nil
}

func (a *Assistant) reindex(ctx context.Context, doc *entity.ProcessedDocument, run *entity.ProcessingRun) {
	if a.index == nil {
		return
	}
	var typeName string
	if a.types != nil {
		if dt, err := a.types.Get(ctx, run.DocumentTypeID); err == nil {
			typeName = dt.Name
		}
	}
	text := search.CorrectedText(doc.RawText(), doc.ExtractedFields)
	if err := a.index.Update(ctx, doc.ID, text, search.DocumentMetadata(doc, run, typeName)); err != nil {
		a.log.Warn("assistant.reindex.failed", "document_id", doc.ID, "error", err)
	}
}
