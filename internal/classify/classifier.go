// Package classify picks the document type of an OCR'd document, asking the LLM first and
// falling back to a deterministic keyword score.
package classify

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/llm"
)

var (
	reObject = regexp.MustCompile(`\{[\s\S]*\}`)

	answerSchema = llm.MustCompileSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"document_type_id": map[string]any{"type": []any{"string", "null"}},
		},
		"required": []any{"document_type_id"},
	})
)

type Classifier struct {
	gen llm.Generator
	log *slog.Logger
}

// NewClassifier builds a classifier. gen may be nil, in which case only scoring is used.
func NewClassifier(gen llm.Generator, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{gen: gen, log: logger}
}

// Classify returns the chosen candidate, or an error wrapping ErrClassificationAmbiguous.
func (c *Classifier) Classify(ctx context.Context, text string, candidates []*entity.DocumentType) (*entity.DocumentType, error) {
	start := time.Now()
	if len(candidates) == 0 {
		return nil, common.NewAppError(common.CodeClassification, "no document types configured", common.ErrClassificationAmbiguous)
	}

	if c.gen != nil && c.gen.Ready() && strings.TrimSpace(text) != "" {
		prompt := llm.BuildClassificationPrompt(text, candidates)
		resp, err := c.gen.Generate(ctx, prompt, llm.MaxTokensClassify)
		if err != nil {
			c.log.Warn("classify.llm.failed", "error", err)
		} else if dt := pickAnswer(resp, candidates); dt != nil {
			c.log.Info("classify.llm.ok", "document_type_id", dt.ID, "elapsed_ms", time.Since(start).Milliseconds())
			return dt, nil
		} else {
			c.log.Info("classify.llm.rejected", "response", llm.Truncate(resp, 200))
		}
	}

	if dt := Score(text, candidates); dt != nil {
		c.log.Info("classify.score.ok", "document_type_id", dt.ID, "elapsed_ms", time.Since(start).Milliseconds())
		return dt, nil
	}
	if len(candidates) == 1 {
		c.log.Info("classify.default.sole_candidate", "document_type_id", candidates[0].ID)
		return candidates[0], nil
	}
	c.log.Warn("classify.ambiguous", "candidates", len(candidates))
	return nil, common.NewAppError(common.CodeClassification, "unable to classify document", common.ErrClassificationAmbiguous)
}

// pickAnswer accepts the model's id only when it names one of the candidates.
func pickAnswer(resp string, candidates []*entity.DocumentType) *entity.DocumentType {
	raw := reObject.FindString(resp)
	if raw == "" {
		return nil
	}
	if err := llm.ValidateJSON(answerSchema, []byte(raw)); err != nil {
		return nil
	}
	var out struct {
		DocumentTypeID *string `json:"document_type_id"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out.DocumentTypeID == nil {
		return nil
	}
	id := strings.TrimSpace(*out.DocumentTypeID)
	for _, dt := range candidates {
		if dt.ID.String() == id {
			return dt
		}
	}
	return nil
}

// Score ranks candidates by keyword presence in the lower-cased text: +3 when the type name
// appears, +1 per field token that appears verbatim. Table tokens are matched whole, so their
// columns do not score on their own. The highest non-zero score wins and
// ties keep the first-seen candidate. Returns nil when nothing scores.
func Score(text string, candidates []*entity.DocumentType) *entity.DocumentType {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return nil
	}
	var (
		best      *entity.DocumentType
		bestScore int
	)
	for _, dt := range candidates {
		score := 0
		if name := strings.ToLower(strings.TrimSpace(dt.Name)); name != "" && strings.Contains(lower, name) {
			score += 3
		}
		for _, f := range dt.Fields {
			if f = strings.ToLower(strings.TrimSpace(f)); f != "" && strings.Contains(lower, f) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = dt, score
		}
	}
	return best
}
