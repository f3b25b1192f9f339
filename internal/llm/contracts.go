package llm

import "context"

// Generator is the text-generation engine the rest of the system depends on.
// Generate returns the raw completion text; an empty string with a nil error means
// the provider answered without usable content.
type Generator interface {
	Ready() bool
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Token budgets and text limits per call kind. Limits count runes.
const (
	MaxTokensExtract       = 500
	MaxTokensExtractTables = 2000
	MaxTokensClassify      = 200
	MaxTokensRerank        = 200
	MaxTokensAnswer        = 1000

	DocumentTextLimit  = 4000
	RerankSnippetLimit = 200
	RAGMaxExamples     = 5
)
