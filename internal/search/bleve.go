package search

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/embeddings"
)

// maxScan bounds how many filtered documents are scored by vector distance per search.
const maxScan = 5000

var _ Index = (*BleveIndex)(nil)

// BleveIndex is an on-disk index for deployments without Postgres. With an embedder it
// ranks by cosine distance over stored vectors; without one it falls back to keyword scoring.
type BleveIndex struct {
	index    bleve.Index
	embedder embeddings.Embedder
	logger   *slog.Logger
}

type bleveDoc struct {
	Content   string
	Metadata  map[string]string
	Embedding string
}

// OpenBleve opens or creates the index at path. embedder may be nil.
func OpenBleve(path string, embedder embeddings.Embedder, logger *slog.Logger) (*BleveIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
		logger.Info("search.bleve.created", "path", path)
	} else if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	return &BleveIndex{index: idx, embedder: embedder, logger: logger}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	content := bleve.NewTextFieldMapping()
	content.Store = true

	vector := bleve.NewTextFieldMapping()
	vector.Index = false
	vector.Store = true
	vector.IncludeInAll = false

	meta := bleve.NewDocumentMapping()
	meta.DefaultAnalyzer = keyword.Name

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("Content", content)
	doc.AddFieldMappingsAt("Embedding", vector)
	doc.AddSubDocumentMapping("Metadata", meta)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	return im
}

func (b *BleveIndex) Close() error {
	return b.index.Close()
}

func (b *BleveIndex) AddDocument(ctx context.Context, id uuid.UUID, text string, meta Metadata) error {
	doc := bleveDoc{Content: text, Metadata: meta}
	if b.embedder != nil {
		vec, err := b.embedder.Embed(ctx, text)
		if err != nil {
			return common.NewAppError(common.CodeIndex, "embed document", fmt.Errorf("%w: %w", common.ErrIndexFailure, err))
		}
		doc.Embedding = encodeVector(vec)
	}
	if err := b.index.Index(id.String(), doc); err != nil {
		return common.NewAppError(common.CodeIndex, "index document", fmt.Errorf("%w: %w", common.ErrIndexFailure, err))
	}
	return nil
}

// Update replaces the stored document; bleve re-indexing by id is an overwrite.
func (b *BleveIndex) Update(ctx context.Context, id uuid.UUID, text string, meta Metadata) error {
	return b.AddDocument(ctx, id, text, meta)
}

func (b *BleveIndex) Delete(_ context.Context, id uuid.UUID) error {
	if err := b.index.Delete(id.String()); err != nil {
		return common.NewAppError(common.CodeIndex, "delete document", fmt.Errorf("%w: %w", common.ErrIndexFailure, err))
	}
	return nil
}

func (b *BleveIndex) SimilaritySearch(ctx context.Context, queryText string, k int, filter Metadata) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	if b.embedder != nil {
		return b.vectorSearch(ctx, queryText, k, filter)
	}
	return b.keywordSearch(ctx, queryText, k, filter)
}

func filterQueries(filter Metadata) []query.Query {
	keys := make([]string, 0, len(filter))
	for key := range filter {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	qs := make([]query.Query, 0, len(keys))
	for _, key := range keys {
		tq := bleve.NewTermQuery(filter[key])
		tq.SetField("Metadata." + key)
		qs = append(qs, tq)
	}
	return qs
}

func (b *BleveIndex) vectorSearch(ctx context.Context, queryText string, k int, filter Metadata) ([]Hit, error) {
	qvec, err := b.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	var q query.Query = bleve.NewMatchAllQuery()
	if fq := filterQueries(filter); len(fq) > 0 {
		q = bleve.NewConjunctionQuery(fq...)
	}
	req := bleve.NewSearchRequestOptions(q, maxScan, 0, false)
	req.Fields = []string{"*"}
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, dm := range res.Hits {
		h, ok := toHit(dm.ID, dm.Fields)
		if !ok {
			continue
		}
		raw, _ := dm.Fields["Embedding"].(string)
		vec := decodeVector(raw)
		if vec == nil {
			continue
		}
		h.Distance = embeddings.CosineDistance(qvec, vec)
		hits = append(hits, h)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// keywordSearch maps bleve scores to [0, 1] distances relative to the best hit.
func (b *BleveIndex) keywordSearch(ctx context.Context, queryText string, k int, filter Metadata) ([]Hit, error) {
	match := bleve.NewMatchQuery(queryText)
	match.SetField("Content")
	q := bleve.NewConjunctionQuery(append([]query.Query{match}, filterQueries(filter)...)...)
	req := bleve.NewSearchRequestOptions(q, k, 0, false)
	req.Fields = []string{"*"}
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	var best float64
	for _, dm := range res.Hits {
		best = math.Max(best, dm.Score)
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, dm := range res.Hits {
		h, ok := toHit(dm.ID, dm.Fields)
		if !ok {
			continue
		}
		h.Distance = 1
		if best > 0 {
			h.Distance = 1 - dm.Score/best
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func toHit(id string, fields map[string]any) (Hit, bool) {
	docID, err := uuid.Parse(id)
	if err != nil {
		return Hit{}, false
	}
	h := Hit{DocumentID: docID, Metadata: Metadata{}}
	h.Content, _ = fields["Content"].(string)
	for name, v := range fields {
		key, ok := strings.CutPrefix(name, "Metadata.")
		if !ok {
			continue
		}
		if s, ok := v.(string); ok {
			h.Metadata[key] = s
		}
	}
	return h, true
}

func encodeVector(vec []float32) string {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func decodeVector(s string) []float32 {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec
}
