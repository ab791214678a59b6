// Package textindex keeps an in-memory full-text index over entity names,
// types and source text. GraphRAG uses it for keyword seeds alongside vector
// similarity.
package textindex

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/edgengram"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/endomorphosis/ipfskg/pkg/graph"
)

const (
	textAnalyzerName    = "entityEdgeNgram"
	textTokenFilterName = "entityEdgeFilter"

	fieldName       = "name"
	fieldType       = "entity_type"
	fieldSourceText = "source_text"
	fieldProperties = "properties"
)

// Hit is one matching entity. Score is relative to the best hit of the same
// search, so the top hit always scores 1.
type Hit struct {
	ID    graph.EntityID
	Score float64
}

// Index is a thread-safe full-text index of entities.
type Index struct {
	mu sync.RWMutex
	bi bleve.Index
}

func buildIndexMapping() (mapping.IndexMapping, error) {
	doc := bleve.NewDocumentMapping()
	for _, f := range []string{fieldName, fieldSourceText, fieldProperties} {
		text := bleve.NewTextFieldMapping()
		text.Analyzer = textAnalyzerName
		doc.AddFieldMappingsAt(f, text)
	}
	doc.AddFieldMappingsAt(fieldType, bleve.NewKeywordFieldMapping())

	idxMapping := bleve.NewIndexMapping()
	idxMapping.DefaultMapping = doc
	idxMapping.DefaultAnalyzer = textAnalyzerName

	if err := idxMapping.AddCustomTokenFilter(textTokenFilterName, map[string]any{
		"type": edgengram.Name,
		"min":  2.0,
		"max":  25.0,
	}); err != nil {
		return nil, fmt.Errorf("add token filter: %w", err)
	}
	if err := idxMapping.AddCustomAnalyzer(textAnalyzerName, map[string]any{
		"type":      custom.Name,
		"tokenizer": unicode.Name,
		"token_filters": []string{
			lowercase.Name,
			textTokenFilterName,
		},
	}); err != nil {
		return nil, fmt.Errorf("add analyzer: %w", err)
	}
	return idxMapping, nil
}

// New creates an empty in-memory index.
func New() (*Index, error) {
	m, err := buildIndexMapping()
	if err != nil {
		return nil, err
	}
	bi, err := bleve.NewMemOnly(m)
	if err != nil {
		return nil, fmt.Errorf("create text index: %w", err)
	}
	return &Index{bi: bi}, nil
}

// IndexEntity adds or replaces the document for e.
func (x *Index) IndexEntity(e *graph.Entity) error {
	doc := map[string]any{
		fieldName:       e.Name,
		fieldType:       e.Type,
		fieldSourceText: e.SourceText,
		fieldProperties: flattenProperties(e.Properties),
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.bi.Index(string(e.ID), doc); err != nil {
		return fmt.Errorf("index entity %s: %w", e.ID, err)
	}
	return nil
}

// Remove drops the document for id. Unknown IDs are ignored.
func (x *Index) Remove(id graph.EntityID) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.bi.Delete(string(id))
}

// Len returns the number of indexed entities.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	n, err := x.bi.DocCount()
	if err != nil {
		return 0
	}
	return int(n)
}

// Search returns up to limit entities matching text, best first. A non-empty
// entityType restricts hits to that type. Equal scores are ordered by ID.
func (x *Index) Search(ctx context.Context, text string, limit int, entityType string) ([]Hit, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	match := bleve.NewMatchQuery(text)
	match.Analyzer = textAnalyzerName
	var q query.Query = match
	if entityType != "" {
		typeQuery := bleve.NewTermQuery(entityType)
		typeQuery.SetField(fieldType)
		both := bleve.NewBooleanQuery()
		both.AddMust(match, typeQuery)
		q = both
	}
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)

	x.mu.RLock()
	res, err := x.bi.SearchInContext(ctx, req)
	x.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	best := 0.0
	for _, h := range res.Hits {
		if h == nil || h.ID == "" {
			continue
		}
		best = max(best, h.Score)
		hits = append(hits, Hit{ID: graph.EntityID(h.ID), Score: h.Score})
	}
	for i := range hits {
		if best > 0 {
			hits[i].Score /= best
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	return hits, nil
}

// Close releases the index.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.bi.Close()
}

// flattenProperties renders string-valued properties as "key value" pairs
// in key order.
func flattenProperties(p graph.Properties) string {
	keys := make([]string, 0, len(p))
	for k, v := range p {
		if _, ok := v.(string); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte(' ')
		b.WriteString(p[k].(string))
	}
	return b.String()
}
