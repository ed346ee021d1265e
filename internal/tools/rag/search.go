// Package rag provides knowledge search tools over indexed project documents.
//
// Documents and queries are compared as term-frequency vectors using cosine
// similarity. Scores range from 0 to 1.
package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/haasonsaas/foreman/internal/storage"
	"github.com/haasonsaas/foreman/internal/tools"
)

// SearchConfig configures rag_search.
type SearchConfig struct {
	// DefaultLimit is used when the caller omits limit. Default: 5
	DefaultLimit int

	// DefaultThreshold is the minimum similarity when the caller omits
	// threshold. Default: 0.7
	DefaultThreshold float64

	// MaxContentLength truncates returned content. 0 means no truncation.
	// Default: 500
	MaxContentLength int
}

// DefaultSearchConfig returns the defaults listed on SearchConfig.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		DefaultLimit:     5,
		DefaultThreshold: 0.7,
		MaxContentLength: 500,
	}
}

// Option configures the rag tools.
type Option func(*toolset)

// WithSearchConfig overrides the search defaults. Zero fields keep their
// defaults.
func WithSearchConfig(cfg SearchConfig) Option {
	return func(t *toolset) {
		if cfg.DefaultLimit > 0 {
			t.search.DefaultLimit = cfg.DefaultLimit
		}
		if cfg.DefaultThreshold > 0 {
			t.search.DefaultThreshold = cfg.DefaultThreshold
		}
		if cfg.MaxContentLength > 0 {
			t.search.MaxContentLength = cfg.MaxContentLength
		}
	}
}

// WithNow sets the clock used for IndexedAt.
func WithNow(now func() time.Time) Option {
	return func(t *toolset) { t.now = now }
}

type toolset struct {
	store  storage.KnowledgeStore
	search SearchConfig
	now    func() time.Time
}

// Tools returns rag_search and rag_index_document.
func Tools(store storage.KnowledgeStore, opts ...Option) []tools.Tool {
	ts := &toolset{store: store, search: DefaultSearchConfig(), now: time.Now}
	for _, opt := range opts {
		opt(ts)
	}
	return []tools.Tool{ts.searchTool(), ts.indexTool()}
}

// Register adds the rag tools to registry.
func Register(registry *tools.Registry, store storage.KnowledgeStore, opts ...Option) error {
	return registry.RegisterAll(Tools(store, opts...)...)
}

// SearchInput is a similarity query, optionally scoped to a project.
type SearchInput struct {
	Query     string  `json:"query" jsonschema:"minLength=1"`
	ProjectID string  `json:"projectId,omitempty"`
	Limit     int     `json:"limit,omitempty" jsonschema:"minimum=1,maximum=20"`
	Threshold float64 `json:"threshold,omitempty" jsonschema:"minimum=0,maximum=1"`
}

// Match is one scored document.
type Match struct {
	DocumentID string  `json:"documentId"`
	ProjectID  string  `json:"projectId,omitempty"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

func (t *toolset) searchTool() tools.Tool {
	return tools.Must(tools.Spec{
		Name:        "rag_search",
		Description: "Find indexed documents similar to a query",
		Scopes:      []string{tools.ScopeRAGRead},
	}, func(ctx context.Context, _ tools.CallContext, in SearchInput) (any, error) {
		limit := in.Limit
		if limit <= 0 {
			limit = t.search.DefaultLimit
		}
		threshold := in.Threshold
		if threshold <= 0 {
			threshold = t.search.DefaultThreshold
		}

		matches, err := Search(ctx, t.store, Query{
			Text:             in.Query,
			ProjectID:        in.ProjectID,
			Limit:            limit,
			Threshold:        threshold,
			MaxContentLength: t.search.MaxContentLength,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"query": in.Query, "count": len(matches), "results": matches}, nil
	})
}

// Query selects documents similar to Text. An empty ProjectID searches
// every project.
type Query struct {
	Text      string
	ProjectID string
	Limit     int
	Threshold float64
	// MaxContentLength truncates returned content; 0 keeps it whole.
	MaxContentLength int
}

// Search returns the stored documents scoring at least q.Threshold against
// q.Text, best first.
func Search(ctx context.Context, store storage.KnowledgeStore, q Query) ([]Match, error) {
	docs, err := store.ListDocuments(ctx, q.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	query := termVector(q.Text)
	matches := []Match{}
	for _, doc := range docs {
		score := cosine(query, termVector(doc.Content))
		if score < q.Threshold {
			continue
		}
		matches = append(matches, Match{
			DocumentID: doc.ID,
			ProjectID:  doc.ProjectID,
			Content:    truncate(doc.Content, q.MaxContentLength),
			Score:      math.Round(score*1000) / 1000,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].DocumentID < matches[j].DocumentID
		}
		return matches[i].Score > matches[j].Score
	})
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	return matches, nil
}

// termVector lowercases text and counts alphanumeric terms, dropping
// single-character terms and common stop words.
func termVector(text string) map[string]float64 {
	vec := make(map[string]float64)
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		vec[f]++
	}
	return vec
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "with": {},
	"this": {}, "that": {}, "of": {}, "to": {}, "in": {}, "on": {},
	"is": {}, "it": {}, "an": {}, "or": {}, "be": {}, "by": {}, "at": {},
}

func cosine(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for term, wa := range a {
		normA += wa * wa
		if wb, ok := b[term]; ok {
			dot += wa * wb
		}
	}
	for _, wb := range b {
		normB += wb * wb
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
