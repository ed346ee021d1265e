package rag

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/foreman/internal/storage"
	"github.com/haasonsaas/foreman/internal/tools"
	"github.com/haasonsaas/foreman/pkg/models"
)

var devCall = tools.CallContext{UserID: "dev-1", Role: models.RoleDeveloper, Permissions: tools.ScopesForRole(models.RoleDeveloper)}
var pmCall = tools.CallContext{UserID: "pm-1", Role: models.RolePM, Permissions: tools.ScopesForRole(models.RolePM)}

func setup(t *testing.T, opts ...Option) (*tools.Registry, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	registry := tools.NewRegistry()
	if err := Register(registry, store, opts...); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return registry, store
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "login flow", "login flow", 1},
		{"disjoint", "login flow", "billing export", 0},
		{"stop words ignored", "the login", "login", 1},
		{"half overlap", "login flow", "login export", 0.5},
		{"empty", "", "login", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosine(termVector(tt.a), termVector(tt.b))
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("cosine(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestIndexThenSearch(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	registry, store := setup(t, WithNow(func() time.Time { return now }))
	ctx := context.Background()

	docs := []map[string]any{
		{"documentId": "d1", "content": "Login flow redesign notes", "projectId": "p1"},
		{"documentId": "d2", "content": "Login flow", "projectId": "p2"},
		{"documentId": "d3", "content": "Quarterly billing export"},
	}
	for _, doc := range docs {
		if _, err := registry.Execute(ctx, "rag_index_document", pmCall, doc); err != nil {
			t.Fatalf("index %v: %v", doc["documentId"], err)
		}
	}
	stored, _ := store.ListDocuments(ctx, "")
	if len(stored) != 3 || !stored[0].IndexedAt.Equal(now) {
		t.Fatalf("stored = %+v", stored)
	}

	out, err := registry.Execute(ctx, "rag_search", devCall, map[string]any{"query": "login flow"})
	if err != nil {
		t.Fatalf("rag_search error = %v", err)
	}
	results := out.(map[string]any)["results"].([]Match)
	if len(results) != 2 || results[0].DocumentID != "d2" || results[0].Score != 1 {
		t.Errorf("results = %+v", results)
	}

	out, _ = registry.Execute(ctx, "rag_search", devCall, map[string]any{"query": "login flow", "projectId": "p1"})
	results = out.(map[string]any)["results"].([]Match)
	if len(results) != 1 || results[0].DocumentID != "d1" {
		t.Errorf("scoped results = %+v", results)
	}

	out, _ = registry.Execute(ctx, "rag_search", devCall, map[string]any{"query": "login", "threshold": 0.9})
	if count := out.(map[string]any)["count"]; count != 0 {
		t.Errorf("threshold 0.9 count = %v", count)
	}
}

func TestSearch_LimitAndTruncation(t *testing.T) {
	registry, store := setup(t, WithSearchConfig(SearchConfig{MaxContentLength: 8}))
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_ = store.UpsertDocument(ctx, &models.KnowledgeDocument{ID: id, Content: "deployment checklist"})
	}

	out, err := registry.Execute(ctx, "rag_search", devCall, map[string]any{"query": "deployment checklist", "limit": 2})
	if err != nil {
		t.Fatalf("rag_search error = %v", err)
	}
	results := out.(map[string]any)["results"].([]Match)
	if len(results) != 2 || results[0].DocumentID != "a" || results[1].DocumentID != "b" {
		t.Errorf("results = %+v", results)
	}
	if results[0].Content != "deployme..." {
		t.Errorf("Content = %q", results[0].Content)
	}

	_, err = registry.Execute(ctx, "rag_search", devCall, map[string]any{"query": "x", "limit": 21})
	if !tools.IsSchemaValidation(err) {
		t.Errorf("limit 21 should fail validation, got %v", err)
	}
}

func TestIndex_RequiresWriteScope(t *testing.T) {
	registry, _ := setup(t)
	tool, _ := registry.Get("rag_index_document")
	if !tool.Mutates() {
		t.Error("rag_index_document must be mutating")
	}
	_, err := registry.Execute(context.Background(), "rag_index_document", devCall, map[string]any{"documentId": "d", "content": "x"})
	if !tools.IsPermissionDenied(err) {
		t.Errorf("developer should be denied, got %v", err)
	}
}

type failingStore struct{ storage.KnowledgeStore }

func (failingStore) UpsertDocument(context.Context, *models.KnowledgeDocument) error {
	return errors.New("disk full")
}

func TestIndex_StoreError(t *testing.T) {
	registry := tools.NewRegistry()
	_ = Register(registry, failingStore{})
	_, err := registry.Execute(context.Background(), "rag_index_document", pmCall, map[string]any{"documentId": "d", "content": "x"})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("expected store error, got %v", err)
	}
}
