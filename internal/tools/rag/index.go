package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/foreman/internal/tools"
	"github.com/haasonsaas/foreman/pkg/models"
)

// MaxDocumentLength bounds indexed content.
const MaxDocumentLength = 100000

// IndexInput stores or replaces a document.
type IndexInput struct {
	DocumentID string `json:"documentId" jsonschema:"minLength=1"`
	Content    string `json:"content" jsonschema:"minLength=1,maxLength=100000"`
	ProjectID  string `json:"projectId,omitempty"`
}

func (t *toolset) indexTool() tools.Tool {
	return tools.Must(tools.Spec{
		Name:        "rag_index_document",
		Description: "Index a document so rag_search can find it",
		Mutates:     true,
		Scopes:      []string{tools.ScopeRAGWrite},
	}, func(ctx context.Context, _ tools.CallContext, in IndexInput) (any, error) {
		content := strings.TrimSpace(in.Content)
		if content == "" {
			return nil, fmt.Errorf("document content is empty")
		}
		doc := &models.KnowledgeDocument{
			ID:        in.DocumentID,
			ProjectID: in.ProjectID,
			Content:   content,
			IndexedAt: t.now(),
		}
		if err := t.store.UpsertDocument(ctx, doc); err != nil {
			return nil, fmt.Errorf("index document: %w", err)
		}
		return map[string]any{
			"success":    true,
			"documentId": doc.ID,
			"terms":      len(termVector(content)),
		}, nil
	})
}
