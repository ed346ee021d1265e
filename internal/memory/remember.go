package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/foreman/internal/tools/rag"
	"github.com/haasonsaas/foreman/pkg/models"
)

// SessionDocumentID names the knowledge document for a session.
func SessionDocumentID(sessionID string) string {
	return "session_" + sessionID
}

// Remember indexes a finished session so later requests can recall it.
// Sessions without a plan are skipped.
func (r *Recall) Remember(ctx context.Context, session *models.AgentSession) error {
	if session == nil || session.Plan == nil {
		return nil
	}
	plan, err := json.MarshalIndent(session.Plan, "", "  ")
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Agent session: %s\n", session.ID)
	fmt.Fprintf(&b, "Plan: %s\n", plan)
	if session.Result != nil {
		fmt.Fprintf(&b, "Result: %s\n", session.Result.Summary)
	}
	fmt.Fprintf(&b, "Status: %s\n", session.State)
	fmt.Fprintf(&b, "Date: %s", session.StartedAt.UTC().Format(time.RFC3339))

	content := b.String()
	if len(content) > rag.MaxDocumentLength {
		content = strings.ToValidUTF8(content[:rag.MaxDocumentLength], "")
	}
	doc := &models.KnowledgeDocument{
		ID:        SessionDocumentID(session.ID),
		ProjectID: session.ProjectID,
		Content:   content,
		IndexedAt: r.now(),
	}
	if err := r.store.UpsertDocument(ctx, doc); err != nil {
		return fmt.Errorf("index session %s: %w", session.ID, err)
	}
	return nil
}
