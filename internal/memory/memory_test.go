package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/foreman/internal/storage"
	"github.com/haasonsaas/foreman/pkg/models"
)

var at = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func seedStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(store.CreateUser(ctx, &models.User{ID: "pm-1", Email: "pat@example.com", Name: "Pat", Role: models.RolePM}))
	must(store.CreateProject(ctx, &models.Project{ID: "p1", Title: "Website", Status: "active", Notes: "Launch before April"}))
	must(store.CreateProjectUpdate(ctx, &models.ProjectUpdate{ID: "u1", ProjectID: "p1", AuthorID: "pm-1", Body: "Kickoff done", CreatedAt: at.Add(-48 * time.Hour)}))
	must(store.CreateProjectUpdate(ctx, &models.ProjectUpdate{ID: "u2", ProjectID: "p1", AuthorID: "ghost", Body: "Design signed off", CreatedAt: at}))
	must(store.UpsertDocument(ctx, &models.KnowledgeDocument{ID: "brief", ProjectID: "p1", Content: "Homepage redesign brief: hero banner, pricing page"}))
	must(store.UpsertDocument(ctx, &models.KnowledgeDocument{ID: "other", ProjectID: "p2", Content: "Homepage redesign for another client"}))

	for _, s := range []*models.AgentSession{
		{
			ID: "s-old", UserID: "pm-1", State: models.SessionCompleted, StartedAt: at.Add(-time.Hour),
			Plan:   &models.Plan{ID: "plan-1", Description: "Create pricing page tasks"},
			Result: &models.AgentResult{Success: true, Summary: "Executed 2 steps"},
		},
		{
			ID: "s-unrelated", UserID: "pm-1", State: models.SessionCompleted, StartedAt: at.Add(-2 * time.Hour),
			Plan: &models.Plan{ID: "plan-2", Description: "Post standup notes"},
		},
		{
			ID: "s-failed", UserID: "pm-1", State: models.SessionFailed, StartedAt: at.Add(-3 * time.Hour),
			Plan: &models.Plan{ID: "plan-3", Description: "Create pricing page copy"},
		},
	} {
		must(store.CreateSession(ctx, s))
	}
	return store
}

func TestRecall(t *testing.T) {
	store := seedStore(t)
	r := NewRecall(store, WithConfig(RecallConfig{MinScore: 0.2}))
	sc := models.SessionContext{
		User:    models.UserRef{ID: "pm-1"},
		Project: &models.ProjectRef{ID: "p1"},
	}

	got, err := r.Recall(context.Background(), "plan the pricing page redesign", sc)
	if err != nil {
		t.Fatal(err)
	}
	if got.Project == nil || got.Project.Title != "Website" {
		t.Fatalf("project = %+v", got.Project)
	}
	if len(got.Updates) != 2 || got.Updates[0].Body != "Design signed off" || got.Updates[0].Author != "ghost" || got.Updates[1].Author != "Pat" {
		t.Errorf("updates = %+v", got.Updates)
	}
	if len(got.Documents) != 1 || got.Documents[0].DocumentID != "brief" {
		t.Errorf("documents = %+v, want only this project's brief", got.Documents)
	}
	if len(got.Sessions) != 1 || got.Sessions[0].ID != "s-old" {
		t.Errorf("sessions = %+v, want only the completed pricing session", got.Sessions)
	}

	text := got.String()
	for _, want := range []string{
		"## Project Context\nTitle: Website",
		"Notes: Launch before April",
		"- ghost (2026-03-02T09:00:00Z): Design signed off",
		"[brief]",
		"- Previous plan: Create pricing page tasks\n  Result: Executed 2 steps",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("context missing %q:\n%s", want, text)
		}
	}
}

func TestRecall_NothingKnown(t *testing.T) {
	r := NewRecall(storage.NewMemoryStore())
	text, err := r.PlanningContext(context.Background(), "anything", models.SessionContext{User: models.UserRef{ID: "nobody"}})
	if err != nil {
		t.Fatal(err)
	}
	if text != "" {
		t.Errorf("context = %q, want empty", text)
	}
}

func TestRemember(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	r := NewRecall(store, WithNow(func() time.Time { return at }))

	session := &models.AgentSession{
		ID:        "s1",
		ProjectID: "p1",
		State:     models.SessionCompleted,
		StartedAt: at,
		Plan:      &models.Plan{ID: "plan-1", Title: "Kickoff", Description: "Set up kickoff tasks"},
		Result:    &models.AgentResult{Success: true, Summary: "Executed 3 steps"},
	}
	if err := r.Remember(ctx, session); err != nil {
		t.Fatal(err)
	}
	if err := r.Remember(ctx, &models.AgentSession{ID: "no-plan"}); err != nil {
		t.Fatal(err)
	}

	docs, _ := store.ListDocuments(ctx, "")
	if len(docs) != 1 || docs[0].ID != SessionDocumentID("s1") || docs[0].ProjectID != "p1" {
		t.Fatalf("docs = %+v", docs)
	}
	for _, want := range []string{"Agent session: s1", "Set up kickoff tasks", "Result: Executed 3 steps", "Status: completed"} {
		if !strings.Contains(docs[0].Content, want) {
			t.Errorf("document missing %q:\n%s", want, docs[0].Content)
		}
	}
}
