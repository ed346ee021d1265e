// Package memory recalls what the planner should know beyond the request
// itself: related documents from the knowledge index, the project and its
// latest updates, and the user's similar completed sessions. Finished
// sessions are written back to the index so later requests can find them.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/foreman/internal/storage"
	"github.com/haasonsaas/foreman/internal/tools/rag"
	"github.com/haasonsaas/foreman/pkg/models"
)

// Store is the subset of storage.Store recall reads and writes.
type Store interface {
	storage.KnowledgeStore
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListProjectUpdates(ctx context.Context, projectID string, limit int) ([]*models.ProjectUpdate, error)
	ListSessions(ctx context.Context, filter storage.SessionFilter) ([]*models.AgentSession, error)
}

// RecallConfig bounds what is recalled per request.
type RecallConfig struct {
	// Documents is the maximum number of related documents (default: 5).
	Documents int

	// MinScore is the minimum document similarity (default: 0.6).
	MinScore float64

	// MaxDocumentLength truncates each document excerpt (default: 500).
	MaxDocumentLength int

	// Updates is the number of recent project updates (default: 3).
	Updates int

	// Sessions is the maximum number of similar past sessions (default: 3).
	Sessions int

	// SessionScan is how many recent completed sessions are scored (default: 20).
	SessionScan int
}

// DefaultRecallConfig returns the defaults listed on RecallConfig.
func DefaultRecallConfig() RecallConfig {
	return RecallConfig{
		Documents:         5,
		MinScore:          0.6,
		MaxDocumentLength: 500,
		Updates:           3,
		Sessions:          3,
		SessionScan:       20,
	}
}

// Option configures a Recall.
type Option func(*Recall)

// WithConfig overrides the defaults. Zero fields keep their defaults.
func WithConfig(cfg RecallConfig) Option {
	return func(r *Recall) {
		if cfg.Documents > 0 {
			r.cfg.Documents = cfg.Documents
		}
		if cfg.MinScore > 0 {
			r.cfg.MinScore = cfg.MinScore
		}
		if cfg.MaxDocumentLength > 0 {
			r.cfg.MaxDocumentLength = cfg.MaxDocumentLength
		}
		if cfg.Updates > 0 {
			r.cfg.Updates = cfg.Updates
		}
		if cfg.Sessions > 0 {
			r.cfg.Sessions = cfg.Sessions
		}
		if cfg.SessionScan > 0 {
			r.cfg.SessionScan = cfg.SessionScan
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Recall) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(r *Recall) {
		if now != nil {
			r.now = now
		}
	}
}

// Recall gathers planning context from the store.
type Recall struct {
	store  Store
	cfg    RecallConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewRecall creates a Recall over store.
func NewRecall(store Store, opts ...Option) *Recall {
	r := &Recall{
		store:  store,
		cfg:    DefaultRecallConfig(),
		logger: slog.Default().With("component", "memory"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Context is everything recalled for one request.
type Context struct {
	Project   *models.Project
	Updates   []Update
	Documents []rag.Match
	Sessions  []*models.AgentSession
}

// Update is a project update with its author resolved.
type Update struct {
	Author    string
	Body      string
	CreatedAt time.Time
}

// Empty reports whether nothing was recalled.
func (c *Context) Empty() bool {
	return c.Project == nil && len(c.Updates) == 0 && len(c.Documents) == 0 && len(c.Sessions) == 0
}

// Recall gathers context for request. Each source is independent: a failing
// source is reported in the joined error and the others are still returned.
func (r *Recall) Recall(ctx context.Context, request string, sc models.SessionContext) (*Context, error) {
	out := &Context{}
	var errs []error

	projectID := ""
	if sc.Project != nil {
		projectID = sc.Project.ID
	}

	docs, err := rag.Search(ctx, r.store, rag.Query{
		Text:             request,
		ProjectID:        projectID,
		Limit:            r.cfg.Documents,
		Threshold:        r.cfg.MinScore,
		MaxContentLength: r.cfg.MaxDocumentLength,
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("documents: %w", err))
	}
	out.Documents = docs

	if projectID != "" {
		project, err := r.store.GetProject(ctx, projectID)
		switch {
		case err == nil:
			out.Project = project
			updates, err := r.store.ListProjectUpdates(ctx, projectID, r.cfg.Updates)
			if err != nil {
				errs = append(errs, fmt.Errorf("project updates: %w", err))
			}
			for _, u := range updates {
				out.Updates = append(out.Updates, Update{Author: r.author(ctx, u.AuthorID), Body: u.Body, CreatedAt: u.CreatedAt})
			}
		case !errors.Is(err, storage.ErrNotFound):
			errs = append(errs, fmt.Errorf("project: %w", err))
		}
	}

	if sc.User.ID != "" {
		sessions, err := r.similarSessions(ctx, request, sc.User.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("sessions: %w", err))
		}
		out.Sessions = sessions
	}
	return out, errors.Join(errs...)
}

// PlanningContext renders recalled context for a planner prompt. Recall
// failures are logged and whatever was found is still used.
func (r *Recall) PlanningContext(ctx context.Context, request string, sc models.SessionContext) (string, error) {
	recalled, err := r.Recall(ctx, request, sc)
	if err != nil {
		r.logger.Warn("partial memory recall", "user_id", sc.User.ID, "error", err)
	}
	return recalled.String(), nil
}

func (r *Recall) author(ctx context.Context, id string) string {
	user, err := r.store.GetUser(ctx, id)
	if err != nil {
		return id
	}
	if user.Name != "" {
		return user.Name
	}
	return user.Email
}

// similarSessions scores the user's recent completed sessions by how many
// request words of three or more letters their plan mentions.
func (r *Recall) similarSessions(ctx context.Context, request, userID string) ([]*models.AgentSession, error) {
	recent, err := r.store.ListSessions(ctx, storage.SessionFilter{
		UserID: userID,
		States: []models.SessionState{models.SessionCompleted},
		Limit:  r.cfg.SessionScan,
	})
	if err != nil {
		return nil, err
	}

	words := strings.Fields(strings.ToLower(request))
	type scored struct {
		session *models.AgentSession
		score   int
	}
	var candidates []scored
	for _, session := range recent {
		if session.Plan == nil {
			continue
		}
		text := planText(session.Plan)
		score := 0
		for _, w := range words {
			if len(w) > 2 && strings.Contains(text, w) {
				score++
			}
		}
		if score > 0 {
			candidates = append(candidates, scored{session, score})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	var out []*models.AgentSession
	for i := 0; i < len(candidates) && i < r.cfg.Sessions; i++ {
		out = append(out, candidates[i].session)
	}
	return out, nil
}

// planText is the searchable wording of a plan.
func planText(plan *models.Plan) string {
	parts := []string{plan.Title, plan.Description}
	for _, step := range plan.Steps {
		parts = append(parts, step.Title, step.Description, step.Tool)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// String renders the context as prompt sections. An empty context renders
// as "".
func (c *Context) String() string {
	if c == nil || c.Empty() {
		return ""
	}
	var b strings.Builder
	if p := c.Project; p != nil {
		b.WriteString("## Project Context\n")
		fmt.Fprintf(&b, "Title: %s\nStatus: %s\n", p.Title, p.Status)
		if p.Health != "" {
			fmt.Fprintf(&b, "Health: %s\n", p.Health)
		}
		if p.Notes != "" {
			fmt.Fprintf(&b, "Notes: %s\n", p.Notes)
		}
		b.WriteString("\n")
	}
	if len(c.Updates) > 0 {
		b.WriteString("## Recent Updates\n")
		for _, u := range c.Updates {
			fmt.Fprintf(&b, "- %s (%s): %s\n", u.Author, u.CreatedAt.UTC().Format(time.RFC3339), u.Body)
		}
		b.WriteString("\n")
	}
	if len(c.Documents) > 0 {
		b.WriteString("## Relevant Information\n")
		for _, d := range c.Documents {
			fmt.Fprintf(&b, "[%s] (%d%% relevant):\n%s\n\n", d.DocumentID, int(d.Score*100+0.5), d.Content)
		}
	}
	if len(c.Sessions) > 0 {
		b.WriteString("## Similar Past Sessions\n")
		for _, s := range c.Sessions {
			if s.Plan.Description == "" {
				continue
			}
			fmt.Fprintf(&b, "- Previous plan: %s\n", s.Plan.Description)
			if s.Result != nil && s.Result.Summary != "" {
				fmt.Fprintf(&b, "  Result: %s\n", s.Result.Summary)
			}
		}
	}
	return strings.TrimSpace(b.String())
}
