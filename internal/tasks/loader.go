package tasks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/foreman/internal/storage"
	"github.com/haasonsaas/foreman/pkg/models"
)

// ErrInvalidWorkflow is returned for malformed workflow definitions.
var ErrInvalidWorkflow = errors.New("invalid workflow")

// ValidateWorkflow checks ids, tools and OnFailure values.
func ValidateWorkflow(wf *models.Workflow) error {
	var problems []string
	if strings.TrimSpace(wf.ID) == "" {
		problems = append(problems, "id is required")
	}
	if strings.TrimSpace(wf.Name) == "" {
		problems = append(problems, "name is required")
	}
	if len(wf.Steps) == 0 {
		problems = append(problems, "at least one step is required")
	}
	seen := make(map[string]bool, len(wf.Steps))
	for i, step := range wf.Steps {
		label := fmt.Sprintf("step %d", i+1)
		if step.ID == "" {
			problems = append(problems, label+": id is required")
		} else if seen[step.ID] {
			problems = append(problems, label+": duplicate id "+step.ID)
		}
		seen[step.ID] = true
		if step.Tool == "" {
			problems = append(problems, label+": tool is required")
		}
		switch step.OnFailure {
		case "", OnFailureStop, OnFailureContinue:
		default:
			problems = append(problems, fmt.Sprintf("%s: on_failure must be %q or %q", label, OnFailureStop, OnFailureContinue))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w %q: %s", ErrInvalidWorkflow, wf.ID, strings.Join(problems, "; "))
	}
	return nil
}

// ParseWorkflow decodes one YAML workflow definition. Unknown fields are
// rejected.
func ParseWorkflow(data []byte) (*models.Workflow, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var wf models.Workflow
	if err := dec.Decode(&wf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWorkflow, err)
	}
	if wf.Name == "" {
		wf.Name = wf.ID
	}
	for i := range wf.Steps {
		if wf.Steps[i].Name == "" {
			wf.Steps[i].Name = wf.Steps[i].ID
		}
	}
	if err := ValidateWorkflow(&wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// Loader keeps the workflow store in sync with a directory of *.yaml and
// *.yml definitions.
type Loader struct {
	dir      string
	store    storage.WorkflowStore
	logger   *slog.Logger
	now      func() time.Time
	debounce time.Duration

	mu     sync.Mutex
	loaded map[string]struct{}
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoaderLogger sets the loader logger.
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithDebounce sets how long the watcher waits for writes to settle.
func WithDebounce(d time.Duration) LoaderOption {
	return func(l *Loader) {
		if d > 0 {
			l.debounce = d
		}
	}
}

// NewLoader creates a Loader for dir.
func NewLoader(dir string, store storage.WorkflowStore, opts ...LoaderOption) *Loader {
	l := &Loader{
		dir:      filepath.Clean(dir),
		store:    store,
		logger:   slog.Default().With("component", "workflow-loader"),
		now:      time.Now,
		debounce: 250 * time.Millisecond,
		loaded:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Sync loads every definition in the directory and deletes workflows this
// loader saved earlier whose files are gone. Invalid files are logged and
// skipped.
func (l *Loader) Sync(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, fmt.Errorf("read workflow dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		files = append(files, filepath.Join(l.dir, entry.Name()))
	}
	sort.Strings(files)

	l.mu.Lock()
	defer l.mu.Unlock()

	current := make(map[string]struct{}, len(files))
	for _, path := range files {
		wf, err := l.loadFile(ctx, path)
		if err != nil {
			l.logger.Warn("skipping workflow file", "path", path, "error", err)
			continue
		}
		if _, dup := current[wf.ID]; dup {
			l.logger.Warn("duplicate workflow id", "path", path, "workflow_id", wf.ID)
		}
		current[wf.ID] = struct{}{}
	}
	for id := range l.loaded {
		if _, ok := current[id]; ok {
			continue
		}
		if err := l.store.DeleteWorkflow(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			l.logger.Warn("failed to remove workflow", "workflow_id", id, "error", err)
			continue
		}
		l.logger.Info("workflow removed", "workflow_id", id)
	}
	l.loaded = current
	return len(current), nil
}

func (l *Loader) loadFile(ctx context.Context, path string) (*models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	wf, err := ParseWorkflow(data)
	if err != nil {
		return nil, err
	}
	if existing, err := l.store.GetWorkflow(ctx, wf.ID); err == nil {
		wf.CreatedAt = existing.CreatedAt
	} else {
		wf.CreatedAt = l.now()
	}
	if err := l.store.SaveWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("save workflow: %w", err)
	}
	return wf, nil
}

// Watch re-syncs after changes in the directory until ctx is done.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("watch %s: %w", l.dir, err)
	}

	var mu sync.Mutex
	var timer *time.Timer
	scheduleSync := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(l.debounce, func() {
			n, err := l.Sync(ctx)
			if err != nil {
				l.logger.Warn("workflow reload failed", "error", err)
				return
			}
			l.logger.Info("workflows reloaded", "count", n)
		})
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleSync()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("workflow watch error", "error", err)
		}
	}
}
