package drive

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/haasonsaas/foreman/internal/retry"
	"github.com/haasonsaas/foreman/internal/storage"
	"github.com/haasonsaas/foreman/internal/tools"
	"github.com/haasonsaas/foreman/pkg/models"
)

// fakeObjects is an in-memory bucket. PutErr is returned by every PutObject
// when set.
type fakeObjects struct {
	mu      sync.Mutex
	objects map[string]string
	PutErr  error
	// PageSize splits listings into pages when positive.
	PageSize int
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string]string)}
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.PutErr != nil {
		return nil, f.PutErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		for i, key := range keys {
			if key == aws.ToString(in.ContinuationToken) {
				start = i
				break
			}
		}
	}
	end := len(keys)
	if f.PageSize > 0 && start+f.PageSize < end {
		end = start + f.PageSize
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, key := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(key),
			Size:         aws.Int64(0),
			LastModified: aws.Time(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end])
	}
	return out, nil
}

var pmCall = tools.CallContext{UserID: "pm-1", Role: models.RolePM, Permissions: tools.ScopesForRole(models.RolePM)}

func newRegistry(t *testing.T, api ObjectAPI, store ProjectStore) *tools.Registry {
	t.Helper()
	registry := tools.NewRegistry()
	if err := Register(registry, api, Config{Bucket: "workspace", Prefix: "drive/"}, store); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return registry
}

func TestCatalog(t *testing.T) {
	registry := newRegistry(t, newFakeObjects(), nil)
	tests := []struct {
		name    string
		mutates bool
		scopes  []string
	}{
		{"drive_create_folder", true, []string{tools.ScopeDriveWrite}},
		{"drive_create_project_structure", true, []string{tools.ScopeDriveWrite, tools.ScopeWriteProjects}},
		{"drive_search_files", false, []string{tools.ScopeDriveRead}},
	}
	for _, tt := range tests {
		tool, ok := registry.Get(tt.name)
		if !ok {
			t.Fatalf("%s not registered", tt.name)
		}
		if tool.Mutates() != tt.mutates {
			t.Errorf("%s Mutates() = %v", tt.name, tool.Mutates())
		}
		if strings.Join(tool.Scopes(), ",") != strings.Join(tt.scopes, ",") {
			t.Errorf("%s Scopes() = %v", tt.name, tool.Scopes())
		}
	}
}

func TestCreateFolder(t *testing.T) {
	objects := newFakeObjects()
	registry := newRegistry(t, objects, nil)

	out, err := registry.Execute(context.Background(), "drive_create_folder", pmCall, map[string]any{
		"folderName":     "Invoices",
		"parentFolderId": "Acme",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if id := out.(map[string]any)["folderId"]; id != "Acme/Invoices" {
		t.Errorf("folderId = %v", id)
	}
	if _, ok := objects.objects["drive/Acme/Invoices/"]; !ok {
		t.Errorf("folder marker missing: %v", objects.objects)
	}

	_, err = registry.Execute(context.Background(), "drive_create_folder", pmCall, map[string]any{"folderName": "a/b"})
	if err == nil || !strings.Contains(err.Error(), "invalid folder name") {
		t.Errorf("expected invalid name error, got %v", err)
	}

	_, err = registry.Execute(context.Background(), "drive_create_folder", pmCall, map[string]any{"folderName": strings.Repeat("x", 256)})
	if !tools.IsSchemaValidation(err) {
		t.Errorf("expected schema validation error, got %v", err)
	}
}

func TestCreateProjectStructure(t *testing.T) {
	ctx := context.Background()
	objects := newFakeObjects()
	store := storage.NewMemoryStore()
	_ = store.CreateProject(ctx, &models.Project{ID: "p1", Title: "Portal"})
	registry := newRegistry(t, objects, store)

	out, err := registry.Execute(ctx, "drive_create_project_structure", pmCall, map[string]any{
		"projectId":   "p1",
		"projectName": "Portal",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	result := out.(map[string]any)
	if len(result["subfolders"].(map[string]string)) != len(ProjectSubfolders) {
		t.Errorf("subfolders = %v", result["subfolders"])
	}
	if len(objects.objects) != len(ProjectSubfolders)+1 {
		t.Errorf("objects = %v", objects.objects)
	}
	project, _ := store.GetProject(ctx, "p1")
	if project.DriveFolderID != "Portal" {
		t.Errorf("DriveFolderID = %q", project.DriveFolderID)
	}

	_, err = registry.Execute(ctx, "drive_create_project_structure", pmCall, map[string]any{
		"projectId":   "missing",
		"projectName": "Ghost",
	})
	if err == nil || !strings.Contains(err.Error(), "project missing not found") {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestSearchFiles(t *testing.T) {
	objects := newFakeObjects()
	objects.PageSize = 2
	for _, key := range []string{
		"drive/Portal/",
		"drive/Portal/02 - Design/",
		"drive/Portal/02 - Design/homepage.png",
		"drive/Portal/01 - Contracts/portal-sow.pdf",
		"drive/Billing/notes.md",
		"elsewhere/portal.pdf",
	} {
		objects.objects[key] = ""
	}
	registry := newRegistry(t, objects, nil)

	tests := []struct {
		name  string
		input map[string]any
		want  []string
	}{
		{"name match across pages", map[string]any{"query": "portal"}, []string{"Portal", "Portal/01 - Contracts/portal-sow.pdf"}},
		{"mime filter", map[string]any{"query": "portal", "mimeType": "application/pdf"}, []string{"Portal/01 - Contracts/portal-sow.pdf"}},
		{"folders", map[string]any{"query": "design", "mimeType": folderMimeType}, []string{"Portal/02 - Design"}},
		{"limit", map[string]any{"query": "o", "limit": 1}, []string{"Billing/notes.md"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := registry.Execute(context.Background(), "drive_search_files", pmCall, tt.input)
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			files := out.(map[string]any)["files"].([]File)
			var ids []string
			for _, f := range files {
				ids = append(ids, f.ID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.want, ",") {
				t.Errorf("ids = %v, want %v", ids, tt.want)
			}
		})
	}
}

func TestThrottlingIsRetryable(t *testing.T) {
	objects := newFakeObjects()
	objects.PutErr = &smithy.GenericAPIError{Code: "SlowDown", Message: "reduce request rate"}
	registry := newRegistry(t, objects, nil)

	_, err := registry.Execute(context.Background(), "drive_create_folder", pmCall, map[string]any{"folderName": "x"})
	if !retry.Matches(err, retry.NetworkClasses) {
		t.Errorf("SlowDown should match network classes: %v", err)
	}

	objects.PutErr = &smithy.GenericAPIError{Code: "AccessDenied"}
	_, err = registry.Execute(context.Background(), "drive_create_folder", pmCall, map[string]any{"folderName": "x"})
	if err == nil || retry.Matches(err, retry.NetworkClasses) {
		t.Errorf("AccessDenied should not be retryable: %v", err)
	}
}

func TestClassify_PassesThroughPlainErrors(t *testing.T) {
	base := errors.New("boom")
	if got := classify(base); got != base {
		t.Errorf("classify() = %v", got)
	}
	if classify(nil) != nil {
		t.Error("classify(nil) should be nil")
	}
}
