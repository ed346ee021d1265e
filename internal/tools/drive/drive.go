package drive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/haasonsaas/foreman/internal/storage"
	"github.com/haasonsaas/foreman/internal/tools"
	"github.com/haasonsaas/foreman/pkg/models"
)

// ProjectSubfolders are created under every project folder.
var ProjectSubfolders = []string{
	"01 - Contracts",
	"02 - Design",
	"03 - Development",
	"04 - Meeting Notes",
	"05 - Deliverables",
}

const folderMimeType = "application/x-directory"

// ProjectStore is the persistence drive_create_project_structure needs to
// record the project's folder.
type ProjectStore interface {
	GetProject(ctx context.Context, id string) (*models.Project, error)
	UpdateProject(ctx context.Context, project *models.Project) error
}

// File is one object or folder in the drive.
type File struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mimeType"`
	Size         int64     `json:"size"`
	ModifiedTime time.Time `json:"modifiedTime,omitempty"`
}

type toolset struct {
	api    ObjectAPI
	bucket string
	prefix string
	store  ProjectStore
	logger *slog.Logger
	now    func() time.Time
}

// Tools returns the drive tools. store may be nil, in which case project
// folders are created but not recorded on the project.
func Tools(api ObjectAPI, cfg Config, store ProjectStore) []tools.Tool {
	ts := &toolset{
		api:    api,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		store:  store,
		logger: slog.Default().With("component", "drive-tools"),
		now:    time.Now,
	}
	return []tools.Tool{ts.createFolder(), ts.createProjectStructure(), ts.searchFiles()}
}

// Register adds the drive tools to registry.
func Register(registry *tools.Registry, api ObjectAPI, cfg Config, store ProjectStore) error {
	return registry.RegisterAll(Tools(api, cfg, store)...)
}

// CreateFolderInput names a folder and an optional parent folder id.
type CreateFolderInput struct {
	FolderName     string `json:"folderName" jsonschema:"minLength=1,maxLength=255"`
	ParentFolderID string `json:"parentFolderId,omitempty"`
}

func (t *toolset) createFolder() tools.Tool {
	return tools.Must(tools.Spec{
		Name:        "drive_create_folder",
		Description: "Create a folder in the shared drive",
		Mutates:     true,
		Scopes:      []string{tools.ScopeDriveWrite},
	}, func(ctx context.Context, _ tools.CallContext, in CreateFolderInput) (any, error) {
		id, err := t.mkdir(ctx, in.ParentFolderID, in.FolderName)
		if err != nil {
			return nil, err
		}
		return map[string]any{"success": true, "folderId": id, "name": in.FolderName}, nil
	})
}

// CreateProjectStructureInput identifies the project to scaffold.
type CreateProjectStructureInput struct {
	ProjectID   string `json:"projectId" jsonschema:"minLength=1"`
	ProjectName string `json:"projectName" jsonschema:"minLength=1,maxLength=200"`
}

func (t *toolset) createProjectStructure() tools.Tool {
	return tools.Must(tools.Spec{
		Name:        "drive_create_project_structure",
		Description: "Create the standard folder layout for a project",
		Mutates:     true,
		Scopes:      []string{tools.ScopeDriveWrite, tools.ScopeWriteProjects},
	}, func(ctx context.Context, _ tools.CallContext, in CreateProjectStructureInput) (any, error) {
		root, err := t.mkdir(ctx, "", in.ProjectName)
		if err != nil {
			return nil, err
		}
		subfolders := make(map[string]string, len(ProjectSubfolders))
		for _, name := range ProjectSubfolders {
			id, err := t.mkdir(ctx, root, name)
			if err != nil {
				return nil, err
			}
			subfolders[name] = id
		}

		if t.store != nil {
			project, err := t.store.GetProject(ctx, in.ProjectID)
			switch {
			case errors.Is(err, storage.ErrNotFound):
				return nil, fmt.Errorf("project %s not found", in.ProjectID)
			case err != nil:
				return nil, fmt.Errorf("get project: %w", err)
			}
			project.DriveFolderID = root
			project.UpdatedAt = t.now()
			if err := t.store.UpdateProject(ctx, project); err != nil {
				return nil, fmt.Errorf("update project: %w", err)
			}
		}

		t.logger.Info("created project folder structure", "project_id", in.ProjectID, "folder_id", root)
		return map[string]any{
			"success":    true,
			"projectId":  in.ProjectID,
			"folderId":   root,
			"subfolders": subfolders,
		}, nil
	})
}

// SearchFilesInput matches file names and optionally a MIME type.
type SearchFilesInput struct {
	Query    string `json:"query" jsonschema:"minLength=1"`
	MimeType string `json:"mimeType,omitempty"`
	Limit    int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=100"`
}

func (in *SearchFilesInput) ApplyDefaults() {
	if in.Limit == 0 {
		in.Limit = 20
	}
}

func (t *toolset) searchFiles() tools.Tool {
	return tools.Must(tools.Spec{
		Name:        "drive_search_files",
		Description: "Search the shared drive by file name",
		Scopes:      []string{tools.ScopeDriveRead},
	}, func(ctx context.Context, _ tools.CallContext, in SearchFilesInput) (any, error) {
		query := strings.ToLower(strings.TrimSpace(in.Query))
		files := []File{}

		var token *string
		for {
			out, err := t.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
				Bucket:            aws.String(t.bucket),
				Prefix:            aws.String(t.key("")),
				ContinuationToken: token,
			})
			if err != nil {
				return nil, classify(fmt.Errorf("list objects: %w", err))
			}
			for _, obj := range out.Contents {
				file := t.file(aws.ToString(obj.Key), aws.ToInt64(obj.Size), aws.ToTime(obj.LastModified))
				if !strings.Contains(strings.ToLower(file.Name), query) {
					continue
				}
				if in.MimeType != "" && file.MimeType != in.MimeType {
					continue
				}
				files = append(files, file)
			}
			if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
				break
			}
			token = out.NextContinuationToken
		}

		sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
		if len(files) > in.Limit {
			files = files[:in.Limit]
		}
		return map[string]any{"files": files, "count": len(files)}, nil
	})
}

// mkdir writes the folder marker and returns the folder id, which is the
// folder's path relative to the configured prefix.
func (t *toolset) mkdir(ctx context.Context, parentID, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("invalid folder name %q", name)
	}
	id := path.Join(strings.Trim(parentID, "/"), name)
	_, err := t.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(t.bucket),
		Key:         aws.String(t.key(id) + "/"),
		Body:        bytes.NewReader(nil),
		ContentType: aws.String(folderMimeType),
	})
	if err != nil {
		return "", classify(fmt.Errorf("create folder %s: %w", id, err))
	}
	return id, nil
}

func (t *toolset) key(id string) string {
	switch {
	case t.prefix == "":
		return id
	case id == "":
		return t.prefix + "/"
	default:
		return t.prefix + "/" + id
	}
}

func (t *toolset) file(key string, size int64, modified time.Time) File {
	id := strings.TrimPrefix(key, t.key(""))
	file := File{ID: strings.TrimSuffix(id, "/"), Size: size, ModifiedTime: modified}
	if strings.HasSuffix(key, "/") {
		file.MimeType = folderMimeType
	} else {
		file.MimeType = mimeTypeFor(id)
	}
	file.Name = path.Base(file.ID)
	return file
}

var mimeTypes = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".md":   "text/markdown",
	".txt":  "text/plain",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".json": "application/json",
}

func mimeTypeFor(name string) string {
	if mt, ok := mimeTypes[strings.ToLower(path.Ext(name))]; ok {
		return mt
	}
	return "application/octet-stream"
}
