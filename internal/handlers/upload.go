package handlers

import (
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/graphport-backend/internal/domain"
	"github.com/yungbote/graphport-backend/internal/ingest/csvfile"
	"github.com/yungbote/graphport-backend/internal/pkg/envutil"
	"github.com/yungbote/graphport-backend/internal/pkg/logger"
	"github.com/yungbote/graphport-backend/internal/repos"
)

type UploadHandler struct {
	datasets repos.DatasetRepo
	tasks    repos.UploadTaskRepo
	log      *logger.Logger
}

func NewUploadHandler(datasets repos.DatasetRepo, tasks repos.UploadTaskRepo, baseLog *logger.Logger) *UploadHandler {
	return &UploadHandler{
		datasets: datasets,
		tasks:    tasks,
		log:      baseLog.With("handler", "UploadHandler"),
	}
}

// POST /api/datasets/:id/upload
//
// Accepts one or more CSV files in the "files" multipart field and queues one
// upload task per file. The file kind is decided from the header alone; a
// header cell of the form "Customer:source_id" also pins the endpoint label.
func (h *UploadHandler) Upload(c *gin.Context) {
	datasetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_dataset_id", err)
		return
	}
	ctx := c.Request.Context()
	dataset, err := h.datasets.GetByID(ctx, nil, datasetID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "dataset_get_failed", err)
		return
	}
	if dataset == nil {
		RespondError(c, http.StatusNotFound, "dataset_not_found", errors.New("dataset not found"))
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_multipart", err)
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		RespondError(c, http.StatusBadRequest, "no_files", errors.New("no files in 'files' field"))
		return
	}

	uploadDir := envutil.String("UPLOAD_DIR", filepath.Join(os.TempDir(), "graphport-uploads"))
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		RespondError(c, http.StatusInternalServerError, "upload_dir_failed", err)
		return
	}

	nodeLabel := strings.TrimSpace(c.PostForm("node_label"))
	relType := strings.TrimSpace(c.PostForm("relationship_type"))

	var tasks []*domain.UploadTask
	for _, file := range files {
		dst := filepath.Join(uploadDir, uuid.New().String()+"_"+filepath.Base(file.Filename))
		if err := c.SaveUploadedFile(file, dst); err != nil {
			h.cleanup(tasks, dst)
			RespondError(c, http.StatusInternalServerError, "file_save_failed", err)
			return
		}
		info, err := inspectFileHeader(dst)
		if err != nil {
			h.cleanup(tasks, dst)
			RespondError(c, http.StatusBadRequest, "unreadable_csv",
				fmt.Errorf("%s: %w", file.Filename, err))
			return
		}

		task := &domain.UploadTask{
			DatasetID: datasetID,
			FileName:  file.Filename,
			FileKind:  info.Kind,
			FilePath:  dst,
			Status:    domain.StatusPending,
		}
		switch info.Kind {
		case domain.FileKindNode:
			task.NodeLabel = nodeLabel
		case domain.FileKindRelationship:
			task.RelationshipType = relType
			if task.RelationshipType == "" {
				task.RelationshipType = relationshipTypeFromFileName(file.Filename)
			}
			task.SourceLabel = info.SourceLabel
			task.TargetLabel = info.TargetLabel
		}
		tasks = append(tasks, task)
	}

	created, err := h.tasks.Create(ctx, nil, tasks)
	if err != nil {
		h.cleanup(tasks, "")
		RespondError(c, http.StatusInternalServerError, "task_create_failed", err)
		return
	}
	tasks = created
	err = h.datasets.UpdateFields(ctx, nil, datasetID, map[string]interface{}{
		"total_files": dataset.TotalFiles + len(files),
		"status":      domain.StatusProcessing,
	})
	if err != nil {
		h.log.Error("Failed to update dataset file count", "dataset_id", datasetID, "error", err)
	}

	h.log.Info("Queued upload tasks", "dataset_id", datasetID, "count", len(tasks))
	RespondCreated(c, gin.H{"tasks": tasks})
}

// inspectFileHeader reads only the header row of a saved upload to classify it.
func inspectFileHeader(path string) (csvfile.HeaderInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return csvfile.HeaderInfo{}, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	header, err := reader.Read()
	if err != nil {
		return csvfile.HeaderInfo{}, fmt.Errorf("read header: %w", err)
	}
	return csvfile.InspectHeader(header), nil
}

// relationshipTypeFromFileName derives a type from the file name stem:
// "purchased.csv" becomes PURCHASED.
func relationshipTypeFromFileName(name string) string {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	var b strings.Builder
	for _, r := range stem {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 32)
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" || (out[0] >= '0' && out[0] <= '9') {
		return ""
	}
	return out
}

// cleanup removes already-saved files when a multi-file upload fails halfway.
func (h *UploadHandler) cleanup(tasks []*domain.UploadTask, extra string) {
	for _, t := range tasks {
		if err := os.Remove(t.FilePath); err != nil && !os.IsNotExist(err) {
			h.log.Warn("Failed to remove uploaded file", "path", t.FilePath, "error", err)
		}
	}
	if extra != "" {
		if err := os.Remove(extra); err != nil && !os.IsNotExist(err) {
			h.log.Warn("Failed to remove uploaded file", "path", extra, "error", err)
		}
	}
}
