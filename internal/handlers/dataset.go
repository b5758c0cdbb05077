package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/graphport-backend/internal/domain"
	"github.com/yungbote/graphport-backend/internal/graph"
	"github.com/yungbote/graphport-backend/internal/pkg/logger"
	"github.com/yungbote/graphport-backend/internal/repos"
)

type DatasetHandler struct {
	datasets repos.DatasetRepo
	tasks    repos.UploadTaskRepo
	graph    graph.Store
	log      *logger.Logger
}

func NewDatasetHandler(datasets repos.DatasetRepo, tasks repos.UploadTaskRepo, store graph.Store, baseLog *logger.Logger) *DatasetHandler {
	return &DatasetHandler{
		datasets: datasets,
		tasks:    tasks,
		graph:    store,
		log:      baseLog.With("handler", "DatasetHandler"),
	}
}

type createDatasetRequest struct {
	Name          string `json:"name" binding:"required"`
	Description   string `json:"description"`
	CascadeDelete *bool  `json:"cascade_delete"`
}

// POST /api/datasets
func (h *DatasetHandler) Create(c *gin.Context) {
	var req createDatasetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	// Cascade sync is opt-in: omitting the field leaves re-uploads additive.
	dataset := &domain.Dataset{
		Name:        req.Name,
		Description: req.Description,
		Status:      domain.StatusPending,
	}
	if req.CascadeDelete != nil {
		dataset.CascadeDelete = *req.CascadeDelete
	}
	dataset, err := h.datasets.Create(c.Request.Context(), nil, dataset)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "dataset_create_failed", err)
		return
	}
	RespondCreated(c, gin.H{"dataset": dataset})
}

// GET /api/datasets
func (h *DatasetHandler) List(c *gin.Context) {
	datasets, err := h.datasets.List(c.Request.Context(), nil)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "dataset_list_failed", err)
		return
	}
	RespondOK(c, gin.H{"datasets": datasets})
}

// GET /api/datasets/:id
func (h *DatasetHandler) Get(c *gin.Context) {
	datasetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_dataset_id", err)
		return
	}
	dataset, err := h.datasets.GetByID(c.Request.Context(), nil, datasetID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "dataset_get_failed", err)
		return
	}
	if dataset == nil {
		RespondError(c, http.StatusNotFound, "dataset_not_found", errors.New("dataset not found"))
		return
	}
	RespondOK(c, gin.H{"dataset": dataset})
}

// DELETE /api/datasets/:id
//
// With cascade delete enabled the dataset's graph data goes first; a graph
// failure leaves the dataset record in place so the delete can be retried.
func (h *DatasetHandler) Delete(c *gin.Context) {
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

	deletedNodes := 0
	if dataset.CascadeDelete {
		deletedNodes, err = h.graph.DeleteDatasetData(ctx, datasetID.String())
		if err != nil {
			RespondError(c, http.StatusInternalServerError, "graph_delete_failed", err)
			return
		}
		h.log.Info("Deleted dataset graph data", "dataset_id", datasetID, "nodes_deleted", deletedNodes)
	}
	if err := h.datasets.Delete(ctx, nil, datasetID); err != nil {
		RespondError(c, http.StatusInternalServerError, "dataset_delete_failed", err)
		return
	}
	RespondOK(c, gin.H{"deleted": true, "nodes_deleted": deletedNodes})
}

// GET /api/datasets/:id/tasks
func (h *DatasetHandler) ListTasks(c *gin.Context) {
	datasetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_dataset_id", err)
		return
	}
	tasks, err := h.tasks.ListByDataset(c.Request.Context(), nil, datasetID,
		c.Query("file_kind"), c.Query("status"))
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "task_list_failed", err)
		return
	}
	RespondOK(c, gin.H{"tasks": tasks})
}
