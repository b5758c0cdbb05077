package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/graphport-backend/internal/repos"
)

type TaskHandler struct {
	tasks repos.UploadTaskRepo
}

func NewTaskHandler(tasks repos.UploadTaskRepo) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// GET /api/tasks/:id
func (h *TaskHandler) Get(c *gin.Context) {
	taskID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_task_id", err)
		return
	}
	task, err := h.tasks.GetByID(c.Request.Context(), nil, taskID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "task_get_failed", err)
		return
	}
	if task == nil {
		RespondError(c, http.StatusNotFound, "task_not_found", errors.New("task not found"))
		return
	}
	RespondOK(c, gin.H{"task": task})
}
