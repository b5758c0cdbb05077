package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/graphport-backend/internal/domain"
	"github.com/yungbote/graphport-backend/internal/graph"
	"github.com/yungbote/graphport-backend/internal/notify"
	"github.com/yungbote/graphport-backend/internal/pkg/logger"
	"github.com/yungbote/graphport-backend/internal/repos"
)

const (
	// BatchSize is how many rows go into one graph-store upsert call.
	BatchSize = 100
	// MaxWarnings caps the per-task warning list persisted to the task store.
	MaxWarnings = 100
)

type Deps struct {
	Tasks    repos.UploadTaskRepo
	Datasets repos.DatasetRepo
	Graph    graph.Store
	Notifier notify.Notifier
	Log      *logger.Logger
}

// Pipeline turns one uploaded CSV file into graph-store writes, driving the
// task through pending -> processing -> {completed | failed} and emitting
// progress events along the way.
type Pipeline struct {
	deps Deps
	log  *logger.Logger
}

func New(deps Deps) *Pipeline {
	return &Pipeline{
		deps: deps,
		log:  deps.Log.With("component", "IngestionPipeline"),
	}
}

// ProcessTask runs the full ingestion for one task. Batches execute strictly
// sequentially; a graph-store failure aborts the task while row-level defects
// are skipped with a warning.
func (p *Pipeline) ProcessTask(ctx context.Context, taskID uuid.UUID) error {
	task, err := p.deps.Tasks.GetByID(ctx, nil, taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}
	if task == nil {
		return fmt.Errorf("task %s not found", taskID)
	}

	if err := p.markStarted(ctx, task); err != nil {
		return err
	}

	switch task.FileKind {
	case domain.FileKindNode:
		return p.processNodeFile(ctx, task)
	case domain.FileKindRelationship:
		return p.processRelationshipFile(ctx, task)
	default:
		p.fail(ctx, task, fmt.Sprintf("Unknown file kind: %s", task.FileKind), nil, nil)
		return nil
	}
}

func (p *Pipeline) markStarted(ctx context.Context, task *domain.UploadTask) error {
	updates := map[string]interface{}{"status": domain.StatusProcessing}
	if task.StartedAt == nil {
		now := time.Now()
		updates["started_at"] = now
		task.StartedAt = &now
	}
	if err := p.deps.Tasks.UpdateFields(ctx, nil, task.ID, updates); err != nil {
		return fmt.Errorf("mark task started: %w", err)
	}
	task.Status = domain.StatusProcessing
	p.refreshDatasetStatus(ctx, task.DatasetID)
	p.publish(ctx, task.ID, notify.EventStatus, map[string]any{
		"status":     domain.StatusProcessing,
		"message":    "Task started",
		"percentage": task.ProgressPercentage,
	})
	return nil
}

// fail writes the terminal failed state, recomputes the dataset status and
// publishes an error event. Warnings accumulated so far are persisted too.
func (p *Pipeline) fail(ctx context.Context, task *domain.UploadTask, message string, details map[string]any, warnings []string) {
	p.log.Error("Task failed", "task_id", task.ID, "error", message)
	updates := map[string]interface{}{
		"status":        domain.StatusFailed,
		"error_message": message,
		"completed_at":  time.Now(),
	}
	if details != nil {
		if raw, err := json.Marshal(details); err == nil {
			updates["error_details"] = datatypes.JSON(raw)
		}
	}
	if len(warnings) > 0 {
		updates["validation_warnings"] = warningsJSON(warnings)
	}
	if err := p.deps.Tasks.UpdateFields(ctx, nil, task.ID, updates); err != nil {
		p.log.Error("Failed to persist task failure", "task_id", task.ID, "error", err)
	}
	p.refreshDatasetStatus(ctx, task.DatasetID)
	data := map[string]any{"message": message}
	if details != nil {
		for k, v := range details {
			data[k] = v
		}
	}
	p.publish(ctx, task.ID, notify.EventError, data)
	p.cleanupFile(task)
}

func (p *Pipeline) complete(ctx context.Context, task *domain.UploadTask, warnings []string, data map[string]any) {
	updates := map[string]interface{}{
		"status":       domain.StatusCompleted,
		"completed_at": time.Now(),
	}
	if task.TotalRows > 0 {
		updates["progress_percentage"] = 100.0
	}
	if len(warnings) > 0 {
		updates["validation_warnings"] = warningsJSON(warnings)
	}
	if err := p.deps.Tasks.UpdateFields(ctx, nil, task.ID, updates); err != nil {
		p.log.Error("Failed to persist task completion", "task_id", task.ID, "error", err)
	}
	p.refreshDatasetStatus(ctx, task.DatasetID)
	if data == nil {
		data = map[string]any{}
	}
	data["status"] = domain.StatusCompleted
	data["percentage"] = 100
	p.publish(ctx, task.ID, notify.EventStatus, data)
	p.cleanupFile(task)
}

// refreshDatasetStatus recomputes the dataset aggregate from its tasks:
// failed if any task failed, processing while any is pending or in flight,
// completed only when every task completed.
func (p *Pipeline) refreshDatasetStatus(ctx context.Context, datasetID uuid.UUID) {
	tasks, err := p.deps.Tasks.ListByDataset(ctx, nil, datasetID, "", "")
	if err != nil {
		p.log.Error("Failed to list tasks for dataset status", "dataset_id", datasetID, "error", err)
		return
	}
	var completed, failed, inFlight int
	for _, t := range tasks {
		switch t.Status {
		case domain.StatusCompleted:
			completed++
		case domain.StatusFailed:
			failed++
		case domain.StatusProcessing, domain.StatusPending:
			inFlight++
		}
	}
	status := domain.StatusPending
	switch {
	case failed > 0:
		status = domain.StatusFailed
	case inFlight > 0:
		status = domain.StatusProcessing
	case completed == len(tasks) && len(tasks) > 0:
		status = domain.StatusCompleted
	}
	err = p.deps.Datasets.UpdateFields(ctx, nil, datasetID, map[string]interface{}{
		"status":          status,
		"processed_files": completed + failed,
		"updated_at":      time.Now(),
	})
	if err != nil {
		p.log.Error("Failed to update dataset status", "dataset_id", datasetID, "error", err)
	}
}

// publish is fire-and-forget: notifier failures are logged, never surfaced
// as ingestion failures.
func (p *Pipeline) publish(ctx context.Context, taskID uuid.UUID, eventType notify.EventType, data map[string]any) {
	event := notify.Event{
		TaskID:    taskID,
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
	}
	if err := p.deps.Notifier.Publish(ctx, event); err != nil {
		p.log.Warn("Failed to publish task event", "task_id", taskID, "type", eventType, "error", err)
	}
}

func (p *Pipeline) publishProgress(ctx context.Context, taskID uuid.UUID, message string, percentage int, extra map[string]any) {
	data := map[string]any{"message": message, "percentage": percentage}
	for k, v := range extra {
		data[k] = v
	}
	p.publish(ctx, taskID, notify.EventProgress, data)
}

func (p *Pipeline) updateRowProgress(ctx context.Context, task *domain.UploadTask, processed, total int) {
	pct := 0.0
	if total > 0 {
		pct = float64(processed) / float64(total) * 100
	}
	err := p.deps.Tasks.UpdateFields(ctx, nil, task.ID, map[string]interface{}{
		"processed_rows":      processed,
		"total_rows":          total,
		"progress_percentage": pct,
	})
	if err != nil {
		p.log.Warn("Failed to persist row progress", "task_id", task.ID, "error", err)
	}
}

// batchPercentage maps row progress onto the 10-90% band reserved for batch
// execution (validation owns 0-10, completion is 100).
func batchPercentage(processed, total int) int {
	if total <= 0 {
		return 10
	}
	return 10 + int(float64(processed)/float64(total)*80)
}

// formatValidationError collapses the validator's error list into one
// message: a single error verbatim, otherwise a short summary.
func formatValidationError(errs []string) string {
	if len(errs) == 1 {
		return errs[0]
	}
	head := errs
	suffix := ""
	if len(head) > 3 {
		head = head[:3]
		suffix = "..."
	}
	return fmt.Sprintf("%d issues: %s%s", len(errs), strings.Join(head, "; "), suffix)
}

func warningsJSON(warnings []string) datatypes.JSON {
	if len(warnings) > MaxWarnings {
		warnings = warnings[:MaxWarnings]
	}
	raw, err := json.Marshal(warnings)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func (p *Pipeline) cleanupFile(task *domain.UploadTask) {
	if task.FilePath == "" {
		return
	}
	if err := os.Remove(task.FilePath); err != nil && !os.IsNotExist(err) {
		p.log.Warn("Failed to remove uploaded file", "path", task.FilePath, "error", err)
	}
}
