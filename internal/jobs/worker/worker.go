package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/yungbote/graphport-backend/internal/domain"
	"github.com/yungbote/graphport-backend/internal/ingest/pipeline"
	"github.com/yungbote/graphport-backend/internal/pkg/envutil"
	"github.com/yungbote/graphport-backend/internal/pkg/logger"
	"github.com/yungbote/graphport-backend/internal/repos"
)

// Worker polls the upload task queue and runs the ingestion pipeline for each
// claimed task. Claiming uses a row lock so multiple workers (or processes)
// never process the same task twice.
type Worker struct {
	log      *logger.Logger
	tasks    repos.UploadTaskRepo
	pipeline *pipeline.Pipeline
}

func NewWorker(baseLog *logger.Logger, tasks repos.UploadTaskRepo, p *pipeline.Pipeline) *Worker {
	return &Worker{
		log:      baseLog.With("component", "IngestionWorker"),
		tasks:    tasks,
		pipeline: p,
	}
}

func (w *Worker) Start(ctx context.Context) {
	concurrency := envutil.Int("WORKER_CONCURRENCY", 4)
	if concurrency < 1 {
		concurrency = 1
	}
	w.log.Info("Starting ingestion worker pool", "concurrency", concurrency)

	for i := 0; i < concurrency; i++ {
		workerID := i + 1
		go w.runLoop(ctx, workerID)
	}
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(envutil.Duration("WORKER_POLL_INTERVAL", time.Second))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			task, err := w.tasks.ClaimNextPending(ctx)
			if err != nil {
				w.log.Warn("ClaimNextPending failed", "worker_id", workerID, "error", err)
				continue
			}
			if task == nil {
				continue
			}
			w.runTask(ctx, workerID, task)
		}
	}
}

func (w *Worker) runTask(ctx context.Context, workerID int, task *domain.UploadTask) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Ingestion panic",
				"worker_id", workerID,
				"task_id", task.ID,
				"panic", r,
			)
			err := w.tasks.UpdateFields(ctx, nil, task.ID, map[string]interface{}{
				"status":        domain.StatusFailed,
				"error_message": fmt.Sprintf("internal error: %v", r),
				"completed_at":  time.Now(),
			})
			if err != nil {
				w.log.Error("Failed to mark panicked task failed", "task_id", task.ID, "error", err)
			}
		}
	}()

	w.log.Info("Processing upload task",
		"worker_id", workerID, "task_id", task.ID, "file", task.FileName, "kind", task.FileKind)
	if err := w.pipeline.ProcessTask(ctx, task.ID); err != nil {
		// Terminal task states are written by the pipeline; anything returned
		// here is an infrastructure error worth logging.
		w.log.Error("ProcessTask failed", "worker_id", workerID, "task_id", task.ID, "error", err)
	}
}
