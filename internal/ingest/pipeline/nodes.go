package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/yungbote/graphport-backend/internal/domain"
	"github.com/yungbote/graphport-backend/internal/graph"
	"github.com/yungbote/graphport-backend/internal/ingest/csvfile"
)

// DefaultNodeLabel is used when neither the upload nor the header names one.
const DefaultNodeLabel = "Node"

func (p *Pipeline) processNodeFile(ctx context.Context, task *domain.UploadTask) error {
	rows, meta, result, ok := p.validateAndParse(ctx, task)
	if !ok {
		return nil
	}
	warnings := result.Warnings

	dataset, err := p.deps.Datasets.GetByID(ctx, nil, task.DatasetID)
	if err != nil {
		p.fail(ctx, task, fmt.Sprintf("Failed to load dataset: %v", err), nil, warnings)
		return nil
	}
	if dataset == nil {
		p.fail(ctx, task, "Dataset no longer exists", nil, warnings)
		return nil
	}

	label := task.NodeLabel
	if label == "" {
		label = DefaultNodeLabel
	}
	idColumn := result.Info.IDColumn
	if idColumn == "" {
		idColumn = "id"
	}
	datasetID := task.DatasetID.String()

	total := len(rows)
	p.updateRowProgress(ctx, task, 0, total)
	task.TotalRows = total

	var (
		records []graph.NodeRecord
		keepIDs []any
		created int
	)
	for i, row := range rows {
		id := csvfile.CoerceIdentifier(row[idColumn])
		if id == nil {
			warnings = append(warnings, fmt.Sprintf("Row %d: Missing id value", meta.Lines[i]))
			continue
		}
		props := make(map[string]any, len(meta.Columns)+1)
		for _, col := range meta.Columns {
			if row.IsNull(col) {
				continue
			}
			props[col] = csvfile.Convert(row[col], meta.DataTypes[col])
		}
		props[idColumn] = id
		props["dataset_id"] = datasetID
		records = append(records, graph.NodeRecord{ID: id, Props: props})
		keepIDs = append(keepIDs, id)
	}

	batches := splitNodeBatches(records, BatchSize)
	processed := 0
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			p.fail(ctx, task, fmt.Sprintf("Ingestion interrupted: %v", err), nil, warnings)
			return err
		}
		n, err := p.deps.Graph.UpsertNodes(ctx, label, idColumn, datasetID, batch)
		if err != nil {
			p.fail(ctx, task, fmt.Sprintf("Error processing batch %d: %v", i+1, err), nil, warnings)
			return nil
		}
		created += n
		processed += len(batch)
		p.updateRowProgress(ctx, task, processed, total)
		p.publishProgress(ctx, task.ID, fmt.Sprintf("Processing batch %d/%d", i+1, len(batches)),
			batchPercentage(processed, len(records)), map[string]any{
				"processed_rows": processed,
				"total_rows":     total,
			})
	}

	// With cascade delete on, rows removed from a re-uploaded file are removed
	// from the graph too; with it off, stale nodes are left in place. Sync
	// failures degrade to warnings so a successful ingest still completes.
	deleted := 0
	if dataset.CascadeDelete && len(keepIDs) > 0 {
		var err error
		deleted, err = p.deps.Graph.DeleteNodesNotIn(ctx, label, idColumn, datasetID, keepIDs)
		if err != nil {
			p.log.Warn("Failed to sync deleted nodes", "task_id", task.ID, "label", label, "error", err)
			warnings = append(warnings, fmt.Sprintf("Could not remove stale %s nodes: %v", label, err))
			deleted = 0
		} else if deleted > 0 {
			p.log.Info("Removed nodes absent from re-uploaded file",
				"task_id", task.ID, "label", label, "deleted", deleted)
		}
	}

	p.adjustDatasetNodeCount(ctx, task, created-deleted)
	p.complete(ctx, task, warnings, map[string]any{
		"message":       fmt.Sprintf("Created %d nodes", created),
		"nodes_created": created,
		"nodes_deleted": deleted,
	})
	return nil
}

func (p *Pipeline) adjustDatasetNodeCount(ctx context.Context, task *domain.UploadTask, delta int) {
	dataset, err := p.deps.Datasets.GetByID(ctx, nil, task.DatasetID)
	if err != nil || dataset == nil {
		p.log.Error("Failed to load dataset for node count", "dataset_id", task.DatasetID, "error", err)
		return
	}
	totalNodes := dataset.TotalNodes + delta
	if totalNodes < 0 {
		totalNodes = 0
	}
	err = p.deps.Datasets.UpdateFields(ctx, nil, task.DatasetID, map[string]interface{}{
		"total_nodes": totalNodes,
		"updated_at":  time.Now(),
	})
	if err != nil {
		p.log.Error("Failed to update dataset node count", "dataset_id", task.DatasetID, "error", err)
	}
}

// validateAndParse runs the shared front half of both flows: structural
// validation at 5%, parsing at 10%. On any fatal problem it finalizes the task
// itself and returns ok=false.
func (p *Pipeline) validateAndParse(ctx context.Context, task *domain.UploadTask) ([]csvfile.Row, *csvfile.Metadata, csvfile.ValidationResult, bool) {
	p.publishProgress(ctx, task.ID, "Validating CSV file...", 5, nil)

	f, err := os.Open(task.FilePath)
	if err != nil {
		p.fail(ctx, task, fmt.Sprintf("Failed to open uploaded file: %v", err), nil, nil)
		return nil, nil, csvfile.ValidationResult{}, false
	}
	result := csvfile.Validate(f)
	f.Close()

	if !result.Valid {
		p.fail(ctx, task, formatValidationError(result.Errors),
			map[string]any{"validation_errors": result.Errors}, result.Warnings)
		return nil, nil, result, false
	}

	p.publishProgress(ctx, task.ID, "Parsing CSV file...", 10, nil)

	rows, meta, err := p.parseRows(task)
	if err != nil {
		p.fail(ctx, task, fmt.Sprintf("Failed to parse CSV file: %v", err), nil, result.Warnings)
		return nil, nil, result, false
	}
	if len(rows) == 0 {
		p.fail(ctx, task, "CSV file contains no data", nil, result.Warnings)
		return nil, nil, result, false
	}
	return rows, meta, result, true
}

func (p *Pipeline) parseRows(task *domain.UploadTask) ([]csvfile.Row, *csvfile.Metadata, error) {
	f, err := os.Open(task.FilePath)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return csvfile.Parse(f)
}

func splitNodeBatches(records []graph.NodeRecord, size int) [][]graph.NodeRecord {
	if size <= 0 {
		size = BatchSize
	}
	var batches [][]graph.NodeRecord
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[start:end])
	}
	return batches
}
