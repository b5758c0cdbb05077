package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/graphport-backend/internal/domain"
	"github.com/yungbote/graphport-backend/internal/graph"
	"github.com/yungbote/graphport-backend/internal/ingest/csvfile"
	"github.com/yungbote/graphport-backend/internal/ingest/resolve"
)

// DefaultRelationshipType is used when neither the upload nor the file name
// yields a type.
const DefaultRelationshipType = "RELATED_TO"

func (p *Pipeline) processRelationshipFile(ctx context.Context, task *domain.UploadTask) error {
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

	relType := task.RelationshipType
	if relType == "" {
		relType = DefaultRelationshipType
	}
	sourceCol := result.Info.SourceColumn
	targetCol := result.Info.TargetColumn
	datasetID := task.DatasetID.String()

	declaredSource := task.SourceLabel
	if declaredSource == "" {
		declaredSource = result.Info.SourceLabel
	}
	declaredTarget := task.TargetLabel
	if declaredTarget == "" {
		declaredTarget = result.Info.TargetLabel
	}

	known, err := p.knownLabels(ctx, task.DatasetID)
	if err != nil {
		p.fail(ctx, task, fmt.Sprintf("Failed to determine available node labels: %v", err), nil, warnings)
		return nil
	}

	resolution, err := resolve.Resolve(ctx, resolve.Input{
		RelationshipType: relType,
		DeclaredSource:   declaredSource,
		DeclaredTarget:   declaredTarget,
		KnownLabels:      known,
		DatasetID:        datasetID,
		Rows:             rows,
		SourceColumn:     sourceCol,
		TargetColumn:     targetCol,
	}, p.deps.Graph, p.log)
	if err != nil {
		var notAvailable *resolve.NotAvailableError
		if errors.As(err, &notAvailable) {
			p.fail(ctx, task, notAvailable.Error(),
				map[string]any{"missing_labels": notAvailable.Labels}, warnings)
			return nil
		}
		p.fail(ctx, task, fmt.Sprintf("Failed to resolve entity labels: %v", err), nil, warnings)
		return nil
	}
	if resolution.Strategy == resolve.StrategyFallback {
		warnings = append(warnings, fmt.Sprintf(
			"Could not confidently determine entity labels; defaulted to %s -> %s. Declare labels in the header (e.g. %s:source_id) for exact matching.",
			resolution.Source, resolution.Target, resolution.Source))
	}
	p.log.Info("Resolved relationship endpoints",
		"task_id", task.ID, "type", relType,
		"source", resolution.Source, "target", resolution.Target, "strategy", resolution.Strategy)

	err = p.deps.Tasks.UpdateFields(ctx, nil, task.ID, map[string]interface{}{
		"relationship_type": relType,
		"source_label":      resolution.Source,
		"target_label":      resolution.Target,
	})
	if err != nil {
		p.log.Warn("Failed to persist resolved labels", "task_id", task.ID, "error", err)
	}

	// With cascade delete on, re-uploading a relationship file replaces that
	// type wholesale: stale edges are dropped before the new rows go in. With
	// it off, existing edges of the type are left alone.
	if dataset.CascadeDelete {
		p.publishProgress(ctx, task.ID, "Syncing relationships...", 12, nil)
		deleted, err := p.deps.Graph.DeleteRelationshipsOfType(ctx, relType, datasetID)
		if err != nil {
			p.fail(ctx, task, fmt.Sprintf("Failed to remove existing %s relationships: %v", relType, err), nil, warnings)
			return nil
		}
		if deleted > 0 {
			p.log.Info("Removed existing relationships before re-ingest",
				"task_id", task.ID, "type", relType, "deleted", deleted)
		}
	}

	total := len(rows)
	p.updateRowProgress(ctx, task, 0, total)
	task.TotalRows = total

	// Every row's endpoints are verified before batching so a row pointing at
	// an absent node is skipped under its own warning instead of silently
	// vanishing in the merge.
	var records []graph.RelationshipRecord
	for i, row := range rows {
		sourceID := csvfile.CoerceIdentifier(row[sourceCol])
		targetID := csvfile.CoerceIdentifier(row[targetCol])
		if sourceID == nil || targetID == nil {
			warnings = append(warnings, fmt.Sprintf("Row %d: Missing source_id or target_id", meta.Lines[i]))
			continue
		}
		exists, err := p.deps.Graph.NodeExists(ctx, resolution.Source, "id", sourceID, datasetID)
		if err != nil {
			p.fail(ctx, task, fmt.Sprintf("Failed to verify %s node %v: %v", resolution.Source, sourceID, err), nil, warnings)
			return nil
		}
		if !exists {
			warnings = append(warnings, fmt.Sprintf("Row %d: Source node %s:%v does not exist",
				meta.Lines[i], resolution.Source, sourceID))
			continue
		}
		exists, err = p.deps.Graph.NodeExists(ctx, resolution.Target, "id", targetID, datasetID)
		if err != nil {
			p.fail(ctx, task, fmt.Sprintf("Failed to verify %s node %v: %v", resolution.Target, targetID, err), nil, warnings)
			return nil
		}
		if !exists {
			warnings = append(warnings, fmt.Sprintf("Row %d: Target node %s:%v does not exist",
				meta.Lines[i], resolution.Target, targetID))
			continue
		}
		props := make(map[string]any, len(meta.Columns))
		for _, col := range meta.Columns {
			if col == sourceCol || col == targetCol || row.IsNull(col) {
				continue
			}
			props[col] = csvfile.Convert(row[col], meta.DataTypes[col])
		}
		records = append(records, graph.RelationshipRecord{
			SourceID: sourceID,
			TargetID: targetID,
			Props:    props,
		})
	}

	created := 0
	processed := 0
	batchCount := (len(records) + BatchSize - 1) / BatchSize
	for i := 0; i < len(records); i += BatchSize {
		if err := ctx.Err(); err != nil {
			p.fail(ctx, task, fmt.Sprintf("Ingestion interrupted: %v", err), nil, warnings)
			return err
		}
		end := i + BatchSize
		if end > len(records) {
			end = len(records)
		}
		n, err := p.deps.Graph.UpsertRelationships(ctx, graph.RelationshipBatch{
			SourceLabel: resolution.Source,
			TargetLabel: resolution.Target,
			Type:        relType,
			IDKey:       "id",
			DatasetID:   datasetID,
			Rows:        records[i:end],
		})
		if err != nil {
			p.fail(ctx, task, fmt.Sprintf("Error processing batch %d: %v", i/BatchSize+1, err), nil, warnings)
			return nil
		}
		created += n
		processed += end - i
		p.updateRowProgress(ctx, task, processed, total)
		p.publishProgress(ctx, task.ID, fmt.Sprintf("Processing batch %d/%d", i/BatchSize+1, batchCount),
			batchPercentage(processed, len(records)), map[string]any{
				"processed_rows": processed,
				"total_rows":     total,
			})
	}

	p.reconcileRelationshipCount(ctx, task, relType, datasetID, created)
	p.complete(ctx, task, warnings, map[string]any{
		"message":               fmt.Sprintf("Created %d relationships", created),
		"relationships_created": created,
		"relationship_type":     relType,
		"source_label":          resolution.Source,
		"target_label":          resolution.Target,
	})
	return nil
}

// knownLabels prefers labels recorded by this dataset's completed node tasks;
// the graph's global label list is only a fallback for datasets whose node
// files predate label bookkeeping.
func (p *Pipeline) knownLabels(ctx context.Context, datasetID uuid.UUID) ([]string, error) {
	tasks, err := p.deps.Tasks.ListByDataset(ctx, nil, datasetID, domain.FileKindNode, domain.StatusCompleted)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var labels []string
	for _, t := range tasks {
		label := t.NodeLabel
		if label == "" {
			label = DefaultNodeLabel
		}
		if !seen[label] {
			seen[label] = true
			labels = append(labels, label)
		}
	}
	if len(labels) > 0 {
		return labels, nil
	}
	return p.deps.Graph.Labels(ctx)
}

// reconcileRelationshipCount treats the graph store as the source of truth for
// the dataset's relationship total; the running created count is only used
// when the store cannot be queried.
func (p *Pipeline) reconcileRelationshipCount(ctx context.Context, task *domain.UploadTask, relType, datasetID string, created int) {
	dataset, err := p.deps.Datasets.GetByID(ctx, nil, task.DatasetID)
	if err != nil || dataset == nil {
		p.log.Error("Failed to load dataset for relationship count", "dataset_id", task.DatasetID, "error", err)
		return
	}

	otherTypes, err := p.completedRelationshipTypes(ctx, task, relType)
	total := 0
	if err == nil {
		if count, cerr := p.deps.Graph.CountRelationshipsOfType(ctx, relType, datasetID); cerr == nil {
			total = count
			for _, other := range otherTypes {
				if count, cerr := p.deps.Graph.CountRelationshipsOfType(ctx, other, datasetID); cerr == nil {
					total += count
				} else {
					err = cerr
					break
				}
			}
		} else {
			err = cerr
		}
	}
	if err != nil {
		p.log.Warn("Falling back to running count for relationships", "task_id", task.ID, "error", err)
		total = dataset.TotalRelationships + created
	}

	uerr := p.deps.Datasets.UpdateFields(ctx, nil, task.DatasetID, map[string]interface{}{
		"total_relationships": total,
		"updated_at":          time.Now(),
	})
	if uerr != nil {
		p.log.Error("Failed to update dataset relationship count", "dataset_id", task.DatasetID, "error", uerr)
	}
}

// completedRelationshipTypes lists the distinct types of the dataset's other
// completed relationship tasks, excluding the one just processed.
func (p *Pipeline) completedRelationshipTypes(ctx context.Context, task *domain.UploadTask, current string) ([]string, error) {
	tasks, err := p.deps.Tasks.ListByDataset(ctx, nil, task.DatasetID, domain.FileKindRelationship, domain.StatusCompleted)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{current: true}
	var types []string
	for _, t := range tasks {
		if t.ID == task.ID || t.RelationshipType == "" || seen[t.RelationshipType] {
			continue
		}
		seen[t.RelationshipType] = true
		types = append(types, t.RelationshipType)
	}
	return types, nil
}
