package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/graphport-backend/internal/pkg/envutil"
	"github.com/yungbote/graphport-backend/internal/pkg/logger"
)

// NodeRecord is one node upsert: the identifying value plus the full property
// map (which already carries the id column and the dataset tag).
type NodeRecord struct {
	ID    any
	Props map[string]any
}

type RelationshipRecord struct {
	SourceID any
	TargetID any
	Props    map[string]any
}

type RelationshipBatch struct {
	SourceLabel string
	TargetLabel string
	Type        string
	IDKey       string
	DatasetID   string
	Rows        []RelationshipRecord
}

// Store is the property-graph backend the ingestion pipeline talks to.
// Upserts are idempotent: nodes key on (label, id, dataset tag), relationships
// on (source, target, type, dataset tag). UpsertNodes reports newly created
// nodes only so re-ingesting the same file yields zero.
type Store interface {
	UpsertNodes(ctx context.Context, label, idKey, datasetID string, nodes []NodeRecord) (int, error)
	UpsertRelationships(ctx context.Context, batch RelationshipBatch) (int, error)
	NodeExists(ctx context.Context, label, idKey string, id any, datasetID string) (bool, error)
	DeleteNodesNotIn(ctx context.Context, label, idKey, datasetID string, keep []any) (int, error)
	DeleteRelationshipsOfType(ctx context.Context, relType, datasetID string) (int, error)
	DeleteDatasetData(ctx context.Context, datasetID string) (int, error)
	CountRelationshipsOfType(ctx context.Context, relType, datasetID string) (int, error)
	Labels(ctx context.Context) ([]string, error)
	RelationshipTypes(ctx context.Context) ([]string, error)
	LabelPropertyKeys(ctx context.Context, label string) ([]string, error)
}

type neo4jStore struct {
	client  *Client
	log     *logger.Logger
	timeout time.Duration
}

func NewStore(client *Client, baseLog *logger.Logger) Store {
	return &neo4jStore{
		client:  client,
		log:     baseLog.With("component", "GraphStore"),
		timeout: time.Duration(envutil.Int("GRAPH_QUERY_TIMEOUT_SECONDS", 30)) * time.Second,
	}
}

func (s *neo4jStore) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: s.client.Database,
	})
}

func (s *neo4jStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *neo4jStore) UpsertNodes(ctx context.Context, label, idKey, datasetID string, nodes []NodeRecord) (int, error) {
	if len(nodes) == 0 {
		return 0, nil
	}
	safeLabel, err := SafeIdentifier(label)
	if err != nil {
		return 0, err
	}
	safeKey, err := SafeIdentifier(idKey)
	if err != nil {
		return 0, err
	}

	rows := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		rows = append(rows, map[string]any{"id": n.ID, "props": n.Props})
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	query := fmt.Sprintf(`
UNWIND $nodes AS node
MERGE (n:%s {%s: node.id, dataset_id: $dataset_id})
SET n += node.props
`, safeLabel, safeKey)

	created, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"nodes": rows, "dataset_id": datasetID})
		if err != nil {
			return 0, err
		}
		summary, err := res.Consume(ctx)
		if err != nil {
			return 0, err
		}
		return summary.Counters().NodesCreated(), nil
	})
	if err != nil {
		return 0, fmt.Errorf("upsert nodes (%s): %w", label, err)
	}
	return created.(int), nil
}

func (s *neo4jStore) UpsertRelationships(ctx context.Context, batch RelationshipBatch) (int, error) {
	if len(batch.Rows) == 0 {
		return 0, nil
	}
	safeSource, err := SafeIdentifier(batch.SourceLabel)
	if err != nil {
		return 0, err
	}
	safeTarget, err := SafeIdentifier(batch.TargetLabel)
	if err != nil {
		return 0, err
	}
	safeType, err := SafeIdentifier(batch.Type)
	if err != nil {
		return 0, err
	}
	idKey := batch.IDKey
	if idKey == "" {
		idKey = "id"
	}
	safeKey, err := SafeIdentifier(idKey)
	if err != nil {
		return 0, err
	}

	rows := make([]map[string]any, 0, len(batch.Rows))
	for _, r := range batch.Rows {
		rows = append(rows, map[string]any{
			"source_id": r.SourceID,
			"target_id": r.TargetID,
			"props":     r.Props,
		})
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	query := fmt.Sprintf(`
UNWIND $rels AS rel
MATCH (source:%s {%s: rel.source_id, dataset_id: $dataset_id})
MATCH (target:%s {%s: rel.target_id, dataset_id: $dataset_id})
MERGE (source)-[r:%s {dataset_id: $dataset_id}]->(target)
SET r += rel.props
RETURN count(r) AS count
`, safeSource, safeKey, safeTarget, safeKey, safeType)

	count, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"rels": rows, "dataset_id": batch.DatasetID})
		if err != nil {
			return 0, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return 0, err
		}
		c, _ := rec.Get("count")
		return int(c.(int64)), nil
	})
	if err != nil {
		return 0, fmt.Errorf("upsert relationships (%s): %w", batch.Type, err)
	}
	n := count.(int)
	if n < len(batch.Rows) {
		s.log.Warn("Some relationship rows did not match endpoint nodes",
			"type", batch.Type, "submitted", len(batch.Rows), "merged", n)
	}
	return n, nil
}

func (s *neo4jStore) NodeExists(ctx context.Context, label, idKey string, id any, datasetID string) (bool, error) {
	safeLabel, err := SafeIdentifier(label)
	if err != nil {
		return false, err
	}
	if idKey == "" {
		idKey = "id"
	}
	safeKey, err := SafeIdentifier(idKey)
	if err != nil {
		return false, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	query := fmt.Sprintf(`MATCH (n:%s {%s: $id, dataset_id: $dataset_id}) RETURN count(n) > 0 AS exists`, safeLabel, safeKey)

	exists, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"id": id, "dataset_id": datasetID})
		if err != nil {
			return false, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return false, err
		}
		v, _ := rec.Get("exists")
		return v.(bool), nil
	})
	if err != nil {
		return false, fmt.Errorf("node exists (%s): %w", label, err)
	}
	return exists.(bool), nil
}

func (s *neo4jStore) DeleteNodesNotIn(ctx context.Context, label, idKey, datasetID string, keep []any) (int, error) {
	safeLabel, err := SafeIdentifier(label)
	if err != nil {
		return 0, err
	}
	if idKey == "" {
		idKey = "id"
	}
	safeKey, err := SafeIdentifier(idKey)
	if err != nil {
		return 0, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	query := fmt.Sprintf(`
MATCH (n:%s)
WHERE n.dataset_id = $dataset_id AND NOT n.%s IN $keep
DETACH DELETE n
`, safeLabel, safeKey)

	deleted, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"dataset_id": datasetID, "keep": keep})
		if err != nil {
			return 0, err
		}
		summary, err := res.Consume(ctx)
		if err != nil {
			return 0, err
		}
		return summary.Counters().NodesDeleted(), nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete nodes not in file (%s): %w", label, err)
	}
	return deleted.(int), nil
}

func (s *neo4jStore) DeleteRelationshipsOfType(ctx context.Context, relType, datasetID string) (int, error) {
	safeType, err := SafeIdentifier(relType)
	if err != nil {
		return 0, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	query := fmt.Sprintf(`
MATCH ()-[r:%s]->()
WHERE r.dataset_id = $dataset_id
DELETE r
`, safeType)

	deleted, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"dataset_id": datasetID})
		if err != nil {
			return 0, err
		}
		summary, err := res.Consume(ctx)
		if err != nil {
			return 0, err
		}
		return summary.Counters().RelationshipsDeleted(), nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete relationships of type %s: %w", relType, err)
	}
	return deleted.(int), nil
}

// DeleteDatasetData removes every node tagged with the dataset, detaching any
// relationships along the way. Used by dataset deletion when cascade delete is
// enabled.
func (s *neo4jStore) DeleteDatasetData(ctx context.Context, datasetID string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	query := `
MATCH (n)
WHERE n.dataset_id = $dataset_id
DETACH DELETE n
`

	deleted, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"dataset_id": datasetID})
		if err != nil {
			return 0, err
		}
		summary, err := res.Consume(ctx)
		if err != nil {
			return 0, err
		}
		return summary.Counters().NodesDeleted(), nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete dataset data: %w", err)
	}
	return deleted.(int), nil
}

func (s *neo4jStore) CountRelationshipsOfType(ctx context.Context, relType, datasetID string) (int, error) {
	safeType, err := SafeIdentifier(relType)
	if err != nil {
		return 0, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	query := fmt.Sprintf(`MATCH ()-[r:%s]->() WHERE r.dataset_id = $dataset_id RETURN count(r) AS count`, safeType)

	count, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"dataset_id": datasetID})
		if err != nil {
			return 0, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return 0, err
		}
		c, _ := rec.Get("count")
		return int(c.(int64)), nil
	})
	if err != nil {
		return 0, fmt.Errorf("count relationships of type %s: %w", relType, err)
	}
	return count.(int), nil
}

func (s *neo4jStore) Labels(ctx context.Context) ([]string, error) {
	return s.stringColumn(ctx, `CALL db.labels() YIELD label RETURN label`, "label")
}

func (s *neo4jStore) RelationshipTypes(ctx context.Context) ([]string, error) {
	return s.stringColumn(ctx, `CALL db.relationshipTypes() YIELD relationshipType RETURN relationshipType`, "relationshipType")
}

// LabelPropertyKeys returns the union of property keys over a bounded sample
// of nodes with the given label.
func (s *neo4jStore) LabelPropertyKeys(ctx context.Context, label string) ([]string, error) {
	safeLabel, err := SafeIdentifier(label)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
MATCH (n:%s)
WITH n LIMIT 100
UNWIND keys(n) AS key
RETURN DISTINCT key
`, safeLabel)
	return s.stringColumn(ctx, query, "key")
}

func (s *neo4jStore) stringColumn(ctx context.Context, query, column string) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, nil)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		values := make([]string, 0, len(records))
		for _, rec := range records {
			v, ok := rec.Get(column)
			if !ok {
				continue
			}
			if str, ok := v.(string); ok {
				values = append(values, str)
			}
		}
		return values, nil
	})
	if err != nil {
		return nil, fmt.Errorf("schema query: %w", err)
	}
	return out.([]string), nil
}
