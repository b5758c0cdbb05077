package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/yungbote/graphport-backend/internal/domain"
	"github.com/yungbote/graphport-backend/internal/graph"
	"github.com/yungbote/graphport-backend/internal/notify"
	"github.com/yungbote/graphport-backend/internal/pkg/logger"
	"github.com/yungbote/graphport-backend/internal/repos"
)

// fakeGraph is an in-memory graph.Store tracking calls for assertions.
type fakeGraph struct {
	mu    sync.Mutex
	nodes map[string]map[any]map[string]any

	relCounts      map[string]int
	deletedTypes   []string
	deleteNotInArg []any

	upsertNodeErr error
	upsertRelErr  error
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		nodes:     make(map[string]map[any]map[string]any),
		relCounts: make(map[string]int),
	}
}

func (f *fakeGraph) UpsertNodes(ctx context.Context, label, idKey, datasetID string, records []graph.NodeRecord) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertNodeErr != nil {
		return 0, f.upsertNodeErr
	}
	if f.nodes[label] == nil {
		f.nodes[label] = make(map[any]map[string]any)
	}
	created := 0
	for _, r := range records {
		if f.nodes[label][r.ID] == nil {
			created++
		}
		f.nodes[label][r.ID] = r.Props
	}
	return created, nil
}

func (f *fakeGraph) UpsertRelationships(ctx context.Context, batch graph.RelationshipBatch) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertRelErr != nil {
		return 0, f.upsertRelErr
	}
	matched := 0
	for _, r := range batch.Rows {
		if f.nodes[batch.SourceLabel][r.SourceID] != nil && f.nodes[batch.TargetLabel][r.TargetID] != nil {
			matched++
		}
	}
	f.relCounts[batch.Type] += matched
	return matched, nil
}

func (f *fakeGraph) NodeExists(ctx context.Context, label, idKey string, id any, datasetID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nodes[label][id] != nil, nil
}

func (f *fakeGraph) DeleteNodesNotIn(ctx context.Context, label, idKey, datasetID string, keep []any) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteNotInArg = keep
	keepSet := make(map[any]bool, len(keep))
	for _, id := range keep {
		keepSet[id] = true
	}
	deleted := 0
	for id := range f.nodes[label] {
		if !keepSet[id] {
			delete(f.nodes[label], id)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeGraph) DeleteRelationshipsOfType(ctx context.Context, relType, datasetID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedTypes = append(f.deletedTypes, relType)
	deleted := f.relCounts[relType]
	f.relCounts[relType] = 0
	return deleted, nil
}

func (f *fakeGraph) DeleteDatasetData(ctx context.Context, datasetID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	deleted := 0
	for label := range f.nodes {
		deleted += len(f.nodes[label])
		delete(f.nodes, label)
	}
	return deleted, nil
}

func (f *fakeGraph) CountRelationshipsOfType(ctx context.Context, relType, datasetID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.relCounts[relType], nil
}

func (f *fakeGraph) Labels(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var labels []string
	for label := range f.nodes {
		labels = append(labels, label)
	}
	return labels, nil
}

func (f *fakeGraph) RelationshipTypes(ctx context.Context) ([]string, error) { return nil, nil }

func (f *fakeGraph) LabelPropertyKeys(ctx context.Context, label string) ([]string, error) {
	return nil, nil
}

// captureNotifier records every published event.
type captureNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *captureNotifier) Publish(ctx context.Context, event notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *captureNotifier) Close() error { return nil }

func (n *captureNotifier) byType(eventType notify.EventType) []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Event
	for _, e := range n.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// A named shared-cache database keeps the schema visible across the
	// connection pool while staying private to this test.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// The postgres uuid defaults in the model tags do not translate to
	// sqlite, so the schema is created by hand.
	ddl := []string{
		`CREATE TABLE dataset (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			cascade_delete INTEGER NOT NULL DEFAULT 0,
			total_files INTEGER NOT NULL DEFAULT 0,
			processed_files INTEGER NOT NULL DEFAULT 0,
			total_nodes INTEGER NOT NULL DEFAULT 0,
			total_relationships INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME,
			updated_at DATETIME,
			deleted_at DATETIME
		)`,
		`CREATE TABLE upload_task (
			id TEXT PRIMARY KEY,
			dataset_id TEXT NOT NULL,
			file_name TEXT NOT NULL,
			file_kind TEXT NOT NULL,
			file_path TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			total_rows INTEGER NOT NULL DEFAULT 0,
			processed_rows INTEGER NOT NULL DEFAULT 0,
			progress_percentage REAL NOT NULL DEFAULT 0,
			error_message TEXT,
			error_details TEXT,
			node_label TEXT,
			relationship_type TEXT,
			source_label TEXT,
			target_label TEXT,
			validation_warnings TEXT,
			started_at DATETIME,
			completed_at DATETIME,
			created_at DATETIME,
			updated_at DATETIME,
			deleted_at DATETIME
		)`,
	}
	for _, stmt := range ddl {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	})
	return db
}

type testEnv struct {
	pipeline *Pipeline
	datasets repos.DatasetRepo
	tasks    repos.UploadTaskRepo
	graph    *fakeGraph
	notifier *captureNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := openTestDB(t)
	log := logger.NewNop()
	env := &testEnv{
		datasets: repos.NewDatasetRepo(db, log),
		tasks:    repos.NewUploadTaskRepo(db, log),
		graph:    newFakeGraph(),
		notifier: &captureNotifier{},
	}
	env.pipeline = New(Deps{
		Tasks:    env.tasks,
		Datasets: env.datasets,
		Graph:    env.graph,
		Notifier: env.notifier,
		Log:      log,
	})
	return env
}

func (e *testEnv) createDataset(t *testing.T) *domain.Dataset {
	t.Helper()
	return e.createDatasetCascade(t, true)
}

func (e *testEnv) createDatasetCascade(t *testing.T, cascade bool) *domain.Dataset {
	t.Helper()
	dataset, err := e.datasets.Create(context.Background(), nil, &domain.Dataset{
		ID:            uuid.New(),
		Name:          "test",
		Status:        domain.StatusPending,
		CascadeDelete: cascade,
	})
	if err != nil {
		t.Fatalf("create dataset: %v", err)
	}
	return dataset
}

func (e *testEnv) createTask(t *testing.T, task *domain.UploadTask) *domain.UploadTask {
	t.Helper()
	task.ID = uuid.New()
	created, err := e.tasks.Create(context.Background(), nil, []*domain.UploadTask{task})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return created[0]
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

func (e *testEnv) reloadTask(t *testing.T, id uuid.UUID) *domain.UploadTask {
	t.Helper()
	task, err := e.tasks.GetByID(context.Background(), nil, id)
	if err != nil || task == nil {
		t.Fatalf("reload task: %v", err)
	}
	return task
}

func taskWarnings(t *testing.T, task *domain.UploadTask) []string {
	t.Helper()
	if len(task.ValidationWarnings) == 0 {
		return nil
	}
	var warnings []string
	if err := json.Unmarshal(task.ValidationWarnings, &warnings); err != nil {
		t.Fatalf("decode warnings: %v", err)
	}
	return warnings
}

func TestProcessNodeFile(t *testing.T) {
	env := newTestEnv(t)
	dataset := env.createDataset(t)
	path := writeCSV(t, "id,name,age\n1,Alice,30\n2,Bob,25\n3,Carol,41\n")
	task := env.createTask(t, &domain.UploadTask{
		DatasetID: dataset.ID,
		FileName:  "people.csv",
		FileKind:  domain.FileKindNode,
		FilePath:  path,
		Status:    domain.StatusPending,
		NodeLabel: "Person",
	})

	if err := env.pipeline.ProcessTask(context.Background(), task.ID); err != nil {
		t.Fatalf("ProcessTask failed: %v", err)
	}

	got := env.reloadTask(t, task.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("task status = %q (%s), want completed", got.Status, got.ErrorMessage)
	}
	if got.ProgressPercentage != 100 {
		t.Fatalf("progress = %v, want 100", got.ProgressPercentage)
	}
	if got.TotalRows != 3 || got.ProcessedRows != 3 {
		t.Fatalf("rows = %d/%d, want 3/3", got.ProcessedRows, got.TotalRows)
	}
	if got.CompletedAt == nil || got.StartedAt == nil {
		t.Fatalf("timestamps not set: started=%v completed=%v", got.StartedAt, got.CompletedAt)
	}

	if len(env.graph.nodes["Person"]) != 3 {
		t.Fatalf("graph has %d Person nodes, want 3", len(env.graph.nodes["Person"]))
	}
	props := env.graph.nodes["Person"][int64(1)]
	if props == nil {
		t.Fatalf("node 1 missing; identifiers must be coerced to int64")
	}
	if props["name"] != "Alice" || props["age"] != int64(30) {
		t.Fatalf("node 1 props = %v", props)
	}
	if props["dataset_id"] != dataset.ID.String() {
		t.Fatalf("node 1 dataset tag = %v", props["dataset_id"])
	}

	ds, err := env.datasets.GetByID(context.Background(), nil, dataset.ID)
	if err != nil || ds == nil {
		t.Fatalf("reload dataset: %v", err)
	}
	if ds.TotalNodes != 3 {
		t.Fatalf("dataset total_nodes = %d, want 3", ds.TotalNodes)
	}
	if ds.Status != domain.StatusCompleted {
		t.Fatalf("dataset status = %q, want completed", ds.Status)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("uploaded file not cleaned up")
	}
	if len(env.notifier.byType(notify.EventProgress)) == 0 {
		t.Fatalf("no progress events published")
	}
}

func TestProcessNodeFileIdempotent(t *testing.T) {
	env := newTestEnv(t)
	dataset := env.createDataset(t)
	content := "id,name\n1,Alice\n2,Bob\n"

	for i := 0; i < 2; i++ {
		task := env.createTask(t, &domain.UploadTask{
			DatasetID: dataset.ID,
			FileName:  "people.csv",
			FileKind:  domain.FileKindNode,
			FilePath:  writeCSV(t, content),
			Status:    domain.StatusPending,
			NodeLabel: "Person",
		})
		if err := env.pipeline.ProcessTask(context.Background(), task.ID); err != nil {
			t.Fatalf("run %d failed: %v", i+1, err)
		}
	}
	if len(env.graph.nodes["Person"]) != 2 {
		t.Fatalf("after re-ingest graph has %d nodes, want 2", len(env.graph.nodes["Person"]))
	}
}

func TestProcessNodeFileCascadeDelete(t *testing.T) {
	env := newTestEnv(t)
	dataset := env.createDataset(t)

	// First upload: ids 1,2,3. Second upload: ids 2,3,4 removes node 1.
	first := env.createTask(t, &domain.UploadTask{
		DatasetID: dataset.ID,
		FileName:  "people.csv",
		FileKind:  domain.FileKindNode,
		FilePath:  writeCSV(t, "id,name\n1,a\n2,b\n3,c\n"),
		Status:    domain.StatusPending,
		NodeLabel: "Person",
	})
	if err := env.pipeline.ProcessTask(context.Background(), first.ID); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	second := env.createTask(t, &domain.UploadTask{
		DatasetID: dataset.ID,
		FileName:  "people.csv",
		FileKind:  domain.FileKindNode,
		FilePath:  writeCSV(t, "id,name\n2,b\n3,c\n4,d\n"),
		Status:    domain.StatusPending,
		NodeLabel: "Person",
	})
	if err := env.pipeline.ProcessTask(context.Background(), second.ID); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if len(env.graph.nodes["Person"]) != 3 {
		t.Fatalf("graph has %d nodes, want 3", len(env.graph.nodes["Person"]))
	}
	if env.graph.nodes["Person"][int64(1)] != nil {
		t.Fatalf("node 1 should have been cascade deleted")
	}
	if env.graph.nodes["Person"][int64(4)] == nil {
		t.Fatalf("node 4 missing after second upload")
	}

	ds, _ := env.datasets.GetByID(context.Background(), nil, dataset.ID)
	if ds.TotalNodes != 3 {
		t.Fatalf("dataset total_nodes = %d, want 3", ds.TotalNodes)
	}
}

func TestProcessNodeFileCascadeOff(t *testing.T) {
	env := newTestEnv(t)
	dataset := env.createDatasetCascade(t, false)

	// Re-uploads are additive: node 1 stays even though the second file
	// no longer lists it.
	for _, content := range []string{
		"id,name\n1,a\n2,b\n3,c\n",
		"id,name\n2,b\n3,c\n4,d\n",
	} {
		task := env.createTask(t, &domain.UploadTask{
			DatasetID: dataset.ID,
			FileName:  "people.csv",
			FileKind:  domain.FileKindNode,
			FilePath:  writeCSV(t, content),
			Status:    domain.StatusPending,
			NodeLabel: "Person",
		})
		if err := env.pipeline.ProcessTask(context.Background(), task.ID); err != nil {
			t.Fatalf("ProcessTask failed: %v", err)
		}
	}

	if env.graph.nodes["Person"][int64(1)] == nil {
		t.Fatalf("node 1 was deleted on re-upload despite cascade_delete=false")
	}
	if len(env.graph.nodes["Person"]) != 4 {
		t.Fatalf("graph has %d nodes, want 4", len(env.graph.nodes["Person"]))
	}
	if env.graph.deleteNotInArg != nil {
		t.Fatalf("DeleteNodesNotIn called with cascade off: %v", env.graph.deleteNotInArg)
	}

	ds, _ := env.datasets.GetByID(context.Background(), nil, dataset.ID)
	if ds.TotalNodes != 4 {
		t.Fatalf("dataset total_nodes = %d, want 4", ds.TotalNodes)
	}
}

func TestProcessNodeFileRowSkips(t *testing.T) {
	env := newTestEnv(t)
	dataset := env.createDataset(t)
	task := env.createTask(t, &domain.UploadTask{
		DatasetID: dataset.ID,
		FileName:  "people.csv",
		FileKind:  domain.FileKindNode,
		FilePath:  writeCSV(t, "id,name\n1,Alice\n,NoID\n3,Carol\n"),
		Status:    domain.StatusPending,
		NodeLabel: "Person",
	})

	if err := env.pipeline.ProcessTask(context.Background(), task.ID); err != nil {
		t.Fatalf("ProcessTask failed: %v", err)
	}
	got := env.reloadTask(t, task.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("task status = %q, want completed (skips are warnings)", got.Status)
	}
	if len(env.graph.nodes["Person"]) != 2 {
		t.Fatalf("graph has %d nodes, want 2", len(env.graph.nodes["Person"]))
	}
	warnings := taskWarnings(t, got)
	found := false
	for _, w := range warnings {
		if strings.Contains(w, "Row 3") && strings.Contains(w, "Missing id") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected row-skip warning, got %v", warnings)
	}
}

func TestProcessNodeFileRowNumbersSkipBlankLines(t *testing.T) {
	env := newTestEnv(t)
	dataset := env.createDataset(t)
	// The blank line is file line 3; the defective row is file line 4.
	task := env.createTask(t, &domain.UploadTask{
		DatasetID: dataset.ID,
		FileName:  "people.csv",
		FileKind:  domain.FileKindNode,
		FilePath:  writeCSV(t, "id,name\n1,Alice\n\n,NoID\n"),
		Status:    domain.StatusPending,
		NodeLabel: "Person",
	})

	if err := env.pipeline.ProcessTask(context.Background(), task.ID); err != nil {
		t.Fatalf("ProcessTask failed: %v", err)
	}
	got := env.reloadTask(t, task.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("task status = %q, want completed", got.Status)
	}
	warnings := taskWarnings(t, got)
	found := false
	for _, w := range warnings {
		if w == "Row 4: Missing id value" {
			found = true
		}
	}
	if !found {
		t.Fatalf("warnings should reference the file's own line numbers, got %v", warnings)
	}
}

func TestProcessTaskValidationFailure(t *testing.T) {
	env := newTestEnv(t)
	dataset := env.createDataset(t)
	path := writeCSV(t, "name,age\nAlice,30\n")
	task := env.createTask(t, &domain.UploadTask{
		DatasetID: dataset.ID,
		FileName:  "bad.csv",
		FileKind:  domain.FileKindNode,
		FilePath:  path,
		Status:    domain.StatusPending,
	})

	if err := env.pipeline.ProcessTask(context.Background(), task.ID); err != nil {
		t.Fatalf("ProcessTask returned error for validation failure: %v", err)
	}
	got := env.reloadTask(t, task.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("task status = %q, want failed", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "For node files required fields: id") {
		t.Fatalf("error message = %q", got.ErrorMessage)
	}

	ds, _ := env.datasets.GetByID(context.Background(), nil, dataset.ID)
	if ds.Status != domain.StatusFailed {
		t.Fatalf("dataset status = %q, want failed", ds.Status)
	}
	if ds.ProcessedFiles != 1 {
		t.Fatalf("processed_files = %d, want 1", ds.ProcessedFiles)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file should be removed on failure too")
	}
	if len(env.notifier.byType(notify.EventError)) == 0 {
		t.Fatalf("no error event published")
	}
}

func TestProcessTaskEmptyData(t *testing.T) {
	env := newTestEnv(t)
	dataset := env.createDataset(t)
	task := env.createTask(t, &domain.UploadTask{
		DatasetID: dataset.ID,
		FileName:  "empty.csv",
		FileKind:  domain.FileKindNode,
		FilePath:  writeCSV(t, "id,name\n"),
		Status:    domain.StatusPending,
	})

	if err := env.pipeline.ProcessTask(context.Background(), task.ID); err != nil {
		t.Fatalf("ProcessTask failed: %v", err)
	}
	got := env.reloadTask(t, task.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("task status = %q, want failed", got.Status)
	}
	if got.ErrorMessage != "CSV file contains no data" {
		t.Fatalf("error message = %q", got.ErrorMessage)
	}
}

func TestProcessRelationshipFile(t *testing.T) {
	env := newTestEnv(t)
	dataset := env.createDataset(t)

	// Node file first so the label is known and the endpoints exist.
	nodeTask := env.createTask(t, &domain.UploadTask{
		DatasetID: dataset.ID,
		FileName:  "people.csv",
		FileKind:  domain.FileKindNode,
		FilePath:  writeCSV(t, "id,name\n1,Alice\n2,Bob\n3,Carol\n"),
		Status:    domain.StatusPending,
		NodeLabel: "Person",
	})
	if err := env.pipeline.ProcessTask(context.Background(), nodeTask.ID); err != nil {
		t.Fatalf("node task failed: %v", err)
	}

	relTask := env.createTask(t, &domain.UploadTask{
		DatasetID:        dataset.ID,
		FileName:         "follows.csv",
		FileKind:         domain.FileKindRelationship,
		FilePath:         writeCSV(t, "source_id,target_id,since\n1,2,2020\n2,3,2021\n"),
		Status:           domain.StatusPending,
		RelationshipType: "FOLLOWS",
	})
	if err := env.pipeline.ProcessTask(context.Background(), relTask.ID); err != nil {
		t.Fatalf("relationship task failed: %v", err)
	}

	got := env.reloadTask(t, relTask.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("task status = %q (%s), want completed", got.Status, got.ErrorMessage)
	}
	// Single label serves both ends; resolution is persisted on the task.
	if got.SourceLabel != "Person" || got.TargetLabel != "Person" {
		t.Fatalf("resolved labels = %s/%s, want Person/Person", got.SourceLabel, got.TargetLabel)
	}
	if env.graph.relCounts["FOLLOWS"] != 2 {
		t.Fatalf("graph has %d FOLLOWS relationships, want 2", env.graph.relCounts["FOLLOWS"])
	}
	if len(env.graph.deletedTypes) != 1 || env.graph.deletedTypes[0] != "FOLLOWS" {
		t.Fatalf("cascade delete calls = %v, want [FOLLOWS]", env.graph.deletedTypes)
	}

	ds, _ := env.datasets.GetByID(context.Background(), nil, dataset.ID)
	if ds.TotalRelationships != 2 {
		t.Fatalf("dataset total_relationships = %d, want 2", ds.TotalRelationships)
	}
	if ds.Status != domain.StatusCompleted {
		t.Fatalf("dataset status = %q, want completed", ds.Status)
	}
}

func TestProcessRelationshipFileReplacesType(t *testing.T) {
	env := newTestEnv(t)
	dataset := env.createDataset(t)

	nodeTask := env.createTask(t, &domain.UploadTask{
		DatasetID: dataset.ID,
		FileName:  "people.csv",
		FileKind:  domain.FileKindNode,
		FilePath:  writeCSV(t, "id\n1\n2\n3\n"),
		Status:    domain.StatusPending,
		NodeLabel: "Person",
	})
	if err := env.pipeline.ProcessTask(context.Background(), nodeTask.ID); err != nil {
		t.Fatalf("node task failed: %v", err)
	}

	for i, content := range []string{
		"source_id,target_id\n1,2\n2,3\n3,1\n",
		"source_id,target_id\n1,2\n",
	} {
		task := env.createTask(t, &domain.UploadTask{
			DatasetID:        dataset.ID,
			FileName:         "follows.csv",
			FileKind:         domain.FileKindRelationship,
			FilePath:         writeCSV(t, content),
			Status:           domain.StatusPending,
			RelationshipType: "FOLLOWS",
		})
		if err := env.pipeline.ProcessTask(context.Background(), task.ID); err != nil {
			t.Fatalf("run %d failed: %v", i+1, err)
		}
	}

	// The second upload replaces the type wholesale, it does not accumulate.
	if env.graph.relCounts["FOLLOWS"] != 1 {
		t.Fatalf("graph has %d FOLLOWS relationships, want 1", env.graph.relCounts["FOLLOWS"])
	}
	ds, _ := env.datasets.GetByID(context.Background(), nil, dataset.ID)
	if ds.TotalRelationships != 1 {
		t.Fatalf("dataset total_relationships = %d, want 1", ds.TotalRelationships)
	}
}

func TestProcessRelationshipFileCascadeOff(t *testing.T) {
	env := newTestEnv(t)
	dataset := env.createDatasetCascade(t, false)

	nodeTask := env.createTask(t, &domain.UploadTask{
		DatasetID: dataset.ID,
		FileName:  "people.csv",
		FileKind:  domain.FileKindNode,
		FilePath:  writeCSV(t, "id\n1\n2\n3\n"),
		Status:    domain.StatusPending,
		NodeLabel: "Person",
	})
	if err := env.pipeline.ProcessTask(context.Background(), nodeTask.ID); err != nil {
		t.Fatalf("node task failed: %v", err)
	}

	// Two uploads of the same type accumulate instead of replacing.
	for i, content := range []string{
		"source_id,target_id\n1,2\n",
		"source_id,target_id\n2,3\n",
	} {
		task := env.createTask(t, &domain.UploadTask{
			DatasetID:        dataset.ID,
			FileName:         "follows.csv",
			FileKind:         domain.FileKindRelationship,
			FilePath:         writeCSV(t, content),
			Status:           domain.StatusPending,
			RelationshipType: "FOLLOWS",
		})
		if err := env.pipeline.ProcessTask(context.Background(), task.ID); err != nil {
			t.Fatalf("run %d failed: %v", i+1, err)
		}
	}

	if len(env.graph.deletedTypes) != 0 {
		t.Fatalf("existing relationships dropped with cascade off: %v", env.graph.deletedTypes)
	}
	if env.graph.relCounts["FOLLOWS"] != 2 {
		t.Fatalf("graph has %d FOLLOWS relationships, want 2", env.graph.relCounts["FOLLOWS"])
	}
}

func TestProcessRelationshipFileSkipsMissingEndpoints(t *testing.T) {
	env := newTestEnv(t)
	dataset := env.createDataset(t)

	nodeTask := env.createTask(t, &domain.UploadTask{
		DatasetID: dataset.ID,
		FileName:  "people.csv",
		FileKind:  domain.FileKindNode,
		FilePath:  writeCSV(t, "id\n1\n2\n"),
		Status:    domain.StatusPending,
		NodeLabel: "Person",
	})
	if err := env.pipeline.ProcessTask(context.Background(), nodeTask.ID); err != nil {
		t.Fatalf("node task failed: %v", err)
	}

	relTask := env.createTask(t, &domain.UploadTask{
		DatasetID:        dataset.ID,
		FileName:         "follows.csv",
		FileKind:         domain.FileKindRelationship,
		FilePath:         writeCSV(t, "source_id,target_id\n1,2\n1,99\n99,1\n"),
		Status:           domain.StatusPending,
		RelationshipType: "FOLLOWS",
	})
	if err := env.pipeline.ProcessTask(context.Background(), relTask.ID); err != nil {
		t.Fatalf("ProcessTask failed: %v", err)
	}

	got := env.reloadTask(t, relTask.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("task status = %q (%s), want completed", got.Status, got.ErrorMessage)
	}
	if env.graph.relCounts["FOLLOWS"] != 1 {
		t.Fatalf("graph has %d relationships, want 1", env.graph.relCounts["FOLLOWS"])
	}

	// Each skipped row gets its own warning naming the row and the absent node.
	warnings := taskWarnings(t, got)
	var target, source bool
	for _, w := range warnings {
		if w == "Row 3: Target node Person:99 does not exist" {
			target = true
		}
		if w == "Row 4: Source node Person:99 does not exist" {
			source = true
		}
	}
	if !target || !source {
		t.Fatalf("expected per-row endpoint warnings, got %v", warnings)
	}
}

func TestProcessRelationshipFileMissingEndpointFile(t *testing.T) {
	env := newTestEnv(t)
	dataset := env.createDataset(t)

	nodeTask := env.createTask(t, &domain.UploadTask{
		DatasetID: dataset.ID,
		FileName:  "people.csv",
		FileKind:  domain.FileKindNode,
		FilePath:  writeCSV(t, "id\n1\n"),
		Status:    domain.StatusPending,
		NodeLabel: "Person",
	})
	if err := env.pipeline.ProcessTask(context.Background(), nodeTask.ID); err != nil {
		t.Fatalf("node task failed: %v", err)
	}

	relTask := env.createTask(t, &domain.UploadTask{
		DatasetID:        dataset.ID,
		FileName:         "purchases.csv",
		FileKind:         domain.FileKindRelationship,
		FilePath:         writeCSV(t, "source_id,target_id\n1,10\n"),
		Status:           domain.StatusPending,
		RelationshipType: "PURCHASED",
		SourceLabel:      "Person",
		TargetLabel:      "Product",
	})
	if err := env.pipeline.ProcessTask(context.Background(), relTask.ID); err != nil {
		t.Fatalf("ProcessTask failed: %v", err)
	}

	got := env.reloadTask(t, relTask.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("task status = %q, want failed", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "Product node(s) not available in dataset") {
		t.Fatalf("error message = %q", got.ErrorMessage)
	}
}

func TestProcessRelationshipFileRowSkips(t *testing.T) {
	env := newTestEnv(t)
	dataset := env.createDataset(t)

	nodeTask := env.createTask(t, &domain.UploadTask{
		DatasetID: dataset.ID,
		FileName:  "people.csv",
		FileKind:  domain.FileKindNode,
		FilePath:  writeCSV(t, "id\n1\n2\n"),
		Status:    domain.StatusPending,
		NodeLabel: "Person",
	})
	if err := env.pipeline.ProcessTask(context.Background(), nodeTask.ID); err != nil {
		t.Fatalf("node task failed: %v", err)
	}

	relTask := env.createTask(t, &domain.UploadTask{
		DatasetID:        dataset.ID,
		FileName:         "follows.csv",
		FileKind:         domain.FileKindRelationship,
		FilePath:         writeCSV(t, "source_id,target_id\n1,2\n,2\n2,\n"),
		Status:           domain.StatusPending,
		RelationshipType: "FOLLOWS",
	})
	if err := env.pipeline.ProcessTask(context.Background(), relTask.ID); err != nil {
		t.Fatalf("ProcessTask failed: %v", err)
	}

	got := env.reloadTask(t, relTask.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("task status = %q, want completed", got.Status)
	}
	if env.graph.relCounts["FOLLOWS"] != 1 {
		t.Fatalf("graph has %d relationships, want 1", env.graph.relCounts["FOLLOWS"])
	}
	warnings := taskWarnings(t, got)
	count := 0
	for _, w := range warnings {
		if strings.Contains(w, "Missing source_id or target_id") {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("expected 2 row-skip warnings, got %d (%v)", count, warnings)
	}
}

func TestProcessRelationshipFileBatchFailureAborts(t *testing.T) {
	env := newTestEnv(t)
	dataset := env.createDataset(t)

	nodeTask := env.createTask(t, &domain.UploadTask{
		DatasetID: dataset.ID,
		FileName:  "people.csv",
		FileKind:  domain.FileKindNode,
		FilePath:  writeCSV(t, "id\n1\n2\n"),
		Status:    domain.StatusPending,
		NodeLabel: "Person",
	})
	if err := env.pipeline.ProcessTask(context.Background(), nodeTask.ID); err != nil {
		t.Fatalf("node task failed: %v", err)
	}

	env.graph.upsertRelErr = fmt.Errorf("connection reset")
	relTask := env.createTask(t, &domain.UploadTask{
		DatasetID:        dataset.ID,
		FileName:         "follows.csv",
		FileKind:         domain.FileKindRelationship,
		FilePath:         writeCSV(t, "source_id,target_id\n1,2\n"),
		Status:           domain.StatusPending,
		RelationshipType: "FOLLOWS",
	})
	if err := env.pipeline.ProcessTask(context.Background(), relTask.ID); err != nil {
		t.Fatalf("ProcessTask failed: %v", err)
	}

	got := env.reloadTask(t, relTask.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("task status = %q, want failed", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "Error processing batch 1") {
		t.Fatalf("error message = %q", got.ErrorMessage)
	}
}

func TestProcessNodeFileBatching(t *testing.T) {
	env := newTestEnv(t)
	dataset := env.createDataset(t)

	var b strings.Builder
	b.WriteString("id,name\n")
	for i := 1; i <= 250; i++ {
		fmt.Fprintf(&b, "%d,n%d\n", i, i)
	}
	task := env.createTask(t, &domain.UploadTask{
		DatasetID: dataset.ID,
		FileName:  "people.csv",
		FileKind:  domain.FileKindNode,
		FilePath:  writeCSV(t, b.String()),
		Status:    domain.StatusPending,
		NodeLabel: "Person",
	})

	if err := env.pipeline.ProcessTask(context.Background(), task.ID); err != nil {
		t.Fatalf("ProcessTask failed: %v", err)
	}
	if len(env.graph.nodes["Person"]) != 250 {
		t.Fatalf("graph has %d nodes, want 250", len(env.graph.nodes["Person"]))
	}
	got := env.reloadTask(t, task.ID)
	if got.ProcessedRows != 250 {
		t.Fatalf("processed rows = %d, want 250", got.ProcessedRows)
	}

	// Batch progress stays inside the 10-90 band until completion pushes 100.
	for _, e := range env.notifier.byType(notify.EventProgress) {
		if msg, ok := e.Data["message"].(string); ok && strings.HasPrefix(msg, "Processing batch") {
			pct, ok := e.Data["percentage"].(int)
			if !ok {
				t.Fatalf("percentage missing in %v", e.Data)
			}
			if pct < 10 || pct > 90 {
				t.Fatalf("batch progress %d outside 10-90", pct)
			}
		}
	}
}

func TestDatasetStatusRollup(t *testing.T) {
	env := newTestEnv(t)
	dataset := env.createDataset(t)

	ok := env.createTask(t, &domain.UploadTask{
		DatasetID: dataset.ID,
		FileName:  "good.csv",
		FileKind:  domain.FileKindNode,
		FilePath:  writeCSV(t, "id\n1\n"),
		Status:    domain.StatusPending,
		NodeLabel: "Person",
	})
	bad := env.createTask(t, &domain.UploadTask{
		DatasetID: dataset.ID,
		FileName:  "bad.csv",
		FileKind:  domain.FileKindNode,
		FilePath:  writeCSV(t, "name\nx\n"),
		Status:    domain.StatusPending,
	})

	if err := env.pipeline.ProcessTask(context.Background(), ok.ID); err != nil {
		t.Fatalf("good task failed: %v", err)
	}
	ds, _ := env.datasets.GetByID(context.Background(), nil, dataset.ID)
	if ds.Status != domain.StatusProcessing {
		t.Fatalf("dataset status with pending task = %q, want processing", ds.Status)
	}

	if err := env.pipeline.ProcessTask(context.Background(), bad.ID); err != nil {
		t.Fatalf("bad task errored: %v", err)
	}
	ds, _ = env.datasets.GetByID(context.Background(), nil, dataset.ID)
	if ds.Status != domain.StatusFailed {
		t.Fatalf("dataset status = %q, want failed", ds.Status)
	}
	if ds.ProcessedFiles != 2 {
		t.Fatalf("processed_files = %d, want 2", ds.ProcessedFiles)
	}
}
