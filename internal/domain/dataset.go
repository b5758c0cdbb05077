package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const (
	FileKindNode         = "node"
	FileKindRelationship = "relationship"
)

// Dataset groups an ingestion run under one logical graph subset. Every node
// and relationship ingested for it is stamped with its id so independent
// uploads can share one Neo4j instance without colliding.
type Dataset struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name        string    `gorm:"column:name;not null" json:"name"`
	Description string    `gorm:"column:description" json:"description,omitempty"`
	Status      string    `gorm:"column:status;not null;default:pending;index" json:"status"`

	// CascadeDelete makes a re-uploaded file the source of truth: node files
	// remove nodes of that label absent from the file (with their
	// relationships); relationship files replace all relationships of that type.
	CascadeDelete bool `gorm:"column:cascade_delete;not null;default:false" json:"cascade_delete"`

	TotalFiles         int `gorm:"column:total_files;not null;default:0" json:"total_files"`
	ProcessedFiles     int `gorm:"column:processed_files;not null;default:0" json:"processed_files"`
	TotalNodes         int `gorm:"column:total_nodes;not null;default:0" json:"total_nodes"`
	TotalRelationships int `gorm:"column:total_relationships;not null;default:0" json:"total_relationships"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Dataset) TableName() string { return "dataset" }

// UploadTask tracks one uploaded CSV file through validation, parsing and
// batch ingestion. Terminal once completed or failed.
type UploadTask struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	DatasetID uuid.UUID `gorm:"type:uuid;not null;index:idx_upload_task_dataset_status" json:"dataset_id"`
	FileName  string    `gorm:"column:file_name;not null" json:"file_name"`
	FileKind  string    `gorm:"column:file_kind;not null" json:"file_kind"`
	FilePath  string    `gorm:"column:file_path;not null" json:"file_path"`
	Status    string    `gorm:"column:status;not null;default:pending;index:idx_upload_task_dataset_status" json:"status"`

	TotalRows          int     `gorm:"column:total_rows;not null;default:0" json:"total_rows"`
	ProcessedRows      int     `gorm:"column:processed_rows;not null;default:0" json:"processed_rows"`
	ProgressPercentage float64 `gorm:"column:progress_percentage;not null;default:0" json:"progress_percentage"`

	ErrorMessage string         `gorm:"column:error_message" json:"error_message,omitempty"`
	ErrorDetails datatypes.JSON `gorm:"column:error_details;type:jsonb" json:"error_details,omitempty"`

	// NodeLabel for node files, RelationshipType for relationship files.
	NodeLabel        string `gorm:"column:node_label" json:"node_label,omitempty"`
	RelationshipType string `gorm:"column:relationship_type" json:"relationship_type,omitempty"`

	// Declared endpoint labels for relationship files (from Label:source_id
	// style headers); empty when the file carries no hint.
	SourceLabel string `gorm:"column:source_label" json:"source_label,omitempty"`
	TargetLabel string `gorm:"column:target_label" json:"target_label,omitempty"`

	// Non-fatal per-row warnings, capped by the pipeline.
	ValidationWarnings datatypes.JSON `gorm:"column:validation_warnings;type:jsonb" json:"validation_warnings,omitempty"`

	StartedAt   *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (UploadTask) TableName() string { return "upload_task" }
