package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/graphport-backend/internal/domain"
	"github.com/yungbote/graphport-backend/internal/pkg/logger"
)

type UploadTaskRepo interface {
	Create(ctx context.Context, tx *gorm.DB, tasks []*domain.UploadTask) ([]*domain.UploadTask, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.UploadTask, error)
	// ListByDataset filters by file kind and/or status when non-empty.
	ListByDataset(ctx context.Context, tx *gorm.DB, datasetID uuid.UUID, fileKind, status string) ([]*domain.UploadTask, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	// ClaimNextPending atomically moves the oldest pending task to processing
	// and returns it, or nil when the queue is empty.
	ClaimNextPending(ctx context.Context) (*domain.UploadTask, error)
}

type uploadTaskRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUploadTaskRepo(db *gorm.DB, baseLog *logger.Logger) UploadTaskRepo {
	return &uploadTaskRepo{db: db, log: baseLog.With("repo", "UploadTaskRepo")}
}

func (r *uploadTaskRepo) Create(ctx context.Context, tx *gorm.DB, tasks []*domain.UploadTask) ([]*domain.UploadTask, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(tasks) == 0 {
		return []*domain.UploadTask{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *uploadTaskRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.UploadTask, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var task domain.UploadTask
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&task).Error
	if err != nil {
		return nil, err
	}
	if task.ID == uuid.Nil {
		return nil, nil
	}
	return &task, nil
}

func (r *uploadTaskRepo) ListByDataset(ctx context.Context, tx *gorm.DB, datasetID uuid.UUID, fileKind, status string) ([]*domain.UploadTask, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*domain.UploadTask
	if datasetID == uuid.Nil {
		return out, nil
	}
	q := transaction.WithContext(ctx).Where("dataset_id = ?", datasetID)
	if fileKind != "" {
		q = q.Where("file_kind = ?", fileKind)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *uploadTaskRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	return transaction.WithContext(ctx).
		Model(&domain.UploadTask{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *uploadTaskRepo) ClaimNextPending(ctx context.Context) (*domain.UploadTask, error) {
	var claimed *domain.UploadTask
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		// Row locking needs postgres; sqlite serializes writes anyway.
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		var task domain.UploadTask
		err := q.
			Where("status = ?", domain.StatusPending).
			Order("created_at ASC").
			Limit(1).
			Find(&task).Error
		if err != nil {
			return err
		}
		if task.ID == uuid.Nil {
			return nil
		}
		now := time.Now()
		if err := tx.Model(&domain.UploadTask{}).
			Where("id = ?", task.ID).
			Updates(map[string]interface{}{
				"status":     domain.StatusProcessing,
				"started_at": now,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}
		task.Status = domain.StatusProcessing
		task.StartedAt = &now
		claimed = &task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}
