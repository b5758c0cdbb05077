package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/graphport-backend/internal/domain"
	"github.com/yungbote/graphport-backend/internal/pkg/logger"
)

type DatasetRepo interface {
	Create(ctx context.Context, tx *gorm.DB, dataset *domain.Dataset) (*domain.Dataset, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.Dataset, error)
	List(ctx context.Context, tx *gorm.DB) ([]*domain.Dataset, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type datasetRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDatasetRepo(db *gorm.DB, baseLog *logger.Logger) DatasetRepo {
	return &datasetRepo{db: db, log: baseLog.With("repo", "DatasetRepo")}
}

func (r *datasetRepo) Create(ctx context.Context, tx *gorm.DB, dataset *domain.Dataset) (*domain.Dataset, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(dataset).Error; err != nil {
		return nil, err
	}
	return dataset, nil
}

func (r *datasetRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.Dataset, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var dataset domain.Dataset
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&dataset).Error
	if err != nil {
		return nil, err
	}
	if dataset.ID == uuid.Nil {
		return nil, nil
	}
	return &dataset, nil
}

func (r *datasetRepo) List(ctx context.Context, tx *gorm.DB) ([]*domain.Dataset, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*domain.Dataset
	if err := transaction.WithContext(ctx).
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *datasetRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&domain.Dataset{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *datasetRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&domain.Dataset{}).Error
}
