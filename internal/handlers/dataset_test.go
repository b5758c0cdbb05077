package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/graphport-backend/internal/domain"
	"github.com/yungbote/graphport-backend/internal/pkg/logger"
)

type fakeDatasetRepo struct {
	created *domain.Dataset
}

func (f *fakeDatasetRepo) Create(ctx context.Context, tx *gorm.DB, dataset *domain.Dataset) (*domain.Dataset, error) {
	dataset.ID = uuid.New()
	f.created = dataset
	return dataset, nil
}

func (f *fakeDatasetRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.Dataset, error) {
	return nil, nil
}

func (f *fakeDatasetRepo) List(ctx context.Context, tx *gorm.DB) ([]*domain.Dataset, error) {
	return nil, nil
}

func (f *fakeDatasetRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	return nil
}

func (f *fakeDatasetRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return nil
}

func postDataset(t *testing.T, repo *fakeDatasetRepo, body string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := NewDatasetHandler(repo, nil, nil, logger.NewNop())
	router := gin.New()
	router.POST("/api/datasets", h.Create)

	req := httptest.NewRequest(http.MethodPost, "/api/datasets", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateDatasetCascadeDefaultsOff(t *testing.T) {
	repo := &fakeDatasetRepo{}
	w := postDataset(t, repo, `{"name":"orders"}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	if repo.created == nil {
		t.Fatalf("dataset was not created")
	}
	if repo.created.CascadeDelete {
		t.Fatalf("cascade_delete should default to false when omitted")
	}
}

func TestCreateDatasetCascadeExplicit(t *testing.T) {
	repo := &fakeDatasetRepo{}
	w := postDataset(t, repo, `{"name":"orders","cascade_delete":true}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	if repo.created == nil || !repo.created.CascadeDelete {
		t.Fatalf("explicit cascade_delete=true was not honored")
	}
}
