package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/aihub/knowledge-go/internal/models"
)

// jobRepository 索引任务仓库实现
type jobRepository struct {
	db *gorm.DB
}

func (r *jobRepository) Create(ctx context.Context, job *models.IndexingJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *jobRepository) GetByID(ctx context.Context, jobID uint) (*models.IndexingJob, error) {
	var job models.IndexingJob
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepository) ListByKnowledgeBase(ctx context.Context, kbID uint, limit int) ([]models.IndexingJob, error) {
	query := r.db.WithContext(ctx).
		Where("knowledge_base_id = ?", kbID).
		Order("job_id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var jobs []models.IndexingJob
	err := query.Find(&jobs).Error
	return jobs, err
}

func (r *jobRepository) Update(ctx context.Context, jobID uint, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.IndexingJob{}).
		Where("job_id = ?", jobID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
