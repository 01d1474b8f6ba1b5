package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/aihub/knowledge-go/internal/models"
)

// knowledgeBaseRepository 知识库仓库实现
type knowledgeBaseRepository struct {
	db *gorm.DB
}

func (r *knowledgeBaseRepository) Create(ctx context.Context, kb *models.KnowledgeBase) error {
	return r.db.WithContext(ctx).Create(kb).Error
}

func (r *knowledgeBaseRepository) GetByID(ctx context.Context, id uint) (*models.KnowledgeBase, error) {
	var kb models.KnowledgeBase
	err := r.db.WithContext(ctx).Where("knowledge_base_id = ?", id).First(&kb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &kb, nil
}

func (r *knowledgeBaseRepository) List(ctx context.Context, filter KnowledgeBaseListFilter) ([]models.KnowledgeBase, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.KnowledgeBase{})

	if filter.UserID != 0 {
		// 公开库、本人拥有的库、或出现在读者列表里的库
		member := fmt.Sprintf("%%%d%%", filter.UserID)
		query = query.Where("is_public = ? OR owner_id = ? OR reader_ids::text LIKE ? OR writer_ids::text LIKE ?",
			true, filter.UserID, member, member)
	}
	if filter.Search != "" {
		query = query.Where("name ILIKE ? OR description ILIKE ?", "%"+filter.Search+"%", "%"+filter.Search+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Limit > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		query = query.Offset((page - 1) * filter.Limit).Limit(filter.Limit)
	}

	var knowledgeBases []models.KnowledgeBase
	if err := query.Order("knowledge_base_id ASC").Find(&knowledgeBases).Error; err != nil {
		return nil, 0, err
	}
	return knowledgeBases, total, nil
}

func (r *knowledgeBaseRepository) ListAutoReindex(ctx context.Context) ([]models.KnowledgeBase, error) {
	var knowledgeBases []models.KnowledgeBase
	err := r.db.WithContext(ctx).
		Where("auto_reindex = ? AND status = ?", true, "active").
		Find(&knowledgeBases).Error
	return knowledgeBases, err
}

func (r *knowledgeBaseRepository) Update(ctx context.Context, id uint, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.KnowledgeBase{}).
		Where("knowledge_base_id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *knowledgeBaseRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Where("knowledge_base_id = ?", id).
		Delete(&models.KnowledgeBase{}).Error
}
