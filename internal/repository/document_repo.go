package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/aihub/knowledge-go/internal/models"
)

// documentRepository 文档仓库实现
type documentRepository struct {
	db *gorm.DB
}

func (r *documentRepository) Create(ctx context.Context, doc *models.KnowledgeDocument) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

func (r *documentRepository) GetByID(ctx context.Context, docID uint) (*models.KnowledgeDocument, error) {
	var doc models.KnowledgeDocument
	err := r.db.WithContext(ctx).Where("document_id = ?", docID).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepository) GetByChecksum(ctx context.Context, kbID uint, checksum string) (*models.KnowledgeDocument, error) {
	var doc models.KnowledgeDocument
	err := r.db.WithContext(ctx).
		Where("knowledge_base_id = ? AND checksum = ?", kbID, checksum).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepository) ListByKnowledgeBase(ctx context.Context, kbID uint, page, limit int) ([]models.KnowledgeDocument, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.KnowledgeDocument{}).
		Where("knowledge_base_id = ?", kbID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit > 0 {
		if page < 1 {
			page = 1
		}
		query = query.Offset((page - 1) * limit).Limit(limit)
	}

	var docs []models.KnowledgeDocument
	if err := query.Order("document_id ASC").Find(&docs).Error; err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

func (r *documentRepository) CountByKnowledgeBase(ctx context.Context, kbID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.KnowledgeDocument{}).
		Where("knowledge_base_id = ? AND status <> ?", kbID, models.DocumentStatusArchived).
		Count(&count).Error
	return count, err
}

func (r *documentRepository) CountActiveByKnowledgeBase(ctx context.Context, kbID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.KnowledgeDocument{}).
		Where("knowledge_base_id = ? AND status = ?", kbID, models.DocumentStatusActive).
		Count(&count).Error
	return count, err
}

func (r *documentRepository) SumSizeBytes(ctx context.Context, kbID uint) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&models.KnowledgeDocument{}).
		Where("knowledge_base_id = ? AND status <> ?", kbID, models.DocumentStatusArchived).
		Select("COALESCE(SUM(size_bytes), 0)").
		Scan(&total).Error
	return total, err
}

func (r *documentRepository) Update(ctx context.Context, docID uint, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.KnowledgeDocument{}).
		Where("document_id = ?", docID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *documentRepository) Delete(ctx context.Context, docID uint) error {
	return r.db.WithContext(ctx).Where("document_id = ?", docID).
		Delete(&models.KnowledgeDocument{}).Error
}
