package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/aihub/knowledge-go/internal/models"
)

// chunkRepository 分块仓库实现
type chunkRepository struct {
	db *gorm.DB
}

func (r *chunkRepository) CreateBatch(ctx context.Context, chunks []*models.KnowledgeChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(chunks).Error
}

func (r *chunkRepository) ListByDocument(ctx context.Context, docID uint) ([]models.KnowledgeChunk, error) {
	var chunks []models.KnowledgeChunk
	err := r.db.WithContext(ctx).
		Where("document_id = ?", docID).
		Order("chunk_index ASC").
		Find(&chunks).Error
	return chunks, err
}

func (r *chunkRepository) CountByKnowledgeBase(ctx context.Context, kbID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.KnowledgeChunk{}).
		Joins("JOIN knowledge_documents ON knowledge_chunks.document_id = knowledge_documents.document_id").
		Where("knowledge_documents.knowledge_base_id = ?", kbID).
		Count(&count).Error
	return count, err
}

func (r *chunkRepository) DeleteByDocument(ctx context.Context, docID uint) error {
	return r.db.WithContext(ctx).Where("document_id = ?", docID).
		Delete(&models.KnowledgeChunk{}).Error
}
