package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/aihub/knowledge-go/internal/models"
)

// graphRepository 知识图谱仓库实现
type graphRepository struct {
	db *gorm.DB
}

func (r *graphRepository) ReplaceForDocument(ctx context.Context, kbID, docID uint, nodes []*models.KnowledgeGraphNode, edges []*models.KnowledgeGraphEdge) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", docID).Delete(&models.KnowledgeGraphNode{}).Error; err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", docID).Delete(&models.KnowledgeGraphEdge{}).Error; err != nil {
			return err
		}
		if len(nodes) > 0 {
			if err := tx.Create(nodes).Error; err != nil {
				return err
			}
		}
		if len(edges) > 0 {
			if err := tx.Create(edges).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *graphRepository) ListNodes(ctx context.Context, kbID uint, limit int) ([]models.KnowledgeGraphNode, error) {
	query := r.db.WithContext(ctx).
		Where("knowledge_base_id = ?", kbID).
		Order("mentions DESC, node_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var nodes []models.KnowledgeGraphNode
	err := query.Find(&nodes).Error
	return nodes, err
}

func (r *graphRepository) ListEdges(ctx context.Context, kbID uint, limit int) ([]models.KnowledgeGraphEdge, error) {
	query := r.db.WithContext(ctx).
		Where("knowledge_base_id = ?", kbID).
		Order("edge_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var edges []models.KnowledgeGraphEdge
	err := query.Find(&edges).Error
	return edges, err
}

func (r *graphRepository) Counts(ctx context.Context, kbID uint) (int64, int64, error) {
	var nodes, edges int64
	if err := r.db.WithContext(ctx).Model(&models.KnowledgeGraphNode{}).
		Where("knowledge_base_id = ?", kbID).Count(&nodes).Error; err != nil {
		return 0, 0, err
	}
	if err := r.db.WithContext(ctx).Model(&models.KnowledgeGraphEdge{}).
		Where("knowledge_base_id = ?", kbID).Count(&edges).Error; err != nil {
		return 0, 0, err
	}
	return nodes, edges, nil
}

func (r *graphRepository) DeleteByDocument(ctx context.Context, docID uint) error {
	if err := r.db.WithContext(ctx).Where("document_id = ?", docID).
		Delete(&models.KnowledgeGraphNode{}).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).Where("document_id = ?", docID).
		Delete(&models.KnowledgeGraphEdge{}).Error
}

// searchLogRepository 搜索记录仓库实现
type searchLogRepository struct {
	db *gorm.DB
}

func (r *searchLogRepository) Create(ctx context.Context, record *models.KnowledgeSearch) error {
	return r.db.WithContext(ctx).Create(record).Error
}
