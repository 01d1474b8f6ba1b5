package knowledge

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
)

// DatabaseVectorStore 基于PostgreSQL的退化向量存储。
// 向量以JSON存在knowledge_chunks表里，检索时在进程内算余弦相似度。
type DatabaseVectorStore struct {
	db *gorm.DB
}

func NewDatabaseVectorStore(db *gorm.DB) VectorStore {
	return &DatabaseVectorStore{db: db}
}

func (s *DatabaseVectorStore) EnsureCollection(ctx context.Context, knowledgeBaseID uint, dimension int) error {
	// 数据落在knowledge_chunks表，不需要单独的集合
	return nil
}

func (s *DatabaseVectorStore) UpsertBatch(ctx context.Context, chunks []VectorChunk) ([]string, error) {
	vectorIDs := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			return nil, fmt.Errorf("chunk %d embedding is empty", chunk.ChunkID)
		}

		embeddingJSON, err := json.Marshal(chunk.Embedding)
		if err != nil {
			return nil, err
		}

		vectorID := fmt.Sprintf("db_%d", chunk.ChunkID)
		err = s.db.WithContext(ctx).Table("knowledge_chunks").
			Where("chunk_id = ?", chunk.ChunkID).
			Updates(map[string]interface{}{
				"vector_id": vectorID,
				"embedding": string(embeddingJSON),
			}).Error
		if err != nil {
			return nil, err
		}
		vectorIDs = append(vectorIDs, vectorID)
	}
	return vectorIDs, nil
}

func (s *DatabaseVectorStore) DeleteDocument(ctx context.Context, knowledgeBaseID uint, documentID uint) error {
	return s.db.WithContext(ctx).Table("knowledge_chunks").
		Where("document_id = ?", documentID).
		Updates(map[string]interface{}{
			"vector_id": "",
			"embedding": "",
		}).Error
}

func (s *DatabaseVectorStore) Search(ctx context.Context, req VectorSearchRequest) ([]SearchMatch, error) {
	if len(req.QueryEmbedding) == 0 {
		return nil, nil
	}
	if req.TopK == 0 {
		req.TopK = 10
	}
	if req.CandidateLimit == 0 {
		req.CandidateLimit = req.TopK * 20
	}

	var rows []chunkEmbeddingRecord
	err := s.db.WithContext(ctx).
		Table("knowledge_chunks").
		Select("knowledge_chunks.chunk_id, knowledge_chunks.document_id, knowledge_chunks.chunk_index, knowledge_chunks.content, knowledge_chunks.embedding, knowledge_chunks.metadata").
		Joins("JOIN knowledge_documents ON knowledge_chunks.document_id = knowledge_documents.document_id").
		Where("knowledge_documents.knowledge_base_id = ?", req.KnowledgeBaseID).
		Where("knowledge_documents.status = ?", "active").
		Where("knowledge_chunks.embedding IS NOT NULL AND knowledge_chunks.embedding::text <> ''").
		Limit(req.CandidateLimit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	results := make([]SearchMatch, 0, req.TopK)
	for _, row := range rows {
		var embedding []float32
		if err := json.Unmarshal([]byte(row.EmbeddingJSON), &embedding); err != nil {
			continue
		}
		score := CosineSimilarity(req.QueryEmbedding, embedding)
		if score < req.Threshold {
			continue
		}

		var metadata map[string]interface{}
		if row.MetadataJSON != "" {
			_ = json.Unmarshal([]byte(row.MetadataJSON), &metadata)
		}
		results = append(results, SearchMatch{
			ChunkID:         row.ChunkID,
			DocumentID:      row.DocumentID,
			KnowledgeBaseID: req.KnowledgeBaseID,
			ChunkIndex:      row.ChunkIndex,
			Content:         row.Content,
			Score:           score,
			Metadata:        metadata,
		})
	}

	sortMatchesByScore(results)
	if len(results) > req.TopK {
		results = results[:req.TopK]
	}
	return results, nil
}

func (s *DatabaseVectorStore) Ready() bool {
	return s.db != nil
}

type chunkEmbeddingRecord struct {
	ChunkID       uint
	DocumentID    uint
	ChunkIndex    int
	Content       string
	EmbeddingJSON string `gorm:"column:embedding"`
	MetadataJSON  string `gorm:"column:metadata"`
}
