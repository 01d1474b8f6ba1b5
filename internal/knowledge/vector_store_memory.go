package knowledge

import (
	"context"
	"fmt"
	"sync"
)

// MemoryVectorStore 进程内暴力检索的向量存储，用于测试和本地开发。
type MemoryVectorStore struct {
	mu     sync.RWMutex
	chunks map[uint]map[uint]VectorChunk // knowledgeBaseID -> chunkID -> chunk
}

func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{
		chunks: make(map[uint]map[uint]VectorChunk),
	}
}

func (s *MemoryVectorStore) EnsureCollection(ctx context.Context, knowledgeBaseID uint, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chunks[knowledgeBaseID]; !ok {
		s.chunks[knowledgeBaseID] = make(map[uint]VectorChunk)
	}
	return nil
}

func (s *MemoryVectorStore) UpsertBatch(ctx context.Context, chunks []VectorChunk) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vectorIDs := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			return nil, fmt.Errorf("chunk %d embedding is empty", chunk.ChunkID)
		}
		kb, ok := s.chunks[chunk.KnowledgeBaseID]
		if !ok {
			kb = make(map[uint]VectorChunk)
			s.chunks[chunk.KnowledgeBaseID] = kb
		}
		kb[chunk.ChunkID] = chunk
		vectorIDs = append(vectorIDs, fmt.Sprintf("mem_%d", chunk.ChunkID))
	}
	return vectorIDs, nil
}

func (s *MemoryVectorStore) DeleteDocument(ctx context.Context, knowledgeBaseID uint, documentID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kb, ok := s.chunks[knowledgeBaseID]
	if !ok {
		return nil
	}
	for chunkID, chunk := range kb {
		if chunk.DocumentID == documentID {
			delete(kb, chunkID)
		}
	}
	return nil
}

func (s *MemoryVectorStore) Search(ctx context.Context, req VectorSearchRequest) ([]SearchMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if req.TopK == 0 {
		req.TopK = 10
	}

	kb, ok := s.chunks[req.KnowledgeBaseID]
	if !ok {
		return nil, nil
	}

	results := make([]SearchMatch, 0, req.TopK)
	for _, chunk := range kb {
		score := CosineSimilarity(req.QueryEmbedding, chunk.Embedding)
		if score < req.Threshold {
			continue
		}
		results = append(results, SearchMatch{
			ChunkID:         chunk.ChunkID,
			DocumentID:      chunk.DocumentID,
			KnowledgeBaseID: chunk.KnowledgeBaseID,
			ChunkIndex:      chunk.ChunkIndex,
			Content:         chunk.Text,
			Score:           score,
			Metadata:        chunk.Metadata,
		})
	}

	sortMatchesByScore(results)
	if len(results) > req.TopK {
		results = results[:req.TopK]
	}
	return results, nil
}

func (s *MemoryVectorStore) Ready() bool {
	return true
}

// Count 返回某知识库里已存的向量数，供测试断言使用。
func (s *MemoryVectorStore) Count(knowledgeBaseID uint) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks[knowledgeBaseID])
}
