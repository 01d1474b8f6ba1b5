package knowledge

import (
	"context"
	"math"
)

// VectorChunk 存储向量信息
type VectorChunk struct {
	ChunkID         uint
	DocumentID      uint
	KnowledgeBaseID uint
	ChunkIndex      int
	Text            string
	Embedding       []float32
	Metadata        map[string]interface{} // 轻量元数据快照，检索过滤无需回表
}

// VectorSearchRequest 向量检索请求
type VectorSearchRequest struct {
	KnowledgeBaseID uint
	QueryEmbedding  []float32
	TopK            int
	CandidateLimit  int
	Threshold       float64 // 相似度阈值，仅返回 >= Threshold 的结果
}

// VectorStore 向量存储抽象
type VectorStore interface {
	EnsureCollection(ctx context.Context, knowledgeBaseID uint, dimension int) error
	UpsertBatch(ctx context.Context, chunks []VectorChunk) ([]string, error)
	DeleteDocument(ctx context.Context, knowledgeBaseID uint, documentID uint) error
	Search(ctx context.Context, req VectorSearchRequest) ([]SearchMatch, error)
	Ready() bool
}

// NoopVectorStore 默认占位实现
type NoopVectorStore struct{}

func (n *NoopVectorStore) EnsureCollection(ctx context.Context, knowledgeBaseID uint, dimension int) error {
	return nil
}

func (n *NoopVectorStore) UpsertBatch(ctx context.Context, chunks []VectorChunk) ([]string, error) {
	return nil, nil
}

func (n *NoopVectorStore) DeleteDocument(ctx context.Context, knowledgeBaseID uint, documentID uint) error {
	return nil
}

func (n *NoopVectorStore) Search(ctx context.Context, req VectorSearchRequest) ([]SearchMatch, error) {
	return nil, nil
}

func (n *NoopVectorStore) Ready() bool { return false }

// VectorNorm 计算L2范数
func VectorNorm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// CosineSimilarity 计算余弦相似度，任一向量零范数时返回0
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) != len(b) {
		minLen := len(a)
		if len(b) < minLen {
			minLen = len(b)
		}
		a = a[:minLen]
		b = b[:minLen]
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
