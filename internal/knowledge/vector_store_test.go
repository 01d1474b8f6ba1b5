package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCosineSimilarity 常规向量的余弦相似度
func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}

	assert.InDelta(t, 1.0, CosineSimilarity(a, a), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity(a, b), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity(a, []float32{-1, 0, 0}), 1e-9)
}

// TestCosineSimilarityZeroNorm 零范数向量返回0而不是NaN
func TestCosineSimilarityZeroNorm(t *testing.T) {
	assert.Zero(t, CosineSimilarity([]float32{0, 0, 0}, []float32{1, 2, 3}))
	assert.Zero(t, CosineSimilarity(nil, []float32{1}))
	assert.Zero(t, CosineSimilarity([]float32{1}, nil))
}

// TestCosineSimilarityDimensionMismatch 维度不一致时按较短维度截断
func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	a := []float32{1, 0, 5, 5}
	b := []float32{1, 0}
	assert.InDelta(t, 1.0, CosineSimilarity(a, b), 1e-9)
}

// TestVectorNorm L2范数计算
func TestVectorNorm(t *testing.T) {
	assert.InDelta(t, 5.0, VectorNorm([]float32{3, 4}), 1e-9)
	assert.Zero(t, VectorNorm(nil))
}

// TestMemoryVectorStoreSearch 内存向量库按阈值过滤并按相似度排序
func TestMemoryVectorStoreSearch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()
	require.NoError(t, store.EnsureCollection(ctx, 1, 3))

	_, err := store.UpsertBatch(ctx, []VectorChunk{
		{ChunkID: 1, DocumentID: 10, KnowledgeBaseID: 1, Text: "exact", Embedding: []float32{1, 0, 0}},
		{ChunkID: 2, DocumentID: 10, KnowledgeBaseID: 1, Text: "close", Embedding: []float32{0.9, 0.1, 0}},
		{ChunkID: 3, DocumentID: 11, KnowledgeBaseID: 1, Text: "far", Embedding: []float32{0, 0, 1}},
	})
	require.NoError(t, err)

	matches, err := store.Search(ctx, VectorSearchRequest{
		KnowledgeBaseID: 1,
		QueryEmbedding:  []float32{1, 0, 0},
		TopK:            10,
		Threshold:       0.5,
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, uint(1), matches[0].ChunkID)
	assert.Equal(t, uint(2), matches[1].ChunkID)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

// TestMemoryVectorStoreTopK 结果数不超过TopK
func TestMemoryVectorStoreTopK(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()

	chunks := make([]VectorChunk, 5)
	for i := range chunks {
		chunks[i] = VectorChunk{
			ChunkID:         uint(i + 1),
			DocumentID:      1,
			KnowledgeBaseID: 2,
			Embedding:       []float32{1, float32(i) * 0.01},
		}
	}
	_, err := store.UpsertBatch(ctx, chunks)
	require.NoError(t, err)

	matches, err := store.Search(ctx, VectorSearchRequest{
		KnowledgeBaseID: 2,
		QueryEmbedding:  []float32{1, 0},
		TopK:            3,
	})
	require.NoError(t, err)
	assert.Len(t, matches, 3)
}

// TestMemoryVectorStoreRejectsEmptyEmbedding 空向量禁止入库
func TestMemoryVectorStoreRejectsEmptyEmbedding(t *testing.T) {
	store := NewMemoryVectorStore()
	_, err := store.UpsertBatch(context.Background(), []VectorChunk{
		{ChunkID: 1, KnowledgeBaseID: 1},
	})
	assert.Error(t, err)
}

// TestMemoryVectorStoreDeleteDocument 删除文档会清掉它的全部向量
func TestMemoryVectorStoreDeleteDocument(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()

	_, err := store.UpsertBatch(ctx, []VectorChunk{
		{ChunkID: 1, DocumentID: 10, KnowledgeBaseID: 1, Embedding: []float32{1}},
		{ChunkID: 2, DocumentID: 10, KnowledgeBaseID: 1, Embedding: []float32{1}},
		{ChunkID: 3, DocumentID: 20, KnowledgeBaseID: 1, Embedding: []float32{1}},
	})
	require.NoError(t, err)
	require.Equal(t, 3, store.Count(1))

	require.NoError(t, store.DeleteDocument(ctx, 1, 10))
	assert.Equal(t, 1, store.Count(1))
}

// TestMemoryVectorStoreUnknownKnowledgeBase 未知知识库返回空结果而非错误
func TestMemoryVectorStoreUnknownKnowledgeBase(t *testing.T) {
	store := NewMemoryVectorStore()
	matches, err := store.Search(context.Background(), VectorSearchRequest{
		KnowledgeBaseID: 99,
		QueryEmbedding:  []float32{1},
	})
	require.NoError(t, err)
	assert.Empty(t, matches)
}
