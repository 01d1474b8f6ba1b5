package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aihub/knowledge-go/internal/config"
	"github.com/aihub/knowledge-go/internal/knowledge"
	"github.com/aihub/knowledge-go/internal/models"
	"github.com/aihub/knowledge-go/internal/repository"
)

// tokenEmbedder 向量只编码信号词出现次数，语义相似度可精确控制：
// 含信号词一次的文本与查询余弦为1.0，不含的为0.707
type tokenEmbedder struct {
	signal string
}

func (e *tokenEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	count := float32(strings.Count(strings.ToLower(text), e.signal))
	return []float32{count, 1}, nil
}

func (e *tokenEmbedder) Dimensions() int { return 2 }
func (e *tokenEmbedder) Ready() bool     { return true }

// memoryFulltextIndexer 进程内全文索引，串起流水线写入与关键词检索
type memoryFulltextIndexer struct {
	mu     sync.Mutex
	chunks map[uint][]knowledge.FulltextChunk
}

func newMemoryFulltextIndexer() *memoryFulltextIndexer {
	return &memoryFulltextIndexer{chunks: make(map[uint][]knowledge.FulltextChunk)}
}

func (m *memoryFulltextIndexer) IndexChunks(ctx context.Context, chunks []knowledge.FulltextChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, chunk := range chunks {
		m.chunks[chunk.KnowledgeBaseID] = append(m.chunks[chunk.KnowledgeBaseID], chunk)
	}
	return nil
}

func (m *memoryFulltextIndexer) RemoveDocument(ctx context.Context, knowledgeBaseID uint, documentID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.chunks[knowledgeBaseID][:0]
	for _, chunk := range m.chunks[knowledgeBaseID] {
		if chunk.DocumentID != documentID {
			kept = append(kept, chunk)
		}
	}
	m.chunks[knowledgeBaseID] = kept
	return nil
}

func (m *memoryFulltextIndexer) Search(ctx context.Context, req knowledge.FulltextSearchRequest) ([]knowledge.SearchMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	terms := knowledge.TokenizeQuery(req.Query)
	var matches []knowledge.SearchMatch
	for _, chunk := range m.chunks[req.KnowledgeBaseID] {
		lower := strings.ToLower(chunk.Content)
		for _, term := range terms {
			if strings.Contains(lower, term) {
				matches = append(matches, knowledge.SearchMatch{
					ChunkID:         chunk.ChunkID,
					DocumentID:      chunk.DocumentID,
					KnowledgeBaseID: chunk.KnowledgeBaseID,
					ChunkIndex:      chunk.ChunkIndex,
					Content:         chunk.Content,
					Score:           0.5,
					Metadata:        chunk.Metadata,
				})
				break
			}
		}
		if req.Limit > 0 && len(matches) >= req.Limit {
			break
		}
	}
	return matches, nil
}

func (m *memoryFulltextIndexer) Ready() bool { return true }

func (m *memoryFulltextIndexer) count(knowledgeBaseID uint) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chunks[knowledgeBaseID])
}

// TestIndexThenSearchChunkBoundary 索引2500字符文档（1000/200分块）后检索，
// 只落在第二个分块的短语恰好返回唯一一条chunk_index=1的混合结果
func TestIndexThenSearchChunkBoundary(t *testing.T) {
	store := repository.NewMemoryStore()
	vectors := knowledge.NewMemoryVectorStore()
	embedder := &tokenEmbedder{signal: "failover"}
	indexer := newMemoryFulltextIndexer()

	indexing := NewIndexingService(store, vectors, indexer, embedder,
		knowledge.NewTextExtractor(), config.KnowledgeConfig{}, nil)
	kbSvc := NewKnowledgeBaseService(store)
	engine := knowledge.NewHybridSearchEngine(indexer, vectors, embedder, nil,
		knowledge.NewSearchCache(16, time.Minute))
	search := NewSearchService(store, engine, kbSvc, nil, nil, config.SearchCacheConfig{})

	ctx := context.Background()
	kb, err := kbSvc.CreateKnowledgeBase(ctx, 1, CreateKnowledgeBaseRequest{
		Name:      "ops kb",
		ChunkSize: 1000, ChunkOverlap: 200,
	})
	require.NoError(t, err)

	// 分块窗口为[0,1000) [800,1800) [1600,2500)，短语位于1200-1231，只进第二块
	content := strings.Repeat("lorem ", 200) + "redis failover procedure guide " +
		strings.Repeat("ipsum ", 211) + "end"
	require.Equal(t, 2500, len([]rune(content)))

	job, err := indexing.AddDocument(ctx, kb.KnowledgeBaseID, 1, DocumentUpload{
		Filename: "runbook.txt",
		Reader:   strings.NewReader(content),
		Size:     int64(len(content)),
	})
	require.NoError(t, err)
	waitForJob(t, indexing, job.JobID, models.JobStatusCompleted)

	chunks, err := store.Chunks().ListByDocument(ctx, job.DocumentID)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, 3, vectors.Count(kb.KnowledgeBaseID))

	// 全文索引在事务提交后写入，等它追上再检索
	require.Eventually(t, func() bool {
		return indexer.count(kb.KnowledgeBaseID) == 3
	}, 5*time.Second, 10*time.Millisecond)

	resp, err := search.Search(ctx, 1, SearchInput{
		Query:           "failover procedure",
		KnowledgeBaseID: kb.KnowledgeBaseID,
		Threshold:       0.9,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 1, resp.TotalCount)

	got := resp.Results[0]
	assert.Equal(t, 1, got.ChunkIndex)
	assert.Equal(t, job.DocumentID, got.DocumentID)
	assert.Equal(t, knowledge.MatchTypeHybrid, got.MatchType)
	assert.Contains(t, strings.ToLower(got.Snippet), "failover procedure")
}
