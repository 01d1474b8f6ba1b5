package knowledge

import (
	"context"
	"sort"
	"time"
)

// FulltextChunk 提供索引用的分块结构
type FulltextChunk struct {
	ChunkID         uint
	DocumentID      uint
	KnowledgeBaseID uint
	Content         string
	ChunkIndex      int
	Title           string
	DocumentType    string
	Metadata        map[string]interface{}
	CreatedAt       time.Time
}

// FulltextSearchRequest 全文搜索请求
type FulltextSearchRequest struct {
	KnowledgeBaseID uint
	Query           string
	Limit           int
}

// SearchMatch 单个知识库内的候选结果
type SearchMatch struct {
	ChunkID         uint
	DocumentID      uint
	KnowledgeBaseID uint
	ChunkIndex      int
	Content         string
	Score           float64
	Highlight       string
	Metadata        map[string]interface{}
}

// FulltextIndexer 全文索引接口
type FulltextIndexer interface {
	IndexChunks(ctx context.Context, chunks []FulltextChunk) error
	RemoveDocument(ctx context.Context, knowledgeBaseID uint, documentID uint) error
	Search(ctx context.Context, req FulltextSearchRequest) ([]SearchMatch, error)
	Ready() bool
}

// NoopFulltextIndexer 默认占位实现
type NoopFulltextIndexer struct{}

func (n *NoopFulltextIndexer) IndexChunks(ctx context.Context, chunks []FulltextChunk) error {
	return nil
}

func (n *NoopFulltextIndexer) RemoveDocument(ctx context.Context, knowledgeBaseID uint, documentID uint) error {
	return nil
}

func (n *NoopFulltextIndexer) Search(ctx context.Context, req FulltextSearchRequest) ([]SearchMatch, error) {
	return nil, nil
}

func (n *NoopFulltextIndexer) Ready() bool { return false }

func sortMatchesByScore(matches []SearchMatch) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ChunkID < matches[j].ChunkID
		}
		return matches[i].Score > matches[j].Score
	})
}
