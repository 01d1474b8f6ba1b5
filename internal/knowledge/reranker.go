package knowledge

import (
	"context"
)

// Reranker 对当前结果页做精排。
// 返回顺序即最终顺序；未出现在返回中的文档会被丢弃。
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []RerankDocument) ([]RerankResult, error)
	Ready() bool
}

// RerankDocument 待精排的分块
type RerankDocument struct {
	ID      uint    `json:"id"`      // 分块ID
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"` // 混合检索给出的原始分数
}

// RerankResult 精排结果
type RerankResult struct {
	Document RerankDocument `json:"document"`
	Score    float64        `json:"score"`
	Rank     int            `json:"rank"` // 从1开始
}

// NoopReranker 默认占位实现
type NoopReranker struct{}

func (n *NoopReranker) Rerank(ctx context.Context, query string, documents []RerankDocument) ([]RerankResult, error) {
	// 不进行重排序，直接返回原结果
	results := make([]RerankResult, len(documents))
	for i, doc := range documents {
		results[i] = RerankResult{
			Document: doc,
			Score:    doc.Score,
			Rank:     i + 1,
		}
	}
	return results, nil
}

func (n *NoopReranker) Ready() bool {
	return false
}
