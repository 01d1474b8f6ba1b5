package knowledge

import (
	"context"
	"errors"
)

// Embedder 定义文本向量化接口。
// 失败必须显式返回error，调用方据此使文档进入failed状态；
// 绝不允许用随机向量顶替，否则索引会被噪声污染。
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Ready() bool
}

// NoopEmbedder 默认占位实现
type NoopEmbedder struct{}

func (n *NoopEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embedding provider not configured")
}

func (n *NoopEmbedder) Dimensions() int {
	return 0
}

func (n *NoopEmbedder) Ready() bool {
	return false
}
