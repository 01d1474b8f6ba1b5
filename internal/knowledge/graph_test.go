package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHeuristicExtractorEntities 大写开头的词识别为实体，缩写词排除
func TestHeuristicExtractorEntities(t *testing.T) {
	extractor := NewHeuristicGraphExtractor()

	fragment, err := extractor.Extract(context.Background(), "Kafka streams data into Elasticsearch. The API returns JSON.")
	require.NoError(t, err)

	names := make([]string, 0, len(fragment.Entities))
	for _, entity := range fragment.Entities {
		names = append(names, entity.Name)
	}
	assert.Contains(t, names, "Kafka")
	assert.Contains(t, names, "Elasticsearch")
	// 全大写缩写词不算实体
	assert.NotContains(t, names, "API")
	assert.NotContains(t, names, "JSON")
	// 小写词不算实体
	assert.NotContains(t, names, "streams")
}

// TestHeuristicExtractorRelations 同句共现的相邻实体建立关系
func TestHeuristicExtractorRelations(t *testing.T) {
	extractor := NewHeuristicGraphExtractor()

	fragment, err := extractor.Extract(context.Background(), "Prometheus scrapes Grafana dashboards. Milvus stores vectors.")
	require.NoError(t, err)

	require.NotEmpty(t, fragment.Relations)
	first := fragment.Relations[0]
	assert.Equal(t, "Prometheus", first.Source)
	assert.Equal(t, "Grafana", first.Target)
	assert.Equal(t, "co-occurrence", first.Relation)

	// 跨句实体之间没有关系
	for _, rel := range fragment.Relations {
		assert.NotEqual(t, "Grafana->Milvus", rel.Source+"->"+rel.Target)
	}
}

// TestHeuristicExtractorEmpty 空文本返回空结果
func TestHeuristicExtractorEmpty(t *testing.T) {
	extractor := NewHeuristicGraphExtractor()

	fragment, err := extractor.Extract(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, fragment.Entities)
	assert.Empty(t, fragment.Relations)
}

// TestHeuristicExtractorDeduplicates 重复出现的实体与关系只记一次
func TestHeuristicExtractorDeduplicates(t *testing.T) {
	extractor := NewHeuristicGraphExtractor()

	fragment, err := extractor.Extract(context.Background(), "Redis caches data. Redis caches data. Redis caches data.")
	require.NoError(t, err)

	count := 0
	for _, entity := range fragment.Entities {
		if entity.Name == "Redis" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

// TestHeuristicExtractorEntityLimit 实体数量有上限
func TestHeuristicExtractorEntityLimit(t *testing.T) {
	extractor := NewHeuristicGraphExtractor()

	var text string
	for i := 0; i < 100; i++ {
		text += "Entity" + string(rune('A'+i%26)) + string(rune('0'+i/26)) + " appears here. "
	}

	fragment, err := extractor.Extract(context.Background(), text)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(fragment.Entities), 50)
}

// TestNoopGraphExtractor 占位实现返回空结果且不可用
func TestNoopGraphExtractor(t *testing.T) {
	extractor := &NoopGraphExtractor{}

	fragment, err := extractor.Extract(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, fragment.Entities)
	assert.False(t, extractor.Ready())
}
