package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTokenizeQuery 分词丢弃短词和停用词
func TestTokenizeQuery(t *testing.T) {
	tokens := TokenizeQuery("How to configure the Redis cluster?")
	assert.Equal(t, []string{"how", "configure", "redis", "cluster"}, tokens)
}

// TestTokenizeQueryShortAndStopwords 长度不超过2的词与停用词全部被过滤
func TestTokenizeQueryShortAndStopwords(t *testing.T) {
	assert.Empty(t, TokenizeQuery("is a of to"))
	assert.Empty(t, TokenizeQuery("the and for with from"))
	assert.Empty(t, TokenizeQuery(""))
}

// TestTokenizeQueryPunctuation 标点作为分隔符，数字保留
func TestTokenizeQueryPunctuation(t *testing.T) {
	tokens := TokenizeQuery("error-code: 500, retry/backoff!")
	assert.Equal(t, []string{"error", "code", "500", "retry", "backoff"}, tokens)
}

// TestKeywordScoreFormula 词频占70%，覆盖率占30%
func TestKeywordScoreFormula(t *testing.T) {
	// 4个词中2个命中同一查询词，2个查询词覆盖1个
	score := KeywordScore("redis redis other words", []string{"redis", "cluster"})
	expected := 0.7*(2.0/4.0) + 0.3*(1.0/2.0)
	assert.InDelta(t, expected, score, 1e-9)
}

// TestKeywordScoreFullMatch 全覆盖时覆盖率贡献满分
func TestKeywordScoreFullMatch(t *testing.T) {
	score := KeywordScore("redis cluster", []string{"redis", "cluster"})
	expected := 0.7*1.0 + 0.3*1.0
	assert.InDelta(t, expected, score, 1e-9)
	assert.LessOrEqual(t, score, 1.0)
}

// TestKeywordScoreNoMatch 无命中返回0
func TestKeywordScoreNoMatch(t *testing.T) {
	assert.Zero(t, KeywordScore("completely unrelated text", []string{"redis"}))
	assert.Zero(t, KeywordScore("", []string{"redis"}))
	assert.Zero(t, KeywordScore("some text", nil))
}

// TestKeywordScoreCaseInsensitive 打分对大小写不敏感
func TestKeywordScoreCaseInsensitive(t *testing.T) {
	lower := KeywordScore("redis cluster setup", []string{"redis"})
	upper := KeywordScore("Redis Cluster Setup", []string{"redis"})
	assert.Equal(t, lower, upper)
}

// TestKeywordScoreDuplicateTokens 查询词去重后计算覆盖率
func TestKeywordScoreDuplicateTokens(t *testing.T) {
	once := KeywordScore("redis setup guide", []string{"redis"})
	twice := KeywordScore("redis setup guide", []string{"redis", "redis"})
	require.Equal(t, once, twice)
}

// TestKeywordScoreRange 分值始终落在[0,1]区间
func TestKeywordScoreRange(t *testing.T) {
	score := KeywordScore("redis redis redis redis", []string{"redis"})
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}
