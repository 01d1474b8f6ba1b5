package knowledge

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

// TestBuildHighlightBasic 大小写不敏感匹配并带40字符上下文
func TestBuildHighlightBasic(t *testing.T) {
	content := strings.Repeat("x", 60) + "Redis cluster" + strings.Repeat("y", 60)

	got := buildHighlight(content, "redis")
	assert.Contains(t, got, "<mark>Redis</mark>")
	// 前后上下文各40字符
	assert.Contains(t, got, strings.Repeat("x", 40)+"<mark>")
	assert.NotContains(t, got, strings.Repeat("x", 41))
}

// TestBuildHighlightNoMatch 未命中与空查询都返回空串
func TestBuildHighlightNoMatch(t *testing.T) {
	assert.Empty(t, buildHighlight("some content", "missing"))
	assert.Empty(t, buildHighlight("short", ""))
	assert.Empty(t, buildHighlight("ab", "abcdef"))
}

// TestBuildHighlightCaseFoldWidth 折叠后字节宽度变化的字符不破坏切片
func TestBuildHighlightCaseFoldWidth(t *testing.T) {
	// İ(U+0130)小写折叠为i，字节长度2变1
	content := "Karadeniz kıyısındaki İstanbul şehri güzeldir"

	got := buildHighlight(content, "istanbul")
	assert.True(t, utf8.ValidString(got))
	assert.Contains(t, got, "<mark>İstanbul</mark>")
}

// TestBuildHighlightMultibyteContext 上下文截断落在多字节字符上仍是合法UTF-8
func TestBuildHighlightMultibyteContext(t *testing.T) {
	content := strings.Repeat("知识库检索", 20) + "Redis" + strings.Repeat("分布式缓存", 20)

	got := buildHighlight(content, "redis")
	assert.True(t, utf8.ValidString(got))
	assert.Contains(t, got, "<mark>Redis</mark>")
	// 按rune计数截取前文40个字符
	assert.Contains(t, got, strings.Repeat("知识库检索", 8)+"<mark>")
}
