package knowledge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestChunkerShortText 短文本只产生一个chunk
func TestChunkerShortText(t *testing.T) {
	chunker := NewChunker(1000, 200)

	chunks := chunker.Split("This is a short document.")
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, "This is a short document.", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].StartOffset)
	assert.Equal(t, 25, chunks[0].EndOffset)
	assert.Equal(t, 5, chunks[0].WordCount)
}

// TestChunkerEmptyText 空文本和纯空白文本不产生chunk
func TestChunkerEmptyText(t *testing.T) {
	chunker := NewChunker(1000, 200)

	assert.Nil(t, chunker.Split(""))
	assert.Nil(t, chunker.Split("   \n\t  "))
}

// TestChunkerLongText 无句号的2500字符文本按1000/200切出3个chunk
func TestChunkerLongText(t *testing.T) {
	chunker := NewChunker(1000, 200)
	text := strings.Repeat("a", 2500)

	chunks := chunker.Split(text)
	require.Len(t, chunks, 3)

	assert.Equal(t, 0, chunks[0].StartOffset)
	assert.Equal(t, 1000, chunks[0].EndOffset)
	assert.Equal(t, 800, chunks[1].StartOffset)
	assert.Equal(t, 1800, chunks[1].EndOffset)
	assert.Equal(t, 1600, chunks[2].StartOffset)
	assert.Equal(t, 2500, chunks[2].EndOffset)

	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
	}
}

// TestChunkerCoverage 每个字符至少被一个chunk覆盖
func TestChunkerCoverage(t *testing.T) {
	chunker := NewChunker(100, 20)
	text := strings.Repeat("word and more text. ", 60)
	runes := []rune(text)

	chunks := chunker.Split(text)
	require.NotEmpty(t, chunks)

	covered := make([]bool, len(runes))
	for _, chunk := range chunks {
		for i := chunk.StartOffset; i < chunk.EndOffset; i++ {
			covered[i] = true
		}
		assert.Equal(t, string(runes[chunk.StartOffset:chunk.EndOffset]), chunk.Text)
	}
	for i, ok := range covered {
		require.True(t, ok, "字符偏移 %d 未被任何chunk覆盖", i)
	}
}

// TestChunkerSentenceBoundary 句号落在窗口后半段时在句末切分
func TestChunkerSentenceBoundary(t *testing.T) {
	chunker := NewChunker(100, 10)
	// 句号在第80个字符处，位于窗口后50%，应在此切分
	text := strings.Repeat("a", 79) + "." + strings.Repeat("b", 100)

	chunks := chunker.Split(text)
	require.True(t, len(chunks) >= 2)
	assert.Equal(t, 80, chunks[0].EndOffset)
	assert.True(t, strings.HasSuffix(chunks[0].Text, "."))
}

// TestChunkerSentenceBoundaryTooEarly 句号落在窗口前半段时不采用
func TestChunkerSentenceBoundaryTooEarly(t *testing.T) {
	chunker := NewChunker(100, 10)
	text := strings.Repeat("a", 20) + "." + strings.Repeat("b", 200)

	chunks := chunker.Split(text)
	require.NotEmpty(t, chunks)
	assert.Equal(t, 100, chunks[0].EndOffset)
}

// TestChunkerDeterministic 相同输入产生完全相同的切分边界
func TestChunkerDeterministic(t *testing.T) {
	chunker := NewChunker(200, 50)
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 30)

	first := chunker.Split(text)
	second := chunker.Split(text)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i], second[i])
	}
}

// TestChunkerOverlapProgress 重叠配置不合法时仍能前进，不会死循环
func TestChunkerOverlapProgress(t *testing.T) {
	chunker := NewChunker(100, 100)
	assert.Equal(t, 25, chunker.ChunkOverlap())

	chunks := chunker.Split(strings.Repeat("x", 500))
	require.NotEmpty(t, chunks)
	last := chunks[len(chunks)-1]
	assert.Equal(t, 500, last.EndOffset)
}

// TestChunkerUnicode 中文文本按rune计数切分
func TestChunkerUnicode(t *testing.T) {
	chunker := NewChunker(10, 2)
	text := strings.Repeat("知识库检索", 5)

	chunks := chunker.Split(text)
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk.Text)), 10)
	}
	assert.Equal(t, 25, chunks[len(chunks)-1].EndOffset)
}

// TestChunkerDefaults 非法参数回退到默认值
func TestChunkerDefaults(t *testing.T) {
	chunker := NewChunker(0, -5)
	assert.Equal(t, 1000, chunker.ChunkSize())
	assert.Equal(t, 0, chunker.ChunkOverlap())
}
