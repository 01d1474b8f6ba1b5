package knowledge

import (
	"strings"
)

// Chunk 表示分块后的文本结构
type Chunk struct {
	Index       int
	Text        string
	StartOffset int // 原文中的起始rune偏移
	EndOffset   int // 原文中的结束rune偏移（不含）
	WordCount   int
}

// Chunker 文本分块器
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker 创建分块器
func NewChunker(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: overlap,
	}
}

// ChunkSize 返回配置的块大小
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// ChunkOverlap 返回配置的重叠大小
func (c *Chunker) ChunkOverlap() int { return c.chunkOverlap }

// Split 将文本切分为多个重叠的chunk。
// 窗口末尾不在文本末尾时，回退到窗口后半段最近的句号处切分，避免句中断开。
// 相同输入永远产生相同的边界，幂等重建索引依赖这一点。
func (c *Chunker) Split(text string) []Chunk {
	runes := []rune(text)
	if len(strings.TrimSpace(text)) == 0 {
		return nil
	}

	if len(runes) <= c.chunkSize {
		return []Chunk{{
			Index:       0,
			Text:        text,
			StartOffset: 0,
			EndOffset:   len(runes),
			WordCount:   countWords(text),
		}}
	}

	var chunks []Chunk
	start := 0
	for start < len(runes) {
		end := start + c.chunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			// 句末感知切分：句号落在窗口后50%之内才采用
			if cut := lastSentenceEnd(runes, start, end); cut > start+c.chunkSize/2 {
				end = cut
			}
		}

		segment := string(runes[start:end])
		if strings.TrimSpace(segment) != "" {
			chunks = append(chunks, Chunk{
				Index:       len(chunks),
				Text:        segment,
				StartOffset: start,
				EndOffset:   end,
				WordCount:   countWords(segment),
			})
		}

		if end == len(runes) {
			break
		}

		// 下一窗口起点回退overlap；窗口被句末切分压短时保底前进到end
		next := end - c.chunkOverlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

// lastSentenceEnd 返回(start, end]内最后一个句号之后的位置，找不到返回-1
func lastSentenceEnd(runes []rune, start, end int) int {
	for i := end - 1; i > start; i-- {
		if runes[i] == '.' {
			return i + 1
		}
	}
	return -1
}
