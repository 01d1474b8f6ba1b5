package knowledge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTextExtractorSupports 按扩展名判断可解析性，大小写不敏感
func TestTextExtractorSupports(t *testing.T) {
	extractor := NewTextExtractor()

	assert.True(t, extractor.Supports("readme.md"))
	assert.True(t, extractor.Supports("NOTES.TXT"))
	assert.True(t, extractor.Supports("main.go"))
	assert.True(t, extractor.Supports("report.pdf"))
	assert.True(t, extractor.Supports("contract.docx"))
	assert.True(t, extractor.Supports("sheet.xlsx"))
	assert.False(t, extractor.Supports("archive.zip"))
	assert.False(t, extractor.Supports("noextension"))
}

// TestTextExtractorPlainText 纯文本抽取与元数据探测
func TestTextExtractorPlainText(t *testing.T) {
	extractor := NewTextExtractor()
	content := "Redis cluster deployment notes.\nSecond line of text."

	result, err := extractor.Extract(strings.NewReader(content), "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, content, result.Text)
	assert.Equal(t, "notes.txt", result.Metadata["filename"])
	assert.Equal(t, ".txt", result.Metadata["extension"])
	assert.Equal(t, "text", result.Metadata["document_type"])
	assert.Equal(t, len(content), result.Metadata["size"])
	assert.Equal(t, "en", result.Metadata["language"])
	assert.Equal(t, 8, result.Metadata["word_count"])
	assert.Len(t, result.Metadata["checksum"], 64)
}

// TestTextExtractorCode 源码文件归类为code
func TestTextExtractorCode(t *testing.T) {
	extractor := NewTextExtractor()

	result, err := extractor.Extract(strings.NewReader("package main\n\nfunc main() {}\n"), "main.go")
	require.NoError(t, err)
	assert.Equal(t, "code", result.Metadata["document_type"])
}

// TestTextExtractorUnsupported 不支持的格式返回错误
func TestTextExtractorUnsupported(t *testing.T) {
	extractor := NewTextExtractor()

	_, err := extractor.Extract(strings.NewReader("data"), "image.png")
	assert.Error(t, err)
}

// TestTextExtractorChecksumStable 相同内容产生相同校验和
func TestTextExtractorChecksumStable(t *testing.T) {
	extractor := NewTextExtractor()

	first, err := extractor.Extract(strings.NewReader("same content"), "a.txt")
	require.NoError(t, err)
	second, err := extractor.Extract(strings.NewReader("same content"), "b.md")
	require.NoError(t, err)
	assert.Equal(t, first.Metadata["checksum"], second.Metadata["checksum"])
}

// TestDetectLanguage 中文字符占比超过三成判定为中文
func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "zh", detectLanguage("知识库是存储文档的系统"))
	assert.Equal(t, "en", detectLanguage("The knowledge base stores documents"))
	assert.Equal(t, "unknown", detectLanguage(""))
	assert.Equal(t, "unknown", detectLanguage("   ...  "))
}

// TestCountWords 英文按空白分词，中文按字符计数
func TestCountWords(t *testing.T) {
	assert.Equal(t, 4, countWords("one two three four"))
	assert.Equal(t, 3, countWords("知识库"))
	assert.Equal(t, 0, countWords(""))
	// 混合文本两种计数叠加：3个空白分词 + 3个汉字
	assert.Equal(t, 6, countWords("hello 知识库 world"))
}

// TestSupportedExtensions 全部注册的扩展名可用
func TestSupportedExtensions(t *testing.T) {
	extractor := NewTextExtractor()
	exts := extractor.SupportedExtensions()
	assert.Contains(t, exts, ".txt")
	assert.Contains(t, exts, ".md")
	assert.Contains(t, exts, ".pdf")
	assert.Contains(t, exts, ".docx")
	assert.Contains(t, exts, ".go")
}
