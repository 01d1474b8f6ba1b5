package knowledge

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/unidoc/unioffice/document"
	"github.com/unidoc/unioffice/spreadsheet"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
)

// ExtractResult 文本抽取结果，包含探测到的元数据
type ExtractResult struct {
	Text     string
	Metadata map[string]interface{}
}

// FileParser 单一格式的文件解析器
type FileParser interface {
	Parse(reader io.Reader, filename string) (string, error)
	Extensions() []string
	DocumentType() string
}

// TextParser 纯文本解析器
type TextParser struct{}

func (p *TextParser) Extensions() []string {
	return []string{".txt", ".md", ".markdown"}
}

func (p *TextParser) DocumentType() string { return "text" }

func (p *TextParser) Parse(reader io.Reader, filename string) (string, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("读取文件失败: %w", err)
	}
	return string(content), nil
}

// CodeParser 源码文件解析器，按纯文本读取
type CodeParser struct{}

func (p *CodeParser) Extensions() []string {
	return []string{".go", ".py", ".js", ".ts", ".java", ".c", ".cpp", ".rs", ".sql", ".sh", ".json", ".yaml", ".yml"}
}

func (p *CodeParser) DocumentType() string { return "code" }

func (p *CodeParser) Parse(reader io.Reader, filename string) (string, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("读取源码文件失败: %w", err)
	}
	return string(content), nil
}

// PDFParser PDF文件解析器
type PDFParser struct{}

func (p *PDFParser) Extensions() []string { return []string{".pdf"} }

func (p *PDFParser) DocumentType() string { return "pdf" }

func (p *PDFParser) Parse(reader io.Reader, filename string) (string, error) {
	pdfBytes, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("读取PDF文件失败: %w", err)
	}

	pdfReader, err := model.NewPdfReader(bytes.NewReader(pdfBytes))
	if err != nil {
		return "", fmt.Errorf("解析PDF失败: %w", err)
	}

	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return "", fmt.Errorf("获取PDF页数失败: %w", err)
	}

	var textBuilder strings.Builder
	for i := 1; i <= numPages; i++ {
		page, err := pdfReader.GetPage(i)
		if err != nil {
			continue
		}

		ex, err := extractor.New(page)
		if err != nil {
			continue
		}

		text, err := ex.ExtractText()
		if err != nil {
			continue
		}

		textBuilder.WriteString(text)
		textBuilder.WriteString("\n")
	}

	return textBuilder.String(), nil
}

// WordParser Word文档解析器，仅支持docx
type WordParser struct{}

func (p *WordParser) Extensions() []string { return []string{".docx"} }

func (p *WordParser) DocumentType() string { return "text" }

func (p *WordParser) Parse(reader io.Reader, filename string) (string, error) {
	docBytes, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("读取Word文件失败: %w", err)
	}

	readerAt := bytes.NewReader(docBytes)
	doc, err := document.Read(readerAt, int64(len(docBytes)))
	if err != nil {
		return "", fmt.Errorf("解析Word文档失败: %w", err)
	}
	defer doc.Close()

	var textBuilder strings.Builder
	for _, para := range doc.Paragraphs() {
		for _, run := range para.Runs() {
			textBuilder.WriteString(run.Text())
		}
		textBuilder.WriteString("\n")
	}

	return textBuilder.String(), nil
}

// ExcelParser Excel文件解析器，仅支持xlsx
type ExcelParser struct{}

func (p *ExcelParser) Extensions() []string { return []string{".xlsx"} }

func (p *ExcelParser) DocumentType() string { return "text" }

func (p *ExcelParser) Parse(reader io.Reader, filename string) (string, error) {
	excelBytes, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("读取Excel文件失败: %w", err)
	}

	readerAt := bytes.NewReader(excelBytes)
	ss, err := spreadsheet.Read(readerAt, int64(len(excelBytes)))
	if err != nil {
		return "", fmt.Errorf("解析Excel文档失败: %w", err)
	}
	defer ss.Close()

	var textBuilder strings.Builder
	for _, sheet := range ss.Sheets() {
		textBuilder.WriteString(fmt.Sprintf("工作表: %s\n", sheet.Name()))

		for _, row := range sheet.Rows() {
			var rowText []string
			for _, cell := range row.Cells() {
				rowText = append(rowText, cell.GetString())
			}
			if len(rowText) > 0 {
				textBuilder.WriteString(strings.Join(rowText, "\t"))
				textBuilder.WriteString("\n")
			}
		}
		textBuilder.WriteString("\n")
	}

	return textBuilder.String(), nil
}

// TextExtractor 按文件名分发到对应解析器，并附带语言、字数等探测元数据
type TextExtractor struct {
	parsers map[string]FileParser
}

func NewTextExtractor() *TextExtractor {
	e := &TextExtractor{parsers: make(map[string]FileParser)}
	for _, parser := range []FileParser{
		&PDFParser{},
		&WordParser{},
		&ExcelParser{},
		&CodeParser{},
		&TextParser{},
	} {
		for _, ext := range parser.Extensions() {
			e.parsers[ext] = parser
		}
	}
	return e
}

// Supports 检查文件格式是否可解析
func (e *TextExtractor) Supports(filename string) bool {
	_, ok := e.parsers[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// SupportedExtensions 返回全部可解析的扩展名
func (e *TextExtractor) SupportedExtensions() []string {
	exts := make([]string, 0, len(e.parsers))
	for ext := range e.parsers {
		exts = append(exts, ext)
	}
	return exts
}

// Extract 抽取纯文本并探测元数据
func (e *TextExtractor) Extract(reader io.Reader, filename string) (*ExtractResult, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	parser, ok := e.parsers[ext]
	if !ok {
		return nil, fmt.Errorf("不支持的文件格式: %s", filename)
	}

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}

	text, err := parser.Parse(bytes.NewReader(raw), filename)
	if err != nil {
		return nil, err
	}

	checksum := sha256.Sum256(raw)
	metadata := map[string]interface{}{
		"filename":      filename,
		"extension":     ext,
		"document_type": parser.DocumentType(),
		"size":          len(raw),
		"checksum":      hex.EncodeToString(checksum[:]),
		"language":      detectLanguage(text),
		"word_count":    countWords(text),
	}

	return &ExtractResult{Text: text, Metadata: metadata}, nil
}

// detectLanguage 粗略的语言探测，中文字符占比超过三成判定为中文
func detectLanguage(text string) string {
	if text == "" {
		return "unknown"
	}

	total := 0
	han := 0
	for _, r := range text {
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			continue
		}
		total++
		if unicode.Is(unicode.Han, r) {
			han++
		}
		if total >= 2000 {
			break
		}
	}
	if total == 0 {
		return "unknown"
	}
	if float64(han)/float64(total) > 0.3 {
		return "zh"
	}
	return "en"
}

func countWords(text string) int {
	count := len(strings.Fields(text))
	// 中文基本不含空格，按字符估算
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			count++
		}
	}
	return count
}
