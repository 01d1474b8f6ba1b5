package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"gorm.io/gorm"
)

// DatabaseIndexer 基于PostgreSQL的全文查询退化实现
type DatabaseIndexer struct {
	db *gorm.DB
}

func NewDatabaseIndexer(db *gorm.DB) FulltextIndexer {
	return &DatabaseIndexer{db: db}
}

func (d *DatabaseIndexer) IndexChunks(ctx context.Context, chunks []FulltextChunk) error {
	// 数据已经保存在knowledge_chunks表中，不需要额外处理
	return nil
}

func (d *DatabaseIndexer) RemoveDocument(ctx context.Context, knowledgeBaseID uint, documentID uint) error {
	return d.db.WithContext(ctx).Table("knowledge_chunks").Where("document_id = ?", documentID).Delete(nil).Error
}

func (d *DatabaseIndexer) Search(ctx context.Context, req FulltextSearchRequest) ([]SearchMatch, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, nil
	}
	if req.Limit == 0 {
		req.Limit = 10
	}

	// 按词条取并集候选，最终打分由搜索引擎完成
	terms := TokenizeQuery(req.Query)
	if len(terms) == 0 {
		return nil, nil
	}

	query := d.db.WithContext(ctx).
		Table("knowledge_chunks").
		Select("knowledge_chunks.chunk_id, knowledge_chunks.document_id, knowledge_chunks.chunk_index, knowledge_chunks.content, knowledge_chunks.metadata").
		Joins("JOIN knowledge_documents ON knowledge_chunks.document_id = knowledge_documents.document_id").
		Where("knowledge_documents.knowledge_base_id = ?", req.KnowledgeBaseID).
		Where("knowledge_documents.status = ?", "active")

	conditions := make([]string, 0, len(terms))
	args := make([]interface{}, 0, len(terms))
	for _, term := range terms {
		conditions = append(conditions, "knowledge_chunks.content ILIKE ?")
		args = append(args, "%"+term+"%")
	}
	query = query.Where(strings.Join(conditions, " OR "), args...)

	var chunks []KnowledgeChunkRecord
	err := query.Order("knowledge_chunks.chunk_id ASC").
		Limit(req.Limit).
		Find(&chunks).Error
	if err != nil {
		return nil, fmt.Errorf("database search failed: %w", err)
	}

	matches := make([]SearchMatch, 0, len(chunks))
	for _, chunk := range chunks {
		var metadata map[string]interface{}
		if chunk.MetadataJSON != "" {
			_ = json.Unmarshal([]byte(chunk.MetadataJSON), &metadata)
		}

		matches = append(matches, SearchMatch{
			ChunkID:         chunk.ChunkID,
			DocumentID:      chunk.DocumentID,
			KnowledgeBaseID: req.KnowledgeBaseID,
			ChunkIndex:      chunk.ChunkIndex,
			Content:         chunk.Content,
			Score:           0.6,
			Metadata:        metadata,
			Highlight:       buildHighlight(chunk.Content, terms[0]),
		})
	}
	return matches, nil
}

func (d *DatabaseIndexer) Ready() bool {
	return d.db != nil
}

// KnowledgeChunkRecord 是数据库查询的最小结构，避免引用模型产生循环
type KnowledgeChunkRecord struct {
	ChunkID      uint
	DocumentID   uint
	ChunkIndex   int
	Content      string
	MetadataJSON string `gorm:"column:metadata"`
}

// buildHighlight 在rune空间做大小写折叠匹配与截取。
// strings.ToLower可能改变字节长度（如İ），按字节切片会切坏UTF-8。
func buildHighlight(content, query string) string {
	contentRunes := []rune(content)
	queryRunes := foldRunes(query)
	if len(queryRunes) == 0 || len(queryRunes) > len(contentRunes) {
		return ""
	}

	idx := runeIndexFold(foldRunes(content), queryRunes)
	if idx == -1 {
		return ""
	}

	start := idx - 40
	if start < 0 {
		start = 0
	}
	end := idx + len(queryRunes) + 40
	if end > len(contentRunes) {
		end = len(contentRunes)
	}
	return string(contentRunes[start:idx]) + "<mark>" +
		string(contentRunes[idx:idx+len(queryRunes)]) + "</mark>" +
		string(contentRunes[idx+len(queryRunes):end])
}

// foldRunes 逐rune小写化，保持偏移与原文一一对应
func foldRunes(s string) []rune {
	runes := []rune(s)
	for i, r := range runes {
		runes[i] = unicode.ToLower(r)
	}
	return runes
}

func runeIndexFold(haystack, needle []rune) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j, r := range needle {
			if haystack[i+j] != r {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
