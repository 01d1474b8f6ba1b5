package models

import (
	"encoding/json"
	"time"
)

// 知识库类型
const (
	KnowledgeBaseTypeText       = "text"
	KnowledgeBaseTypeMultimodal = "multimodal"
	KnowledgeBaseTypeDynamic    = "dynamic"
)

// 文档状态
const (
	DocumentStatusProcessing = "processing"
	DocumentStatusActive     = "active"
	DocumentStatusArchived   = "archived"
	DocumentStatusFailed     = "failed"
)

// 文档类型
const (
	DocumentTypeText  = "text"
	DocumentTypeImage = "image"
	DocumentTypeAudio = "audio"
	DocumentTypeVideo = "video"
	DocumentTypePDF   = "pdf"
	DocumentTypeCode  = "code"
)

// 索引任务状态
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// 索引任务类型
const (
	JobKindFull        = "full"
	JobKindIncremental = "incremental"
	JobKindDocument    = "document"
	JobKindReindex     = "reindex"
)

// KnowledgeBase 知识库
type KnowledgeBase struct {
	KnowledgeBaseID uint   `gorm:"primaryKey;column:knowledge_base_id" json:"knowledge_base_id"`
	Name            string `gorm:"size:200;not null" json:"name"`
	Description     string `gorm:"size:1000" json:"description"`
	Type            string `gorm:"size:20;default:text" json:"type"`
	OwnerID         uint   `gorm:"column:owner_id;not null;index" json:"owner_id"`
	IsPublic        bool   `gorm:"column:is_public;default:false" json:"is_public"`
	ReaderIDs       string `gorm:"type:json;column:reader_ids" json:"reader_ids"` // 读者ID列表（JSON数组）
	WriterIDs       string `gorm:"type:json;column:writer_ids" json:"writer_ids"` // 写者ID列表（JSON数组）
	Status          string `gorm:"size:20;default:active" json:"status"`

	// 配置
	ChunkSize       int     `gorm:"column:chunk_size;default:1000" json:"chunk_size"`
	ChunkOverlap    int     `gorm:"column:chunk_overlap;default:200" json:"chunk_overlap"`
	MaxDocuments    int     `gorm:"column:max_documents;default:1000" json:"max_documents"`
	MaxSizeBytes    int64   `gorm:"column:max_size_bytes;default:104857600" json:"max_size_bytes"`
	EmbeddingModel  string  `gorm:"column:embedding_model;size:100" json:"embedding_model"`
	SearchThreshold float64 `gorm:"column:search_threshold;default:0.7" json:"search_threshold"`
	AutoReindex     bool    `gorm:"column:auto_reindex;default:false" json:"auto_reindex"` // 定时增量重建标记

	// 聚合统计（仅由提交成功的文档驱动）
	DocumentCount   int       `gorm:"column:document_count;default:0" json:"document_count"`
	ChunkCount      int       `gorm:"column:chunk_count;default:0" json:"chunk_count"`
	EmbeddingCount  int       `gorm:"column:embedding_count;default:0" json:"embedding_count"`
	TotalSizeBytes  int64     `gorm:"column:total_size_bytes;default:0" json:"total_size_bytes"`
	GraphNodeCount  int       `gorm:"column:graph_node_count;default:0" json:"graph_node_count"`
	GraphEdgeCount  int       `gorm:"column:graph_edge_count;default:0" json:"graph_edge_count"`
	TypeDistJSON    string    `gorm:"type:json;column:type_distribution" json:"type_distribution"`
	LangDistJSON    string    `gorm:"type:json;column:language_distribution" json:"language_distribution"`
	StatsUpdateTime time.Time `gorm:"column:stats_update_time" json:"stats_update_time"`

	CreateTime time.Time `gorm:"column:create_time" json:"create_time"`
	UpdateTime time.Time `gorm:"column:update_time" json:"update_time"`

	// 关系
	Documents []KnowledgeDocument `gorm:"foreignKey:KnowledgeBaseID" json:"-"`
}

func (KnowledgeBase) TableName() string {
	return "knowledge_bases"
}

// KnowledgeDocument 知识库文档
type KnowledgeDocument struct {
	DocumentID      uint   `gorm:"primaryKey;column:document_id" json:"document_id"`
	KnowledgeBaseID uint   `gorm:"column:knowledge_base_id;not null;index" json:"knowledge_base_id"`
	Title           string `gorm:"size:200;not null" json:"title"`
	Content         string `gorm:"type:text" json:"content"`       // 提取后的纯文本
	FilePath        string `gorm:"size:500" json:"file_path"`      // 原始内容在对象存储中的位置
	DocumentType    string `gorm:"size:20;default:text" json:"document_type"`
	Source          string `gorm:"size:200" json:"source"`
	Author          string `gorm:"size:200" json:"author"`
	Tags            string `gorm:"type:json" json:"tags"` // 标签列表（JSON数组）
	Language        string `gorm:"size:20" json:"language"`
	SizeBytes       int64  `gorm:"column:size_bytes;default:0" json:"size_bytes"`
	Checksum        string `gorm:"size:64" json:"checksum"` // 内容sha256
	Version         int    `gorm:"default:1" json:"version"`
	Status          string `gorm:"size:20;default:processing" json:"status"`
	ErrorMessage    string `gorm:"size:1000;column:error_message" json:"error_message"`
	Metadata        string `gorm:"type:json" json:"metadata"`

	CreateTime time.Time `gorm:"column:create_time" json:"create_time"`
	UpdateTime time.Time `gorm:"column:update_time" json:"update_time"`

	// 关系
	Chunks []KnowledgeChunk `gorm:"foreignKey:DocumentID" json:"-"`
}

func (KnowledgeDocument) TableName() string {
	return "knowledge_documents"
}

// KnowledgeChunk 知识块
type KnowledgeChunk struct {
	ChunkID     uint   `gorm:"primaryKey;column:chunk_id" json:"chunk_id"`
	DocumentID  uint   `gorm:"column:document_id;not null;index" json:"document_id"`
	Content     string `gorm:"type:text;not null" json:"content"`
	ChunkIndex  int    `gorm:"not null;index" json:"chunk_index"` // 文档内0-based连续序号
	StartOffset int    `gorm:"column:start_offset;default:0" json:"start_offset"`
	EndOffset   int    `gorm:"column:end_offset;default:0" json:"end_offset"`
	WordCount   int    `gorm:"column:word_count;default:0" json:"word_count"`
	VectorID    string `gorm:"size:255" json:"vector_id"`
	Embedding   string `gorm:"type:json" json:"embedding"`
	Metadata    string `gorm:"type:json" json:"metadata"`

	CreateTime time.Time `gorm:"column:create_time" json:"create_time"`
}

func (KnowledgeChunk) TableName() string {
	return "knowledge_chunks"
}

// IndexingJob 索引任务
type IndexingJob struct {
	JobID           uint   `gorm:"primaryKey;column:job_id" json:"job_id"`
	KnowledgeBaseID uint   `gorm:"column:knowledge_base_id;not null;index" json:"knowledge_base_id"`
	DocumentID      uint   `gorm:"column:document_id;index" json:"document_id"`
	Kind            string `gorm:"size:20;default:document" json:"kind"`
	Status          string `gorm:"size:20;default:pending" json:"status"`
	DocsProcessed   int    `gorm:"column:docs_processed;default:0" json:"docs_processed"`
	DocsTotal       int    `gorm:"column:docs_total;default:0" json:"docs_total"`
	Errors          string `gorm:"type:json" json:"errors"` // 错误消息列表（JSON数组）

	CreateTime time.Time  `gorm:"column:create_time" json:"create_time"`
	StartTime  *time.Time `gorm:"column:start_time" json:"start_time"`
	FinishTime *time.Time `gorm:"column:finish_time" json:"finish_time"`
}

func (IndexingJob) TableName() string {
	return "indexing_jobs"
}

// KnowledgeGraphNode 知识图谱实体节点
type KnowledgeGraphNode struct {
	NodeID          uint      `gorm:"primaryKey;column:node_id" json:"node_id"`
	KnowledgeBaseID uint      `gorm:"column:knowledge_base_id;not null;index" json:"knowledge_base_id"`
	DocumentID      uint      `gorm:"column:document_id;index" json:"document_id"`
	Name            string    `gorm:"size:200;not null" json:"name"`
	Type            string    `gorm:"size:50" json:"type"` // person | organization | location | concept
	Mentions        int       `gorm:"default:1" json:"mentions"`
	CreateTime      time.Time `gorm:"column:create_time" json:"create_time"`
}

func (KnowledgeGraphNode) TableName() string {
	return "knowledge_graph_nodes"
}

// KnowledgeGraphEdge 知识图谱关系边
type KnowledgeGraphEdge struct {
	EdgeID          uint      `gorm:"primaryKey;column:edge_id" json:"edge_id"`
	KnowledgeBaseID uint      `gorm:"column:knowledge_base_id;not null;index" json:"knowledge_base_id"`
	DocumentID      uint      `gorm:"column:document_id;index" json:"document_id"`
	SourceName      string    `gorm:"size:200;column:source_name;not null" json:"source_name"`
	TargetName      string    `gorm:"size:200;column:target_name;not null" json:"target_name"`
	Relation        string    `gorm:"size:100" json:"relation"`
	CreateTime      time.Time `gorm:"column:create_time" json:"create_time"`
}

func (KnowledgeGraphEdge) TableName() string {
	return "knowledge_graph_edges"
}

// KnowledgeSearch 知识库搜索记录
type KnowledgeSearch struct {
	SearchID        uint      `gorm:"primaryKey;column:search_id" json:"search_id"`
	KnowledgeBaseID uint      `gorm:"column:knowledge_base_id;index" json:"knowledge_base_id"`
	UserID          uint      `gorm:"column:user_id;index" json:"user_id"`
	Query           string    `gorm:"size:500;not null" json:"query"`
	ResultCount     int       `gorm:"column:result_count;default:0" json:"result_count"`
	CreateTime      time.Time `gorm:"column:create_time" json:"create_time"`
}

func (KnowledgeSearch) TableName() string {
	return "knowledge_searches"
}

// ParseIDList 解析JSON数组形式的ID列表，解析失败返回空
func ParseIDList(raw string) []uint {
	if raw == "" {
		return nil
	}
	var ids []uint
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil
	}
	return ids
}

// EncodeIDList 序列化ID列表为JSON数组
func EncodeIDList(ids []uint) string {
	if len(ids) == 0 {
		return "[]"
	}
	raw, _ := json.Marshal(ids)
	return string(raw)
}

// ParseStringList 解析JSON数组形式的字符串列表
func ParseStringList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

// EncodeStringList 序列化字符串列表为JSON数组
func EncodeStringList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	raw, _ := json.Marshal(values)
	return string(raw)
}
