package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// MilvusOptions Milvus客户端配置
type MilvusOptions struct {
	Address          string
	Username         string
	Password         string
	CollectionPrefix string
	VectorSize       int
	Distance         string
	Database         string
	UseTLS           bool
	Timeout          time.Duration
}

type milvusVectorStore struct {
	milvusClient     client.Client
	collectionPrefix string
	vectorSize       int
	distance         string
	database         string
	ensured          map[string]bool
	mu               sync.Mutex
}

// NewMilvusVectorStore 创建Milvus向量存储
func NewMilvusVectorStore(opts MilvusOptions) (VectorStore, error) {
	if opts.Address == "" {
		opts.Address = "localhost:19530"
	}
	if opts.CollectionPrefix == "" {
		opts.CollectionPrefix = "kb_vectors"
	}
	if opts.VectorSize == 0 {
		opts.VectorSize = 1536
	}
	if opts.Database == "" {
		opts.Database = "default"
	}

	milvusClient, err := client.NewClient(
		context.Background(),
		client.Config{
			Address:       opts.Address,
			DBName:        opts.Database,
			Username:      opts.Username,
			Password:      opts.Password,
			EnableTLSAuth: opts.UseTLS,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	return &milvusVectorStore{
		milvusClient:     milvusClient,
		collectionPrefix: opts.CollectionPrefix,
		vectorSize:       opts.VectorSize,
		distance:         formatMilvusDistance(opts.Distance),
		database:         opts.Database,
		ensured:          make(map[string]bool),
	}, nil
}

func formatMilvusDistance(value string) string {
	switch strings.ToUpper(value) {
	case "DOT", "IP", "INNER_PRODUCT":
		return "IP"
	case "L2", "EUCLIDEAN":
		return "L2"
	default:
		return "COSINE"
	}
}

func (s *milvusVectorStore) collectionName(kbID uint) string {
	return fmt.Sprintf("%s_%d", s.collectionPrefix, kbID)
}

// EnsureCollection 确保知识库对应的集合存在
func (s *milvusVectorStore) EnsureCollection(ctx context.Context, kbID uint, dimension int) error {
	name := s.collectionName(kbID)

	s.mu.Lock()
	if s.ensured[name] {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if dimension == 0 {
		dimension = s.vectorSize
	}

	hasCollection, err := s.milvusClient.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if hasCollection {
		s.mu.Lock()
		s.ensured[name] = true
		s.mu.Unlock()
		return nil
	}

	schema := &entity.Schema{
		CollectionName: name,
		Description:    fmt.Sprintf("Knowledge base %d vectors", kbID),
		Fields: []*entity.Field{
			{
				Name:       "id",
				DataType:   entity.FieldTypeInt64,
				PrimaryKey: true,
				AutoID:     false,
			},
			{
				Name:     "chunk_id",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "document_id",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "chunk_index",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "content",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "65535",
				},
			},
			{
				Name:     "metadata",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "65535",
				},
			},
			{
				Name:     "vector",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", dimension),
				},
			},
		},
	}

	if err := s.milvusClient.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	index, indexErr := newMilvusIndex(s.distance)
	if indexErr != nil {
		return fmt.Errorf("failed to create index: %w", indexErr)
	}
	if err := s.milvusClient.CreateIndex(ctx, name, "vector", index, false); err != nil {
		// 索引创建失败不影响插入，只影响检索性能
		fmt.Printf("warning: failed to create index for collection %s: %v\n", name, err)
	}

	s.mu.Lock()
	s.ensured[name] = true
	s.mu.Unlock()
	return nil
}

func newMilvusIndex(distance string) (entity.Index, error) {
	metric := entity.MetricType(distance)
	index, err := entity.NewIndexHNSW(metric, 8, 64)
	if err != nil {
		// HNSW不可用时退回IVF_FLAT
		return entity.NewIndexIvfFlat(metric, 128)
	}
	return index, nil
}

// UpsertBatch 批量写入一个文档的全部向量
func (s *milvusVectorStore) UpsertBatch(ctx context.Context, chunks []VectorChunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	kbID := chunks[0].KnowledgeBaseID
	if err := s.EnsureCollection(ctx, kbID, len(chunks[0].Embedding)); err != nil {
		return nil, err
	}

	ids := make([]int64, len(chunks))
	chunkIDs := make([]int64, len(chunks))
	documentIDs := make([]int64, len(chunks))
	chunkIndexes := make([]int64, len(chunks))
	contents := make([]string, len(chunks))
	metadatas := make([]string, len(chunks))
	vectors := make([][]float32, len(chunks))
	vectorIDs := make([]string, len(chunks))

	for i, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			return nil, fmt.Errorf("chunk %d embedding is empty", chunk.ChunkID)
		}
		ids[i] = int64(chunk.ChunkID)
		chunkIDs[i] = int64(chunk.ChunkID)
		documentIDs[i] = int64(chunk.DocumentID)
		chunkIndexes[i] = int64(chunk.ChunkIndex)
		contents[i] = chunk.Text
		metaJSON, _ := json.Marshal(chunk.Metadata)
		metadatas[i] = string(metaJSON)
		vectors[i] = padVector(chunk.Embedding, s.vectorSize)
		vectorIDs[i] = fmt.Sprintf("milvus_%d", chunk.ChunkID)
	}

	collectionName := s.collectionName(kbID)
	_, err := s.milvusClient.Insert(ctx, collectionName, "",
		entity.NewColumnInt64("id", ids),
		entity.NewColumnInt64("chunk_id", chunkIDs),
		entity.NewColumnInt64("document_id", documentIDs),
		entity.NewColumnInt64("chunk_index", chunkIndexes),
		entity.NewColumnVarChar("content", contents),
		entity.NewColumnVarChar("metadata", metadatas),
		entity.NewColumnFloatVector("vector", s.vectorSize, vectors),
	)
	if err != nil {
		return nil, fmt.Errorf("milvus insert failed: %w", err)
	}

	if err := s.milvusClient.Flush(ctx, collectionName, false); err != nil {
		fmt.Printf("warning: failed to flush collection %s: %v\n", collectionName, err)
	}

	return vectorIDs, nil
}

func padVector(vec []float32, size int) []float32 {
	if len(vec) == size {
		return vec
	}
	out := make([]float32, size)
	copy(out, vec)
	return out
}

func (s *milvusVectorStore) DeleteDocument(ctx context.Context, knowledgeBaseID uint, documentID uint) error {
	collectionName := s.collectionName(knowledgeBaseID)

	expr := fmt.Sprintf("document_id == %d", documentID)
	if err := s.milvusClient.Delete(ctx, collectionName, "", expr); err != nil {
		return fmt.Errorf("milvus delete failed: %w", err)
	}

	if err := s.milvusClient.Flush(ctx, collectionName, false); err != nil {
		fmt.Printf("warning: failed to flush after delete: %v\n", err)
	}
	return nil
}

func (s *milvusVectorStore) Search(ctx context.Context, req VectorSearchRequest) ([]SearchMatch, error) {
	if len(req.QueryEmbedding) == 0 {
		return nil, nil
	}
	if req.TopK == 0 {
		req.TopK = 10
	}

	collectionName := s.collectionName(req.KnowledgeBaseID)

	sp, _ := entity.NewIndexHNSWSearchParam(64)
	queryVector := entity.FloatVector(padVector(req.QueryEmbedding, s.vectorSize))
	searchResults, err := s.milvusClient.Search(
		ctx,
		collectionName,
		[]string{},
		"",
		[]string{"chunk_id", "document_id", "chunk_index", "content", "metadata"},
		[]entity.Vector{queryVector},
		"vector",
		entity.MetricType(s.distance),
		req.TopK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}

	if len(searchResults) == 0 {
		return []SearchMatch{}, nil
	}
	result := searchResults[0]
	if result.Err != nil {
		return nil, fmt.Errorf("milvus search error: %w", result.Err)
	}
	if result.ResultCount == 0 {
		return []SearchMatch{}, nil
	}

	var ids, chunkIDs, documentIDs, chunkIndexes []int64
	var contents, metadatas []string
	if idCol, ok := result.IDs.(*entity.ColumnInt64); ok {
		ids = idCol.Data()
	}
	for _, field := range result.Fields {
		switch field.Name() {
		case "chunk_id":
			if val, ok := field.(*entity.ColumnInt64); ok {
				chunkIDs = val.Data()
			}
		case "document_id":
			if val, ok := field.(*entity.ColumnInt64); ok {
				documentIDs = val.Data()
			}
		case "chunk_index":
			if val, ok := field.(*entity.ColumnInt64); ok {
				chunkIndexes = val.Data()
			}
		case "content":
			if val, ok := field.(*entity.ColumnVarChar); ok {
				contents = val.Data()
			}
		case "metadata":
			if val, ok := field.(*entity.ColumnVarChar); ok {
				metadatas = val.Data()
			}
		}
	}

	matches := make([]SearchMatch, 0, result.ResultCount)
	for i := 0; i < result.ResultCount; i++ {
		score := float64(0)
		if i < len(result.Scores) {
			score = float64(result.Scores[i])
		}
		if score < req.Threshold {
			continue
		}

		match := SearchMatch{
			KnowledgeBaseID: req.KnowledgeBaseID,
			Score:           score,
			Metadata:        make(map[string]interface{}),
		}
		if i < len(chunkIDs) {
			match.ChunkID = uint(chunkIDs[i])
		} else if i < len(ids) {
			match.ChunkID = uint(ids[i])
		}
		if i < len(documentIDs) {
			match.DocumentID = uint(documentIDs[i])
		}
		if i < len(chunkIndexes) {
			match.ChunkIndex = int(chunkIndexes[i])
		}
		if i < len(contents) {
			match.Content = contents[i]
		}
		if i < len(metadatas) && metadatas[i] != "" {
			_ = json.Unmarshal([]byte(metadatas[i]), &match.Metadata)
		}
		matches = append(matches, match)
	}

	return matches, nil
}

func (s *milvusVectorStore) Ready() bool {
	if s.milvusClient == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.milvusClient.ListCollections(ctx)
	return err == nil
}
