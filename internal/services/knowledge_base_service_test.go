package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aihub/knowledge-go/internal/errors"
	"github.com/aihub/knowledge-go/internal/models"
	"github.com/aihub/knowledge-go/internal/repository"
)

func newKBService() (*KnowledgeBaseService, *repository.MemoryStore) {
	store := repository.NewMemoryStore()
	return NewKnowledgeBaseService(store), store
}

// TestCreateKnowledgeBaseDefaults 省略的配置项落默认值
func TestCreateKnowledgeBaseDefaults(t *testing.T) {
	svc, _ := newKBService()

	kb, err := svc.CreateKnowledgeBase(context.Background(), 1, CreateKnowledgeBaseRequest{Name: "运维手册"})
	require.NoError(t, err)

	assert.NotZero(t, kb.KnowledgeBaseID)
	assert.Equal(t, uint(1), kb.OwnerID)
	assert.Equal(t, models.KnowledgeBaseTypeText, kb.Type)
	assert.Equal(t, 1000, kb.ChunkSize)
	assert.Equal(t, 200, kb.ChunkOverlap)
	assert.Equal(t, 1000, kb.MaxDocuments)
	assert.Equal(t, int64(100*1024*1024), kb.MaxSizeBytes)
	assert.InDelta(t, 0.7, kb.SearchThreshold, 1e-9)
	assert.Equal(t, "active", kb.Status)
}

// TestCreateKnowledgeBaseValidation 名称必填，类型受限
func TestCreateKnowledgeBaseValidation(t *testing.T) {
	svc, _ := newKBService()
	ctx := context.Background()

	_, err := svc.CreateKnowledgeBase(ctx, 1, CreateKnowledgeBaseRequest{})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailed))

	_, err = svc.CreateKnowledgeBase(ctx, 1, CreateKnowledgeBaseRequest{Name: "x", Type: "graph"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailed))
}

// TestCreateKnowledgeBaseChunkSettings 重叠必须小于块大小
func TestCreateKnowledgeBaseChunkSettings(t *testing.T) {
	svc, _ := newKBService()

	_, err := svc.CreateKnowledgeBase(context.Background(), 1, CreateKnowledgeBaseRequest{
		Name:         "bad chunks",
		ChunkSize:    500,
		ChunkOverlap: 500,
	})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailed))
}

// TestGetKnowledgeBasePermissions 读权限矩阵
func TestGetKnowledgeBasePermissions(t *testing.T) {
	svc, _ := newKBService()
	ctx := context.Background()

	kb, err := svc.CreateKnowledgeBase(ctx, 1, CreateKnowledgeBaseRequest{
		Name:      "private kb",
		ReaderIDs: []uint{2},
		WriterIDs: []uint{3},
	})
	require.NoError(t, err)

	// 所有者、读者、写者可读
	for _, userID := range []uint{1, 2, 3} {
		_, err := svc.GetKnowledgeBase(ctx, kb.KnowledgeBaseID, userID)
		assert.NoError(t, err, "用户 %d 应当可读", userID)
	}

	// 其他用户不可读
	_, err = svc.GetKnowledgeBase(ctx, kb.KnowledgeBaseID, 9)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodePermissionDenied))
}

// TestGetKnowledgeBasePublic 公开知识库任何人可读
func TestGetKnowledgeBasePublic(t *testing.T) {
	svc, _ := newKBService()
	ctx := context.Background()

	kb, err := svc.CreateKnowledgeBase(ctx, 1, CreateKnowledgeBaseRequest{Name: "public kb", IsPublic: true})
	require.NoError(t, err)

	_, err = svc.GetKnowledgeBase(ctx, kb.KnowledgeBaseID, 42)
	assert.NoError(t, err)
}

// TestGetKnowledgeBaseNotFound 不存在的知识库
func TestGetKnowledgeBaseNotFound(t *testing.T) {
	svc, _ := newKBService()

	_, err := svc.GetKnowledgeBase(context.Background(), 999, 1)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeKnowledgeBaseNotFound))
}

// TestListKnowledgeBases 分页与搜索过滤
func TestListKnowledgeBases(t *testing.T) {
	svc, _ := newKBService()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.CreateKnowledgeBase(ctx, 1, CreateKnowledgeBaseRequest{Name: fmt.Sprintf("kb-%d", i)})
		require.NoError(t, err)
	}
	// 其他用户的私有知识库不可见
	_, err := svc.CreateKnowledgeBase(ctx, 2, CreateKnowledgeBaseRequest{Name: "other user"})
	require.NoError(t, err)

	kbs, total, err := svc.ListKnowledgeBases(ctx, 1, 1, 3, "")
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, kbs, 3)

	kbs, total, err = svc.ListKnowledgeBases(ctx, 1, 2, 3, "")
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, kbs, 2)

	kbs, total, err = svc.ListKnowledgeBases(ctx, 1, 1, 10, "kb-3")
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, kbs, 1)
	assert.Equal(t, "kb-3", kbs[0].Name)
}

// TestUpdateKnowledgeBase 写者可改常规字段，权限集仅所有者可改
func TestUpdateKnowledgeBase(t *testing.T) {
	svc, _ := newKBService()
	ctx := context.Background()

	kb, err := svc.CreateKnowledgeBase(ctx, 1, CreateKnowledgeBaseRequest{
		Name:      "update target",
		WriterIDs: []uint{2},
	})
	require.NoError(t, err)

	name := "renamed"
	updated, err := svc.UpdateKnowledgeBase(ctx, kb.KnowledgeBaseID, 2, UpdateKnowledgeBaseRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)

	// 写者不能改权限集
	public := true
	_, err = svc.UpdateKnowledgeBase(ctx, kb.KnowledgeBaseID, 2, UpdateKnowledgeBaseRequest{IsPublic: &public})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodePermissionDenied))

	// 所有者可以
	updated, err = svc.UpdateKnowledgeBase(ctx, kb.KnowledgeBaseID, 1, UpdateKnowledgeBaseRequest{IsPublic: &public})
	require.NoError(t, err)
	assert.True(t, updated.IsPublic)

	// 非写者拒绝
	_, err = svc.UpdateKnowledgeBase(ctx, kb.KnowledgeBaseID, 9, UpdateKnowledgeBaseRequest{Name: &name})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodePermissionDenied))
}

// TestDeleteKnowledgeBaseOwnerOnly 删除仅限所有者
func TestDeleteKnowledgeBaseOwnerOnly(t *testing.T) {
	svc, _ := newKBService()
	ctx := context.Background()

	kb, err := svc.CreateKnowledgeBase(ctx, 1, CreateKnowledgeBaseRequest{
		Name:      "delete target",
		WriterIDs: []uint{2},
	})
	require.NoError(t, err)

	err = svc.DeleteKnowledgeBase(ctx, kb.KnowledgeBaseID, 2)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodePermissionDenied))

	require.NoError(t, svc.DeleteKnowledgeBase(ctx, kb.KnowledgeBaseID, 1))
	_, err = svc.GetKnowledgeBase(ctx, kb.KnowledgeBaseID, 1)
	assert.True(t, errors.HasCode(err, errors.ErrCodeKnowledgeBaseNotFound))
}

// TestListReadableIDs 返回可读知识库ID与各自阈值
func TestListReadableIDs(t *testing.T) {
	svc, _ := newKBService()
	ctx := context.Background()

	threshold := 0.9
	kb1, err := svc.CreateKnowledgeBase(ctx, 1, CreateKnowledgeBaseRequest{Name: "mine", SearchThreshold: &threshold})
	require.NoError(t, err)
	_, err = svc.CreateKnowledgeBase(ctx, 2, CreateKnowledgeBaseRequest{Name: "not mine"})
	require.NoError(t, err)
	kb3, err := svc.CreateKnowledgeBase(ctx, 2, CreateKnowledgeBaseRequest{Name: "shared", ReaderIDs: []uint{1}})
	require.NoError(t, err)

	ids, thresholds, err := svc.ListReadableIDs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, []uint{kb1.KnowledgeBaseID, kb3.KnowledgeBaseID}, ids)
	assert.InDelta(t, 0.9, thresholds[0], 1e-9)
	assert.InDelta(t, 0.7, thresholds[1], 1e-9)
}

// TestGetStats 统计快照来自知识库行
func TestGetStats(t *testing.T) {
	svc, store := newKBService()
	ctx := context.Background()

	kb, err := svc.CreateKnowledgeBase(ctx, 1, CreateKnowledgeBaseRequest{Name: "stats kb"})
	require.NoError(t, err)

	require.NoError(t, store.KnowledgeBases().Update(ctx, kb.KnowledgeBaseID, map[string]interface{}{
		"document_count":        3,
		"chunk_count":           12,
		"embedding_count":       12,
		"total_size_bytes":      int64(4096),
		"type_distribution":     `{"text":2,"pdf":1}`,
		"language_distribution": `{"en":3}`,
	}))

	stats, err := svc.GetStats(ctx, kb.KnowledgeBaseID, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.DocumentCount)
	assert.Equal(t, 12, stats.ChunkCount)
	assert.Equal(t, 12, stats.EmbeddingCount)
	assert.Equal(t, int64(4096), stats.TotalSizeBytes)
	assert.Equal(t, map[string]int{"text": 2, "pdf": 1}, stats.TypeDistribution)
	assert.Equal(t, map[string]int{"en": 3}, stats.LanguageDistribution)
}

// TestGetKnowledgeGraph 图谱视图要求读权限
func TestGetKnowledgeGraph(t *testing.T) {
	svc, store := newKBService()
	ctx := context.Background()

	kb, err := svc.CreateKnowledgeBase(ctx, 1, CreateKnowledgeBaseRequest{Name: "graph kb"})
	require.NoError(t, err)

	require.NoError(t, store.Graph().ReplaceForDocument(ctx, kb.KnowledgeBaseID, 1,
		[]*models.KnowledgeGraphNode{
			{KnowledgeBaseID: kb.KnowledgeBaseID, DocumentID: 1, Name: "Redis", Type: "concept"},
			{KnowledgeBaseID: kb.KnowledgeBaseID, DocumentID: 1, Name: "Cluster", Type: "concept"},
		},
		[]*models.KnowledgeGraphEdge{
			{KnowledgeBaseID: kb.KnowledgeBaseID, DocumentID: 1, SourceName: "Redis", TargetName: "Cluster", Relation: "co-occurrence"},
		}))

	graph, err := svc.GetKnowledgeGraph(ctx, kb.KnowledgeBaseID, 1, 0)
	require.NoError(t, err)
	assert.Len(t, graph.Nodes, 2)
	assert.Len(t, graph.Edges, 1)

	_, err = svc.GetKnowledgeGraph(ctx, kb.KnowledgeBaseID, 9, 0)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodePermissionDenied))
}
