package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aihub/knowledge-go/internal/config"
)

// TestMemoryStorageRoundTrip 上传后可下载，删除后不可见
func TestMemoryStorageRoundTrip(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()
	content := "raw document payload"

	require.NoError(t, store.Upload(ctx, "kb_1/doc_2/file.txt", strings.NewReader(content), int64(len(content)), "text/plain"))
	assert.True(t, store.Ready())

	reader, err := store.Download(ctx, "kb_1/doc_2/file.txt")
	require.NoError(t, err)
	defer reader.Close()
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))

	require.NoError(t, store.Delete(ctx, "kb_1/doc_2/file.txt"))
	_, err = store.Download(ctx, "kb_1/doc_2/file.txt")
	assert.Error(t, err)
}

// TestMemoryStorageMissingObject 不存在的对象返回错误
func TestMemoryStorageMissingObject(t *testing.T) {
	store := NewMemoryStorage()
	_, err := store.Download(context.Background(), "missing")
	assert.Error(t, err)
}

// TestNewMinIOStorageRejectsProvider 非minio/s3的配置直接拒绝
func TestNewMinIOStorageRejectsProvider(t *testing.T) {
	_, err := NewMinIOStorage(config.ObjectStorageConfig{Provider: "local"})
	assert.Error(t, err)

	_, err = NewMinIOStorage(config.ObjectStorageConfig{Provider: "minio"})
	assert.Error(t, err, "缺少endpoint应当报错")
}

// TestMinIOStorageReadyNil 空实例不可用
func TestMinIOStorageReadyNil(t *testing.T) {
	var s *MinIOStorage
	assert.False(t, s.Ready())
}
