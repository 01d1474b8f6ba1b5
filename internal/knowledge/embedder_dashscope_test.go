package knowledge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDashScopeEmbedderEmbed 正常响应解析为float32向量
func TestDashScopeEmbedderEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req dashScopeEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"hello world"}, req.Input)

		json.NewEncoder(w).Encode(dashScopeEmbeddingResponse{
			Data: []struct {
				Embedding []float64 `json:"embedding"`
				Index     int       `json:"index"`
			}{{Embedding: []float64{0.1, 0.2, 0.3}, Index: 0}},
			Model: req.Model,
		})
	}))
	defer server.Close()

	e := &DashScopeEmbedder{
		apiKey:  "test-key",
		baseURL: server.URL,
		model:   "text-embedding-v3",
		client:  &http.Client{Timeout: 5 * time.Second},
	}

	vec, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

// TestDashScopeEmbedderAPIError 接口错误返回带错误码的error
func TestDashScopeEmbedderAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(dashScopeError{Code: "Throttling", Message: "rate limit exceeded"})
	}))
	defer server.Close()

	e := &DashScopeEmbedder{
		apiKey:  "test-key",
		baseURL: server.URL,
		model:   "text-embedding-v3",
		client:  &http.Client{Timeout: 5 * time.Second},
	}

	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Throttling")
}

// TestDashScopeEmbedderEmptyText 空文本直接拒绝，不发起请求
func TestDashScopeEmbedderEmptyText(t *testing.T) {
	e := &DashScopeEmbedder{apiKey: "k", baseURL: "http://invalid", client: http.DefaultClient}
	_, err := e.Embed(context.Background(), "   ")
	assert.Error(t, err)
}

// TestNewDashScopeEmbedderNoKey 无API key回退到Noop实现
func TestNewDashScopeEmbedderNoKey(t *testing.T) {
	e := NewDashScopeEmbedder("", "text-embedding-v3")
	assert.False(t, e.Ready())

	ready := NewDashScopeEmbedder("key", "")
	assert.True(t, ready.Ready())
	assert.Equal(t, 1024, ready.Dimensions())
}
