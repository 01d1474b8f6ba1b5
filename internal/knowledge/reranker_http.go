package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPReranker 调用DashScope风格的Rerank HTTP API
type HTTPReranker struct {
	client   *http.Client
	endpoint string
	apiKey   string
	model    string
}

// NewHTTPReranker 创建HTTP重排序器
func NewHTTPReranker(endpoint, apiKey, model string) Reranker {
	endpoint = strings.TrimSpace(endpoint)
	apiKey = strings.TrimSpace(apiKey)
	if endpoint == "" || apiKey == "" {
		return &NoopReranker{}
	}
	if model == "" {
		model = "gte-rerank"
	}
	return &HTTPReranker{
		client:   &http.Client{Timeout: 15 * time.Second},
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		model:    model,
	}
}

type rerankAPIRequest struct {
	Model string `json:"model"`
	Input struct {
		Query     string   `json:"query"`
		Documents []string `json:"documents"`
	} `json:"input"`
	Parameters struct {
		ReturnDocuments bool `json:"return_documents"`
		TopN            int  `json:"top_n"`
	} `json:"parameters"`
}

type rerankAPIResponse struct {
	Output struct {
		Results []struct {
			Index          int     `json:"index"`
			RelevanceScore float64 `json:"relevance_score"`
		} `json:"results"`
	} `json:"output"`
	Message string `json:"message"`
}

func (r *HTTPReranker) Rerank(ctx context.Context, query string, documents []RerankDocument) ([]RerankResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query cannot be empty")
	}
	if len(documents) == 0 {
		return nil, errors.New("documents cannot be empty")
	}

	apiReq := rerankAPIRequest{Model: r.model}
	apiReq.Input.Query = query
	apiReq.Input.Documents = make([]string, len(documents))
	for i, doc := range documents {
		apiReq.Input.Documents[i] = doc.Content
	}
	apiReq.Parameters.TopN = len(documents)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank api status %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp rerankAPIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	if len(apiResp.Output.Results) == 0 {
		return nil, errors.New("rerank response empty")
	}

	// 按返回顺序构建结果，重排序器未返回的候选被丢弃
	results := make([]RerankResult, 0, len(apiResp.Output.Results))
	for rank, item := range apiResp.Output.Results {
		if item.Index < 0 || item.Index >= len(documents) {
			continue
		}
		results = append(results, RerankResult{
			Document: documents[item.Index],
			Score:    item.RelevanceScore,
			Rank:     rank + 1,
		})
	}
	return results, nil
}

func (r *HTTPReranker) Ready() bool {
	return r.client != nil && r.endpoint != "" && r.apiKey != ""
}
