package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aihub/knowledge-go/internal/logger"
)

// 检索模式
const (
	SearchModeSemantic = "semantic"
	SearchModeKeyword  = "keyword"
	SearchModeHybrid   = "hybrid"
)

// 结果命中类型
const (
	MatchTypeSemantic = "semantic"
	MatchTypeKeyword  = "keyword"
	MatchTypeHybrid   = "hybrid"
)

// SearchFilters 元数据过滤条件
type SearchFilters struct {
	DocumentTypes      []string   `json:"document_types,omitempty"`
	Tags               []string   `json:"tags,omitempty"`
	Language           string     `json:"language,omitempty"`
	CreatedAfter       *time.Time `json:"created_after,omitempty"`
	CreatedBefore      *time.Time `json:"created_before,omitempty"`
	ExcludeDocumentIDs []uint     `json:"exclude_document_ids,omitempty"`
}

// SearchScope 一个在检索范围内的知识库及其自身阈值
type SearchScope struct {
	KnowledgeBaseID uint    `json:"knowledge_base_id"`
	Threshold       float64 `json:"threshold"`
}

// SearchRequest 混合检索请求。Scopes由上层按权限解析后传入
type SearchRequest struct {
	Query             string        `json:"query"`
	Scopes            []SearchScope `json:"scopes"`
	ExplicitScope     bool          `json:"explicit_scope"` // 调用方显式指定了第一个知识库
	Mode              string        `json:"mode"`           // semantic | keyword | hybrid
	Threshold         float64       `json:"threshold"`
	MinRelevanceScore float64       `json:"min_relevance_score"`
	MaxResults        int           `json:"max_results"`
	Offset            int           `json:"offset"`
	Filters           SearchFilters `json:"filters"`
	EnableRerank      bool          `json:"enable_rerank"`
}

// Fingerprint 计算规范化请求的稳定缓存键
func (r *SearchRequest) Fingerprint() string {
	normalized := *r
	normalized.Query = strings.TrimSpace(strings.ToLower(r.Query))

	scopes := make([]SearchScope, len(r.Scopes))
	copy(scopes, r.Scopes)
	sort.Slice(scopes, func(i, j int) bool { return scopes[i].KnowledgeBaseID < scopes[j].KnowledgeBaseID })
	normalized.Scopes = scopes

	types := append([]string(nil), r.Filters.DocumentTypes...)
	sort.Strings(types)
	tags := append([]string(nil), r.Filters.Tags...)
	sort.Strings(tags)
	excluded := append([]uint(nil), r.Filters.ExcludeDocumentIDs...)
	sort.Slice(excluded, func(i, j int) bool { return excluded[i] < excluded[j] })
	normalized.Filters.DocumentTypes = types
	normalized.Filters.Tags = tags
	normalized.Filters.ExcludeDocumentIDs = excluded

	payload, _ := json.Marshal(normalized)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// SearchResult 单条检索结果
type SearchResult struct {
	DocumentID      uint                   `json:"document_id"`
	ChunkID         uint                   `json:"chunk_id"`
	KnowledgeBaseID uint                   `json:"knowledge_base_id"`
	ChunkIndex      int                    `json:"chunk_index"`
	Title           string                 `json:"title,omitempty"`
	Content         string                 `json:"content"`
	Snippet         string                 `json:"snippet,omitempty"`
	Highlight       string                 `json:"highlight,omitempty"`
	Score           float64                `json:"score"`
	MatchType       string                 `json:"match_type"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt       time.Time              `json:"created_at,omitempty"`
}

// SearchResponse 检索响应
type SearchResponse struct {
	Results    []SearchResult `json:"results"`
	TotalCount int            `json:"total_count"`
	Query      string         `json:"query"`
	FromCache  bool           `json:"from_cache"`
	TookMillis int64          `json:"took_millis"`
}

// HybridSearchEngine 组合语义检索与关键词检索
type HybridSearchEngine struct {
	indexer     FulltextIndexer
	vectorStore VectorStore
	embedder    Embedder
	reranker    Reranker
	cache       *SearchCache
	maxTopK     int
}

func NewHybridSearchEngine(indexer FulltextIndexer, vectorStore VectorStore, embedder Embedder, reranker Reranker, cache *SearchCache) *HybridSearchEngine {
	if cache == nil {
		cache = NewSearchCache(256, 5*time.Minute)
	}
	return &HybridSearchEngine{
		indexer:     indexer,
		vectorStore: vectorStore,
		embedder:    embedder,
		reranker:    reranker,
		cache:       cache,
		maxTopK:     100,
	}
}

// Cache 暴露内部缓存，供周期清理任务使用
func (e *HybridSearchEngine) Cache() *SearchCache {
	return e.cache
}

// SetReranker 设置重排序器
func (e *HybridSearchEngine) SetReranker(reranker Reranker) {
	e.reranker = reranker
}

// HasReranker 检查是否有可用的重排序器
func (e *HybridSearchEngine) HasReranker() bool {
	return e.reranker != nil && e.reranker.Ready()
}

func (e *HybridSearchEngine) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, errors.New("query cannot be empty")
	}

	if req.Mode == "" {
		req.Mode = SearchModeHybrid
	}
	if req.MaxResults <= 0 {
		req.MaxResults = 10
	}
	if req.MaxResults > e.maxTopK {
		req.MaxResults = e.maxTopK
	}
	if req.Offset < 0 {
		req.Offset = 0
	}
	if req.MinRelevanceScore == 0 {
		req.MinRelevanceScore = 0.3
	}

	start := time.Now()

	cacheKey := req.Fingerprint()
	if cached, ok := e.cache.Get(cacheKey); ok {
		hit := *cached
		hit.FromCache = true
		return &hit, nil
	}

	// 范围为空不是错误，返回空结果
	if len(req.Scopes) == 0 {
		resp := &SearchResponse{
			Results:    []SearchResult{},
			TotalCount: 0,
			Query:      req.Query,
			TookMillis: time.Since(start).Milliseconds(),
		}
		e.cache.Put(cacheKey, resp)
		return resp, nil
	}

	queryTokens := distinctTokens(TokenizeQuery(req.Query))
	candidateLimit := (req.Offset + req.MaxResults) * 2
	if candidateLimit < 20 {
		candidateLimit = 20
	}

	var (
		semanticMatches []SearchMatch
		keywordMatches  []SearchMatch
		firstSemErr     error
		firstKwErr      error
	)

	runSemantic := req.Mode != SearchModeKeyword &&
		e.vectorStore != nil && e.vectorStore.Ready() &&
		e.embedder != nil && e.embedder.Ready()
	runKeyword := req.Mode != SearchModeSemantic &&
		e.indexer != nil && e.indexer.Ready()

	if req.Mode == SearchModeSemantic && !runSemantic {
		return nil, errors.New("semantic search is not available")
	}

	if runSemantic {
		embedding, err := e.embedder.Embed(ctx, req.Query)
		if err != nil {
			if req.Mode == SearchModeSemantic || !runKeyword {
				return nil, err
			}
			logger.Warn("查询向量化失败，降级为关键词检索", zap.Error(err))
			runSemantic = false
		} else {
			for i, scope := range req.Scopes {
				threshold := req.Threshold
				if scope.Threshold > threshold {
					threshold = scope.Threshold
				}
				matches, err := e.vectorStore.Search(ctx, VectorSearchRequest{
					KnowledgeBaseID: scope.KnowledgeBaseID,
					QueryEmbedding:  embedding,
					TopK:            candidateLimit,
					CandidateLimit:  candidateLimit * 10,
					Threshold:       threshold,
				})
				if err != nil {
					// 单个知识库失败不影响整体检索
					logger.Warn("向量检索失败",
						zap.Uint("knowledge_base_id", scope.KnowledgeBaseID),
						zap.Error(err))
					if i == 0 {
						firstSemErr = err
					}
					continue
				}
				semanticMatches = append(semanticMatches, matches...)
			}
		}
	}

	if runKeyword {
		for i, scope := range req.Scopes {
			candidates, err := e.indexer.Search(ctx, FulltextSearchRequest{
				KnowledgeBaseID: scope.KnowledgeBaseID,
				Query:           req.Query,
				Limit:           candidateLimit,
			})
			if err != nil {
				logger.Warn("关键词检索失败",
					zap.Uint("knowledge_base_id", scope.KnowledgeBaseID),
					zap.Error(err))
				if i == 0 {
					firstKwErr = err
				}
				continue
			}
			// 候选结果重新按确定性公式打分
			for _, candidate := range candidates {
				score := KeywordScore(candidate.Content, queryTokens)
				if score < req.MinRelevanceScore {
					continue
				}
				candidate.Score = score
				keywordMatches = append(keywordMatches, candidate)
			}
		}
	}

	// 显式指定的首个知识库完全不可达时才算硬错误
	if req.ExplicitScope && e.firstScopeUnreachable(req.Mode, runSemantic, runKeyword, firstSemErr, firstKwErr) {
		if firstSemErr != nil {
			return nil, firstSemErr
		}
		return nil, firstKwErr
	}

	merged := e.merge(req.Mode, semanticMatches, keywordMatches)
	filtered := applyFilters(merged, req.Filters)

	lowerQuery := strings.ToLower(req.Query)
	for i := range filtered {
		filtered[i].Score *= boostFactor(&filtered[i], lowerQuery, queryTokens, time.Now())
	}

	sortResults(filtered)

	totalCount := len(filtered)
	page := paginate(filtered, req.Offset, req.MaxResults)

	if req.EnableRerank && e.HasReranker() {
		page = e.rerank(ctx, req.Query, page)
	}

	for i := range page {
		page[i].Snippet = BuildSnippet(page[i].Content, queryTokens, 200)
	}

	resp := &SearchResponse{
		Results:    page,
		TotalCount: totalCount,
		Query:      req.Query,
		TookMillis: time.Since(start).Milliseconds(),
	}
	e.cache.Put(cacheKey, resp)
	return resp, nil
}

func (e *HybridSearchEngine) firstScopeUnreachable(mode string, ranSemantic, ranKeyword bool, semErr, kwErr error) bool {
	switch mode {
	case SearchModeSemantic:
		return semErr != nil
	case SearchModeKeyword:
		return kwErr != nil
	default:
		semFailed := !ranSemantic || semErr != nil
		kwFailed := !ranKeyword || kwErr != nil
		return semFailed && kwFailed && (semErr != nil || kwErr != nil)
	}
}

type mergeKey struct {
	documentID uint
	chunkID    uint
}

// merge 按(文档ID, 分块ID)合并两路候选，重合时取较高分
func (e *HybridSearchEngine) merge(mode string, semantic, keyword []SearchMatch) []SearchResult {
	combined := make(map[mergeKey]*SearchResult)

	for _, match := range semantic {
		key := mergeKey{match.DocumentID, match.ChunkID}
		combined[key] = matchToResult(match, MatchTypeSemantic)
	}

	if mode != SearchModeSemantic {
		for _, match := range keyword {
			key := mergeKey{match.DocumentID, match.ChunkID}
			if existing, ok := combined[key]; ok {
				if match.Score > existing.Score {
					existing.Score = match.Score
				}
				if existing.Highlight == "" {
					existing.Highlight = match.Highlight
				}
				existing.MatchType = MatchTypeHybrid
				continue
			}
			combined[key] = matchToResult(match, MatchTypeKeyword)
		}
	}

	results := make([]SearchResult, 0, len(combined))
	for _, result := range combined {
		results = append(results, *result)
	}
	return results
}

func matchToResult(match SearchMatch, matchType string) *SearchResult {
	result := &SearchResult{
		DocumentID:      match.DocumentID,
		ChunkID:         match.ChunkID,
		KnowledgeBaseID: match.KnowledgeBaseID,
		ChunkIndex:      match.ChunkIndex,
		Content:         match.Content,
		Highlight:       match.Highlight,
		Score:           match.Score,
		MatchType:       matchType,
		Metadata:        match.Metadata,
	}
	result.Title = metaString(match.Metadata, "title")
	result.CreatedAt = metaTime(match.Metadata, "created_at")
	return result
}

func applyFilters(results []SearchResult, filters SearchFilters) []SearchResult {
	out := results[:0]
	for _, result := range results {
		if len(filters.ExcludeDocumentIDs) > 0 && containsUint(filters.ExcludeDocumentIDs, result.DocumentID) {
			continue
		}
		if len(filters.DocumentTypes) > 0 {
			docType := metaString(result.Metadata, "document_type")
			if !containsString(filters.DocumentTypes, docType) {
				continue
			}
		}
		if filters.Language != "" {
			if metaString(result.Metadata, "language") != filters.Language {
				continue
			}
		}
		if len(filters.Tags) > 0 {
			tags := metaTags(result.Metadata)
			if !tagsIntersect(tags, filters.Tags) {
				continue
			}
		}
		if filters.CreatedAfter != nil || filters.CreatedBefore != nil {
			createdAt := result.CreatedAt
			if createdAt.IsZero() {
				continue
			}
			if filters.CreatedAfter != nil && createdAt.Before(*filters.CreatedAfter) {
				continue
			}
			if filters.CreatedBefore != nil && createdAt.After(*filters.CreatedBefore) {
				continue
			}
		}
		out = append(out, result)
	}
	return out
}

// boostFactor 计算有界的相关性加权系数，上限2.0
func boostFactor(result *SearchResult, lowerQuery string, queryTokens []string, now time.Time) float64 {
	factor := 1.0

	if !result.CreatedAt.IsZero() && now.Sub(result.CreatedAt) <= 7*24*time.Hour {
		factor += 0.1
	}

	for _, tag := range metaTags(result.Metadata) {
		lowerTag := strings.ToLower(tag)
		for _, token := range queryTokens {
			if lowerTag == token {
				factor += 0.05
				break
			}
		}
	}

	if result.Title != "" {
		lowerTitle := strings.ToLower(result.Title)
		if strings.Contains(lowerQuery, lowerTitle) || strings.Contains(lowerTitle, lowerQuery) {
			factor += 0.2
		}
	}

	if factor > 2.0 {
		factor = 2.0
	}
	return factor
}

// sortResults 按加权分降序，同分时新文档优先
func sortResults(results []SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.After(results[j].CreatedAt)
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}

func paginate(results []SearchResult, offset, limit int) []SearchResult {
	if offset >= len(results) {
		return []SearchResult{}
	}
	end := offset + limit
	if end > len(results) {
		end = len(results)
	}
	page := make([]SearchResult, end-offset)
	copy(page, results[offset:end])
	return page
}

// rerank 对分页窗口做重排序，严格按照返回顺序，未返回的候选丢弃
func (e *HybridSearchEngine) rerank(ctx context.Context, query string, page []SearchResult) []SearchResult {
	if len(page) < 2 {
		return page
	}

	docs := make([]RerankDocument, len(page))
	for i, result := range page {
		docs[i] = RerankDocument{
			ID:      result.ChunkID,
			Content: result.Content,
			Score:   result.Score,
		}
	}

	ranked, err := e.reranker.Rerank(ctx, query, docs)
	if err != nil || len(ranked) == 0 {
		logger.Warn("重排序失败，保留原始顺序", zap.Error(err))
		return page
	}

	byChunk := make(map[uint]*SearchResult, len(page))
	for i := range page {
		byChunk[page[i].ChunkID] = &page[i]
	}

	reranked := make([]SearchResult, 0, len(ranked))
	for _, item := range ranked {
		if result, ok := byChunk[item.Document.ID]; ok {
			result.Score = item.Score
			reranked = append(reranked, *result)
		}
	}
	return reranked
}

// BuildSnippet 在分块文本里找到包含最多不同查询词的200字符窗口
func BuildSnippet(content string, queryTokens []string, window int) string {
	if window <= 0 {
		window = 200
	}
	runes := []rune(content)
	if len(runes) <= window {
		return content
	}
	if len(queryTokens) == 0 {
		return string(runes[:window])
	}

	// 收集每个词条的全部命中区间，窗口锚定在命中起点即可覆盖最优解
	folded := foldRunes(content)
	type occurrence struct {
		token int
		start int
		end   int
	}
	var occurrences []occurrence
	for ti, token := range queryTokens {
		needle := []rune(token)
		if len(needle) == 0 || len(needle) > window {
			continue
		}
		for i := 0; i+len(needle) <= len(folded); i++ {
			match := true
			for j, r := range needle {
				if folded[i+j] != r {
					match = false
					break
				}
			}
			if match {
				occurrences = append(occurrences, occurrence{token: ti, start: i, end: i + len(needle)})
			}
		}
	}
	if len(occurrences) == 0 {
		return string(runes[:window])
	}

	maxStart := len(runes) - window
	bestStart := -1
	bestCount := -1
	tried := make(map[int]bool, len(occurrences))
	for _, occ := range occurrences {
		start := occ.start
		if start > maxStart {
			start = maxStart
		}
		if tried[start] {
			continue
		}
		tried[start] = true

		covered := make(map[int]bool)
		for _, other := range occurrences {
			if other.start >= start && other.end <= start+window {
				covered[other.token] = true
			}
		}
		// 同分取最靠前的窗口，保证确定性
		if len(covered) > bestCount || (len(covered) == bestCount && start < bestStart) {
			bestCount = len(covered)
			bestStart = start
		}
	}

	return string(runes[bestStart : bestStart+window])
}

func metaString(metadata map[string]interface{}, key string) string {
	if metadata == nil {
		return ""
	}
	if val, ok := metadata[key].(string); ok {
		return val
	}
	return ""
}

func metaTime(metadata map[string]interface{}, key string) time.Time {
	if metadata == nil {
		return time.Time{}
	}
	switch val := metadata[key].(type) {
	case time.Time:
		return val
	case string:
		if parsed, err := time.Parse(time.RFC3339, val); err == nil {
			return parsed
		}
	case float64:
		return time.Unix(int64(val), 0)
	}
	return time.Time{}
}

func metaTags(metadata map[string]interface{}) []string {
	if metadata == nil {
		return nil
	}
	switch val := metadata["tags"].(type) {
	case []string:
		return val
	case []interface{}:
		tags := make([]string, 0, len(val))
		for _, item := range val {
			if tag, ok := item.(string); ok {
				tags = append(tags, tag)
			}
		}
		return tags
	}
	return nil
}

func tagsIntersect(tags, wanted []string) bool {
	for _, tag := range tags {
		for _, want := range wanted {
			if strings.EqualFold(tag, want) {
				return true
			}
		}
	}
	return false
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

func containsUint(list []uint, value uint) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
