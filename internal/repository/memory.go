package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aihub/knowledge-go/internal/models"
)

// MemoryStore 进程内仓库实现，仅用于测试
type MemoryStore struct {
	mu sync.Mutex

	nextID         uint
	knowledgeBases map[uint]models.KnowledgeBase
	documents      map[uint]models.KnowledgeDocument
	chunks         map[uint]models.KnowledgeChunk
	jobs           map[uint]models.IndexingJob
	graphNodes     map[uint]models.KnowledgeGraphNode
	graphEdges     map[uint]models.KnowledgeGraphEdge
	searches       []models.KnowledgeSearch
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:         1,
		knowledgeBases: make(map[uint]models.KnowledgeBase),
		documents:      make(map[uint]models.KnowledgeDocument),
		chunks:         make(map[uint]models.KnowledgeChunk),
		jobs:           make(map[uint]models.IndexingJob),
		graphNodes:     make(map[uint]models.KnowledgeGraphNode),
		graphEdges:     make(map[uint]models.KnowledgeGraphEdge),
	}
}

func (s *MemoryStore) allocID() uint {
	id := s.nextID
	s.nextID++
	return id
}

func (s *MemoryStore) KnowledgeBases() KnowledgeBaseRepository { return &memoryKBRepo{s} }
func (s *MemoryStore) Documents() DocumentRepository           { return &memoryDocRepo{s} }
func (s *MemoryStore) Chunks() ChunkRepository                 { return &memoryChunkRepo{s} }
func (s *MemoryStore) Jobs() JobRepository                     { return &memoryJobRepo{s} }
func (s *MemoryStore) Graph() GraphRepository                  { return &memoryGraphRepo{s} }
func (s *MemoryStore) SearchLogs() SearchLogRepository         { return &memorySearchLogRepo{s} }

// WithTransaction 记录进入前的快照，fn出错时整体恢复
func (s *MemoryStore) WithTransaction(ctx context.Context, fn func(Store) error) error {
	s.mu.Lock()
	snapshot := s.snapshot()
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.restore(snapshot)
		s.mu.Unlock()
		return err
	}
	return nil
}

type memorySnapshot struct {
	nextID         uint
	knowledgeBases map[uint]models.KnowledgeBase
	documents      map[uint]models.KnowledgeDocument
	chunks         map[uint]models.KnowledgeChunk
	jobs           map[uint]models.IndexingJob
	graphNodes     map[uint]models.KnowledgeGraphNode
	graphEdges     map[uint]models.KnowledgeGraphEdge
	searchCount    int
}

func (s *MemoryStore) snapshot() memorySnapshot {
	snap := memorySnapshot{
		nextID:         s.nextID,
		knowledgeBases: make(map[uint]models.KnowledgeBase, len(s.knowledgeBases)),
		documents:      make(map[uint]models.KnowledgeDocument, len(s.documents)),
		chunks:         make(map[uint]models.KnowledgeChunk, len(s.chunks)),
		jobs:           make(map[uint]models.IndexingJob, len(s.jobs)),
		graphNodes:     make(map[uint]models.KnowledgeGraphNode, len(s.graphNodes)),
		graphEdges:     make(map[uint]models.KnowledgeGraphEdge, len(s.graphEdges)),
		searchCount:    len(s.searches),
	}
	for k, v := range s.knowledgeBases {
		snap.knowledgeBases[k] = v
	}
	for k, v := range s.documents {
		snap.documents[k] = v
	}
	for k, v := range s.chunks {
		snap.chunks[k] = v
	}
	for k, v := range s.jobs {
		snap.jobs[k] = v
	}
	for k, v := range s.graphNodes {
		snap.graphNodes[k] = v
	}
	for k, v := range s.graphEdges {
		snap.graphEdges[k] = v
	}
	return snap
}

func (s *MemoryStore) restore(snap memorySnapshot) {
	s.nextID = snap.nextID
	s.knowledgeBases = snap.knowledgeBases
	s.documents = snap.documents
	s.chunks = snap.chunks
	s.jobs = snap.jobs
	s.graphNodes = snap.graphNodes
	s.graphEdges = snap.graphEdges
	if len(s.searches) > snap.searchCount {
		s.searches = s.searches[:snap.searchCount]
	}
}

// SearchLogCount 已写入的搜索记录数，供测试断言使用
func (s *MemoryStore) SearchLogCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.searches)
}

type memoryKBRepo struct{ s *MemoryStore }

func (r *memoryKBRepo) Create(ctx context.Context, kb *models.KnowledgeBase) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if kb.KnowledgeBaseID == 0 {
		kb.KnowledgeBaseID = r.s.allocID()
	}
	if kb.CreateTime.IsZero() {
		kb.CreateTime = time.Now()
	}
	r.s.knowledgeBases[kb.KnowledgeBaseID] = *kb
	return nil
}

func (r *memoryKBRepo) GetByID(ctx context.Context, id uint) (*models.KnowledgeBase, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	kb, ok := r.s.knowledgeBases[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &kb, nil
}

func (r *memoryKBRepo) List(ctx context.Context, filter KnowledgeBaseListFilter) ([]models.KnowledgeBase, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var all []models.KnowledgeBase
	for _, kb := range r.s.knowledgeBases {
		if filter.Search != "" {
			needle := strings.ToLower(filter.Search)
			if !strings.Contains(strings.ToLower(kb.Name), needle) &&
				!strings.Contains(strings.ToLower(kb.Description), needle) {
				continue
			}
		}
		if filter.UserID != 0 && !memoryCanRead(&kb, filter.UserID) {
			continue
		}
		all = append(all, kb)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].KnowledgeBaseID < all[j].KnowledgeBaseID })

	total := int64(len(all))
	if filter.Limit > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		start := (page - 1) * filter.Limit
		if start > len(all) {
			start = len(all)
		}
		end := start + filter.Limit
		if end > len(all) {
			end = len(all)
		}
		all = all[start:end]
	}
	return all, total, nil
}

func memoryCanRead(kb *models.KnowledgeBase, userID uint) bool {
	if kb.IsPublic || kb.OwnerID == userID {
		return true
	}
	ids := models.ParseIDList(kb.ReaderIDs)
	for _, id := range ids {
		if id == userID {
			return true
		}
	}
	ids = models.ParseIDList(kb.WriterIDs)
	for _, id := range ids {
		if id == userID {
			return true
		}
	}
	return false
}

func (r *memoryKBRepo) ListAutoReindex(ctx context.Context) ([]models.KnowledgeBase, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.KnowledgeBase
	for _, kb := range r.s.knowledgeBases {
		if kb.AutoReindex && kb.Status == "active" {
			out = append(out, kb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].KnowledgeBaseID < out[j].KnowledgeBaseID })
	return out, nil
}

func (r *memoryKBRepo) Update(ctx context.Context, id uint, updates map[string]interface{}) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	kb, ok := r.s.knowledgeBases[id]
	if !ok {
		return ErrNotFound
	}
	applyKBUpdates(&kb, updates)
	r.s.knowledgeBases[id] = kb
	return nil
}

func (r *memoryKBRepo) Delete(ctx context.Context, id uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.knowledgeBases, id)
	return nil
}

func applyKBUpdates(kb *models.KnowledgeBase, updates map[string]interface{}) {
	for key, value := range updates {
		switch key {
		case "name":
			kb.Name, _ = value.(string)
		case "description":
			kb.Description, _ = value.(string)
		case "status":
			kb.Status, _ = value.(string)
		case "document_count":
			kb.DocumentCount = toInt(value)
		case "chunk_count":
			kb.ChunkCount = toInt(value)
		case "embedding_count":
			kb.EmbeddingCount = toInt(value)
		case "total_size_bytes":
			kb.TotalSizeBytes = toInt64(value)
		case "graph_node_count":
			kb.GraphNodeCount = toInt(value)
		case "graph_edge_count":
			kb.GraphEdgeCount = toInt(value)
		case "type_distribution":
			kb.TypeDistJSON, _ = value.(string)
		case "language_distribution":
			kb.LangDistJSON, _ = value.(string)
		case "stats_update_time":
			if t, ok := value.(time.Time); ok {
				kb.StatsUpdateTime = t
			}
		case "update_time":
			if t, ok := value.(time.Time); ok {
				kb.UpdateTime = t
			}
		case "auto_reindex":
			if b, ok := value.(bool); ok {
				kb.AutoReindex = b
			}
		case "search_threshold":
			if f, ok := value.(float64); ok {
				kb.SearchThreshold = f
			}
		}
	}
}

func toInt(value interface{}) int {
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func toInt64(value interface{}) int64 {
	switch v := value.(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

type memoryDocRepo struct{ s *MemoryStore }

func (r *memoryDocRepo) Create(ctx context.Context, doc *models.KnowledgeDocument) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if doc.DocumentID == 0 {
		doc.DocumentID = r.s.allocID()
	}
	if doc.CreateTime.IsZero() {
		doc.CreateTime = time.Now()
	}
	r.s.documents[doc.DocumentID] = *doc
	return nil
}

func (r *memoryDocRepo) GetByID(ctx context.Context, docID uint) (*models.KnowledgeDocument, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	doc, ok := r.s.documents[docID]
	if !ok {
		return nil, ErrNotFound
	}
	return &doc, nil
}

func (r *memoryDocRepo) GetByChecksum(ctx context.Context, kbID uint, checksum string) (*models.KnowledgeDocument, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, doc := range r.s.documents {
		if doc.KnowledgeBaseID == kbID && doc.Checksum == checksum {
			found := doc
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memoryDocRepo) ListByKnowledgeBase(ctx context.Context, kbID uint, page, limit int) ([]models.KnowledgeDocument, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var all []models.KnowledgeDocument
	for _, doc := range r.s.documents {
		if doc.KnowledgeBaseID == kbID {
			all = append(all, doc)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].DocumentID < all[j].DocumentID })

	total := int64(len(all))
	if limit > 0 {
		if page < 1 {
			page = 1
		}
		start := (page - 1) * limit
		if start > len(all) {
			start = len(all)
		}
		end := start + limit
		if end > len(all) {
			end = len(all)
		}
		all = all[start:end]
	}
	return all, total, nil
}

func (r *memoryDocRepo) CountByKnowledgeBase(ctx context.Context, kbID uint) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var count int64
	for _, doc := range r.s.documents {
		if doc.KnowledgeBaseID == kbID && doc.Status != models.DocumentStatusArchived {
			count++
		}
	}
	return count, nil
}

func (r *memoryDocRepo) CountActiveByKnowledgeBase(ctx context.Context, kbID uint) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var count int64
	for _, doc := range r.s.documents {
		if doc.KnowledgeBaseID == kbID && doc.Status == models.DocumentStatusActive {
			count++
		}
	}
	return count, nil
}

func (r *memoryDocRepo) SumSizeBytes(ctx context.Context, kbID uint) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var total int64
	for _, doc := range r.s.documents {
		if doc.KnowledgeBaseID == kbID && doc.Status != models.DocumentStatusArchived {
			total += doc.SizeBytes
		}
	}
	return total, nil
}

func (r *memoryDocRepo) Update(ctx context.Context, docID uint, updates map[string]interface{}) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	doc, ok := r.s.documents[docID]
	if !ok {
		return ErrNotFound
	}
	for key, value := range updates {
		switch key {
		case "status":
			doc.Status, _ = value.(string)
		case "error_message":
			doc.ErrorMessage, _ = value.(string)
		case "content":
			doc.Content, _ = value.(string)
		case "language":
			doc.Language, _ = value.(string)
		case "metadata":
			doc.Metadata, _ = value.(string)
		case "version":
			doc.Version = toInt(value)
		case "size_bytes":
			doc.SizeBytes = toInt64(value)
		case "checksum":
			doc.Checksum, _ = value.(string)
		case "document_type":
			doc.DocumentType, _ = value.(string)
		case "update_time":
			if t, ok := value.(time.Time); ok {
				doc.UpdateTime = t
			}
		}
	}
	r.s.documents[docID] = doc
	return nil
}

func (r *memoryDocRepo) Delete(ctx context.Context, docID uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.documents, docID)
	return nil
}

type memoryChunkRepo struct{ s *MemoryStore }

func (r *memoryChunkRepo) CreateBatch(ctx context.Context, chunks []*models.KnowledgeChunk) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, chunk := range chunks {
		if chunk.ChunkID == 0 {
			chunk.ChunkID = r.s.allocID()
		}
		if chunk.CreateTime.IsZero() {
			chunk.CreateTime = time.Now()
		}
		r.s.chunks[chunk.ChunkID] = *chunk
	}
	return nil
}

func (r *memoryChunkRepo) ListByDocument(ctx context.Context, docID uint) ([]models.KnowledgeChunk, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.KnowledgeChunk
	for _, chunk := range r.s.chunks {
		if chunk.DocumentID == docID {
			out = append(out, chunk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (r *memoryChunkRepo) CountByKnowledgeBase(ctx context.Context, kbID uint) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var count int64
	for _, chunk := range r.s.chunks {
		if doc, ok := r.s.documents[chunk.DocumentID]; ok && doc.KnowledgeBaseID == kbID {
			count++
		}
	}
	return count, nil
}

func (r *memoryChunkRepo) DeleteByDocument(ctx context.Context, docID uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, chunk := range r.s.chunks {
		if chunk.DocumentID == docID {
			delete(r.s.chunks, id)
		}
	}
	return nil
}

type memoryJobRepo struct{ s *MemoryStore }

func (r *memoryJobRepo) Create(ctx context.Context, job *models.IndexingJob) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if job.JobID == 0 {
		job.JobID = r.s.allocID()
	}
	if job.CreateTime.IsZero() {
		job.CreateTime = time.Now()
	}
	r.s.jobs[job.JobID] = *job
	return nil
}

func (r *memoryJobRepo) GetByID(ctx context.Context, jobID uint) (*models.IndexingJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	job, ok := r.s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return &job, nil
}

func (r *memoryJobRepo) ListByKnowledgeBase(ctx context.Context, kbID uint, limit int) ([]models.IndexingJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.IndexingJob
	for _, job := range r.s.jobs {
		if job.KnowledgeBaseID == kbID {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID > out[j].JobID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryJobRepo) Update(ctx context.Context, jobID uint, updates map[string]interface{}) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	job, ok := r.s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	for key, value := range updates {
		switch key {
		case "status":
			job.Status, _ = value.(string)
		case "docs_processed":
			job.DocsProcessed = toInt(value)
		case "docs_total":
			job.DocsTotal = toInt(value)
		case "errors":
			job.Errors, _ = value.(string)
		case "start_time":
			if t, ok := value.(*time.Time); ok {
				job.StartTime = t
			}
		case "finish_time":
			if t, ok := value.(*time.Time); ok {
				job.FinishTime = t
			}
		}
	}
	r.s.jobs[jobID] = job
	return nil
}

type memoryGraphRepo struct{ s *MemoryStore }

func (r *memoryGraphRepo) ReplaceForDocument(ctx context.Context, kbID, docID uint, nodes []*models.KnowledgeGraphNode, edges []*models.KnowledgeGraphEdge) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, node := range r.s.graphNodes {
		if node.DocumentID == docID {
			delete(r.s.graphNodes, id)
		}
	}
	for id, edge := range r.s.graphEdges {
		if edge.DocumentID == docID {
			delete(r.s.graphEdges, id)
		}
	}
	for _, node := range nodes {
		if node.NodeID == 0 {
			node.NodeID = r.s.allocID()
		}
		r.s.graphNodes[node.NodeID] = *node
	}
	for _, edge := range edges {
		if edge.EdgeID == 0 {
			edge.EdgeID = r.s.allocID()
		}
		r.s.graphEdges[edge.EdgeID] = *edge
	}
	return nil
}

func (r *memoryGraphRepo) ListNodes(ctx context.Context, kbID uint, limit int) ([]models.KnowledgeGraphNode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.KnowledgeGraphNode
	for _, node := range r.s.graphNodes {
		if node.KnowledgeBaseID == kbID {
			out = append(out, node)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryGraphRepo) ListEdges(ctx context.Context, kbID uint, limit int) ([]models.KnowledgeGraphEdge, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.KnowledgeGraphEdge
	for _, edge := range r.s.graphEdges {
		if edge.KnowledgeBaseID == kbID {
			out = append(out, edge)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EdgeID < out[j].EdgeID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryGraphRepo) Counts(ctx context.Context, kbID uint) (int64, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var nodes, edges int64
	for _, node := range r.s.graphNodes {
		if node.KnowledgeBaseID == kbID {
			nodes++
		}
	}
	for _, edge := range r.s.graphEdges {
		if edge.KnowledgeBaseID == kbID {
			edges++
		}
	}
	return nodes, edges, nil
}

func (r *memoryGraphRepo) DeleteByDocument(ctx context.Context, docID uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, node := range r.s.graphNodes {
		if node.DocumentID == docID {
			delete(r.s.graphNodes, id)
		}
	}
	for id, edge := range r.s.graphEdges {
		if edge.DocumentID == docID {
			delete(r.s.graphEdges, id)
		}
	}
	return nil
}

type memorySearchLogRepo struct{ s *MemoryStore }

func (r *memorySearchLogRepo) Create(ctx context.Context, record *models.KnowledgeSearch) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if record.SearchID == 0 {
		record.SearchID = r.s.allocID()
	}
	record.CreateTime = time.Now()
	r.s.searches = append(r.s.searches, *record)
	return nil
}
