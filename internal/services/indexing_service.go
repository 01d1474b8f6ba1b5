package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aihub/knowledge-go/internal/config"
	"github.com/aihub/knowledge-go/internal/errors"
	"github.com/aihub/knowledge-go/internal/kafka"
	"github.com/aihub/knowledge-go/internal/knowledge"
	"github.com/aihub/knowledge-go/internal/logger"
	"github.com/aihub/knowledge-go/internal/metrics"
	"github.com/aihub/knowledge-go/internal/models"
	"github.com/aihub/knowledge-go/internal/repository"
	"github.com/aihub/knowledge-go/internal/storage"
)

// DocumentUpload 文档上传载荷
type DocumentUpload struct {
	Filename string
	Title    string
	Source   string
	Author   string
	Tags     []string
	Reader   io.Reader
	Size     int64
}

// IndexingServiceOptions 可选依赖
type IndexingServiceOptions struct {
	ObjectStorage storage.ObjectStorage
	Redis         *redis.Client
	Producer      *kafka.Producer
	Metrics       *metrics.Metrics
	Graph         knowledge.GraphExtractor
}

// inflightEntry 同一内容的并发调用共享同一个任务句柄
type inflightEntry struct {
	done chan struct{}
	job  *models.IndexingJob
	err  error
}

// IndexingService 文档索引流水线
type IndexingService struct {
	store       repository.Store
	vectorStore knowledge.VectorStore
	indexer     knowledge.FulltextIndexer
	embedder    knowledge.Embedder
	extractor   *knowledge.TextExtractor
	graph       knowledge.GraphExtractor
	objects     storage.ObjectStorage
	redis       *redis.Client
	producer    *kafka.Producer
	metrics     *metrics.Metrics
	cfg         config.KnowledgeConfig
	broker      *progressBroker

	mu       sync.Mutex
	inflight map[string]*inflightEntry
	cancels  map[uint]context.CancelFunc
}

// NewIndexingService 创建索引服务
func NewIndexingService(store repository.Store, vectorStore knowledge.VectorStore, indexer knowledge.FulltextIndexer, embedder knowledge.Embedder, extractor *knowledge.TextExtractor, cfg config.KnowledgeConfig, opts *IndexingServiceOptions) *IndexingService {
	s := &IndexingService{
		store:       store,
		vectorStore: vectorStore,
		indexer:     indexer,
		embedder:    embedder,
		extractor:   extractor,
		graph:       &knowledge.NoopGraphExtractor{},
		cfg:         cfg,
		broker:      newProgressBroker(),
		inflight:    make(map[string]*inflightEntry),
		cancels:     make(map[uint]context.CancelFunc),
	}
	if opts != nil {
		if opts.Graph != nil {
			s.graph = opts.Graph
		}
		s.objects = opts.ObjectStorage
		s.redis = opts.Redis
		s.producer = opts.Producer
		s.metrics = opts.Metrics
	}
	return s
}

// Subscribe 订阅任务进度事件
func (s *IndexingService) Subscribe(jobID uint) <-chan JobProgress {
	return s.broker.Subscribe(jobID)
}

// AddDocument 添加文档并启动索引流水线。
// 返回的任务句柄立即可用；处理在后台进行，失败不自动重试。
func (s *IndexingService) AddDocument(ctx context.Context, kbID, userID uint, upload DocumentUpload) (*models.IndexingJob, error) {
	kb, err := s.loadKB(ctx, kbID)
	if err != nil {
		return nil, err
	}
	if !CanWrite(kb, userID) {
		return nil, errors.NewPermissionDeniedError("knowledge base")
	}
	if err := validateFilename(upload.Filename, s.extractor.SupportedExtensions()); err != nil {
		return nil, err
	}

	docCount, err := s.store.Documents().CountByKnowledgeBase(ctx, kbID)
	if err != nil {
		return nil, errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to count documents").WithCause(err)
	}
	if kb.MaxDocuments > 0 && docCount >= int64(kb.MaxDocuments) {
		return nil, errors.NewQuotaExceededError("documents", int64(kb.MaxDocuments))
	}

	usedBytes, err := s.store.Documents().SumSizeBytes(ctx, kbID)
	if err != nil {
		return nil, errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to sum document sizes").WithCause(err)
	}
	if kb.MaxSizeBytes > 0 && upload.Size > 0 && usedBytes+upload.Size > kb.MaxSizeBytes {
		return nil, errors.NewQuotaExceededError("storage bytes", kb.MaxSizeBytes)
	}

	limit := kb.MaxSizeBytes
	if limit <= 0 {
		limit = s.cfg.MaxSizeBytes
	}
	remaining := limit - usedBytes
	if remaining <= 0 {
		return nil, errors.NewQuotaExceededError("storage bytes", limit)
	}
	payload, err := io.ReadAll(io.LimitReader(upload.Reader, remaining+1))
	if err != nil {
		return nil, errors.NewSystemError(errors.ErrCodeInternalServer, "failed to read upload").WithCause(err)
	}
	if int64(len(payload)) > remaining {
		return nil, errors.NewQuotaExceededError("storage bytes", limit)
	}
	if len(payload) == 0 {
		return nil, errors.NewValidationError("uploaded file is empty")
	}

	checksum := fmt.Sprintf("%x", sha256.Sum256(payload))

	// 同一内容的并发上传共享同一个任务
	key := fmt.Sprintf("%d:%s", kbID, checksum)
	s.mu.Lock()
	if entry, ok := s.inflight[key]; ok {
		s.mu.Unlock()
		select {
		case <-entry.done:
			return entry.job, entry.err
		case <-ctx.Done():
			return nil, errors.NewSystemError(errors.ErrCodeCancelled, "request cancelled").WithCause(ctx.Err())
		}
	}
	entry := &inflightEntry{done: make(chan struct{})}
	s.inflight[key] = entry
	s.mu.Unlock()

	job, err := s.registerDocument(ctx, kb, userID, upload, payload, checksum)
	entry.job, entry.err = job, err
	close(entry.done)
	if err != nil {
		s.clearInflight(key)
		return nil, err
	}
	return job, nil
}

// registerDocument 落库文档与任务记录并调度流水线
func (s *IndexingService) registerDocument(ctx context.Context, kb *models.KnowledgeBase, userID uint, upload DocumentUpload, payload []byte, checksum string) (*models.IndexingJob, error) {
	key := fmt.Sprintf("%d:%s", kb.KnowledgeBaseID, checksum)

	if existing, err := s.store.Documents().GetByChecksum(ctx, kb.KnowledgeBaseID, checksum); err == nil &&
		existing.Status != models.DocumentStatusArchived && existing.Status != models.DocumentStatusFailed {
		s.clearInflight(key)
		return nil, errors.NewBusinessError(errors.ErrCodeConflict, "identical document already exists")
	}

	title := upload.Title
	if title == "" {
		title = upload.Filename
	}
	now := time.Now()
	doc := &models.KnowledgeDocument{
		KnowledgeBaseID: kb.KnowledgeBaseID,
		Title:           title,
		Source:          upload.Source,
		Author:          upload.Author,
		Tags:            models.EncodeStringList(upload.Tags),
		DocumentType:    models.DocumentTypeText,
		Status:          models.DocumentStatusProcessing,
		CreateTime:      now,
		UpdateTime:      now,
	}
	if err := s.store.Documents().Create(ctx, doc); err != nil {
		s.clearInflight(key)
		return nil, errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to create document").WithCause(err)
	}

	job := &models.IndexingJob{
		KnowledgeBaseID: kb.KnowledgeBaseID,
		DocumentID:      doc.DocumentID,
		Kind:            models.JobKindDocument,
		Status:          models.JobStatusPending,
		DocsTotal:       1,
		CreateTime:      now,
	}
	if err := s.store.Jobs().Create(ctx, job); err != nil {
		s.clearInflight(key)
		return nil, errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to create indexing job").WithCause(err)
	}

	s.storeRawPayload(ctx, kb.KnowledgeBaseID, doc, upload.Filename, payload)

	pipelineCtx, cancel := context.WithTimeout(context.Background(), s.pipelineTimeout())
	s.mu.Lock()
	s.cancels[job.JobID] = cancel
	s.mu.Unlock()

	if s.producer != nil {
		evt := &kafka.DocumentEvent{
			KnowledgeBaseID: kb.KnowledgeBaseID,
			DocumentID:      doc.DocumentID,
			JobID:           job.JobID,
			Action:          kafka.ActionIndex,
			UserID:          userID,
		}
		if err := s.producer.PublishDocumentEvent(evt); err != nil {
			logger.Warn("发布文档事件失败，回退为本地处理", zap.Error(err))
		} else if s.objects != nil && s.objects.Ready() {
			// 消费者进程会重新下载原始载荷
			cancel()
			s.clearInflight(key)
			s.clearCancel(job.JobID)
			return job, nil
		}
	}

	go func() {
		defer cancel()
		defer s.clearInflight(key)
		defer s.clearCancel(job.JobID)
		s.runDocumentPipeline(pipelineCtx, kb, doc, job, payload, upload.Filename)
	}()

	return job, nil
}

// HandleDocumentEvent Kafka消费端入口
func (s *IndexingService) HandleDocumentEvent(ctx context.Context, evt *kafka.DocumentEvent) error {
	kb, err := s.loadKB(ctx, evt.KnowledgeBaseID)
	if err != nil {
		return err
	}

	switch evt.Action {
	case kafka.ActionIndex:
		doc, err := s.store.Documents().GetByID(ctx, evt.DocumentID)
		if err != nil {
			return errors.NewNotFoundError(errors.ErrCodeDocumentNotFound, "document")
		}
		job, err := s.store.Jobs().GetByID(ctx, evt.JobID)
		if err != nil {
			return errors.NewNotFoundError(errors.ErrCodeJobNotFound, "indexing job")
		}
		if job.Status != models.JobStatusPending {
			return nil
		}

		payload, err := s.loadRawPayload(ctx, doc)
		if err != nil {
			s.failDocument(ctx, doc.DocumentID, job, err.Error(), false)
			return err
		}

		pipelineCtx, cancel := context.WithTimeout(context.Background(), s.pipelineTimeout())
		defer cancel()
		s.mu.Lock()
		s.cancels[job.JobID] = cancel
		s.mu.Unlock()
		defer s.clearCancel(job.JobID)

		filename := path.Base(doc.FilePath)
		if filename == "." || filename == "/" {
			filename = doc.Title
		}
		s.runDocumentPipeline(pipelineCtx, kb, doc, job, payload, filename)
		return nil
	case kafka.ActionReindex:
		_, err := s.ReindexKnowledgeBase(ctx, evt.KnowledgeBaseID, evt.UserID, models.JobKindReindex)
		return err
	default:
		return nil
	}
}

// runDocumentPipeline 提取 → 分块 → 向量化 → 原子提交 → 统计刷新。
// 任何向量化失败让整个文档失败并回滚已写入的向量。
func (s *IndexingService) runDocumentPipeline(ctx context.Context, kb *models.KnowledgeBase, doc *models.KnowledgeDocument, job *models.IndexingJob, payload []byte, filename string) {
	started := time.Now()
	startPtr := started
	_ = s.store.Jobs().Update(ctx, job.JobID, map[string]interface{}{
		"status":     models.JobStatusRunning,
		"start_time": &startPtr,
	})
	s.publishProgress(job, doc.DocumentID, StageValidated, 0)

	if s.cancelled(ctx, doc.DocumentID, job) {
		return
	}

	// 提取
	s.publishProgress(job, doc.DocumentID, StageExtracting, 0)
	extractStart := time.Now()
	extract, err := s.extractor.Extract(bytes.NewReader(payload), filename)
	if err != nil || len(extract.Text) == 0 {
		msg := "no extractable text"
		if err != nil {
			msg = err.Error()
		}
		s.failDocument(ctx, doc.DocumentID, job, fmt.Sprintf("extraction failed: %s", msg), false)
		return
	}
	s.metrics.ObservePipelineStage("extract", time.Since(extractStart))

	if s.cancelled(ctx, doc.DocumentID, job) {
		return
	}

	// 分块
	s.publishProgress(job, doc.DocumentID, StageChunking, 0)
	chunker := knowledge.NewChunker(kb.ChunkSize, kb.ChunkOverlap)
	pieces := chunker.Split(extract.Text)
	if len(pieces) == 0 {
		s.failDocument(ctx, doc.DocumentID, job, "extraction produced no chunks", false)
		return
	}

	if s.cancelled(ctx, doc.DocumentID, job) {
		return
	}

	// 向量化
	s.publishProgress(job, doc.DocumentID, StageEmbedding, 0)
	embedStart := time.Now()
	if err := s.ensureCollection(ctx, kb.KnowledgeBaseID); err != nil {
		s.failDocument(ctx, doc.DocumentID, job, fmt.Sprintf("vector collection unavailable: %v", err), false)
		return
	}

	embeddings := make([][]float32, len(pieces))
	for i, piece := range pieces {
		if s.cancelled(ctx, doc.DocumentID, job) {
			return
		}
		vec, err := s.embedText(ctx, piece.Text)
		if err != nil {
			s.metrics.ObserveDocument("failed", 0)
			// 中途失败时清掉可能残留的旧向量
			_ = s.vectorStore.DeleteDocument(context.Background(), kb.KnowledgeBaseID, doc.DocumentID)
			s.failDocument(ctx, doc.DocumentID, job, fmt.Sprintf("embedding failed at chunk %d: %v", i, err), false)
			return
		}
		embeddings[i] = vec
	}
	s.metrics.ObservePipelineStage("embed", time.Since(embedStart))

	if s.cancelled(ctx, doc.DocumentID, job) {
		return
	}

	// 原子提交
	s.publishProgress(job, doc.DocumentID, StageCommitting, 0)
	commitStart := time.Now()
	docType := metaStringValue(extract.Metadata, "document_type", models.DocumentTypeText)
	language := metaStringValue(extract.Metadata, "language", "")
	metaJSON, _ := json.Marshal(extract.Metadata)
	checksum := metaStringValue(extract.Metadata, "checksum", "")
	now := time.Now()

	chunkMeta := s.chunkMetadata(kb, doc, docType, language)
	var rows []*models.KnowledgeChunk

	err = s.store.WithTransaction(ctx, func(tx repository.Store) error {
		rows = rows[:0]
		for i, piece := range pieces {
			embJSON, _ := json.Marshal(embeddings[i])
			rows = append(rows, &models.KnowledgeChunk{
				DocumentID:  doc.DocumentID,
				Content:     piece.Text,
				ChunkIndex:  piece.Index,
				StartOffset: piece.StartOffset,
				EndOffset:   piece.EndOffset,
				WordCount:   piece.WordCount,
				Embedding:   string(embJSON),
				Metadata:    string(mustJSON(chunkMeta)),
				CreateTime:  now,
			})
		}
		if err := tx.Chunks().CreateBatch(ctx, rows); err != nil {
			return fmt.Errorf("commit chunks: %w", err)
		}

		vectorChunks := make([]knowledge.VectorChunk, len(rows))
		for i, row := range rows {
			vectorChunks[i] = knowledge.VectorChunk{
				ChunkID:         row.ChunkID,
				DocumentID:      doc.DocumentID,
				KnowledgeBaseID: kb.KnowledgeBaseID,
				ChunkIndex:      row.ChunkIndex,
				Text:            row.Content,
				Embedding:       embeddings[i],
				Metadata:        chunkMeta,
			}
		}
		if _, err := s.vectorStore.UpsertBatch(ctx, vectorChunks); err != nil {
			return fmt.Errorf("upsert vectors: %w", err)
		}

		if err := tx.Documents().Update(ctx, doc.DocumentID, map[string]interface{}{
			"status":        models.DocumentStatusActive,
			"content":       extract.Text,
			"document_type": docType,
			"language":      language,
			"size_bytes":    int64(len(payload)),
			"checksum":      checksum,
			"metadata":      string(metaJSON),
			"error_message": "",
			"update_time":   now,
		}); err != nil {
			return fmt.Errorf("commit document: %w", err)
		}

		finish := time.Now()
		if err := tx.Jobs().Update(ctx, job.JobID, map[string]interface{}{
			"status":         models.JobStatusCompleted,
			"docs_processed": 1,
			"finish_time":    &finish,
		}); err != nil {
			return fmt.Errorf("commit job: %w", err)
		}

		return s.refreshStats(ctx, tx, kb.KnowledgeBaseID)
	})
	if err != nil {
		// 提交失败后补偿删除已写入的向量与全文索引
		_ = s.vectorStore.DeleteDocument(context.Background(), kb.KnowledgeBaseID, doc.DocumentID)
		_ = s.indexer.RemoveDocument(context.Background(), kb.KnowledgeBaseID, doc.DocumentID)
		s.metrics.ObserveDocument("failed", 0)
		s.failDocument(ctx, doc.DocumentID, job, fmt.Sprintf("commit failed: %v", err), false)
		return
	}
	s.metrics.ObservePipelineStage("commit", time.Since(commitStart))

	// 全文索引尽力而为，失败时关键词检索退化为数据库兜底
	s.indexFulltext(ctx, kb, doc, rows, chunkMeta, docType)

	// 图谱抽取在提交成功后进行，失败仅记日志
	s.extractGraph(kb.KnowledgeBaseID, doc.DocumentID, extract.Text)

	s.metrics.ObserveDocument("completed", len(rows))
	s.metrics.ObservePipelineStage("total", time.Since(started))
	s.mirrorJobStatus(job.JobID, models.JobStatusCompleted, 1, 1)
	s.broker.Finish(JobProgress{
		JobID:         job.JobID,
		DocumentID:    doc.DocumentID,
		Stage:         StageCompleted,
		DocsProcessed: 1,
		DocsTotal:     job.DocsTotal,
	})

	logger.Info("文档索引完成",
		zap.Uint("knowledge_base_id", kb.KnowledgeBaseID),
		zap.Uint("document_id", doc.DocumentID),
		zap.Int("chunks", len(rows)),
		zap.Duration("took", time.Since(started)))
}

// DeleteDocument 归档文档并移除其全部索引痕迹
func (s *IndexingService) DeleteDocument(ctx context.Context, docID, userID uint) error {
	doc, err := s.store.Documents().GetByID(ctx, docID)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return errors.NewNotFoundError(errors.ErrCodeDocumentNotFound, "document")
		}
		return errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to load document").WithCause(err)
	}
	kb, err := s.loadKB(ctx, doc.KnowledgeBaseID)
	if err != nil {
		return err
	}
	if !CanWrite(kb, userID) {
		return errors.NewPermissionDeniedError("knowledge base")
	}

	err = s.store.WithTransaction(ctx, func(tx repository.Store) error {
		if err := tx.Documents().Update(ctx, docID, map[string]interface{}{
			"status":      models.DocumentStatusArchived,
			"update_time": time.Now(),
		}); err != nil {
			return err
		}
		if err := tx.Chunks().DeleteByDocument(ctx, docID); err != nil {
			return err
		}
		if err := tx.Graph().DeleteByDocument(ctx, docID); err != nil {
			return err
		}
		return s.refreshStats(ctx, tx, kb.KnowledgeBaseID)
	})
	if err != nil {
		return errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to archive document").WithCause(err)
	}

	_ = s.vectorStore.DeleteDocument(ctx, kb.KnowledgeBaseID, docID)
	_ = s.indexer.RemoveDocument(ctx, kb.KnowledgeBaseID, docID)
	if s.objects != nil && doc.FilePath != "" {
		_ = s.objects.Delete(ctx, doc.FilePath)
	}

	logger.Info("文档已归档", zap.Uint("document_id", docID), zap.Uint("user_id", userID))
	return nil
}

// ListDocuments 分页列出知识库文档
func (s *IndexingService) ListDocuments(ctx context.Context, kbID, userID uint, page, limit int) ([]models.KnowledgeDocument, int64, error) {
	kb, err := s.loadKB(ctx, kbID)
	if err != nil {
		return nil, 0, err
	}
	if !CanRead(kb, userID) {
		return nil, 0, errors.NewPermissionDeniedError("knowledge base")
	}
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	docs, total, err := s.store.Documents().ListByKnowledgeBase(ctx, kbID, page, limit)
	if err != nil {
		return nil, 0, errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to list documents").WithCause(err)
	}
	return docs, total, nil
}

// GetJob 查询任务状态
func (s *IndexingService) GetJob(ctx context.Context, jobID uint) (*models.IndexingJob, error) {
	job, err := s.store.Jobs().GetByID(ctx, jobID)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.NewNotFoundError(errors.ErrCodeJobNotFound, "indexing job")
		}
		return nil, errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to load job").WithCause(err)
	}
	return job, nil
}

// CancelJob 取消运行中的任务；已结束的任务不受影响
func (s *IndexingService) CancelJob(ctx context.Context, jobID uint) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusPending && job.Status != models.JobStatusRunning {
		return nil
	}

	s.mu.Lock()
	cancel, ok := s.cancels[jobID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// ReindexKnowledgeBase 用已提取的文本重建全部活跃文档的索引
func (s *IndexingService) ReindexKnowledgeBase(ctx context.Context, kbID, userID uint, kind string) (*models.IndexingJob, error) {
	kb, err := s.loadKB(ctx, kbID)
	if err != nil {
		return nil, err
	}
	if userID != 0 && !CanWrite(kb, userID) {
		return nil, errors.NewPermissionDeniedError("knowledge base")
	}
	if kind == "" {
		kind = models.JobKindReindex
	}

	key := fmt.Sprintf("reindex:%d", kbID)
	s.mu.Lock()
	if entry, ok := s.inflight[key]; ok {
		s.mu.Unlock()
		<-entry.done
		return entry.job, entry.err
	}
	entry := &inflightEntry{done: make(chan struct{})}
	s.inflight[key] = entry
	s.mu.Unlock()

	docs, _, err := s.store.Documents().ListByKnowledgeBase(ctx, kbID, 0, 0)
	if err != nil {
		entry.err = errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to list documents").WithCause(err)
		close(entry.done)
		s.clearInflight(key)
		return nil, entry.err
	}
	var active []models.KnowledgeDocument
	for _, doc := range docs {
		if doc.Status == models.DocumentStatusActive && doc.Content != "" {
			active = append(active, doc)
		}
	}

	job := &models.IndexingJob{
		KnowledgeBaseID: kbID,
		Kind:            kind,
		Status:          models.JobStatusPending,
		DocsTotal:       len(active),
		CreateTime:      time.Now(),
	}
	if err := s.store.Jobs().Create(ctx, job); err != nil {
		entry.err = errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to create reindex job").WithCause(err)
		close(entry.done)
		s.clearInflight(key)
		return nil, entry.err
	}
	entry.job = job
	close(entry.done)

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[job.JobID] = cancel
	s.mu.Unlock()

	go func() {
		defer cancel()
		defer s.clearInflight(key)
		defer s.clearCancel(job.JobID)
		s.runReindex(runCtx, kb, job, active)
	}()

	return job, nil
}

// runReindex 逐文档重建；单个文档失败记录错误并继续
func (s *IndexingService) runReindex(ctx context.Context, kb *models.KnowledgeBase, job *models.IndexingJob, docs []models.KnowledgeDocument) {
	start := time.Now()
	startPtr := start
	_ = s.store.Jobs().Update(ctx, job.JobID, map[string]interface{}{
		"status":     models.JobStatusRunning,
		"start_time": &startPtr,
	})
	s.metrics.JobsInFlightAdd(1)
	defer s.metrics.JobsInFlightAdd(-1)

	chunker := knowledge.NewChunker(kb.ChunkSize, kb.ChunkOverlap)
	var errs []string
	processed := 0

	for _, doc := range docs {
		if ctx.Err() != nil {
			finish := time.Now()
			_ = s.store.Jobs().Update(context.Background(), job.JobID, map[string]interface{}{
				"status":         models.JobStatusCancelled,
				"docs_processed": processed,
				"errors":         models.EncodeStringList(errs),
				"finish_time":    &finish,
			})
			s.broker.Finish(JobProgress{JobID: job.JobID, Stage: StageCancelled, DocsProcessed: processed, DocsTotal: job.DocsTotal})
			return
		}

		if err := s.reindexDocument(ctx, kb, chunker, &doc); err != nil {
			errs = append(errs, fmt.Sprintf("document %d: %v", doc.DocumentID, err))
			logger.Warn("重建文档索引失败",
				zap.Uint("document_id", doc.DocumentID),
				zap.Error(err))
		}
		processed++
		_ = s.store.Jobs().Update(ctx, job.JobID, map[string]interface{}{"docs_processed": processed})
		s.publishProgress(job, doc.DocumentID, StageEmbedding, processed)
	}

	status := models.JobStatusCompleted
	if len(errs) == len(docs) && len(docs) > 0 {
		status = models.JobStatusFailed
	}
	finish := time.Now()
	_ = s.store.Jobs().Update(context.Background(), job.JobID, map[string]interface{}{
		"status":         status,
		"docs_processed": processed,
		"errors":         models.EncodeStringList(errs),
		"finish_time":    &finish,
	})
	s.mirrorJobStatus(job.JobID, status, processed, job.DocsTotal)
	s.broker.Finish(JobProgress{JobID: job.JobID, Stage: StageCompleted, DocsProcessed: processed, DocsTotal: job.DocsTotal})

	logger.Info("知识库重建完成",
		zap.Uint("knowledge_base_id", kb.KnowledgeBaseID),
		zap.Int("documents", processed),
		zap.Int("errors", len(errs)),
		zap.Duration("took", time.Since(start)))
}

func (s *IndexingService) reindexDocument(ctx context.Context, kb *models.KnowledgeBase, chunker *knowledge.Chunker, doc *models.KnowledgeDocument) error {
	pieces := chunker.Split(doc.Content)
	if len(pieces) == 0 {
		return fmt.Errorf("document has no chunkable text")
	}
	if err := s.ensureCollection(ctx, kb.KnowledgeBaseID); err != nil {
		return err
	}

	embeddings := make([][]float32, len(pieces))
	for i, piece := range pieces {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		vec, err := s.embedText(ctx, piece.Text)
		if err != nil {
			return fmt.Errorf("embedding chunk %d: %w", i, err)
		}
		embeddings[i] = vec
	}

	chunkMeta := s.chunkMetadata(kb, doc, doc.DocumentType, doc.Language)
	now := time.Now()
	var rows []*models.KnowledgeChunk

	err := s.store.WithTransaction(ctx, func(tx repository.Store) error {
		if err := tx.Chunks().DeleteByDocument(ctx, doc.DocumentID); err != nil {
			return err
		}
		rows = rows[:0]
		for i, piece := range pieces {
			rows = append(rows, &models.KnowledgeChunk{
				DocumentID:  doc.DocumentID,
				Content:     piece.Text,
				ChunkIndex:  piece.Index,
				StartOffset: piece.StartOffset,
				EndOffset:   piece.EndOffset,
				WordCount:   piece.WordCount,
				Embedding:   string(mustJSON(embeddings[i])),
				Metadata:    string(mustJSON(chunkMeta)),
				CreateTime:  now,
			})
		}
		if err := tx.Chunks().CreateBatch(ctx, rows); err != nil {
			return err
		}

		if err := s.vectorStore.DeleteDocument(ctx, kb.KnowledgeBaseID, doc.DocumentID); err != nil {
			return err
		}
		vectorChunks := make([]knowledge.VectorChunk, len(rows))
		for i, row := range rows {
			vectorChunks[i] = knowledge.VectorChunk{
				ChunkID:         row.ChunkID,
				DocumentID:      doc.DocumentID,
				KnowledgeBaseID: kb.KnowledgeBaseID,
				ChunkIndex:      row.ChunkIndex,
				Text:            row.Content,
				Embedding:       embeddings[i],
				Metadata:        chunkMeta,
			}
		}
		if _, err := s.vectorStore.UpsertBatch(ctx, vectorChunks); err != nil {
			return err
		}
		return s.refreshStats(ctx, tx, kb.KnowledgeBaseID)
	})
	if err != nil {
		_ = s.vectorStore.DeleteDocument(context.Background(), kb.KnowledgeBaseID, doc.DocumentID)
		return err
	}

	s.indexFulltext(ctx, kb, doc, rows, chunkMeta, doc.DocumentType)
	return nil
}

// refreshStats 用已提交的数据重算知识库聚合统计
func (s *IndexingService) refreshStats(ctx context.Context, tx repository.Store, kbID uint) error {
	docCount, err := tx.Documents().CountActiveByKnowledgeBase(ctx, kbID)
	if err != nil {
		return err
	}
	chunkCount, err := tx.Chunks().CountByKnowledgeBase(ctx, kbID)
	if err != nil {
		return err
	}
	sizeBytes, err := tx.Documents().SumSizeBytes(ctx, kbID)
	if err != nil {
		return err
	}

	// 分布始终从active文档全量重算，归档后不留残余计数
	docs, _, err := tx.Documents().ListByKnowledgeBase(ctx, kbID, 0, 0)
	if err != nil {
		return err
	}
	typeDist := make(map[string]int)
	langDist := make(map[string]int)
	for _, doc := range docs {
		if doc.Status != models.DocumentStatusActive {
			continue
		}
		if doc.DocumentType != "" {
			typeDist[doc.DocumentType]++
		}
		if doc.Language != "" {
			langDist[doc.Language]++
		}
	}

	return tx.KnowledgeBases().Update(ctx, kbID, map[string]interface{}{
		"document_count":        int(docCount),
		"chunk_count":           int(chunkCount),
		"embedding_count":       int(chunkCount),
		"total_size_bytes":      sizeBytes,
		"type_distribution":     string(mustJSON(typeDist)),
		"language_distribution": string(mustJSON(langDist)),
		"stats_update_time":     time.Now(),
	})
}

func (s *IndexingService) indexFulltext(ctx context.Context, kb *models.KnowledgeBase, doc *models.KnowledgeDocument, rows []*models.KnowledgeChunk, meta map[string]interface{}, docType string) {
	if s.indexer == nil || !s.indexer.Ready() {
		return
	}
	fulltext := make([]knowledge.FulltextChunk, len(rows))
	for i, row := range rows {
		fulltext[i] = knowledge.FulltextChunk{
			ChunkID:         row.ChunkID,
			DocumentID:      doc.DocumentID,
			KnowledgeBaseID: kb.KnowledgeBaseID,
			Content:         row.Content,
			ChunkIndex:      row.ChunkIndex,
			Title:           doc.Title,
			DocumentType:    docType,
			Metadata:        meta,
			CreatedAt:       doc.CreateTime,
		}
	}
	if err := s.indexer.IndexChunks(ctx, fulltext); err != nil {
		logger.Warn("全文索引写入失败",
			zap.Uint("document_id", doc.DocumentID),
			zap.Error(err))
	}
}

// extractGraph 图谱抽取尽力而为，仅贡献节点/边计数
func (s *IndexingService) extractGraph(kbID, docID uint, text string) {
	if s.graph == nil || !s.graph.Ready() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.requestTimeout())
	defer cancel()

	fragment, err := s.graph.Extract(ctx, text)
	if err != nil || fragment == nil {
		if err != nil {
			logger.Warn("图谱抽取失败", zap.Uint("document_id", docID), zap.Error(err))
		}
		return
	}

	now := time.Now()
	nodes := make([]*models.KnowledgeGraphNode, 0, len(fragment.Entities))
	for _, entity := range fragment.Entities {
		nodes = append(nodes, &models.KnowledgeGraphNode{
			KnowledgeBaseID: kbID,
			DocumentID:      docID,
			Name:            entity.Name,
			Type:            entity.Type,
			Mentions:        1,
			CreateTime:      now,
		})
	}
	edges := make([]*models.KnowledgeGraphEdge, 0, len(fragment.Relations))
	for _, rel := range fragment.Relations {
		edges = append(edges, &models.KnowledgeGraphEdge{
			KnowledgeBaseID: kbID,
			DocumentID:      docID,
			SourceName:      rel.Source,
			TargetName:      rel.Target,
			Relation:        rel.Relation,
			CreateTime:      now,
		})
	}

	if err := s.store.Graph().ReplaceForDocument(ctx, kbID, docID, nodes, edges); err != nil {
		logger.Warn("图谱写入失败", zap.Uint("document_id", docID), zap.Error(err))
		return
	}

	nodeCount, edgeCount, err := s.store.Graph().Counts(ctx, kbID)
	if err != nil {
		return
	}
	_ = s.store.KnowledgeBases().Update(ctx, kbID, map[string]interface{}{
		"graph_node_count": int(nodeCount),
		"graph_edge_count": int(edgeCount),
	})
}

// failDocument 统一失败出口：文档failed、任务记录错误、发布终态事件
func (s *IndexingService) failDocument(ctx context.Context, docID uint, job *models.IndexingJob, msg string, cancelled bool) {
	// 流水线超时/取消后原ctx已失效，落库用独立ctx
	bg, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = s.store.Documents().Update(bg, docID, map[string]interface{}{
		"status":        models.DocumentStatusFailed,
		"error_message": msg,
		"update_time":   time.Now(),
	})

	status := models.JobStatusFailed
	stage := StageFailed
	if cancelled {
		status = models.JobStatusCancelled
		stage = StageCancelled
	}
	finish := time.Now()
	_ = s.store.Jobs().Update(bg, job.JobID, map[string]interface{}{
		"status":      status,
		"errors":      models.EncodeStringList([]string{msg}),
		"finish_time": &finish,
	})
	s.mirrorJobStatus(job.JobID, status, 0, job.DocsTotal)
	s.broker.Finish(JobProgress{
		JobID:      job.JobID,
		DocumentID: docID,
		Stage:      stage,
		DocsTotal:  job.DocsTotal,
		Error:      msg,
	})

	logger.Warn("文档索引失败",
		zap.Uint("document_id", docID),
		zap.Uint("job_id", job.JobID),
		zap.String("reason", msg))
}

func (s *IndexingService) cancelled(ctx context.Context, docID uint, job *models.IndexingJob) bool {
	if ctx.Err() == nil {
		return false
	}
	msg := "pipeline cancelled"
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		msg = "pipeline timed out"
	}
	s.failDocument(ctx, docID, job, msg, stderrors.Is(ctx.Err(), context.Canceled))
	return true
}

func (s *IndexingService) embedText(ctx context.Context, text string) ([]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.requestTimeout())
	defer cancel()
	vec, err := s.embedder.Embed(callCtx, text)
	if err != nil {
		s.metrics.EmbeddingRequestsInc("error")
		return nil, err
	}
	s.metrics.EmbeddingRequestsInc("ok")
	return vec, nil
}

func (s *IndexingService) ensureCollection(ctx context.Context, kbID uint) error {
	callCtx, cancel := context.WithTimeout(ctx, s.requestTimeout())
	defer cancel()
	return s.vectorStore.EnsureCollection(callCtx, kbID, s.embedder.Dimensions())
}

func (s *IndexingService) storeRawPayload(ctx context.Context, kbID uint, doc *models.KnowledgeDocument, filename string, payload []byte) {
	if s.objects == nil || !s.objects.Ready() {
		return
	}
	objectKey := path.Join(s.cfg.Storage.BasePath,
		fmt.Sprintf("kb_%d", kbID),
		fmt.Sprintf("doc_%d", doc.DocumentID),
		filename)
	if err := s.objects.Upload(ctx, objectKey, bytes.NewReader(payload), int64(len(payload)), "application/octet-stream"); err != nil {
		logger.Warn("原始文档上传失败", zap.Uint("document_id", doc.DocumentID), zap.Error(err))
		return
	}
	doc.FilePath = objectKey
	_ = s.store.Documents().Update(ctx, doc.DocumentID, map[string]interface{}{"file_path": objectKey})
}

func (s *IndexingService) loadRawPayload(ctx context.Context, doc *models.KnowledgeDocument) ([]byte, error) {
	if s.objects == nil || doc.FilePath == "" {
		return nil, fmt.Errorf("raw payload unavailable for document %d", doc.DocumentID)
	}
	reader, err := s.objects.Download(ctx, doc.FilePath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// mirrorJobStatus 任务状态镜像到Redis，跨进程查询用
func (s *IndexingService) mirrorJobStatus(jobID uint, status string, processed, total int) {
	if s.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	payload, _ := json.Marshal(map[string]interface{}{
		"status":         status,
		"docs_processed": processed,
		"docs_total":     total,
		"updated_at":     time.Now().Format(time.RFC3339),
	})
	key := fmt.Sprintf("knowledge:job:%d", jobID)
	if err := s.redis.Set(ctx, key, payload, 24*time.Hour).Err(); err != nil {
		logger.Debug("任务状态镜像失败", zap.Uint("job_id", jobID), zap.Error(err))
	}
}

func (s *IndexingService) publishProgress(job *models.IndexingJob, docID uint, stage string, processed int) {
	s.broker.Publish(JobProgress{
		JobID:         job.JobID,
		DocumentID:    docID,
		Stage:         stage,
		DocsProcessed: processed,
		DocsTotal:     job.DocsTotal,
	})
}

func (s *IndexingService) chunkMetadata(kb *models.KnowledgeBase, doc *models.KnowledgeDocument, docType, language string) map[string]interface{} {
	return map[string]interface{}{
		"title":         doc.Title,
		"document_type": docType,
		"language":      language,
		"tags":          models.ParseStringList(doc.Tags),
		"source":        doc.Source,
		"author":        doc.Author,
		"created_at":    doc.CreateTime.Format(time.RFC3339),
	}
}

func (s *IndexingService) loadKB(ctx context.Context, kbID uint) (*models.KnowledgeBase, error) {
	kb, err := s.store.KnowledgeBases().GetByID(ctx, kbID)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.NewNotFoundError(errors.ErrCodeKnowledgeBaseNotFound, "knowledge base")
		}
		return nil, errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to load knowledge base").WithCause(err)
	}
	return kb, nil
}

func (s *IndexingService) clearInflight(key string) {
	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()
}

func (s *IndexingService) clearCancel(jobID uint) {
	s.mu.Lock()
	delete(s.cancels, jobID)
	s.mu.Unlock()
}

func (s *IndexingService) pipelineTimeout() time.Duration {
	if s.cfg.PipelineTimeout > 0 {
		return time.Duration(s.cfg.PipelineTimeout) * time.Second
	}
	return 10 * time.Minute
}

func (s *IndexingService) requestTimeout() time.Duration {
	if s.cfg.RequestTimeout > 0 {
		return time.Duration(s.cfg.RequestTimeout) * time.Second
	}
	return 30 * time.Second
}

func metaStringValue(meta map[string]interface{}, key, fallback string) string {
	if v, ok := meta[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func mustJSON(v interface{}) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return raw
}
