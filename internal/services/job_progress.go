package services

import (
	"sync"
	"time"
)

// 流水线阶段
const (
	StageValidated  = "validated"
	StageExtracting = "extracting"
	StageChunking   = "chunking"
	StageEmbedding  = "embedding"
	StageCommitting = "committing"
	StageCompleted  = "completed"
	StageFailed     = "failed"
	StageCancelled  = "cancelled"
)

// JobProgress 索引任务进度事件
type JobProgress struct {
	JobID         uint      `json:"job_id"`
	DocumentID    uint      `json:"document_id,omitempty"`
	Stage         string    `json:"stage"`
	DocsProcessed int       `json:"docs_processed"`
	DocsTotal     int       `json:"docs_total"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// progressBroker 按任务分发进度事件；订阅channel有缓冲，慢消费者丢事件不阻塞流水线
type progressBroker struct {
	mu   sync.Mutex
	subs map[uint][]chan JobProgress
}

func newProgressBroker() *progressBroker {
	return &progressBroker{subs: make(map[uint][]chan JobProgress)}
}

// Subscribe 订阅任务进度，任务结束后channel关闭
func (b *progressBroker) Subscribe(jobID uint) <-chan JobProgress {
	ch := make(chan JobProgress, 16)
	b.mu.Lock()
	b.subs[jobID] = append(b.subs[jobID], ch)
	b.mu.Unlock()
	return ch
}

func (b *progressBroker) Publish(evt JobProgress) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.Lock()
	subs := b.subs[evt.JobID]
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Finish 发布终态事件并关闭全部订阅
func (b *progressBroker) Finish(evt JobProgress) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.Lock()
	subs := b.subs[evt.JobID]
	delete(b.subs, evt.JobID)
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
		}
		close(ch)
	}
}
