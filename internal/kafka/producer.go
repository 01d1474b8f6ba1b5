package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/aihub/knowledge-go/internal/logger"
)

// 文档事件动作
const (
	ActionIndex   = "index"
	ActionReindex = "reindex"
	ActionDelete  = "delete"
)

// DocumentEvent 文档处理事件
type DocumentEvent struct {
	KnowledgeBaseID uint      `json:"knowledge_base_id"`
	DocumentID      uint      `json:"document_id,omitempty"`
	JobID           uint      `json:"job_id,omitempty"`
	Action          string    `json:"action"`
	UserID          uint      `json:"user_id"`
	Timestamp       time.Time `json:"timestamp"`
}

// ParseDocumentEvent 解析文档处理事件
func ParseDocumentEvent(data []byte) (*DocumentEvent, error) {
	var evt DocumentEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("解析消息失败: %w", err)
	}
	return &evt, nil
}

// Producer Kafka生产者
type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

// NewProducer 创建Kafka生产者
func NewProducer(brokers []string, topic string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Timeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	logger.Info("Kafka生产者初始化成功", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return &Producer{producer: producer, topic: topic}, nil
}

// PublishDocumentEvent 发布文档处理事件
func (p *Producer) PublishDocumentEvent(evt *DocumentEvent) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("Kafka生产者未初始化")
	}

	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(fmt.Sprintf("%d-%d", evt.KnowledgeBaseID, evt.DocumentID)),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("action"),
				Value: []byte(evt.Action),
			},
			{
				Key:   []byte("user_id"),
				Value: []byte(fmt.Sprintf("%d", evt.UserID)),
			},
		},
	}

	partition, offset, err := p.producer.SendMessage(kafkaMsg)
	if err != nil {
		logger.Error("发送Kafka消息失败", zap.Error(err))
		return fmt.Errorf("发送消息失败: %w", err)
	}

	logger.Debug("Kafka消息发送成功",
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.Uint("document_id", evt.DocumentID),
		zap.String("action", evt.Action))

	return nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	if p != nil && p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
