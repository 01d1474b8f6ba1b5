package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseDocumentEvent 事件序列化往返
func TestParseDocumentEvent(t *testing.T) {
	src := &DocumentEvent{
		KnowledgeBaseID: 3,
		DocumentID:      7,
		JobID:           11,
		Action:          ActionIndex,
		UserID:          1,
		Timestamp:       time.Now().UTC().Truncate(time.Second),
	}
	raw, err := json.Marshal(src)
	require.NoError(t, err)

	evt, err := ParseDocumentEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, src.KnowledgeBaseID, evt.KnowledgeBaseID)
	assert.Equal(t, src.DocumentID, evt.DocumentID)
	assert.Equal(t, src.JobID, evt.JobID)
	assert.Equal(t, ActionIndex, evt.Action)
}

// TestParseDocumentEventInvalid 非法JSON报错
func TestParseDocumentEventInvalid(t *testing.T) {
	_, err := ParseDocumentEvent([]byte("{not json"))
	assert.Error(t, err)
}

// TestPublishDocumentEvent 消息体、key与header符合约定
func TestPublishDocumentEvent(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	defer mock.Close()

	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(raw []byte) error {
		evt, err := ParseDocumentEvent(raw)
		if err != nil {
			return err
		}
		assert.Equal(t, uint(5), evt.KnowledgeBaseID)
		assert.Equal(t, uint(9), evt.DocumentID)
		assert.Equal(t, ActionIndex, evt.Action)
		assert.False(t, evt.Timestamp.IsZero())
		return nil
	})

	producer := &Producer{producer: mock, topic: "knowledge-documents"}
	err := producer.PublishDocumentEvent(&DocumentEvent{
		KnowledgeBaseID: 5,
		DocumentID:      9,
		Action:          ActionIndex,
		UserID:          1,
	})
	require.NoError(t, err)
}

// TestPublishDocumentEventNilProducer 未初始化的生产者返回错误
func TestPublishDocumentEventNilProducer(t *testing.T) {
	var producer *Producer
	assert.Error(t, producer.PublishDocumentEvent(&DocumentEvent{}))
	assert.NoError(t, producer.Close())
}
