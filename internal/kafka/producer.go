package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// EventUsageRecorded 用量记录事件类型
const EventUsageRecorded = "usage.recorded"

// UsageEvent 用量记录事件，UsageService 提交事务后发布
type UsageEvent struct {
	EventType      string    `json:"event_type"`
	UsageLogID     uint      `json:"usage_log_id"`
	UserID         uint      `json:"user_id"`
	ModelID        uint      `json:"model_id"`
	ConversationID *uint     `json:"conversation_id,omitempty"`
	TemplateID     *uint     `json:"template_id,omitempty"`
	OperationType  string    `json:"operation_type"`
	ContextType    *string   `json:"context_type,omitempty"`
	ContextID      *string   `json:"context_id,omitempty"`
	Status         string    `json:"status"`
	InputTokens    int       `json:"input_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	TotalTokens    int       `json:"total_tokens"`
	Cost           float64   `json:"cost"`
	ResponseTimeMs *int      `json:"response_time_ms,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Publisher 用量事件发布接口
type Publisher interface {
	PublishUsage(ctx context.Context, event *UsageEvent) error
	Close() error
}

// Producer Kafka生产者
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewSaramaConfig 生产者配置
func NewSaramaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Timeout = 10 * time.Second
	config.Producer.Partitioner = sarama.NewHashPartitioner
	return config
}

// NewProducer 连接broker并创建生产者
func NewProducer(brokers []string, topic string, logger *zap.Logger) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	logger.Info("Kafka生产者初始化成功", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return NewProducerWithClient(producer, topic, logger), nil
}

// NewProducerWithClient 使用已有的 SyncProducer 创建生产者
func NewProducerWithClient(producer sarama.SyncProducer, topic string, logger *zap.Logger) *Producer {
	return &Producer{producer: producer, topic: topic, logger: logger}
}

// PublishUsage 发送用量事件，按用户分区保证同一用户的事件有序
func (p *Producer) PublishUsage(ctx context.Context, event *UsageEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.EventType == "" {
		event.EventType = EventUsageRecorded
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(strconv.FormatUint(uint64(event.UserID), 10)),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.EventType)},
			{Key: []byte("model_id"), Value: []byte(strconv.FormatUint(uint64(event.ModelID), 10))},
			{Key: []byte("status"), Value: []byte(event.Status)},
		},
		Timestamp: event.OccurredAt,
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Error("发送Kafka消息失败", zap.Uint("usage_log_id", event.UsageLogID), zap.Error(err))
		return fmt.Errorf("发送消息失败: %w", err)
	}

	p.logger.Debug("Kafka消息发送成功",
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.Uint("usage_log_id", event.UsageLogID))
	return nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	if p != nil && p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NoopPublisher Kafka未启用时使用
type NoopPublisher struct{}

// PublishUsage 不做任何事
func (NoopPublisher) PublishUsage(context.Context, *UsageEvent) error { return nil }

// Close 不做任何事
func (NoopPublisher) Close() error { return nil }
