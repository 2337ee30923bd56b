package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// UsageHandler 用量事件处理函数
type UsageHandler func(ctx context.Context, event *UsageEvent) error

// Consumer 用量事件消费者
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler UsageHandler
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewConsumer 创建消费者组
func NewConsumer(brokers []string, groupID string, topics []string, handler UsageHandler, logger *zap.Logger) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true
	config.Version = sarama.V2_6_0_0

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("创建Kafka消费者组失败: %w", err)
	}

	logger.Info("Kafka消费者初始化成功",
		zap.Strings("brokers", brokers),
		zap.String("group_id", groupID),
		zap.Strings("topics", topics))

	return &Consumer{group: group, topics: topics, handler: handler, logger: logger}, nil
}

// Run 消费直到 ctx 结束
func (c *Consumer) Run(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.Error("Kafka消费者错误", zap.Error(err))
		}
	}()

	handler := &groupHandler{handler: c.handler, logger: c.logger}
	for {
		if err := c.group.Consume(ctx, c.topics, handler); err != nil {
			c.logger.Error("消费消息失败", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
		}
		if ctx.Err() != nil {
			c.logger.Info("Kafka消费者停止")
			return nil
		}
	}
}

// Close 关闭消费者
func (c *Consumer) Close() error {
	err := c.group.Close()
	c.wg.Wait()
	return err
}

// groupHandler 消费者组处理器
type groupHandler struct {
	handler UsageHandler
	logger  *zap.Logger
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim 处理成功才标记位移，失败的消息在下次会话重投
func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if err := h.handle(session.Context(), message); err != nil {
				h.logger.Error("处理消息失败",
					zap.String("topic", message.Topic),
					zap.Int32("partition", message.Partition),
					zap.Int64("offset", message.Offset),
					zap.Error(err))
				continue
			}
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *groupHandler) handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	event, err := DecodeUsageEvent(message.Value)
	if err != nil {
		return err
	}
	return h.handler(ctx, event)
}

// DecodeUsageEvent 解析用量事件
func DecodeUsageEvent(data []byte) (*UsageEvent, error) {
	var event UsageEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("解析消息失败: %w", err)
	}
	if event.EventType != EventUsageRecorded {
		return nil, fmt.Errorf("unexpected event type %q", event.EventType)
	}
	return &event, nil
}
