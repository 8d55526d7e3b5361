package kafka

import (
	"context"
	"fmt"
	"time"

	"device-management/internal/config"

	"github.com/segmentio/kafka-go"
)

// Producer Kafka 生产者，实现 events.Transport
// 主题在每条消息上指定，同一个 Writer 可写多个主题
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 创建 Kafka 生产者（不会立即连接，首次写入时建立连接）
func NewProducer(cfg *config.KafkaConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{}, // 同一个 key 落在同一分区
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		MaxAttempts:            1, // 重试由 events.BrokerPublisher 负责
		BatchTimeout:           10 * time.Millisecond,
		Transport: &kafka.Transport{
			ClientID:    cfg.ClientID,
			DialTimeout: 3 * time.Second,
		},
	}

	return &Producer{writer: w}, nil
}

// Send 写入一条消息，阻塞直到 broker 确认或 ctx 结束
func (p *Producer) Send(ctx context.Context, topic, key string, value []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to write to kafka topic %s: %w", topic, err)
	}
	return nil
}

// Close 刷新并关闭 Writer
func (p *Producer) Close() error {
	return p.writer.Close()
}
