package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// 每个主题对应一个 Stream，保留最近 defaultStreamMaxLen 条
const defaultStreamMaxLen = 10000

// StreamMessage Redis Streams 消息
type StreamMessage struct {
	Stream string
	ID     string
	Values map[string]interface{}
}

// StreamTransport 把事件写入 Redis Streams，实现 events.Transport
// 消息字段：key（实体id）、data（JSON）、timestamp（Unix秒）
type StreamTransport struct {
	client *redis.Client
	maxLen int64
}

// NewStreamTransport 创建 Streams Transport；client 由调用方关闭
func NewStreamTransport(client *redis.Client) *StreamTransport {
	return &StreamTransport{client: client, maxLen: defaultStreamMaxLen}
}

// Send 使用 XADD 发布一条消息
func (s *StreamTransport) Send(ctx context.Context, topic, key string, value []byte) error {
	_, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"key":       key,
			"data":      string(value),
			"timestamp": time.Now().Unix(),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to add to stream %s: %w", topic, err)
	}
	return nil
}

// Close 不关闭共享的 client
func (s *StreamTransport) Close() error { return nil }

// ReadStream 按顺序读取 Stream 中的消息（调试 / 运维用）
func ReadStream(ctx context.Context, client *redis.Client, stream string, count int64) ([]StreamMessage, error) {
	msgs, err := client.XRangeN(ctx, stream, "-", "+", count).Result()
	if err != nil {
		return nil, err
	}

	out := make([]StreamMessage, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, StreamMessage{
			Stream: stream,
			ID:     msg.ID,
			Values: msg.Values,
		})
	}
	return out, nil
}
