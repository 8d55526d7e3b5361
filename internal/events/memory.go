package events

import (
	"context"
	"sync"
)

// Message 已投递的一条消息
type Message struct {
	Topic string
	Key   string
	Value []byte
}

// MemoryTransport 把消息保存在内存里（events.backend=memory，本地调试和测试用）
type MemoryTransport struct {
	mu       sync.Mutex
	messages []Message
}

// NewMemoryTransport 创建内存 Transport
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{}
}

func (m *MemoryTransport) Send(_ context.Context, topic, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, Message{Topic: topic, Key: key, Value: append([]byte(nil), value...)})
	return nil
}

func (m *MemoryTransport) Close() error { return nil }

// Messages 返回已投递消息的副本；topic 为空时返回全部
func (m *MemoryTransport) Messages(topic string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, 0, len(m.messages))
	for _, msg := range m.messages {
		if topic == "" || msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}
