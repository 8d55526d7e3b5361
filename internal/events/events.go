// Package events 负责把领域事件投递到消息中间件（Kafka / MQTT / Redis Streams）
//
// 投递是尽力而为的：Publish 总是返回 Receipt，由调用方决定失败时如何处理，
// 不会 panic，也不会把中间件错误传播给数据库事务。
package events

import (
	"context"
	"fmt"
)

// 固定主题
const (
	TopicAutoCommand              = "autoCommand"
	TopicNewDeviceNotification    = "newDeviceNotification"
	TopicUIActivatedCommand       = "uiActivatedCommand"
	TopicUICommand                = "uiCommand"
	TopicDeleteDeviceNotification = "deleteDeviceNotification"
)

// Transport 底层消息通道（一条消息 = topic + key + 已序列化的 value）
type Transport interface {
	Send(ctx context.Context, topic, key string, value []byte) error
	Close() error
}

// Publisher 事件发布接口
type Publisher interface {
	// Publish 序列化 payload 并投递，结果通过 Receipt 返回
	Publish(ctx context.Context, topic, key string, payload any) Receipt
}

// Receipt 一次发布的结果：要么已投递，要么带着失败原因
type Receipt struct {
	Topic    string
	Key      string
	Attempts int
	Err      error
}

// Delivered 是否已被中间件确认
func (r Receipt) Delivered() bool { return r.Err == nil }

func (r Receipt) String() string {
	if r.Delivered() {
		return fmt.Sprintf("%s/%s delivered after %d attempt(s)", r.Topic, r.Key, r.Attempts)
	}
	return fmt.Sprintf("%s/%s failed after %d attempt(s): %v", r.Topic, r.Key, r.Attempts, r.Err)
}

// DiscardTransport 丢弃所有消息（events.backend=none）
type DiscardTransport struct{}

func (DiscardTransport) Send(context.Context, string, string, []byte) error { return nil }

func (DiscardTransport) Close() error { return nil }
