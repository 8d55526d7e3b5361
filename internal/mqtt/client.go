package mqtt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"device-management/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	connectTimeout      = 5 * time.Second
	defaultWaitTimeout  = 5 * time.Second
	disconnectQuiesceMs = 250
)

// Client MQTT客户端封装，实现 events.Transport
type Client struct {
	client mqtt.Client
	config *config.MQTTConfig
	logger *zap.Logger
}

// NewClient 创建MQTT客户端并连接
func NewClient(cfg *config.MQTTConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("MQTT connected", zap.String("broker", cfg.Broker))
	})

	client := mqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("failed to connect to MQTT broker: timed out after %s", connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	return &Client{
		client: client,
		config: cfg,
		logger: logger,
	}, nil
}

// Publish 发布消息，等待 broker 确认直到 ctx 的截止时间
func (c *Client) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)

	wait := defaultWaitTimeout
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("failed to publish to topic %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}

	return nil
}

// Send 实现 events.Transport：事件主题挂在配置的前缀下，key 不参与路由（载荷里已包含id）
func (c *Client) Send(ctx context.Context, topic, _ string, value []byte) error {
	return c.Publish(ctx, Topic(c.config.TopicPrefix, topic), c.config.QoS, false, value)
}

// Close 断开连接
func (c *Client) Close() error {
	c.client.Disconnect(disconnectQuiesceMs)
	return nil
}

// IsConnected 检查连接状态
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Topic 拼接主题前缀，例如 ("smarthome/events", "autoCommand") -> "smarthome/events/autoCommand"
func Topic(prefix, topic string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return topic
	}
	return prefix + "/" + topic
}
