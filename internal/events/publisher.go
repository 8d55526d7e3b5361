package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"device-management/internal/config"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Options BrokerPublisher 参数
type Options struct {
	Timeout         time.Duration // 单次 Publish 的总时限（含重试）
	MaxRetries      int
	RetryInterval   time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// OptionsFromConfig 从事件配置生成参数
func OptionsFromConfig(cfg config.EventsConfig) Options {
	return Options{
		Timeout:         cfg.PublishTimeout,
		MaxRetries:      cfg.MaxRetries,
		RetryInterval:   100 * time.Millisecond,
		BreakerFailures: uint32(cfg.BreakerFailures),
		BreakerTimeout:  cfg.BreakerTimeout,
	}
}

func (o *Options) withDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 100 * time.Millisecond
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = 5
	}
	if o.BreakerTimeout <= 0 {
		o.BreakerTimeout = 30 * time.Second
	}
}

// BrokerPublisher 在 Transport 之上加上超时、重试和熔断
type BrokerPublisher struct {
	transport Transport
	breaker   *gobreaker.CircuitBreaker
	opts      Options
	logger    *zap.Logger
}

// NewBrokerPublisher 创建发布器；transport 的生命周期由调用方管理
func NewBrokerPublisher(transport Transport, opts Options, logger *zap.Logger) *BrokerPublisher {
	opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &BrokerPublisher{
		transport: transport,
		opts:      opts,
		logger:    logger,
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "event-publisher",
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("Event publisher circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return p
}

var _ Publisher = (*BrokerPublisher)(nil)

// Publish 实现 Publisher
func (p *BrokerPublisher) Publish(ctx context.Context, topic, key string, payload any) Receipt {
	receipt := Receipt{Topic: topic, Key: key}

	value, err := json.Marshal(payload)
	if err != nil {
		receipt.Err = fmt.Errorf("failed to serialize event payload: %w", err)
		return receipt
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.opts.RetryInterval
	b.MaxElapsedTime = 0

	operation := func() error {
		receipt.Attempts++
		_, err := p.breaker.Execute(func() (interface{}, error) {
			return nil, p.send(ctx, topic, key, value)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.opts.MaxRetries)), ctx)); err != nil {
		receipt.Err = err
	}
	return receipt
}

// send 保证在 ctx 到期时返回，即使 Transport 本身不理会 ctx
func (p *BrokerPublisher) send(ctx context.Context, topic, key string, value []byte) error {
	done := make(chan error, 1)
	go func() {
		done <- p.transport.Send(ctx, topic, key, value)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("publish to %s timed out: %w", topic, ctx.Err())
	}
}

// State 当前熔断器状态
func (p *BrokerPublisher) State() gobreaker.State {
	return p.breaker.State()
}
