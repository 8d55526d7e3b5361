package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"device-management/internal/config"
	"device-management/internal/domain"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// flakyTransport 前 failures 次失败，之后成功
type flakyTransport struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

func (f *flakyTransport) Send(context.Context, string, string, []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures < 0 || f.calls <= f.failures {
		return f.err
	}
	return nil
}

func (f *flakyTransport) Close() error { return nil }

func (f *flakyTransport) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// stuckTransport 忽略 ctx，一直阻塞到 release 被关闭
type stuckTransport struct {
	release chan struct{}
}

func (s *stuckTransport) Send(context.Context, string, string, []byte) error {
	<-s.release
	return nil
}

func (s *stuckTransport) Close() error { return nil }

func testOptions() Options {
	return Options{
		Timeout:         time.Second,
		MaxRetries:      2,
		RetryInterval:   time.Millisecond,
		BreakerFailures: 10,
		BreakerTimeout:  time.Minute,
	}
}

func TestPublish_Delivered(t *testing.T) {
	transport := NewMemoryTransport()
	p := NewBrokerPublisher(transport, testOptions(), zap.NewNop())

	receipt := p.Publish(context.Background(), TopicAutoCommand, "s-1", map[string]any{"id": "s-1"})

	require.True(t, receipt.Delivered())
	assert.Equal(t, 1, receipt.Attempts)
	assert.Equal(t, TopicAutoCommand, receipt.Topic)
	assert.Contains(t, receipt.String(), "delivered")

	msgs := transport.Messages(TopicAutoCommand)
	require.Len(t, msgs, 1)
	assert.Equal(t, "s-1", msgs[0].Key)
	assert.JSONEq(t, `{"id":"s-1"}`, string(msgs[0].Value))
	assert.Empty(t, transport.Messages(TopicUICommand))
}

func TestPublish_RetriesTransientFailure(t *testing.T) {
	transport := &flakyTransport{failures: 2, err: errors.New("leader not available")}
	p := NewBrokerPublisher(transport, testOptions(), zap.NewNop())

	receipt := p.Publish(context.Background(), TopicAutoCommand, "s-1", struct{}{})

	assert.True(t, receipt.Delivered())
	assert.Equal(t, 3, receipt.Attempts)
	assert.Equal(t, 3, transport.Calls())
}

func TestPublish_AlwaysFailing(t *testing.T) {
	brokerDown := errors.New("broker unreachable")
	transport := &flakyTransport{failures: -1, err: brokerDown}
	p := NewBrokerPublisher(transport, testOptions(), zap.NewNop())

	receipt := p.Publish(context.Background(), TopicAutoCommand, "s-1", struct{}{})

	assert.False(t, receipt.Delivered())
	assert.ErrorIs(t, receipt.Err, brokerDown)
	assert.Equal(t, 3, receipt.Attempts)
	assert.Contains(t, receipt.String(), "failed after 3 attempt(s)")
}

func TestPublish_SerializationFailure(t *testing.T) {
	transport := &flakyTransport{}
	p := NewBrokerPublisher(transport, testOptions(), zap.NewNop())

	receipt := p.Publish(context.Background(), TopicAutoCommand, "s-1", map[string]any{"ch": make(chan int)})

	assert.False(t, receipt.Delivered())
	assert.Contains(t, receipt.Err.Error(), "serialize")
	assert.Equal(t, 0, receipt.Attempts)
	assert.Equal(t, 0, transport.Calls())
}

func TestPublish_TimeoutBoundsStuckTransport(t *testing.T) {
	transport := &stuckTransport{release: make(chan struct{})}
	defer close(transport.release)

	opts := testOptions()
	opts.Timeout = 50 * time.Millisecond
	p := NewBrokerPublisher(transport, opts, zap.NewNop())

	start := time.Now()
	receipt := p.Publish(context.Background(), TopicAutoCommand, "s-1", struct{}{})

	assert.False(t, receipt.Delivered())
	assert.ErrorIs(t, receipt.Err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPublish_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	transport := &flakyTransport{failures: -1, err: errors.New("broker unreachable")}
	opts := testOptions()
	opts.MaxRetries = 0
	opts.BreakerFailures = 2
	p := NewBrokerPublisher(transport, opts, zap.NewNop())

	for i := 0; i < 2; i++ {
		r := p.Publish(context.Background(), TopicAutoCommand, "s-1", struct{}{})
		require.False(t, r.Delivered())
	}
	assert.Equal(t, gobreaker.StateOpen, p.State())

	r := p.Publish(context.Background(), TopicAutoCommand, "s-1", struct{}{})
	assert.ErrorIs(t, r.Err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, transport.Calls())
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default().Events
	opts := OptionsFromConfig(cfg)
	assert.Equal(t, cfg.PublishTimeout, opts.Timeout)
	assert.Equal(t, cfg.MaxRetries, opts.MaxRetries)
	assert.Equal(t, uint32(cfg.BreakerFailures), opts.BreakerFailures)

	var zero Options
	zero.withDefaults()
	assert.Equal(t, 5*time.Second, zero.Timeout)
	assert.Equal(t, uint32(5), zero.BreakerFailures)
}

func TestDiscardTransport(t *testing.T) {
	p := NewBrokerPublisher(DiscardTransport{}, testOptions(), nil)
	assert.True(t, p.Publish(context.Background(), TopicUICommand, "d-1", struct{}{}).Delivered())
}

func TestNewScenarioCreated(t *testing.T) {
	created := time.Date(2026, 10, 19, 22, 0, 0, 0, time.UTC)
	s := &domain.ScenarioWithRules{
		Scenario: &domain.Scenario{ID: "s-1", Name: "Night mode", UserID: "u-1", Enabled: true, CreatedAt: created},
		Rules: []*domain.Rule{
			{ID: "r-1", ScenarioID: "s-1", TriggerType: domain.TriggerTime, TriggerCondition: "22:00",
				ActionType: domain.ActionTurnOff, ActionTarget: sql.NullString{String: "d-1", Valid: true}},
			{ID: "r-2", ScenarioID: "s-1", TriggerType: domain.TriggerSensor, TriggerCondition: "motion",
				ActionType: domain.ActionTurnOn},
		},
	}

	b, err := json.Marshal(NewScenarioCreated(s))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "s-1",
		"name": "Night mode",
		"user_id": "u-1",
		"enabled": true,
		"created_at": "2026-10-19T22:00:00Z",
		"rules": [
			{"id": "r-1", "trigger_type": "TIME", "trigger_condition": "22:00", "action_type": "TURN_OFF", "action_target": "d-1"},
			{"id": "r-2", "trigger_type": "SENSOR", "trigger_condition": "motion", "action_type": "TURN_ON", "action_target": null}
		]
	}`, string(b))
}

func TestNewDevicePayload(t *testing.T) {
	at := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	p := NewDevicePayload(&domain.Device{
		ID: "d-1", Name: "Lamp", Type: domain.DeviceSwitch, Model: "SW-1",
		FirmwareVersion: "1.0", Status: "active", IsActivated: true,
		OwnerID:     sql.NullString{String: "u-1", Valid: true},
		ActivatedAt: sql.NullTime{Time: at, Valid: true},
	})
	require.NotNil(t, p.OwnerID)
	assert.Equal(t, "u-1", *p.OwnerID)
	require.NotNil(t, p.ActivatedAt)
	assert.Equal(t, "2026-10-19T09:00:00Z", *p.ActivatedAt)
	assert.Equal(t, "SWITCH", p.Type)
}
