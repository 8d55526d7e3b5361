package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"device-management/internal/config"
	"device-management/internal/database"
	"device-management/internal/domain"
	"device-management/internal/events"
	"device-management/internal/repository"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// downTransport 模拟 broker 不可用
type downTransport struct{}

func (downTransport) Send(context.Context, string, string, []byte) error {
	return errors.New("broker unreachable")
}

func (downTransport) Close() error { return nil }

// testEnv 基于内存SQLite的完整服务环境
type testEnv struct {
	db        *sql.DB
	users     *repository.SQLUsersRepository
	devices   *repository.SQLDevicesRepository
	scenarios *repository.SQLScenariosRepository
	transport *events.MemoryTransport
	publisher *events.BrokerPublisher
}

func newTestEnv(t *testing.T, transport events.Transport) *testEnv {
	t.Helper()
	db, err := database.Open(&config.DatabaseConfig{Driver: "sqlite3", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.ApplySchema(context.Background(), db, "sqlite3"))

	env := &testEnv{
		db:        db,
		users:     repository.NewSQLUsersRepository(db),
		devices:   repository.NewSQLDevicesRepository(db),
		scenarios: repository.NewSQLScenariosRepository(db),
	}
	if transport == nil {
		env.transport = events.NewMemoryTransport()
		transport = env.transport
	}
	env.publisher = events.NewBrokerPublisher(transport, events.Options{
		Timeout:       time.Second,
		MaxRetries:    1,
		RetryInterval: time.Millisecond,
	}, zap.NewNop())
	return env
}

func (e *testEnv) seedUser(t *testing.T) *domain.User {
	t.Helper()
	u, err := e.users.CreateUser(context.Background(), &domain.User{Email: "u1@example.com", Name: "U1"})
	require.NoError(t, err)
	return u
}

func (e *testEnv) seedDevice(t *testing.T, activationCode string) *domain.Device {
	t.Helper()
	d := &domain.Device{Name: "Bedroom lamp", Type: domain.DeviceSwitch, Model: "SW-1"}
	if activationCode != "" {
		d.ActivationCode = sql.NullString{String: activationCode, Valid: true}
	}
	created, err := e.devices.CreateDevice(context.Background(), d)
	require.NoError(t, err)
	return created
}

func (e *testEnv) count(t *testing.T, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, e.db.QueryRowContext(context.Background(), query, args...).Scan(&n))
	return n
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }
