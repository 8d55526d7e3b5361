package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"device-management/internal/database"
	"device-management/internal/domain"
)

// ScenariosRepository 自动化场景Repository接口
// 场景和规则总是一起创建；删除场景时同一事务内删除其规则
type ScenariosRepository interface {
	// GetScenario 根据id获取场景，不存在时返回 domain.NotFoundError
	GetScenario(ctx context.Context, id string) (*domain.Scenario, error)

	// ListScenarios 查询全部场景（不含规则），按创建时间倒序
	ListScenarios(ctx context.Context) ([]*domain.Scenario, error)

	// ListRulesByScenario 按 scenario_id 查询规则，按创建顺序
	ListRulesByScenario(ctx context.Context, scenarioID string) ([]*domain.Rule, error)

	// CreateScenarioWithRules 在一个事务中插入场景和全部规则
	// id / created_at / scenario_id / position 由Repository生成
	// 任一步失败整体回滚；约束冲突返回 domain.IntegrityError
	CreateScenarioWithRules(ctx context.Context, scenario *domain.Scenario, rules []*domain.Rule) (*domain.ScenarioWithRules, error)

	// UpdateScenario 部分更新，只写 patch 中存在的字段，返回更新后的场景
	UpdateScenario(ctx context.Context, id string, patch domain.ScenarioPatch) (*domain.Scenario, error)

	// DeleteScenario 删除场景及其规则（同一事务）
	DeleteScenario(ctx context.Context, id string) error
}

// UsersRepository 用户Repository接口
type UsersRepository interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]*domain.User, error)
	CreateUser(ctx context.Context, user *domain.User) (*domain.User, error)
	// DeleteUser 删除用户；其场景和规则由外键级联删除
	DeleteUser(ctx context.Context, id string) error
}

// DevicesRepository 设备Repository接口
type DevicesRepository interface {
	GetDevice(ctx context.Context, id string) (*domain.Device, error)
	GetDeviceByActivationCode(ctx context.Context, code string) (*domain.Device, error)
	ListDevices(ctx context.Context) ([]*domain.Device, error)
	CreateDevice(ctx context.Context, device *domain.Device) (*domain.Device, error)
	UpdateDevice(ctx context.Context, id string, patch domain.DevicePatch) (*domain.Device, error)
	// ActivateDevice 仅当设备尚未激活时激活；已激活返回 domain.ConflictError
	ActivateDevice(ctx context.Context, id string, ownerID sql.NullString, at time.Time) (*domain.Device, error)
	// DeleteDevice 删除设备；引用它的规则 action_target 由外键置空
	DeleteDevice(ctx context.Context, id string) error
}

// rowScanner 同时适配 *sql.Row 和 *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// queryer 同时适配 *sql.DB 和 *sql.Tx
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// storeError 把驱动错误转换为领域错误：约束冲突 -> IntegrityError，其余包装返回
func storeError(op string, err error) error {
	if database.IsIntegrityViolation(err) {
		return &domain.IntegrityError{Op: op, Err: err}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// utcNow 数据库时间统一使用UTC并截断到微秒（PostgreSQL 精度）
func utcNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
