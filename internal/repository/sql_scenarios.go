package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"device-management/internal/domain"

	"github.com/google/uuid"
)

const scenarioColumns = `id, name, user_id, enabled, created_at`

const ruleColumns = `id, scenario_id, position, trigger_type, trigger_condition, action_type, action_target`

// rulesInsertBatch 每条 INSERT 的规则数（7 列 x 100 = 700 个参数，低于 SQLite 旧版本的 999）
const rulesInsertBatch = 100

// SQLScenariosRepository 场景Repository实现
// SQL 只使用 PostgreSQL 与 SQLite 共有的语法（$N 占位符按出现顺序编号）
type SQLScenariosRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLScenariosRepository 创建场景Repository
func NewSQLScenariosRepository(db *sql.DB) *SQLScenariosRepository {
	return &SQLScenariosRepository{db: db, now: utcNow}
}

// 确保实现了接口
var _ ScenariosRepository = (*SQLScenariosRepository)(nil)

// GetScenario 根据id获取场景
func (r *SQLScenariosRepository) GetScenario(ctx context.Context, id string) (*domain.Scenario, error) {
	return getScenario(ctx, r.db, id)
}

func getScenario(ctx context.Context, q queryer, id string) (*domain.Scenario, error) {
	row := q.QueryRowContext(ctx, `SELECT `+scenarioColumns+` FROM automation_scenarios WHERE id = $1`, id)
	s, err := scanScenario(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFound(domain.EntityScenario, id)
		}
		return nil, fmt.Errorf("failed to get scenario: %w", err)
	}
	return s, nil
}

// ListScenarios 查询全部场景
func (r *SQLScenariosRepository) ListScenarios(ctx context.Context) ([]*domain.Scenario, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+scenarioColumns+` FROM automation_scenarios ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scenarios: %w", err)
	}
	defer rows.Close()

	scenarios := []*domain.Scenario{}
	for rows.Next() {
		s, err := scanScenario(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scenario: %w", err)
		}
		scenarios = append(scenarios, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scenarios: %w", err)
	}
	return scenarios, nil
}

// ListRulesByScenario 按 scenario_id 查询规则
func (r *SQLScenariosRepository) ListRulesByScenario(ctx context.Context, scenarioID string) ([]*domain.Rule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules WHERE scenario_id = $1 ORDER BY position`, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	rules := []*domain.Rule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}
	return rules, nil
}

// CreateScenarioWithRules 在一个事务中创建场景和规则
func (r *SQLScenariosRepository) CreateScenarioWithRules(ctx context.Context, scenario *domain.Scenario, rules []*domain.Rule) (*domain.ScenarioWithRules, error) {
	if scenario == nil {
		return nil, fmt.Errorf("scenario is required")
	}

	created := *scenario
	created.ID = uuid.NewString()
	created.CreatedAt = r.now()

	createdRules := make([]*domain.Rule, 0, len(rules))
	for i, rule := range rules {
		rr := *rule
		rr.ID = uuid.NewString()
		rr.ScenarioID = created.ID
		rr.Position = i
		createdRules = append(createdRules, &rr)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// 1. 场景
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO automation_scenarios (`+scenarioColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		created.ID, created.Name, created.UserID, created.Enabled, created.CreatedAt,
	); err != nil {
		return nil, storeError("insert scenario", err)
	}

	// 2. 规则：按批多行 INSERT，单条语句的绑定参数不超过驱动上限
	for start := 0; start < len(createdRules); start += rulesInsertBatch {
		end := min(start+rulesInsertBatch, len(createdRules))
		query, args := buildRulesInsert(createdRules[start:end])
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return nil, storeError("insert rules", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, storeError("commit scenario", err)
	}

	return &domain.ScenarioWithRules{Scenario: &created, Rules: createdRules}, nil
}

func buildRulesInsert(rules []*domain.Rule) (string, []any) {
	const cols = 7
	values := make([]string, 0, len(rules))
	args := make([]any, 0, len(rules)*cols)
	for i, rule := range rules {
		base := i * cols
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7))
		args = append(args,
			rule.ID,
			rule.ScenarioID,
			rule.Position,
			string(rule.TriggerType),
			rule.TriggerCondition,
			string(rule.ActionType),
			rule.ActionTarget,
		)
	}
	return `INSERT INTO automation_rules (` + ruleColumns + `) VALUES ` + strings.Join(values, ", "), args
}

// UpdateScenario 部分更新场景
func (r *SQLScenariosRepository) UpdateScenario(ctx context.Context, id string, patch domain.ScenarioPatch) (*domain.Scenario, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if fields := patch.Fields(); len(fields) > 0 {
		set := make([]string, 0, len(fields))
		args := make([]any, 0, len(fields)+1)
		for i, f := range fields {
			set = append(set, fmt.Sprintf("%s = $%d", f.Column, i+1))
			args = append(args, f.Value)
		}
		args = append(args, id)
		q := "UPDATE automation_scenarios SET " + strings.Join(set, ", ") + fmt.Sprintf(" WHERE id = $%d", len(args))

		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return nil, storeError("update scenario", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, domain.NewNotFound(domain.EntityScenario, id)
		}
	}

	s, err := getScenario(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, storeError("commit scenario update", err)
	}
	return s, nil
}

// DeleteScenario 删除场景：先删规则再删场景，同一事务
func (r *SQLScenariosRepository) DeleteScenario(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM automation_rules WHERE scenario_id = $1`, id); err != nil {
		return storeError("delete rules", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM automation_scenarios WHERE id = $1`, id)
	if err != nil {
		return storeError("delete scenario", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return domain.NewNotFound(domain.EntityScenario, id)
	}

	if err := tx.Commit(); err != nil {
		return storeError("commit scenario delete", err)
	}
	return nil
}

func scanScenario(row rowScanner) (*domain.Scenario, error) {
	var s domain.Scenario
	if err := row.Scan(&s.ID, &s.Name, &s.UserID, &s.Enabled, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.CreatedAt = s.CreatedAt.UTC()
	return &s, nil
}

func scanRule(row rowScanner) (*domain.Rule, error) {
	var (
		rule        domain.Rule
		triggerType string
		actionType  string
	)
	if err := row.Scan(
		&rule.ID,
		&rule.ScenarioID,
		&rule.Position,
		&triggerType,
		&rule.TriggerCondition,
		&actionType,
		&rule.ActionTarget,
	); err != nil {
		return nil, err
	}
	rule.TriggerType = domain.TriggerType(triggerType)
	rule.ActionType = domain.ActionType(actionType)
	return &rule, nil
}
