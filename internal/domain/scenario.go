package domain

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// TriggerType 规则触发类型
type TriggerType string

const (
	TriggerSensor TriggerType = "SENSOR"
	TriggerTime   TriggerType = "TIME"
)

// ParseTriggerType 解析触发类型（大小写不敏感）
func ParseTriggerType(s string) (TriggerType, error) {
	switch t := TriggerType(strings.ToUpper(strings.TrimSpace(s))); t {
	case TriggerSensor, TriggerTime:
		return t, nil
	default:
		return "", fmt.Errorf("unknown trigger_type %q", s)
	}
}

// ActionType 规则动作类型
type ActionType string

const (
	ActionTurnOn  ActionType = "TURN_ON"
	ActionTurnOff ActionType = "TURN_OFF"
)

// ParseActionType 解析动作类型（大小写不敏感）
func ParseActionType(s string) (ActionType, error) {
	switch a := ActionType(strings.ToUpper(strings.TrimSpace(s))); a {
	case ActionTurnOn, ActionTurnOff:
		return a, nil
	default:
		return "", fmt.Errorf("unknown action_type %q", s)
	}
}

// Scenario 自动化场景（对应 automation_scenarios 表）
type Scenario struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`    // NOT NULL
	UserID    string    `db:"user_id"` // NOT NULL, FK users
	Enabled   bool      `db:"enabled"` // default true
	CreatedAt time.Time `db:"created_at"`
}

// ToJSON 转换为JSON格式（用于HTTP响应和事件载荷）
func (s *Scenario) ToJSON() map[string]any {
	return map[string]any{
		"id":         s.ID,
		"name":       s.Name,
		"user_id":    s.UserID,
		"enabled":    s.Enabled,
		"created_at": s.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Rule 场景规则（对应 automation_rules 表）
// 删除场景时级联删除；目标设备删除时 action_target 置空
type Rule struct {
	ID               string         `db:"id"`
	ScenarioID       string         `db:"scenario_id"` // NOT NULL, FK automation_scenarios ON DELETE CASCADE
	Position         int            `db:"position"`    // 创建时的顺序
	TriggerType      TriggerType    `db:"trigger_type"`
	TriggerCondition string         `db:"trigger_condition"`
	ActionType       ActionType     `db:"action_type"`
	ActionTarget     sql.NullString `db:"action_target"` // nullable, FK devices ON DELETE SET NULL
}

// ToJSON 转换为JSON格式（用于HTTP响应和事件载荷）
func (r *Rule) ToJSON() map[string]any {
	m := map[string]any{
		"id":                r.ID,
		"scenario_id":       r.ScenarioID,
		"trigger_type":      string(r.TriggerType),
		"trigger_condition": r.TriggerCondition,
		"action_type":       string(r.ActionType),
		"action_target":     nil,
	}
	if r.ActionTarget.Valid {
		m["action_target"] = r.ActionTarget.String
	}
	return m
}

// ScenarioWithRules 场景及其全部规则
type ScenarioWithRules struct {
	Scenario *Scenario
	Rules    []*Rule
}

// ToJSON 转换为JSON格式
func (s *ScenarioWithRules) ToJSON() map[string]any {
	m := s.Scenario.ToJSON()
	rules := make([]map[string]any, 0, len(s.Rules))
	for _, r := range s.Rules {
		rules = append(rules, r.ToJSON())
	}
	m["rules"] = rules
	return m
}

// ScenarioPatch 场景部分更新：只有非 nil 字段会被写入
type ScenarioPatch struct {
	Name    *string
	UserID  *string
	Enabled *bool
}

// PatchField 一个待更新的列
type PatchField struct {
	Column string
	Value  any
}

// IsEmpty 没有任何字段需要更新
func (p ScenarioPatch) IsEmpty() bool {
	return p.Name == nil && p.UserID == nil && p.Enabled == nil
}

// Fields 按固定顺序返回需要更新的列（name, user_id, enabled）
func (p ScenarioPatch) Fields() []PatchField {
	var out []PatchField
	if p.Name != nil {
		out = append(out, PatchField{Column: "name", Value: *p.Name})
	}
	if p.UserID != nil {
		out = append(out, PatchField{Column: "user_id", Value: *p.UserID})
	}
	if p.Enabled != nil {
		out = append(out, PatchField{Column: "enabled", Value: *p.Enabled})
	}
	return out
}
