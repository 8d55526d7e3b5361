package events

import (
	"time"

	"device-management/internal/domain"
)

// RulePayload autoCommand 事件中的一条规则
type RulePayload struct {
	ID               string  `json:"id"`
	TriggerType      string  `json:"trigger_type"`
	TriggerCondition string  `json:"trigger_condition"`
	ActionType       string  `json:"action_type"`
	ActionTarget     *string `json:"action_target"`
}

// ScenarioCreated autoCommand 事件载荷，key 为场景id
type ScenarioCreated struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	UserID    string        `json:"user_id"`
	Enabled   bool          `json:"enabled"`
	CreatedAt string        `json:"created_at"` // RFC3339
	Rules     []RulePayload `json:"rules"`
}

// NewScenarioCreated 根据已持久化的场景构造事件载荷
func NewScenarioCreated(s *domain.ScenarioWithRules) ScenarioCreated {
	ev := ScenarioCreated{
		ID:        s.Scenario.ID,
		Name:      s.Scenario.Name,
		UserID:    s.Scenario.UserID,
		Enabled:   s.Scenario.Enabled,
		CreatedAt: s.Scenario.CreatedAt.UTC().Format(time.RFC3339Nano),
		Rules:     make([]RulePayload, 0, len(s.Rules)),
	}
	for _, r := range s.Rules {
		rp := RulePayload{
			ID:               r.ID,
			TriggerType:      string(r.TriggerType),
			TriggerCondition: r.TriggerCondition,
			ActionType:       string(r.ActionType),
		}
		if r.ActionTarget.Valid {
			target := r.ActionTarget.String
			rp.ActionTarget = &target
		}
		ev.Rules = append(ev.Rules, rp)
	}
	return ev
}

// DevicePayload 设备事件载荷（newDeviceNotification / uiCommand / uiActivatedCommand）
type DevicePayload struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Type            string  `json:"type"`
	Model           string  `json:"model"`
	FirmwareVersion string  `json:"firmware_version"`
	Status          string  `json:"status"`
	OwnerID         *string `json:"owner_id"`
	IsActivated     bool    `json:"is_activated"`
	ActivatedAt     *string `json:"activated_at"`
}

// NewDevicePayload 根据设备构造事件载荷
func NewDevicePayload(d *domain.Device) DevicePayload {
	p := DevicePayload{
		ID:              d.ID,
		Name:            d.Name,
		Type:            string(d.Type),
		Model:           d.Model,
		FirmwareVersion: d.FirmwareVersion,
		Status:          d.Status,
		IsActivated:     d.IsActivated,
	}
	if d.OwnerID.Valid {
		owner := d.OwnerID.String
		p.OwnerID = &owner
	}
	if d.ActivatedAt.Valid {
		at := d.ActivatedAt.Time.UTC().Format(time.RFC3339Nano)
		p.ActivatedAt = &at
	}
	return p
}

// DeviceDeleted deleteDeviceNotification 事件载荷
type DeviceDeleted struct {
	ID string `json:"id"`
}
