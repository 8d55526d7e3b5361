package domain

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// DeviceType 设备类型
type DeviceType string

const (
	DeviceSensor DeviceType = "SENSOR"
	DeviceCamera DeviceType = "CAMERA"
	DeviceSwitch DeviceType = "SWITCH"
)

// ParseDeviceType 解析设备类型（大小写不敏感）
func ParseDeviceType(s string) (DeviceType, error) {
	switch t := DeviceType(strings.ToUpper(strings.TrimSpace(s))); t {
	case DeviceSensor, DeviceCamera, DeviceSwitch:
		return t, nil
	default:
		return "", fmt.Errorf("unknown device type %q", s)
	}
}

// 设备默认值
const (
	DefaultFirmwareVersion = "legacy-1.0"
	DefaultDeviceStatus    = "inactive"
)

// Device 设备（对应 devices 表）
type Device struct {
	ID              string         `db:"id"`
	Name            string         `db:"name"`  // NOT NULL
	Type            DeviceType     `db:"type"`  // NOT NULL
	Model           string         `db:"model"` // NOT NULL
	FirmwareVersion string         `db:"firmware_version"`
	Status          string         `db:"status"`
	OwnerID         sql.NullString `db:"owner_id"`        // nullable, FK users ON DELETE SET NULL
	ActivationCode  sql.NullString `db:"activation_code"` // nullable, unique
	IsActivated     bool           `db:"is_activated"`
	ActivatedAt     sql.NullTime   `db:"activated_at"` // nullable
}

// ToJSON 转换为JSON格式（用于HTTP响应和事件载荷）
func (d *Device) ToJSON() map[string]any {
	m := map[string]any{
		"id":               d.ID,
		"name":             d.Name,
		"type":             string(d.Type),
		"model":            d.Model,
		"firmware_version": d.FirmwareVersion,
		"status":           d.Status,
		"owner_id":         nil,
		"is_activated":     d.IsActivated,
		"activated_at":     nil,
	}
	if d.OwnerID.Valid {
		m["owner_id"] = d.OwnerID.String
	}
	if d.ActivatedAt.Valid {
		m["activated_at"] = d.ActivatedAt.Time.UTC().Format(time.RFC3339Nano)
	}
	return m
}

// DevicePatch 设备部分更新：只有非 nil 字段会被写入
type DevicePatch struct {
	Name            *string
	Model           *string
	FirmwareVersion *string
	Status          *string
}

// IsEmpty 没有任何字段需要更新
func (p DevicePatch) IsEmpty() bool {
	return p.Name == nil && p.Model == nil && p.FirmwareVersion == nil && p.Status == nil
}

// Fields 按固定顺序返回需要更新的列
func (p DevicePatch) Fields() []PatchField {
	var out []PatchField
	if p.Name != nil {
		out = append(out, PatchField{Column: "name", Value: *p.Name})
	}
	if p.Model != nil {
		out = append(out, PatchField{Column: "model", Value: *p.Model})
	}
	if p.FirmwareVersion != nil {
		out = append(out, PatchField{Column: "firmware_version", Value: *p.FirmwareVersion})
	}
	if p.Status != nil {
		out = append(out, PatchField{Column: "status", Value: *p.Status})
	}
	return out
}
