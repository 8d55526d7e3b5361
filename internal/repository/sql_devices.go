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

const deviceColumns = `id, name, type, model, firmware_version, status, owner_id, activation_code, is_activated, activated_at`

// SQLDevicesRepository 设备Repository实现
type SQLDevicesRepository struct {
	db *sql.DB
}

// NewSQLDevicesRepository 创建设备Repository
func NewSQLDevicesRepository(db *sql.DB) *SQLDevicesRepository {
	return &SQLDevicesRepository{db: db}
}

var _ DevicesRepository = (*SQLDevicesRepository)(nil)

// GetDevice 根据id获取设备
func (r *SQLDevicesRepository) GetDevice(ctx context.Context, id string) (*domain.Device, error) {
	return getDevice(ctx, r.db, id)
}

func getDevice(ctx context.Context, q queryer, id string) (*domain.Device, error) {
	row := q.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFound(domain.EntityDevice, id)
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return d, nil
}

// GetDeviceByActivationCode 根据激活码获取设备
func (r *SQLDevicesRepository) GetDeviceByActivationCode(ctx context.Context, code string) (*domain.Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE activation_code = $1`, code)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFound("Activation code", "")
		}
		return nil, fmt.Errorf("failed to get device by activation code: %w", err)
	}
	return d, nil
}

// ListDevices 查询全部设备
func (r *SQLDevicesRepository) ListDevices(ctx context.Context) ([]*domain.Device, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	devices := []*domain.Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate devices: %w", err)
	}
	return devices, nil
}

// CreateDevice 创建设备，id 由Repository生成
func (r *SQLDevicesRepository) CreateDevice(ctx context.Context, device *domain.Device) (*domain.Device, error) {
	if device == nil {
		return nil, fmt.Errorf("device is required")
	}
	created := *device
	created.ID = uuid.NewString()
	if created.FirmwareVersion == "" {
		created.FirmwareVersion = domain.DefaultFirmwareVersion
	}
	if created.Status == "" {
		created.Status = domain.DefaultDeviceStatus
	}

	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO devices (`+deviceColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		created.ID,
		created.Name,
		string(created.Type),
		created.Model,
		created.FirmwareVersion,
		created.Status,
		created.OwnerID,
		created.ActivationCode,
		created.IsActivated,
		created.ActivatedAt,
	); err != nil {
		return nil, storeError("insert device", err)
	}
	return &created, nil
}

// UpdateDevice 部分更新设备
func (r *SQLDevicesRepository) UpdateDevice(ctx context.Context, id string, patch domain.DevicePatch) (*domain.Device, error) {
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
		q := "UPDATE devices SET " + strings.Join(set, ", ") + fmt.Sprintf(" WHERE id = $%d", len(args))

		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return nil, storeError("update device", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, domain.NewNotFound(domain.EntityDevice, id)
		}
	}

	d, err := getDevice(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, storeError("commit device update", err)
	}
	return d, nil
}

// ActivateDevice 激活设备（条件更新，避免并发重复激活）
func (r *SQLDevicesRepository) ActivateDevice(ctx context.Context, id string, ownerID sql.NullString, at time.Time) (*domain.Device, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE devices
		SET is_activated = $1, activated_at = $2, status = $3, owner_id = COALESCE($4, owner_id)
		WHERE id = $5 AND is_activated = $6
	`, true, at.UTC(), "active", ownerID, id, false)
	if err != nil {
		return nil, storeError("activate device", err)
	}

	d, err := getDevice(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, &domain.ConflictError{Reason: "Device already activated"}
	}

	if err := tx.Commit(); err != nil {
		return nil, storeError("commit device activation", err)
	}
	return d, nil
}

// DeleteDevice 删除设备
func (r *SQLDevicesRepository) DeleteDevice(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return storeError("delete device", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return domain.NewNotFound(domain.EntityDevice, id)
	}
	return nil
}

func scanDevice(row rowScanner) (*domain.Device, error) {
	var (
		d          domain.Device
		deviceType string
	)
	if err := row.Scan(
		&d.ID,
		&d.Name,
		&deviceType,
		&d.Model,
		&d.FirmwareVersion,
		&d.Status,
		&d.OwnerID,
		&d.ActivationCode,
		&d.IsActivated,
		&d.ActivatedAt,
	); err != nil {
		return nil, err
	}
	d.Type = domain.DeviceType(deviceType)
	return &d, nil
}
