package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"device-management/internal/domain"
	"device-management/internal/events"
	"device-management/internal/repository"

	"go.uber.org/zap"
)

// DeviceService 设备服务接口
// 每个写操作成功后发布对应事件，发布失败不影响结果
type DeviceService interface {
	// 查询
	ListDevices(ctx context.Context) ([]*domain.Device, error)
	GetDevice(ctx context.Context, deviceID string) (*domain.Device, error)

	// 写入
	CreateDevice(ctx context.Context, req CreateDeviceRequest) (*domain.Device, error)
	UpdateDevice(ctx context.Context, req UpdateDeviceRequest) (*domain.Device, error)
	ActivateDevice(ctx context.Context, req ActivateDeviceRequest) (*domain.Device, error)
	DeleteDevice(ctx context.Context, deviceID string) error
}

type deviceService struct {
	devicesRepo repository.DevicesRepository
	usersRepo   repository.UsersRepository
	publisher   events.Publisher
	logger      *zap.Logger
	now         func() time.Time
}

// NewDeviceService 创建 DeviceService 实例
func NewDeviceService(
	devicesRepo repository.DevicesRepository,
	usersRepo repository.UsersRepository,
	publisher events.Publisher,
	logger *zap.Logger,
) DeviceService {
	return &deviceService{
		devicesRepo: devicesRepo,
		usersRepo:   usersRepo,
		publisher:   publisher,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// publish 发布设备事件；失败只记录日志
func (s *deviceService) publish(ctx context.Context, topic, deviceID string, payload any) {
	receipt := s.publisher.Publish(context.WithoutCancel(ctx), topic, deviceID, payload)
	if !receipt.Delivered() {
		s.logger.Warn("Failed to publish device event",
			zap.String("topic", topic),
			zap.String("device_id", deviceID),
			zap.Int("attempts", receipt.Attempts),
			zap.Error(receipt.Err),
		)
	}
}

func (s *deviceService) ListDevices(ctx context.Context) ([]*domain.Device, error) {
	devices, err := s.devicesRepo.ListDevices(ctx)
	if err != nil {
		s.logger.Error("ListDevices failed", zap.Error(err))
		return nil, err
	}
	return devices, nil
}

func (s *deviceService) GetDevice(ctx context.Context, deviceID string) (*domain.Device, error) {
	id, err := parseID("device_id", deviceID)
	if err != nil {
		return nil, err
	}
	return s.devicesRepo.GetDevice(ctx, id)
}

// CreateDeviceRequest 创建设备请求
type CreateDeviceRequest struct {
	Name            string  // 必填
	Type            string  // 必填：SENSOR | CAMERA | SWITCH
	Model           string  // 必填
	FirmwareVersion *string // 可选，默认 legacy-1.0
	Status          *string // 可选，默认 inactive
	OwnerID         *string // 可选，必须是已存在的用户
	ActivationCode  *string // 可选，唯一
}

func (s *deviceService) CreateDevice(ctx context.Context, req CreateDeviceRequest) (*domain.Device, error) {
	// 1. 参数验证
	name, err := requireText("name", req.Name)
	if err != nil {
		return nil, err
	}
	deviceType, err := domain.ParseDeviceType(req.Type)
	if err != nil {
		return nil, domain.NewValidation("type", "must be one of SENSOR, CAMERA, SWITCH")
	}
	model, err := requireText("model", req.Model)
	if err != nil {
		return nil, err
	}

	device := &domain.Device{Name: name, Type: deviceType, Model: model}
	if req.FirmwareVersion != nil {
		device.FirmwareVersion = strings.TrimSpace(*req.FirmwareVersion)
	}
	if req.Status != nil {
		device.Status = strings.TrimSpace(*req.Status)
	}
	if req.ActivationCode != nil && strings.TrimSpace(*req.ActivationCode) != "" {
		device.ActivationCode = sql.NullString{String: strings.TrimSpace(*req.ActivationCode), Valid: true}
	}

	// 2. 归属用户校验
	if req.OwnerID != nil {
		ownerID, err := parseID("owner_id", *req.OwnerID)
		if err != nil {
			return nil, err
		}
		if _, err := s.usersRepo.GetUser(ctx, ownerID); err != nil {
			return nil, err
		}
		device.OwnerID = sql.NullString{String: ownerID, Valid: true}
	}

	// 3. 写入
	created, err := s.devicesRepo.CreateDevice(ctx, device)
	if err != nil {
		s.logger.Error("CreateDevice failed", zap.String("name", name), zap.Error(err))
		return nil, err
	}

	// 4. newDeviceNotification
	s.publish(ctx, events.TopicNewDeviceNotification, created.ID, events.NewDevicePayload(created))
	return created, nil
}

// UpdateDeviceRequest 部分更新请求：nil 字段保持不变
type UpdateDeviceRequest struct {
	DeviceID        string // 必填
	Name            *string
	Model           *string
	FirmwareVersion *string
	Status          *string
}

func (s *deviceService) UpdateDevice(ctx context.Context, req UpdateDeviceRequest) (*domain.Device, error) {
	id, err := parseID("device_id", req.DeviceID)
	if err != nil {
		return nil, err
	}

	patch := domain.DevicePatch{FirmwareVersion: req.FirmwareVersion, Status: req.Status}
	if req.Name != nil {
		name, err := requireText("name", *req.Name)
		if err != nil {
			return nil, err
		}
		patch.Name = &name
	}
	if req.Model != nil {
		model, err := requireText("model", *req.Model)
		if err != nil {
			return nil, err
		}
		patch.Model = &model
	}

	updated, err := s.devicesRepo.UpdateDevice(ctx, id, patch)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error("UpdateDevice failed", zap.String("device_id", id), zap.Error(err))
		}
		return nil, err
	}

	s.publish(ctx, events.TopicUICommand, updated.ID, events.NewDevicePayload(updated))
	return updated, nil
}

// ActivateDeviceRequest 通过激活码激活设备
type ActivateDeviceRequest struct {
	ActivationCode string  // 必填
	OwnerID        *string // 可选，激活后归属的用户
}

func (s *deviceService) ActivateDevice(ctx context.Context, req ActivateDeviceRequest) (*domain.Device, error) {
	// 1. 参数验证
	code, err := requireText("activation_code", req.ActivationCode)
	if err != nil {
		return nil, err
	}
	var owner sql.NullString
	if req.OwnerID != nil {
		ownerID, err := parseID("owner_id", *req.OwnerID)
		if err != nil {
			return nil, err
		}
		if _, err := s.usersRepo.GetUser(ctx, ownerID); err != nil {
			return nil, err
		}
		owner = sql.NullString{String: ownerID, Valid: true}
	}

	// 2. 查找设备
	device, err := s.devicesRepo.GetDeviceByActivationCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if device.IsActivated {
		return nil, &domain.ConflictError{Reason: "Device already activated"}
	}

	// 3. 条件更新（并发激活时只有一个成功）
	activated, err := s.devicesRepo.ActivateDevice(ctx, device.ID, owner, s.now())
	if err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			s.logger.Error("ActivateDevice failed", zap.String("device_id", device.ID), zap.Error(err))
		}
		return nil, err
	}

	// 4. uiActivatedCommand
	s.publish(ctx, events.TopicUIActivatedCommand, activated.ID, events.NewDevicePayload(activated))
	return activated, nil
}

func (s *deviceService) DeleteDevice(ctx context.Context, deviceID string) error {
	id, err := parseID("device_id", deviceID)
	if err != nil {
		return err
	}
	if err := s.devicesRepo.DeleteDevice(ctx, id); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error("DeleteDevice failed", zap.String("device_id", id), zap.Error(err))
		}
		return err
	}

	s.publish(ctx, events.TopicDeleteDeviceNotification, id, events.DeviceDeleted{ID: id})
	return nil
}
