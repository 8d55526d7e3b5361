package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"device-management/internal/domain"
	"device-management/internal/events"
	"device-management/internal/repository"

	"go.uber.org/zap"
)

// ScenarioService 自动化场景服务接口
type ScenarioService interface {
	// 创建：校验引用 -> 事务写入场景和规则 -> 发布 autoCommand
	CreateScenario(ctx context.Context, req CreateScenarioRequest) (*CreateScenarioResponse, error)

	// 查询
	GetScenario(ctx context.Context, req GetScenarioRequest) (*GetScenarioResponse, error)
	ListScenarios(ctx context.Context) (*ListScenariosResponse, error)

	// 更新（部分字段）
	UpdateScenario(ctx context.Context, req UpdateScenarioRequest) (*UpdateScenarioResponse, error)

	// 删除（规则一起删除）
	DeleteScenario(ctx context.Context, req DeleteScenarioRequest) error
}

// ScenarioOptions 场景服务选项
type ScenarioOptions struct {
	// RequireActionTarget 为 true 时每条规则都必须指定 action_target
	RequireActionTarget bool
}

// scenarioService 实现
type scenarioService struct {
	scenariosRepo repository.ScenariosRepository
	usersRepo     repository.UsersRepository
	devicesRepo   repository.DevicesRepository
	publisher     events.Publisher
	opts          ScenarioOptions
	logger        *zap.Logger
}

// NewScenarioService 创建 ScenarioService 实例
func NewScenarioService(
	scenariosRepo repository.ScenariosRepository,
	usersRepo repository.UsersRepository,
	devicesRepo repository.DevicesRepository,
	publisher events.Publisher,
	opts ScenarioOptions,
	logger *zap.Logger,
) ScenarioService {
	return &scenarioService{
		scenariosRepo: scenariosRepo,
		usersRepo:     usersRepo,
		devicesRepo:   devicesRepo,
		publisher:     publisher,
		opts:          opts,
		logger:        logger,
	}
}

// RuleInput 创建场景时的一条规则
type RuleInput struct {
	TriggerType      string  // 必填：SENSOR | TIME
	TriggerCondition string  // 必填
	ActionType       string  // 必填：TURN_ON | TURN_OFF
	ActionTarget     *string // 设备id；是否必填由 ScenarioOptions 决定
}

// CreateScenarioRequest 创建场景请求
type CreateScenarioRequest struct {
	Name    string // 必填
	UserID  string // 必填
	Enabled *bool  // 可选，默认 true
	Rules   []RuleInput
}

// CreateScenarioResponse 创建场景响应
type CreateScenarioResponse struct {
	Scenario *domain.ScenarioWithRules
}

// CreateScenario 创建场景及其规则
func (s *scenarioService) CreateScenario(ctx context.Context, req CreateScenarioRequest) (*CreateScenarioResponse, error) {
	// 1. 参数验证
	scenario, rules, err := s.buildScenario(req)
	if err != nil {
		return nil, err
	}

	// 2. 引用校验（写入之前）：用户、规则目标设备
	if _, err := s.usersRepo.GetUser(ctx, scenario.UserID); err != nil {
		return nil, s.lookupError("GetUser", scenario.UserID, err)
	}
	checked := make(map[string]bool, len(rules))
	for _, rule := range rules {
		if !rule.ActionTarget.Valid || checked[rule.ActionTarget.String] {
			continue
		}
		if _, err := s.devicesRepo.GetDevice(ctx, rule.ActionTarget.String); err != nil {
			return nil, s.lookupError("GetDevice", rule.ActionTarget.String, err)
		}
		checked[rule.ActionTarget.String] = true
	}

	// 3. 事务写入
	created, err := s.scenariosRepo.CreateScenarioWithRules(ctx, scenario, rules)
	if err != nil {
		s.logger.Error("CreateScenarioWithRules failed",
			zap.String("user_id", scenario.UserID),
			zap.Int("rules", len(rules)),
			zap.Error(err),
		)
		return nil, err
	}

	// 4. 发布 autoCommand；场景已提交，发布失败只记录日志
	receipt := s.publisher.Publish(context.WithoutCancel(ctx),
		events.TopicAutoCommand, created.Scenario.ID, events.NewScenarioCreated(created))
	if !receipt.Delivered() {
		s.logger.Warn("Failed to publish scenario event",
			zap.String("topic", receipt.Topic),
			zap.String("scenario_id", created.Scenario.ID),
			zap.Int("attempts", receipt.Attempts),
			zap.Error(receipt.Err),
		)
	}

	return &CreateScenarioResponse{Scenario: created}, nil
}

func (s *scenarioService) buildScenario(req CreateScenarioRequest) (*domain.Scenario, []*domain.Rule, error) {
	name, err := requireText("name", req.Name)
	if err != nil {
		return nil, nil, err
	}
	userID, err := parseID("user_id", req.UserID)
	if err != nil {
		return nil, nil, err
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	rules := make([]*domain.Rule, 0, len(req.Rules))
	for i, in := range req.Rules {
		field := func(name string) string { return fmt.Sprintf("rules[%d].%s", i, name) }

		triggerType, err := domain.ParseTriggerType(in.TriggerType)
		if err != nil {
			return nil, nil, domain.NewValidation(field("trigger_type"), "must be one of SENSOR, TIME")
		}
		condition, err := requireText(field("trigger_condition"), in.TriggerCondition)
		if err != nil {
			return nil, nil, err
		}
		actionType, err := domain.ParseActionType(in.ActionType)
		if err != nil {
			return nil, nil, domain.NewValidation(field("action_type"), "must be one of TURN_ON, TURN_OFF")
		}

		var target sql.NullString
		switch {
		case in.ActionTarget != nil:
			id, err := parseID(field("action_target"), *in.ActionTarget)
			if err != nil {
				return nil, nil, err
			}
			target = sql.NullString{String: id, Valid: true}
		case s.opts.RequireActionTarget:
			return nil, nil, domain.NewValidation(field("action_target"), "is required")
		}

		rules = append(rules, &domain.Rule{
			TriggerType:      triggerType,
			TriggerCondition: condition,
			ActionType:       actionType,
			ActionTarget:     target,
		})
	}

	return &domain.Scenario{Name: name, UserID: userID, Enabled: enabled}, rules, nil
}

// lookupError NotFound 原样返回，其余记录日志后包装
func (s *scenarioService) lookupError(op, id string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("Referenced entity not found", zap.String("op", op), zap.String("id", id))
		return err
	}
	s.logger.Error(op+" failed", zap.String("id", id), zap.Error(err))
	return fmt.Errorf("%s: %w", op, err)
}

// GetScenarioRequest 查询场景请求
type GetScenarioRequest struct {
	ScenarioID string // 必填
}

// GetScenarioResponse 查询场景响应
type GetScenarioResponse struct {
	Scenario *domain.ScenarioWithRules
}

// GetScenario 查询场景及其规则
func (s *scenarioService) GetScenario(ctx context.Context, req GetScenarioRequest) (*GetScenarioResponse, error) {
	// 1. 参数验证
	id, err := parseID("scenario_id", req.ScenarioID)
	if err != nil {
		return nil, err
	}

	// 2. 场景 + 规则
	full, err := s.loadWithRules(ctx, id)
	if err != nil {
		return nil, err
	}
	return &GetScenarioResponse{Scenario: full}, nil
}

func (s *scenarioService) loadWithRules(ctx context.Context, id string) (*domain.ScenarioWithRules, error) {
	scenario, err := s.scenariosRepo.GetScenario(ctx, id)
	if err != nil {
		return nil, err
	}
	rules, err := s.scenariosRepo.ListRulesByScenario(ctx, id)
	if err != nil {
		s.logger.Error("ListRulesByScenario failed", zap.String("scenario_id", id), zap.Error(err))
		return nil, err
	}
	return &domain.ScenarioWithRules{Scenario: scenario, Rules: rules}, nil
}

// ListScenariosResponse 场景列表响应（不含规则）
type ListScenariosResponse struct {
	Items []*domain.Scenario
}

// ListScenarios 查询全部场景
func (s *scenarioService) ListScenarios(ctx context.Context) (*ListScenariosResponse, error) {
	items, err := s.scenariosRepo.ListScenarios(ctx)
	if err != nil {
		s.logger.Error("ListScenarios failed", zap.Error(err))
		return nil, err
	}
	return &ListScenariosResponse{Items: items}, nil
}

// UpdateScenarioRequest 部分更新请求：nil 字段保持不变
type UpdateScenarioRequest struct {
	ScenarioID string // 必填
	Name       *string
	UserID     *string
	Enabled    *bool
}

// UpdateScenarioResponse 更新场景响应
type UpdateScenarioResponse struct {
	Scenario *domain.ScenarioWithRules
}

// UpdateScenario 部分更新场景
func (s *scenarioService) UpdateScenario(ctx context.Context, req UpdateScenarioRequest) (*UpdateScenarioResponse, error) {
	// 1. 参数验证
	id, err := parseID("scenario_id", req.ScenarioID)
	if err != nil {
		return nil, err
	}

	patch := domain.ScenarioPatch{Enabled: req.Enabled}
	if req.Name != nil {
		name, err := requireText("name", *req.Name)
		if err != nil {
			return nil, err
		}
		patch.Name = &name
	}
	if req.UserID != nil {
		userID, err := parseID("user_id", *req.UserID)
		if err != nil {
			return nil, err
		}
		// 2. 新的 user_id 必须存在
		if _, err := s.usersRepo.GetUser(ctx, userID); err != nil {
			return nil, s.lookupError("GetUser", userID, err)
		}
		patch.UserID = &userID
	}

	// 3. 只写入提供的字段
	if _, err := s.scenariosRepo.UpdateScenario(ctx, id, patch); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error("UpdateScenario failed", zap.String("scenario_id", id), zap.Error(err))
		}
		return nil, err
	}

	full, err := s.loadWithRules(ctx, id)
	if err != nil {
		return nil, err
	}
	return &UpdateScenarioResponse{Scenario: full}, nil
}

// DeleteScenarioRequest 删除场景请求
type DeleteScenarioRequest struct {
	ScenarioID string // 必填
}

// DeleteScenario 删除场景及其规则
func (s *scenarioService) DeleteScenario(ctx context.Context, req DeleteScenarioRequest) error {
	id, err := parseID("scenario_id", req.ScenarioID)
	if err != nil {
		return err
	}
	if err := s.scenariosRepo.DeleteScenario(ctx, id); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error("DeleteScenario failed", zap.String("scenario_id", id), zap.Error(err))
		}
		return err
	}
	return nil
}
