package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"device-management/internal/domain"
	"device-management/internal/repository"

	"go.uber.org/zap"
)

// UserService 用户服务接口
type UserService interface {
	CreateUser(ctx context.Context, req CreateUserRequest) (*domain.User, error)
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]*domain.User, error)
	// DeleteUser 删除用户，其场景和规则级联删除
	DeleteUser(ctx context.Context, userID string) error
}

type userService struct {
	usersRepo repository.UsersRepository
	logger    *zap.Logger
}

// NewUserService 创建 UserService 实例
func NewUserService(usersRepo repository.UsersRepository, logger *zap.Logger) UserService {
	return &userService{usersRepo: usersRepo, logger: logger}
}

// CreateUserRequest 创建用户请求
type CreateUserRequest struct {
	Email string  // 必填
	Name  string  // 必填
	Phone *string // 可选
}

func (s *userService) CreateUser(ctx context.Context, req CreateUserRequest) (*domain.User, error) {
	// 1. 参数验证
	email, err := requireText("email", req.Email)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(email, "@") {
		return nil, domain.NewValidation("email", "must be a valid email address")
	}
	name, err := requireText("name", req.Name)
	if err != nil {
		return nil, err
	}
	user := &domain.User{Email: strings.ToLower(email), Name: name}
	if req.Phone != nil && strings.TrimSpace(*req.Phone) != "" {
		user.Phone = sql.NullString{String: strings.TrimSpace(*req.Phone), Valid: true}
	}

	// 2. 写入
	created, err := s.usersRepo.CreateUser(ctx, user)
	if err != nil {
		s.logger.Error("CreateUser failed", zap.String("email", user.Email), zap.Error(err))
		return nil, err
	}
	return created, nil
}

func (s *userService) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	id, err := parseID("user_id", userID)
	if err != nil {
		return nil, err
	}
	return s.usersRepo.GetUser(ctx, id)
}

func (s *userService) ListUsers(ctx context.Context) ([]*domain.User, error) {
	users, err := s.usersRepo.ListUsers(ctx)
	if err != nil {
		s.logger.Error("ListUsers failed", zap.Error(err))
		return nil, err
	}
	return users, nil
}

func (s *userService) DeleteUser(ctx context.Context, userID string) error {
	id, err := parseID("user_id", userID)
	if err != nil {
		return err
	}
	if err := s.usersRepo.DeleteUser(ctx, id); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error("DeleteUser failed", zap.String("user_id", id), zap.Error(err))
		}
		return err
	}
	return nil
}
