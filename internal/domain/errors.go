package domain

import (
	"errors"
	"fmt"
)

// 领域错误，可通过 errors.Is 判断类别：
//
//	if errors.Is(err, domain.ErrNotFound) { ... }
var (
	// ErrNotFound 引用的实体不存在（User / Device / Scenario）
	ErrNotFound = errors.New("not found")

	// ErrValidation 请求参数不合法，在访问存储之前返回
	ErrValidation = errors.New("validation failed")

	// ErrIntegrity 存储层约束冲突（唯一键 / 外键），事务已整体回滚
	ErrIntegrity = errors.New("integrity violation")

	// ErrConflict 状态冲突（如设备已激活）
	ErrConflict = errors.New("conflict")
)

// Entity 名称，用于 NotFoundError
const (
	EntityUser     = "User"
	EntityDevice   = "Device"
	EntityScenario = "Scenario"
)

// NotFoundError 引用的实体不存在
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NewNotFound 创建 NotFoundError
func NewNotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// ValidationError 参数校验失败
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidation 创建 ValidationError
func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IntegrityError 存储层约束冲突
type IntegrityError struct {
	Op  string
	Err error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: integrity violation: %v", e.Op, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

// ConflictError 状态冲突
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
