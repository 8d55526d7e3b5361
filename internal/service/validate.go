package service

import (
	"strings"

	"device-management/internal/domain"

	"github.com/google/uuid"
)

// parseID 校验id格式并返回规范形式（小写、带连字符）
func parseID(field, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", domain.NewValidation(field, "is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", domain.NewValidation(field, "must be a valid UUID")
	}
	return id.String(), nil
}

// requireText 去掉首尾空白后不能为空
func requireText(field, raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", domain.NewValidation(field, "is required")
	}
	return v, nil
}
