// Package client device-management HTTP API 的 Go 客户端
package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// APIPrefix 与服务端路由前缀一致
const APIPrefix = "/v1.0"

// envelope 服务端统一响应包装
type envelope[T any] struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

// APIError 非 2xx 响应
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("device-management API error: %d %s", e.StatusCode, e.Message)
}

// IsNotFound 是否 404
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

// Client device-management API 客户端
type Client struct {
	httpClient *resty.Client
}

// New 创建客户端，baseURL 形如 http://localhost:8080
func New(baseURL string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &Client{httpClient: c}
}

// User 用户
type User struct {
	ID           string  `json:"id"`
	Email        string  `json:"email"`
	Name         string  `json:"name"`
	Phone        *string `json:"phone"`
	RegisteredAt string  `json:"registered_at"`
}

// Device 设备
type Device struct {
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

// Rule 场景规则
type Rule struct {
	ID               string  `json:"id"`
	ScenarioID       string  `json:"scenario_id"`
	TriggerType      string  `json:"trigger_type"`
	TriggerCondition string  `json:"trigger_condition"`
	ActionType       string  `json:"action_type"`
	ActionTarget     *string `json:"action_target"`
}

// Scenario 自动化场景（列表接口不含 Rules）
type Scenario struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UserID    string `json:"user_id"`
	Enabled   bool   `json:"enabled"`
	CreatedAt string `json:"created_at"`
	Rules     []Rule `json:"rules,omitempty"`
}

// CreateUserInput 创建用户
type CreateUserInput struct {
	Email string  `json:"email"`
	Name  string  `json:"name"`
	Phone *string `json:"phone,omitempty"`
}

// CreateDeviceInput 创建设备
type CreateDeviceInput struct {
	Name            string  `json:"name"`
	Type            string  `json:"type"`
	Model           string  `json:"model"`
	FirmwareVersion *string `json:"firmware_version,omitempty"`
	OwnerID         *string `json:"owner_id,omitempty"`
	ActivationCode  *string `json:"activation_code,omitempty"`
}

// RuleInput 创建场景时的一条规则
type RuleInput struct {
	TriggerType      string  `json:"trigger_type"`
	TriggerCondition string  `json:"trigger_condition"`
	ActionType       string  `json:"action_type"`
	ActionTarget     *string `json:"action_target,omitempty"`
}

// CreateScenarioInput 创建场景
type CreateScenarioInput struct {
	Name    string      `json:"name"`
	UserID  string      `json:"user_id"`
	Enabled *bool       `json:"enabled,omitempty"`
	Rules   []RuleInput `json:"rules"`
}

// ScenarioPatch 部分更新，nil 字段不发送
type ScenarioPatch struct {
	Name    *string `json:"name,omitempty"`
	UserID  *string `json:"user_id,omitempty"`
	Enabled *bool   `json:"enabled,omitempty"`
}

func do[T any](ctx context.Context, c *Client, method, path string, body any, headers map[string]string) (T, error) {
	var (
		ok   envelope[T]
		fail envelope[any]
		zero T
	)

	req := c.httpClient.R().
		SetContext(ctx).
		SetResult(&ok).
		SetError(&fail).
		SetHeaders(headers)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, APIPrefix+path)
	if err != nil {
		return zero, fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	if resp.IsError() {
		msg := fail.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode())
		}
		return zero, &APIError{StatusCode: resp.StatusCode(), Message: msg}
	}
	return ok.Result, nil
}

// CreateUser POST /users/
func (c *Client) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	u, err := do[User](ctx, c, http.MethodPost, "/users/", in, nil)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateDevice POST /sensors/
func (c *Client) CreateDevice(ctx context.Context, in CreateDeviceInput) (*Device, error) {
	d, err := do[Device](ctx, c, http.MethodPost, "/sensors/", in, nil)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ActivateDevice POST /sensors/activate
func (c *Client) ActivateDevice(ctx context.Context, activationCode string, ownerID *string) (*Device, error) {
	body := map[string]any{"activation_code": activationCode}
	if ownerID != nil {
		body["owner_id"] = *ownerID
	}
	d, err := do[Device](ctx, c, http.MethodPost, "/sensors/activate", body, nil)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// DeleteDevice DELETE /sensors/{id}
func (c *Client) DeleteDevice(ctx context.Context, id string) error {
	_, err := do[any](ctx, c, http.MethodDelete, "/sensors/"+id, nil, nil)
	return err
}

// CreateScenario POST /automation-scenarios/；idempotencyKey 非空时带上 Idempotency-Key
func (c *Client) CreateScenario(ctx context.Context, in CreateScenarioInput, idempotencyKey string) (*Scenario, error) {
	var headers map[string]string
	if idempotencyKey != "" {
		headers = map[string]string{"Idempotency-Key": idempotencyKey}
	}
	s, err := do[Scenario](ctx, c, http.MethodPost, "/automation-scenarios/", in, headers)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetScenario GET /automation-scenarios/{id}
func (c *Client) GetScenario(ctx context.Context, id string) (*Scenario, error) {
	s, err := do[Scenario](ctx, c, http.MethodGet, "/automation-scenarios/"+id, nil, nil)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListScenarios GET /automation-scenarios/
func (c *Client) ListScenarios(ctx context.Context) ([]Scenario, error) {
	return do[[]Scenario](ctx, c, http.MethodGet, "/automation-scenarios/", nil, nil)
}

// UpdateScenario PUT /automation-scenarios/{id}
func (c *Client) UpdateScenario(ctx context.Context, id string, patch ScenarioPatch) (*Scenario, error) {
	s, err := do[Scenario](ctx, c, http.MethodPut, "/automation-scenarios/"+id, patch, nil)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteScenario DELETE /automation-scenarios/{id}
func (c *Client) DeleteScenario(ctx context.Context, id string) error {
	_, err := do[any](ctx, c, http.MethodDelete, "/automation-scenarios/"+id, nil, nil)
	return err
}
