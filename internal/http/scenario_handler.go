package httpapi

import (
	"net/http"

	"device-management/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ScenarioHandler 自动化场景 Handler
type ScenarioHandler struct {
	scenarioService service.ScenarioService
	logger          *zap.Logger
}

// NewScenarioHandler 创建自动化场景 Handler
func NewScenarioHandler(scenarioService service.ScenarioService, logger *zap.Logger) *ScenarioHandler {
	return &ScenarioHandler{
		scenarioService: scenarioService,
		logger:          logger,
	}
}

type ruleBody struct {
	TriggerType      string  `json:"trigger_type"`
	TriggerCondition string  `json:"trigger_condition"`
	ActionType       string  `json:"action_type"`
	ActionTarget     *string `json:"action_target"`
}

type createScenarioBody struct {
	Name    string     `json:"name"`
	UserID  string     `json:"user_id"`
	Enabled *bool      `json:"enabled"`
	Rules   []ruleBody `json:"rules"`
}

type updateScenarioBody struct {
	Name    *string `json:"name"`
	UserID  *string `json:"user_id"`
	Enabled *bool   `json:"enabled"`
}

// CreateScenario POST /automation-scenarios/
func (h *ScenarioHandler) CreateScenario(w http.ResponseWriter, r *http.Request) {
	// 1. 参数解析
	var body createScenarioBody
	if err := readBodyJSON(w, r, maxBodyBytes, &body); err != nil {
		writeBodyError(w, err)
		return
	}

	req := service.CreateScenarioRequest{
		Name:    body.Name,
		UserID:  body.UserID,
		Enabled: body.Enabled,
		Rules:   make([]service.RuleInput, 0, len(body.Rules)),
	}
	for _, rb := range body.Rules {
		req.Rules = append(req.Rules, service.RuleInput{
			TriggerType:      rb.TriggerType,
			TriggerCondition: rb.TriggerCondition,
			ActionType:       rb.ActionType,
			ActionTarget:     rb.ActionTarget,
		})
	}

	// 2. 调用 Service
	resp, err := h.scenarioService.CreateScenario(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, "CreateScenario", err)
		return
	}

	writeJSON(w, http.StatusCreated, Ok(resp.Scenario.ToJSON()))
}

// ListScenarios GET /automation-scenarios/
func (h *ScenarioHandler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	resp, err := h.scenarioService.ListScenarios(r.Context())
	if err != nil {
		writeError(w, r, h.logger, "ListScenarios", err)
		return
	}

	items := make([]map[string]any, 0, len(resp.Items))
	for _, s := range resp.Items {
		items = append(items, s.ToJSON())
	}
	writeJSON(w, http.StatusOK, Ok(items))
}

// GetScenario GET /automation-scenarios/{id}
func (h *ScenarioHandler) GetScenario(w http.ResponseWriter, r *http.Request) {
	resp, err := h.scenarioService.GetScenario(r.Context(), service.GetScenarioRequest{
		ScenarioID: chi.URLParam(r, "id"),
	})
	if err != nil {
		writeError(w, r, h.logger, "GetScenario", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(resp.Scenario.ToJSON()))
}

// UpdateScenario PUT /automation-scenarios/{id}，只更新请求体中出现的字段
func (h *ScenarioHandler) UpdateScenario(w http.ResponseWriter, r *http.Request) {
	var body updateScenarioBody
	if err := readBodyJSON(w, r, maxBodyBytes, &body); err != nil {
		writeBodyError(w, err)
		return
	}

	resp, err := h.scenarioService.UpdateScenario(r.Context(), service.UpdateScenarioRequest{
		ScenarioID: chi.URLParam(r, "id"),
		Name:       body.Name,
		UserID:     body.UserID,
		Enabled:    body.Enabled,
	})
	if err != nil {
		writeError(w, r, h.logger, "UpdateScenario", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(resp.Scenario.ToJSON()))
}

// DeleteScenario DELETE /automation-scenarios/{id}
func (h *ScenarioHandler) DeleteScenario(w http.ResponseWriter, r *http.Request) {
	err := h.scenarioService.DeleteScenario(r.Context(), service.DeleteScenarioRequest{
		ScenarioID: chi.URLParam(r, "id"),
	})
	if err != nil {
		writeError(w, r, h.logger, "DeleteScenario", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

