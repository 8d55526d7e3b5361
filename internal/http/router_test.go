package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"device-management/internal/config"
	"device-management/internal/database"
	"device-management/internal/events"
	"device-management/internal/repository"
	"device-management/internal/service"
	"device-management/internal/store"
	"device-management/pkg/client"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	srv       *httptest.Server
	client    *client.Client
	transport *events.MemoryTransport
}

func newTestServer(t *testing.T, kv store.KV) *testServer {
	t.Helper()
	db, err := database.Open(&config.DatabaseConfig{Driver: "sqlite3", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.ApplySchema(context.Background(), db, "sqlite3"))

	users := repository.NewSQLUsersRepository(db)
	devices := repository.NewSQLDevicesRepository(db)
	scenarios := repository.NewSQLScenariosRepository(db)

	transport := events.NewMemoryTransport()
	publisher := events.NewBrokerPublisher(transport, events.Options{Timeout: time.Second}, zap.NewNop())
	logger := zap.NewNop()

	handler := NewRouter(RouterConfig{
		Scenarios:      service.NewScenarioService(scenarios, users, devices, publisher, service.ScenarioOptions{RequireActionTarget: true}, logger),
		Users:          service.NewUserService(users, logger),
		Devices:        service.NewDeviceService(devices, users, publisher, logger),
		DB:             db,
		Idempotency:    kv,
		IdempotencyTTL: time.Hour,
		Logger:         logger,
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, client: client.New(srv.URL, 5*time.Second), transport: transport}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func seed(t *testing.T, ts *testServer) (*client.User, *client.Device) {
	t.Helper()
	ctx := context.Background()
	u, err := ts.client.CreateUser(ctx, client.CreateUserInput{Email: "u1@example.com", Name: "U1"})
	require.NoError(t, err)
	d, err := ts.client.CreateDevice(ctx, client.CreateDeviceInput{Name: "Bedroom lamp", Type: "SWITCH", Model: "SW-1"})
	require.NoError(t, err)
	return u, d
}

func nightMode(userID, deviceID string) client.CreateScenarioInput {
	return client.CreateScenarioInput{
		Name:   "Night mode",
		UserID: userID,
		Rules: []client.RuleInput{{
			TriggerType: "TIME", TriggerCondition: "22:00", ActionType: "TURN_OFF", ActionTarget: &deviceID,
		}},
	}
}

// ============================================
// 自动化场景 E2E
// ============================================

func TestScenarioLifecycle_NightMode(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()
	u, d := seed(t, ts)

	created, err := ts.client.CreateScenario(ctx, nightMode(u.ID, d.ID), "")
	require.NoError(t, err)
	assert.Equal(t, "Night mode", created.Name)
	assert.True(t, created.Enabled)
	require.Len(t, created.Rules, 1)
	require.NotNil(t, created.Rules[0].ActionTarget)
	assert.Equal(t, d.ID, *created.Rules[0].ActionTarget)

	msgs := ts.transport.Messages(events.TopicAutoCommand)
	require.Len(t, msgs, 1)
	var ev events.ScenarioCreated
	require.NoError(t, json.Unmarshal(msgs[0].Value, &ev))
	assert.Equal(t, created.ID, ev.ID)

	got, err := ts.client.GetScenario(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Rules[0].ID, got.Rules[0].ID)

	disabled := false
	updated, err := ts.client.UpdateScenario(ctx, created.ID, client.ScenarioPatch{Enabled: &disabled})
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
	assert.Equal(t, "Night mode", updated.Name)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	list, err := ts.client.ListScenarios(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, ts.client.DeleteScenario(ctx, created.ID))
	_, err = ts.client.GetScenario(ctx, created.ID)
	assert.True(t, client.IsNotFound(err))
	assert.True(t, client.IsNotFound(ts.client.DeleteScenario(ctx, created.ID)))
}

func TestCreateScenario_StatusCodes(t *testing.T) {
	ts := newTestServer(t, nil)
	u, d := seed(t, ts)

	tests := []struct {
		name   string
		body   string
		status int
		msg    string
	}{
		{
			name:   "missing user",
			body:   `{"name":"x","user_id":"` + uuid.New().String() + `","rules":[]}`,
			status: http.StatusNotFound,
			msg:    "User not found",
		},
		{
			name: "missing device",
			body: `{"name":"x","user_id":"` + u.ID + `","rules":[{"trigger_type":"TIME","trigger_condition":"22:00",` +
				`"action_type":"TURN_OFF","action_target":"` + uuid.New().String() + `"}]}`,
			status: http.StatusNotFound,
			msg:    "Device not found",
		},
		{
			name:   "validation",
			body:   `{"name":"","user_id":"` + u.ID + `"}`,
			status: http.StatusBadRequest,
			msg:    "name",
		},
		{
			name:   "bad trigger",
			body:   `{"name":"x","user_id":"` + u.ID + `","rules":[{"trigger_type":"MOTION","trigger_condition":"c","action_type":"TURN_ON","action_target":"` + d.ID + `"}]}`,
			status: http.StatusBadRequest,
			msg:    "trigger_type",
		},
		{
			name:   "malformed json",
			body:   `{"name":`,
			status: http.StatusBadRequest,
			msg:    "invalid request body",
		},
		{
			name:   "empty body",
			body:   ``,
			status: http.StatusBadRequest,
			msg:    "invalid request body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := ts.do(t, http.MethodPost, "/v1.0/automation-scenarios/", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.EqualValues(t, ResultError, out["code"])
			assert.Contains(t, out["message"], tt.msg)
		})
	}
	assert.Empty(t, ts.transport.Messages(events.TopicAutoCommand))
}

func TestScenarioRoutes_NotFoundAndValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, _ := ts.do(t, http.MethodGet, "/v1.0/automation-scenarios/"+uuid.New().String(), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPut, "/v1.0/automation-scenarios/"+uuid.New().String(), `{"enabled":false}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodDelete, "/v1.0/automation-scenarios/"+uuid.New().String(), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/v1.0/automation-scenarios/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateScenario_ResponseEnvelope(t *testing.T) {
	ts := newTestServer(t, nil)
	u, d := seed(t, ts)

	body := `{"name":"Night mode","user_id":"` + u.ID + `","enabled":true,"rules":[{"trigger_type":"TIME",` +
		`"trigger_condition":"22:00","action_type":"TURN_OFF","action_target":"` + d.ID + `"}]}`
	resp, out := ts.do(t, http.MethodPost, "/v1.0/automation-scenarios/", body)

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.EqualValues(t, ResultSuccess, out["code"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	result := out["result"].(map[string]any)
	rules := result["rules"].([]any)
	require.Len(t, rules, 1)
	rule := rules[0].(map[string]any)
	assert.Equal(t, result["id"], rule["scenario_id"])
	assert.Equal(t, "TURN_OFF", rule["action_type"])
	assert.Equal(t, d.ID, rule["action_target"])
}

// ============================================
// 设备 / 用户
// ============================================

func TestDeviceActivation(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()

	u, err := ts.client.CreateUser(ctx, client.CreateUserInput{Email: "owner@example.com", Name: "Owner"})
	require.NoError(t, err)
	code := "ACT-77"
	d, err := ts.client.CreateDevice(ctx, client.CreateDeviceInput{Name: "Cam", Type: "CAMERA", Model: "C1", ActivationCode: &code})
	require.NoError(t, err)
	assert.Len(t, ts.transport.Messages(events.TopicNewDeviceNotification), 1)

	activated, err := ts.client.ActivateDevice(ctx, code, &u.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, activated.ID)
	assert.True(t, activated.IsActivated)
	require.NotNil(t, activated.OwnerID)
	assert.Equal(t, u.ID, *activated.OwnerID)

	_, err = ts.client.ActivateDevice(ctx, code, nil)
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "Device already activated", apiErr.Message)

	_, err = ts.client.ActivateDevice(ctx, "UNKNOWN", nil)
	assert.True(t, client.IsNotFound(err))

	resp, out := ts.do(t, http.MethodPut, "/v1.0/sensors/"+d.ID, `{"firmware_version":"2.0"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2.0", out["result"].(map[string]any)["firmware_version"])

	require.NoError(t, ts.client.DeleteDevice(ctx, d.ID))
	assert.Len(t, ts.transport.Messages(events.TopicDeleteDeviceNotification), 1)
}

func TestUserRoutes(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, out := ts.do(t, http.MethodPost, "/v1.0/users/", `{"email":"a@example.com","name":"A"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := out["result"].(map[string]any)["id"].(string)

	resp, _ = ts.do(t, http.MethodGet, "/v1.0/users/"+id, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, out = ts.do(t, http.MethodGet, "/v1.0/users/", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, out["result"], 1)

	resp, _ = ts.do(t, http.MethodDelete, "/v1.0/users/"+id, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/v1.0/users/", `{"email":"bad","name":"A"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, out := ts.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", out["result"].(map[string]any)["status"])
}

type downPinger struct{}

func (downPinger) PingContext(context.Context) error { return errors.New("connection refused") }

func TestHealthz_DatabaseDown(t *testing.T) {
	rec := httptest.NewRecorder()
	healthHandler(downPinger{}, zap.NewNop())(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// ============================================
// Idempotency-Key
// ============================================

func newRedisKV(t *testing.T) (*miniredis.Miniredis, *store.RedisKV) {
	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	return mr, store.NewRedisKV(c)
}

func TestCreateScenario_IdempotentRetry(t *testing.T) {
	_, kv := newRedisKV(t)
	ts := newTestServer(t, kv)
	ctx := context.Background()
	u, d := seed(t, ts)

	first, err := ts.client.CreateScenario(ctx, nightMode(u.ID, d.ID), "retry-1")
	require.NoError(t, err)
	second, err := ts.client.CreateScenario(ctx, nightMode(u.ID, d.ID), "retry-1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, ts.transport.Messages(events.TopicAutoCommand), 1)

	list, err := ts.client.ListScenarios(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	third, err := ts.client.CreateScenario(ctx, nightMode(u.ID, d.ID), "retry-2")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestIdempotency_Middleware(t *testing.T) {
	mr, kv := newRedisKV(t)
	calls := 0
	h := Idempotency(kv, time.Hour, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path == "/boom" {
			writeJSON(w, http.StatusInternalServerError, Fail("internal server error"))
			return
		}
		writeJSON(w, http.StatusCreated, Ok(map[string]any{"n": calls}))
	}))

	send := func(path, key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
		if key != "" {
			req.Header.Set(headerIdempotencyKey, key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	// 首次执行并保存
	rec := send("/things", "k1")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, calls)

	// 回放
	rec = send("/things", "k1")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "true", rec.Header().Get(headerReplayed))
	assert.Contains(t, rec.Body.String(), `"n":1`)
	assert.Equal(t, 1, calls)

	// 无 key 不去重
	send("/things", "")
	assert.Equal(t, 2, calls)

	// 5xx 不保存，可以重试
	assert.Equal(t, http.StatusInternalServerError, send("/boom", "k2").Code)
	assert.Equal(t, http.StatusInternalServerError, send("/boom", "k2").Code)
	assert.Equal(t, 4, calls)

	// 处理中
	require.NoError(t, mr.Set(idempotencyPrefix+"/things:k3", `{"pending":true}`))
	assert.Equal(t, http.StatusConflict, send("/things", "k3").Code)
	assert.Equal(t, 4, calls)

	// Redis 不可用时退化为普通请求
	mr.Close()
	assert.Equal(t, http.StatusCreated, send("/things", "k4").Code)
	assert.Equal(t, 5, calls)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

func TestIdempotency_ClientGoneBeforeResponseStored(t *testing.T) {
	_, kv := newRedisKV(t)
	calls := 0
	h := Idempotency(kv, time.Hour, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(w, http.StatusCreated, Ok(map[string]any{"n": calls}))
	}))

	// 客户端在提交后断开：请求 ctx 在 handler 返回前已取消
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/things", strings.NewReader(`{}`)).WithContext(ctx)
	req.Header.Set(headerIdempotencyKey, "gone-1")
	cancelling := Idempotency(kv, time.Hour, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		cancel()
		writeJSON(w, http.StatusCreated, Ok(map[string]any{"n": calls}))
	}))
	rec := httptest.NewRecorder()
	cancelling.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Error(t, ctx.Err())

	// 重试回放第一次的 201
	retry := httptest.NewRequest(http.MethodPost, "/things", strings.NewReader(`{}`))
	retry.Header.Set(headerIdempotencyKey, "gone-1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, retry)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "true", rec.Header().Get(headerReplayed))
	assert.Contains(t, rec.Body.String(), `"n":1`)
	assert.Equal(t, 1, calls)
}

func TestIdempotency_PanicReleasesKey(t *testing.T) {
	_, kv := newRedisKV(t)
	logger := zap.NewNop()
	calls := 0
	h := recoverer(logger)(Idempotency(kv, time.Hour, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			panic("boom")
		}
		writeJSON(w, http.StatusCreated, Ok(map[string]any{"n": calls}))
	})))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/things", strings.NewReader(`{}`))
		req.Header.Set(headerIdempotencyKey, "panic-1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusInternalServerError, send().Code)

	rec := send()
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, rec.Header().Get(headerReplayed))
	assert.Equal(t, 2, calls)
}

func TestCreateUser_BodyTooLarge(t *testing.T) {
	ts := newTestServer(t, nil)

	body := `{"email":"a@example.com","name":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/v1.0/users/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	ts.srv.Config.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Contains(t, out["message"], "exceeds")

	_, list := ts.do(t, http.MethodGet, "/v1.0/users/", "")
	assert.Empty(t, list["result"])
}
