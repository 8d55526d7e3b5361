package httpapi

import (
	"context"
	"net/http"
	"time"

	"device-management/internal/service"
	"device-management/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// APIPrefix 业务路由前缀
const APIPrefix = "/v1.0"

// Pinger 健康检查依赖（*sql.DB 满足）
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RouterConfig 路由依赖
type RouterConfig struct {
	Scenarios service.ScenarioService
	Users     service.UserService
	Devices   service.DeviceService
	DB        Pinger

	// Idempotency 为 nil 时不启用 Idempotency-Key 去重
	Idempotency    store.KV
	IdempotencyTTL time.Duration

	Logger *zap.Logger
}

// NewRouter 创建 HTTP 路由
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(accessLog(logger))
	r.Use(recoverer(logger))

	r.Get("/healthz", healthHandler(cfg.DB, logger))

	scenarios := NewScenarioHandler(cfg.Scenarios, logger)
	users := NewUserHandler(cfg.Users, logger)
	devices := NewDeviceHandler(cfg.Devices, logger)

	r.Route(APIPrefix, func(r chi.Router) {
		if cfg.Idempotency != nil {
			r.Use(Idempotency(cfg.Idempotency, cfg.IdempotencyTTL, logger))
		}

		r.Route("/automation-scenarios", func(r chi.Router) {
			r.Get("/", scenarios.ListScenarios)
			r.Post("/", scenarios.CreateScenario)
			r.Get("/{id}", scenarios.GetScenario)
			r.Put("/{id}", scenarios.UpdateScenario)
			r.Delete("/{id}", scenarios.DeleteScenario)
		})

		r.Route("/users", func(r chi.Router) {
			r.Get("/", users.ListUsers)
			r.Post("/", users.CreateUser)
			r.Get("/{id}", users.GetUser)
			r.Delete("/{id}", users.DeleteUser)
		})

		r.Route("/sensors", func(r chi.Router) {
			r.Get("/", devices.ListDevices)
			r.Post("/", devices.CreateDevice)
			r.Post("/activate", devices.ActivateDevice)
			r.Get("/{id}", devices.GetDevice)
			r.Put("/{id}", devices.UpdateDevice)
			r.Delete("/{id}", devices.DeleteDevice)
		})
	})

	return r
}

// healthHandler GET /healthz
func healthHandler(db Pinger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				logger.Warn("Health check failed", zap.Error(err))
				writeJSON(w, http.StatusServiceUnavailable, Fail("database unavailable"))
				return
			}
		}
		writeJSON(w, http.StatusOK, Ok(map[string]any{"status": "ok"}))
	}
}
