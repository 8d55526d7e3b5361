package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"device-management/internal/config"
	"device-management/internal/database"
	"device-management/internal/events"
	httpapi "device-management/internal/http"
	"device-management/internal/kafka"
	"device-management/internal/logger"
	"device-management/internal/mqtt"
	redisclient "device-management/internal/redis"
	"device-management/internal/repository"
	"device-management/internal/service"
	"device-management/internal/store"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "device-management")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	os.Exit(exitCode(log, run(cfg, log)))
}

// exitCode 记录退出原因并刷新日志缓冲；os.Exit 不会执行 defer
func exitCode(log *zap.Logger, err error) int {
	code := 0
	if err != nil {
		log.Error("device-management exited", zap.Error(err))
		code = 1
	}
	_ = log.Sync()
	return code
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx := context.Background()

	// 数据库
	db, err := database.Open(&cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close(db)

	if cfg.Database.AutoMigrate {
		if err := database.ApplySchema(ctx, db, cfg.Database.Driver); err != nil {
			return err
		}
		log.Info("Schema applied", zap.String("driver", cfg.Database.Driver))
	}

	// Redis：redis 事件后端和幂等去重共用一个客户端
	var redisClient *redisclient.Client
	if cfg.Events.Backend == "redis" || cfg.Idempotency.Enabled {
		redisClient = redisclient.NewRedisClient(&cfg.Redis)
		defer redisclient.Close(redisClient)
		if err := redisclient.Ping(ctx, redisClient); err != nil {
			log.Warn("Redis not reachable at startup", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
	}

	// 事件发布
	transport, err := newTransport(cfg, redisClient, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := transport.Close(); err != nil {
			log.Warn("Failed to close event transport", zap.Error(err))
		}
	}()
	publisher := events.NewBrokerPublisher(transport, events.OptionsFromConfig(cfg.Events), log)

	// Repository / Service
	usersRepo := repository.NewSQLUsersRepository(db)
	devicesRepo := repository.NewSQLDevicesRepository(db)
	scenariosRepo := repository.NewSQLScenariosRepository(db)

	routerCfg := httpapi.RouterConfig{
		Scenarios: service.NewScenarioService(scenariosRepo, usersRepo, devicesRepo, publisher,
			service.ScenarioOptions{RequireActionTarget: cfg.Scenario.RequireActionTarget}, log),
		Users:   service.NewUserService(usersRepo, log),
		Devices: service.NewDeviceService(devicesRepo, usersRepo, publisher, log),
		DB:      db,
		Logger:  log,
	}
	if cfg.Idempotency.Enabled {
		routerCfg.Idempotency = store.NewRedisKV(redisClient)
		routerCfg.IdempotencyTTL = cfg.Idempotency.TTL
	}

	srv := service.NewServer(cfg.HTTP.Addr, httpapi.NewRouter(routerCfg), log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

// newTransport 按 events.backend 创建事件传输
func newTransport(cfg *config.Config, redisClient *redisclient.Client, log *zap.Logger) (events.Transport, error) {
	switch cfg.Events.Backend {
	case "kafka":
		return kafka.NewProducer(&cfg.Kafka)
	case "mqtt":
		return mqtt.NewClient(&cfg.MQTT, log)
	case "redis":
		return redisclient.NewStreamTransport(redisClient), nil
	case "memory":
		return events.NewMemoryTransport(), nil
	case "none":
		return events.DiscardTransport{}, nil
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Events.Backend)
	}
}
