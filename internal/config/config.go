package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DatabaseConfig 数据库配置
// Driver: "postgres"（生产）或 "sqlite3"（本地开发 / 测试）
type DatabaseConfig struct {
	Driver      string `yaml:"driver"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Database    string `yaml:"database"`
	SSLMode     string `yaml:"sslmode"`
	MaxConns    int    `yaml:"max_conns"`
	MaxIdle     int    `yaml:"max_idle"`
	Path        string `yaml:"path"` // sqlite3 文件路径，":memory:" 表示内存库
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	QoS         byte   `yaml:"qos"`
	TopicPrefix string `yaml:"topic_prefix"` // 发布主题前缀，如 "smarthome/events"
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"`
	ClientID string   `yaml:"client_id"`
}

// EventsConfig 事件发布配置
// Backend: kafka | mqtt | redis | memory | none
type EventsConfig struct {
	Backend         string        `yaml:"backend"`
	PublishTimeout  time.Duration `yaml:"publish_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	BreakerFailures int           `yaml:"breaker_failures"` // 连续失败多少次后熔断
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`  // 熔断后多久进入半开状态
}

// ScenarioConfig 自动化场景配置
type ScenarioConfig struct {
	// RequireActionTarget 规则的 action_target 是否必填
	RequireActionTarget bool `yaml:"require_action_target"`
}

// IdempotencyConfig POST 幂等配置（依赖 Redis）
type IdempotencyConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// Config device-management（HTTP API）配置
type Config struct {
	HTTP struct {
		Addr            string        `yaml:"addr"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"http"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Events      EventsConfig      `yaml:"events"`
	Scenario    ScenarioConfig    `yaml:"scenario"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Log         struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// GetDSN 获取 PostgreSQL 连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// Default 返回默认配置（本地开发可直接使用）
func Default() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = ":8080"
	cfg.HTTP.ShutdownTimeout = 5 * time.Second

	cfg.Database.Driver = "postgres"
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "smarthome"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 20
	cfg.Database.MaxIdle = 5
	cfg.Database.Path = "smarthome.db"
	cfg.Database.AutoMigrate = true

	cfg.Redis.Addr = "localhost:6379"

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "device-management"
	cfg.MQTT.QoS = 1
	cfg.MQTT.TopicPrefix = "smarthome/events"

	cfg.Kafka.Brokers = []string{"kafka:9092"}
	cfg.Kafka.ClientID = "device-management"

	cfg.Events.Backend = "kafka"
	cfg.Events.PublishTimeout = 5 * time.Second
	cfg.Events.MaxRetries = 2
	cfg.Events.BreakerFailures = 5
	cfg.Events.BreakerTimeout = 30 * time.Second

	cfg.Scenario.RequireActionTarget = true

	cfg.Idempotency.Enabled = false
	cfg.Idempotency.TTL = 24 * time.Hour

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	return cfg
}

// Load 加载配置：默认值 -> CONFIG_FILE（YAML，可选）-> 环境变量
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() {
	c.HTTP.Addr = getEnv("HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.ShutdownTimeout = parseDuration(os.Getenv("HTTP_SHUTDOWN_TIMEOUT"), c.HTTP.ShutdownTimeout)

	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = parseInt(os.Getenv("DB_PORT"), c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Database = getEnv("DB_NAME", c.Database.Database)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)
	c.Database.MaxConns = parseInt(os.Getenv("DB_MAX_CONNS"), c.Database.MaxConns)
	c.Database.MaxIdle = parseInt(os.Getenv("DB_MAX_IDLE"), c.Database.MaxIdle)
	c.Database.Path = getEnv("DB_PATH", c.Database.Path)
	c.Database.AutoMigrate = parseBool(os.Getenv("DB_AUTO_MIGRATE"), c.Database.AutoMigrate)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = parseInt(os.Getenv("REDIS_DB"), c.Redis.DB)

	c.MQTT.Broker = getEnv("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.Username = getEnv("MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = getEnv("MQTT_PASSWORD", c.MQTT.Password)
	c.MQTT.QoS = byte(parseInt(os.Getenv("MQTT_QOS"), int(c.MQTT.QoS)))
	c.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", c.MQTT.TopicPrefix)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = splitList(brokers)
	}
	c.Kafka.ClientID = getEnv("KAFKA_CLIENT_ID", c.Kafka.ClientID)

	c.Events.Backend = getEnv("EVENTS_BACKEND", c.Events.Backend)
	c.Events.PublishTimeout = parseDuration(os.Getenv("EVENTS_PUBLISH_TIMEOUT"), c.Events.PublishTimeout)
	c.Events.MaxRetries = parseInt(os.Getenv("EVENTS_MAX_RETRIES"), c.Events.MaxRetries)
	c.Events.BreakerFailures = parseInt(os.Getenv("EVENTS_BREAKER_FAILURES"), c.Events.BreakerFailures)
	c.Events.BreakerTimeout = parseDuration(os.Getenv("EVENTS_BREAKER_TIMEOUT"), c.Events.BreakerTimeout)

	c.Scenario.RequireActionTarget = parseBool(os.Getenv("SCENARIO_REQUIRE_ACTION_TARGET"), c.Scenario.RequireActionTarget)

	c.Idempotency.Enabled = parseBool(os.Getenv("IDEMPOTENCY_ENABLED"), c.Idempotency.Enabled)
	c.Idempotency.TTL = parseDuration(os.Getenv("IDEMPOTENCY_TTL"), c.Idempotency.TTL)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Validate 校验配置的取值范围
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Events.Backend {
	case "kafka", "mqtt", "redis", "memory", "none":
	default:
		return fmt.Errorf("unsupported events backend %q", c.Events.Backend)
	}
	if c.Events.Backend == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka backend requires at least one broker")
	}
	if c.Events.PublishTimeout <= 0 {
		return fmt.Errorf("events publish timeout must be positive")
	}
	if c.Events.MaxRetries < 0 {
		return fmt.Errorf("events max retries must not be negative")
	}
	if c.Events.BreakerFailures < 0 {
		return fmt.Errorf("events breaker failures must not be negative")
	}
	if c.Events.BreakerTimeout < 0 {
		return fmt.Errorf("events breaker timeout must not be negative")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseBool(s string, def bool) bool {
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
