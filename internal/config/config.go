package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata" // 容器镜像中可能没有系统时区库

	"wisefido-camera/owl-common/config"
)

// Config 摄像头事件轮询服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// 监控源（ZoneMinder 风格 API）配置
	Camera struct {
		IntegrationID string // 集成标识，作为传感器键的一部分，如 "zm"
		APIURL        string // API 根地址，如 "http://zm.local/zm"
		APIToken      string // API 访问 token（可为空）
		Timezone      string // 监控源所在时区，查询时间窗口按此时区格式化

		PollInterval           time.Duration // 轮询间隔，默认 5 秒
		FetchTimeout           time.Duration // 单次拉取超时，必须小于轮询间隔
		InitialLookback        time.Duration // 无水位检查点时从 now-lookback 开始查询
		RateLimit              float64       // 每秒请求数上限
		PageLimit              int           // 每页事件数
		SourcesRefreshInterval time.Duration // 监控源列表刷新间隔
	}

	// 事件去重缓存
	Dedup struct {
		MaxEntries int
		TTL        time.Duration
	}

	// 最新状态缓存
	Latest struct {
		ListSize  int    // 每个传感器保留的最近读数条数 N
		KeyPrefix string // 列表键前缀，如 "hub:latest:"
	}

	// 水位检查点、心跳等状态键
	State struct {
		KeyPrefix string
	}

	// 历史与下游通知
	History struct {
		Enabled bool // 写入 PostgreSQL sensor_history
	}
	Notify struct {
		MQTTEnabled     bool
		MQTTTopicPrefix string
		StreamEnabled   bool
		StreamName      string
		StreamMaxLen    int64
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置（环境变量 + 默认值）
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = 5432
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "owlrd")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = 4
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "wisefido-camera")
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Camera.IntegrationID = getEnv("CAMERA_INTEGRATION_ID", "zm")
	cfg.Camera.APIURL = getEnv("CAMERA_API_URL", "")
	cfg.Camera.APIToken = getEnv("CAMERA_API_TOKEN", "")
	cfg.Camera.Timezone = getEnv("CAMERA_TIMEZONE", "UTC")
	cfg.Camera.PollInterval = getSeconds("CAMERA_POLL_INTERVAL", 5)
	cfg.Camera.FetchTimeout = getSeconds("CAMERA_FETCH_TIMEOUT", 4)
	cfg.Camera.InitialLookback = getSeconds("CAMERA_INITIAL_LOOKBACK", 300)
	cfg.Camera.RateLimit = getFloat("CAMERA_RATE_LIMIT", 5)
	cfg.Camera.PageLimit = getInt("CAMERA_PAGE_LIMIT", 100)
	cfg.Camera.SourcesRefreshInterval = getSeconds("CAMERA_SOURCES_REFRESH_INTERVAL", 300)

	cfg.Dedup.MaxEntries = getInt("DEDUP_MAX_ENTRIES", 1000)
	cfg.Dedup.TTL = getSeconds("DEDUP_TTL", 24*60*60)

	cfg.Latest.ListSize = getInt("LATEST_LIST_SIZE", 5)
	cfg.Latest.KeyPrefix = getEnv("LATEST_KEY_PREFIX", "hub:latest:")
	cfg.State.KeyPrefix = getEnv("STATE_KEY_PREFIX", "hub:state:")

	cfg.History.Enabled = getEnv("HISTORY_ENABLED", "true") == "true"
	cfg.Notify.MQTTEnabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.Notify.MQTTTopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "hub/sensors")
	cfg.Notify.StreamEnabled = getEnv("STREAM_ENABLED", "false") == "true"
	cfg.Notify.StreamName = getEnv("STREAM_NAME", "hub:sensor:readings")
	cfg.Notify.StreamMaxLen = int64(getInt("STREAM_MAX_LEN", 10000))

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置的取值范围
func (c *Config) Validate() error {
	if c.Camera.IntegrationID == "" {
		return errors.New("CAMERA_INTEGRATION_ID must not be empty")
	}
	if c.Camera.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.Camera.PollInterval)
	}
	// 拉取超时必须短于轮询间隔，否则挂起的请求会饿死后续轮询
	if c.Camera.FetchTimeout <= 0 || c.Camera.FetchTimeout >= c.Camera.PollInterval {
		return fmt.Errorf("fetch timeout %s must be positive and shorter than poll interval %s",
			c.Camera.FetchTimeout, c.Camera.PollInterval)
	}
	if c.Camera.SourcesRefreshInterval <= 0 {
		return fmt.Errorf("sources refresh interval must be positive, got %s", c.Camera.SourcesRefreshInterval)
	}
	if c.Camera.PageLimit <= 0 {
		return fmt.Errorf("page limit must be positive, got %d", c.Camera.PageLimit)
	}
	if c.Latest.ListSize < 1 {
		return fmt.Errorf("latest list size must be at least 1, got %d", c.Latest.ListSize)
	}
	if c.Dedup.MaxEntries < 1 {
		return fmt.Errorf("dedup max entries must be at least 1, got %d", c.Dedup.MaxEntries)
	}
	if _, err := time.LoadLocation(c.Camera.Timezone); err != nil {
		return fmt.Errorf("invalid CAMERA_TIMEZONE %q: %w", c.Camera.Timezone, err)
	}
	return nil
}

// Location 返回监控源时区
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Camera.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil && v > 0 {
		return v
	}
	return defaultValue
}

// getSeconds 读取以秒为单位的整数环境变量
func getSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getInt(key, defaultSeconds)) * time.Second
}
