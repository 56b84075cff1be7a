package config

import (
	"fmt"
	"os"
	"strconv"
)

// DatabaseConfig PostgreSQL 连接配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT 连接配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// GetDSN 获取 lib/pq 连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// LoadFromEnv 从 {prefix}_HOST / _PORT / ... 覆盖数据库配置
func (c *DatabaseConfig) LoadFromEnv(prefix string) {
	c.Host = envString(prefix+"_HOST", c.Host)
	c.Port = envInt(prefix+"_PORT", c.Port)
	c.User = envString(prefix+"_USER", c.User)
	c.Password = envString(prefix+"_PASSWORD", c.Password)
	c.Database = envString(prefix+"_NAME", c.Database)
	c.SSLMode = envString(prefix+"_SSLMODE", c.SSLMode)
	c.MaxConns = envInt(prefix+"_MAX_CONNS", c.MaxConns)
	c.MaxIdle = envInt(prefix+"_MAX_IDLE", c.MaxIdle)
}

// LoadFromEnv 从 {prefix}_ADDR / _PASSWORD / _DB 覆盖 Redis 配置
func (c *RedisConfig) LoadFromEnv(prefix string) {
	c.Addr = envString(prefix+"_ADDR", c.Addr)
	c.Password = envString(prefix+"_PASSWORD", c.Password)
	c.DB = envInt(prefix+"_DB", c.DB)
}

// LoadFromEnv 从 {prefix}_BROKER / _CLIENT_ID / ... 覆盖 MQTT 配置
func (c *MQTTConfig) LoadFromEnv(prefix string) {
	c.Broker = envString(prefix+"_BROKER", c.Broker)
	c.ClientID = envString(prefix+"_CLIENT_ID", c.ClientID)
	c.Username = envString(prefix+"_USERNAME", c.Username)
	c.Password = envString(prefix+"_PASSWORD", c.Password)
	if qos := envInt(prefix+"_QOS", int(c.QoS)); qos >= 0 && qos <= 2 {
		c.QoS = byte(qos)
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
