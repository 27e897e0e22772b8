package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Breaker  BreakerConfig  `json:"breaker"`
	Health   HealthConfig   `json:"health"`
	Incident IncidentConfig `json:"incident"`
	Scaling  ScalingConfig  `json:"scaling"`
	Notify   NotifyConfig   `json:"notify"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig contains database connection configuration
type DatabaseConfig struct {
	Enabled         bool          `json:"enabled"`
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// BreakerConfig contains default circuit breaker configuration
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
	VolumeThreshold  int           `json:"volume_threshold"`
	MonitorInterval  time.Duration `json:"monitor_interval"`
}

// HealthConfig contains health checker configuration
type HealthConfig struct {
	CheckInterval time.Duration `json:"check_interval"`
	ProbeTimeout  time.Duration `json:"probe_timeout"`
	MinUptime     time.Duration `json:"min_uptime"`
	HeapThreshold float64       `json:"heap_threshold"`
}

// IncidentConfig contains incident response configuration
type IncidentConfig struct {
	EscalationWindow   time.Duration `json:"escalation_window"`
	MaxEscalationLevel int           `json:"max_escalation_level"`
	AutoEscalate       bool          `json:"auto_escalate"`
	Channels           []string      `json:"channels"`
}

// ScalingConfig contains auto-scaling configuration
type ScalingConfig struct {
	Service           string        `json:"service"`
	MinReplicas       int           `json:"min_replicas"`
	MaxReplicas       int           `json:"max_replicas"`
	CPUThreshold      float64       `json:"cpu_threshold"`
	MemoryThreshold   float64       `json:"memory_threshold"`
	ScaleUpCooldown   time.Duration `json:"scale_up_cooldown"`
	ScaleDownCooldown time.Duration `json:"scale_down_cooldown"`
	Endpoint          string        `json:"endpoint"`
	Token             string        `json:"token"`
}

// NotifyConfig contains notification channel configuration
type NotifyConfig struct {
	SlackWebhookURL string        `json:"slack_webhook_url"`
	SlackChannel    string        `json:"slack_channel"`
	SlackUsername   string        `json:"slack_username"`
	WebhookURL      string        `json:"webhook_url"`
	EmailFrom       string        `json:"email_from"`
	EmailTo         []string      `json:"email_to"`
	SendTimeout     time.Duration `json:"send_timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			Enabled:         getEnvBool("DB_ENABLED", false),
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "vigil"),
			User:            getEnvString("DB_USER", "vigil"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Breaker: BreakerConfig{
			FailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
			RecoveryTimeout:  getEnvDuration("BREAKER_RECOVERY_TIMEOUT", 60*time.Second),
			VolumeThreshold:  getEnvInt("BREAKER_VOLUME_THRESHOLD", 10),
			MonitorInterval:  getEnvDuration("BREAKER_MONITOR_INTERVAL", 10*time.Second),
		},
		Health: HealthConfig{
			CheckInterval: getEnvDuration("HEALTH_CHECK_INTERVAL", 30*time.Second),
			ProbeTimeout:  getEnvDuration("HEALTH_PROBE_TIMEOUT", 5*time.Second),
			MinUptime:     getEnvDuration("HEALTH_MIN_UPTIME", 10*time.Second),
			HeapThreshold: getEnvFloat("HEALTH_HEAP_THRESHOLD", 90.0),
		},
		Incident: IncidentConfig{
			EscalationWindow:   getEnvDuration("INCIDENT_ESCALATION_WINDOW", 5*time.Minute),
			MaxEscalationLevel: getEnvInt("INCIDENT_MAX_ESCALATION_LEVEL", 3),
			AutoEscalate:       getEnvBool("INCIDENT_AUTO_ESCALATE", true),
			Channels:           getEnvStrings("INCIDENT_CHANNELS", []string{"log"}),
		},
		Scaling: ScalingConfig{
			Service:           getEnvString("SCALING_SERVICE", "vigil"),
			MinReplicas:       getEnvInt("SCALING_MIN_REPLICAS", 1),
			MaxReplicas:       getEnvInt("SCALING_MAX_REPLICAS", 10),
			CPUThreshold:      getEnvFloat("SCALING_CPU_THRESHOLD", 80.0),
			MemoryThreshold:   getEnvFloat("SCALING_MEMORY_THRESHOLD", 85.0),
			ScaleUpCooldown:   getEnvDuration("SCALING_UP_COOLDOWN", 3*time.Minute),
			ScaleDownCooldown: getEnvDuration("SCALING_DOWN_COOLDOWN", 5*time.Minute),
			Endpoint:          getEnvString("SCALING_ENDPOINT", ""),
			Token:             getEnvString("SCALING_TOKEN", ""),
		},
		Notify: NotifyConfig{
			SlackWebhookURL: getEnvString("NOTIFY_SLACK_WEBHOOK_URL", ""),
			SlackChannel:    getEnvString("NOTIFY_SLACK_CHANNEL", "#ops"),
			SlackUsername:   getEnvString("NOTIFY_SLACK_USERNAME", "vigil"),
			WebhookURL:      getEnvString("NOTIFY_WEBHOOK_URL", ""),
			EmailFrom:       getEnvString("NOTIFY_EMAIL_FROM", ""),
			EmailTo:         getEnvStrings("NOTIFY_EMAIL_TO", nil),
			SendTimeout:     getEnvDuration("NOTIFY_SEND_TIMEOUT", 10*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Enabled && c.Database.Password == "" {
		return fmt.Errorf("database password is required when database is enabled")
	}

	if c.Scaling.MinReplicas < 1 {
		return fmt.Errorf("scaling min replicas must be at least 1")
	}

	if c.Scaling.MinReplicas > c.Scaling.MaxReplicas {
		return fmt.Errorf("scaling min replicas (%d) exceeds max replicas (%d)",
			c.Scaling.MinReplicas, c.Scaling.MaxReplicas)
	}

	if c.Incident.MaxEscalationLevel < 1 {
		return fmt.Errorf("incident max escalation level must be at least 1")
	}

	if c.Breaker.FailureThreshold < 1 || c.Breaker.VolumeThreshold < 1 {
		return fmt.Errorf("breaker thresholds must be at least 1")
	}

	return nil
}

// DatabaseURL returns the database connection URL
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvStrings(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
