package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
}

// RedisConfig holds Redis settings for request rate limiting.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AgentConfig bounds the orchestration loop and the completion service client.
type AgentConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	Model               string        `mapstructure:"model"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxToolCallsPerTurn int           `mapstructure:"max_tool_calls_per_turn"`
	MaxRetries          int           `mapstructure:"max_retries"`
	MaxHistory          int           `mapstructure:"max_history"`
	RequestsPerSecond   float64       `mapstructure:"requests_per_second"`
}

// RateLimitConfig holds per-user inbound request limits.
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Agent     AgentConfig     `mapstructure:"agent"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "taskpilot")
	v.SetDefault("database.password", "taskpilot")
	v.SetDefault("database.database", "taskpilot")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.idle_connections", 5)
	v.SetDefault("database.max_lifetime", 5*time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("agent.base_url", "http://localhost:8500")
	v.SetDefault("agent.model", "gpt-4-1106-preview")
	v.SetDefault("agent.timeout", 4*time.Second)
	v.SetDefault("agent.max_tool_calls_per_turn", 5)
	v.SetDefault("agent.max_retries", 2)
	v.SetDefault("agent.max_history", 50)
	v.SetDefault("agent.requests_per_second", 10.0)

	v.SetDefault("rate_limit.requests_per_minute", 60)
}

// Load reads configuration from the file at path (or CONFIG_PATH when path is
// empty) plus TASKPILOT_* environment overrides. A missing config file is not
// an error; defaults and environment cover every knob.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TASKPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Agent.MaxToolCallsPerTurn < 1 {
		return fmt.Errorf("agent.max_tool_calls_per_turn must be >= 1, got %d", c.Agent.MaxToolCallsPerTurn)
	}
	if c.Agent.MaxRetries < 0 {
		return fmt.Errorf("agent.max_retries must be >= 0, got %d", c.Agent.MaxRetries)
	}
	if c.Agent.MaxHistory < 1 {
		return fmt.Errorf("agent.max_history must be >= 1, got %d", c.Agent.MaxHistory)
	}
	if c.Agent.Timeout <= 0 {
		return fmt.Errorf("agent.timeout must be positive, got %s", c.Agent.Timeout)
	}
	return nil
}
