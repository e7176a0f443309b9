package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the runtime settings of the dust-check API.
type Config struct {
	Server     ServerConfig
	Prediction PredictionConfig
	Auth       AuthConfig
	Redis      RedisConfig
	App        AppConfig
}

type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

type PredictionConfig struct {
	BaseURL string
	Timeout time.Duration
}

type AuthConfig struct {
	JWTSecret           string
	JWTAudience         string
	RevocationCacheSize int
	RevocationCacheTTL  time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AppConfig struct {
	MaxUploadSize int64
	MaxSessions   int
	LogLevel      string
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetDefault("SERVER_ADDR", ":8080")
	v.SetDefault("SHUTDOWN_TIMEOUT", 15*time.Second)
	v.SetDefault("PREDICTION_SERVICE_URL", "http://localhost:5000")
	v.SetDefault("PREDICTION_TIMEOUT", 30*time.Second)
	v.SetDefault("JWT_SECRET", "dev-secret")
	v.SetDefault("JWT_AUDIENCE", "")
	v.SetDefault("REVOCATION_CACHE_SIZE", 10000)
	v.SetDefault("REVOCATION_CACHE_TTL", 24*time.Hour)
	v.SetDefault("REDIS_ADDR", "redis:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("MAX_UPLOAD_SIZE", 10*1024*1024) // 10MB
	v.SetDefault("MAX_SESSIONS", 1024)
	v.SetDefault("LOG_LEVEL", "info")

	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Addr:            strings.TrimSpace(v.GetString("SERVER_ADDR")),
			ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
		},
		Prediction: PredictionConfig{
			BaseURL: strings.TrimRight(strings.TrimSpace(v.GetString("PREDICTION_SERVICE_URL")), "/"),
			Timeout: v.GetDuration("PREDICTION_TIMEOUT"),
		},
		Auth: AuthConfig{
			JWTSecret:           strings.TrimSpace(v.GetString("JWT_SECRET")),
			JWTAudience:         strings.TrimSpace(v.GetString("JWT_AUDIENCE")),
			RevocationCacheSize: v.GetInt("REVOCATION_CACHE_SIZE"),
			RevocationCacheTTL:  v.GetDuration("REVOCATION_CACHE_TTL"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		App: AppConfig{
			MaxUploadSize: v.GetInt64("MAX_UPLOAD_SIZE"),
			MaxSessions:   v.GetInt("MAX_SESSIONS"),
			LogLevel:      v.GetString("LOG_LEVEL"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("SERVER_ADDR must not be empty")
	}
	u, err := url.Parse(c.Prediction.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid PREDICTION_SERVICE_URL: %q", c.Prediction.BaseURL)
	}
	if c.Prediction.Timeout <= 0 || c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got prediction=%s, shutdown=%s)",
			c.Prediction.Timeout, c.Server.ShutdownTimeout)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}
	if c.Auth.RevocationCacheSize <= 0 || c.Auth.RevocationCacheTTL <= 0 {
		return fmt.Errorf("revocation cache needs a positive size and ttl (got %d, %s)",
			c.Auth.RevocationCacheSize, c.Auth.RevocationCacheTTL)
	}
	if c.App.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be > 0 (got %d)", c.App.MaxUploadSize)
	}
	if c.App.MaxSessions <= 0 {
		return fmt.Errorf("MAX_SESSIONS must be > 0 (got %d)", c.App.MaxSessions)
	}
	return nil
}
