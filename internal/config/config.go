package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration shared by the session agent and the
// development auth backend.
type Config struct {
	Server    ServerConfig
	API       APIConfig
	Session   SessionConfig
	Storage   StorageConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Agent     AgentConfig
	LogLevel  string
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// APIConfig describes the REST backend the session client talks to.
type APIConfig struct {
	BaseURL        string
	Timeout        time.Duration
	RefreshTimeout time.Duration
	LogoutTimeout  time.Duration
	LoginURL       string
	ResetURL       string
}

// SessionConfig holds the session lifecycle timings.
type SessionConfig struct {
	ExpiryThreshold     time.Duration
	MaxDuration         time.Duration
	RefreshMinInterval  time.Duration
	MaintenanceInterval time.Duration
	LogoutDelay         time.Duration
	MaxNetworkRetries   int
	MaxRefreshFailures  int
}

// StorageConfig selects the persistent Token Store backend.
type StorageConfig struct {
	Driver        string // memory | redis | mongo
	Prefix        string
	EncryptionKey string
}

type MongoDBConfig struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type RateLimitConfig struct {
	Enabled       bool
	UseRedis      bool
	RPS           float64
	Burst         int
	WindowSeconds int
}

// AgentConfig holds the credentials the session agent logs in with when no
// session is stored.
type AgentConfig struct {
	Email    string
	Password string
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "5001")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_ENVIRONMENT", "development")
	viper.SetDefault("LOG_LEVEL", "info")

	viper.SetDefault("API_BASE_URL", "http://localhost:5002")
	viper.SetDefault("API_TIMEOUT", "30s")
	viper.SetDefault("API_REFRESH_TIMEOUT", "10s")
	viper.SetDefault("API_LOGOUT_TIMEOUT", "5s")
	viper.SetDefault("API_LOGIN_URL", "/login")
	viper.SetDefault("API_RESET_URL", "http://localhost:3000/reset-password")

	viper.SetDefault("SESSION_EXPIRY_THRESHOLD", "5m")
	viper.SetDefault("SESSION_MAX_DURATION", "8h")
	viper.SetDefault("SESSION_REFRESH_MIN_INTERVAL", "30s")
	viper.SetDefault("SESSION_MAINTENANCE_INTERVAL", "60s")
	viper.SetDefault("SESSION_LOGOUT_DELAY", "100ms")
	viper.SetDefault("SESSION_MAX_NETWORK_RETRIES", 2)
	viper.SetDefault("SESSION_MAX_REFRESH_FAILURES", 3)

	viper.SetDefault("STORAGE_DRIVER", "memory")
	viper.SetDefault("STORAGE_PREFIX", "impala:")

	viper.SetDefault("MONGODB_DATABASE", "impala")
	viper.SetDefault("MONGODB_COLLECTION", "session_storage")
	viper.SetDefault("MONGODB_TIMEOUT", 10)
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("REDIS_DB", 0)

	viper.SetDefault("JWT_ACCESS_TOKEN_TTL", 15)
	viper.SetDefault("JWT_REFRESH_TOKEN_TTL", 10080)

	viper.SetDefault("RATE_LIMIT_ENABLED", true)
	viper.SetDefault("RATE_LIMIT_USE_REDIS", false)
	viper.SetDefault("RATE_LIMIT_RPS", 1.0)
	viper.SetDefault("RATE_LIMIT_BURST", 5)
	viper.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 60)

	cfg := &Config{
		Server: ServerConfig{
			Port:         viper.GetString("SERVER_PORT"),
			Host:         viper.GetString("SERVER_HOST"),
			Environment:  viper.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		API: APIConfig{
			BaseURL:        strings.TrimRight(viper.GetString("API_BASE_URL"), "/"),
			Timeout:        viper.GetDuration("API_TIMEOUT"),
			RefreshTimeout: viper.GetDuration("API_REFRESH_TIMEOUT"),
			LogoutTimeout:  viper.GetDuration("API_LOGOUT_TIMEOUT"),
			LoginURL:       viper.GetString("API_LOGIN_URL"),
			ResetURL:       viper.GetString("API_RESET_URL"),
		},
		Session: SessionConfig{
			ExpiryThreshold:     viper.GetDuration("SESSION_EXPIRY_THRESHOLD"),
			MaxDuration:         viper.GetDuration("SESSION_MAX_DURATION"),
			RefreshMinInterval:  viper.GetDuration("SESSION_REFRESH_MIN_INTERVAL"),
			MaintenanceInterval: viper.GetDuration("SESSION_MAINTENANCE_INTERVAL"),
			LogoutDelay:         viper.GetDuration("SESSION_LOGOUT_DELAY"),
			MaxNetworkRetries:   viper.GetInt("SESSION_MAX_NETWORK_RETRIES"),
			MaxRefreshFailures:  viper.GetInt("SESSION_MAX_REFRESH_FAILURES"),
		},
		Storage: StorageConfig{
			Driver:        strings.ToLower(viper.GetString("STORAGE_DRIVER")),
			Prefix:        viper.GetString("STORAGE_PREFIX"),
			EncryptionKey: os.Getenv("STORAGE_ENCRYPTION_KEY"),
		},
		MongoDB: MongoDBConfig{
			URI:        viper.GetString("MONGODB_URI"),
			Database:   viper.GetString("MONGODB_DATABASE"),
			Collection: viper.GetString("MONGODB_COLLECTION"),
			Timeout:    time.Duration(viper.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		JWT: JWTConfig{
			Secret:          os.Getenv("JWT_SECRET"),
			AccessTokenTTL:  time.Duration(viper.GetInt("JWT_ACCESS_TOKEN_TTL")) * time.Minute,
			RefreshTokenTTL: time.Duration(viper.GetInt("JWT_REFRESH_TOKEN_TTL")) * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:       viper.GetBool("RATE_LIMIT_ENABLED"),
			UseRedis:      viper.GetBool("RATE_LIMIT_USE_REDIS"),
			RPS:           viper.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         viper.GetInt("RATE_LIMIT_BURST"),
			WindowSeconds: viper.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
		Agent: AgentConfig{
			Email:    viper.GetString("AGENT_EMAIL"),
			Password: os.Getenv("AGENT_PASSWORD"),
		},
		LogLevel: viper.GetString("LOG_LEVEL"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements that defaults cannot cover.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "redis":
		if c.Redis.Host == "" {
			return fmt.Errorf("STORAGE_DRIVER=redis requires REDIS_HOST")
		}
	case "mongo":
		if c.MongoDB.URI == "" {
			return fmt.Errorf("STORAGE_DRIVER=mongo requires MONGODB_URI")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.Storage.Driver)
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	if c.Session.MaxNetworkRetries < 0 || c.Session.MaxRefreshFailures < 1 {
		return fmt.Errorf("invalid session retry settings")
	}
	return nil
}

// RedisAddr returns host:port for the configured Redis server.
func (c *Config) RedisAddr() string {
	return c.Redis.Host + ":" + c.Redis.Port
}
