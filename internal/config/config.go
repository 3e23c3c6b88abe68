package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server     ServerConfig
	Fetch      FetchConfig
	Session    SessionConfig
	Dynamic    DynamicConfig
	Copywriter CopywriterConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type FetchConfig struct {
	Timeout time.Duration
}

type SessionConfig struct {
	Headless          bool
	UserDataDir       string
	StorageStatePath  string
	Locale            string
	Channel           string
	NavigationTimeout time.Duration
}

type DynamicConfig struct {
	Headless           bool
	ClickProbe         bool
	NavigationTimeout  time.Duration
	NetworkIdleTimeout time.Duration
	SettleDelay        time.Duration
}

type CopywriterConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type DatabaseConfig struct {
	URL string
}

type RedisConfig struct {
	URL string
	TTL time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Fetch: FetchConfig{
			Timeout: getDurationOrDefault("FETCH_TIMEOUT", 20*time.Second),
		},
		Session: SessionConfig{
			Headless:          getBoolOrDefault("SESSION_HEADLESS", false),
			UserDataDir:       getEnvOrDefault("SESSION_USER_DATA_DIR", ".pdd_user_data"),
			StorageStatePath:  getEnvOrDefault("SESSION_STORAGE_STATE", ".pdd_storage_state.json"),
			Locale:            getEnvOrDefault("SESSION_LOCALE", "zh-CN"),
			Channel:           getEnvOrDefault("SESSION_CHANNEL", "chrome"),
			NavigationTimeout: getDurationOrDefault("SESSION_NAVIGATION_TIMEOUT", 45*time.Second),
		},
		Dynamic: DynamicConfig{
			Headless:           getBoolOrDefault("DYNAMIC_HEADLESS", true),
			ClickProbe:         getBoolOrDefault("DYNAMIC_CLICK_PROBE", false),
			NavigationTimeout:  getDurationOrDefault("DYNAMIC_NAVIGATION_TIMEOUT", 45*time.Second),
			NetworkIdleTimeout: getDurationOrDefault("DYNAMIC_NETWORK_IDLE_TIMEOUT", 8*time.Second),
			SettleDelay:        getDurationOrDefault("DYNAMIC_SETTLE_DELAY", 2500*time.Millisecond),
		},
		Copywriter: CopywriterConfig{
			BaseURL:     getEnvOrDefault("COPYWRITER_BASE_URL", "https://api.openai.com/v1"),
			APIKey:      getEnvOrDefault("COPYWRITER_API_KEY", ""),
			Model:       getEnvOrDefault("COPYWRITER_MODEL", "gpt-4o-mini"),
			Temperature: getFloatOrDefault("COPYWRITER_TEMPERATURE", 0.7),
			Timeout:     getDurationOrDefault("COPYWRITER_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			URL: getEnvOrDefault("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			URL: getEnvOrDefault("REDIS_URL", ""),
			TTL: getDurationOrDefault("REDIS_TTL", time.Hour),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive")
	}

	if c.Session.UserDataDir == "" {
		return fmt.Errorf("SESSION_USER_DATA_DIR cannot be empty")
	}

	if c.Dynamic.NavigationTimeout <= 0 {
		return fmt.Errorf("DYNAMIC_NAVIGATION_TIMEOUT must be positive")
	}

	if c.Copywriter.Temperature < 0 || c.Copywriter.Temperature > 2 {
		return fmt.Errorf("COPYWRITER_TEMPERATURE must be between 0 and 2")
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
