package config

import (
	"errors"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Queue     QueueConfig
	Storage   StorageConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port        string
	Env         string
	CORSOrigins string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

type QueueConfig struct {
	MaxRetries        int
	RetryDelaySeconds int
	MaxLogLines       int
}

type StorageConfig struct {
	PersistentDBPath string
	LocalDBPath      string
	AirsenalHome     string
}

type RateLimitConfig struct {
	Enabled   bool
	PerMinute int
}

type LogConfig struct {
	Level  string
	Format string
}

const defaultJWTSecret = "change-me-in-production"

func Load() (*Config, error) {
	// .env is a development convenience; production containers inject real env vars.
	if os.Getenv("SERVER_ENV") != "production" {
		_ = godotenv.Load()
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.cors_origins", "http://localhost:3000")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", defaultJWTSecret)
	viper.SetDefault("jwt.expiration_hours", 12)
	viper.SetDefault("queue.max_retries", 3)
	viper.SetDefault("queue.retry_delay_seconds", 60)
	viper.SetDefault("queue.max_log_lines", 2000)
	viper.SetDefault("storage.persistent_db_path", "/data/airsenal/data.db")
	viper.SetDefault("storage.local_db_path", "/tmp/airsenal.db")
	viper.SetDefault("storage.airsenal_home", "/data/airsenal")
	viper.SetDefault("ratelimit.enabled", true)
	viper.SetDefault("ratelimit.per_minute", 60)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:        viper.GetString("server.port"),
			Env:         viper.GetString("server.env"),
			CORSOrigins: viper.GetString("server.cors_origins"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:          viper.GetString("jwt.secret"),
			ExpirationHours: viper.GetInt("jwt.expiration_hours"),
		},
		Queue: QueueConfig{
			MaxRetries:        viper.GetInt("queue.max_retries"),
			RetryDelaySeconds: viper.GetInt("queue.retry_delay_seconds"),
			MaxLogLines:       viper.GetInt("queue.max_log_lines"),
		},
		Storage: StorageConfig{
			PersistentDBPath: viper.GetString("storage.persistent_db_path"),
			LocalDBPath:      viper.GetString("storage.local_db_path"),
			AirsenalHome:     viper.GetString("storage.airsenal_home"),
		},
		RateLimit: RateLimitConfig{
			Enabled:   viper.GetBool("ratelimit.enabled"),
			PerMinute: viper.GetInt("ratelimit.per_minute"),
		},
		Log: LogConfig{
			Level:  viper.GetString("log.level"),
			Format: viper.GetString("log.format"),
		},
	}

	if cfg.Server.Env == "production" && (cfg.JWT.Secret == "" || cfg.JWT.Secret == defaultJWTSecret) {
		return nil, errors.New("jwt.secret must be set in production")
	}

	return cfg, nil
}
