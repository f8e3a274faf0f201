package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database    DatabaseConfig
	Redis       RedisConfig
	CORS        CORSConfig
	Log         LogConfig
	Cache       CacheConfig
	Coordinator CoordinatorConfig
	Reconciler  ReconcilerConfig
	Histories   HistoryConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CacheConfig governs the Redis read caches. Summaries and the active term are
// switched separately since each has its own staleness window.
type CacheConfig struct {
	Enabled     bool
	TTL         time.Duration
	TermEnabled bool
	TermTTL     time.Duration
}

// CoordinatorConfig tunes the atomic unit runner.
type CoordinatorConfig struct {
	MaxAttempts int
	Timeout     time.Duration
}

// ReconcilerConfig controls the background term reconciliation queue.
type ReconcilerConfig struct {
	Enabled    bool
	Workers    int
	Retries    int
	RetryDelay time.Duration
}

// HistoryConfig toggles archived term exports.
type HistoryConfig struct {
	ExportEnabled bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("ENABLE_SUMMARY_CACHE"),
		TTL:     parseDuration(v.GetString("SUMMARY_CACHE_TTL"), 5*time.Minute),

		TermEnabled: v.GetBool("ENABLE_TERM_CACHE"),
		TermTTL:     parseDuration(v.GetString("TERM_CACHE_TTL"), time.Minute),
	}

	attempts := v.GetInt("COORDINATOR_MAX_ATTEMPTS")
	if attempts < 1 {
		attempts = 1
	}
	cfg.Coordinator = CoordinatorConfig{
		MaxAttempts: attempts,
		Timeout:     parseDuration(v.GetString("COORDINATOR_TIMEOUT"), 30*time.Second),
	}

	cfg.Reconciler = ReconcilerConfig{
		Enabled:    v.GetBool("ENABLE_RECONCILER"),
		Workers:    v.GetInt("RECONCILER_WORKERS"),
		Retries:    v.GetInt("RECONCILER_RETRIES"),
		RetryDelay: parseDuration(v.GetString("RECONCILER_RETRY_DELAY"), 2*time.Second),
	}

	cfg.Histories = HistoryConfig{
		ExportEnabled: v.GetBool("ENABLE_HISTORY_EXPORT"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "sma_attendance")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENABLE_SUMMARY_CACHE", false)
	v.SetDefault("SUMMARY_CACHE_TTL", "5m")
	v.SetDefault("ENABLE_TERM_CACHE", false)
	v.SetDefault("TERM_CACHE_TTL", "1m")

	v.SetDefault("COORDINATOR_MAX_ATTEMPTS", 1)
	v.SetDefault("COORDINATOR_TIMEOUT", "30s")

	v.SetDefault("ENABLE_RECONCILER", true)
	v.SetDefault("RECONCILER_WORKERS", 1)
	v.SetDefault("RECONCILER_RETRIES", 3)
	v.SetDefault("RECONCILER_RETRY_DELAY", "2s")

	v.SetDefault("ENABLE_HISTORY_EXPORT", true)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
