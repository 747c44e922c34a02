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

	Database       DatabaseConfig
	Redis          RedisConfig
	JWT            JWTConfig
	CORS           CORSConfig
	Log            LogConfig
	ContentExports ContentExportsConfig
	Permissions    PermissionsConfig
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

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ContentExportsConfig controls the asynchronous content zipper.
type ContentExportsConfig struct {
	Enabled           bool
	StorageDir        string
	AttachmentsDir    string
	WorkspaceDir      string
	TemplateDir       string
	StaticDir         string
	SignedURLSecret   string
	SignedURLTTL      time.Duration
	ResultTTL         time.Duration
	CleanupInterval   time.Duration
	WorkerConcurrency int
	WorkerRetries     int
	ManifestFormat    string
	CompressionLevel  int
	ProgressCacheTTL  time.Duration
}

// PermissionsConfig tunes the course membership cache used by capability checks.
type PermissionsConfig struct {
	CacheTTL  time.Duration
	CacheSize int
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

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
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

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	concurrency := v.GetInt("CONTENT_EXPORTS_WORKER_CONCURRENCY")
	if concurrency <= 0 {
		concurrency = 1
	}
	cfg.ContentExports = ContentExportsConfig{
		Enabled:           v.GetBool("ENABLE_CONTENT_EXPORTS"),
		StorageDir:        v.GetString("CONTENT_EXPORTS_STORAGE_DIR"),
		AttachmentsDir:    v.GetString("ATTACHMENTS_STORAGE_DIR"),
		WorkspaceDir:      v.GetString("CONTENT_EXPORTS_WORKSPACE_DIR"),
		TemplateDir:       v.GetString("CONTENT_EXPORTS_TEMPLATE_DIR"),
		StaticDir:         v.GetString("CONTENT_EXPORTS_STATIC_DIR"),
		SignedURLSecret:   v.GetString("CONTENT_EXPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:      parseDuration(v.GetString("CONTENT_EXPORTS_SIGNED_URL_TTL"), 30*time.Minute),
		ResultTTL:         parseDuration(v.GetString("CONTENT_EXPORTS_RESULT_TTL"), 7*24*time.Hour),
		CleanupInterval:   parseDuration(v.GetString("CONTENT_EXPORTS_CLEANUP_INTERVAL"), time.Hour),
		WorkerConcurrency: concurrency,
		WorkerRetries:     v.GetInt("CONTENT_EXPORTS_WORKER_RETRIES"),
		ManifestFormat:    strings.ToLower(strings.TrimSpace(v.GetString("CONTENT_EXPORTS_MANIFEST_FORMAT"))),
		CompressionLevel:  v.GetInt("CONTENT_EXPORTS_COMPRESSION_LEVEL"),
		ProgressCacheTTL:  parseDuration(v.GetString("CONTENT_EXPORTS_PROGRESS_CACHE_TTL"), 10*time.Minute),
	}

	cfg.Permissions = PermissionsConfig{
		CacheTTL:  parseDuration(v.GetString("PERMISSION_CACHE_TTL"), time.Minute),
		CacheSize: v.GetInt("PERMISSION_CACHE_SIZE"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "admin_panel_sma")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENABLE_CONTENT_EXPORTS", true)
	v.SetDefault("CONTENT_EXPORTS_STORAGE_DIR", "./content_exports")
	v.SetDefault("ATTACHMENTS_STORAGE_DIR", "./uploads")
	v.SetDefault("CONTENT_EXPORTS_WORKSPACE_DIR", "")
	v.SetDefault("CONTENT_EXPORTS_TEMPLATE_DIR", "")
	v.SetDefault("CONTENT_EXPORTS_STATIC_DIR", "./public")
	v.SetDefault("CONTENT_EXPORTS_SIGNED_URL_SECRET", "dev_content_exports_secret")
	v.SetDefault("CONTENT_EXPORTS_SIGNED_URL_TTL", "30m")
	v.SetDefault("CONTENT_EXPORTS_RESULT_TTL", "168h")
	v.SetDefault("CONTENT_EXPORTS_CLEANUP_INTERVAL", "1h")
	v.SetDefault("CONTENT_EXPORTS_WORKER_CONCURRENCY", 2)
	v.SetDefault("CONTENT_EXPORTS_WORKER_RETRIES", 3)
	v.SetDefault("CONTENT_EXPORTS_MANIFEST_FORMAT", "")
	v.SetDefault("CONTENT_EXPORTS_COMPRESSION_LEVEL", 6)
	v.SetDefault("CONTENT_EXPORTS_PROGRESS_CACHE_TTL", "10m")

	v.SetDefault("PERMISSION_CACHE_TTL", "1m")
	v.SetDefault("PERMISSION_CACHE_SIZE", 4096)
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
