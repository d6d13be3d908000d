package config

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	StorageDriverLocal = "local"
	StorageDriverS3    = "s3"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string
	Version   string

	Redshift RedshiftConfig
	Redis    RedisConfig
	Auth     AuthConfig
	CORS     CORSConfig
	Log      LogConfig
	Download DownloadConfig
	Packager PackagerConfig
	Exports  ExportsConfig
	S3       S3Config
	Cache    CacheConfig
}

// RedshiftConfig points at the warehouse holding the document catalogue.
type RedshiftConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	QueryTimeout time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// AuthConfig enables bearer token checks when Secret is set.
type AuthConfig struct {
	Enabled bool
	Secret  string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// DownloadConfig tunes remote document retrieval.
type DownloadConfig struct {
	MaxFileSizeBytes int64
	DefaultTimeout   time.Duration
	MaxAttempts      int
	ProbeSize        bool
	UserAgent        string
}

// PackagerConfig bounds archive builds.
type PackagerConfig struct {
	Concurrency int
	MaxRecords  int
	ImageMaxW   int
	ImageMaxH   int
	JPEGQuality int
}

// ExportsConfig configures asynchronous archive exports.
type ExportsConfig struct {
	Enabled           bool
	StorageDriver     string
	StorageDir        string
	SignedURLSecret   string
	SignedURLTTL      time.Duration
	CleanupInterval   time.Duration
	ResultTTL         time.Duration
	WorkerConcurrency int
	WorkerRetries     int
}

// S3Config is used when exports are stored in a bucket.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// CacheConfig governs filter option caching.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
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
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.Version = v.GetString("APP_VERSION")

	cfg.Redshift = RedshiftConfig{
		Host:         v.GetString("REDSHIFT_HOST"),
		Port:         v.GetInt("REDSHIFT_PORT"),
		User:         v.GetString("REDSHIFT_USER"),
		Password:     v.GetString("REDSHIFT_PASSWORD"),
		Database:     v.GetString("REDSHIFT_DATABASE"),
		SSLMode:      v.GetString("REDSHIFT_SSL_MODE"),
		MaxOpenConns: v.GetInt("REDSHIFT_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("REDSHIFT_MAX_IDLE_CONNS"),
		QueryTimeout: parseDuration(v.GetString("REDSHIFT_QUERY_TIMEOUT"), 60*time.Second),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	secret := v.GetString("JWT_SECRET")
	cfg.Auth = AuthConfig{
		Enabled: v.GetBool("ENABLE_AUTH") && secret != "",
		Secret:  secret,
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	maxFileSizeMB := v.GetInt64("MAX_FILE_SIZE_MB")
	if maxFileSizeMB <= 0 {
		maxFileSizeMB = 500
	}
	cfg.Download = DownloadConfig{
		MaxFileSizeBytes: maxFileSizeMB * 1024 * 1024,
		DefaultTimeout:   parseDuration(v.GetString("DOWNLOAD_TIMEOUT"), 30*time.Second),
		MaxAttempts:      v.GetInt("DOWNLOAD_MAX_ATTEMPTS"),
		ProbeSize:        v.GetBool("DOWNLOAD_PROBE_SIZE"),
		UserAgent:        v.GetString("DOWNLOAD_USER_AGENT"),
	}

	cfg.Packager = PackagerConfig{
		Concurrency: v.GetInt("PACKAGER_CONCURRENCY"),
		MaxRecords:  v.GetInt("PACKAGER_MAX_RECORDS"),
		ImageMaxW:   v.GetInt("PACKAGER_IMAGE_MAX_WIDTH"),
		ImageMaxH:   v.GetInt("PACKAGER_IMAGE_MAX_HEIGHT"),
		JPEGQuality: v.GetInt("PACKAGER_JPEG_QUALITY"),
	}

	cfg.Exports = ExportsConfig{
		Enabled:           v.GetBool("ENABLE_EXPORTS"),
		StorageDriver:     strings.ToLower(v.GetString("EXPORTS_STORAGE_DRIVER")),
		StorageDir:        v.GetString("EXPORTS_STORAGE_DIR"),
		SignedURLSecret:   v.GetString("EXPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:      parseDuration(v.GetString("EXPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		CleanupInterval:   parseDuration(v.GetString("EXPORTS_CLEANUP_INTERVAL"), time.Hour),
		ResultTTL:         parseDuration(v.GetString("EXPORTS_RESULT_TTL"), 24*time.Hour),
		WorkerConcurrency: v.GetInt("EXPORTS_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("EXPORTS_WORKER_RETRIES"),
	}

	cfg.S3 = S3Config{
		Bucket:          v.GetString("S3_BUCKET"),
		Region:          v.GetString("AWS_REGION"),
		Endpoint:        v.GetString("S3_ENDPOINT"),
		Prefix:          v.GetString("S3_PREFIX"),
		AccessKeyID:     v.GetString("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: v.GetString("AWS_SECRET_ACCESS_KEY"),
		UsePathStyle:    v.GetBool("S3_USE_PATH_STYLE"),
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("ENABLE_CACHE"),
		TTL:     parseDuration(v.GetString("CACHE_TTL"), 10*time.Minute),
	}

	return cfg, nil
}

// Validate reports missing or contradictory settings. Callers decide whether it is fatal.
func (c *Config) Validate() error {
	var missing []string
	if c.Env == EnvProduction {
		for name, value := range map[string]string{
			"REDSHIFT_HOST":     c.Redshift.Host,
			"REDSHIFT_DATABASE": c.Redshift.Database,
			"REDSHIFT_USER":     c.Redshift.User,
			"REDSHIFT_PASSWORD": c.Redshift.Password,
		} {
			if value == "" {
				missing = append(missing, name)
			}
		}
	}
	if c.Exports.Enabled && c.Exports.StorageDriver == StorageDriverS3 && c.S3.Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	switch c.Exports.StorageDriver {
	case StorageDriverLocal, StorageDriverS3:
	default:
		return fmt.Errorf("unknown EXPORTS_STORAGE_DRIVER %q", c.Exports.StorageDriver)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8000)
	v.SetDefault("API_PREFIX", "/api")
	v.SetDefault("APP_VERSION", "1.0.0")

	v.SetDefault("REDSHIFT_HOST", "localhost")
	v.SetDefault("REDSHIFT_PORT", 5439)
	v.SetDefault("REDSHIFT_USER", "")
	v.SetDefault("REDSHIFT_PASSWORD", "")
	v.SetDefault("REDSHIFT_DATABASE", "")
	v.SetDefault("REDSHIFT_SSL_MODE", "require")
	v.SetDefault("REDSHIFT_MAX_OPEN_CONNS", 10)
	v.SetDefault("REDSHIFT_MAX_IDLE_CONNS", 5)
	v.SetDefault("REDSHIFT_QUERY_TIMEOUT", "60s")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ENABLE_AUTH", false)
	v.SetDefault("JWT_SECRET", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("MAX_FILE_SIZE_MB", 500)
	v.SetDefault("DOWNLOAD_TIMEOUT", "30s")
	v.SetDefault("DOWNLOAD_MAX_ATTEMPTS", 3)
	v.SetDefault("DOWNLOAD_PROBE_SIZE", true)
	v.SetDefault("DOWNLOAD_USER_AGENT", "tale-download-api/1.0")

	v.SetDefault("PACKAGER_CONCURRENCY", 10)
	v.SetDefault("PACKAGER_MAX_RECORDS", 1000)
	v.SetDefault("PACKAGER_IMAGE_MAX_WIDTH", 2480)
	v.SetDefault("PACKAGER_IMAGE_MAX_HEIGHT", 3508)
	v.SetDefault("PACKAGER_JPEG_QUALITY", 85)

	v.SetDefault("ENABLE_EXPORTS", false)
	v.SetDefault("EXPORTS_STORAGE_DRIVER", StorageDriverLocal)
	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORTS_SIGNED_URL_SECRET", "dev_exports_secret")
	v.SetDefault("EXPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("EXPORTS_CLEANUP_INTERVAL", "1h")
	v.SetDefault("EXPORTS_RESULT_TTL", "24h")
	v.SetDefault("EXPORTS_WORKER_CONCURRENCY", 1)
	v.SetDefault("EXPORTS_WORKER_RETRIES", 1)

	v.SetDefault("S3_BUCKET", "")
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_PREFIX", "exports/")
	v.SetDefault("AWS_ACCESS_KEY_ID", "")
	v.SetDefault("AWS_SECRET_ACCESS_KEY", "")
	v.SetDefault("S3_USE_PATH_STYLE", false)

	v.SetDefault("ENABLE_CACHE", true)
	v.SetDefault("CACHE_TTL", "10m")
}

// isMissingFile covers viper returning the raw open error when an explicit config file is absent.
func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
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
