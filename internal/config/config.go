package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config aggregates application settings that may be sourced from files or environment variables.
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	MinIO     MinIOConfig     `mapstructure:"minio"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Admin     AdminConfig     `mapstructure:"admin"`
	News      NewsConfig      `mapstructure:"news"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	KeepAlive KeepAliveConfig `mapstructure:"keepalive"`
	Clamd     ClamdConfig     `mapstructure:"clamd"`
	Worker    WorkerConfig    `mapstructure:"worker"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	MaxUploadBytes int64    `mapstructure:"max_upload_bytes"`
}

// DatabaseConfig 描述 PostgreSQL 连接。URL 非空时优先使用（托管数据库通常只给连接串）。
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig 包含 Redis 连接配置。
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
}

// Addr 返回 host:port 形式的地址。
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MinIOConfig contains connection options for MinIO/S3-compatible storage.
type MinIOConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	PublicEndpoint   string `mapstructure:"public_endpoint"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	UseSSL           bool   `mapstructure:"use_ssl"`
	Bucket           string `mapstructure:"bucket"`
	Region           string `mapstructure:"region"`
	BucketLookup     string `mapstructure:"bucket_lookup"`
	AutoCreateBucket bool   `mapstructure:"auto_create_bucket"`
}

// AuthConfig 描述托管身份服务签发的访问令牌的校验参数。
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	Audience  string `mapstructure:"audience"`
}

// AdminConfig 描述管理后台密钥。KeyHash 优先；Key 仅用于本地开发。
type AdminConfig struct {
	KeyHash string `mapstructure:"key_hash"`
	Key     string `mapstructure:"key"`
}

// NewsConfig 控制新闻聚合与缓存。
type NewsConfig struct {
	CacheFile      string        `mapstructure:"cache_file"`
	CloudObjectKey string        `mapstructure:"cloud_object_key"`
	StaleAfter     time.Duration `mapstructure:"stale_after"`
	RefreshCron    string        `mapstructure:"refresh_cron"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	SourceTimeout  time.Duration `mapstructure:"source_timeout"`
}

// ScraperConfig 描述浏览器渲染抓取（本地 headless 或远端服务）。
type ScraperConfig struct {
	ServiceURL   string `mapstructure:"service_url"`
	ServiceKey   string `mapstructure:"service_key"`
	LocalBrowser bool   `mapstructure:"local_browser"`
}

// KeepAliveConfig lists services pinged periodically so free-tier hosts stay warm.
type KeepAliveConfig struct {
	Targets  []string      `mapstructure:"targets"`
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ClamdConfig 配置上传文件的病毒扫描，Addr 为空时跳过扫描。
type ClamdConfig struct {
	Addr string `mapstructure:"addr"`
}

// WorkerConfig 配置 asynq worker。
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// DSN 返回 gorm postgres 驱动可用的连接串。
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	parts := []string{
		"host=" + d.Host,
		fmt.Sprintf("port=%d", d.Port),
		"user=" + d.User,
		"password=" + d.Password,
		"dbname=" + d.Name,
		"sslmode=" + d.SSLMode,
	}
	return strings.Join(parts, " ")
}

// Load reads configuration from an optional .env file and environment variables (with defaults).
func Load() (*Config, error) {
	// .env 不存在时忽略，线上环境直接注入变量。
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.API.AllowedOrigins = splitList(cfg.API.AllowedOrigins)
	cfg.KeepAlive.Targets = splitList(cfg.KeepAlive.Targets)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 5000)
	v.SetDefault("api.allowed_origins", []string{"*"})
	v.SetDefault("api.max_upload_bytes", 5*1024*1024)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "prashikshan")
	v.SetDefault("database.user", "prashikshan")
	v.SetDefault("database.password", "prashikshan")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.public_endpoint", "http://localhost:9000")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "prashikshan")
	v.SetDefault("minio.bucket_lookup", "auto")
	v.SetDefault("minio.auto_create_bucket", true)
	v.SetDefault("news.cache_file", "cache/news_cache.json")
	v.SetDefault("news.cloud_object_key", "news-cache/news_cache.json")
	v.SetDefault("news.stale_after", time.Hour)
	v.SetDefault("news.refresh_cron", "*/30 * * * *")
	v.SetDefault("news.request_timeout", 10*time.Second)
	v.SetDefault("news.source_timeout", 15*time.Second)
	v.SetDefault("scraper.local_browser", false)
	v.SetDefault("keepalive.interval", 10*time.Minute)
	v.SetDefault("keepalive.timeout", 30*time.Second)
	v.SetDefault("worker.concurrency", 4)
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                 "API_PORT",
		"api.allowed_origins":      "ALLOWED_ORIGINS",
		"api.max_upload_bytes":     "MAX_UPLOAD_BYTES",
		"database.url":             "DATABASE_URL",
		"database.host":            "DATABASE_HOST",
		"database.port":            "DATABASE_PORT",
		"database.name":            "POSTGRES_DB",
		"database.user":            "POSTGRES_USER",
		"database.password":        "POSTGRES_PASSWORD",
		"database.sslmode":         "DATABASE_SSLMODE",
		"redis.host":               "REDIS_HOST",
		"redis.port":               "REDIS_PORT",
		"redis.password":           "REDIS_PASSWORD",
		"minio.endpoint":           "MINIO_ENDPOINT",
		"minio.public_endpoint":    "MINIO_PUBLIC_ENDPOINT",
		"minio.access_key_id":      "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key":  "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":            "MINIO_USE_SSL",
		"minio.bucket":             "MINIO_BUCKET",
		"minio.region":             "MINIO_REGION",
		"minio.bucket_lookup":      "MINIO_BUCKET_LOOKUP",
		"minio.auto_create_bucket": "MINIO_AUTO_CREATE_BUCKET",
		"auth.jwt_secret":          "AUTH_JWT_SECRET",
		"auth.issuer":              "AUTH_ISSUER",
		"auth.audience":            "AUTH_AUDIENCE",
		"admin.key_hash":           "ADMIN_API_KEY_HASH",
		"admin.key":                "ADMIN_API_KEY",
		"news.cache_file":          "NEWS_CACHE_FILE",
		"news.cloud_object_key":    "NEWS_CLOUD_OBJECT_KEY",
		"news.stale_after":         "NEWS_STALE_AFTER",
		"news.refresh_cron":        "NEWS_REFRESH_CRON",
		"news.request_timeout":     "NEWS_REQUEST_TIMEOUT",
		"news.source_timeout":      "NEWS_SOURCE_TIMEOUT",
		"scraper.service_url":      "SCRAPER_SERVICE_URL",
		"scraper.service_key":      "SCRAPER_API_KEY",
		"scraper.local_browser":    "SCRAPER_LOCAL_BROWSER",
		"keepalive.targets":        "KEEPALIVE_TARGETS",
		"keepalive.interval":       "KEEPALIVE_INTERVAL",
		"keepalive.timeout":        "KEEPALIVE_TIMEOUT",
		"clamd.addr":               "CLAMD_ADDR",
		"worker.concurrency":       "WORKER_CONCURRENCY",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

// splitList 兼容环境变量里逗号分隔的写法。
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

type check struct {
	ok  bool
	msg string
}

// validate 一次性报告所有缺失或非法的配置项。
func validate(cfg Config) error {
	checks := []check{
		{cfg.API.Port > 0, "api port must be positive"},
		{cfg.API.MaxUploadBytes > 0, "max upload bytes must be positive"},
		{cfg.Redis.Host != "", "redis host is required"},
		{cfg.Redis.Port > 0, "redis port must be positive"},
		{cfg.MinIO.Endpoint != "", "minio endpoint is required"},
		{cfg.MinIO.AccessKeyID != "" && cfg.MinIO.SecretAccessKey != "", "minio credentials are required"},
		{cfg.MinIO.Bucket != "", "minio bucket is required"},
		{cfg.Auth.JWTSecret != "", "auth jwt secret is required"},
		{cfg.Admin.KeyHash != "" || cfg.Admin.Key != "", "admin key hash (or development key) is required"},
		{cfg.News.CacheFile != "", "news cache file is required"},
		{cfg.News.StaleAfter > 0, "news stale_after must be positive"},
		{cfg.KeepAlive.Interval > 0, "keepalive interval must be positive"},
		{cfg.Worker.Concurrency > 0, "worker concurrency must be positive"},
	}
	if cfg.Database.URL == "" {
		db := cfg.Database
		checks = append(checks,
			check{db.Host != "" && db.Port > 0, "database host and port are required (or DATABASE_URL)"},
			check{db.Name != "" && db.User != "", "database name and user are required"},
			check{db.SSLMode != "", "database sslmode is required"},
		)
	}

	var errs []error
	for _, c := range checks {
		if !c.ok {
			errs = append(errs, errors.New(c.msg))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
