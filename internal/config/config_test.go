package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MINIO_ACCESS_KEY_ID", "minio")
	t.Setenv("MINIO_SECRET_ACCESS_KEY", "minio-secret")
	t.Setenv("AUTH_JWT_SECRET", "super-secret")
	t.Setenv("ADMIN_API_KEY", "123456")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.API.Port)
	assert.Equal(t, time.Hour, cfg.News.StaleAfter)
	assert.Equal(t, 10*time.Minute, cfg.KeepAlive.Interval)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, "news-cache/news_cache.json", cfg.News.CloudObjectKey)
}

func TestLoadParsesListsAndDurations(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("KEEPALIVE_TARGETS", "https://a.example/health, https://b.example/health")
	t.Setenv("KEEPALIVE_INTERVAL", "90s")
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com,,https://admin.example.com ")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example/health", "https://b.example/health"}, cfg.KeepAlive.Targets)
	assert.Equal(t, 90*time.Second, cfg.KeepAlive.Interval)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.API.AllowedOrigins)
}

func TestLoadReportsEveryProblem(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AUTH_JWT_SECRET", "")
	t.Setenv("ADMIN_API_KEY", "")
	t.Setenv("WORKER_CONCURRENCY", "0")

	_, err := Load()
	require.Error(t, err)
	for _, want := range []string{"auth jwt secret", "admin key", "worker concurrency"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestDatabaseURLReplacesHostFields(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATABASE_URL", "postgres://u:p@db.example.com:5432/app?sslmode=require")
	t.Setenv("DATABASE_HOST", "")
	t.Setenv("DATABASE_SSLMODE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db.example.com:5432/app?sslmode=require", cfg.Database.DSN())
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, Name: "n", User: "u", Password: "p", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", d.DSN())
}
