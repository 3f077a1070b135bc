package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"prashikshan/internal/api/middleware"
	"prashikshan/internal/database"
)

const testUserHeader = "X-Test-User"

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestDB 为每个测试创建独立的内存 sqlite 库。
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db))
	return db
}

// fakeAuth 用请求头模拟身份中间件。
func fakeAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.GetHeader(testUserHeader); id != "" {
			c.Set(middleware.UserIDKey, id)
			c.Set(middleware.UserEmailKey, id+"@example.com")
		}
		c.Next()
	}
}

func newTestEngine() *gin.Engine {
	r := gin.New()
	r.Use(middleware.CorrelationIDMiddleware(), fakeAuth())
	return r
}

func newJSONRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func doRequest(t *testing.T, h http.Handler, method, target, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := newJSONRequest(t, method, target, body)
	if userID != "" {
		req.Header.Set(testUserHeader, userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func dataOf(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	body := decodeBody(t, rec)
	data, ok := body["data"].(map[string]any)
	require.True(t, ok, "response has no data object: %s", rec.Body.String())
	return data
}

func seedProfile(t *testing.T, db *gorm.DB, id, username, role string) database.Profile {
	t.Helper()
	p := database.Profile{Base: database.Base{ID: id}, Username: username, FullName: strings.ToUpper(username), Role: role}
	require.NoError(t, db.Create(&p).Error)
	return p
}
