package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prashikshan/internal/auth"
	"prashikshan/internal/internship"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCorrelationIDMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(CorrelationIDMiddleware())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, GetCorrelationID(c)) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationIDHeader, "abc-123")
	rec := serve(r, req)
	assert.Equal(t, "abc-123", rec.Body.String())
	assert.Equal(t, "abc-123", rec.Header().Get(CorrelationIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "from-proxy")
	assert.Equal(t, "from-proxy", serve(r, req).Body.String())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationIDHeader, strings.Repeat("x", 500))
	generated := serve(r, req).Body.String()
	assert.Len(t, generated, 36, "oversized ids are replaced with a uuid")

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Body.String())
	assert.Equal(t, rec.Body.String(), rec.Header().Get(CorrelationIDHeader))
}

func TestSlogLoggerMiddlewareLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := gin.New()
	r.Use(CorrelationIDMiddleware(), SlogLoggerMiddleware(logger))
	r.GET("/ok", func(c *gin.Context) {
		c.Set(UserIDKey, "u1")
		LoggerFromContext(c).Info("inside handler")
		c.Status(http.StatusOK)
	})
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(CorrelationIDHeader, "cid-1")
	serve(r, req)
	serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil))

	var lines []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		lines = append(lines, entry)
	}
	require.Len(t, lines, 3)
	assert.Equal(t, "inside handler", lines[0]["msg"])
	assert.Equal(t, "cid-1", lines[0]["correlation_id"])

	assert.Equal(t, "INFO", lines[1]["level"])
	assert.Equal(t, "u1", lines[1]["user_id"])
	assert.Equal(t, "/ok", lines[1]["path"])

	assert.Equal(t, "ERROR", lines[2]["level"])
	assert.EqualValues(t, http.StatusInternalServerError, lines[2]["status"])
}

func TestAuthMiddleware(t *testing.T) {
	verifier, err := auth.NewTokenVerifier("test-secret", "issuer", "")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/", AuthMiddleware(verifier), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(UserIDKey)+"|"+c.GetString(UserEmailKey))
	})

	token, err := verifier.Sign("user-1", "a@example.com", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := serve(r, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1|a@example.com", rec.Body.String())

	other, err := auth.NewTokenVerifier("other-secret", "issuer", "")
	require.NoError(t, err)
	forged, err := other.Sign("user-1", "", time.Minute)
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing":       "",
		"wrong scheme":  "Basic " + token,
		"bad signature": "Bearer " + forged,
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code, name)
	}
}

func TestRequireRole(t *testing.T) {
	roles := map[string]string{"c1": "company", "s1": "student", "f1": "faculty"}
	lookup := func(_ context.Context, userID string) (string, error) {
		if userID == "broken" {
			return "", errors.New("db down")
		}
		return roles[userID], nil
	}

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-User"); id != "" {
			c.Set(UserIDKey, id)
		}
	})
	r.GET("/", RequireRole(lookup, internship.RoleCompany, internship.RoleFaculty), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(RoleKey))
	})

	cases := []struct {
		user string
		want int
	}{
		{"c1", http.StatusOK},
		{"f1", http.StatusOK},
		{"s1", http.StatusForbidden},
		{"nobody", http.StatusForbidden},
		{"broken", http.StatusInternalServerError},
		{"", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.user != "" {
			req.Header.Set("X-User", tc.user)
		}
		rec := serve(r, req)
		assert.Equal(t, tc.want, rec.Code, tc.user)
		if tc.want == http.StatusForbidden {
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "Required role: company, faculty", body["message"])
		}
	}
}
