package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prashikshan/internal/storage"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (s *fakeObjectStore) UploadFile(_ context.Context, name string, r io.Reader, _ int64, contentType string) (*minio.UploadInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = data
	s.types[name] = contentType
	return &minio.UploadInfo{Key: name, Size: int64(len(data))}, nil
}

func (s *fakeObjectStore) GeneratePresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://cdn.example.com/" + key + "?sig=x", nil
}

func (s *fakeObjectStore) ListObjects(_ context.Context, prefix string, limit int) ([]storage.ObjectMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.ObjectMeta
	for key, data := range s.objects {
		if strings.HasPrefix(key, prefix) && len(out) < limit {
			out = append(out, storage.ObjectMeta{Key: key, Size: int64(len(data)), LastModified: time.Now()})
		}
	}
	return out, nil
}

func (s *fakeObjectStore) DeleteObject(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return minio.ErrorResponse{Code: "NoSuchKey"}
	}
	delete(s.objects, key)
	return nil
}

type stubScanner struct {
	infected bool
	err      error
}

func (s stubScanner) Scan(io.Reader) (bool, error) { return s.infected, s.err }

// countingLimiter 模拟 Redis INCR/EXPIRE。
type countingLimiter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (l *countingLimiter) Incr(ctx context.Context, key string) *redis.IntCmd {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts == nil {
		l.counts = map[string]int64{}
	}
	l.counts[key]++
	return redis.NewIntResult(l.counts[key], nil)
}

func (l *countingLimiter) Expire(context.Context, string, time.Duration) *redis.BoolCmd {
	return redis.NewBoolResult(true, nil)
}

func multipartRequest(t *testing.T, target, userID, kind, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if kind != "" {
		require.NoError(t, w.WriteField("kind", kind))
	}
	if content != nil {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if userID != "" {
		req.Header.Set(testUserHeader, userID)
	}
	return req
}

func newUploadEngine(h *UploadHandler) http.Handler {
	r := newTestEngine()
	r.POST("/api/uploads", h.Upload)
	r.GET("/api/uploads", h.ListUploads)
	r.GET("/api/uploads/url", h.GetUploadURL)
	r.DELETE("/api/uploads", h.DeleteUpload)
	return r
}

func TestUploadAcceptsWhitelistedContent(t *testing.T) {
	store := newFakeObjectStore()
	r := newUploadEngine(NewUploadHandler(store, nil, nil, 1024, nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, multipartRequest(t, "/api/uploads", "u1", "image", "avatar.txt", pngHeader))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	data := dataOf(t, rec)
	key := data["object_key"].(string)
	assert.True(t, strings.HasPrefix(key, "uploads/u1/image/"), key)
	assert.True(t, strings.HasSuffix(key, ".png"), "extension follows detected type, not the filename")
	assert.Equal(t, "image/png", data["content_type"])
	assert.Equal(t, "image/png", store.types[key])
	assert.True(t, isValidUploadKey("u1", key))

	rec = doRequest(t, r, http.MethodGet, "/api/uploads?kind=image", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["data"].([]any), 1)

	rec = doRequest(t, r, http.MethodGet, "/api/uploads?kind=resume", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody(t, rec)["data"].([]any))

	rec = doRequest(t, r, http.MethodGet, "/api/uploads/url?key="+key, "u2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, r, http.MethodGet, "/api/uploads/url?key="+key, "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, dataOf(t, rec)["url"], key)

	rec = doRequest(t, r, http.MethodDelete, "/api/uploads?key="+key, "u1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doRequest(t, r, http.MethodDelete, "/api/uploads?key="+key, "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadRejections(t *testing.T) {
	cases := []struct {
		name    string
		kind    string
		content []byte
		scanner VirusScanner
		want    int
	}{
		{name: "unknown kind", kind: "video", content: pngHeader, want: http.StatusBadRequest},
		{name: "missing file", kind: "image", want: http.StatusBadRequest},
		{name: "text as image", kind: "image", content: []byte("just some plain text"), want: http.StatusBadRequest},
		{name: "png as resume", kind: "resume", content: pngHeader, want: http.StatusBadRequest},
		{name: "too large", kind: "image", content: append(append([]byte{}, pngHeader...), make([]byte, 64)...), want: http.StatusRequestEntityTooLarge},
		{name: "infected", kind: "image", content: pngHeader, scanner: stubScanner{infected: true}, want: http.StatusBadRequest},
		{name: "scanner down", kind: "image", content: pngHeader, scanner: stubScanner{err: errors.New("dial tcp")}, want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeObjectStore()
			r := newUploadEngine(NewUploadHandler(store, tc.scanner, nil, int64(len(pngHeader)), nil))

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, multipartRequest(t, "/api/uploads", "u1", tc.kind, "f.bin", tc.content))
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
			assert.Empty(t, store.objects)
		})
	}
}

// countingBody 记录 handler 实际从请求体读了多少字节。
type countingBody struct {
	r io.Reader
	n int64
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.n += int64(n)
	return n, err
}

func (b *countingBody) Close() error { return nil }

func TestUploadStopsReadingOversizedBody(t *testing.T) {
	const maxBytes = 1024
	store := newFakeObjectStore()
	r := newUploadEngine(NewUploadHandler(store, nil, nil, maxBytes, nil))

	huge := append(append([]byte{}, pngHeader...), make([]byte, 4<<20)...)
	req := multipartRequest(t, "/api/uploads", "u1", "image", "big.png", huge)
	body := &countingBody{r: req.Body}
	req.Body = body

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
	assert.Empty(t, store.objects)
	assert.LessOrEqual(t, body.n, int64(maxBytes+multipartOverhead+1), "body must not be drained past the cap")
}

func TestUploadRejectsMalformedMultipart(t *testing.T) {
	r := newUploadEngine(NewUploadHandler(newFakeObjectStore(), nil, nil, 1024, nil))
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", strings.NewReader("not multipart"))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set(testUserHeader, "u1")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadRateLimit(t *testing.T) {
	store := newFakeObjectStore()
	r := newUploadEngine(NewUploadHandler(store, nil, &countingLimiter{}, 1024, nil))

	for i := 0; i < uploadsPerHour; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, multipartRequest(t, "/api/uploads", "u1", "image", "a.png", pngHeader))
		require.Equal(t, http.StatusCreated, rec.Code, "upload %d", i)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, multipartRequest(t, "/api/uploads", "u1", "image", "a.png", pngHeader))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, multipartRequest(t, "/api/uploads", "u2", "image", "a.png", pngHeader))
	assert.Equal(t, http.StatusCreated, rec.Code, "limits are per user")
}

func TestIsValidUploadKey(t *testing.T) {
	cases := []struct {
		key  string
		want bool
	}{
		{"uploads/u1/resume/abc.pdf", true},
		{"uploads/u1/image/abc.PNG", true},
		{"uploads/u1/image/abc.pdf", false},
		{"uploads/u2/resume/abc.pdf", false},
		{"uploads/u1/resume/../u2/abc.pdf", false},
		{"uploads/u1//resume/abc.pdf", false},
		{"uploads/u1/resume/sub/abc.pdf", false},
		{"uploads/u1/video/abc.mp4", false},
		{"uploads/u1/resume/", false},
		{"uploads/u1/resume/a\\b.pdf", false},
		{"uploads/u1/resume/" + strings.Repeat("a", maxUploadKeyLength) + ".pdf", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, isValidUploadKey("u1", tc.key), tc.key)
	}
}

func TestHourlyQuotaWindows(t *testing.T) {
	counter := &countingLimiter{}
	q := newHourlyQuota(counter, "upload", 2)
	now := time.Date(2024, 5, 1, 9, 59, 0, 0, time.UTC)
	q.now = func() time.Time { return now }
	ctx := context.Background()

	remaining, allowed, err := q.Take(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.EqualValues(t, 1, remaining)

	_, allowed, _ = q.Take(ctx, "u1")
	assert.True(t, allowed)
	_, allowed, _ = q.Take(ctx, "u1")
	assert.False(t, allowed)

	now = now.Add(2 * time.Minute)
	remaining, allowed, err = q.Take(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, allowed, "a new hour opens a new window")
	assert.EqualValues(t, 1, remaining)
	assert.Contains(t, counter.counts, "ratelimit:upload:u1:2024050110")

	assert.Nil(t, newHourlyQuota(nil, "upload", 2))
}
