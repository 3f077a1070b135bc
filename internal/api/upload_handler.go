package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"prashikshan/internal/storage"
)

const (
	defaultMaxUploadBytes = 5 * 1024 * 1024
	uploadsPerHour        = 30
	uploadURLTTL          = 15 * time.Minute

	// multipartOverhead 是请求体中文件之外的部分（分隔符、头部、kind 字段）的上限。
	multipartOverhead = 64 * 1024
	// multipartMemory 之外的部分由 mime/multipart 写入临时文件。
	multipartMemory = 8 << 20
)

// UploadKind 是上传文件的用途。
type UploadKind string

const (
	UploadResume UploadKind = "resume"
	UploadImage  UploadKind = "image"
)

// allowedMIME 按用途列出允许的 MIME 类型与对象扩展名。
var allowedMIME = map[UploadKind]map[string]string{
	UploadResume: {
		"application/pdf":    ".pdf",
		"application/msword": ".doc",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	},
	UploadImage: {
		"image/png":  ".png",
		"image/jpeg": ".jpg",
		"image/webp": ".webp",
		"image/gif":  ".gif",
	},
}

// ObjectStore 是上传用到的对象存储能力，*storage.Client 满足该接口。
type ObjectStore interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
	GeneratePresignedURL(ctx context.Context, objectKey string, duration time.Duration) (string, error)
	ListObjects(ctx context.Context, prefix string, limit int) ([]storage.ObjectMeta, error)
	DeleteObject(ctx context.Context, objectKey string) error
}

// VirusScanner 扫描上传内容，infected 为 true 时拒绝。
type VirusScanner interface {
	Scan(r io.Reader) (infected bool, err error)
}

// clamdScanner 通过 clamd INSTREAM 扫描。
type clamdScanner struct {
	client *clamd.Clamd
}

// NewClamdScanner 返回基于 clamd 的扫描器；addr 为空时返回 nil，表示跳过扫描。
func NewClamdScanner(addr string) VirusScanner {
	if strings.TrimSpace(addr) == "" {
		return nil
	}
	return &clamdScanner{client: clamd.NewClamd(addr)}
}

func (s *clamdScanner) Scan(r io.Reader) (bool, error) {
	abort := make(chan bool)
	defer close(abort)
	results, err := s.client.ScanStream(r, abort)
	if err != nil {
		return false, err
	}
	infected := false
	for result := range results {
		if result.Status != clamd.RES_OK {
			infected = true
		}
	}
	return infected, nil
}

// UploadHandler 负责简历与图片上传到对象存储。
type UploadHandler struct {
	store    ObjectStore
	scanner  VirusScanner
	quota    *hourlyQuota
	maxBytes int64
	logger   *slog.Logger
}

// NewUploadHandler 构造 UploadHandler；scanner 与 limiter 可以为 nil。
func NewUploadHandler(store ObjectStore, scanner VirusScanner, limiter redisRateCounter, maxBytes int64, logger *slog.Logger) *UploadHandler {
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadHandler{
		store:    store,
		scanner:  scanner,
		quota:    newHourlyQuota(limiter, "upload", uploadsPerHour),
		maxBytes: maxBytes,
		logger:   logger,
	}
}

func userUploadPrefix(userID string) string {
	return fmt.Sprintf("uploads/%s/", userID)
}

var errRateLimited = errors.New("too many uploads, try again later")

// checkRate 在 Redis 不可用时放行，上传本身仍受大小与类型限制。
func (h *UploadHandler) checkRate(c *gin.Context, userID string) error {
	if h.quota == nil {
		return nil
	}
	remaining, allowed, err := h.quota.Take(c.Request.Context(), userID)
	if err != nil {
		h.logger.Warn("upload rate counter unavailable", slog.Any("error", err))
		return nil
	}
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	if !allowed {
		return errRateLimited
	}
	return nil
}

// Upload 接收 multipart 文件（字段 file，kind=resume|image），校验后写入对象存储。
func (h *UploadHandler) Upload(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	ctx := c.Request.Context()

	// 解析表单前限制请求体，超大的请求不会被读完或落盘。
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+multipartOverhead)
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", h.maxBytes))
			return
		}
		BadRequest(c, "invalid multipart form")
		return
	}

	kind := UploadKind(strings.ToLower(strings.TrimSpace(c.PostForm("kind"))))
	whitelist, ok := allowedMIME[kind]
	if !ok {
		BadRequest(c, "kind must be resume or image")
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}
	if file.Size <= 0 {
		BadRequest(c, "empty file")
		return
	}
	if file.Size > h.maxBytes {
		Error(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", h.maxBytes))
		return
	}

	if err := h.checkRate(c, userID); err != nil {
		Error(c, http.StatusTooManyRequests, err.Error())
		return
	}

	reader, err := file.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return
	}
	data, err := io.ReadAll(io.LimitReader(reader, h.maxBytes+1))
	reader.Close()
	if err != nil {
		Internal(c, "failed to read file")
		return
	}
	if int64(len(data)) > h.maxBytes {
		Error(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", h.maxBytes))
		return
	}

	detected := mimetype.Detect(data)
	contentType := detected.String()
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	ext, allowed := whitelist[contentType]
	if !allowed {
		BadRequest(c, fmt.Sprintf("unsupported file type %s", contentType))
		return
	}

	if h.scanner != nil {
		infected, err := h.scanner.Scan(bytes.NewReader(data))
		if err != nil {
			h.logger.Error("scan file", slog.Any("error", err))
			Internal(c, "failed to scan file")
			return
		}
		if infected {
			h.logger.Warn("malicious upload rejected", slog.String("user_id", userID))
			BadRequest(c, "malicious file detected")
			return
		}
	}

	objectKey := fmt.Sprintf("%s%s/%s%s", userUploadPrefix(userID), kind, uuid.NewString(), ext)
	if _, err := h.store.UploadFile(ctx, objectKey, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		h.logger.Error("upload file", slog.String("object_key", objectKey), slog.Any("error", err))
		Internal(c, "failed to upload file")
		return
	}

	url, err := h.store.GeneratePresignedURL(ctx, objectKey, uploadURLTTL)
	if err != nil {
		h.logger.Error("generate presigned url", slog.Any("error", err))
		Internal(c, "failed to generate url")
		return
	}

	Success(c, http.StatusCreated, gin.H{
		"object_key":   objectKey,
		"url":          url,
		"content_type": contentType,
		"size":         len(data),
		"kind":         kind,
	})
}

// ListUploads 列出自己上传的文件，可按 kind 过滤。
func (h *UploadHandler) ListUploads(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	limit := clamp(queryInt(c, "limit", 60), 1, 200)

	prefix := userUploadPrefix(userID)
	if kind := UploadKind(strings.ToLower(c.Query("kind"))); kind != "" {
		if _, ok := allowedMIME[kind]; !ok {
			BadRequest(c, "kind must be resume or image")
			return
		}
		prefix += string(kind) + "/"
	}

	ctx := c.Request.Context()
	objects, err := h.store.ListObjects(ctx, prefix, limit)
	if err != nil {
		h.logger.Error("list uploads", slog.Any("error", err))
		Internal(c, "failed to list uploads")
		return
	}
	sort.Slice(objects, func(i, j int) bool {
		return objects[i].LastModified.After(objects[j].LastModified)
	})

	items := make([]gin.H, 0, len(objects))
	for _, obj := range objects {
		url, err := h.store.GeneratePresignedURL(ctx, obj.Key, uploadURLTTL)
		if err != nil {
			h.logger.Error("generate upload url", slog.String("object_key", obj.Key), slog.Any("error", err))
			continue
		}
		items = append(items, gin.H{
			"object_key":    obj.Key,
			"url":           url,
			"size":          obj.Size,
			"last_modified": obj.LastModified,
		})
	}
	Success(c, http.StatusOK, items)
}

// GetUploadURL 为自己的对象生成临时访问地址。
func (h *UploadHandler) GetUploadURL(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	key := c.Query("key")
	if key == "" {
		BadRequest(c, "missing key")
		return
	}
	if !isValidUploadKey(userID, key) {
		Forbidden(c, "access denied")
		return
	}
	url, err := h.store.GeneratePresignedURL(c.Request.Context(), key, uploadURLTTL)
	if err != nil {
		h.logger.Error("generate presigned url", slog.Any("error", err))
		Internal(c, "failed to generate url")
		return
	}
	Success(c, http.StatusOK, gin.H{"url": url, "expires_in": int(uploadURLTTL.Seconds())})
}

// DeleteUpload 删除自己的对象。
func (h *UploadHandler) DeleteUpload(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	key := c.Query("key")
	if !isValidUploadKey(userID, key) {
		Forbidden(c, "access denied")
		return
	}
	if err := h.store.DeleteObject(c.Request.Context(), key); err != nil {
		if storage.IsNoSuchKey(err) {
			NotFound(c, "object not found")
			return
		}
		h.logger.Error("delete upload", slog.String("object_key", key), slog.Any("error", err))
		Internal(c, "failed to delete upload")
		return
	}
	c.Status(http.StatusNoContent)
}
