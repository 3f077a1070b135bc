package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"prashikshan/internal/config"
)

const (
	defaultListLimit   = 50
	bucketCheckTimeout = 5 * time.Second
)

// Client 是上传文件与新闻缓存共用的对象存储。
// 读写走内网 endpoint，预签名链接用公网 endpoint 生成，浏览器可以直接访问。
type Client struct {
	objects *minio.Client
	signer  *minio.Client
	bucket  string
}

// ObjectMeta 描述 Bucket 中对象的关键信息。
type ObjectMeta struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// NewClient 按配置连接对象存储，并确认 Bucket 存在（允许时自动创建）。
func NewClient(cfg config.MinIOConfig) (*Client, error) {
	lookup, err := parseBucketLookup(cfg.BucketLookup)
	if err != nil {
		return nil, err
	}
	creds := credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	connect := func(host string, secure bool) (*minio.Client, error) {
		return minio.New(host, &minio.Options{Creds: creds, Secure: secure, Region: cfg.Region, BucketLookup: lookup})
	}

	objects, err := connect(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	signer := objects
	if public := strings.TrimSpace(cfg.PublicEndpoint); public != "" {
		host, secure, err := parsePublicEndpoint(public)
		if err != nil {
			return nil, err
		}
		if signer, err = connect(host, secure); err != nil {
			return nil, fmt.Errorf("init public minio client: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), bucketCheckTimeout)
	defer cancel()
	if err := ensureBucket(ctx, objects, cfg); err != nil {
		return nil, err
	}
	return &Client{objects: objects, signer: signer, bucket: cfg.Bucket}, nil
}

func parsePublicEndpoint(raw string) (host string, secure bool, err error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse minio public endpoint: %w", err)
	}
	if parsed.Host == "" {
		return "", false, fmt.Errorf("minio public endpoint %q has no host", raw)
	}
	return parsed.Host, parsed.Scheme == "https", nil
}

func ensureBucket(ctx context.Context, client *minio.Client, cfg config.MinIOConfig) error {
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
	}
	if exists {
		return nil
	}
	if !cfg.AutoCreateBucket {
		return fmt.Errorf("bucket %q does not exist and auto create is off", cfg.Bucket)
	}
	if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
		return fmt.Errorf("make bucket %q: %w", cfg.Bucket, err)
	}
	return nil
}

func parseBucketLookup(value string) (minio.BucketLookupType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "auto":
		return minio.BucketLookupAuto, nil
	case "dns":
		return minio.BucketLookupDNS, nil
	case "path":
		return minio.BucketLookupPath, nil
	}
	return minio.BucketLookupAuto, fmt.Errorf("invalid minio bucket lookup %q", value)
}

// UploadFile 写入用户上传的文件。
func (c *Client) UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error) {
	info, err := c.objects.PutObject(ctx, c.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType:        contentType,
		ContentDisposition: "inline",
	})
	if err != nil {
		return nil, wrapObjectErr("put object", objectName, err)
	}
	return &info, nil
}

// PutBytes 覆盖写入一段内存数据，新闻缓存云同步使用；禁止中间层缓存。
func (c *Client) PutBytes(ctx context.Context, objectName string, data []byte, contentType string) error {
	_, err := c.objects.PutObject(ctx, c.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "no-cache",
	})
	return wrapObjectErr("put object", objectName, err)
}

// GetBytes 读取整个对象；对象不存在时返回的错误包装 ErrObjectNotFound。
func (c *Client) GetBytes(ctx context.Context, objectName string) ([]byte, error) {
	obj, err := c.objects.GetObject(ctx, c.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, wrapObjectErr("get object", objectName, err)
	}
	defer obj.Close()

	// GetObject 是惰性的，对象缺失要到读取时才报错。
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, wrapObjectErr("read object", objectName, err)
	}
	return data, nil
}

// Stat 返回对象元数据。
func (c *Client) Stat(ctx context.Context, objectName string) (ObjectMeta, error) {
	info, err := c.objects.StatObject(ctx, c.bucket, objectName, minio.StatObjectOptions{})
	if err != nil {
		return ObjectMeta{}, wrapObjectErr("stat object", objectName, err)
	}
	return ObjectMeta{Key: info.Key, Size: info.Size, ContentType: info.ContentType, LastModified: info.LastModified}, nil
}

// GeneratePresignedURL 用公网 endpoint 生成限时下载链接。
func (c *Client) GeneratePresignedURL(ctx context.Context, objectKey string, duration time.Duration) (string, error) {
	u, err := c.signer.PresignedGetObject(ctx, c.bucket, objectKey, duration, nil)
	if err != nil {
		return "", wrapObjectErr("presign object", objectKey, err)
	}
	return u.String(), nil
}

// ListObjects 列出前缀下的对象，按修改时间倒序，最多 limit 个（<=0 时取 50）。
func (c *Client) ListObjects(ctx context.Context, prefix string, limit int) ([]ObjectMeta, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var result []ObjectMeta
	for object := range c.objects.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return nil, fmt.Errorf("list objects under %q: %w", prefix, object.Err)
		}
		result = append(result, ObjectMeta{
			Key:          object.Key,
			Size:         object.Size,
			ContentType:  object.ContentType,
			LastModified: object.LastModified,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].LastModified.After(result[j].LastModified) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// DeleteObject 删除对象。S3 的删除对缺失对象也返回成功，所以先 Stat，
// 对象不存在时返回包装 ErrObjectNotFound 的错误。
func (c *Client) DeleteObject(ctx context.Context, objectKey string) error {
	if _, err := c.Stat(ctx, objectKey); err != nil {
		return err
	}
	if err := c.objects.RemoveObject(ctx, c.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return wrapObjectErr("remove object", objectKey, err)
	}
	return nil
}
