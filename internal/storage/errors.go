package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
)

// ErrObjectNotFound 表示对象不存在。Client 的读取与删除方法在对象缺失时返回包装了它的错误。
var ErrObjectNotFound = errors.New("object not found")

// IsNoSuchKey 判断错误是否表示对象不存在：ErrObjectNotFound，
// 或 S3/MinIO 返回的 NoSuchKey/NotFound。
func IsNoSuchKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrObjectNotFound) {
		return true
	}

	var minioErr minio.ErrorResponse
	if errors.As(err, &minioErr) {
		switch strings.ToLower(strings.TrimSpace(minioErr.Code)) {
		case "nosuchkey", "notfound":
			return true
		}
	}

	// 部分网关只给出文本。
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "nosuchkey") ||
		strings.Contains(lower, "specified key does not exist")
}

// wrapObjectErr 给错误加上操作与对象名，对象缺失时统一成 ErrObjectNotFound。
func wrapObjectErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if IsNoSuchKey(err) {
		return fmt.Errorf("%s %q: %w", op, key, ErrObjectNotFound)
	}
	return fmt.Errorf("%s %q: %w", op, key, err)
}
