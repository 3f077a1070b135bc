package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashAdminKey 使用 bcrypt 生成管理密钥哈希。
func HashAdminKey(key string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash admin key: %w", err)
	}
	return string(bytes), nil
}

// GenerateAdminKey 生成随机管理密钥。
func GenerateAdminKey(bytesLen int) (string, error) {
	if bytesLen <= 0 {
		bytesLen = 24
	}
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// AdminKeyMatcher 校验管理后台密钥。优先使用 bcrypt 哈希，
// 仅在未配置哈希时回退到明文比较（本地开发）。
type AdminKeyMatcher struct {
	hash      string
	plaintext string
}

// NewAdminKeyMatcher 构造校验器，两者都为空时返回错误。
func NewAdminKeyMatcher(hash, plaintext string) (*AdminKeyMatcher, error) {
	hash = strings.TrimSpace(hash)
	plaintext = strings.TrimSpace(plaintext)
	if hash == "" && plaintext == "" {
		return nil, errors.New("admin key is not configured")
	}
	return &AdminKeyMatcher{hash: hash, plaintext: plaintext}, nil
}

// Match 判断提交的密钥是否正确。
func (m *AdminKeyMatcher) Match(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	if m.hash != "" {
		return bcrypt.CompareHashAndPassword([]byte(m.hash), []byte(key)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(m.plaintext)) == 1
}
