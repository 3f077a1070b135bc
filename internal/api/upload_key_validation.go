package api

import (
	"path"
	"strings"
	"unicode/utf8"
)

const maxUploadKeyLength = 200

// isValidUploadKey 校验对象键属于该用户，且形如 uploads/<user>/<kind>/<name><ext>。
func isValidUploadKey(userID, key string) bool {
	if key == "" || userID == "" || !utf8.ValidString(key) || len(key) > maxUploadKeyLength {
		return false
	}
	prefix := userUploadPrefix(userID)
	if !strings.HasPrefix(key, prefix) {
		return false
	}
	if strings.Contains(key, "..") || strings.Contains(key, "\\") || strings.Contains(key, "//") {
		return false
	}

	rest := strings.TrimPrefix(key, prefix)
	kind, name, found := strings.Cut(rest, "/")
	if !found || name == "" || strings.Contains(name, "/") {
		return false
	}
	exts, ok := allowedMIME[UploadKind(kind)]
	if !ok {
		return false
	}
	ext := strings.ToLower(path.Ext(name))
	for _, allowed := range exts {
		if ext == allowed {
			return true
		}
	}
	return false
}
