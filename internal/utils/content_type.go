package utils

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// DetectContentType infers a MIME type from the filename extension, falling
// back to content sniffing over the leading bytes. Returns
// application/octet-stream when neither yields anything useful.
func DetectContentType(name string, data []byte) string {
	if isTextLike(name) {
		return "text/plain; charset=utf-8"
	}
	if mimeType := mime.TypeByExtension(filepath.Ext(name)); mimeType != "" {
		return mimeType
	}
	if len(data) > 0 {
		return http.DetectContentType(data)
	}
	return "application/octet-stream"
}

func isTextLike(name string) bool {
	return strings.HasSuffix(name, ".yaml") ||
		strings.HasSuffix(name, ".yml") ||
		strings.HasSuffix(name, ".toml") ||
		strings.HasSuffix(name, ".md")
}
