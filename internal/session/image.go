package session

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// extensionTypes covers formats the mime package does not know everywhere
var extensionTypes = map[string]string{
	".heic": "image/heic",
	".heif": "image/heif",
	".webp": "image/webp",
	".pdf":  "application/pdf",
}

// EncodeImage builds the data URL the API expects for a bill file
func EncodeImage(name string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", detectMIMEType(name, data), base64.StdEncoding.EncodeToString(data))
}

// EncodeImageFile reads a bill file from disk and encodes it
func EncodeImageFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading bill: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("reading bill: %s is empty", path)
	}
	return EncodeImage(path, data), nil
}

func detectMIMEType(name string, data []byte) string {
	ext := strings.ToLower(filepath.Ext(name))
	if mimeType, ok := extensionTypes[ext]; ok {
		return mimeType
	}
	if mimeType := mime.TypeByExtension(ext); mimeType != "" {
		mimeType, _, _ = strings.Cut(mimeType, ";")
		return mimeType
	}
	mimeType, _, _ := strings.Cut(http.DetectContentType(data), ";")
	return mimeType
}
