// Package vision validates inbound photos before they reach an
// image-capable model.
package vision

import (
	"net/http"

	"github.com/lunabot/luna/internal/errors"
)

// MaxImageBytes mirrors the Claude vision upload limit.
const MaxImageBytes = 20 * 1024 * 1024

// DefaultPrompt accompanies a photo that arrives without a caption.
const DefaultPrompt = "What's in this image?"

var supportedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// Detect sniffs the media type from the image bytes and rejects
// anything outside the supported set or over the size limit.
func Detect(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.InvalidInput("empty image")
	}
	if len(data) > MaxImageBytes {
		return "", errors.InvalidInput("image is too large (%d bytes, limit %d)", len(data), MaxImageBytes)
	}
	mediaType := http.DetectContentType(data)
	if !supportedTypes[mediaType] {
		return "", errors.InvalidInput("unsupported image type %s", mediaType)
	}
	return mediaType, nil
}
