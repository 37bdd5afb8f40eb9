package engine

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// DefaultMaxImageBytes is the decoded size limit used when none is configured
const DefaultMaxImageBytes = 10 << 20 // 10MB

// ErrInvalidImage is returned for encoded images that cannot be accepted
var ErrInvalidImage = errors.New("invalid image data")

// allowedMIMETypes lists the formats accepted from clients
var allowedMIMETypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"image/gif":       true,
	"image/heic":      true,
	"image/heif":      true,
	"application/pdf": true,
}

// Image is a parsed encoded image of the form data:<mime>;base64,<payload>
type Image struct {
	MIMEType string
	// Payload is the base64 text with the data URL prefix removed
	Payload string
	// Data is the decoded payload
	Data []byte
}

// DataURL re-encodes the image in its self-describing form
func (i Image) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", i.MIMEType, i.Payload)
}

// ImageParser validates encoded images against a size limit
type ImageParser struct {
	MaxBytes int
}

// NewImageParser creates a parser, falling back to DefaultMaxImageBytes
func NewImageParser(maxBytes int) *ImageParser {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	return &ImageParser{MaxBytes: maxBytes}
}

// ParseImage parses an encoded image using the default size limit
func ParseImage(encoded string) (Image, error) {
	return NewImageParser(DefaultMaxImageBytes).Parse(encoded)
}

// Parse strips the data URL prefix, validates the MIME type and decodes the payload
func (p *ImageParser) Parse(encoded string) (Image, error) {
	encoded = strings.TrimSpace(encoded)
	if !strings.HasPrefix(encoded, "data:") {
		return Image{}, fmt.Errorf("%w: missing data URL prefix", ErrInvalidImage)
	}

	header, payload, ok := strings.Cut(encoded, ",")
	if !ok {
		return Image{}, fmt.Errorf("%w: missing payload", ErrInvalidImage)
	}

	mimeType, found := strings.CutSuffix(strings.TrimPrefix(header, "data:"), ";base64")
	if !found {
		return Image{}, fmt.Errorf("%w: payload is not base64 encoded", ErrInvalidImage)
	}
	mimeType = strings.ToLower(mimeType)
	if !allowedMIMETypes[mimeType] {
		return Image{}, fmt.Errorf("%w: unsupported format %q", ErrInvalidImage, mimeType)
	}

	if base64.StdEncoding.DecodedLen(len(payload)) > p.MaxBytes+2 {
		return Image{}, fmt.Errorf("%w: image exceeds %d bytes", ErrInvalidImage, p.MaxBytes)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, fmt.Errorf("%w: decoding payload: %w", ErrInvalidImage, err)
	}
	if len(data) == 0 {
		return Image{}, fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}
	if len(data) > p.MaxBytes {
		return Image{}, fmt.Errorf("%w: image exceeds %d bytes", ErrInvalidImage, p.MaxBytes)
	}

	return Image{
		MIMEType: mimeType,
		Payload:  payload,
		Data:     data,
	}, nil
}
