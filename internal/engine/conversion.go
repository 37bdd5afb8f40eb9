package engine

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// heifBrands are the ftyp major brands the heic decoder handles.
var heifBrands = map[string]bool{"heic": true, "heif": true, "mif1": true, "msf1": true}

// prepareImage returns bytes and a MIME type the provider accepts. Images in
// a natively supported format are passed through untouched, everything else
// is rasterised and re-encoded as PNG.
func prepareImage(img Image, native map[string]bool) ([]byte, string, error) {
	if native[img.MIMEType] {
		return img.Data, img.MIMEType, nil
	}

	raster, err := decodeBill(img)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %w", ErrInvalidImage, img.MIMEType, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, raster); err != nil {
		return nil, "", fmt.Errorf("%w: re-encoding as PNG: %w", ErrInvalidImage, err)
	}
	return buf.Bytes(), "image/png", nil
}

// decodeBill picks a decoder from the declared type, falling back to the
// container brand for HEIF uploads labelled as something generic.
func decodeBill(img Image) (image.Image, error) {
	switch {
	case img.MIMEType == "application/pdf":
		doc, err := fitz.NewFromMemory(img.Data)
		if err != nil {
			return nil, fmt.Errorf("opening PDF: %w", err)
		}
		defer doc.Close()
		if doc.NumPage() == 0 {
			return nil, fmt.Errorf("PDF has no pages")
		}
		// Totals are on the first page of every bill we've seen.
		return doc.Image(0)
	case img.MIMEType == "image/heic" || img.MIMEType == "image/heif" || hasHEIFBrand(img.Data):
		return heic.Decode(bytes.NewReader(img.Data))
	default:
		raster, _, err := image.Decode(bytes.NewReader(img.Data))
		return raster, err
	}
}

func hasHEIFBrand(data []byte) bool {
	return len(data) >= 12 && string(data[4:8]) == "ftyp" && heifBrands[string(data[8:12])]
}
