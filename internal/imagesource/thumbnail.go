package imagesource

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// MaxThumbnailPixels caps the header dimensions Thumbnail will decode; the
// decoder allocates the full bitmap before reading pixel data.
const MaxThumbnailPixels = 40_000_000

// Thumbnail decodes the payload and renders a JPEG that fits in a
// maxDim x maxDim box, preserving aspect ratio.
func Thumbnail(payload ImagePayload, maxDim int) ([]byte, error) {
	if maxDim <= 0 {
		return nil, fmt.Errorf("thumbnail size must be positive (got %d)", maxDim)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(payload.Data))
	if err != nil {
		return nil, fmt.Errorf("decode %s header: %w", payload.Filename, err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > MaxThumbnailPixels {
		return nil, fmt.Errorf("%s image %s is %dx%d, above the %d pixel limit",
			format, payload.Filename, cfg.Width, cfg.Height, MaxThumbnailPixels)
	}

	img, err := imaging.Decode(bytes.NewReader(payload.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", payload.Filename, err)
	}

	thumb := imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
