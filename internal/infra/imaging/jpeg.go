// Package imaging prepares bill photographs for the vision model.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
)

// DefaultQuality is the JPEG quality used when re-encoding uploads.
const DefaultQuality = 90

// DefaultMaxPixels caps width*height of an accepted image (40 megapixels).
const DefaultMaxPixels = 40_000_000

// ErrTooLarge is returned when an image header declares more pixels than
// allowed. Nothing beyond the header is decoded.
var ErrTooLarge = errors.New("image dimensions exceed limit")

// EncodeDataURL decodes a raster image (JPEG, PNG or GIF) and re-encodes it
// as a base64 JPEG data URL. It returns the detected source format.
// Images whose header declares more than maxPixels pixels are rejected
// before decoding; a non-positive maxPixels means DefaultMaxPixels.
func EncodeDataURL(data []byte, quality, maxPixels int) (url string, format string, err error) {
	if len(data) == 0 {
		return "", "", fmt.Errorf("empty image")
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", "", fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", format, fmt.Errorf("invalid image dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return "", format, fmt.Errorf("%w: %dx%d is more than %d pixels", ErrTooLarge, cfg.Width, cfg.Height, maxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", "", fmt.Errorf("decode image: %w", err)
	}

	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", format, fmt.Errorf("encode jpeg: %w", err)
	}

	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), format, nil
}
