package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

const (
	DefaultWidth       = 320
	DefaultHeight      = 240
	DefaultJPEGQuality = 85
)

// encodeFrame scales src into dst and returns dst as JPEG. dst is reused across cycles.
func encodeFrame(dst *image.RGBA, src image.Image, quality int) ([]byte, error) {
	if src == nil || src.Bounds().Empty() {
		return nil, ErrNoFrame
	}
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode capture: %w", err)
	}
	return buf.Bytes(), nil
}
