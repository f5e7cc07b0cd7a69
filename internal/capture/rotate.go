package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
)

// NormalizeRotation turns a screenshot taken while the display was rotated
// by quarterTurns * 90 degrees counter-clockwise back to the natural
// orientation. Unrotated input is returned as is.
func NormalizeRotation(data []byte, quarterTurns int) ([]byte, error) {
	turns := ((quarterTurns % 4) + 4) % 4
	if turns == 0 {
		return data, nil
	}

	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}

	rgba := image.NewRGBA(src.Bounds())
	draw.Draw(rgba, rgba.Bounds(), src, src.Bounds().Min, draw.Src)

	for range turns {
		rgba = rotateClockwise(rgba)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, rgba); err != nil {
		return nil, fmt.Errorf("failed to encode screenshot: %w", err)
	}
	return buf.Bytes(), nil
}

func rotateClockwise(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(h-1-y, x, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}
