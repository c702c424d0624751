package engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/a3tai/mcp-pdf-annotator/internal/geometry"
	"github.com/a3tai/mcp-pdf-annotator/internal/spans"
	"github.com/a3tai/mcp-pdf-annotator/internal/viewport"
)

// MaxRenderSide bounds the width and height of a rendered preview in pixels
const MaxRenderSide = 4096

var (
	pageColor = color.White
	textColor = color.NRGBA{R: 160, G: 160, B: 160, A: 255}
)

// PixelSize returns the preview size of a page at scale, kept within
// MaxRenderSide while preserving the aspect ratio. The effective scale is
// returned alongside.
func PixelSize(size viewport.Size, scale float64) (w, h int, effective float64) {
	if scale <= 0 {
		scale = 1
	}
	longest := math.Max(size.Width, size.Height) * scale
	if longest > MaxRenderSide {
		scale *= MaxRenderSide / longest
	}
	w = min(MaxRenderSide, max(1, int(math.Ceil(size.Width*scale))))
	h = min(MaxRenderSide, max(1, int(math.Ceil(size.Height*scale))))
	return w, h, scale
}

// Wireframe renders a page preview: a white page with a grey bar for every
// text span. Glyph rasterization is left to the viewer.
func Wireframe(ctx context.Context, size viewport.Size, text []spans.TextSpan, scale float64) (image.Image, error) {
	w, h, scale := PixelSize(size, scale)
	img := imaging.New(w, h, pageColor)

	for i, s := range text {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		r := PixelRect(s.Rect, scale)
		if r.Empty() {
			continue
		}
		img = imaging.Paste(img, imaging.New(r.Dx(), r.Dy(), textColor), r.Min)
	}
	return img, nil
}

// PixelRect converts a page rectangle in document units to preview pixels
func PixelRect(r geometry.Rect, scale float64) image.Rectangle {
	r = r.Normalize().Scale(scale)
	return image.Rect(
		int(math.Floor(r.X0)), int(math.Floor(r.Y0)),
		int(math.Ceil(r.X1)), int(math.Ceil(r.Y1)),
	)
}

// EncodePNG encodes a preview as PNG
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
