package pipeline

import (
	"image"

	"golang.org/x/image/draw"
)

// frameBuffers keeps the grayscale and downscaled images between frames so a steady
// stream of equally sized frames allocates nothing.
type frameBuffers struct {
	gray  *image.Gray
	small *image.Gray
}

// toGray returns img as a zero-origin grayscale image. A *image.Gray that already starts
// at the origin is returned as is.
func (b *frameBuffers) toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	r := img.Bounds()
	b.gray = ensureGray(b.gray, r.Dx(), r.Dy())
	draw.Draw(b.gray, b.gray.Bounds(), img, r.Min, draw.Src)
	return b.gray
}

// downscale shrinks src by ratio on both axes and returns the ratio actually applied.
// A frame too small to shrink is returned unscaled with ratio 1.
func (b *frameBuffers) downscale(src *image.Gray, ratio int) (*image.Gray, int) {
	if ratio <= 1 {
		return src, 1
	}
	w, h := src.Rect.Dx()/ratio, src.Rect.Dy()/ratio
	if w == 0 || h == 0 {
		return src, 1
	}
	b.small = ensureGray(b.small, w, h)
	draw.ApproxBiLinear.Scale(b.small, b.small.Bounds(), src, src.Bounds(), draw.Src, nil)
	return b.small, ratio
}

func ensureGray(g *image.Gray, w, h int) *image.Gray {
	if g != nil && g.Rect.Dx() == w && g.Rect.Dy() == h {
		return g
	}
	return image.NewGray(image.Rect(0, 0, w, h))
}
