package dither

import (
	"image"
)

// Canvas is a floating point RGB working buffer. Values may leave [0, 255]
// while error is being diffused.
type Canvas struct {
	Pix    []float64 // R, G, B per pixel, row-major
	Stride int       // Floats per row
	W, H   int
}

// NewCanvas returns a black w×h canvas.
func NewCanvas(w, h int) *Canvas {
	return &Canvas{
		Pix:    make([]float64, w*h*3),
		Stride: w * 3,
		W:      w,
		H:      h,
	}
}

// CanvasFrom copies img into a new Canvas. Alpha is ignored.
func CanvasFrom(img image.Image) *Canvas {
	b := img.Bounds()
	c := NewCanvas(b.Dx(), b.Dy())
	if rgba, ok := img.(*image.RGBA); ok {
		for y := 0; y < c.H; y++ {
			src := rgba.Pix[rgba.PixOffset(b.Min.X, b.Min.Y+y):]
			dst := c.Pix[y*c.Stride:]
			for x := 0; x < c.W; x++ {
				dst[x*3] = float64(src[x*4])
				dst[x*3+1] = float64(src[x*4+1])
				dst[x*3+2] = float64(src[x*4+2])
			}
		}
		return c
	}
	for y := 0; y < c.H; y++ {
		for x := 0; x < c.W; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := c.offset(x, y)
			c.Pix[i] = float64(r >> 8)
			c.Pix[i+1] = float64(g >> 8)
			c.Pix[i+2] = float64(bl >> 8)
		}
	}
	return c
}

// Clone returns an independent copy of c.
func (c *Canvas) Clone() *Canvas {
	out := &Canvas{Pix: make([]float64, len(c.Pix)), Stride: c.Stride, W: c.W, H: c.H}
	copy(out.Pix, c.Pix)
	return out
}

// At returns the raw value at (x, y).
func (c *Canvas) At(x, y int) (r, g, b float64) {
	i := c.offset(x, y)
	return c.Pix[i], c.Pix[i+1], c.Pix[i+2]
}

// Set stores a raw value at (x, y).
func (c *Canvas) Set(x, y int, r, g, b float64) {
	i := c.offset(x, y)
	c.Pix[i], c.Pix[i+1], c.Pix[i+2] = r, g, b
}

// In reports whether (x, y) lies inside the canvas.
func (c *Canvas) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < c.W && y < c.H
}

func (c *Canvas) offset(x, y int) int {
	return y*c.Stride + x*3
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
