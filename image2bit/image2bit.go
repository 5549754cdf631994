// Package image2bit provides a 2-bit four-color image format for e-paper panels.
//
// Pixels are packed four per byte, MSB first: the leftmost pixel of a group
// occupies bits 7-6, the rightmost bits 1-0.
package image2bit

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// Color4 is one of the four panel colors. Its value is the 2-bit wire code.
type Color4 uint8

const (
	Black  Color4 = 0b00
	White  Color4 = 0b01
	Yellow Color4 = 0b10
	Red    Color4 = 0b11
)

// Colors lists the universe in code order.
var Colors = [4]Color4{Black, White, Yellow, Red}

var rgbTable = [4]color.RGBA{
	Black:  {0x00, 0x00, 0x00, 0xFF},
	White:  {0xFF, 0xFF, 0xFF, 0xFF},
	Yellow: {0xFF, 0xFF, 0x00, 0xFF},
	Red:    {0xFF, 0x00, 0x00, 0xFF},
}

// ErrUnknownColor is returned by EncodeStrict when a pixel is not one of the
// four panel colors.
var ErrUnknownColor = errors.New("image2bit: pixel is not a panel color")

// RGBA implements color.Color. Only the lower 2 bits of c are used.
func (c Color4) RGBA() (r, g, b, a uint32) {
	return rgbTable[c&0x03].RGBA()
}

// RGB returns the 8-bit components of c.
func (c Color4) RGB() (r, g, b uint8) {
	v := rgbTable[c&0x03]
	return v.R, v.G, v.B
}

func (c Color4) String() string {
	switch c & 0x03 {
	case Black:
		return "black"
	case White:
		return "white"
	case Yellow:
		return "yellow"
	default:
		return "red"
	}
}

// Lookup returns the Color4 whose RGB value is exactly (r, g, b).
func Lookup(r, g, b uint8) (Color4, bool) {
	switch {
	case r == 0x00 && g == 0x00 && b == 0x00:
		return Black, true
	case r == 0xFF && g == 0xFF && b == 0xFF:
		return White, true
	case r == 0xFF && g == 0xFF && b == 0x00:
		return Yellow, true
	case r == 0xFF && g == 0x00 && b == 0x00:
		return Red, true
	}
	return White, false
}

// toColor4 converts any color.Color to the nearest Color4 in RGB space.
func toColor4(c color.Color) color.Color {
	if v, ok := c.(Color4); ok {
		return v
	}
	r, g, b, _ := c.RGBA()
	r8, g8, b8 := int(r>>8), int(g>>8), int(b>>8)
	best, bestDist := Black, -1
	for _, cand := range Colors {
		cr, cg, cb := cand.RGB()
		dr, dg, db := r8-int(cr), g8-int(cg), b8-int(cb)
		d := dr*dr + dg*dg + db*db
		if bestDist < 0 || d < bestDist {
			best, bestDist = cand, d
		}
	}
	return best
}

// Model converts colors to Color4.
var Model = color.ModelFunc(toColor4)

// Packed is a four-color image stored with 2 bits per pixel.
// Each byte holds 4 horizontally adjacent pixels, leftmost in the high bits.
type Packed struct {
	Pix    []byte          // Pixel data (4 pixels per byte)
	Stride int             // Bytes per row
	Rect   image.Rectangle // Image bounds
}

// NewPacked creates a new all-black Packed image with the specified bounds.
// The width must be a multiple of 4.
func NewPacked(r image.Rectangle) *Packed {
	w, h := r.Dx(), r.Dy()
	if w < 0 || h < 0 {
		return &Packed{Rect: r}
	}
	if w%4 != 0 {
		panic("image2bit: width must be a multiple of 4")
	}

	stride := w / 4
	return &Packed{
		Pix:    make([]byte, stride*h),
		Stride: stride,
		Rect:   r,
	}
}

// FrameSize returns the byte length of a packed w×h frame.
func FrameSize(w, h int) int {
	return (w + 3) / 4 * h
}

// ColorModel returns the color model of the image.
func (p *Packed) ColorModel() color.Model {
	return Model
}

// Bounds returns the image bounds.
func (p *Packed) Bounds() image.Rectangle {
	return p.Rect
}

// At returns the color of the pixel at (x, y).
func (p *Packed) At(x, y int) color.Color {
	return p.Color4At(x, y)
}

// Color4At returns the Color4 of the pixel at (x, y).
func (p *Packed) Color4At(x, y int) Color4 {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return Black
	}
	offset, shift := p.pixOffset(x, y)
	return Color4((p.Pix[offset] >> shift) & 0x03)
}

// Set sets the pixel at (x, y) to the nearest Color4 of c.
func (p *Packed) Set(x, y int, c color.Color) {
	p.SetColor4(x, y, Model.Convert(c).(Color4))
}

// SetColor4 sets the pixel at (x, y) without color conversion.
func (p *Packed) SetColor4(x, y int, c Color4) {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return
	}
	offset, shift := p.pixOffset(x, y)
	p.Pix[offset] = (p.Pix[offset] &^ (0x03 << shift)) | (byte(c&0x03) << shift)
}

// pixOffset returns the byte offset and bit shift for the pixel at (x, y).
// Pixel i of a group of four sits at shift 6-2i.
func (p *Packed) pixOffset(x, y int) (offset int, shift uint) {
	dx := x - p.Rect.Min.X
	offset = (y-p.Rect.Min.Y)*p.Stride + dx/4
	shift = uint(6 - 2*(dx&3))
	return
}

// Encode packs img into a frame. Pixels that are not exactly one of the four
// panel colors are written as White.
func Encode(img image.Image) []byte {
	if p, ok := img.(*Packed); ok {
		out := make([]byte, len(p.Pix))
		copy(out, p.Pix)
		return out
	}
	out, _ := encode(img, false)
	return out
}

// EncodeStrict is like Encode but fails on the first pixel that is not a
// panel color.
func EncodeStrict(img image.Image) ([]byte, error) {
	if p, ok := img.(*Packed); ok {
		return Encode(p), nil
	}
	return encode(img, true)
}

func encode(img image.Image, strict bool) ([]byte, error) {
	b := img.Bounds()
	dst := NewPacked(image.Rect(0, 0, b.Dx(), b.Dy()))
	rgba, fast := img.(*image.RGBA)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			var r, g, bl uint8
			if fast {
				i := rgba.PixOffset(x, y)
				r, g, bl = rgba.Pix[i], rgba.Pix[i+1], rgba.Pix[i+2]
			} else {
				r32, g32, b32, _ := img.At(x, y).RGBA()
				r, g, bl = uint8(r32>>8), uint8(g32>>8), uint8(b32>>8)
			}
			c, ok := Lookup(r, g, bl)
			if !ok && strict {
				return nil, fmt.Errorf("%w: (%d,%d) = #%02x%02x%02x", ErrUnknownColor, x, y, r, g, bl)
			}
			dst.SetColor4(x-b.Min.X, y-b.Min.Y, c)
		}
	}
	return dst.Pix, nil
}

// Unpack wraps a w×h frame as a Packed image. data is copied.
func Unpack(data []byte, w, h int) (*Packed, error) {
	if w <= 0 || h <= 0 || w%4 != 0 {
		return nil, fmt.Errorf("image2bit: invalid geometry %dx%d", w, h)
	}
	if len(data) != FrameSize(w, h) {
		return nil, fmt.Errorf("image2bit: frame is %d bytes, want %d", len(data), FrameSize(w, h))
	}
	p := NewPacked(image.Rect(0, 0, w, h))
	copy(p.Pix, data)
	return p, nil
}
