// Package dither quantizes RGB images to the four panel colors with error
// diffusion.
//
// A Variant binds a palette selector to a diffusion kernel. The adaptive
// variant restricts each pixel to a palette chosen by Classify and diffuses
// with Atkinson; the classic variant searches the full palette and diffuses
// with Floyd-Steinberg.
//
// The sweep is single-threaded and visits pixels in raster order; every
// call works on its own buffers, so concurrent calls are safe.
package dither

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/flavioheleno/epaper4/image2bit"
)

// Selector returns the palette a clamped pixel may be quantized to.
type Selector func(r, g, b float64) Palette

// Variant is a named pairing of palette selector and diffusion kernel.
type Variant struct {
	name     string
	selector Selector
	kernel   Kernel
}

var (
	// Adaptive is the production variant: per-pixel palette selection with
	// the two-row Atkinson kernel.
	Adaptive = Variant{name: "adaptive", selector: Classify, kernel: Atkinson}

	// Classic quantizes against the full palette with Floyd-Steinberg.
	Classic = Variant{name: "classic", selector: fixedFull, kernel: FloydSteinberg}
)

var variants = []Variant{Adaptive, Classic}

// Name returns the variant name.
func (v Variant) Name() string { return v.name }

// Kernel returns the diffusion kernel of v.
func (v Variant) Kernel() Kernel { return v.kernel }

// Select returns the palette v allows for a clamped pixel.
func (v Variant) Select(r, g, b float64) Palette { return v.selector(r, g, b) }

func (v Variant) String() string { return v.name }

// Variants returns every known variant, default first.
func Variants() []Variant {
	out := make([]Variant, len(variants))
	copy(out, variants)
	return out
}

// ParseVariant looks a variant up by name. The empty string selects Adaptive.
func ParseVariant(name string) (Variant, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Adaptive, nil
	}
	for _, v := range variants {
		if v.name == name {
			return v, nil
		}
	}
	return Variant{}, fmt.Errorf("dither: unknown variant %q", name)
}

// QuantizeAndDither returns a copy of img reduced to the four panel colors.
// img is not modified. Output bounds start at (0, 0).
func QuantizeAndDither(img image.Image, v Variant) *image.RGBA {
	return Sweep(CanvasFrom(img), v)
}

// Sweep quantizes c in place in raster order and returns the result. c is
// consumed: after the call it holds the quantized values.
//
// For every pixel the current value is clamped to [0, 255], a palette is
// selected, the nearest entry is taken and the residual is diffused into
// pixels not yet visited.
func Sweep(c *Canvas, v Variant) *image.RGBA {
	if v.selector == nil {
		v = Adaptive
	}
	out := image.NewRGBA(image.Rect(0, 0, c.W, c.H))
	for y := 0; y < c.H; y++ {
		for x := 0; x < c.W; x++ {
			r, g, b := c.At(x, y)
			r, g, b = clamp(r), clamp(g), clamp(b)

			q := Nearest(v.selector(r, g, b), r, g, b)
			qr, qg, qb := q.RGB()
			c.Set(x, y, float64(qr), float64(qg), float64(qb))
			out.SetRGBA(x, y, color.RGBA{qr, qg, qb, 0xFF})

			v.kernel.diffuse(c, x, y, r-float64(qr), g-float64(qg), b-float64(qb))
		}
	}
	return out
}

// ToPacked quantizes img and returns it directly in the panel format.
func ToPacked(img image.Image, v Variant) *image2bit.Packed {
	q := QuantizeAndDither(img, v)
	p := image2bit.NewPacked(q.Bounds())
	copy(p.Pix, image2bit.Encode(q))
	return p
}
