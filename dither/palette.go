package dither

import (
	"github.com/flavioheleno/epaper4/image2bit"
)

// Palette is a small, fixed, ordered subset of the panel colors.
// The zero value is not usable; use one of the package-level palettes.
type Palette struct {
	name   string
	n      int
	colors [4]image2bit.Color4
}

var (
	// Mono holds black and white.
	Mono = Palette{name: "mono", n: 2, colors: [4]image2bit.Color4{image2bit.Black, image2bit.White}}
	// MonoYellow adds yellow to Mono.
	MonoYellow = Palette{name: "mono+yellow", n: 3, colors: [4]image2bit.Color4{image2bit.Black, image2bit.White, image2bit.Yellow}}
	// MonoRed adds red to Mono.
	MonoRed = Palette{name: "mono+red", n: 3, colors: [4]image2bit.Color4{image2bit.Black, image2bit.White, image2bit.Red}}
	// Full is the whole four-color universe in nearest-search order.
	Full = Palette{name: "full", n: 4, colors: [4]image2bit.Color4{image2bit.Black, image2bit.White, image2bit.Red, image2bit.Yellow}}
)

// Name returns the palette name.
func (p Palette) Name() string { return p.name }

// Len returns the number of colors.
func (p Palette) Len() int { return p.n }

// Colors returns a copy of the palette entries in search order.
func (p Palette) Colors() []image2bit.Color4 {
	out := make([]image2bit.Color4, p.n)
	copy(out, p.colors[:p.n])
	return out
}

func (p Palette) String() string { return p.name }

// Nearest returns the entry of p with the smallest squared RGB distance to
// (r, g, b). Ties go to the entry listed first.
func Nearest(p Palette, r, g, b float64) image2bit.Color4 {
	best := p.colors[0]
	bestDist := -1.0
	for _, c := range p.colors[:p.n] {
		cr, cg, cb := c.RGB()
		dr, dg, db := r-float64(cr), g-float64(cg), b-float64(cb)
		d := dr*dr + dg*dg + db*db
		if bestDist < 0 || d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// Classifier thresholds.
const (
	SaturationThreshold = 55 // max-min below this is treated as achromatic
	RedDiffThreshold    = 28 // r-max(g,b) at or above this selects red

	skinMinBrightness = 55
	skinMinR          = 70
	skinMinG          = 55
	skinMaxB          = 170
	skinMaxRG         = 90
)

// Classify picks the palette a clamped pixel may be quantized to.
//
// Low-chroma pixels get black and white, except warm skin-like tones which
// also get yellow. Chromatic pixels get red when red clearly dominates and
// yellow otherwise.
func Classify(r, g, b float64) Palette {
	hi, lo := max(r, g, b), min(r, g, b)
	if hi-lo < SaturationThreshold {
		if isSkin(r, g, b) {
			return MonoYellow
		}
		return Mono
	}
	if r-max(g, b) >= RedDiffThreshold {
		return MonoRed
	}
	return MonoYellow
}

func isSkin(r, g, b float64) bool {
	brightness := (r + g + b) / 3
	return brightness > skinMinBrightness &&
		r > skinMinR &&
		g > skinMinG &&
		b < skinMaxB &&
		r-g < skinMaxRG
}

// fixedFull is the selector of the non-adaptive variant.
func fixedFull(_, _, _ float64) Palette {
	return Full
}
