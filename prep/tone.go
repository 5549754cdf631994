package prep

import (
	"errors"
	"image"
	"image/color"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/anthonynsimon/bild/convolution"
	"github.com/anthonynsimon/bild/histogram"
)

// ToneOptions controls Enhance. A factor of 1 leaves that step out.
type ToneOptions struct {
	ClipPercent float64 // Histogram share trimmed from each end by auto-contrast (percent)
	Saturation  float64 // Color factor around the per-pixel gray value
	Sharpness   float64 // Blend factor against a smoothed copy
	Contrast    float64 // Contrast factor around mid-gray
}

// DefaultToneOptions is the production tone curve.
var DefaultToneOptions = ToneOptions{
	ClipPercent: 0.5,
	Saturation:  1.25,
	Sharpness:   1.1,
	Contrast:    1.05,
}

// Validate reports option values that cannot produce a sensible image.
func (o ToneOptions) Validate() error {
	if o.ClipPercent < 0 || o.ClipPercent >= 50 {
		return errors.New("prep: clip percent must be in [0, 50)")
	}
	if o.Saturation < 0 || o.Sharpness < 0 || o.Contrast < 0 {
		return errors.New("prep: tone factors must not be negative")
	}
	return nil
}

// Enhance applies auto-contrast, saturation, sharpening and contrast, in
// that order. img is not modified.
func Enhance(img image.Image, o ToneOptions) *image.RGBA {
	out := AutoContrast(img, o.ClipPercent)
	if o.Saturation != 1 {
		out = Saturate(out, o.Saturation)
	}
	if o.Sharpness != 1 {
		out = Sharpen(out, o.Sharpness)
	}
	if o.Contrast != 1 {
		out = adjust.Contrast(out, o.Contrast-1)
	}
	return out
}

// AutoContrast stretches every channel to the full 0-255 range after
// ignoring clipPercent of the histogram at each end.
func AutoContrast(img image.Image, clipPercent float64) *image.RGBA {
	hist := histogram.NewRGBAHistogram(img)
	lutR := stretchLUT(hist.R.Bins, clipPercent)
	lutG := stretchLUT(hist.G.Bins, clipPercent)
	lutB := stretchLUT(hist.B.Bins, clipPercent)
	return adjust.Apply(img, func(c color.RGBA) color.RGBA {
		return color.RGBA{lutR[c.R], lutG[c.G], lutB[c.B], c.A}
	})
}

func stretchLUT(bins []int, clipPercent float64) [256]uint8 {
	var h [256]int
	n := 0
	for i := 0; i < len(bins) && i < 256; i++ {
		h[i] = bins[i]
		n += bins[i]
	}

	cut := int(float64(n) * clipPercent / 100)
	for lo := 0; lo < 256 && cut > 0; lo++ {
		if cut > h[lo] {
			cut -= h[lo]
			h[lo] = 0
		} else {
			h[lo] -= cut
			cut = 0
		}
	}
	cut = int(float64(n) * clipPercent / 100)
	for hi := 255; hi >= 0 && cut > 0; hi-- {
		if cut > h[hi] {
			cut -= h[hi]
			h[hi] = 0
		} else {
			h[hi] -= cut
			cut = 0
		}
	}

	lo, hi := 0, 255
	for lo < 256 && h[lo] == 0 {
		lo++
	}
	for hi >= 0 && h[hi] == 0 {
		hi--
	}

	var lut [256]uint8
	if hi <= lo {
		for i := range lut {
			lut[i] = uint8(i)
		}
		return lut
	}
	// Truncates like PIL; hi maps to exactly 255.
	span := float64(hi - lo)
	for i := range lut {
		v := int(float64((i-lo)*255) / span)
		lut[i] = uint8(min(max(v, 0), 255))
	}
	return lut
}

// Saturate scales every pixel's distance from its own luma by factor.
func Saturate(img image.Image, factor float64) *image.RGBA {
	return adjust.Apply(img, func(c color.RGBA) color.RGBA {
		gray := luma(c)
		return color.RGBA{
			R: blend(gray, float64(c.R), factor),
			G: blend(gray, float64(c.G), factor),
			B: blend(gray, float64(c.B), factor),
			A: c.A,
		}
	})
}

// Sharpen extrapolates img away from a smoothed copy of itself. A factor of
// 1 returns an unchanged copy and 0 returns the smoothed image.
//
// The smoothing kernel is [1 1 1; 1 5 1; 1 1 1]/13; smoothing and blending
// collapse into a single convolution.
func Sharpen(img image.Image, factor float64) *image.RGBA {
	edge := (1 - factor) / 13
	k := &convolution.Kernel{
		Matrix: []float64{
			edge, edge, edge,
			edge, factor + 5*edge, edge,
			edge, edge, edge,
		},
		Width:  3,
		Height: 3,
	}
	// Convolve truncates; the 0.5 bias makes it round to nearest.
	return convolution.Convolve(img, k, &convolution.Options{Bias: 0.5, KeepAlpha: true})
}

// luma is the ITU-R 601-2 transform used for the gray axis.
func luma(c color.RGBA) float64 {
	return float64(c.R)*0.299 + float64(c.G)*0.587 + float64(c.B)*0.114
}

func blend(base, v, factor float64) uint8 {
	out := base + factor*(v-base)
	if out < 0 {
		return 0
	}
	if out > 255 {
		return 255
	}
	return uint8(out + 0.5)
}
