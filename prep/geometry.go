// Package prep fits arbitrary photos onto the fixed panel canvas and tunes
// their tone before quantization.
package prep

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/anthonynsimon/bild/transform"
)

// Background fills the letterbox margins.
var Background = color.RGBA{0xFF, 0xFF, 0xFF, 0xFF}

// Normalize returns img oriented, resized and centered on an opaque white
// w×h canvas. Landscape sources are rotated 90° counter-clockwise first.
// Sources that already fit are never upscaled.
func Normalize(img image.Image, w, h int) *image.RGBA {
	src := Opaque(img)
	if src.Rect.Dx() > src.Rect.Dy() {
		src = Rotate90(src)
	}

	sw, sh := src.Rect.Dx(), src.Rect.Dy()
	tw, th := FitSize(sw, sh, w, h)
	if tw != sw || th != sh {
		src = transform.Resize(src, tw, th, transform.Lanczos)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Rect, image.NewUniform(Background), image.Point{}, draw.Src)

	off := image.Pt((w-tw)/2, (h-th)/2)
	draw.Draw(canvas, image.Rectangle{Min: off, Max: off.Add(image.Pt(tw, th))}, src, src.Rect.Min, draw.Src)
	return canvas
}

// FitSize returns the size a sw×sh image is scaled to so that it fits in
// w×h with its aspect ratio preserved. Images that already fit keep their
// size. The free side is the floor or ceiling of the exact value, whichever
// keeps the aspect ratio closer, and never less than 1.
func FitSize(sw, sh, w, h int) (int, int) {
	if sw <= w && sh <= h {
		return sw, sh
	}
	aspect := float64(sw) / float64(sh)
	if float64(w)/float64(h) >= aspect {
		x := roundAspect(float64(h)*aspect, func(n float64) float64 {
			return math.Abs(aspect - n/float64(h))
		})
		return x, h
	}
	y := roundAspect(float64(w)/aspect, func(n float64) float64 {
		if n == 0 {
			return 0
		}
		return math.Abs(aspect - float64(w)/n)
	})
	return w, y
}

func roundAspect(v float64, dist func(float64) float64) int {
	lo, hi := math.Floor(v), math.Ceil(v)
	n := lo
	if dist(hi) < dist(lo) {
		n = hi
	}
	return max(int(n), 1)
}

// Opaque copies img into an RGBA image with origin (0, 0), dropping alpha
// without compositing.
func Opaque(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			c.A = 0xFF
			dst.SetRGBA(x-b.Min.X, y-b.Min.Y, color.RGBA(c))
		}
	}
	return dst
}

// Rotate90 returns src rotated 90° counter-clockwise. Pixels are moved, not
// resampled.
func Rotate90(src *image.RGBA) *image.RGBA {
	b := src.Rect
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for dy := 0; dy < w; dy++ {
		for dx := 0; dx < h; dx++ {
			si := src.PixOffset(b.Min.X+w-1-dy, b.Min.Y+dx)
			di := dst.PixOffset(dx, dy)
			copy(dst.Pix[di:di+4], src.Pix[si:si+4])
		}
	}
	return dst
}
