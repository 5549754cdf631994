package dither

import (
	"bytes"
	"image"
	"image/color"
	"math"
	"math/rand"
	"testing"

	"github.com/flavioheleno/epaper4/image2bit"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		r, g, b float64
		want    Palette
	}{
		{"black", 0, 0, 0, Mono},
		{"white", 255, 255, 255, Mono},
		{"mid gray passes skin test", 128, 128, 128, MonoYellow},
		{"light gray", 200, 200, 200, Mono}, // b >= 170
		{"cold gray", 200, 200, 220, Mono},
		{"skin", 190, 165, 140, MonoYellow},
		{"dark warm not skin", 60, 50, 40, Mono},
		{"pure red", 255, 0, 0, MonoRed},
		{"red edge", 128, 100, 60, MonoRed},                 // chroma 68, r-max(g,b) = 28
		{"orange below red diff", 200, 180, 40, MonoYellow}, // r-g = 20
		{"pure yellow", 255, 255, 0, MonoYellow},
		{"blue", 20, 40, 200, MonoYellow},
		{"chroma just below threshold", 100, 100, 46, MonoYellow}, // chroma 54, skin
		{"chroma just below threshold cold", 46, 100, 100, Mono},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.r, tt.g, tt.b); got.Name() != tt.want.Name() {
				t.Errorf("Classify(%v, %v, %v) = %v, want %v", tt.r, tt.g, tt.b, got, tt.want)
			}
		})
	}
}

func TestClassifyTotal(t *testing.T) {
	// The adaptive selector never hands out the four-color palette.
	known := map[string]bool{Mono.Name(): true, MonoYellow.Name(): true, MonoRed.Name(): true}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100000; i++ {
		r, g, b := float64(rng.Intn(256)), float64(rng.Intn(256)), float64(rng.Intn(256))
		p := Classify(r, g, b)
		if !known[p.Name()] || p.Len() < 2 {
			t.Fatalf("Classify(%v, %v, %v) = %q (len %d), want a two or three color palette", r, g, b, p.Name(), p.Len())
		}
	}
}

func TestNearest(t *testing.T) {
	tests := []struct {
		name    string
		p       Palette
		r, g, b float64
		want    image2bit.Color4
	}{
		{"dark to black", Mono, 40, 40, 40, image2bit.Black},
		{"light to white", Mono, 200, 200, 200, image2bit.White},
		{"tie goes first", Mono, 127.5, 127.5, 127.5, image2bit.Black},
		{"red", MonoRed, 230, 30, 20, image2bit.Red},
		{"yellow", MonoYellow, 230, 220, 30, image2bit.Yellow},
		{"full prefers red over yellow at tie", Full, 255, 127.5, 0, image2bit.Red},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Nearest(tt.p, tt.r, tt.g, tt.b); got != tt.want {
				t.Errorf("Nearest(%v, %v, %v, %v) = %v, want %v", tt.p, tt.r, tt.g, tt.b, got, tt.want)
			}
		})
	}
}

func TestPaletteColorsCopy(t *testing.T) {
	c := Full.Colors()
	c[0] = image2bit.Red
	if Full.Colors()[0] != image2bit.Black {
		t.Error("Colors() exposes the palette backing array")
	}
}

func TestKernels(t *testing.T) {
	tests := []struct {
		k       Kernel
		taps    int
		wantSum float64
	}{
		{FloydSteinberg, 4, 1},
		{Atkinson, 6, 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.k.Name(), func(t *testing.T) {
			if err := tt.k.Validate(); err != nil {
				t.Fatalf("Validate() = %v", err)
			}
			if n := len(tt.k.Taps()); n != tt.taps {
				t.Errorf("len(Taps()) = %d, want %d", n, tt.taps)
			}
			if s := tt.k.Sum(); math.Abs(s-tt.wantSum) > 1e-12 {
				t.Errorf("Sum() = %v, want %v", s, tt.wantSum)
			}
		})
	}
}

func TestKernelValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		k    Kernel
	}{
		{"empty", Kernel{name: "empty"}},
		{"backwards row", Kernel{name: "up", taps: []Tap{{0, -1, 0.5}}}},
		{"left on same row", Kernel{name: "left", taps: []Tap{{-1, 0, 0.5}}}},
		{"self", Kernel{name: "self", taps: []Tap{{0, 0, 0.5}}}},
		{"overweight", Kernel{name: "heavy", taps: []Tap{{1, 0, 0.75}, {0, 1, 0.5}}}},
		{"zero weight", Kernel{name: "zero", taps: []Tap{{1, 0, 0}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.k.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

// Every diffusion target must come strictly after the source in raster
// order, so the sweep never touches a finalized pixel.
func TestDiffuseOnlyTouchesUnvisited(t *testing.T) {
	const w, h = 7, 5
	for _, v := range Variants() {
		t.Run(v.Name(), func(t *testing.T) {
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					c := NewCanvas(w, h)
					v.kernel.diffuse(c, x, y, 1, 1, 1)
					for ty := 0; ty < h; ty++ {
						for tx := 0; tx < w; tx++ {
							r, _, _ := c.At(tx, ty)
							if r != 0 && ty*w+tx <= y*w+x {
								t.Fatalf("diffuse from (%d,%d) wrote visited pixel (%d,%d)", x, y, tx, ty)
							}
						}
					}
				}
			}
		})
	}
}

func TestParseVariant(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "adaptive", false},
		{"adaptive", "adaptive", false},
		{" Classic ", "classic", false},
		{"bayer", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, err := ParseVariant(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseVariant(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && v.Name() != tt.want {
				t.Errorf("ParseVariant(%q) = %v, want %v", tt.in, v, tt.want)
			}
		})
	}
}

func noiseImage(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	rng.Read(img.Pix)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xFF
	}
	return img
}

func TestQuantizeAndDitherPaletteClosure(t *testing.T) {
	src := noiseImage(40, 30, 7)
	for _, v := range Variants() {
		t.Run(v.Name(), func(t *testing.T) {
			out := QuantizeAndDither(src, v)
			for y := 0; y < 30; y++ {
				for x := 0; x < 40; x++ {
					c := out.RGBAAt(x, y)
					if _, ok := image2bit.Lookup(c.R, c.G, c.B); !ok || c.A != 0xFF {
						t.Fatalf("pixel (%d,%d) = %v, not a panel color", x, y, c)
					}
				}
			}
		})
	}
}

func TestQuantizeAndDitherDeterministic(t *testing.T) {
	src := noiseImage(24, 16, 3)
	for _, v := range Variants() {
		a := QuantizeAndDither(src, v)
		b := QuantizeAndDither(src, v)
		if !bytes.Equal(a.Pix, b.Pix) {
			t.Errorf("%v: repeated runs differ", v)
		}
	}
}

func TestQuantizeAndDitherLeavesInput(t *testing.T) {
	src := noiseImage(8, 8, 11)
	before := append([]byte(nil), src.Pix...)
	QuantizeAndDither(src, Adaptive)
	if !bytes.Equal(before, src.Pix) {
		t.Error("QuantizeAndDither modified its input")
	}
}

func TestSweepUniform(t *testing.T) {
	tests := []struct {
		name string
		in   color.RGBA
		v    Variant
		want image2bit.Color4
	}{
		{"black classic", color.RGBA{0, 0, 0, 255}, Classic, image2bit.Black},
		{"white classic", color.RGBA{255, 255, 255, 255}, Classic, image2bit.White},
		{"red adaptive", color.RGBA{255, 0, 0, 255}, Adaptive, image2bit.Red},
		{"yellow adaptive", color.RGBA{255, 255, 0, 255}, Adaptive, image2bit.Yellow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := image.NewRGBA(image.Rect(0, 0, 12, 6))
			for i := 0; i < len(src.Pix); i += 4 {
				src.Pix[i], src.Pix[i+1], src.Pix[i+2], src.Pix[i+3] = tt.in.R, tt.in.G, tt.in.B, tt.in.A
			}
			out := QuantizeAndDither(src, tt.v)
			wr, wg, wb := tt.want.RGB()
			for i := 0; i < len(out.Pix); i += 4 {
				if out.Pix[i] != wr || out.Pix[i+1] != wg || out.Pix[i+2] != wb {
					t.Fatalf("pixel %d = %v, want %v", i/4, out.Pix[i:i+3], tt.want)
				}
			}
		})
	}
}

func TestSweepKeepsAverageTone(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i], src.Pix[i+1], src.Pix[i+2], src.Pix[i+3] = 128, 128, 128, 255
	}
	out := QuantizeAndDither(src, Classic)
	white := 0
	for i := 0; i < len(out.Pix); i += 4 {
		if out.Pix[i] == 255 && out.Pix[i+2] == 255 {
			white++
		}
	}
	ratio := float64(white) / float64(64*64)
	if ratio < 0.4 || ratio > 0.6 {
		t.Errorf("white ratio for mid gray = %.2f, want about 0.5", ratio)
	}
}

func TestToPacked(t *testing.T) {
	src := noiseImage(16, 4, 5)
	p := ToPacked(src, Adaptive)
	want := image2bit.Encode(QuantizeAndDither(src, Adaptive))
	if !bytes.Equal(p.Pix, want) {
		t.Error("ToPacked() differs from Encode(QuantizeAndDither())")
	}
}

func TestCanvasFromGeneric(t *testing.T) {
	src := image.NewNRGBA(image.Rect(5, 5, 7, 6))
	src.Set(5, 5, color.NRGBA{10, 20, 30, 255})
	src.Set(6, 5, color.NRGBA{200, 100, 0, 255})
	c := CanvasFrom(src)
	if c.W != 2 || c.H != 1 {
		t.Fatalf("CanvasFrom() size = %dx%d, want 2x1", c.W, c.H)
	}
	if r, g, b := c.At(1, 0); r != 200 || g != 100 || b != 0 {
		t.Errorf("At(1, 0) = (%v, %v, %v), want (200, 100, 0)", r, g, b)
	}
	clone := c.Clone()
	clone.Set(0, 0, 1, 1, 1)
	if r, _, _ := c.At(0, 0); r != 10 {
		t.Errorf("Clone() shares storage: At(0, 0).r = %v, want 10", r)
	}
}
