package epaper4

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"
	"testing"

	"github.com/flavioheleno/epaper4/dither"
	"github.com/flavioheleno/epaper4/image2bit"
)

func uniform(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

func classicConverter(t *testing.T) *Converter {
	t.Helper()
	c, err := NewConverter(&Options{Variant: dither.Classic, SkipTone: true})
	if err != nil {
		t.Fatalf("NewConverter() error = %v", err)
	}
	return c
}

func TestBlackSourceLetterboxed(t *testing.T) {
	tests := []struct {
		name   string
		w, h   int
		placed image.Rectangle
	}{
		{"single pixel", 1, 1, image.Rect(119, 207, 120, 208)},
		{"portrait block", 60, 100, image.Rect(90, 158, 150, 258)},
		{"full height", 120, 416, image.Rect(60, 0, 180, 416)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := classicConverter(t).ConvertImage(context.Background(), uniform(tt.w, tt.h, color.Black))
			if err != nil {
				t.Fatalf("ConvertImage() error = %v", err)
			}
			if len(res.Frame) != FrameSize {
				t.Fatalf("len(Frame) = %d, want %d", len(res.Frame), FrameSize)
			}

			got, err := image2bit.Unpack(res.Frame, Width, Height)
			if err != nil {
				t.Fatal(err)
			}
			for y := 0; y < Height; y++ {
				for x := 0; x < Width; x++ {
					want := image2bit.White
					if (image.Point{x, y}).In(tt.placed) {
						want = image2bit.Black
					}
					if c := got.Color4At(x, y); c != want {
						t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, c, want)
					}
				}
			}

			for i, b := range res.Frame {
				for shift := 0; shift < 8; shift += 2 {
					if (b>>shift)&0b10 != 0 {
						t.Fatalf("byte %d = 0x%02X holds a red or yellow pixel", i, b)
					}
				}
			}
		})
	}
}

func TestConvertDeterministic(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 300, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 300; x++ {
			src.Set(x, y, color.RGBA{uint8(x), uint8(y), uint8(x ^ y), 0xFF})
		}
	}

	for _, v := range dither.Variants() {
		t.Run(v.Name(), func(t *testing.T) {
			c, err := NewConverter(&Options{Variant: v})
			if err != nil {
				t.Fatal(err)
			}
			a, err := c.ConvertImage(context.Background(), src)
			if err != nil {
				t.Fatal(err)
			}
			b, err := c.ConvertImage(context.Background(), src)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(a.Frame, b.Frame) {
				t.Error("two conversions of the same image differ")
			}
			if a.Variant != v.Name() || a.SourceSize != (image.Point{300, 200}) {
				t.Errorf("Result = variant %q size %v", a.Variant, a.SourceSize)
			}
			// Every pixel of the quantized canvas is a panel color, so strict
			// packing must agree with lenient packing.
			strict, err := image2bit.EncodeStrict(a.Image)
			if err != nil {
				t.Fatalf("EncodeStrict() error = %v", err)
			}
			if !bytes.Equal(strict, a.Frame) {
				t.Error("strict and lenient frames differ")
			}
		})
	}
}

func TestConvertDecodesReader(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, uniform(20, 10, color.White)); err != nil {
		t.Fatal(err)
	}
	c, err := NewConverter(&Options{Strict: true})
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.Convert(context.Background(), &buf)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if res.Format != "png" {
		t.Errorf("Format = %q, want png", res.Format)
	}
	for i, b := range res.Frame {
		if b != 0x55 {
			t.Fatalf("Frame[%d] = 0x%02X, want all white 0x55", i, b)
		}
	}
}

func TestConvertDecodeError(t *testing.T) {
	c, err := NewConverter(nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Convert(context.Background(), strings.NewReader("definitely not an image"))
	if !errors.Is(err, ErrDecode) {
		t.Errorf("Convert() error = %v, want ErrDecode", err)
	}
}

func TestConvertEmptyImage(t *testing.T) {
	c, err := NewConverter(nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.ConvertImage(context.Background(), image.NewRGBA(image.Rectangle{}))
	if !errors.Is(err, ErrDecode) {
		t.Errorf("ConvertImage(empty) error = %v, want ErrDecode", err)
	}
}

func TestConvertCanceled(t *testing.T) {
	c, err := NewConverter(nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.ConvertImage(ctx, uniform(8, 8, color.White)); !errors.Is(err, context.Canceled) {
		t.Errorf("ConvertImage() error = %v, want context.Canceled", err)
	}
}

func TestNewConverterDefaults(t *testing.T) {
	c, err := NewConverter(nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.Variant().Name() != dither.Adaptive.Name() {
		t.Errorf("default variant = %s, want %s", c.Variant(), dither.Adaptive)
	}

	bad := DefaultOptions()
	bad.Tone.Saturation = -1
	if _, err := NewConverter(&bad); err == nil {
		t.Error("NewConverter() accepted a negative saturation")
	}
}

func TestEncodeFallsBackToWhite(t *testing.T) {
	img := uniform(4, 1, color.RGBA{0x12, 0x34, 0x56, 0xFF})
	if got := Encode(img); !bytes.Equal(got, []byte{0x55}) {
		t.Errorf("Encode(non-panel color) = %x, want 55", got)
	}
}
