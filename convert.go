package epaper4

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"time"

	_ "github.com/gen2brain/avif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/flavioheleno/epaper4/dither"
	"github.com/flavioheleno/epaper4/image2bit"
	"github.com/flavioheleno/epaper4/prep"
)

// Panel geometry.
const (
	Width     = 240
	Height    = 416
	FrameSize = Width / 4 * Height
)

// Frames pack 4 pixels per byte; this fails to compile if Width is not a
// multiple of 4.
var _ [0]struct{} = [Width % 4]struct{}{}

// ErrDecode is returned when the source is not a decodable image.
var ErrDecode = errors.New("epaper4: cannot decode image")

// Options is the configuration for a Converter.
type Options struct {
	Variant  dither.Variant   // Quantization variant (default: dither.Adaptive)
	Tone     prep.ToneOptions // Tone curve (default: prep.DefaultToneOptions)
	SkipTone bool             // Quantize the letterboxed canvas as is
	Strict   bool             // Fail instead of writing white for non-panel colors

	Logger *slog.Logger // Optional, slog.Default() if nil
}

// DefaultOptions returns the production configuration.
func DefaultOptions() Options {
	return Options{
		Variant: dither.Adaptive,
		Tone:    prep.DefaultToneOptions,
	}
}

// Converter runs the photo-to-frame pipeline. It holds no mutable state and
// is safe for concurrent use.
type Converter struct {
	opts Options
	log  *slog.Logger
}

// Result is the outcome of one conversion.
type Result struct {
	Frame      []byte      // Packed frame, FrameSize bytes
	Image      *image.RGBA // Quantized canvas
	Variant    string
	Format     string      // Source format name, empty for ConvertImage
	SourceSize image.Point // Source dimensions before normalization
	Duration   time.Duration
}

// NewConverter creates a Converter. opts can be nil to use DefaultOptions.
func NewConverter(opts *Options) (*Converter, error) {
	o := DefaultOptions()
	if opts != nil {
		o = *opts
	}
	if o.Variant.Name() == "" {
		o.Variant = dither.Adaptive
	}
	if o.Tone == (prep.ToneOptions{}) {
		o.Tone = prep.DefaultToneOptions
	}
	if err := o.Tone.Validate(); err != nil {
		return nil, fmt.Errorf("epaper4: %w", err)
	}
	if err := o.Variant.Kernel().Validate(); err != nil {
		return nil, fmt.Errorf("epaper4: %w", err)
	}
	log := o.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Converter{opts: o, log: log}, nil
}

// Variant returns the configured quantization variant.
func (c *Converter) Variant() dither.Variant {
	return c.opts.Variant
}

// Convert decodes r and converts it.
func (c *Converter) Convert(ctx context.Context, r io.Reader) (*Result, error) {
	img, format, err := Decode(r)
	if err != nil {
		return nil, err
	}
	res, err := c.ConvertImage(ctx, img)
	if err != nil {
		return nil, err
	}
	res.Format = format
	return res, nil
}

// ConvertImage runs the pipeline on an already decoded image. img is not
// modified. ctx is checked between stages.
func (c *Converter) ConvertImage(ctx context.Context, img image.Image) (*Result, error) {
	start := time.Now()
	size := img.Bounds().Size()
	if size.X == 0 || size.Y == 0 {
		return nil, fmt.Errorf("%w: image has no pixels", ErrDecode)
	}

	canvas := prep.Normalize(img, Width, Height)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !c.opts.SkipTone {
		canvas = prep.Enhance(canvas, c.opts.Tone)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	quantized := dither.QuantizeAndDither(canvas, c.opts.Variant)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var frame []byte
	if c.opts.Strict {
		var err error
		if frame, err = image2bit.EncodeStrict(quantized); err != nil {
			return nil, fmt.Errorf("epaper4: %w", err)
		}
	} else {
		frame = Encode(quantized)
	}

	res := &Result{
		Frame:      frame,
		Image:      quantized,
		Variant:    c.opts.Variant.Name(),
		SourceSize: size,
		Duration:   time.Since(start),
	}
	c.log.Debug("image converted",
		"variant", res.Variant,
		"source", fmt.Sprintf("%dx%d", size.X, size.Y),
		"bytes", len(frame),
		"duration", res.Duration)
	return res, nil
}

// Encode packs a quantized canvas into a panel frame. Pixels that are not
// panel colors are written as white.
func Encode(img image.Image) []byte {
	return image2bit.Encode(img)
}

// Decode reads an image in any registered format: JPEG, PNG, GIF, BMP, TIFF,
// WebP or AVIF. Failures wrap ErrDecode.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return img, format, nil
}
