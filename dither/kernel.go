package dither

import (
	"errors"
	"fmt"
)

// Tap is one error diffusion target relative to the current pixel.
type Tap struct {
	DX, DY int
	Weight float64
}

// Kernel is a fixed error diffusion kernel. Every tap points at a pixel that
// comes later in raster order, so a single top-to-bottom, left-to-right pass
// never writes to a pixel it has already finalized.
type Kernel struct {
	name string
	taps []Tap
}

var (
	// FloydSteinberg is the classic 4-tap kernel with one row of lookahead.
	FloydSteinberg = Kernel{name: "floyd-steinberg", taps: []Tap{
		{1, 0, 7.0 / 16},
		{-1, 1, 3.0 / 16},
		{0, 1, 5.0 / 16},
		{1, 1, 1.0 / 16},
	}}

	// Atkinson spreads 6/8 of the error over two rows. The remaining 2/8 is
	// dropped, which keeps highlights and shadows clean.
	Atkinson = Kernel{name: "atkinson", taps: []Tap{
		{1, 0, 1.0 / 8},
		{2, 0, 1.0 / 8},
		{-1, 1, 1.0 / 8},
		{0, 1, 1.0 / 8},
		{1, 1, 1.0 / 8},
		{0, 2, 1.0 / 8},
	}}
)

// Name returns the kernel name.
func (k Kernel) Name() string { return k.name }

// Taps returns a copy of the kernel taps.
func (k Kernel) Taps() []Tap {
	out := make([]Tap, len(k.taps))
	copy(out, k.taps)
	return out
}

// Validate checks that every tap is ahead in raster order and that the
// weights are positive and sum to at most 1.
func (k Kernel) Validate() error {
	if len(k.taps) == 0 {
		return errors.New("dither: kernel has no taps")
	}
	sum := 0.0
	for _, t := range k.taps {
		if t.DY < 0 || (t.DY == 0 && t.DX <= 0) {
			return fmt.Errorf("dither: kernel %s tap (%d,%d) is not ahead in raster order", k.name, t.DX, t.DY)
		}
		if t.Weight <= 0 {
			return fmt.Errorf("dither: kernel %s tap (%d,%d) has non-positive weight", k.name, t.DX, t.DY)
		}
		sum += t.Weight
	}
	if sum > 1+1e-9 {
		return fmt.Errorf("dither: kernel %s weights sum to %g", k.name, sum)
	}
	return nil
}

// Sum returns the total weight of the kernel.
func (k Kernel) Sum() float64 {
	sum := 0.0
	for _, t := range k.taps {
		sum += t.Weight
	}
	return sum
}

// diffuse adds err*weight to every in-bounds tap target of (x, y).
func (k Kernel) diffuse(c *Canvas, x, y int, er, eg, eb float64) {
	for _, t := range k.taps {
		tx, ty := x+t.DX, y+t.DY
		if !c.In(tx, ty) {
			continue
		}
		i := c.offset(tx, ty)
		c.Pix[i] += er * t.Weight
		c.Pix[i+1] += eg * t.Weight
		c.Pix[i+2] += eb * t.Weight
	}
}
