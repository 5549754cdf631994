// Package panel drives a four-color (black, white, yellow, red) e-paper
// panel via SPI.
//
// The controller accepts frames in the image2bit layout unchanged, so a
// frame produced by epaper4.Encode can be written directly with Write.
//
// See the examples for how to use this package.
package panel

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	"github.com/flavioheleno/epaper4/dither"
	"github.com/flavioheleno/epaper4/image2bit"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

var (
	// ErrHalted is returned by every operation after Halt.
	ErrHalted = errors.New("panel: halted")
	// ErrBufferSize is returned by Write for a frame of the wrong length.
	ErrBufferSize = errors.New("panel: invalid buffer size")
	// ErrBusyTimeout is returned when the controller stays busy too long.
	ErrBusyTimeout = errors.New("panel: busy timeout")
)

// Controller commands.
const (
	cmdPanelSetting  = 0x00
	cmdPowerSetting  = 0x01
	cmdPowerOff      = 0x02
	cmdPowerOn       = 0x04
	cmdBoosterSoft   = 0x06
	cmdDeepSleep     = 0x07
	cmdDataStart     = 0x10
	cmdRefresh       = 0x12
	cmdVCOMInterval  = 0x50
	cmdTCON          = 0x60
	cmdResolution    = 0x61
	cmdPowerSaving   = 0xE3
	cmdDeepSleepMark = 0xA5
)

const defaultMaxTx = 4096

var _ display.Drawer = (*Dev)(nil)

// Opts is the configuration for the panel.
type Opts struct {
	// Panel dimensions in pixels
	W int // Width (default: 240, must be a multiple of 4 and ≤1024)
	H int // Height (default: 416, must be ≤1024)

	// Optional control pins
	RST  gpio.PinIO // Reset pin (nil if not wired)
	Busy gpio.PinIn // Busy pin, low while the controller works (nil: fixed delays)

	BusyTimeout time.Duration  // Longest wait on Busy (default: 40s, a full refresh takes ~20s)
	Variant     dither.Variant // Used by Draw for images that are not already packed
}

// Dev is the device handle for the panel.
type Dev struct {
	// Communication
	c    conn.Conn
	dc   gpio.PinOut
	rst  gpio.PinIO
	busy gpio.PinIn

	rect        image.Rectangle
	maxTx       int
	busyTimeout time.Duration
	variant     dither.Variant

	// Last frame sent to the panel
	buffer []byte

	halted bool
}

// NewSPI creates a new panel device connected via SPI.
//
// The SPI port is configured for 4MHz, Mode0, 8-bit transfers. The dc
// (Data/Command) GPIO pin must be provided and configured as an output.
//
// opts can be nil to use defaults (240x416 panel).
func NewSPI(p spi.Port, dc gpio.PinOut, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &Opts{W: 240, H: 416}
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	c, err := p.Connect(4*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("panel: connect: %w", err)
	}

	d := newDev(c, dc, opts)
	if err := d.init(); err != nil {
		return nil, err
	}
	return d, nil
}

func (o *Opts) validate() error {
	if o.W <= 0 || o.W%4 != 0 || o.W > 1024 {
		return errors.New("panel: width must be a multiple of 4 between 4 and 1024")
	}
	if o.H <= 0 || o.H > 1024 {
		return errors.New("panel: height must be between 1 and 1024")
	}
	return nil
}

func newDev(c conn.Conn, dc gpio.PinOut, opts *Opts) *Dev {
	d := &Dev{
		c:           c,
		dc:          dc,
		rst:         opts.RST,
		busy:        opts.Busy,
		rect:        image.Rect(0, 0, opts.W, opts.H),
		maxTx:       defaultMaxTx,
		busyTimeout: opts.BusyTimeout,
		variant:     opts.Variant,
		buffer:      make([]byte, image2bit.FrameSize(opts.W, opts.H)),
	}
	if l, ok := c.(conn.Limits); ok && l.MaxTxSize() > 0 {
		d.maxTx = l.MaxTxSize()
	}
	if d.busyTimeout <= 0 {
		d.busyTimeout = 40 * time.Second
	}
	if d.variant.Name() == "" {
		d.variant = dither.Adaptive
	}
	return d
}

// init resets the controller and sends the power and panel setup.
func (d *Dev) init() error {
	if d.rst != nil {
		for _, l := range []gpio.Level{gpio.High, gpio.Low, gpio.High} {
			if err := d.rst.Out(l); err != nil {
				return fmt.Errorf("panel: failed to drive RST: %w", err)
			}
			time.Sleep(20 * time.Millisecond)
		}
	}
	if err := d.waitIdle(); err != nil {
		return err
	}

	w, h := d.rect.Dx(), d.rect.Dy()
	seq := [][]byte{
		{cmdPowerSaving, 0xFF},
		{cmdPanelSetting, 0x4F, 0x6B},
		{cmdPowerSetting, 0x0F, 0x00},
		{cmdBoosterSoft, 0xD7, 0xDE, 0x12},
		{cmdResolution, byte(w >> 8), byte(w), byte(h >> 8), byte(h)},
		{cmdVCOMInterval, 0x37},
		{cmdTCON, 0x0C, 0x05},
	}
	for _, s := range seq {
		if err := d.sendCommand(s[0], s[1:]...); err != nil {
			return err
		}
	}
	return nil
}

// waitIdle blocks until Busy goes high. Without a busy pin it sleeps for a
// conservative fixed time.
func (d *Dev) waitIdle() error {
	if d.busy == nil {
		time.Sleep(100 * time.Millisecond)
		return nil
	}
	deadline := time.Now().Add(d.busyTimeout)
	for d.busy.Read() == gpio.Low {
		if time.Now().After(deadline) {
			return ErrBusyTimeout
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

// sendCommand sends a command byte followed by its parameters.
func (d *Dev) sendCommand(cmd byte, params ...byte) error {
	if err := d.dc.Out(gpio.Low); err != nil {
		return err
	}
	if err := d.c.Tx([]byte{cmd}, nil); err != nil {
		return err
	}
	if len(params) == 0 {
		return nil
	}
	return d.sendData(params)
}

// sendData sends data bytes, split to the bus transfer limit.
func (d *Dev) sendData(data []byte) error {
	if err := d.dc.Out(gpio.High); err != nil {
		return err
	}
	for len(data) > 0 {
		n := min(len(data), d.maxTx)
		if err := d.c.Tx(data[:n], nil); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// writeFrame uploads a full frame and runs a refresh cycle.
func (d *Dev) writeFrame(pixels []byte) error {
	if err := d.sendCommand(cmdPowerOn); err != nil {
		return err
	}
	if err := d.waitIdle(); err != nil {
		return err
	}
	if err := d.sendCommand(cmdDataStart, pixels...); err != nil {
		return err
	}
	if err := d.sendCommand(cmdRefresh, 0x00); err != nil {
		return err
	}
	if err := d.waitIdle(); err != nil {
		return err
	}
	if err := d.sendCommand(cmdPowerOff, 0x00); err != nil {
		return err
	}
	if err := d.waitIdle(); err != nil {
		return err
	}
	copy(d.buffer, pixels)
	return nil
}

// ColorModel returns the color model of the panel.
func (d *Dev) ColorModel() color.Model {
	return image2bit.Model
}

// Bounds returns the image bounds of the panel.
func (d *Dev) Bounds() image.Rectangle {
	return d.rect
}

// Write writes a packed frame to the panel and refreshes it.
// The data must be exactly W/4*H bytes.
func (d *Dev) Write(pixels []byte) (int, error) {
	if d.halted {
		return 0, ErrHalted
	}
	if len(pixels) != len(d.buffer) {
		return 0, ErrBufferSize
	}
	if err := d.writeFrame(pixels); err != nil {
		return 0, err
	}
	return len(pixels), nil
}

// Draw draws src onto the panel and refreshes it. The panel has no partial
// refresh, so the rest of the frame is redrawn with its current content.
//
// Packed images covering the whole panel are sent as is; anything else is
// quantized with the configured variant.
func (d *Dev) Draw(dst image.Rectangle, src image.Image, sp image.Point) error {
	if d.halted {
		return ErrHalted
	}

	dst = dst.Intersect(d.rect)
	if dst.Empty() {
		return nil
	}

	if srcImg, ok := src.(*image2bit.Packed); ok {
		if dst == d.rect && sp == srcImg.Rect.Min && srcImg.Rect.Size() == d.rect.Size() {
			return d.writeFrame(srcImg.Pix)
		}
	}

	frame, err := d.compose(dst, src, sp)
	if err != nil {
		return err
	}
	return d.writeFrame(frame.Pix)
}

// compose renders src over the last frame sent.
func (d *Dev) compose(dst image.Rectangle, src image.Image, sp image.Point) (*image2bit.Packed, error) {
	current, err := image2bit.Unpack(d.buffer, d.rect.Dx(), d.rect.Dy())
	if err != nil {
		return nil, err
	}
	canvas := image.NewRGBA(d.rect)
	draw.Draw(canvas, d.rect, current, image.Point{}, draw.Src)
	draw.Draw(canvas, dst, src, sp, draw.Src)
	return dither.ToPacked(canvas, d.variant), nil
}

// Clear fills the panel with a single color.
func (d *Dev) Clear(c image2bit.Color4) error {
	if d.halted {
		return ErrHalted
	}
	b := byte(c & 0x03)
	fill := b<<6 | b<<4 | b<<2 | b
	frame := make([]byte, len(d.buffer))
	for i := range frame {
		frame[i] = fill
	}
	return d.writeFrame(frame)
}

// Frame returns a copy of the last frame sent to the panel.
func (d *Dev) Frame() []byte {
	out := make([]byte, len(d.buffer))
	copy(out, d.buffer)
	return out
}

// Halt puts the controller into deep sleep.
// After calling Halt, the panel needs a hardware reset before it responds
// again; the image stays visible.
func (d *Dev) Halt() error {
	if d.halted {
		return nil
	}
	d.halted = true
	return d.sendCommand(cmdDeepSleep, cmdDeepSleepMark)
}

// String returns a string representation of the device.
func (d *Dev) String() string {
	return fmt.Sprintf("panel.Dev{%dx%d}", d.rect.Dx(), d.rect.Dy())
}
