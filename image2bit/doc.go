// Package image2bit provides the 2-bit four-color image format consumed by
// black/white/yellow/red e-paper panels.
//
// Each pixel is one of four colors encoded on two bits:
//
//	Black  0b00
//	White  0b01
//	Yellow 0b10
//	Red    0b11
//
// Pixels are stored four per byte, left to right, most significant bits
// first. Memory layout example for a 4-pixel row:
//
//	Pixels: 0      1      2       3
//	Colors: Black  White  Yellow  Red
//	Codes:  00     01     10      11
//	Byte:   0b00011011 = 0x1B
//
// The format carries no header: a frame for a W×H panel is exactly W/4*H
// bytes and the geometry is known to both producer and consumer.
//
// This package provides:
//
// - Color4: the four-color color type
// - Model: a color model mapping any color to the nearest of the four
// - Packed: an image.Image backed by the packed byte layout
// - Encode, EncodeStrict and Unpack to convert between RGB images and frames
//
// Example usage:
//
//	// Create a 240x416 frame
//	img := image2bit.NewPacked(image.Rect(0, 0, 240, 416))
//
//	// Set a pixel to red
//	img.SetColor4(10, 20, image2bit.Red)
//
//	// Raw bytes ready for the panel
//	frame := img.Pix
package image2bit
