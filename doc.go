// Package epaper4 converts photos into frames for a 240×416 four-color
// (black, white, yellow, red) e-paper panel.
//
// The panel firmware fetches a single headerless file of 24,960 bytes and
// draws it as is. This package produces that file from any photo.
//
// # Pipeline
//
// Every conversion runs the same stages, in order:
//
// - Decode: JPEG, PNG, GIF, BMP, TIFF, WebP and AVIF are registered.
// - Normalize (package prep): drop alpha, rotate landscape images 90°
// counter-clockwise, shrink to fit 240×416 keeping the aspect ratio and
// center on a white canvas. Images are never enlarged.
// - Tone (package prep): auto-contrast with 0.5% clipping, saturation ×1.25,
// sharpness ×1.1, contrast ×1.05.
// - Quantize and diffuse (package dither): a raster sweep that picks a
// palette per pixel, snaps to its nearest color and pushes the error to
// pixels not yet visited.
// - Pack (package image2bit): four pixels per byte, two bits each.
//
// # Variants
//
// Two quantization variants share every other stage:
//
//	dither.Adaptive // per-pixel palette (Mono, MonoYellow, MonoRed) + Atkinson
//	dither.Classic  // fixed four-color palette + Floyd-Steinberg
//
// Adaptive keeps neutral areas free of colored speckle and reserves yellow
// and red for regions that are actually colored.
//
// # Basic Usage
//
//	conv, err := epaper4.NewConverter(nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	f, _ := os.Open("photo.jpg")
//	defer f.Close()
//
//	res, err := conv.Convert(ctx, f)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	pub, _ := epaper4.NewPublisher("out", epaper4.DefaultBinName)
//	pub.Publish(res.Frame)
//
// Publish replaces the file atomically, so a panel polling the file over
// HTTP never reads a half-written frame.
//
// # Frame Format
//
// Color codes are black=00, white=01, yellow=10, red=11. The first pixel of
// a row lives in the two most significant bits:
//
//	Black White Yellow Red → 0b00011011 = 0x1B
//
// Encode writes any pixel that is not one of the four panel colors as
// white. Set Options.Strict to get an error instead.
//
// # Related Packages
//
// - server: HTTP upload endpoint, metadata and static serving of the frame
// - inbox: directory watcher converting dropped files
// - history: sqlite log of conversions with their frames
// - panel: periph.io driver writing frames to the panel over SPI
package epaper4
