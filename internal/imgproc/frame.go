// Package imgproc holds the raster operations used to fingerprint and score
// decoded video frames. Frames are packed RGB24 buffers, the layout ffmpeg
// produces for -pix_fmt rgb24.
package imgproc

import (
	"fmt"
	"image"
)

// Channels is the number of interleaved samples per pixel.
const Channels = 3

// Frame is a decoded video frame in packed RGB24 order.
type Frame struct {
	Index  int
	Width  int
	Height int
	Pix    []byte
}

// NewFrame allocates a black frame of the given size
func NewFrame(width, height int) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		Pix:    make([]byte, width*height*Channels),
	}
}

// FrameSize returns the byte size of one rgb24 frame
func FrameSize(width, height int) int {
	return width * height * Channels
}

// Validate checks that the buffer matches the declared dimensions.
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame dimensions %dx%d", f.Width, f.Height)
	}
	if len(f.Pix) != FrameSize(f.Width, f.Height) {
		return fmt.Errorf("frame buffer is %d bytes, want %d", len(f.Pix), FrameSize(f.Width, f.Height))
	}
	return nil
}

// Fill paints every pixel with one color
func (f *Frame) Fill(r, g, b uint8) {
	for i := 0; i < len(f.Pix); i += Channels {
		f.Pix[i] = r
		f.Pix[i+1] = g
		f.Pix[i+2] = b
	}
}

// Set writes a single pixel
func (f *Frame) Set(x, y int, r, g, b uint8) {
	i := (y*f.Width + x) * Channels
	f.Pix[i] = r
	f.Pix[i+1] = g
	f.Pix[i+2] = b
}

// NRGBA converts the frame to an opaque image.NRGBA for encoders and resizers.
func (f *Frame) NRGBA() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	src, dst := f.Pix, img.Pix
	for i, j := 0, 0; i < len(src); i, j = i+Channels, j+4 {
		dst[j] = src[i]
		dst[j+1] = src[i+1]
		dst[j+2] = src[i+2]
		dst[j+3] = 0xff
	}
	return img
}

// Crop copies the part of the frame inside r, clipped to the frame bounds.
func (f *Frame) Crop(r image.Rectangle) *Frame {
	r = r.Intersect(image.Rect(0, 0, f.Width, f.Height))
	if r.Empty() {
		return nil
	}
	out := NewFrame(r.Dx(), r.Dy())
	out.Index = f.Index
	rowBytes := r.Dx() * Channels
	for y := 0; y < r.Dy(); y++ {
		srcOff := ((r.Min.Y+y)*f.Width + r.Min.X) * Channels
		copy(out.Pix[y*rowBytes:(y+1)*rowBytes], f.Pix[srcOff:srcOff+rowBytes])
	}
	return out
}
