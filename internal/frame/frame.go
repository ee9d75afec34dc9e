// Package frame defines the decoded video frame model shared by the decode
// source, the classifier, and the clip writer.
//
// Frames carry packed RGB24 pixels (3 bytes per pixel, no padding between
// channels) together with the presentation timestamp and the time base of the
// stream they were decoded from.
package frame

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"
)

// Rational is a time base: one PTS tick lasts Num/Den seconds.
type Rational struct {
	Num int64
	Den int64
}

// ParseRational parses ffprobe-style rationals such as "1/1000" or "30000/1001".
func ParseRational(value string) (Rational, error) {
	parts := strings.Split(strings.TrimSpace(value), "/")
	if len(parts) != 2 {
		return Rational{}, fmt.Errorf("invalid rational %q", value)
	}
	num, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Rational{}, fmt.Errorf("invalid rational numerator %q: %w", value, err)
	}
	den, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Rational{}, fmt.Errorf("invalid rational denominator %q: %w", value, err)
	}
	if den == 0 {
		return Rational{}, fmt.Errorf("invalid rational %q: zero denominator", value)
	}
	return Rational{Num: num, Den: den}, nil
}

// Seconds converts a tick count to seconds.
func (r Rational) Seconds(ticks int64) float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(ticks) * float64(r.Num) / float64(r.Den)
}

// IsZero reports whether the time base is unset.
func (r Rational) IsZero() bool {
	return r.Num == 0 || r.Den == 0
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Geometry describes the stream a frame belongs to. The clip writer uses it
// as the template for the output stream.
type Geometry struct {
	Width     int
	Height    int
	TimeBase  Rational
	FrameRate float64
}

// Frame is one decoded picture.
type Frame struct {
	// Index is the zero-based position of the frame within its fragment.
	Index    int
	PTS      int64
	TimeBase Rational
	Image    *RGB
}

// WithPTS returns a copy of the frame carrying a different timestamp. The
// pixel buffer is shared.
func (f Frame) WithPTS(pts int64) Frame {
	f.PTS = pts
	return f
}

// Source yields the frames of one fragment in decode order. Next returns
// io.EOF once the fragment is exhausted.
type Source interface {
	Next() (Frame, error)
	Geometry() Geometry
	Close() error
}

// Opener opens a fragment file as a frame Source.
type Opener interface {
	Open(ctx context.Context, path string) (Source, error)
}

// RGB is an in-memory image of packed 8-bit RGB pixels.
type RGB struct {
	Pix    []uint8
	Stride int
	Rect   image.Rectangle
}

var _ image.Image = (*RGB)(nil)

// NewRGB allocates a zeroed (black) image.
func NewRGB(r image.Rectangle) *RGB {
	w, h := r.Dx(), r.Dy()
	return &RGB{
		Pix:    make([]uint8, 3*w*h),
		Stride: 3 * w,
		Rect:   r,
	}
}

// FromPacked wraps a packed rgb24 buffer without copying it.
func FromPacked(pix []uint8, width, height int) (*RGB, error) {
	if len(pix) != 3*width*height {
		return nil, fmt.Errorf("rgb24 buffer is %d bytes, want %d for %dx%d", len(pix), 3*width*height, width, height)
	}
	return &RGB{Pix: pix, Stride: 3 * width, Rect: image.Rect(0, 0, width, height)}, nil
}

func (p *RGB) ColorModel() color.Model { return color.RGBAModel }

func (p *RGB) Bounds() image.Rectangle { return p.Rect }

func (p *RGB) At(x, y int) color.Color { return p.RGBAt(x, y) }

// RGBAt returns the pixel at (x, y), or transparent black outside the bounds.
func (p *RGB) RGBAt(x, y int) color.RGBA {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return color.RGBA{}
	}
	i := p.PixOffset(x, y)
	return color.RGBA{R: p.Pix[i], G: p.Pix[i+1], B: p.Pix[i+2], A: 0xff}
}

// SetRGB writes a pixel; alpha is ignored.
func (p *RGB) SetRGB(x, y int, c color.RGBA) {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return
	}
	i := p.PixOffset(x, y)
	p.Pix[i], p.Pix[i+1], p.Pix[i+2] = c.R, c.G, c.B
}

// Fill paints the whole image with one color.
func (p *RGB) Fill(c color.RGBA) {
	for y := p.Rect.Min.Y; y < p.Rect.Max.Y; y++ {
		for x := p.Rect.Min.X; x < p.Rect.Max.X; x++ {
			p.SetRGB(x, y, c)
		}
	}
}

// PixOffset returns the index of the first byte of the pixel at (x, y).
func (p *RGB) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*3
}

// Packed returns the pixels as a tightly packed rgb24 buffer, copying only
// when the stride carries padding.
func (p *RGB) Packed() []uint8 {
	w, h := p.Rect.Dx(), p.Rect.Dy()
	if p.Stride == 3*w {
		return p.Pix[:3*w*h]
	}
	out := make([]uint8, 0, 3*w*h)
	for y := 0; y < h; y++ {
		start := y * p.Stride
		out = append(out, p.Pix[start:start+3*w]...)
	}
	return out
}
