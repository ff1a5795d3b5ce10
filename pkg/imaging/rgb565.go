package imaging

import (
	"image"
	"image/color"
)

// Color565 is a packed 16-bit color: 5 bits red, 6 bits green, 5 bits blue.
// It is always opaque.
type Color565 uint16

// RGBA implements [color.Color]. Channels are expanded by bit replication so
// pure white maps to 0xffff.
func (c Color565) RGBA() (r, g, b, a uint32) {
	r5 := uint32(c>>11) & 0x1f
	g6 := uint32(c>>5) & 0x3f
	b5 := uint32(c) & 0x1f

	r8 := r5<<3 | r5>>2
	g8 := g6<<2 | g6>>4
	b8 := b5<<3 | b5>>2

	return r8 * 0x101, g8 * 0x101, b8 * 0x101, 0xffff
}

// RGB565Model converts any color to [Color565]. Alpha is dropped after
// premultiplication, so translucent pixels darken toward black.
var RGB565Model = color.ModelFunc(rgb565Model)

func rgb565Model(c color.Color) color.Color {
	if c, ok := c.(Color565); ok {
		return c
	}

	r, g, b, _ := c.RGBA()

	return Pack565(uint8(r>>8), uint8(g>>8), uint8(b>>8))
}

// Pack565 truncates 8-bit channels to 5-6-5.
func Pack565(r, g, b uint8) Color565 {
	return Color565(uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3))
}

// RGB565 is an in-memory image whose pixels are [Color565] values stored
// little-endian, two bytes per pixel.
type RGB565 struct {
	// Pix holds the pixels in row-major order. The pixel at (x, y) starts
	// at Pix[(y-Rect.Min.Y)*Stride + (x-Rect.Min.X)*2].
	Pix []uint8
	// Stride is the Pix stride in bytes between vertically adjacent pixels.
	Stride int
	Rect   image.Rectangle
}

// NewRGB565 returns a black image with the given bounds.
func NewRGB565(r image.Rectangle) *RGB565 {
	w, h := r.Dx(), r.Dy()

	return &RGB565{
		Pix:    make([]uint8, 2*w*h),
		Stride: 2 * w,
		Rect:   r,
	}
}

func (p *RGB565) ColorModel() color.Model { return RGB565Model }

func (p *RGB565) Bounds() image.Rectangle { return p.Rect }

func (p *RGB565) At(x, y int) color.Color { return p.RGB565At(x, y) }

// RGB565At returns the packed color at (x, y), or 0 outside the bounds.
func (p *RGB565) RGB565At(x, y int) Color565 {
	if !(image.Point{x, y}.In(p.Rect)) {
		return 0
	}

	i := p.PixOffset(x, y)

	return Color565(uint16(p.Pix[i]) | uint16(p.Pix[i+1])<<8)
}

// PixOffset returns the index of the first byte of the pixel at (x, y).
func (p *RGB565) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*2
}

// Set implements [draw.Image].
func (p *RGB565) Set(x, y int, c color.Color) {
	p.SetRGB565(x, y, RGB565Model.Convert(c).(Color565))
}

// SetRGB565 stores a packed color at (x, y). Points outside the bounds are ignored.
func (p *RGB565) SetRGB565(x, y int, c Color565) {
	if !(image.Point{x, y}.In(p.Rect)) {
		return
	}

	i := p.PixOffset(x, y)
	p.Pix[i] = uint8(c)
	p.Pix[i+1] = uint8(c >> 8)
}

// Opaque reports true; the format has no alpha channel.
func (p *RGB565) Opaque() bool { return true }

// SizeBytes returns the resident size of the pixel buffer.
func (p *RGB565) SizeBytes() int { return len(p.Pix) }
