package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG
	_ "image/png"  // register PNG

	_ "golang.org/x/image/bmp"  // register BMP
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register WebP
)

// ErrDecode wraps every failure to turn raster bytes into pixels.
var ErrDecode = errors.New("imaging: decode")

// Decoder turns raster payload bytes into pixels.
//
// Implementations must be safe for concurrent use. The cache treats the
// decoder as pluggable so platform codecs can replace [RGB565Decoder].
type Decoder interface {
	Decode(data []byte) (image.Image, error)
}

// DecoderFunc adapts a function to [Decoder].
type DecoderFunc func(data []byte) (image.Image, error)

// Decode calls f(data).
func (f DecoderFunc) Decode(data []byte) (image.Image, error) { return f(data) }

// DefaultMaxPixels is the pixel cap set by [NewDecoder], about 5800x5800.
const DefaultMaxPixels = 1 << 25

// RGB565Decoder decodes PNG, JPEG, WebP and BMP payloads into [*RGB565].
type RGB565Decoder struct {
	// MaxDimension bounds the longer side of the decoded image. Larger images
	// are scaled down preserving aspect ratio. Zero disables scaling.
	MaxDimension int

	// MaxPixels rejects images whose header declares more pixels, before any
	// pixel buffer is allocated. Zero means no limit.
	MaxPixels int64
}

// NewDecoder returns an [RGB565Decoder] that keeps the source dimensions and
// rejects images above [DefaultMaxPixels].
func NewDecoder() *RGB565Decoder {
	return &RGB565Decoder{MaxPixels: DefaultMaxPixels}
}

// Decode implements [Decoder].
func (d *RGB565Decoder) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	if d.MaxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > d.MaxPixels {
		return nil, fmt.Errorf("%w: %s image is %dx%d, over the %d pixel limit",
			ErrDecode, format, cfg.Width, cfg.Height, d.MaxPixels)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	bounds := src.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("%w: %s image has no pixels", ErrDecode, format)
	}

	target := d.targetRect(bounds)
	dst := NewRGB565(target)

	if target.Size() == bounds.Size() {
		draw.Draw(dst, target, src, bounds.Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(dst, target, src, bounds, draw.Src, nil)
	}

	return dst, nil
}

// targetRect returns the decoded bounds anchored at the origin.
func (d *RGB565Decoder) targetRect(src image.Rectangle) image.Rectangle {
	w, h := src.Dx(), src.Dy()

	if d.MaxDimension > 0 && max(w, h) > d.MaxDimension {
		if w >= h {
			h = max(1, h*d.MaxDimension/w)
			w = d.MaxDimension
		} else {
			w = max(1, w*d.MaxDimension/h)
			h = d.MaxDimension
		}
	}

	return image.Rect(0, 0, w, h)
}
