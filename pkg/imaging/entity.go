package imaging

import (
	"image"
	"slices"
)

// Entity is the cached representation of one image payload.
//
// An Entity is immutable once built. Animated entities carry the raw payload;
// raster entities carry decoded pixels. A raster entity whose decode failed
// has no pixels and reports Valid() == false.
type Entity struct {
	kind    Kind
	raw     []byte
	pixels  image.Image
	reduced bool
	weight  int64
	err     error
}

// Kind returns the payload classification.
func (e *Entity) Kind() Kind { return e.kind }

// Animated reports whether the entity holds a verbatim animated payload.
func (e *Entity) Animated() bool { return e.kind == KindAnimated }

// Raw returns a copy of the verbatim payload of an animated entity, or nil
// for raster entities.
func (e *Entity) Raw() []byte { return slices.Clone(e.raw) }

// RawLen returns the length of the verbatim payload without copying it.
func (e *Entity) RawLen() int { return len(e.raw) }

// Pixels returns the decoded image of a raster entity, or nil. The image is
// shared between all readers of the entity and must not be modified.
func (e *Entity) Pixels() image.Image { return e.pixels }

// ReducedColorDepth reports whether Pixels was decoded at 16 bits per pixel.
func (e *Entity) ReducedColorDepth() bool { return e.reduced }

// Weight is the memory accounting weight: the length of the source payload.
func (e *Entity) Weight() int64 { return e.weight }

// Valid reports whether the entity carries a usable payload.
func (e *Entity) Valid() bool {
	if e.kind == KindAnimated {
		return e.raw != nil
	}

	return e.pixels != nil
}

// Err returns the decode error for an invalid raster entity.
func (e *Entity) Err() error { return e.err }

// Builder assembles an [Entity].
//
//	e := imaging.NewBuilder(int64(len(data))).Animated(true).Raw(data).Build()
type Builder struct {
	e Entity
}

// NewBuilder starts an entity whose weight is sizeHint. Negative hints are
// clamped to zero.
func NewBuilder(sizeHint int64) *Builder {
	return &Builder{e: Entity{weight: max(sizeHint, 0)}}
}

// Animated sets the entity kind.
func (b *Builder) Animated(animated bool) *Builder {
	if animated {
		b.e.kind = KindAnimated
	} else {
		b.e.kind = KindRaster
	}

	return b
}

// Raw sets the verbatim payload. The bytes are copied.
func (b *Builder) Raw(data []byte) *Builder {
	b.e.raw = slices.Clone(data)
	if b.e.raw == nil {
		b.e.raw = []byte{}
	}

	return b
}

// Pixels sets the decoded image. A [*RGB565] image marks the entity as
// reduced color depth.
func (b *Builder) Pixels(img image.Image) *Builder {
	b.e.pixels = img
	_, b.e.reduced = img.(*RGB565)

	return b
}

// DecodeErr records why Pixels is absent.
func (b *Builder) DecodeErr(err error) *Builder {
	b.e.err = err

	return b
}

// Build returns the entity. Raw bytes are dropped for raster entities and
// pixels for animated ones, so the result always matches its kind.
func (b *Builder) Build() *Entity {
	e := b.e

	switch e.kind {
	case KindAnimated:
		e.pixels, e.reduced, e.err = nil, false, nil
	case KindRaster:
		e.raw = nil
	}

	return &e
}

// Build classifies data and produces its entity, decoding raster payloads
// with dec. It never fails: a decode failure yields an invalid entity whose
// Err explains the failure.
func Build(data []byte, dec Decoder) *Entity {
	kind := Classify(data)
	b := NewBuilder(int64(len(data))).Animated(kind == KindAnimated)

	if kind == KindAnimated {
		return b.Raw(data).Build()
	}

	img, err := dec.Decode(data)
	if err != nil {
		return b.DecodeErr(err).Build()
	}

	return b.Pixels(img).Build()
}
