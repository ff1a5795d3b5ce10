package imaging

import "bytes"

// Kind classifies a payload.
type Kind uint8

const (
	// KindRaster is a still image decoded to pixels.
	KindRaster Kind = iota
	// KindAnimated is an animated container kept as raw bytes.
	KindAnimated
)

func (k Kind) String() string {
	switch k {
	case KindAnimated:
		return "animated"
	case KindRaster:
		return "raster"
	default:
		return "unknown"
	}
}

// gifSignature is the common prefix of GIF87a and GIF89a headers.
var gifSignature = []byte("GIF")

// IsAnimated reports whether data starts with the animated container signature.
// It never looks past the signature, so empty or truncated input is safe.
func IsAnimated(data []byte) bool {
	return bytes.HasPrefix(data, gifSignature)
}

// Classify returns [KindAnimated] for payloads accepted by [IsAnimated] and
// [KindRaster] for everything else.
func Classify(data []byte) Kind {
	if IsAnimated(data) {
		return KindAnimated
	}

	return KindRaster
}
