// Package imaging turns raw image payloads into immutable cache entities.
//
// Classification is pure content sniffing: payloads starting with the GIF
// signature are [KindAnimated] and kept verbatim, everything else is
// [KindRaster] and decoded into a 16-bit [RGB565] pixel buffer. The reduced
// color depth halves the resident size compared to 32-bit RGBA at the cost
// of color fidelity.
//
// # Basic Usage
//
//	dec := imaging.NewDecoder()
//	e := imaging.Build(data, dec)
//	if !e.Valid() {
//	    // malformed payload; e.Err() explains why
//	}
//
// # Weight
//
// Every entity weighs len(data), the size of the source payload, not the
// size of the decoded pixels. Memory budgets are therefore accounted in
// compressed bytes.
package imaging
