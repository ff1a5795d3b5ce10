// Package testutil holds helpers shared by fuzz tests.
package testutil

// ByteStream turns fuzz input into a deterministic sequence of decisions.
//
// Reads past the end return zero values, so the same input always yields the
// same sequence and a short input simply selects the first choice everywhere.
type ByteStream struct {
	bytes []byte
	pos   int
}

// NewByteStream creates a stream over b.
func NewByteStream(b []byte) *ByteStream {
	return &ByteStream{bytes: b}
}

// HasMore is false once every input byte has been consumed.
func (s *ByteStream) HasMore() bool {
	return s.pos < len(s.bytes)
}

// NextByte consumes one byte. An exhausted stream yields 0.
func (s *ByteStream) NextByte() byte {
	if s.pos >= len(s.bytes) {
		return 0
	}

	v := s.bytes[s.pos]
	s.pos++

	return v
}

// NextInt returns a value in [0, n). It returns 0 when n <= 0.
func (s *ByteStream) NextInt(n int) int {
	if n <= 0 {
		return 0
	}

	return int(s.NextByte()) % n
}

// NextBool uses the low bit of the next byte.
func (s *ByteStream) NextBool() bool {
	return s.NextByte()&1 == 1
}

// Pick returns one of choices. It panics if choices is empty.
func Pick[T any](s *ByteStream, choices []T) T {
	return choices[s.NextInt(len(choices))]
}

// NextPayload returns 0 to maxLen-1 bytes. The first byte of the payload is
// taken from the stream; the rest repeat it so payloads stay cheap to
// generate and compare.
func (s *ByteStream) NextPayload(maxLen int) []byte {
	n := s.NextInt(maxLen)
	if n == 0 {
		return []byte{}
	}

	fill := s.NextByte()

	out := make([]byte, n)
	for i := range out {
		out[i] = fill + byte(i)
	}

	return out
}
