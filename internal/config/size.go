package config

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
)

// Size is a byte count that reads and writes human-readable strings such as
// "64MiB" or "1.5 GB". Bare JSON numbers are accepted as bytes.
type Size int64

// ParseSize parses a human-readable byte size.
func ParseSize(s string) (Size, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	if n > math.MaxInt64 {
		return 0, fmt.Errorf("invalid size %q: too large", s)
	}

	return Size(n), nil
}

// String formats the size with IEC units.
func (s Size) String() string {
	if s < 0 {
		return fmt.Sprintf("%d B", int64(s))
	}

	return humanize.IBytes(uint64(s))
}

func (s Size) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Size) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*s = Size(n)

		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("size must be a string or number, got %s", data)
	}

	parsed, err := ParseSize(str)
	if err != nil {
		return err
	}

	*s = parsed

	return nil
}
