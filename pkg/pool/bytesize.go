package pool

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteSize is a byte count that parses from and formats as human-readable
// sizes such as "512MiB" or "2GiB". It implements encoding.TextUnmarshaler
// so it can be used directly in CLI flags and YAML job files.
type ByteSize uint64

const (
	KiB ByteSize = 1 << (10 * (iota + 1))
	MiB
	GiB
	TiB
)

var byteSuffixes = []struct {
	suffix string
	unit   ByteSize
}{
	{"TiB", TiB},
	{"GiB", GiB},
	{"MiB", MiB},
	{"KiB", KiB},
	{"B", 1},
}

// UnmarshalText parses sizes like "1536", "512MiB" or "1.5GiB". A bare
// number is a byte count.
func (b *ByteSize) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		return fmt.Errorf("empty byte size")
	}
	for _, bs := range byteSuffixes {
		if !strings.HasSuffix(s, bs.suffix) {
			continue
		}
		num := strings.TrimSpace(strings.TrimSuffix(s, bs.suffix))
		f, err := strconv.ParseFloat(num, 64)
		if err != nil || f < 0 {
			return fmt.Errorf("invalid byte size %q", s)
		}
		*b = ByteSize(f * float64(bs.unit))
		return nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid byte size %q", s)
	}
	*b = ByteSize(n)
	return nil
}

// MarshalText renders the size in its largest exact or near-exact unit.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b ByteSize) String() string {
	for _, bs := range byteSuffixes {
		if bs.unit == 1 || b < bs.unit {
			continue
		}
		f := float64(b) / float64(bs.unit)
		s := strconv.FormatFloat(f, 'f', 1, 64)
		return strings.TrimSuffix(s, ".0") + bs.suffix
	}
	return strconv.FormatUint(uint64(b), 10) + "B"
}
