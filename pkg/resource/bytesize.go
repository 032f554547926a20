package resource

import (
	"fmt"
	"strconv"
	"strings"
)

// GiB is the unit ParseShortByteSize assumes for bare numeric memory
// values in this codebase's configuration surface (Kubernetes itself has no
// such convention; ours is carried over from the original connector
// this core was distilled from, where "2.0" in a memory setting means
// 2 GiB rather than 2 bytes).
const GiB int64 = 1024 * 1024 * 1024

var byteSuffixes = []struct {
	suffix string
	factor int64
}{
	// Two-letter binary suffixes first, then one-letter decimal ones.
	{"Ki", 1024},
	{"Mi", 1024 * 1024},
	{"Gi", 1024 * 1024 * 1024},
	{"Ti", 1024 * 1024 * 1024 * 1024},
	{"K", 1000},
	{"M", 1000 * 1000},
	{"G", 1000 * 1000 * 1000},
	{"T", 1000 * 1000 * 1000 * 1000},
}

// ShortByteSize is an integer byte count parsed from Kubernetes-style
// size suffixes.
type ShortByteSize int64

// ParseShortByteSize parses a Kubernetes-style byte size string
// ("128Mi", "2Gi", "500K") or a bare numeric string, which is
// interpreted as a number of gibibytes.
func ParseShortByteSize(v string) (ShortByteSize, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("resource: could not parse empty byte size value")
	}
	for _, s := range byteSuffixes {
		if strings.HasSuffix(v, s.suffix) {
			n, err := strconv.ParseFloat(strings.TrimSuffix(v, s.suffix), 64)
			if err != nil {
				return 0, fmt.Errorf("resource: could not parse byte size value %q: %w", v, err)
			}
			return ShortByteSize(int64(n * float64(s.factor))), nil
		}
	}
	// Bare numeric: interpreted as gibibytes.
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("resource: could not parse byte size value %q: %w", v, err)
	}
	return ShortByteSizeFromGiB(f), nil
}

// ShortByteSizeFromGiB converts a gibibyte fraction into a ShortByteSize.
func ShortByteSizeFromGiB(gib float64) ShortByteSize {
	return ShortByteSize(int64(gib * float64(GiB)))
}

// GiB64 returns the value as a fraction of a gibibyte, the unit memory
// settings are reported in.
func (s ShortByteSize) GiB64() float64 {
	return float64(s) / float64(GiB)
}

// byteSuffixesByFactor is byteSuffixes sorted by descending factor, used
// by String to pick the largest unit that divides the value evenly.
var byteSuffixesByFactor = []struct {
	suffix string
	factor int64
}{
	{"Ti", 1024 * 1024 * 1024 * 1024},
	{"T", 1000 * 1000 * 1000 * 1000},
	{"Gi", 1024 * 1024 * 1024},
	{"G", 1000 * 1000 * 1000},
	{"Mi", 1024 * 1024},
	{"M", 1000 * 1000},
	{"Ki", 1024},
	{"K", 1000},
}

// String renders the value using the largest binary (Ki/Mi/Gi/Ti) or
// decimal (K/M/G/T) suffix whose factor divides the value evenly,
// falling back to a bare byte count.
func (s ShortByteSize) String() string {
	n := int64(s)
	for _, suf := range byteSuffixesByFactor {
		if n != 0 && n%suf.factor == 0 {
			return fmt.Sprintf("%d%s", n/suf.factor, suf.suffix)
		}
	}
	return strconv.FormatInt(n, 10)
}
