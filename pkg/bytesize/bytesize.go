// Package bytesize parses and formats byte sizes such as "8MiB" or "1.5 GB".
// All units are binary: K, KB and KiB all mean 1024 bytes.
package bytesize

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Size is a byte count.
type Size int64

// Binary units.
const (
	B  Size = 1
	KB Size = 1024 * B
	MB Size = 1024 * KB
	GB Size = 1024 * MB
	TB Size = 1024 * GB
)

var units = []struct {
	size  Size
	label string
	names []string
}{
	{TB, "TB", []string{"t", "tb", "tib"}},
	{GB, "GB", []string{"g", "gb", "gib"}},
	{MB, "MB", []string{"m", "mb", "mib"}},
	{KB, "KB", []string{"k", "kb", "kib"}},
	{B, "B", []string{"", "b", "byte", "bytes"}},
}

var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-z]*)\s*$`)

// Parse parses a size with an optional unit. A bare number is bytes.
func Parse(s string) (Size, error) {
	m := sizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("bytesize: invalid size %q", s)
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q: %w", m[1], err)
	}

	unit := strings.ToLower(m[2])
	for _, u := range units {
		for _, name := range u.names {
			if name != unit {
				continue
			}
			bytes := value * float64(u.size)
			if bytes > math.MaxInt64 {
				return 0, fmt.Errorf("bytesize: %q overflows", s)
			}
			return Size(bytes), nil
		}
	}
	return 0, fmt.Errorf("bytesize: unknown unit %q", m[2])
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Size {
	size, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return size
}

// Format renders s with the largest unit that keeps the value at least 1,
// using up to two decimals.
func Format(s Size) string {
	if s < 0 {
		return "-" + Format(-s)
	}
	for _, u := range units {
		if s >= u.size && u.size > B {
			return trimFloat(float64(s)/float64(u.size)) + u.label
		}
	}
	return strconv.FormatInt(int64(s), 10) + "B"
}

// Rate formats a throughput of n bytes over d, e.g. "12.5MB/s".
func Rate(n uint64, d time.Duration) string {
	if d <= 0 {
		return "0B/s"
	}
	perSecond := float64(n) / d.Seconds()
	if perSecond > math.MaxInt64 {
		perSecond = math.MaxInt64
	}
	return Format(Size(perSecond)) + "/s"
}

func trimFloat(v float64) string {
	out := strconv.FormatFloat(v, 'f', 2, 64)
	out = strings.TrimRight(out, "0")
	return strings.TrimRight(out, ".")
}

// Bytes returns the size as int64.
func (s Size) Bytes() int64 { return int64(s) }

// String implements fmt.Stringer.
func (s Size) String() string { return Format(s) }

// MarshalText implements encoding.TextMarshaler.
func (s Size) MarshalText() ([]byte, error) { return []byte(Format(s)), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Size) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
