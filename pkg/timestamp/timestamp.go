package timestamp

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// CanonicalLen is the length of a canonical stamp.
	CanonicalLen = 17

	secondsLayout = "20060102150405"
	maxYear       = 9999
)

var reAnchor = regexp.MustCompile(`^(\d{14})\.(\d{1,6})$`)

// ParseAnchor parses an anchor of the form YYYYMMDDHHMMSS.f (one to six
// fractional digits). The result is in UTC; anchors carry no zone.
func ParseAnchor(s string) (time.Time, error) {
	m := reAnchor.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, &FormatError{Input: s, Reason: "want YYYYMMDDHHMMSS.ffffff"}
	}

	t, err := time.ParseInLocation(secondsLayout, m[1], time.UTC)
	if err != nil {
		return time.Time{}, &FormatError{Input: s, Reason: err.Error()}
	}

	// Right-pad to microseconds, the same way strptime reads %f.
	frac := m[2] + strings.Repeat("0", 6-len(m[2]))
	us, err := strconv.Atoi(frac)
	if err != nil {
		return time.Time{}, &FormatError{Input: s, Reason: err.Error()}
	}

	return t.Add(time.Duration(us) * time.Microsecond), nil
}

// Canonical encodes t as YYYYMMDDHHMMSS plus three millisecond digits.
// Sub-millisecond precision is truncated.
func Canonical(t time.Time) string {
	ms := t.Nanosecond() / int(time.Millisecond)
	return t.Format(secondsLayout) + fmt.Sprintf("%03d", ms)
}

// CanonicalAnchor returns the canonical stamp of an anchor string.
func CanonicalAnchor(anchor string) (string, error) {
	t, err := ParseAnchor(anchor)
	if err != nil {
		return "", err
	}
	return Canonical(t), nil
}

// ParseCanonical parses a 17-digit canonical stamp back into a UTC time.
func ParseCanonical(stamp string) (time.Time, error) {
	if _, err := Value(stamp); err != nil {
		return time.Time{}, err
	}
	t, err := time.ParseInLocation(secondsLayout, stamp[:14], time.UTC)
	if err != nil {
		return time.Time{}, &FormatError{Input: stamp, Reason: err.Error()}
	}
	ms, _ := strconv.Atoi(stamp[14:])
	return t.Add(time.Duration(ms) * time.Millisecond), nil
}

// Synthesize turns an anchor and a vector of millisecond offsets into one
// canonical stamp per offset.
//
// Offsets are cumulative: offset i is added to the time synthesized for frame
// i-1, and the first offset is added to the anchor. Every synthesized time is
// truncated to the millisecond before the next offset is applied.
func Synthesize(anchor string, offsetsMs []float64) ([]string, error) {
	cur, err := ParseAnchor(anchor)
	if err != nil {
		return nil, err
	}

	stamps := make([]string, 0, len(offsetsMs))
	for i, ms := range offsetsMs {
		d, err := offsetDuration(ms)
		if err != nil {
			err.Index = i
			return nil, err
		}

		next := cur.Add(d).Truncate(time.Millisecond)
		if next.Year() > maxYear {
			return nil, &ValueError{Index: i, Value: formatMs(ms), Reason: "frame time past year 9999"}
		}

		stamps = append(stamps, Canonical(next))
		cur = next
	}

	return stamps, nil
}

// ParseOffsets parses a decimal-string offset vector.
func ParseOffsets(values []string) ([]float64, error) {
	offsets := make([]float64, 0, len(values))
	for i, v := range values {
		ms, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, &ValueError{Index: i, Value: v, Reason: "not a number"}
		}
		if _, verr := offsetDuration(ms); verr != nil {
			verr.Index = i
			verr.Value = v
			return nil, verr
		}
		offsets = append(offsets, ms)
	}
	return offsets, nil
}

// Value returns the numeric value of a canonical stamp.
func Value(stamp string) (uint64, error) {
	if len(stamp) != CanonicalLen {
		return 0, &FormatError{Input: stamp, Reason: fmt.Sprintf("want %d digits", CanonicalLen)}
	}
	for i := 0; i < len(stamp); i++ {
		if stamp[i] < '0' || stamp[i] > '9' {
			return 0, &FormatError{Input: stamp, Reason: "non-digit character"}
		}
	}
	return strconv.ParseUint(stamp, 10, 64)
}

// Earliest returns the numerically smallest canonical stamp.
func Earliest(stamps []string) (string, error) {
	if len(stamps) == 0 {
		return "", ErrEmpty
	}

	best := ""
	var bestValue uint64
	for _, s := range stamps {
		v, err := Value(s)
		if err != nil {
			return "", err
		}
		if best == "" || v < bestValue {
			best = s
			bestValue = v
		}
	}
	return best, nil
}

// offsetDuration converts milliseconds to a duration rounded to the nearest
// microsecond, half to even.
func offsetDuration(ms float64) (time.Duration, *ValueError) {
	switch {
	case math.IsNaN(ms) || math.IsInf(ms, 0):
		return 0, &ValueError{Index: -1, Value: formatMs(ms), Reason: "not finite"}
	case ms < 0:
		return 0, &ValueError{Index: -1, Value: formatMs(ms), Reason: "negative"}
	}

	us := math.RoundToEven(ms * 1000)
	if us > float64(math.MaxInt64/int64(time.Microsecond)) {
		return 0, &ValueError{Index: -1, Value: formatMs(ms), Reason: "too large"}
	}
	return time.Duration(us) * time.Microsecond, nil
}

func formatMs(ms float64) string {
	return strconv.FormatFloat(ms, 'g', -1, 64)
}
