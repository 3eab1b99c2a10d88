package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Supported UTC offset range in hours.
const (
	MinOffsetHours = -12.0
	MaxOffsetHours = 14.0
)

var offsetRe = regexp.MustCompile(`^([+-])(\d{1,2}):(\d{2})$`)

// Offset is a parsed "±HH:MM" UTC offset.
type Offset struct {
	Hours   float64
	Seconds int64
	// Code is the zone code from a "±HH:MM|CODE" picker value, if any.
	Code string
}

// ParseOffset parses "±HH:MM" or "±HH:MM|CODE". The sign applies to the
// whole magnitude, so "-01:30" is -1.5 hours. An empty offset is UTC.
func ParseOffset(s string) (Offset, error) {
	value, code, _ := strings.Cut(strings.TrimSpace(s), "|")
	off := Offset{Code: strings.TrimSpace(code)}
	if value == "" {
		return off, nil
	}

	m := offsetRe.FindStringSubmatch(value)
	if m == nil {
		return off, fmt.Errorf("want ±HH:MM")
	}
	hh, _ := strconv.Atoi(m[2])
	mm, _ := strconv.Atoi(m[3])
	if mm >= 60 {
		return off, fmt.Errorf("minutes must be below 60")
	}

	off.Hours = float64(hh) + float64(mm)/60
	off.Seconds = int64(hh*3600 + mm*60)
	if m[1] == "-" {
		off.Hours = -off.Hours
		off.Seconds = -off.Seconds
	}
	if off.Hours < MinOffsetHours || off.Hours > MaxOffsetHours {
		return off, fmt.Errorf("offset outside %+.0f..%+.0f hours", MinOffsetHours, MaxOffsetHours)
	}
	return off, nil
}
