package media

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseTimestamp converts "HH:MM:SS.ms", "MM:SS.ms" or "SS.ms" to seconds.
// Components left of the seconds field must be integers, and any field with
// a neighbor to its left must stay below its carry limit ("1:60.0" is not a
// time).
func ParseTimestamp(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty timestamp")
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q: too many ':' separators", s)
	}

	secs, err := strconv.ParseFloat(parts[len(parts)-1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: bad seconds field", s)
	}
	if secs < 0 || (len(parts) > 1 && secs >= 60) {
		return 0, fmt.Errorf("invalid timestamp %q: seconds out of range", s)
	}

	total := secs
	if len(parts) >= 2 {
		mins, err := strconv.Atoi(parts[len(parts)-2])
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %q: bad minutes field", s)
		}
		if mins < 0 || (len(parts) == 3 && mins >= 60) {
			return 0, fmt.Errorf("invalid timestamp %q: minutes out of range", s)
		}
		total += float64(mins) * 60
	}
	if len(parts) == 3 {
		hours, err := strconv.Atoi(parts[0])
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %q: bad hours field", s)
		}
		if hours < 0 {
			return 0, fmt.Errorf("invalid timestamp %q: hours out of range", s)
		}
		total += float64(hours) * 3600
	}
	return total, nil
}
