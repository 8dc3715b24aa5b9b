package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration parses an iCalendar DURATION value such as "PT1H30M",
// "P1D" or "P2W". Negative durations are rejected since they cannot describe
// an event length.
func ParseDuration(v string) (time.Duration, error) {
	s := strings.ToUpper(strings.TrimSpace(v))
	s = strings.TrimPrefix(s, "+")
	if !strings.HasPrefix(s, "P") || len(s) < 3 {
		return 0, fmt.Errorf("%w: invalid DURATION %q", ErrMalformedEntry, v)
	}
	s = s[1:]

	var total time.Duration
	inTime := false
	num := ""
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
		case r == 'T':
			if inTime || num != "" {
				return 0, fmt.Errorf("%w: invalid DURATION %q", ErrMalformedEntry, v)
			}
			inTime = true
		default:
			if num == "" {
				return 0, fmt.Errorf("%w: invalid DURATION %q", ErrMalformedEntry, v)
			}
			n, err := strconv.Atoi(num)
			if err != nil {
				return 0, fmt.Errorf("%w: invalid DURATION %q", ErrMalformedEntry, v)
			}
			num = ""

			var unit time.Duration
			switch {
			case r == 'W' && !inTime:
				unit = 7 * 24 * time.Hour
			case r == 'D' && !inTime:
				unit = 24 * time.Hour
			case r == 'H' && inTime:
				unit = time.Hour
			case r == 'M' && inTime:
				unit = time.Minute
			case r == 'S' && inTime:
				unit = time.Second
			default:
				return 0, fmt.Errorf("%w: invalid DURATION %q", ErrMalformedEntry, v)
			}
			total += time.Duration(n) * unit
		}
	}
	if num != "" {
		return 0, fmt.Errorf("%w: invalid DURATION %q", ErrMalformedEntry, v)
	}
	return total, nil
}
