package wsengine

import (
	"strconv"
	"strings"
	"time"
)

// ParseDuration implements the duration grammar in spec.md §6:
// "<digits>(s|m|h|sent|received)". Only s/m/h are honored as real-time
// durations; sent/received parse successfully (so a catalog carrying them
// doesn't fail to load) but ok is false, signaling the scheduler to skip
// them — their sequencing meaning is reserved for future use and is
// deliberately left unimplemented rather than silently guessed at.
func ParseDuration(s string) (d time.Duration, ok bool) {
	for _, unit := range []string{"sent", "received"} {
		if strings.HasSuffix(s, unit) {
			return 0, false
		}
	}

	if len(s) < 2 {
		return 0, false
	}
	unit := s[len(s)-1:]
	digits := s[:len(s)-1]
	n, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return 0, false
	}

	switch unit {
	case "s":
		return time.Duration(n * float64(time.Second)), true
	case "m":
		return time.Duration(n * float64(time.Minute)), true
	case "h":
		return time.Duration(n * float64(time.Hour)), true
	default:
		return 0, false
	}
}

// FormatSeconds renders d as the "<N>s" form spec.md §4.2 uses when
// classifying a recorded message as After.
func FormatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "s"
}
