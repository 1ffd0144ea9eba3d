package program

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// DefaultStartWindow bounds how far in the future cover may start when a
// program does not declare its own maxStartDateSelection.
const DefaultStartWindow = "3m"

var durationRe = regexp.MustCompile(`^(\d+)([dmy])$`)

// ErrBadDuration signals a duration string outside the ^(\d+)([dmy])$ grammar.
var ErrBadDuration = errors.New("program: malformed duration")

// ParseDuration splits a tariff duration string like "15d", "3m" or "1y"
// into its count and unit.
func ParseDuration(s string) (int, byte, error) {
	m := durationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadDuration, s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadDuration, s)
	}
	return n, m[2][0], nil
}

// AddDuration advances t by the given duration string.
func AddDuration(t time.Time, s string) (time.Time, error) {
	n, unit, err := ParseDuration(s)
	if err != nil {
		return time.Time{}, err
	}
	switch unit {
	case 'd':
		return t.AddDate(0, 0, n), nil
	case 'm':
		return t.AddDate(0, n, 0), nil
	default:
		return t.AddDate(n, 0, 0), nil
	}
}

// ActiveTo derives the inclusive end of the active window: from plus the
// tariff duration minus one day.
func ActiveTo(from time.Time, s string) (time.Time, error) {
	to, err := AddDuration(from, s)
	if err != nil {
		return time.Time{}, err
	}
	return to.AddDate(0, 0, -1), nil
}
