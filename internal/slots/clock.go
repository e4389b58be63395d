package slots

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidClock    = errors.New("slots: time must be HH:MM")
	ErrInvalidDate     = errors.New("slots: date must be YYYY-MM-DD")
	ErrInvalidDuration = errors.New("slots: duration must not be negative")
	// ErrCrossesMidnight is returned when start+duration lands on the next day.
	// Date rollover is not supported.
	ErrCrossesMidnight = errors.New("slots: appointment crosses midnight")
)

const minutesPerDay = 24 * 60

// Clock is a wall-clock time of day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses a 24h "HH:MM" string.
func ParseClock(s string) (Clock, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return Clock{Hour: hour, Minute: minute}, nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Minutes returns minutes since midnight.
func (c Clock) Minutes() int {
	return c.Hour*60 + c.Minute
}

// EndTime adds durationMinutes to a "HH:MM" start and returns the zero-padded end time.
func EndTime(start string, durationMinutes int) (string, error) {
	clock, err := ParseClock(start)
	if err != nil {
		return "", err
	}
	if durationMinutes < 0 {
		return "", ErrInvalidDuration
	}
	total := clock.Minutes() + durationMinutes
	if total >= minutesPerDay {
		return "", fmt.Errorf("%w: %s + %dm", ErrCrossesMidnight, clock, durationMinutes)
	}
	return Clock{Hour: total / 60, Minute: total % 60}.String(), nil
}

// ParseDate parses a calendar date with no time component.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return d, nil
}
