package slots

import (
	"fmt"
	"strings"
	"time"
)

// Day is one cell of the month grid. InMonth is false for leading/trailing
// days borrowed from the neighbouring months.
type Day struct {
	Date    time.Time `json:"-"`
	ISO     string    `json:"date"`
	Day     int       `json:"day"`
	InMonth bool      `json:"in_month"`
}

// Week runs Sunday to Saturday.
type Week [7]Day

// Month is a grid of complete weeks covering the reference month.
type Month struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
	Weeks []Week     `json:"weeks"`
}

// MonthGrid builds the calendar for ref's month: it starts on the Sunday on or
// before the 1st and ends on the Saturday on or after the last day.
func MonthGrid(ref time.Time) Month {
	first := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	start := first.AddDate(0, 0, -int(first.Weekday()))
	end := last.AddDate(0, 0, int(time.Saturday-last.Weekday()))

	grid := Month{Year: first.Year(), Month: first.Month()}
	var week Week
	i := 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		week[i] = Day{
			Date:    d,
			ISO:     d.Format(time.DateOnly),
			Day:     d.Day(),
			InMonth: d.Month() == first.Month(),
		}
		i++
		if i == len(week) {
			grid.Weeks = append(grid.Weeks, week)
			week = Week{}
			i = 0
		}
	}
	return grid
}

// ParseMonth parses "YYYY-MM". An empty string yields the month of now.
func ParseMonth(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("slots: month must be YYYY-MM: %q", s)
	}
	return t, nil
}
