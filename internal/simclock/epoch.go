package simclock

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	dayMillis      = 24 * 60 * 60 * 1000
	epochDayWidth  = 12
	epochDayDigits = 8
)

// ComputeEpoch encodes t as a two-line-element epoch: a two-digit year and
// a fractional day of year ("DDD.DDDDDDDD", zero padded to 12 characters).
func ComputeEpoch(t time.Time) (year, day string) {
	t = t.UTC()
	year = fmt.Sprintf("%02d", t.Year()%100)

	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	fraction := float64(t.Sub(midnight).Milliseconds()) / dayMillis
	day = strconv.FormatFloat(float64(t.YearDay())+fraction, 'f', epochDayDigits, 64)
	if len(day) < epochDayWidth {
		day = strings.Repeat("0", epochDayWidth-len(day)) + day
	}
	return year, day
}

// ParseEpoch reconstructs the instant encoded by ComputeEpoch.
// Years 57-99 map to the 1900s, 00-56 to the 2000s.
func ParseEpoch(year, day string) (time.Time, error) {
	yy, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil || yy < 0 || yy > 99 {
		return time.Time{}, fmt.Errorf("invalid epoch year %q", year)
	}
	if yy >= 57 {
		yy += 1900
	} else {
		yy += 2000
	}

	dayOfYear, err := strconv.ParseFloat(strings.TrimSpace(day), 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch day %q: %w", day, err)
	}
	if dayOfYear < 1 || dayOfYear >= 367 {
		return time.Time{}, fmt.Errorf("epoch day %q out of range", day)
	}

	start := time.Date(yy, 1, 1, 0, 0, 0, 0, time.UTC)
	offset := time.Duration((dayOfYear - 1) * float64(24*time.Hour))
	return start.Add(offset.Round(time.Millisecond)), nil
}

// DayOfYear returns the 1-based UTC day of year.
func DayOfYear(t time.Time) int {
	return t.UTC().YearDay()
}
