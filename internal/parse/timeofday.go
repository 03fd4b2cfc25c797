package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var hmRe = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

const dateLayout = "2006-01-02"

// naive ISO-8601 layouts, interpreted in the caller's location
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// HM is a wall-clock time of day.
type HM struct {
	Hour   int
	Minute int
}

func (hm HM) String() string { return fmt.Sprintf("%02d:%02d", hm.Hour, hm.Minute) }

// ParseHM parses "HH:MM". "24:00" is not accepted; reservations never cross midnight.
func ParseHM(raw string) (HM, error) {
	m := hmRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return HM{}, fmt.Errorf("invalid time of day %q, want HH:MM", raw)
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if h > 23 || mm > 59 {
		return HM{}, fmt.Errorf("time of day out of range: %q", raw)
	}
	return HM{Hour: h, Minute: mm}, nil
}

// ParseDate parses "YYYY-MM-DD" as midnight in loc.
func ParseDate(raw string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(dateLayout, strings.TrimSpace(raw), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", raw)
	}
	return d, nil
}

// Compose combines a date and time of day into an absolute time in loc.
func Compose(date string, hm string, loc *time.Location) (time.Time, error) {
	d, err := ParseDate(date, loc)
	if err != nil {
		return time.Time{}, err
	}
	t, err := ParseHM(hm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour, t.Minute, 0, 0, loc), nil
}

// Timestamp parses an ISO-8601 timestamp. A value without an offset is taken
// to be written in loc.
func Timestamp(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q, want ISO-8601", raw)
}

// DateOf formats t's calendar day in loc.
func DateOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dateLayout)
}
