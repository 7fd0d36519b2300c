package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ClockTime is a time of day as seconds since midnight.
type ClockTime int

const secondsPerDay = 24 * 60 * 60

// ParseClock accepts "HH:MM" or "HH:MM:SS".
func ParseClock(s string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	limits := []int{23, 59, 59}
	var total int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("invalid time of day %q", s)
		}
		switch i {
		case 0:
			total += n * 3600
		case 1:
			total += n * 60
		default:
			total += n
		}
	}
	return ClockTime(total), nil
}

func ClockOf(t time.Time) ClockTime {
	h, m, s := t.Clock()
	return ClockTime(h*3600 + m*60 + s)
}

func (c ClockTime) String() string {
	v := int(c) % secondsPerDay
	return fmt.Sprintf("%02d:%02d:%02d", v/3600, (v/60)%60, v%60)
}

// EligibilityWindow is the date and daily time range during which a
// recipient's pending items may be notified. Owned by the store.
type EligibilityWindow struct {
	RecipientID string
	StartDate   time.Time
	EndDate     time.Time
	StartTime   ClockTime
	EndTime     ClockTime
	Active      bool
}

// Contains reports whether the window is open at now. Both ranges are
// inclusive. StartDate and EndDate are calendar dates as stored; today is the
// calendar day of now in now's location.
func (w EligibilityWindow) Contains(now time.Time) bool {
	if !w.Active {
		return false
	}
	today := dayKey(now)
	if today < dayKey(w.StartDate) || today > dayKey(w.EndDate) {
		return false
	}
	c := ClockOf(now)
	return c >= w.StartTime && c <= w.EndTime
}

func dayKey(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

// DateOnly truncates t to its calendar day in t's location.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
