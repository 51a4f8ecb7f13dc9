package terminal

import (
	"fmt"
	"time"
)

// FormatTimestamp renders t in UTC as "dd/mm/yy - H:MM AM/PM UTC".
func FormatTimestamp(t time.Time) string {
	u := t.UTC()
	hour := u.Hour() % 12
	if hour == 0 {
		hour = 12
	}
	ampm := "AM"
	if u.Hour() >= 12 {
		ampm = "PM"
	}
	return fmt.Sprintf("%02d/%02d/%02d - %d:%02d %s UTC", u.Day(), int(u.Month()), u.Year()%100, hour, u.Minute(), ampm)
}

// CurrentTimestamp returns the current time formatted and bracketed.
func CurrentTimestamp() string {
	return "[" + FormatTimestamp(time.Now()) + "]"
}
