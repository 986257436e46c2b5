package notification

import (
	"fmt"
	"time"
)

// FormatPrice renders cents as dollars.
func FormatPrice(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}

// FormatDateTime renders a session time in UTC.
func FormatDateTime(t time.Time) string {
	return t.UTC().Format("Mon, Jan 2 2006 15:04 MST")
}

func FormatTimeRange(start, end time.Time) string {
	return fmt.Sprintf("%s-%s", start.UTC().Format("15:04"), end.UTC().Format("15:04 MST"))
}

func FormatDuration(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%d min", minutes)
	}
	hours := minutes / 60
	mins := minutes % 60
	if mins == 0 {
		return fmt.Sprintf("%d h", hours)
	}
	return fmt.Sprintf("%d h %d min", hours, mins)
}
