package timeutil

import (
	"fmt"
	"time"
)

// Relative formats a time as a human-readable offset from now, like
// "5 minutes ago" or "in 2 hours". Sub-second offsets read "just now".
func Relative(t time.Time) string {
	return RelativeTo(t, time.Now())
}

// RelativeTo formats t relative to the reference time now.
func RelativeTo(t, now time.Time) string {
	d := now.Sub(t)
	past := d >= 0
	if !past {
		d = -d
	}

	var phrase string
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		phrase = plural(int(d.Seconds()), "second")
	case d < time.Hour:
		phrase = plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		phrase = plural(int(d.Hours()), "hour")
	default:
		phrase = plural(int(d.Hours()/24), "day")
	}

	if past {
		return phrase + " ago"
	}
	return "in " + phrase
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
