package remind

import (
	"fmt"
	"time"
)

// FireTime returns the instant a reminder should fire: the anchor minus its
// lead time. The result may already be in the past; callers decide what a
// non-positive delay means.
func FireTime(anchor time.Time, leadMinutes int) time.Time {
	return anchor.Add(-time.Duration(leadMinutes) * time.Minute)
}

// FormatLead renders a lead time in minutes as a human-readable string for
// notification text ("45 minutes", "2 hours", "1 day").
func FormatLead(minutes int) string {
	switch {
	case minutes >= 1440:
		d := minutes / 1440
		if d == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", d)
	case minutes >= 60:
		h := minutes / 60
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	default:
		return fmt.Sprintf("%d minutes", minutes)
	}
}
