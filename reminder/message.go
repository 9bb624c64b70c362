package reminder

import (
	"fmt"
	"time"

	"tasklane/domain"
)

const dueLayout = "Mon, 02 Jan 2006 15:04 MST"

// Render builds the reminder subject and body for t. The due time is shown
// in loc.
func Render(t domain.Task, to domain.Principal, lead time.Duration, loc *time.Location) (subject, body string) {
	if loc == nil {
		loc = time.UTC
	}
	subject = fmt.Sprintf("Reminder: Task %q is due in %s!", t.Title, humanDuration(lead))

	greeting := "Hi"
	if to.DisplayName != "" {
		greeting = "Hi " + to.DisplayName
	}
	due := "soon"
	if t.DueDate != nil {
		due = "at " + t.DueDate.In(loc).Format(dueLayout)
	}
	body = fmt.Sprintf("%s,\n\nYour task %q is due %s.\n\nDon't forget!", greeting, t.Title, due)
	return subject, body
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	}
	return d.String()
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
