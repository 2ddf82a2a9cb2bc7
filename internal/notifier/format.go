package notifier

import (
	"fmt"
	"strings"
	"time"

	"greensched/internal/task/scheduler"
)

// Format renders the one-line text of a job notification. It holds no
// execution id, so repeats of the same failure dedup.
func Format(typ string, ev scheduler.JobEvent) string {
	what := strings.TrimPrefix(typ, "job.")
	var b strings.Builder
	fmt.Fprintf(&b, "job %s %s", ev.JobID, what)
	switch typ {
	case scheduler.EventMissed:
		if !ev.ScheduledFireTime.IsZero() {
			fmt.Fprintf(&b, " (planned %s)", ev.ScheduledFireTime.UTC().Format(time.RFC3339))
		}
	case scheduler.EventCompleted:
		if ev.Duration > 0 {
			fmt.Fprintf(&b, " after %s", ev.Duration.Round(time.Millisecond))
		}
	}
	if ev.Fallback {
		b.WriteString(" [cron fallback]")
	}
	if ev.Error != "" {
		b.WriteString(": ")
		b.WriteString(ev.Error)
	}
	return b.String()
}
