package notifications

import (
	"fmt"
	"strings"
	"time"
)

// DaemonStarted announces a daemon run.
func DaemonStarted(plan string, stages int, sources []string) Message {
	body := fmt.Sprintf("Plan %s running with %d stage(s)", plan, stages)
	if len(sources) > 0 {
		body += "\nSources: " + strings.Join(sources, ", ")
	}
	return Message{
		Title: "ingest - Started",
		Body:  body,
		Tags:  []string{"ingest", "daemon", "started"},
	}
}

// PlanDrained reports a finished one-shot run.
func PlanDrained(plan string, elapsed time.Duration) Message {
	elapsed = elapsed.Round(time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	return Message{
		Title: "ingest - Drained",
		Body:  fmt.Sprintf("Plan %s drained in %s", plan, elapsed),
		Tags:  []string{"ingest", "plan", "completed"},
	}
}

// Failure reports err raised while doing label.
func Failure(label string, err error) Message {
	var b strings.Builder
	b.WriteString("Error")
	if label = strings.TrimSpace(label); label != "" {
		b.WriteString(" in ")
		b.WriteString(label)
	}
	b.WriteString(": ")
	if err != nil {
		b.WriteString(strings.TrimSpace(err.Error()))
	} else {
		b.WriteString("unknown")
	}
	return Message{
		Title:    "ingest - Error",
		Body:     b.String(),
		Tags:     []string{"ingest", "error", "alert"},
		Priority: "high",
	}
}

// Test is the message sent by "ingest notify test".
func Test() Message {
	return Message{
		Title:    "ingest - Test",
		Body:     "Notification system test",
		Tags:     []string{"ingest", "test"},
		Priority: "low",
	}
}
