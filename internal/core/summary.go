package core

import (
	"fmt"
	"strings"
	"time"
)

const maxSummarySkips = 5

// SummaryTitle is the notification title for a finished batch.
func SummaryTitle(label string, result ScheduleResult) string {
	switch {
	case result.Cancelled:
		return fmt.Sprintf("%s cancelled", label)
	case result.Failed > 0:
		return fmt.Sprintf("%s finished with %d error(s)", label, result.Failed)
	default:
		return fmt.Sprintf("%s finished", label)
	}
}

// SummaryBody renders the counts, the elapsed time and the first few skip
// reasons.
func SummaryBody(result ScheduleResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "succeeded %d / failed %d / skipped %d / elapsed %s",
		result.Succeeded, result.Failed, result.Skipped, result.Elapsed().Round(time.Second))
	for i, skip := range result.Skips {
		if i == maxSummarySkips {
			fmt.Fprintf(&b, "\n... and %d more skipped", len(result.Skips)-maxSummarySkips)
			break
		}
		fmt.Fprintf(&b, "\n- %s: %s", skip.Label, skip.Reason)
	}
	for _, o := range result.Outcomes {
		if o.Status == RunStatusFailed {
			fmt.Fprintf(&b, "\n! %s: %s", o.Label, o.Reason)
		}
	}
	return b.String()
}
