package taskmaster

import (
	"context"
	"fmt"
	"os"

	"coworkerbot/internal/core"
)

// Issue lists the configuration problems found for one task.
type Issue struct {
	TaskID   string
	Row      int
	Label    string
	Problems []string
}

// Validate inspects every active task. Problems are advisory; tasks with
// issues still run.
func (l *Loader) Validate(ctx context.Context) ([]Issue, error) {
	records, err := l.Records(ctx)
	if err != nil {
		return nil, err
	}
	var issues []Issue
	for _, r := range records {
		if !r.Task.Active {
			continue
		}
		problems := append([]string(nil), r.Warnings...)
		problems = append(problems, Check(r.Task)...)
		if len(problems) == 0 {
			continue
		}
		issues = append(issues, Issue{
			TaskID:   r.Task.ID,
			Row:      r.Task.Row,
			Label:    r.Task.DisplayName(),
			Problems: problems,
		})
	}
	return issues, nil
}

// Check reports problems with a single task record.
func Check(t core.TaskRecord) []string {
	var problems []string
	if t.Group == "" {
		problems = append(problems, "group is empty")
	}
	if t.ResourcePath == "" {
		problems = append(problems, "file path is empty")
	} else if _, err := os.Stat(t.ResourcePath); err != nil {
		problems = append(problems, fmt.Sprintf("file not found: %s", t.ResourcePath))
	}
	if !t.SkipFetch {
		if t.DataSource == "" {
			problems = append(problems, "download URL is empty")
		}
		if t.TargetLocation == "" {
			problems = append(problems, "target sheet is empty")
		}
	}
	if _, err := core.ParseWeekdayFilter(t.WeekdayFilter); err != nil {
		problems = append(problems, fmt.Sprintf("weekday filter ignored: %v", err))
	}
	if _, err := core.ParseDayOfMonthFilter(t.DayOfMonthFilter); err != nil {
		problems = append(problems, fmt.Sprintf("day-of-month filter ignored: %v", err))
	}
	if t.PostAction != core.PostActionPause && t.PopupMessage != "" {
		problems = append(problems, "popup message is only shown for Pause")
	}
	return problems
}
