package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"coworkerbot/internal/core"

	"github.com/go-chi/chi/v5"
)

type taskResponse struct {
	ID             string `json:"id"`
	Row            int    `json:"row"`
	Group          string `json:"group"`
	Label          string `json:"label"`
	Start          string `json:"start"`
	End            string `json:"end"`
	ResourcePath   string `json:"resource_path"`
	TargetLocation string `json:"target_location,omitempty"`
	DataSource     string `json:"data_source,omitempty"`
	SearchKey      string `json:"search_key,omitempty"`
	SkipFetch      bool   `json:"skip_fetch"`
	PostAction     string `json:"post_action"`
	CloseAfter     bool   `json:"close_after"`
	Macro          string `json:"macro,omitempty"`
	Weekdays       string `json:"weekdays,omitempty"`
	SkipOnHoliday  bool   `json:"skip_on_holiday"`
	DaysOfMonth    string `json:"days_of_month,omitempty"`
}

type groupResponse struct {
	Name          string `json:"name"`
	EarliestStart string `json:"earliest_start"`
	Tasks         int    `json:"tasks"`
}

type issueResponse struct {
	TaskID   string   `json:"task_id"`
	Row      int      `json:"row"`
	Label    string   `json:"label"`
	Problems []string `json:"problems"`
}

type previewResponse struct {
	Group string   `json:"group"`
	Start string   `json:"start"`
	Cron  string   `json:"cron"`
	Next  []string `json:"next"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.scheduler.Tasks(r.Context())
	if err != nil {
		s.logger.Error("list tasks", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load task master")
		return
	}
	if group := strings.TrimSpace(r.URL.Query().Get("group")); group != "" {
		tasks = tasks.OptimizedByGroup(group)
	} else {
		tasks = tasks.SortedByStartThenGroup()
	}
	res := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		res = append(res, taskToResponse(t))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	tasks, err := s.scheduler.Tasks(r.Context())
	if err != nil {
		s.logger.Error("get task", "task", taskID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load task master")
		return
	}
	task, err := tasks.Find(taskID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "task not found")
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

func (s *Server) handleTaskHistory(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	outcomes, err := s.store.ListTaskHistory(r.Context(), taskID, limit)
	if err != nil {
		s.logger.Error("task history", "task", taskID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load history")
		return
	}
	res := make([]outcomeResponse, 0, len(outcomes))
	for _, o := range outcomes {
		res = append(res, outcomeToResponse(o))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.scheduler.Tasks(r.Context())
	if err != nil {
		s.logger.Error("list groups", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load task master")
		return
	}
	groups := tasks.Groups()
	res := make([]groupResponse, 0, len(groups))
	for _, g := range groups {
		start, _ := tasks.EarliestStart(g)
		res = append(res, groupResponse{
			Name:          g,
			EarliestStart: start.String(),
			Tasks:         len(tasks.FilteredByGroup(g)),
		})
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleValidation(w http.ResponseWriter, r *http.Request) {
	issues, err := s.master.Validate(r.Context())
	if err != nil {
		s.logger.Error("validate task master", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load task master")
		return
	}
	res := make([]issueResponse, 0, len(issues))
	for _, issue := range issues {
		res = append(res, issueResponse{
			TaskID:   issue.TaskID,
			Row:      issue.Row,
			Label:    issue.Label,
			Problems: issue.Problems,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":   s.master.Path(),
		"issues": res,
	})
}

func (s *Server) handleSchedulePreview(w http.ResponseWriter, r *http.Request) {
	count := parseIntDefault(r.URL.Query().Get("count"), 3)
	if count < 1 || count > 10 {
		writeError(w, http.StatusBadRequest, "invalid_input", "count must be between 1 and 10")
		return
	}
	previews, err := s.scheduler.Preview(r.Context(), count)
	if err != nil {
		s.logger.Error("schedule preview", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to compute preview")
		return
	}
	res := make([]previewResponse, 0, len(previews))
	for _, p := range previews {
		next := make([]string, 0, len(p.Next))
		for _, t := range p.Next {
			next = append(next, t.In(s.location).Format(time.RFC3339))
		}
		res = append(res, previewResponse{Group: p.Group, Start: p.Start.String(), Cron: p.Cron, Next: next})
	}
	writeJSON(w, http.StatusOK, res)
}

func taskToResponse(t core.TaskRecord) taskResponse {
	return taskResponse{
		ID:             t.ID,
		Row:            t.Row,
		Group:          t.Group,
		Label:          t.DisplayName(),
		Start:          t.Start.String(),
		End:            t.End.String(),
		ResourcePath:   t.ResourcePath,
		TargetLocation: t.TargetLocation,
		DataSource:     t.DataSource,
		SearchKey:      t.SearchKey,
		SkipFetch:      t.SkipFetch,
		PostAction:     string(t.PostAction),
		CloseAfter:     t.CloseAfter,
		Macro:          t.Macro,
		Weekdays:       t.WeekdayFilter,
		SkipOnHoliday:  t.SkipOnHoliday,
		DaysOfMonth:    t.DayOfMonthFilter,
	}
}

func statusForSelectError(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrBatchRunning):
		return http.StatusConflict, "conflict"
	case errors.Is(err, core.ErrTaskNotFound), errors.Is(err, core.ErrNoTasks):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrUnknownBatchMode):
		return http.StatusBadRequest, "invalid_input"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}
