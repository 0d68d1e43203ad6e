package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"coworkerbot/internal/core"
	"coworkerbot/internal/store"

	"github.com/go-chi/chi/v5"
)

type startBatchRequest struct {
	Mode   string `json:"mode"`
	Group  string `json:"group"`
	TaskID string `json:"task_id"`
	From   string `json:"from"`
	Force  bool   `json:"force"`
}

type batchResponse struct {
	ID         string  `json:"id"`
	Label      string  `json:"label"`
	Mode       string  `json:"mode"`
	Force      bool    `json:"force"`
	Status     string  `json:"status"`
	Total      int     `json:"total"`
	Succeeded  int     `json:"succeeded"`
	Failed     int     `json:"failed"`
	Skipped    int     `json:"skipped"`
	StartedAt  string  `json:"started_at"`
	FinishedAt *string `json:"finished_at,omitempty"`
}

type outcomeResponse struct {
	Seq          int      `json:"seq"`
	TaskID       string   `json:"task_id"`
	Label        string   `json:"label"`
	ResourcePath string   `json:"resource_path"`
	Status       string   `json:"status"`
	Stage        string   `json:"stage"`
	Reason       string   `json:"reason,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
	StartedAt    string   `json:"started_at"`
	EndedAt      string   `json:"ended_at"`
}

func (s *Server) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	var req startBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	batchReq, err := buildBatchRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	batch, err := s.scheduler.Launch(r.Context(), batchReq)
	if err != nil {
		status, code := statusForSelectError(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("start batch", "mode", batchReq.Mode, "err", err)
		}
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, batchToResponse(batch))
}

func buildBatchRequest(req startBatchRequest) (core.BatchRequest, error) {
	mode, err := core.ParseBatchMode(req.Mode)
	if err != nil {
		return core.BatchRequest{}, err
	}
	out := core.BatchRequest{
		Mode:   mode,
		Group:  strings.TrimSpace(req.Group),
		TaskID: strings.TrimSpace(req.TaskID),
		Force:  req.Force,
	}
	switch mode {
	case core.BatchModeGroup:
		if out.Group == "" {
			return out, errors.New("group is required")
		}
	case core.BatchModeFrom, core.BatchModeOnly:
		if out.TaskID == "" {
			return out, errors.New("task_id is required")
		}
	case core.BatchModeSchedule:
		if strings.TrimSpace(req.From) != "" {
			from, err := core.ParseTimeOfDay(req.From)
			if err != nil {
				return out, err
			}
			out.From = from
		}
	}
	return out, nil
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
	batches, err := s.store.ListBatches(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list batches", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list batches")
		return
	}
	res := make([]batchResponse, 0, len(batches))
	for _, b := range batches {
		res = append(res, batchToResponse(b))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	batch, err := s.store.GetBatch(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, store.ErrBatchNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "batch not found")
		} else {
			s.logger.Error("get batch", "batch_id", batchID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load batch")
		}
		return
	}
	writeJSON(w, http.StatusOK, batchToResponse(batch))
}

func (s *Server) handleListBatchTasks(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	if _, err := s.store.GetBatch(r.Context(), batchID); err != nil {
		if errors.Is(err, store.ErrBatchNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "batch not found")
		} else {
			s.logger.Error("get batch for tasks", "batch_id", batchID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load batch")
		}
		return
	}
	outcomes, err := s.store.ListTaskRuns(r.Context(), batchID)
	if err != nil {
		s.logger.Error("list task runs", "batch_id", batchID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list task runs")
		return
	}
	res := make([]outcomeResponse, 0, len(outcomes))
	for _, o := range outcomes {
		res = append(res, outcomeToResponse(o))
	}
	writeJSON(w, http.StatusOK, res)
}

func batchToResponse(b *core.Batch) batchResponse {
	var finished *string
	if b.FinishedAt != nil {
		formatted := b.FinishedAt.UTC().Format(time.RFC3339)
		finished = &formatted
	}
	return batchResponse{
		ID:         b.ID,
		Label:      b.Label,
		Mode:       string(b.Mode),
		Force:      b.Force,
		Status:     string(b.Status),
		Total:      b.Total,
		Succeeded:  b.Succeeded,
		Failed:     b.Failed,
		Skipped:    b.Skipped,
		StartedAt:  b.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt: finished,
	}
}

func outcomeToResponse(o core.TaskOutcome) outcomeResponse {
	return outcomeResponse{
		Seq:          o.Seq,
		TaskID:       o.TaskID,
		Label:        o.Label,
		ResourcePath: o.ResourcePath,
		Status:       string(o.Status),
		Stage:        string(o.Stage),
		Reason:       o.Reason,
		Warnings:     o.Warnings,
		StartedAt:    o.StartedAt.UTC().Format(time.RFC3339),
		EndedAt:      o.EndedAt.UTC().Format(time.RFC3339),
	}
}
