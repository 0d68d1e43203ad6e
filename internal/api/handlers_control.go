package api

import (
	"errors"
	"net/http"
	"time"

	"coworkerbot/internal/interact"

	"github.com/go-chi/chi/v5"
)

type progressResponse struct {
	Current   int    `json:"current"`
	Total     int    `json:"total"`
	Message   string `json:"message"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type statusResponse struct {
	Running         bool             `json:"running"`
	Batch           *batchResponse   `json:"batch,omitempty"`
	LastBatch       *batchResponse   `json:"last_batch,omitempty"`
	Paused          bool             `json:"paused"`
	CancelRequested bool             `json:"cancel_requested"`
	Progress        progressResponse `json:"progress"`
	AutoRun         bool             `json:"auto_run"`
	AutoRunGroups   []string         `json:"auto_run_groups"`
	PendingPrompts  int              `json:"pending_prompts"`
}

type promptResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

type noticeResponse struct {
	Level     string `json:"level"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.scheduler.Coordinator().Pause()
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.scheduler.Coordinator().Resume()
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.scheduler.Coordinator().RequestCancel()
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) status() statusResponse {
	st := s.scheduler.Status()
	res := statusResponse{
		Running:         st.Running,
		Paused:          st.Paused,
		CancelRequested: st.CancelRequested,
		Progress: progressResponse{
			Current: st.Progress.Current,
			Total:   st.Progress.Total,
			Message: st.Progress.Message,
		},
		AutoRun:       st.AutoRun,
		AutoRunGroups: st.AutoRunGroups,
	}
	if res.AutoRunGroups == nil {
		res.AutoRunGroups = []string{}
	}
	if !st.Progress.UpdatedAt.IsZero() {
		res.Progress.UpdatedAt = st.Progress.UpdatedAt.UTC().Format(time.RFC3339)
	}
	if st.Batch != nil {
		b := batchToResponse(st.Batch)
		res.Batch = &b
	}
	if st.LastBatch != nil {
		b := batchToResponse(st.LastBatch)
		res.LastBatch = &b
	}
	if s.prompts != nil {
		res.PendingPrompts = len(s.prompts.List())
	}
	return res
}

func (s *Server) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	pending := []promptResponse{}
	recent := []noticeResponse{}
	if s.prompts != nil {
		for _, p := range s.prompts.List() {
			pending = append(pending, promptResponse{
				ID:        p.ID,
				Title:     p.Title,
				Message:   p.Message,
				CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		for _, n := range s.prompts.Recent() {
			recent = append(recent, noticeResponse{
				Level:     n.Level,
				Title:     n.Title,
				Message:   n.Message,
				CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending": pending,
		"recent":  recent,
	})
}

func (s *Server) handleAckPrompt(w http.ResponseWriter, r *http.Request) {
	promptID := chi.URLParam(r, "promptID")
	if s.prompts == nil {
		writeError(w, http.StatusNotFound, "not_found", "prompt not found")
		return
	}
	if err := s.prompts.Ack(promptID); err != nil {
		if errors.Is(err, interact.ErrPromptNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "prompt not found")
			return
		}
		s.logger.Error("ack prompt", "prompt_id", promptID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to acknowledge prompt")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
