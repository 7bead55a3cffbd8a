package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/spider-orchestrator/internal/tasks"
)

type runSpiderRequest struct {
	SpiderName   string       `json:"spider_name"`
	SpiderKwargs tasks.Kwargs `json:"spider_kwargs"`
	Priority     *int         `json:"priority"`
	Timeout      *int         `json:"timeout"`
}

type runSpiderResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type pagination struct {
	Start   int   `json:"start"`
	Limit   int   `json:"limit"`
	Total   int64 `json:"total"`
	HasMore bool  `json:"has_more"`
}

type resultsResponse struct {
	TaskID     string            `json:"task_id"`
	Items      []json.RawMessage `json:"items"`
	Pagination pagination        `json:"pagination"`
}

func (s *Server) runSpider(w http.ResponseWriter, r *http.Request) {
	var req runSpiderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.SpiderName == "" {
		writeError(w, http.StatusBadRequest, "spider_name is required")
		return
	}
	// priority and timeout are accepted for compatibility and bounds-checked,
	// but scheduling does not use them yet.
	if req.Priority != nil && (*req.Priority < 1 || *req.Priority > 10) {
		writeError(w, http.StatusBadRequest, "priority must be between 1 and 10")
		return
	}
	if req.Timeout != nil && *req.Timeout < 60 {
		writeError(w, http.StatusBadRequest, "timeout must be at least 60 seconds")
		return
	}

	record, err := s.orch.Start(r.Context(), req.SpiderName, req.SpiderKwargs)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, runSpiderResponse{
		TaskID:  record.TaskID,
		Status:  "started",
		Message: fmt.Sprintf("spider %s started", req.SpiderName),
	})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	record, err := s.orch.Status(r.Context(), chi.URLParam(r, "task_id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	all, err := s.orch.List(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (s *Server) getResults(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")

	start, err := queryInt(r, "start", 0)
	if err != nil || start < 0 {
		writeError(w, http.StatusBadRequest, "start must be a non-negative integer")
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil || limit < 1 || limit > 1000 {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
		return
	}

	window, err := s.orch.Results(r.Context(), taskID, start, limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	items := window.Items
	if items == nil {
		items = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, resultsResponse{
		TaskID: taskID,
		Items:  items,
		Pagination: pagination{
			Start:   start,
			Limit:   limit,
			Total:   window.Total,
			HasMore: window.HasMore,
		},
	})
}

func (s *Server) stopTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	if err := s.orch.Stop(r.Context(), taskID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "stop request sent", "task_id": taskID})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.orch.Stats(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}
