package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fintelcore/fintel/internal/taskengine"
)

// createTaskRequest is the POST /api/tasks body.
type createTaskRequest struct {
	UserID   string         `json:"user_id"`
	TaskType string         `json:"task_type"`
	Params   map[string]any `json:"params"`
	Priority int            `json:"priority"`
}

// handleCreateTask decides the dispatch outcome for the request and enqueues
// the task. Stock requests check the shared daily cache first, then look for
// an in-flight sibling computing the same (ticker, style); only when both
// miss does a fresh analysis run.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req := taskengine.CreateRequest{
		UserID:      body.UserID,
		TaskType:    body.TaskType,
		InputParams: body.Params,
		Priority:    body.Priority,
	}

	dispatch := "fresh"
	if body.TaskType == taskengine.TypeStockAnalysis {
		ticker, _ := body.Params["ticker"].(string)
		style, _ := body.Params["style"].(string)

		if ticker != "" && style != "" {
			row, err := s.cacheRepo.Get(ticker, style, taskengine.Today())
			if err != nil {
				s.writeError(w, http.StatusInternalServerError, "dispatch lookup failed")
				return
			}
			if row != nil {
				req.CacheMode = taskengine.CacheModeCached
				req.CachedData = row.Payload
				dispatch = "cached"
			} else {
				sibling, err := s.taskRepo.FindActiveSibling(ticker, style, "")
				if err != nil {
					s.writeError(w, http.StatusInternalServerError, "dispatch lookup failed")
					return
				}
				if sibling != nil {
					req.CacheMode = taskengine.CacheModeWaiting
					req.SourceTaskID = sibling.ID
					dispatch = "waiting"
				}
			}
		}
	}

	taskID, err := s.engine.CreateTask(r.Context(), req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"task_id":  taskID,
		"status":   taskengine.StatusPending,
		"dispatch": dispatch,
	})
}

// handleGetTask returns one task row.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.engine.GetTaskStatus(chi.URLParam(r, "id"))
	if errors.Is(err, taskengine.ErrTaskNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

// handleListTasks returns a user's recent tasks, newest first.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	status := taskengine.Status(r.URL.Query().Get("status"))

	tasks, err := s.engine.GetUserTasks(userID, limit, status)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load tasks")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": tasks,
		"count": len(tasks),
	})
}
