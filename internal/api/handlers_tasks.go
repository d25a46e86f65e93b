package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"taskcron/internal/core"

	"github.com/go-chi/chi/v5"
)

type taskResponse struct {
	*core.Task
	Warnings []string `json:"warnings,omitempty"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req core.TaskInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	res, err := s.svc.CreateTask(r.Context(), req)
	if err != nil {
		s.writeTaskError(w, "create task", "", err)
		return
	}
	writeJSON(w, http.StatusCreated, taskResponse{Task: res.Task, Warnings: res.Warnings})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.svc.ListTasks(r.Context())
	if err != nil {
		s.logger.Error("list tasks", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list tasks")
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	task, err := s.svc.GetTask(r.Context(), taskID)
	if err != nil {
		s.writeTaskError(w, "get task", taskID, err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{Task: task, Warnings: core.Diagnose(task)})
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	var req core.TaskPatch
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	res, err := s.svc.UpdateTask(r.Context(), taskID, req)
	if err != nil {
		s.writeTaskError(w, "update task", taskID, err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{Task: res.Task, Warnings: res.Warnings})
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	removed, err := s.svc.DeleteTask(r.Context(), taskID)
	if err != nil {
		s.writeTaskError(w, "delete task", taskID, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "not_found", "task not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	entry, err := s.svc.ExecuteTaskNow(r.Context(), taskID)
	if err != nil {
		s.writeTaskError(w, "run task now", taskID, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleTaskHistory(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	entries, err := s.svc.TaskHistory(r.Context(), taskID, limit)
	if err != nil {
		s.logger.Error("list task history", "task_id", taskID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list history")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) writeTaskError(w http.ResponseWriter, op, taskID string, err error) {
	switch {
	case errors.Is(err, core.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "not_found", "task not found")
	case errors.Is(err, core.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	default:
		s.logger.Error(op, "task_id", taskID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to "+op)
	}
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
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
