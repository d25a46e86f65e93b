package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"taskcron/internal/core"
)

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.svc.ListHistory(r.Context())
	if err != nil {
		s.logger.Error("list history", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list history")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ClearHistory(r.Context()); err != nil {
		s.logger.Error("clear history", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to clear history")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.GetConfig(r.Context()))
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req core.SettingsPatch
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	settings, err := s.svc.UpdateConfig(r.Context(), req)
	if err != nil {
		if errors.Is(err, core.ErrValidation) {
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		s.logger.Error("update config", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update config")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}
