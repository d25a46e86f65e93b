package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const eventsKeepAlive = 30 * time.Second

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.SchedulerStatus(r.Context()))
}

func (s *Server) handleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.StartScheduler(r.Context()); err != nil {
		s.logger.Error("start scheduler", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to start scheduler")
		return
	}
	writeJSON(w, http.StatusOK, s.svc.SchedulerStatus(r.Context()))
}

func (s *Server) handleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	s.svc.StopScheduler(r.Context())
	writeJSON(w, http.StatusOK, s.svc.SchedulerStatus(r.Context()))
}

func (s *Server) handleSchedulerReload(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ReloadScheduler(r.Context()); err != nil {
		s.logger.Error("reload scheduler", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to reload scheduler")
		return
	}
	writeJSON(w, http.StatusOK, s.svc.SchedulerStatus(r.Context()))
}

// handleEvents streams taskExecuted events as server-sent events. Events
// published while no client is connected are not replayed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusBadRequest, "unsupported", "streaming not supported")
		return
	}
	events, unsubscribe := s.svc.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(eventsKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("encode event", "err", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
