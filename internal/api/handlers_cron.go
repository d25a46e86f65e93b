package api

import (
	"encoding/json"
	"net/http"
	"time"
)

type cronPreviewRequest struct {
	Expr  string     `json:"expr"`
	From  *time.Time `json:"now,omitempty"`
	Count int        `json:"count,omitempty"`
}

type cronPreviewResponse struct {
	Valid    bool        `json:"valid"`
	TimeZone string      `json:"timeZone,omitempty"`
	Next     []time.Time `json:"next_times,omitempty"`
	Message  string      `json:"message,omitempty"`
}

// handleCronPreview reports whether expr parses and, if so, its next fire
// times in the scheduler's zone. An unparsable expression is not a request
// error; it is answered with valid=false.
func (s *Server) handleCronPreview(w http.ResponseWriter, r *http.Request) {
	var req cronPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload (now must be RFC 3339)")
		return
	}
	if req.Expr == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "expr is required")
		return
	}
	from := time.Now()
	if req.From != nil {
		from = *req.From
	}

	next, err := s.svc.PreviewCron(req.Expr, from, req.Count)
	if err != nil {
		writeJSON(w, http.StatusOK, cronPreviewResponse{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, cronPreviewResponse{
		Valid:    true,
		TimeZone: s.svc.Location().String(),
		Next:     next,
	})
}
