package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"greensched/internal/task/scheduler"
)

type envelope struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, data any, err error) {
	resp := envelope{
		Status:    "ok",
		RequestID: requestIDFrom(r.Context()),
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	if err != nil {
		resp.Status = "error"
		resp.Error = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func respondOK(w http.ResponseWriter, r *http.Request, data any) {
	respondJSON(w, r, http.StatusOK, data, nil)
}

// respondError maps scheduler errors to HTTP statuses.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, scheduler.ErrJobRunning):
		status = http.StatusConflict
	case errors.Is(err, scheduler.ErrShutdown), errors.Is(err, scheduler.ErrNotStarted):
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, r, status, nil, err)
}
