package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Retain bounds the records kept per store. 0 means DefaultRetain.
	Retain int
}

const DefaultRetain = 10000

// Record is one entry of a job's execution history: a fire, its outcome, or
// an occurrence that did not run. Keep it compact and schema-stable.
type Record struct {
	At                time.Time `json:"at"`
	Event             string    `json:"event"`
	JobID             string    `json:"job_id"`
	ExecutionID       string    `json:"execution_id,omitempty"`
	FireTime          time.Time `json:"fire_time,omitempty"`
	ScheduledFireTime time.Time `json:"scheduled_fire_time,omitempty"`
	Zone              string    `json:"zone,omitempty"`
	WindowStart       time.Time `json:"window_start,omitempty"`
	WindowEnd         time.Time `json:"window_end,omitempty"`
	Intensity         float64   `json:"intensity,omitempty"`
	Fallback          bool      `json:"fallback,omitempty"`
	Manual            bool      `json:"manual,omitempty"`
	TookMS            int64     `json:"took_ms,omitempty"`
	Error             string    `json:"error,omitempty"`
}

// Query selects records, newest first. Empty JobID matches every job and
// Limit <= 0 means DefaultLimit.
type Query struct {
	JobID string
	Limit int
}

const DefaultLimit = 100

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	return q.Limit
}
