package engine

import (
	"context"
	"time"
)

// Config sizes the dispatcher that runs blocking invocations.
type Config struct {
	Workers     int
	QueueSize   int
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// Task is one unit of work.
//
// OnDone is called exactly once for every task accepted by Enqueue: with
// Run's result, or with ErrStopped when the dispatcher stops before the
// task starts.
type Task struct {
	ID     string
	Name   string
	Run    func(ctx context.Context) error
	OnDone func(err error)
}

type HistoryItem struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// TaskEvent is the payload of task.* bus events.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

type Snapshot struct {
	Running          bool          `json:"running"`
	Workers          int           `json:"workers"`
	QueueLen         int           `json:"queue_len"`
	QueueCap         int           `json:"queue_cap"`
	InFlight         int           `json:"in_flight"`
	Completed        uint64        `json:"completed"`
	Failed           uint64        `json:"failed"`
	DroppedQueueFull uint64        `json:"dropped_queue_full"`
	History          []HistoryItem `json:"history"`
}
