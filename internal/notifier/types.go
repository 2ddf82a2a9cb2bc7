package notifier

import (
	"time"

	"greensched/internal/task/scheduler"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled bool
	// Events are the job event types that produce a notification, e.g.
	// "job.failed". Empty means DefaultEvents.
	Events          []string
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// DefaultEvents are the events worth waking someone up for.
var DefaultEvents = []string{scheduler.EventFailed, scheduler.EventMissed}

// Notification is one alert. It is also the webhook payload.
type Notification struct {
	Event string             `json:"event"`
	JobID string             `json:"job_id"`
	Text  string             `json:"text"`
	At    time.Time          `json:"at"`
	Job   scheduler.JobEvent `json:"job"`
}

// NotificationEvent is emitted on the event bus for notifier lifecycle events.
// Keep it small; Data may be logged/serialized by subscribers.
type NotificationEvent struct {
	Event string    `json:"event"`
	JobID string    `json:"job_id"`
	Key   string    `json:"key"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}

const (
	EventQueued  = "notify.queued"
	EventSent    = "notify.sent"
	EventFailed  = "notify.failed"
	EventDeduped = "notify.deduped"
	EventDropped = "notify.dropped"
)
