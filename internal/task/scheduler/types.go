package scheduler

import (
	"strings"
	"time"

	"greensched/internal/clock"
	"greensched/internal/eventbus"
	"greensched/internal/forecast"
	"greensched/internal/planner"
	"greensched/internal/task/engine"
	logx "greensched/pkg/logx"
)

// Config controls the scheduling engine.
type Config struct {
	// Enabled false registers jobs but never ticks.
	Enabled bool
	// Paused starts the engine globally paused.
	Paused bool
	// TickInterval <= 0 means ticks are driven by the caller through Evaluate.
	TickInterval time.Duration
	// ForecastRetryInterval limits how often a fallback occurrence is
	// re-planned while waiting. 0 retries on every tick.
	ForecastRetryInterval time.Duration
	// PlanWarnEvery throttles repeated planning errors per job.
	PlanWarnEvery time.Duration
}

func (c Config) withDefaults() Config {
	if c.PlanWarnEvery <= 0 {
		c.PlanWarnEvery = time.Minute
	}
	return c
}

// Deps are the collaborators of the Service. Dispatcher is required when any
// job has a blocking invoker.
type Deps struct {
	Clock      clock.Clock
	Forecast   forecast.Source
	Dispatcher *engine.Service
	Log        logx.Logger
	Bus        eventbus.Bus
}

type ConcurrencyPolicy string

const (
	// Proceed starts a new execution even while the previous one runs.
	Proceed ConcurrencyPolicy = "PROCEED"
	// Skip drops a due execution while the previous one runs.
	Skip ConcurrencyPolicy = "SKIP"
)

func ParseConcurrencyPolicy(s string) (ConcurrencyPolicy, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(Proceed):
		return Proceed, true
	case string(Skip):
		return Skip, true
	default:
		return "", false
	}
}

// Job is a validated registration unit. BuildJob produces one from a
// Definition.
type Job struct {
	ID          string
	Constraints planner.Constraints
	Invoker     Invoker
	Skip        SkipPredicate
	Policy      ConcurrencyPolicy
	Grace       time.Duration
	Paused      bool
}

func (j Job) validate() error {
	var ps []error
	if strings.TrimSpace(j.ID) == "" {
		ps = append(ps, errorf("job id must be specified"))
	}
	if j.Constraints == nil {
		ps = append(ps, errorf("constraints must be set"))
	}
	if j.Invoker == nil {
		ps = append(ps, errorf("invoker must be set"))
	}
	if j.Grace < 0 {
		ps = append(ps, errorf("overdue grace period must not be negative, got %s", j.Grace))
	}
	if _, ok := ParseConcurrencyPolicy(string(j.Policy)); !ok {
		ps = append(ps, errorf("unknown concurrent execution policy %q", j.Policy))
	}
	if len(ps) > 0 {
		return &ConfigurationError{JobID: j.ID, Problems: ps}
	}
	return nil
}

// Execution describes one firing. Period is nil for fallback and manual runs.
type Execution struct {
	ID                string          `json:"id"`
	JobID             string          `json:"job_id"`
	FireTime          time.Time       `json:"fire_time"`
	ScheduledFireTime time.Time       `json:"scheduled_fire_time"`
	Period            *planner.Period `json:"period,omitempty"`
	Fallback          bool            `json:"fallback"`
	Manual            bool            `json:"manual"`
}

// JobEvent is the payload of job.* bus events.
type JobEvent struct {
	JobID             string          `json:"job_id"`
	ExecutionID       string          `json:"execution_id,omitempty"`
	FireTime          time.Time       `json:"fire_time,omitempty"`
	ScheduledFireTime time.Time       `json:"scheduled_fire_time,omitempty"`
	Period            *planner.Period `json:"period,omitempty"`
	Fallback          bool            `json:"fallback,omitempty"`
	Manual            bool            `json:"manual,omitempty"`
	Duration          time.Duration   `json:"duration,omitempty"`
	Error             string          `json:"error,omitempty"`
}

const (
	EventPlanned   = "job.planned"
	EventFired     = "job.fired"
	EventSkipped   = "job.skipped"
	EventDropped   = "job.dropped"
	EventMissed    = "job.missed"
	EventCompleted = "job.completed"
	EventFailed    = "job.failed"
)
