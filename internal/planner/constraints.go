package planner

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"greensched/internal/forecast"
)

// ErrCannotPlan means the forecast was unavailable or unusable for this
// occurrence. The cron fallback takes over. Errors returned by Plan are
// marked with it, so errors.Is also matches the underlying cause.
var ErrCannotPlan = errors.New("planner: cannot plan")

// ErrNoOccurrence means no eligible occurrence exists within the search horizon.
var ErrNoOccurrence = errors.New("planner: no eligible occurrence")

// maxSearchDays bounds the day-by-day occurrence search.
const maxSearchDays = 400

type Kind string

const (
	KindFixedWindow Kind = "fixed_window"
	KindSuccessive  Kind = "successive"
)

// Request carries the caller's view of time.
//
// Now is the current instant. After is the lower bound for the next
// occurrence: occurrences ending at or before it are already consumed or
// abandoned. LastStart is the previous run's start, zero before the first run.
type Request struct {
	Now       time.Time
	After     time.Time
	LastStart time.Time
}

func (r Request) after() time.Time {
	if r.After.IsZero() {
		return r.Now
	}
	return r.After
}

// Constraints describe when a job may run.
type Constraints interface {
	Kind() Kind
	Zone() string
	Location() *time.Location
	Duration() time.Duration

	// Plan computes the next Period. It returns an error marked with
	// ErrCannotPlan when the forecast cannot be used.
	Plan(ctx context.Context, src forecast.Source, req Request) (Period, error)

	// Fallback returns the next deterministic fire instant strictly after
	// req.After.
	Fallback(req Request) (time.Time, bool)

	// FallbackEnd is the instant a fallback run at at consumes eligibility
	// up to. Nothing ending at or before it is planned again.
	FallbackEnd(at time.Time) time.Time

	String() string
}

func cannotPlan(cause error, msg string) error {
	if cause == nil {
		return errors.Wrap(ErrCannotPlan, msg)
	}
	return errors.Mark(errors.Wrap(cause, msg), ErrCannotPlan)
}

// IsCannotPlan reports whether err means the fallback should be used.
func IsCannotPlan(err error) bool { return errors.Is(err, ErrCannotPlan) }
