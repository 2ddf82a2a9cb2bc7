package scheduler

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrShutdown     = errors.New("scheduler: shut down")
	ErrDuplicateJob = errors.New("scheduler: duplicate job id")
	ErrJobNotFound  = errors.New("scheduler: job not found")
	// ErrJobRunning is returned by Execute for a SKIP job with a run in flight.
	ErrJobRunning = errors.New("scheduler: job already running")
)

// ConfigurationError lists every problem found while building one job.
type ConfigurationError struct {
	JobID    string
	Problems []error
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "found %d validation error(s) while creating constraints for %s:", len(e.Problems), e.JobID)
	for _, p := range e.Problems {
		b.WriteString("\n  - ")
		b.WriteString(p.Error())
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() []error { return e.Problems }
