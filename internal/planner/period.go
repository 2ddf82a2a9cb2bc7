package planner

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

// Period is a planned run. Start and End lie inside [WindowStart, WindowEnd].
// Intensity is the mean carbon intensity over [Start, End), or zero when the
// period was produced without consulting the forecast.
type Period struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Zone        string    `json:"zone"`
	Intensity   float64   `json:"intensity,omitempty"`
}

func (p Period) IsZero() bool { return p.Start.IsZero() && p.End.IsZero() }

// Validate checks the required fields.
func (p Period) Validate() error {
	switch {
	case p.Start.IsZero():
		return errors.New("period: start time is required")
	case p.End.IsZero():
		return errors.New("period: end time is required")
	case p.Zone == "":
		return errors.New("period: carbon intensity zone is required")
	case p.End.Before(p.Start):
		return errors.Newf("period: end %s is before start %s", p.End.Format(time.RFC3339), p.Start.Format(time.RFC3339))
	}
	return nil
}

func (p Period) String() string {
	return fmt.Sprintf("%s %s..%s (window %s..%s)", p.Zone,
		p.Start.Format(time.RFC3339), p.End.Format(time.RFC3339),
		p.WindowStart.Format(time.RFC3339), p.WindowEnd.Format(time.RFC3339))
}
