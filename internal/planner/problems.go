package planner

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Problems is a list of independent validation failures.
type Problems []error

func (p Problems) Error() string {
	msgs := make([]string, 0, len(p))
	for _, err := range p {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

func (p Problems) Unwrap() []error { return p }

// Err returns p as an error, or nil when p is empty.
func (p Problems) Err() error {
	if len(p) == 0 {
		return nil
	}
	return p
}

// The checks below are shared by the spec validators and by callers that
// validate fields one by one before a spec can be assembled.

func CheckDuration(d time.Duration) error {
	if d > 0 {
		return nil
	}
	return errors.WithHint(
		errors.Newf("duration must be positive, got %s", d),
		"duration is how long the job may run once started")
}

func CheckZone(zone string) error {
	if zone != "" {
		return nil
	}
	return errors.WithHint(
		errors.New("carbon intensity zone must be specified"),
		`set carbonIntensityZone, e.g. "NL"`)
}

// CheckCron accepts an empty expression: the fallback is then computed.
func CheckCron(expr string) error {
	if expr == "" {
		return nil
	}
	_, err := ParseCron(expr)
	return err
}

func CheckGaps(initialDelay, minGap, maxGap time.Duration) Problems {
	var ps Problems
	if initialDelay < 0 {
		ps = append(ps, errors.Newf("initial maximum delay must not be negative, got %s", initialDelay))
	}
	if minGap <= 0 {
		ps = append(ps, errors.WithHint(
			errors.Newf("minimum gap must be positive, got %s", minGap),
			"a zero gap would let the next run start at the same instant as the previous one"))
	}
	if maxGap < minGap {
		ps = append(ps, errors.Newf("minimum gap %s must not exceed maximum gap %s", minGap, maxGap))
	}
	return ps
}

func (p Problems) add(err error) Problems {
	if err == nil {
		return p
	}
	return append(p, err)
}
