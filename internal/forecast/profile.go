package forecast

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// Band overrides the base intensity between two times of day. End <= Start
// means the band crosses midnight.
type Band struct {
	Start time.Duration
	End   time.Duration
	Value float64
}

func (b Band) contains(tod time.Duration) bool {
	if b.End > b.Start {
		return tod >= b.Start && tod < b.End
	}
	return tod >= b.Start || tod < b.End
}

// Profile synthesizes a repeating daily forecast. It is used for demos,
// offline operation and tests.
type Profile struct {
	Location *time.Location
	Step     time.Duration
	Base     float64
	Bands    []Band
	// Zones restricts the profile to the listed zones. Empty serves every zone.
	Zones []string
}

func (p Profile) Forecast(ctx context.Context, zone string, from, to time.Time) (Forecast, error) {
	if err := ctx.Err(); err != nil {
		return Forecast{}, errors.Wrap(ErrUnavailable, err.Error())
	}
	if len(p.Zones) > 0 && !containsZone(p.Zones, zone) {
		return Forecast{}, errors.Wrapf(ErrUnavailable, "profile does not cover zone %q", zone)
	}
	if !to.After(from) {
		return Forecast{Zone: zone}, nil
	}
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	step := p.Step
	if step <= 0 {
		step = 15 * time.Minute
	}

	fc := Forecast{Zone: zone}
	for t := alignDown(from.In(loc), step); t.Before(to); t = t.Add(step) {
		fc.Samples = append(fc.Samples, Sample{Time: t, Value: p.valueAt(t)})
	}
	return fc, nil
}

func (p Profile) valueAt(t time.Time) float64 {
	y, m, d := t.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	tod := t.Sub(midnight)
	for _, b := range p.Bands {
		if b.contains(tod) {
			return b.Value
		}
	}
	return p.Base
}

// alignDown rounds t down to a multiple of step counted from local midnight.
func alignDown(t time.Time, step time.Duration) time.Time {
	y, m, d := t.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	off := t.Sub(midnight)
	return midnight.Add(off - off%step)
}

func containsZone(zones []string, zone string) bool {
	for _, z := range zones {
		if z == zone {
			return true
		}
	}
	return false
}
