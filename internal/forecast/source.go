// Package forecast defines the carbon-intensity provider boundary.
//
// The scheduler only consumes Source. Adapters in this package cover the
// disabled case, in-memory series, a daily profile and an HTTP provider.
package forecast

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrUnavailable means the provider could not be consulted. Callers treat it
// exactly like a disabled provider.
var ErrUnavailable = errors.New("forecast: unavailable")

// Sample is one intensity reading. It holds until the next sample's Time.
type Sample struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

type Forecast struct {
	Zone    string   `json:"zone"`
	Samples []Sample `json:"samples"`
}

// Usable reports whether the forecast has at least one sample.
func (f Forecast) Usable() bool { return len(f.Samples) > 0 }

// Window returns the samples relevant to [from, to): the last sample at or
// before from (it covers from) and every sample strictly inside the range.
func (f Forecast) Window(from, to time.Time) Forecast {
	out := Forecast{Zone: f.Zone}
	i := sort.Search(len(f.Samples), func(i int) bool { return f.Samples[i].Time.After(from) })
	if i > 0 {
		out.Samples = append(out.Samples, f.Samples[i-1])
	}
	for ; i < len(f.Samples) && f.Samples[i].Time.Before(to); i++ {
		out.Samples = append(out.Samples, f.Samples[i])
	}
	return out
}

// Source returns ordered samples for zone covering [from, to).
type Source interface {
	Forecast(ctx context.Context, zone string, from, to time.Time) (Forecast, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, zone string, from, to time.Time) (Forecast, error)

func (f SourceFunc) Forecast(ctx context.Context, zone string, from, to time.Time) (Forecast, error) {
	return f(ctx, zone, from, to)
}

// Disabled always reports ErrUnavailable.
type Disabled struct{}

func (Disabled) Forecast(context.Context, string, time.Time, time.Time) (Forecast, error) {
	return Forecast{}, errors.Wrap(ErrUnavailable, "forecast source disabled")
}

// Static serves fixed series per zone. Missing zones are unavailable.
type Static struct {
	Series map[string][]Sample
}

func (s Static) Forecast(_ context.Context, zone string, from, to time.Time) (Forecast, error) {
	samples, ok := s.Series[zone]
	if !ok || len(samples) == 0 {
		return Forecast{}, errors.Wrapf(ErrUnavailable, "no series for zone %q", zone)
	}
	sorted := append([]Sample(nil), samples...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })
	return Forecast{Zone: zone, Samples: sorted}.Window(from, to), nil
}

// ObserverFunc receives the outcome of every call made through Observe.
type ObserverFunc func(zone string, took time.Duration, err error)

// Observe wraps src and reports each call to fn.
func Observe(src Source, fn ObserverFunc) Source {
	if src == nil {
		src = Disabled{}
	}
	if fn == nil {
		return src
	}
	return SourceFunc(func(ctx context.Context, zone string, from, to time.Time) (Forecast, error) {
		start := time.Now()
		fc, err := src.Forecast(ctx, zone, from, to)
		fn(zone, time.Since(start), err)
		return fc, err
	})
}
