package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greensched/internal/config"
	"greensched/internal/eventbus"
	"greensched/internal/forecast"
	"greensched/internal/planner"
	"greensched/internal/storage"
	"greensched/internal/task/scheduler"
	logx "greensched/pkg/logx"
)

func TestForecastSource(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     config.ForecastConfig
		want    any
		wantErr string
	}{
		{name: "none", cfg: config.ForecastConfig{}, want: forecast.Disabled{}},
		{name: "static", cfg: config.ForecastConfig{Driver: "static", Series: map[string][]config.SampleConfig{
			"NL": {{Time: "2024-06-03T02:00:00Z", Value: 50}, {Time: "2024-06-03T01:00:00Z", Value: 80}},
		}}, want: forecast.Static{}},
		{name: "profile", cfg: config.ForecastConfig{Driver: "profile", Profile: &config.ProfileConfig{
			Base: 300, Bands: []config.BandConfig{{From: "02:00", To: "03:00", Value: 50}},
		}}, want: forecast.Profile{}},
		{name: "http", cfg: config.ForecastConfig{Driver: "http", HTTP: &config.HTTPForecastConfig{BaseURL: "http://127.0.0.1:1"}}, want: &forecast.HTTP{}},
		{name: "http without url", cfg: config.ForecastConfig{Driver: "http"}, wantErr: "base_url"},
		{name: "bad band", cfg: config.ForecastConfig{Driver: "profile", Profile: &config.ProfileConfig{
			Bands: []config.BandConfig{{From: "25:00", To: "03:00"}},
		}}, wantErr: "bands[0].from"},
		{name: "unknown", cfg: config.ForecastConfig{Driver: "carrier-pigeon"}, wantErr: "unknown driver"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			src, err := forecastSource(&config.Config{Forecast: tc.cfg})
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tc.want, src)
		})
	}
}

func TestStaticSeriesIsSorted(t *testing.T) {
	t.Parallel()

	src, err := forecastSource(&config.Config{Forecast: config.ForecastConfig{Driver: "static", Series: map[string][]config.SampleConfig{
		"NL": {{Time: "2024-06-03T02:00:00Z", Value: 50}, {Time: "2024-06-03T01:00:00Z", Value: 80}},
	}}})
	require.NoError(t, err)
	samples := src.(forecast.Static).Series["NL"]
	require.Len(t, samples, 2)
	assert.True(t, samples[0].Time.Before(samples[1].Time))
}

func TestBuildJobsJoinsProblems(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Jobs: []config.JobConfig{
		{ID: "ok", FixedWindow: "01:00 05:00", Duration: "1h", CarbonIntensityZone: "NL", Run: "log"},
		{ID: "no-window", Duration: "1h", CarbonIntensityZone: "NL", Run: "log"},
		{ID: "no-zone", FixedWindow: "01:00 05:00", Duration: "1h", Run: "log"},
	}}
	jobs, err := BuildJobs(cfg, nil, logx.Nop(), time.Now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-window")
	assert.Contains(t, err.Error(), "no-zone")
	require.Len(t, jobs, 1)
	assert.Equal(t, "ok", jobs[0].ID)
}

func TestStorageConfig(t *testing.T) {
	t.Parallel()

	_, enabled, err := storageConfig(&config.Config{})
	require.NoError(t, err)
	assert.False(t, enabled)

	sc, enabled, err := storageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "SQLite", Path: " runs.db "}})
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, storage.Config{Driver: "sqlite", Path: "runs.db", BusyTimeout: defaultBusyTimeout}, sc)

	_, _, err = storageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "sqlite", BusyTimeout: "soon"}})
	assert.Error(t, err)
}

func TestToRecord(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 6, 3, 2, 30, 0, 0, time.UTC)
	period := &planner.Period{
		Start: at.Add(-30 * time.Minute), End: at,
		WindowStart: at.Add(-2 * time.Hour), WindowEnd: at.Add(2 * time.Hour),
		Zone: "NL", Intensity: 42,
	}
	rec, ok := toRecord(eventbus.Event{Type: scheduler.EventCompleted, Time: at, Data: scheduler.JobEvent{
		JobID: "backup", ExecutionID: "e1", FireTime: period.Start, Period: period, Duration: 1500 * time.Millisecond,
	}})
	require.True(t, ok)
	assert.Equal(t, storage.Record{
		At: at, Event: scheduler.EventCompleted, JobID: "backup", ExecutionID: "e1", FireTime: period.Start,
		Zone: "NL", WindowStart: period.WindowStart, WindowEnd: period.WindowEnd, Intensity: 42, TookMS: 1500,
	}, rec)

	_, ok = toRecord(eventbus.Event{Type: scheduler.EventPlanned, Time: at, Data: scheduler.JobEvent{JobID: "backup"}})
	assert.False(t, ok)
	_, ok = toRecord(eventbus.Event{Type: scheduler.EventFired, Time: at, Data: "not a job event"})
	assert.False(t, ok)
}

func TestPreviewPlansGreenestSlot(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{Enabled: true},
		Forecast: config.ForecastConfig{Driver: "profile", Profile: &config.ProfileConfig{
			Base: 300, Step: "15m", Bands: []config.BandConfig{{From: "02:00", To: "03:00", Value: 50}},
		}},
		Jobs: []config.JobConfig{{ID: "backup", FixedWindow: "00:00 06:00", Duration: "30m", CarbonIntensityZone: "NL", Run: "log"}},
	}
	now := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)

	infos, err := Preview(context.Background(), cfg, now)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "backup", infos[0].ID)
	assert.False(t, infos[0].Fallback)
	assert.False(t, infos[0].Paused)
	assert.Equal(t, time.Date(2024, 6, 4, 2, 0, 0, 0, time.UTC), infos[0].NextFire.UTC())
	require.NotNil(t, infos[0].Period)
	assert.InDelta(t, 50, infos[0].Period.Intensity, 0.001)
	assert.Zero(t, infos[0].Fired)
}

const appConfig = `{
  "logging": {"level": "error"},
  "scheduler": {"enabled": true, "tick_interval": "50ms", "stop_timeout": "2s"},
  "storage": {"driver": "file", "path": %q},
  "jobs": [
    {"id": "backup", "fixed_window": "01:00 05:00", "duration": "1h", "carbon_intensity_zone": "NL", "run": "log"},
    {"id": "report", "fixed_window": "06:00 08:00", "duration": "30m", "carbon_intensity_zone": "NL", "run": "log"%s}
  ]
}`

func writeAppConfig(t *testing.T, path, history, reportExtra string) {
	t.Helper()
	body := []byte(fmt.Sprintf(appConfig, history, reportExtra))
	require.NoError(t, os.WriteFile(path, body, 0o600))
}

func TestAppLifecycleAndReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "greensched.json")
	writeAppConfig(t, path, filepath.Join(dir, "history.jsonl"), "")

	a, err := New(path)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	require.Len(t, a.Scheduler().Jobs(), 2)
	paused, err := a.Scheduler().IsPaused("report")
	require.NoError(t, err)
	assert.False(t, paused)

	// A pause-only change keeps the registration.
	writeAppConfig(t, path, filepath.Join(dir, "history.jsonl"), `, "paused": true`)
	// The watcher may get there first; either way the change is applied once.
	_, err = a.cfgm.Reload(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		p, err := a.Scheduler().IsPaused("report")
		return err == nil && p
	}, 5*time.Second, 10*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))
	assert.True(t, a.Scheduler().Snapshot().Shutdown)
}

func TestReloadRejectsBrokenJobs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "greensched.json")
	writeAppConfig(t, path, filepath.Join(dir, "history.jsonl"), "")

	a, err := New(path)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer func() { _ = a.Stop(context.Background(), StopAppStop) }()

	writeAppConfig(t, path, filepath.Join(dir, "history.jsonl"), `, "duration": "-1h"`)
	_, err = a.cfgm.Reload(ctx)
	require.Error(t, err)
	assert.Len(t, a.Scheduler().Jobs(), 2)
}
