package config

import "encoding/json"

// Config is the greensched configuration file.
//
// JSON is the canonical form. YAML and TOML files are converted to JSON and
// then decoded strictly, so unknown keys are rejected for every format.
type Config struct {
	Logging    LoggingConfig     `json:"logging"`
	Scheduler  SchedulerConfig   `json:"scheduler"`
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`
	Forecast   ForecastConfig    `json:"forecast"`
	Storage    *StorageConfig    `json:"storage,omitempty"`
	Admin      AdminConfig       `json:"admin"`
	Notify     NotifyConfig      `json:"notify"`
	Jobs       []JobConfig       `json:"jobs"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert posts warn-and-above records to a webhook.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	URL        string `json:"url,omitempty"` // may carry a secret; never logged
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
}

// SchedulerConfig controls the scheduling engine.
//
// Durations are Go duration strings (e.g. "1s", "5m"). Defaults:
//   - tick_interval: "1s"
//   - default_overdue_grace: "0s"
//   - forecast_retry_interval: "5m"
//   - stop_timeout: "30s"
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	Paused  bool `json:"paused,omitempty"`

	// Timezone is the IANA zone used by jobs that do not set time_zone.
	Timezone string `json:"timezone,omitempty"`

	TickInterval          string `json:"tick_interval,omitempty"`
	DefaultOverdueGrace   string `json:"default_overdue_grace,omitempty"`
	ForecastRetryInterval string `json:"forecast_retry_interval,omitempty"`
	StopTimeout           string `json:"stop_timeout,omitempty"`
}

// TaskEngineConfig sizes the worker pool that runs blocking jobs.
//
// Defaults: workers 4, queue_size 256, history_size 200.
type TaskEngineConfig struct {
	Workers     int `json:"workers,omitempty"`
	QueueSize   int `json:"queue_size,omitempty"`
	HistorySize int `json:"history_size,omitempty"`
}

// ForecastConfig selects the carbon-intensity source.
//
// Driver values:
//   - "none" or "": no forecast; every job uses its cron fallback
//   - "static": fixed sample series per zone
//   - "profile": a repeating daily profile built from bands
//   - "http": a remote forecast API
type ForecastConfig struct {
	Driver  string                    `json:"driver"`
	Series  map[string][]SampleConfig `json:"series,omitempty"`
	Profile *ProfileConfig            `json:"profile,omitempty"`
	HTTP    *HTTPForecastConfig       `json:"http,omitempty"`
}

type SampleConfig struct {
	Time  string  `json:"time"` // RFC 3339
	Value float64 `json:"value"`
}

type ProfileConfig struct {
	Timezone string       `json:"timezone,omitempty"`
	Step     string       `json:"step,omitempty"`
	Base     float64      `json:"base"`
	Bands    []BandConfig `json:"bands,omitempty"`
	Zones    []string     `json:"zones,omitempty"`
}

// BandConfig overrides the base between two times of day ("HH:MM").
type BandConfig struct {
	From  string  `json:"from"`
	To    string  `json:"to"`
	Value float64 `json:"value"`
}

type HTTPForecastConfig struct {
	BaseURL    string `json:"base_url"`
	Token      string `json:"token,omitempty"` // never logged
	Timeout    string `json:"timeout,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	CacheTTL   string `json:"cache_ttl,omitempty"`
}

// StorageConfig controls the execution history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/greensched.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// AdminConfig controls the HTTP admin API.
//
// Prefer binding to localhost. A non-loopback address requires a token.
type AdminConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default: "127.0.0.1:8089"
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)
	Pprof   bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

// NotifyConfig sends job alerts to a webhook.
//
// Example:
//
//	"notify": { "enabled": true, "url": "https://hooks.example.com/x", "events": ["failed", "missed"] }
type NotifyConfig struct {
	Enabled bool              `json:"enabled"`
	URL     string            `json:"url,omitempty"` // never logged
	Headers map[string]string `json:"headers,omitempty"`
	// Events are job event names without the "job." prefix.
	// Default: failed, missed.
	Events      []string `json:"events,omitempty"`
	RatePerSec  int      `json:"rate_per_sec,omitempty"`
	RetryMax    int      `json:"retry_max,omitempty"`
	DedupWindow string   `json:"dedup_window,omitempty"`
	Timeout     string   `json:"timeout,omitempty"`
}

// JobConfig declares one job: when it may run and what it runs.
//
// The constraint fields mirror scheduler.Definition; durations there accept
// both Go ("2h") and ISO 8601 ("PT2H") syntax.
type JobConfig struct {
	ID                  string `json:"id"`
	FixedWindow         string `json:"fixed_window,omitempty"`
	Successive          string `json:"successive,omitempty"`
	Duration            string `json:"duration,omitempty"`
	DayOfWeek           string `json:"day_of_week,omitempty"`
	DayOfMonth          string `json:"day_of_month,omitempty"`
	Cron                string `json:"cron,omitempty"`
	TimeZone            string `json:"time_zone,omitempty"`
	CarbonIntensityZone string `json:"carbon_intensity_zone,omitempty"`
	OverdueGracePeriod  string `json:"overdue_grace_period,omitempty"`
	ConcurrentExecution string `json:"concurrent_execution,omitempty"`
	Paused              bool   `json:"paused,omitempty"`

	// Run selects the invoker: "command", "webhook", "systemd" or "log".
	Run     string          `json:"run"`
	Timeout string          `json:"timeout,omitempty"`
	Command *CommandConfig  `json:"command,omitempty"`
	Webhook *WebhookConfig  `json:"webhook,omitempty"`
	Systemd *SystemdConfig  `json:"systemd,omitempty"`
	Log     json.RawMessage `json:"log,omitempty"`
}

type CommandConfig struct {
	// Line is split with shell quoting rules; it is not run through a shell.
	Line string            `json:"line"`
	Dir  string            `json:"dir,omitempty"`
	Env  map[string]string `json:"env,omitempty"`
}

type WebhookConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"` // default POST
	Headers map[string]string `json:"headers,omitempty"`
	// Async returns as soon as the request is sent instead of using a worker.
	Async bool `json:"async,omitempty"`
}

// SystemdConfig starts a unit over D-Bus. A Type=oneshot service makes the
// run last until the service exits.
type SystemdConfig struct {
	Unit string `json:"unit"`
	Mode string `json:"mode,omitempty"` // default "replace"
	// User talks to the per-user manager instead of the system one.
	User bool `json:"user,omitempty"`
}
