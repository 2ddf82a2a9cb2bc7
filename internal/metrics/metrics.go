// Package metrics exports scheduler activity as Prometheus collectors.
package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"greensched/internal/eventbus"
	"greensched/internal/notifier"
	"greensched/internal/task/engine"
	"greensched/internal/task/scheduler"
)

const namespace = "greensched"

// Metrics holds every collector. Collectors are registered on the registry
// passed to New, so several instances can coexist in tests.
type Metrics struct {
	reg *prometheus.Registry

	jobEvents        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	plannedIntensity *prometheus.GaugeVec
	nextFire         *prometheus.GaugeVec
	taskEvents       *prometheus.CounterVec
	notifications    *prometheus.CounterVec

	forecastRequests *prometheus.CounterVec
	forecastDuration *prometheus.HistogramVec
}

// Sources feed the gauges that are read on scrape.
type Sources struct {
	Scheduler *scheduler.Service
	Engine    *engine.Service
	Bus       eventbus.Bus
}

func New(src Sources) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	m := &Metrics{
		reg: reg,
		jobEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_events_total",
			Help:      "Scheduler events by job and type (fired, skipped, dropped, missed, completed, failed).",
		}, []string{"job", "event"}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_run_duration_seconds",
			Help:      "Duration of finished job runs.",
			Buckets:   []float64{.1, .5, 1, 5, 15, 60, 300, 900, 3600, 4 * 3600},
		}, []string{"job"}),
		plannedIntensity: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_planned_intensity",
			Help:      "Mean forecast carbon intensity of the job's planned period.",
		}, []string{"job", "zone"}),
		nextFire: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_next_fire_timestamp_seconds",
			Help:      "Unix time of the job's next planned fire.",
		}, []string{"job"}),
		taskEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_task_events_total",
			Help:      "Worker pool task events by type.",
		}, []string{"event"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Job alerts by outcome (queued, sent, failed, deduped, dropped).",
		}, []string{"result"}),
		forecastRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecast_requests_total",
			Help:      "Forecast lookups by zone and result.",
		}, []string{"zone", "result"}),
		forecastDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forecast_request_duration_seconds",
			Help:      "Forecast lookup latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"zone"}),
	}

	if src.Scheduler != nil {
		sched := src.Scheduler
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running_jobs",
			Help:      "Job runs currently in progress.",
		}, func() float64 { return float64(sched.Snapshot().Running) })
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_paused",
			Help:      "1 when the scheduler is globally paused.",
		}, func() float64 {
			if sched.Snapshot().Paused {
				return 1
			}
			return 0
		})
	}
	if src.Engine != nil {
		eng := src.Engine
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_queue_depth",
			Help:      "Tasks waiting for a worker.",
		}, func() float64 { return float64(eng.Snapshot().QueueLen) })
	}
	if src.Bus != nil {
		bus := src.Bus
		f.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eventbus_dropped_total",
			Help:      "Events lost to slow subscribers.",
		}, func() float64 { return float64(bus.Dropped()) })
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ObserveForecast matches forecast.ObserverFunc.
func (m *Metrics) ObserveForecast(zone string, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.forecastRequests.WithLabelValues(zone, result).Inc()
	m.forecastDuration.WithLabelValues(zone).Observe(took.Seconds())
}

// Observe updates collectors from one bus event.
func (m *Metrics) Observe(e eventbus.Event) {
	switch ev := e.Data.(type) {
	case scheduler.JobEvent:
		m.observeJob(e.Type, ev)
	case engine.TaskEvent:
		m.taskEvents.WithLabelValues(strings.TrimPrefix(e.Type, "task.")).Inc()
	case notifier.NotificationEvent:
		m.notifications.WithLabelValues(strings.TrimPrefix(e.Type, "notify.")).Inc()
	}
}

func (m *Metrics) observeJob(typ string, ev scheduler.JobEvent) {
	switch typ {
	case scheduler.EventPlanned:
		if ev.Period != nil {
			m.plannedIntensity.WithLabelValues(ev.JobID, ev.Period.Zone).Set(ev.Period.Intensity)
		}
		if !ev.ScheduledFireTime.IsZero() {
			m.nextFire.WithLabelValues(ev.JobID).Set(float64(ev.ScheduledFireTime.Unix()))
		}
		return
	case scheduler.EventCompleted, scheduler.EventFailed:
		m.runDuration.WithLabelValues(ev.JobID).Observe(ev.Duration.Seconds())
	}
	m.jobEvents.WithLabelValues(ev.JobID, strings.TrimPrefix(typ, "job.")).Inc()
}

// Run consumes job, task and notifier events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256, "job.", "task.", "notify.")
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}
