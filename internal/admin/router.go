package admin

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"greensched/internal/storage"
	"greensched/internal/task/scheduler"
	logx "greensched/pkg/logx"
)

// Deps are the components the admin API exposes. History and Metrics are
// optional.
type Deps struct {
	Scheduler *scheduler.Service
	History   storage.Store
	Metrics   http.Handler
	Log       logx.Logger
}

// Router builds the admin HTTP handler.
//
//	GET  /healthz                      liveness, no auth
//	GET  /metrics                      Prometheus exposition
//	GET  /api/v1/status                scheduler snapshot
//	POST /api/v1/pause | /resume       global pause
//	GET  /api/v1/jobs                  every job
//	GET  /api/v1/jobs/{id}             one job
//	GET  /api/v1/jobs/{id}/history     recent executions (?limit=)
//	POST /api/v1/jobs/{id}/run         execute now
//	POST /api/v1/jobs/{id}/pause       pause one job
//	POST /api/v1/jobs/{id}/resume      resume one job
//	     /debug/pprof/*                profiling, when enabled
func Router(cfg Config, deps Deps) http.Handler {
	h := &handlers{sched: deps.Scheduler, history: deps.History, log: deps.Log}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(requestLogger(deps.Log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(cfg.Token))

		if deps.Metrics != nil {
			r.Method(http.MethodGet, "/metrics", deps.Metrics)
		}
		if cfg.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/status", h.status)
			r.Post("/pause", h.pauseAll)
			r.Post("/resume", h.resumeAll)
			r.Route("/jobs", func(r chi.Router) {
				r.Get("/", h.listJobs)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.getJob)
					r.Get("/history", h.jobHistory)
					r.Post("/run", h.runJob)
					r.Post("/pause", h.pauseJob)
					r.Post("/resume", h.resumeJob)
				})
			})
		})
	})
	return r
}

type handlers struct {
	sched   *scheduler.Service
	history storage.Store
	log     logx.Logger
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	respondOK(w, r, h.sched.Snapshot())
}

func (h *handlers) pauseAll(w http.ResponseWriter, r *http.Request) {
	if err := h.sched.Pause(); err != nil {
		respondError(w, r, err)
		return
	}
	h.log.Info("scheduler paused via admin api", logx.String("request_id", requestIDFrom(r.Context())))
	respondOK(w, r, map[string]bool{"paused": true})
}

func (h *handlers) resumeAll(w http.ResponseWriter, r *http.Request) {
	if err := h.sched.Resume(); err != nil {
		respondError(w, r, err)
		return
	}
	h.log.Info("scheduler resumed via admin api", logx.String("request_id", requestIDFrom(r.Context())))
	respondOK(w, r, map[string]bool{"paused": false})
}

func (h *handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	respondOK(w, r, h.sched.Jobs())
}

func (h *handlers) getJob(w http.ResponseWriter, r *http.Request) {
	info, err := h.sched.Job(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, r, info)
}

func (h *handlers) jobHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.sched.Job(id); err != nil {
		respondError(w, r, err)
		return
	}
	if h.history == nil {
		respondJSON(w, r, http.StatusNotImplemented, nil, storage.ErrDisabled)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondJSON(w, r, http.StatusBadRequest, nil, errBadLimit)
			return
		}
		limit = n
	}
	recs, err := h.history.Recent(r.Context(), storage.Query{JobID: id, Limit: limit})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, r, recs)
}

func (h *handlers) runJob(w http.ResponseWriter, r *http.Request) {
	exec, err := h.sched.Execute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	h.log.Info("job executed via admin api", logx.String("job", exec.JobID), logx.String("execution", exec.ID))
	respondJSON(w, r, http.StatusAccepted, exec, nil)
}

func (h *handlers) pauseJob(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, true)
}

func (h *handlers) resumeJob(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, false)
}

func (h *handlers) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	id := chi.URLParam(r, "id")
	var err error
	if paused {
		err = h.sched.PauseJob(id)
	} else {
		err = h.sched.ResumeJob(id)
	}
	if err != nil {
		respondError(w, r, err)
		return
	}
	info, err := h.sched.Job(id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, r, info)
}
