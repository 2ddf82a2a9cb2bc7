package scheduler

import (
	"time"

	"greensched/internal/planner"
	"greensched/internal/task/engine"
)

// JobInfo is a point-in-time view of one job.
type JobInfo struct {
	ID            string            `json:"id"`
	Kind          string            `json:"kind"`
	Constraints   string            `json:"constraints"`
	Zone          string            `json:"zone"`
	Policy        ConcurrencyPolicy `json:"policy"`
	Grace         time.Duration     `json:"grace"`
	Blocking      bool              `json:"blocking"`
	Paused        bool              `json:"paused"`
	Running       int               `json:"running"`
	NextFire      time.Time         `json:"next_fire,omitempty"`
	Deadline      time.Time         `json:"deadline,omitempty"`
	Fallback      bool              `json:"fallback"`
	Period        *planner.Period   `json:"period,omitempty"`
	LastFire      time.Time         `json:"last_fire,omitempty"`
	LastPlanError string            `json:"last_plan_error,omitempty"`

	Fired        uint64 `json:"fired"`
	Skipped      uint64 `json:"skipped"`
	Dropped      uint64 `json:"dropped"`
	Missed       uint64 `json:"missed"`
	Completed    uint64 `json:"completed"`
	Failed       uint64 `json:"failed"`
	PlanFailures uint64 `json:"plan_failures"`
}

type Snapshot struct {
	Enabled    bool             `json:"enabled"`
	Started    bool             `json:"started"`
	Shutdown   bool             `json:"shutdown"`
	Paused     bool             `json:"paused"`
	Running    int64            `json:"running"`
	Jobs       []JobInfo        `json:"jobs"`
	Dispatcher *engine.Snapshot `json:"dispatcher,omitempty"`
}

// Jobs lists every job in registration order.
func (s *Service) Jobs() []JobInfo {
	s.mu.Lock()
	trs := append([]*trigger(nil), s.jobs...)
	s.mu.Unlock()

	paused := s.paused.Load()
	out := make([]JobInfo, 0, len(trs))
	for _, tr := range trs {
		out = append(out, tr.info(paused))
	}
	return out
}

func (s *Service) Job(id string) (JobInfo, error) {
	tr, err := s.trigger(id)
	if err != nil {
		return JobInfo{}, err
	}
	return tr.info(s.paused.Load()), nil
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Enabled:  s.cfg.Enabled,
		Started:  s.started,
		Shutdown: s.shutdown,
	}
	s.mu.Unlock()

	snap.Paused = s.paused.Load()
	snap.Running = s.running.Load()
	snap.Jobs = s.Jobs()
	if s.disp != nil {
		d := s.disp.Snapshot()
		snap.Dispatcher = &d
	}
	return snap
}
