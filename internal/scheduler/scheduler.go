package scheduler

import (
	"sync"
	"sync/atomic"

	"github.com/zt-overlay/ztpipe/internal/zt"
)

// Scheduler is the daemon-wide registry of open Jobs (one per supervised
// Node home directory). Grounded on internal/scheduler/scheduler.go's
// singleton-via-sync.Once, sync.RWMutex-guarded map shape.
type Scheduler struct {
	jobs      map[int]*Job
	nextJobID int64
	mu        sync.RWMutex
}

var (
	instance *Scheduler
	once     sync.Once
)

// GetScheduler returns the process-wide Scheduler, creating it on first
// use.
func GetScheduler() *Scheduler {
	once.Do(func() {
		instance = &Scheduler{jobs: make(map[int]*Job)}
	})
	return instance
}

// AddJob opens home as a Node and registers it under a new job ID.
// port is the local UDP port to bind (0 picks an ephemeral one);
// pipeCfg is applied to every pipe the Node establishes.
func (s *Scheduler) AddJob(name, home string, port int, pipeCfg zt.PipeConfig, newOverlay func(zt.OverlayCallbacks) (zt.Overlay, error)) (int, error) {
	job, err := NewJob(0, name, home, port, pipeCfg, newOverlay)
	if err != nil {
		return 0, err
	}
	jobID := int(atomic.AddInt64(&s.nextJobID, 1))
	job.ID = jobID

	s.mu.Lock()
	s.jobs[jobID] = job
	s.mu.Unlock()

	return jobID, nil
}

// RemoveJob stops and unregisters jobID, if present.
func (s *Scheduler) RemoveJob(jobID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, exists := s.jobs[jobID]; exists {
		job.Stop()
		delete(s.jobs, jobID)
		return true
	}
	return false
}

// GetJob looks up a registered job by ID.
func (s *Scheduler) GetJob(jobID int) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	return job, exists
}

// ListJobs returns a snapshot of all registered jobs.
func (s *Scheduler) ListJobs() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out
}
