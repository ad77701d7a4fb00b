package jobs

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/scenesengine/artifactd/internal/config"
	"github.com/scenesengine/artifactd/internal/logger"
)

// lightSlotCapacity bounds concurrent light-slot tasks (spec §4.6):
// cheap work that takes a slot from its own semaphore instead of the
// JOB_MAX_CONCURRENCY one, so it does not wait for a heavy transcode's
// slot; it still passes the pause gate and the FIFO fairness window.
const lightSlotCapacity = 8

// Scheduler implements C6: admission control over how many jobs run at
// once, plus the FIFO-fairness window from spec §4.6. Grounded on the
// teacher's queue worker-pool sizing, generalized to a swappable
// semaphore.Weighted so concurrency can change at runtime without
// restarting in-flight workers.
type Scheduler struct {
	mu sync.RWMutex

	sem      *semaphore.Weighted
	capacity int64

	lightSem *semaphore.Weighted

	paused   bool
	registry *Registry
	cfg      *config.Config
}

// NewScheduler constructs a Scheduler bound to registry for FIFO-order
// and running-count queries.
func NewScheduler(registry *Registry, cfg *config.Config, jobMaxConcurrency int) *Scheduler {
	cap := int64(ClampJobConcurrency(jobMaxConcurrency))
	return &Scheduler{
		sem:      semaphore.NewWeighted(cap),
		capacity: cap,
		lightSem: semaphore.NewWeighted(lightSlotCapacity),
		registry: registry,
		cfg:      cfg,
	}
}

// SetJobConcurrency swaps the semaphore to a new capacity (spec §4.2:
// takes effect for newly admitted jobs, never preempts running ones).
func (s *Scheduler) SetJobConcurrency(n int) {
	n = ClampJobConcurrency(n)
	s.mu.Lock()
	s.sem = semaphore.NewWeighted(int64(n))
	s.capacity = int64(n)
	s.mu.Unlock()
	logger.Info("job concurrency changed", "concurrency", n)
}

func (s *Scheduler) currentSem() (*semaphore.Weighted, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sem, s.capacity
}

// SetPaused toggles the global pause gate (spec §4.6): while paused, no
// new job is admitted, but already-running jobs are left alone unless
// the caller separately requests pause_requeue.
func (s *Scheduler) SetPaused(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
}

// IsPaused reports the current pause state.
func (s *Scheduler) IsPaused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

// Admit blocks until job is allowed to start: it waits out the global
// pause gate, then the per-kind slot (light or main), applying the FIFO
// fairness window so a flood of later submissions cannot perpetually
// starve an older queued job (spec §4.6).
func (s *Scheduler) Admit(ctx context.Context, job *Job, taskKind string) (release func(), err error) {
	if err := s.waitUnpaused(ctx); err != nil {
		return nil, err
	}
	if err := s.waitForTurn(ctx, job); err != nil {
		return nil, err
	}

	if s.cfg != nil && s.cfg.IsLightSlotTask(taskKind) {
		if err := s.lightSem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		return func() { s.lightSem.Release(1) }, nil
	}

	sem, _ := s.currentSem()
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}

func (s *Scheduler) waitUnpaused(ctx context.Context) error {
	for s.IsPaused() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return nil
}

// waitForTurn implements the FIFO fairness window: while strict FIFO
// start is off and fewer jobs are running than the current capacity, any
// job may start; otherwise a job may only start once it is within the
// first fairWindow() entries of the queued list ordered by (created_at, id).
func (s *Scheduler) waitForTurn(ctx context.Context, job *Job) error {
	strict := s.cfg != nil && s.cfg.StrictFIFOStart
	for {
		running := s.registry.runningCount()
		_, capacity := s.currentSem()
		if !strict && int64(running) < capacity {
			return nil
		}

		k := s.fairWindow(capacity)
		queued := s.registry.queuedInFIFOOrder()
		if position(queued, job.ID) < k {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(150 * time.Millisecond):
		}
	}
}

func (s *Scheduler) fairWindow(capacity int64) int {
	s.mu.RLock()
	strict := s.cfg != nil && s.cfg.StrictFIFOStart
	s.mu.RUnlock()
	if strict {
		return 1
	}
	return int(capacity)
}

func position(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return len(ids)
}
