package store

import (
	"os"
	"sync"

	"github.com/scenesengine/artifactd/internal/jobs"
	"github.com/scenesengine/artifactd/internal/logger"
)

// Restorer drives the startup restore routine (spec §4.9): rehydrate
// every persisted job into the live registry, then resubmit the ones
// left in the queued state through a bounded pool of RESTORE_WORKERS
// goroutines. The pool exists because resubmission validates that the
// job's target still exists on disk before handing it back to the
// registry, and a restart with thousands of stale job files should not
// serialize that validation behind a single goroutine nor stat the
// filesystem unboundedly in parallel.
type Restorer struct {
	store   *JSONStore
	workers int
}

// NewRestorer returns a Restorer bounded to workers concurrent
// validations (RESTORE_WORKERS, default min(2, JOB_MAX_CONCURRENCY)).
func NewRestorer(s *JSONStore, workers int) *Restorer {
	if workers < 1 {
		workers = 1
	}
	return &Restorer{store: s, workers: workers}
}

// Run rehydrates every persisted job into registry. autoRestore controls
// the state-normalization rule applied by JSONStore.LoadAll. Jobs left
// in StateQueued after normalization are revalidated concurrently
// (bounded by r.workers): if their target path no longer exists on
// disk, they are finished as failed instead of resubmitted, rather than
// immediately failing a generator against a path that is gone.
func (r *Restorer) Run(registry *jobs.Registry, autoRestore bool) (int, error) {
	restored, err := r.store.LoadAll(autoRestore)
	if err != nil {
		return 0, err
	}

	var toValidate []*jobs.Job
	for _, j := range restored {
		if j.State == jobs.StateQueued {
			toValidate = append(toValidate, j)
			continue
		}
		registry.Restore(j)
	}

	r.validateAndRestore(registry, toValidate)

	return len(restored), nil
}

func (r *Restorer) validateAndRestore(registry *jobs.Registry, pending []*jobs.Job) {
	if len(pending) == 0 {
		return
	}
	jobCh := make(chan *jobs.Job, len(pending))
	for _, j := range pending {
		jobCh <- j
	}
	close(jobCh)

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobCh {
				if _, err := os.Stat(j.Path); err != nil {
					logger.Warn("restored job target missing, marking failed", "job_id", j.ID, "path", j.Path)
					j.State = jobs.StateFailed
					j.Error = "restore: target no longer exists"
				}
				registry.Restore(j)
			}
		}()
	}
	wg.Wait()
}
