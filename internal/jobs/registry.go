package jobs

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/scenesengine/artifactd/internal/events"
	"github.com/scenesengine/artifactd/internal/logger"
)

// Persister is the subset of C9 (store.Store) the registry depends on.
// Defined here (rather than imported from internal/store) to avoid an
// import cycle: store depends on jobs.Job, not the other way around.
type Persister interface {
	SaveJob(j *Job) error
	DeleteJob(id string) error
}

// cancelSignal is a one-shot cooperative cancellation source, satisfying
// procrunner.CancelSignal without the jobs package importing procrunner.
type cancelSignal struct {
	mu           sync.Mutex
	fired        bool
	pauseRequeue bool
}

func (c *cancelSignal) fire(pauseRequeue bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.fired {
		c.fired = true
		c.pauseRequeue = pauseRequeue
	}
}

func (c *cancelSignal) Canceled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired
}

func (c *cancelSignal) requeueOnCancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pauseRequeue
}

// Registry implements C5: an in-memory map of jobs guarded by a single
// mutex, publishing events and persisting transitions.
type Registry struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	order   []string // insertion order, for FIFO fairness (§4.6)
	cancels map[string]*cancelSignal

	bus             *events.Bus
	store           Persister
	persistDisabled bool
}

// NewRegistry constructs an empty Registry.
func NewRegistry(bus *events.Bus, store Persister, persistDisabled bool) *Registry {
	return &Registry{
		jobs:            make(map[string]*Job),
		cancels:         make(map[string]*cancelSignal),
		bus:             bus,
		store:           store,
		persistDisabled: persistDisabled,
	}
}

// Create inserts a new job in state=queued and publishes created, queued.
func (r *Registry) Create(req JobRequest, normalizedType, path string, label string, metaBatch string) *Job {
	j := &Job{
		ID:        newJobID(),
		Type:      normalizedType,
		Path:      path,
		State:     StateQueued,
		CreatedAt: nowUnix(),
		Label:     label,
		Request:   req,
		MetaBatch: metaBatch,
		Priority:  req.Force,
	}
	j.touch()

	r.mu.Lock()
	r.jobs[j.ID] = j
	r.order = append(r.order, j.ID)
	r.cancels[j.ID] = &cancelSignal{}
	r.mu.Unlock()

	r.persist(j)
	r.bus.Publish(events.Event{Event: events.Created, ID: j.ID, Type: j.Type, Path: j.Path})
	r.bus.Publish(events.Event{Event: events.Queued, ID: j.ID, Type: j.Type, Path: j.Path})
	return j
}

// Restore inserts a job as rehydrated by C9 without re-publishing created
// (the job already existed in a previous process lifetime).
func (r *Registry) Restore(j *Job) {
	j.touch()
	r.mu.Lock()
	r.jobs[j.ID] = j
	r.order = append(r.order, j.ID)
	r.cancels[j.ID] = &cancelSignal{}
	r.mu.Unlock()
}

// Get returns a snapshot of the job, or (nil, false) if unknown.
func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.Lock()
	j, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	return j.Snapshot(), true
}

// List returns snapshots of every job matching the optional state filter
// and/or a "since" created_at floor (spec §6.2 list_jobs(filter)).
func (r *Registry) List(state State, sinceUnix int64) []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Job, 0, len(r.jobs))
	for _, id := range r.order {
		j, ok := r.jobs[id]
		if !ok {
			continue
		}
		if state != "" && j.State != state {
			continue
		}
		if sinceUnix > 0 && j.CreatedAt < sinceUnix {
			continue
		}
		out = append(out, j.Snapshot())
	}
	return out
}

// queuedInFIFOOrder returns job IDs currently queued, ordered by
// (created_at, id), used by the scheduler's fairness window (spec §4.6).
func (r *Registry) queuedInFIFOOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var queued []*Job
	for _, id := range r.order {
		j := r.jobs[id]
		if j != nil && j.State == StateQueued {
			queued = append(queued, j)
		}
	}
	sort.Slice(queued, func(i, k int) bool {
		if queued[i].CreatedAt != queued[k].CreatedAt {
			return queued[i].CreatedAt < queued[k].CreatedAt
		}
		return queued[i].ID < queued[k].ID
	})
	ids := make([]string, len(queued))
	for i, j := range queued {
		ids[i] = j.ID
	}
	return ids
}

func (r *Registry) runningCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, j := range r.jobs {
		if j.State == StateRunning {
			n++
		}
	}
	return n
}

// Start transitions a job to running.
func (r *Registry) Start(id string) {
	r.mu.Lock()
	j, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	j.mu.Lock()
	j.State = StateRunning
	j.StartedAt = nowUnix()
	j.mu.Unlock()
	j.touch()
	r.persist(j)
	r.bus.Publish(events.Event{Event: events.Started, ID: j.ID, Type: j.Type, Path: j.Path})
}

// SetProgress implements the progress update contract (spec §4.5):
// updates counters, clamps 0<=processed<=total, recomputes progress, and
// emits a progress event.
func (r *Registry) SetProgress(id string, total *int, processedInc *int, processedSet *int) {
	r.mu.Lock()
	j, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	j.mu.Lock()
	if total != nil {
		j.Total = *total
	}
	if processedSet != nil {
		j.Processed = *processedSet
	} else if processedInc != nil {
		j.Processed += *processedInc
	}
	if j.Processed < 0 {
		j.Processed = 0
	}
	if j.Total > 0 && j.Processed > j.Total {
		j.Processed = j.Total
	}
	jt, jp := j.Total, j.Processed
	j.mu.Unlock()
	j.touch()

	ev := events.Event{Event: events.Progress, ID: id, Total: jt, Processed: jp}
	if jt > 0 {
		pct := jp * 100 / jt
		if pct > 100 {
			pct = 100
		}
		ev.Progress = &pct
	}
	r.bus.Publish(ev)
}

// SetCurrent updates the current field and emits a current event without
// touching counters (spec §4.5).
func (r *Registry) SetCurrent(id, path string) {
	r.mu.Lock()
	j, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	j.mu.Lock()
	j.Current = path
	j.mu.Unlock()
	j.touch()
	r.bus.Publish(events.Event{Event: events.Current, ID: id, Current: path})
}

// Finish transitions a job to done or failed, snapping processed to total
// on success (spec §4.5).
func (r *Registry) Finish(id string, err error, result any) {
	r.mu.Lock()
	j, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return
	}

	j.mu.Lock()
	j.EndedAt = nowUnix()
	var errMsg *string
	if err != nil {
		j.State = StateFailed
		msg := err.Error()
		j.Error = msg
		errMsg = &msg
	} else {
		j.State = StateDone
		j.Processed = j.Total
		j.Result = result
	}
	j.mu.Unlock()
	j.touch()

	r.persist(j)
	r.bus.Publish(events.Event{Event: events.Finished, ID: id, Error: errMsg, Result: result})
}

// FinishCanceled transitions a job to canceled (error unset, per spec §7).
func (r *Registry) FinishCanceled(id string) {
	r.mu.Lock()
	j, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	j.mu.Lock()
	j.State = StateCanceled
	j.EndedAt = nowUnix()
	j.mu.Unlock()
	j.touch()
	r.persist(j)
	r.bus.Publish(events.Event{Event: events.Finished, ID: id, Error: nil})
}

// Requeue transitions a running job back to queued, used by the global
// pause path when pause_requeue is set (spec §3.4, §4.6).
func (r *Registry) Requeue(id string) {
	r.mu.Lock()
	j, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	j.mu.Lock()
	j.State = StateQueued
	j.StartedAt = 0
	j.Current = ""
	j.mu.Unlock()
	j.touch()
	r.persist(j)
	r.bus.Publish(events.Event{Event: events.Queued, ID: j.ID, Type: j.Type, Path: j.Path})
}

// Cancel implements cancel_job: a queued job is marked canceled
// immediately without running; a running job has its cancel signal fired.
// Canceling an already-terminal job is idempotent (spec §5).
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	j, ok := r.jobs[id]
	sig := r.cancels[id]
	r.mu.Unlock()
	if !ok {
		return jobNotFoundError(id)
	}

	j.mu.Lock()
	state := j.State
	j.mu.Unlock()

	if state.IsTerminal() {
		return nil // idempotent
	}
	if state == StateQueued {
		r.FinishCanceled(id)
		r.bus.Publish(events.Event{Event: events.Cancel, ID: id})
		return nil
	}
	if sig != nil {
		sig.fire(false)
	}
	r.bus.Publish(events.Event{Event: events.Cancel, ID: id})
	return nil
}

// RequestPauseRequeue cooperatively stops a running job so it returns to
// queued on exit (spec §4.6 global pause).
func (r *Registry) RequestPauseRequeue(id string) {
	r.mu.Lock()
	j, ok := r.jobs[id]
	sig := r.cancels[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	j.mu.Lock()
	j.PauseRequeue = true
	j.mu.Unlock()
	if sig != nil {
		sig.fire(true)
	}
}

// PauseAllRunning cooperatively stops every running job so each returns
// to queued (spec §4.6: global pause asks running jobs to cancel with
// pause_requeue=true rather than terminating them).
func (r *Registry) PauseAllRunning() int {
	r.mu.Lock()
	var ids []string
	for _, id := range r.order {
		if j := r.jobs[id]; j != nil && j.State == StateRunning {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.RequestPauseRequeue(id)
	}
	return len(ids)
}

// CancelAll cancels every active job and returns the count affected.
func (r *Registry) CancelAll() int {
	ids := r.activeIDs()
	for _, id := range ids {
		_ = r.Cancel(id)
	}
	r.bus.Publish(events.Event{Event: events.CancelAll, Count: len(ids)})
	return len(ids)
}

// CancelQueued cancels every queued (not-yet-running) job.
func (r *Registry) CancelQueued() int {
	r.mu.Lock()
	var ids []string
	for _, id := range r.order {
		if j := r.jobs[id]; j != nil && j.State == StateQueued {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()
	for _, id := range ids {
		_ = r.Cancel(id)
	}
	return len(ids)
}

func (r *Registry) activeIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, id := range r.order {
		if j := r.jobs[id]; j != nil && j.State.IsActive() {
			ids = append(ids, id)
		}
	}
	return ids
}

// CancelSignalFor returns the cancel signal for id, implementing
// procrunner.CancelSignal, for the dispatcher to hand to generators.
func (r *Registry) CancelSignalFor(id string) *cancelSignal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancels[id]
}

// Purge removes terminal jobs from the registry ("clear completed"),
// returning the count removed (spec §3.6).
func (r *Registry) Purge() int {
	r.mu.Lock()
	var remaining []string
	removed := 0
	for _, id := range r.order {
		j := r.jobs[id]
		if j != nil && j.State.IsTerminal() {
			delete(r.jobs, id)
			delete(r.cancels, id)
			removed++
			if r.store != nil {
				_ = r.store.DeleteJob(id)
			}
			continue
		}
		remaining = append(remaining, id)
	}
	r.order = remaining
	r.mu.Unlock()
	r.bus.Publish(events.Event{Event: events.Purge, Count: removed})
	return removed
}

// ReapOrphans marks running jobs with stale heartbeats and no live
// subprocesses as failed (spec §4.5). hasLiveProcs reports whether the
// process runner still tracks any subprocess for the given job id.
func (r *Registry) ReapOrphans(maxIdle, minAge time.Duration, hasLiveProcs func(id string) bool) int {
	r.mu.Lock()
	var candidates []*Job
	for _, id := range r.order {
		j := r.jobs[id]
		if j == nil || j.State != StateRunning {
			continue
		}
		candidates = append(candidates, j)
	}
	r.mu.Unlock()

	reaped := 0
	for _, j := range candidates {
		if time.Since(time.Unix(j.StartedAt, 0)) < minAge {
			continue
		}
		if j.idleSince() < maxIdle {
			continue
		}
		if hasLiveProcs != nil && hasLiveProcs(j.ID) {
			continue
		}
		logger.Warn("reaping orphaned job", "job_id", j.ID, "type", j.Type)
		r.Finish(j.ID, errOrphaned, nil)
		reaped++
	}
	return reaped
}

var errOrphaned = errors.New("orphaned: stale heartbeat with no live subprocess")

func (r *Registry) persist(j *Job) {
	if r.persistDisabled || r.store == nil {
		return
	}
	if err := r.store.SaveJob(j); err != nil {
		logger.Warn("failed to persist job", "job_id", j.ID, "err", err)
	}
}
