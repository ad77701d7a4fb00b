package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/scenesengine/artifactd/internal/core"
	"github.com/scenesengine/artifactd/internal/logger"
)

// CancelSignal decouples generators from the concrete cancellation
// source, matching procrunner.CancelSignal's shape without importing it.
type CancelSignal interface {
	Canceled() bool
}

// ProgressFunc reports fractional completion (0..1) of a single target
// within a job, used by the dispatcher to derive sub-file progress for
// kinds where IsSubFileProgress is true (spec §4.7).
type ProgressFunc func(fracDone float64)

// GeneratorFunc implements one artifact kind's work for a single target
// path. Implementations live in internal/generators and are registered
// onto the Dispatcher by the engine wiring layer (C4 satisfies C7's
// contract without C7 importing C4, avoiding an import cycle).
type GeneratorFunc func(ctx context.Context, job *Job, target string, cancel CancelSignal, progress ProgressFunc) (result any, err error)

// TargetLister resolves a job's directory/path request into concrete
// target file paths (implemented by internal/layout for the real
// engine, and by a stub in tests).
type TargetLister func(path string, recursive bool) ([]string, error)

// Dispatcher implements C7: it pulls queued jobs in FIFO order, waits
// for a scheduler slot, then executes the task kind's registered
// generator over every resolved target, aggregating progress and
// results back onto the job record.
type Dispatcher struct {
	registry   *Registry
	scheduler  *Scheduler
	generators map[TaskKind]GeneratorFunc
	listTargets TargetLister
}

// NewDispatcher constructs a Dispatcher with no generators registered;
// call Register for each TaskKind the engine wires up.
func NewDispatcher(registry *Registry, scheduler *Scheduler, listTargets TargetLister) *Dispatcher {
	return &Dispatcher{
		registry:    registry,
		scheduler:   scheduler,
		generators:  make(map[TaskKind]GeneratorFunc),
		listTargets: listTargets,
	}
}

// Register binds a generator to a task kind.
func (d *Dispatcher) Register(kind TaskKind, fn GeneratorFunc) {
	d.generators[kind] = fn
}

// Run loop options: how often the dispatcher scans for newly admissible
// queued jobs.
const pollInterval = 100 * time.Millisecond

// Start launches the dispatch loop in a goroutine and returns
// immediately; it exits when ctx is canceled.
func (d *Dispatcher) Start(ctx context.Context) {
	go d.loop(ctx)
}

func (d *Dispatcher) loop(ctx context.Context) {
	var mu sync.Mutex
	inFlight := make(map[string]struct{})
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, id := range d.registry.queuedInFIFOOrder() {
			mu.Lock()
			_, busy := inFlight[id]
			if !busy {
				inFlight[id] = struct{}{}
			}
			mu.Unlock()
			if busy {
				continue
			}

			job, ok := d.registry.Get(id)
			if !ok || job.State != StateQueued {
				mu.Lock()
				delete(inFlight, id)
				mu.Unlock()
				continue
			}
			go func(jobID string) {
				defer func() {
					mu.Lock()
					delete(inFlight, jobID)
					mu.Unlock()
				}()
				d.executeWhenAdmitted(ctx, jobID)
			}(id)
		}
	}
}

func (d *Dispatcher) executeWhenAdmitted(ctx context.Context, jobID string) {
	job, ok := d.registry.Get(jobID)
	if !ok {
		return
	}
	kind, ok := NormalizeTask(job.Type)
	if !ok {
		d.registry.Finish(jobID, core.InvalidArgument("task", job.Type), nil)
		return
	}

	release, err := d.scheduler.Admit(ctx, job, string(kind))
	if err != nil {
		return // context canceled at shutdown, or job already moved on
	}
	defer release()

	// re-check state: it may have been canceled while waiting to be admitted.
	job, ok = d.registry.Get(jobID)
	if !ok || job.State != StateQueued {
		return
	}

	d.registry.Start(jobID)
	if kind == TaskChain {
		d.executeChain(ctx, jobID)
		return
	}
	d.Execute(ctx, jobID, kind)
}

// Execute runs kind's generator over every resolved target and finishes
// the job with the aggregated outcome. Exported so tests can drive
// execution directly; the chain task runs its steps through
// runChainStep instead.
func (d *Dispatcher) Execute(ctx context.Context, jobID string, kind TaskKind) {
	job, ok := d.registry.Get(jobID)
	if !ok {
		return
	}
	gen, ok := d.generators[kind]
	if !ok {
		d.registry.Finish(jobID, core.DependencyMissing(string(kind), "no generator registered"), nil)
		return
	}

	targets, err := d.resolveTargets(job)
	if err != nil {
		d.registry.Finish(jobID, err, nil)
		return
	}
	if len(targets) == 0 {
		d.registry.Finish(jobID, nil, nil)
		return
	}

	unit := 1
	if kind.IsSubFileProgress() {
		unit = 100
	}
	total := len(targets) * unit
	d.registry.SetProgress(jobID, &total, nil, nil)

	sig := d.registry.CancelSignalFor(jobID)

	results := make([]any, 0, len(targets))
	var firstErr error
	processed := 0

	for _, target := range targets {
		if sig != nil && sig.Canceled() {
			if sig.requeueOnCancel() {
				d.registry.Requeue(jobID)
			} else {
				d.registry.FinishCanceled(jobID)
			}
			return
		}

		d.registry.SetCurrent(jobID, target)

		baseline := processed
		onProgress := func(frac float64) {
			if !kind.IsSubFileProgress() {
				return
			}
			if frac < 0 {
				frac = 0
			}
			if frac > 1 {
				frac = 1
			}
			set := baseline + int(frac*100)
			d.registry.SetProgress(jobID, nil, nil, &set)
		}

		res, err := gen(ctx, job, target, sig, onProgress)
		if err != nil {
			logger.Warn("generator failed", "job_id", jobID, "task", kind, "target", target, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		} else if res != nil {
			results = append(results, res)
		}

		processed += unit
		d.registry.SetProgress(jobID, nil, nil, &processed)
	}

	var result any
	if len(results) > 0 {
		result = results
	}
	d.registry.Finish(jobID, firstErr, result)
}

func (d *Dispatcher) resolveTargets(job *Job) ([]string, error) {
	if raw, ok := job.Request.Targets(); ok && len(raw) > 0 {
		return raw, nil
	}
	if d.listTargets == nil {
		return []string{job.Path}, nil
	}
	return d.listTargets(job.Path, job.Request.Recursive)
}
