package jobs

import (
	"context"

	"github.com/scenesengine/artifactd/internal/core"
	"github.com/scenesengine/artifactd/internal/logger"
)

// chainStep is one entry of a chain job's params.steps (spec §4.7):
// each step names a task; an empty directory falls back to the parent
// job's path, while recursive and force come from the step alone
// (false when the step omits them).
type chainStep struct {
	Task      string         `json:"task"`
	Params    map[string]any `json:"params"`
	Directory string         `json:"directory"`
	Recursive bool           `json:"recursive"`
	Force     bool           `json:"force"`
}

func parseChainSteps(job *Job) ([]chainStep, bool) {
	raw, ok := job.Request.Params["steps"]
	if !ok {
		return nil, false
	}
	rawList, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	steps := make([]chainStep, 0, len(rawList))
	for _, item := range rawList {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		s := chainStep{}
		if t, ok := m["task"].(string); ok {
			s.Task = t
		}
		if d, ok := m["directory"].(string); ok {
			s.Directory = d
		}
		if r, ok := m["recursive"].(bool); ok {
			s.Recursive = r
		}
		if f, ok := m["force"].(bool); ok {
			s.Force = f
		}
		if p, ok := m["params"].(map[string]any); ok {
			s.Params = p
		}
		steps = append(steps, s)
	}
	return steps, true
}

func chainContinueOnError(job *Job) bool {
	v, _ := job.Request.Params["continue_on_error"].(bool)
	return v
}

// executeChain implements the chain task (spec §4.7): it runs each step's
// task sequentially through runChainStep (target resolution and
// generator lookup as in Dispatcher.Execute, without finishing the job),
// mapping every step into a fixed 100-unit slice of the parent job's
// progress (total = len(steps)*100) and stopping at the first step error
// unless params.continue_on_error is true.
func (d *Dispatcher) executeChain(ctx context.Context, jobID string) {
	job, ok := d.registry.Get(jobID)
	if !ok {
		return
	}
	steps, ok := parseChainSteps(job)
	if !ok || len(steps) == 0 {
		d.registry.Finish(jobID, core.InvalidArgument("steps", "chain job requires a non-empty params.steps list"), nil)
		return
	}
	continueOnError := chainContinueOnError(job)

	total := len(steps) * 100
	d.registry.SetProgress(jobID, &total, nil, nil)

	sig := d.registry.CancelSignalFor(jobID)
	results := make([]any, 0, len(steps))
	var firstErr error

	for i, step := range steps {
		if sig != nil && sig.Canceled() {
			if sig.requeueOnCancel() {
				d.registry.Requeue(jobID)
			} else {
				d.registry.FinishCanceled(jobID)
			}
			return
		}

		kind, ok := NormalizeTask(step.Task)
		if !ok {
			err := core.InvalidArgument("task", step.Task)
			if firstErr == nil {
				firstErr = err
			}
			if !continueOnError {
				break
			}
			continue
		}

		stepPath := step.Directory
		if stepPath == "" {
			stepPath = job.Path
		}
		stepJob := &Job{
			ID:   jobID,
			Type: string(kind),
			Path: stepPath,
			Request: JobRequest{
				Task:      string(kind),
				Directory: stepPath,
				Recursive: step.Recursive,
				Force:     step.Force,
				Params:    step.Params,
			},
		}

		baseline := i * 100
		res, err := d.runChainStep(ctx, job, jobID, kind, stepJob, baseline)
		if err != nil {
			logger.Warn("chain step failed", "job_id", jobID, "step", i, "task", kind, "err", err)
			if firstErr == nil {
				firstErr = err
			}
			if !continueOnError {
				break
			}
		} else if res != nil {
			results = append(results, res)
		}

		processed := (i + 1) * 100
		d.registry.SetProgress(jobID, nil, nil, &processed)
	}

	var result any
	if len(results) > 0 {
		result = results
	}
	d.registry.Finish(jobID, firstErr, result)
}

// runChainStep resolves and runs one chain step's targets through its
// generator, without touching the parent job's State/Start bookkeeping
// (the parent job itself is already Running).
func (d *Dispatcher) runChainStep(ctx context.Context, parent *Job, jobID string, kind TaskKind, stepJob *Job, baseline int) (any, error) {
	gen, ok := d.generators[kind]
	if !ok {
		return nil, core.DependencyMissing(string(kind), "no generator registered")
	}

	targets, err := d.resolveTargets(stepJob)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, nil
	}

	sig := d.registry.CancelSignalFor(jobID)
	results := make([]any, 0, len(targets))
	var firstErr error

	for ti, target := range targets {
		if sig != nil && sig.Canceled() {
			return nil, core.ErrCanceled
		}
		d.registry.SetCurrent(jobID, target)

		targetBaseline := ti
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
			within := (targetBaseline*100 + int(frac*100)) / len(targets)
			set := baseline + within
			d.registry.SetProgress(jobID, nil, nil, &set)
		}

		res, err := gen(ctx, stepJob, target, sig, onProgress)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if res != nil {
			results = append(results, res)
		}
	}

	var result any
	if len(results) > 0 {
		result = results
	}
	return result, firstErr
}
