// Package engine wires C1-C9 into the single value spec §9 calls out:
// "a single Engine value owned by main... constructed once in main,
// injected into handlers through context or function parameters."
// Runtime-mutable knobs (concurrency caps, the paused flag) live behind
// the wrapped components' own mutexes, not the Engine's.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/scenesengine/artifactd/internal/config"
	"github.com/scenesengine/artifactd/internal/events"
	"github.com/scenesengine/artifactd/internal/filelock"
	"github.com/scenesengine/artifactd/internal/generators"
	"github.com/scenesengine/artifactd/internal/jobs"
	"github.com/scenesengine/artifactd/internal/layout"
	"github.com/scenesengine/artifactd/internal/logger"
	"github.com/scenesengine/artifactd/internal/procrunner"
	"github.com/scenesengine/artifactd/internal/store"
)

const eventQueueDepth = 256

// orphanReapInterval and the reap thresholds implement §4.5's heartbeat
// orphan reaper: a running job whose last activity is stale and which
// has no tracked live subprocess is failed rather than left running
// forever.
const (
	orphanReapInterval = 30 * time.Second
	orphanMaxIdle       = 2 * time.Minute
	orphanMinAge        = 1 * time.Minute
)

// Engine bundles every core component behind the operations spec §6.2
// names. It is constructed once and handed to the API layer.
type Engine struct {
	Cfg    *config.Config
	Layout *layout.Layout
	Runner *procrunner.Runner
	Locks  *filelock.Table
	Bus    *events.Bus

	Store     *store.JSONStore
	ScanCache *store.ScanCache

	Registry   *jobs.Registry
	Scheduler  *jobs.Scheduler
	Dispatcher *jobs.Dispatcher
	Generators *generators.Generators

	cancel context.CancelFunc
}

// New constructs the Engine, restores persisted jobs, and starts the
// dispatch and orphan-reaper loops. Callers must call Close on shutdown.
func New(cfg *config.Config) (*Engine, error) {
	lay := layout.New(cfg.MediaRoot, cfg.MediaExts)
	runner := procrunner.New(cfg.FFmpegConcurrency, cfg.FFmpegTimeLimitSecs)
	locks := filelock.New()
	bus := events.New(eventQueueDepth)

	jsonStore, err := store.New(cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	var scanCache *store.ScanCache
	scanCache, err = store.NewScanCache(filepath.Join(cfg.StateDir, ".jobs", "scancache.db"))
	if err != nil {
		// Non-authoritative: every integrity scan stays correct without
		// it, so a cache-open failure (e.g. read-only state dir) is
		// logged and otherwise ignored rather than failing startup.
		logger.Warn("scan cache unavailable, integrity scans will run uncached", "err", err)
		scanCache = nil
	}

	registry := jobs.NewRegistry(bus, jsonStore, cfg.JobPersistDisable)
	scheduler := jobs.NewScheduler(registry, cfg, cfg.JobMaxConcurrency)
	dispatcher := jobs.NewDispatcher(registry, scheduler, lay.ListVideos)

	gens := generators.New(cfg, runner, lay, locks)
	gens.ScanCache = scanCache
	gens.Register(dispatcher)

	e := &Engine{
		Cfg: cfg, Layout: lay, Runner: runner, Locks: locks, Bus: bus,
		Store: jsonStore, ScanCache: scanCache,
		Registry: registry, Scheduler: scheduler, Dispatcher: dispatcher, Generators: gens,
	}

	restorer := store.NewRestorer(jsonStore, cfg.RestoreWorkers)
	if _, err := restorer.Run(registry, !cfg.JobAutorestoreDisable); err != nil {
		logger.Warn("job restore failed", "err", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	dispatcher.Start(ctx)
	go e.reapOrphansLoop(ctx)

	return e, nil
}

func (e *Engine) reapOrphansLoop(ctx context.Context) {
	ticker := time.NewTicker(orphanReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := e.Registry.ReapOrphans(orphanMaxIdle, orphanMinAge, e.Runner.HasLiveProcesses)
			if n > 0 {
				logger.Warn("reaped orphaned jobs", "count", n)
			}
		}
	}
}

// Close stops the dispatch and reaper loops and releases the scan
// cache's database handle. The job store itself holds no open handle.
func (e *Engine) Close() error {
	if e.cancel != nil {
		e.cancel()
	}
	if e.ScanCache != nil {
		return e.ScanCache.Close()
	}
	return nil
}

// SubmitJob implements spec §6.2's submit_job(JobRequest) -> id.
func (e *Engine) SubmitJob(req jobs.JobRequest) (*jobs.Job, error) {
	kind, ok := jobs.NormalizeTask(req.Task)
	if !ok {
		return nil, invalidTask(req.Task)
	}
	req.Task = string(kind)
	path := req.Directory
	return e.Registry.Create(req, string(kind), path, "", ""), nil
}

// GetJob implements get_job(id) -> snapshot | nil.
func (e *Engine) GetJob(id string) (*jobs.Job, bool) {
	return e.Registry.Get(id)
}

// ListJobs implements list_jobs(filter) (by state, since timestamp).
func (e *Engine) ListJobs(state jobs.State, sinceUnix int64) []*jobs.Job {
	return e.Registry.List(state, sinceUnix)
}

// CancelJob implements cancel_job(id).
func (e *Engine) CancelJob(id string) error {
	return e.Registry.Cancel(id)
}

// CancelAll implements cancel_all().
func (e *Engine) CancelAll() int {
	return e.Registry.CancelAll()
}

// CancelQueued implements cancel_queued().
func (e *Engine) CancelQueued() int {
	return e.Registry.CancelQueued()
}

// SubscribeEvents implements subscribe_events() -> stream.
func (e *Engine) SubscribeEvents() *events.Subscriber {
	return e.Bus.Subscribe()
}

// UnsubscribeEvents releases a subscription returned by SubscribeEvents.
func (e *Engine) UnsubscribeEvents(s *events.Subscriber) {
	e.Bus.Unsubscribe(s)
}

// SetFFmpegConcurrency implements set_ffmpeg_concurrency(n), publishing
// the "concurrency" event spec §6.3/§4.8 name in the minimum event set.
func (e *Engine) SetFFmpegConcurrency(n int) {
	clamped := jobs.ClampFFmpegConcurrency(n)
	e.Runner.SetFFmpegConcurrency(clamped)
	e.Bus.Publish(events.Event{Event: events.Concurrency, Type: "ffmpeg", Value: clamped})
}

// SetJobConcurrency implements set_job_concurrency(n), publishing the
// "concurrency" event spec §6.3/§4.8 name in the minimum event set.
func (e *Engine) SetJobConcurrency(n int) {
	clamped := jobs.ClampJobConcurrency(n)
	e.Scheduler.SetJobConcurrency(clamped)
	e.Bus.Publish(events.Event{Event: events.Concurrency, Type: "jobs", Value: clamped})
}

// SetPaused implements set_paused(bool). Pausing flips the scheduler gate
// so no further job is admitted, and also cooperatively stops every job
// already running: each is sent a cancel signal with pause_requeue=true so
// it returns to queued rather than finishing or failing (spec §4.6).
func (e *Engine) SetPaused(paused bool) {
	e.Scheduler.SetPaused(paused)
	if paused {
		e.Registry.PauseAllRunning()
	}
	e.Bus.Publish(events.Event{Event: events.Pause, Paused: &paused})
}

// ArtifactPath implements artifact_path(video, kind).
func (e *Engine) ArtifactPath(video string, kind layout.Kind) (string, error) {
	return e.Layout.ArtifactPath(video, kind)
}

// ArtifactExists implements artifact_exists(video, kind), the
// authoritative presence check from spec §3.3: present, at least
// minArtifactBytes large, and not rejected by the kind-specific stub
// check in generators.ArtifactPresent.
func (e *Engine) ArtifactExists(video string, kind layout.Kind) bool {
	path, err := e.Layout.ArtifactPath(video, kind)
	if err != nil {
		return false
	}
	return generators.ArtifactPresent(kind, path)
}

type invalidTaskError struct{ task string }

func (e invalidTaskError) Error() string { return "engine: unknown task " + e.task }

func invalidTask(task string) error { return invalidTaskError{task: task} }
