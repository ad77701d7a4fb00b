// Package generators implements C4: one generator per artifact kind.
// Each generator is registered onto a jobs.Dispatcher by the engine
// wiring layer, satisfying jobs.GeneratorFunc without internal/jobs
// importing this package. Grounded on CineVault's per-feature packages
// (fingerprint, detection, preview, stream) for the underlying ffmpeg/
// image-processing idioms, adapted to this engine's artifact contracts
// (§3.3) and atomic-write/progress/force/cancellation discipline (§4.4).
package generators

import (
	"github.com/scenesengine/artifactd/internal/config"
	"github.com/scenesengine/artifactd/internal/filelock"
	"github.com/scenesengine/artifactd/internal/jobs"
	"github.com/scenesengine/artifactd/internal/layout"
	"github.com/scenesengine/artifactd/internal/procrunner"
	"github.com/scenesengine/artifactd/internal/store"
)

// Generators holds the shared dependencies every artifact generator
// needs: configuration, the process runner, path layout, and the
// per-file lock table (acquired around each generator's critical
// section, per §4.3).
type Generators struct {
	Cfg    *config.Config
	Runner *procrunner.Runner
	Layout *layout.Layout
	Locks  *filelock.Table

	// ScanCache is optional. When set, IntegrityScan records its
	// findings there and cleanup-artifacts forgets the videos it cleans;
	// no scan reads the cache back, so every scan checks every target in
	// full. nil is always safe.
	ScanCache *store.ScanCache
}

// New constructs a Generators bundle.
func New(cfg *config.Config, runner *procrunner.Runner, lay *layout.Layout, locks *filelock.Table) *Generators {
	return &Generators{Cfg: cfg, Runner: runner, Layout: lay, Locks: locks}
}

// Register binds every implemented generator onto d, keyed by its
// TaskKind (spec §4.7's dispatch table).
func (g *Generators) Register(d *jobs.Dispatcher) {
	d.Register(jobs.TaskMetadata, g.Metadata)
	d.Register(jobs.TaskThumbnail, g.Thumbnail)
	d.Register(jobs.TaskPreview, g.Preview)
	d.Register(jobs.TaskSprites, g.Sprites)
	d.Register(jobs.TaskPhash, g.Phash)
	d.Register(jobs.TaskMarkers, g.Scenes)
	d.Register(jobs.TaskHeatmaps, g.Heatmaps)
	d.Register(jobs.TaskWaveform, g.Waveform)
	d.Register(jobs.TaskMotion, g.Motion)
	d.Register(jobs.TaskSubtitles, g.Subtitles)
	d.Register(jobs.TaskFaces, g.Faces)
	d.Register(jobs.TaskIntegrityScan, g.IntegrityScan)
	d.Register(jobs.TaskCleanupArtifacts, g.CleanupArtifacts)
}

// withLock runs fn holding the (video, task) lock (§4.3), releasing it
// on every exit path.
func (g *Generators) withLock(videoPath, task string, fn func() (any, error)) (any, error) {
	dir, err := g.Layout.ArtifactDir(videoPath)
	if err != nil {
		return nil, err
	}
	h, err := g.Locks.Acquire(videoPath, task, dir)
	if err != nil {
		return nil, err
	}
	defer h.Unlock()
	return fn()
}
