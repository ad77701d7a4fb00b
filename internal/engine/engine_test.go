package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/scenesengine/artifactd/internal/config"
	"github.com/scenesengine/artifactd/internal/events"
	"github.com/scenesengine/artifactd/internal/jobs"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	mediaRoot := t.TempDir()
	stateDir := t.TempDir()
	cfg := &config.Config{
		MediaRoot:         mediaRoot,
		MediaExts:         []string{"mp4"},
		FFmpeg:            "ffmpeg",
		FFprobe:           "ffprobe",
		FFmpegConcurrency: 2,
		JobMaxConcurrency: 2,
		RestoreWorkers:    1,
		StateDir:          stateDir,
		LightSlotTypes:    []string{"markers", "preview", "sprites", "phash", "faces", "heatmaps"},
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestSubmitJobNormalizesTaskAndQueues(t *testing.T) {
	e := newTestEngine(t)
	video := filepath.Join(e.Cfg.MediaRoot, "movie.mp4")
	if err := os.WriteFile(video, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	job, err := e.SubmitJob(jobs.JobRequest{Task: "metadata-batch", Directory: video})
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if job.Type != "metadata" {
		t.Fatalf("expected normalized task, got %q", job.Type)
	}
	if job.State != jobs.StateQueued {
		t.Fatalf("expected queued, got %s", job.State)
	}

	got, ok := e.GetJob(job.ID)
	if !ok || got.ID != job.ID {
		t.Fatalf("expected job retrievable by id, got %+v ok=%v", got, ok)
	}
}

func TestSubmitJobRejectsUnknownTask(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.SubmitJob(jobs.JobRequest{Task: "not-a-real-task"}); err == nil {
		t.Fatal("expected error for unknown task")
	}
}

func TestCancelQueuedJobMarksCanceled(t *testing.T) {
	e := newTestEngine(t)
	job, err := e.SubmitJob(jobs.JobRequest{Task: "metadata", Directory: e.Cfg.MediaRoot})
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if err := e.CancelJob(job.ID); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		got, _ := e.GetJob(job.ID)
		if got.State == jobs.StateCanceled {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected job to reach canceled state")
}

func TestArtifactExistsFalseForUngeneratedArtifact(t *testing.T) {
	e := newTestEngine(t)
	video := filepath.Join(e.Cfg.MediaRoot, "movie.mp4")
	if err := os.WriteFile(video, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if e.ArtifactExists(video, "metadata") {
		t.Fatal("expected no metadata artifact before any job runs")
	}
}

func TestSetConcurrencyKnobsClamp(t *testing.T) {
	e := newTestEngine(t)
	sub := e.SubscribeEvents()
	defer e.UnsubscribeEvents(sub)
	e.SetJobConcurrency(1000)
	e.SetFFmpegConcurrency(1000)
	e.SetPaused(true)
	e.SetPaused(false)

	jobsEv := <-sub.Events()
	if jobsEv.Event != events.Concurrency || jobsEv.Type != "jobs" || jobsEv.Value != jobs.MaxJobConcurrency {
		t.Fatalf("expected job concurrency clamped to %d, got %+v", jobs.MaxJobConcurrency, jobsEv)
	}
	ffEv := <-sub.Events()
	if ffEv.Event != events.Concurrency || ffEv.Type != "ffmpeg" || ffEv.Value != jobs.MaxFFmpegConcurrency {
		t.Fatalf("expected ffmpeg concurrency clamped to %d, got %+v", jobs.MaxFFmpegConcurrency, ffEv)
	}
}
