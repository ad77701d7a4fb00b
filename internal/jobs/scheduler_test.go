package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/scenesengine/artifactd/internal/config"
)

func TestSchedulerAdmitsUpToCapacity(t *testing.T) {
	r, _, _ := newTestRegistry()
	cfg := &config.Config{}
	sched := NewScheduler(r, cfg, 2)

	j1 := r.Create(JobRequest{Task: "metadata"}, "metadata", "/a.mp4", "", "")
	j2 := r.Create(JobRequest{Task: "metadata"}, "metadata", "/b.mp4", "", "")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rel1, err := sched.Admit(ctx, j1, "metadata")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Start(j1.ID)

	rel2, err := sched.Admit(ctx, j2, "metadata")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Start(j2.ID)

	rel1()
	rel2()
}

func TestSchedulerBlocksBeyondCapacityUntilReleased(t *testing.T) {
	r, _, _ := newTestRegistry()
	cfg := &config.Config{}
	sched := NewScheduler(r, cfg, 1)

	j1 := r.Create(JobRequest{Task: "metadata"}, "metadata", "/a.mp4", "", "")
	j2 := r.Create(JobRequest{Task: "metadata"}, "metadata", "/b.mp4", "", "")

	ctx := context.Background()
	rel1, err := sched.Admit(ctx, j1, "metadata")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Start(j1.ID)

	admitted := int32(0)
	done := make(chan struct{})
	go func() {
		rel2, err := sched.Admit(ctx, j2, "metadata")
		if err == nil {
			atomic.StoreInt32(&admitted, 1)
			rel2()
		}
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&admitted) != 0 {
		t.Fatal("expected second job to remain blocked at capacity 1")
	}

	rel1()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected second job admitted after release")
	}
	if atomic.LoadInt32(&admitted) != 1 {
		t.Fatal("expected second job eventually admitted")
	}
}

func TestSchedulerLightSlotBypassesMainCapacity(t *testing.T) {
	r, _, _ := newTestRegistry()
	cfg := &config.Config{LightSlotTypes: []string{"phash"}}
	sched := NewScheduler(r, cfg, 1)

	heavy := r.Create(JobRequest{Task: "transcode"}, "transcode", "/a.mp4", "", "")
	light := r.Create(JobRequest{Task: "phash"}, "phash", "/b.mp4", "", "")

	ctx := context.Background()
	relHeavy, err := sched.Admit(ctx, heavy, "transcode")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Start(heavy.ID)
	defer relHeavy()

	ctx2, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	relLight, err := sched.Admit(ctx2, light, "phash")
	if err != nil {
		t.Fatalf("expected light-slot task to bypass main capacity: %v", err)
	}
	relLight()
}

func TestSchedulerPauseBlocksAdmission(t *testing.T) {
	r, _, _ := newTestRegistry()
	cfg := &config.Config{}
	sched := NewScheduler(r, cfg, 4)
	sched.SetPaused(true)

	j := r.Create(JobRequest{Task: "metadata"}, "metadata", "/a.mp4", "", "")
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := sched.Admit(ctx, j, "metadata")
	if err == nil {
		t.Fatal("expected admission to block while paused")
	}
}

func TestSchedulerSetJobConcurrency(t *testing.T) {
	r, _, _ := newTestRegistry()
	cfg := &config.Config{}
	sched := NewScheduler(r, cfg, 1)
	sched.SetJobConcurrency(3)

	_, cap := sched.currentSem()
	if cap != 3 {
		t.Fatalf("expected capacity 3, got %d", cap)
	}
}
