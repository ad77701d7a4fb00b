package filelock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTableExcludesConcurrentAccess(t *testing.T) {
	dir := t.TempDir()
	table := New()

	var counter int32
	var wg sync.WaitGroup
	results := make([]int32, 10)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			h, err := table.Acquire("/media/video.mp4", "thumbnail", dir)
			if err != nil {
				t.Error(err)
				return
			}
			defer h.Unlock()
			v := atomic.AddInt32(&counter, 1)
			time.Sleep(5 * time.Millisecond)
			results[idx] = v
			atomic.AddInt32(&counter, -1)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		if r != 1 {
			t.Fatalf("observed concurrent access, counter = %d", r)
		}
	}
}

func TestDifferentTasksDoNotBlock(t *testing.T) {
	dir := t.TempDir()
	table := New()

	h1, err := table.Acquire("/media/video.mp4", "thumbnail", dir)
	if err != nil {
		t.Fatal(err)
	}
	defer h1.Unlock()

	done := make(chan struct{})
	go func() {
		h2, err := table.Acquire("/media/video.mp4", "metadata", dir)
		if err != nil {
			t.Error(err)
			return
		}
		h2.Unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("different (video, task) pair should not block")
	}
}
