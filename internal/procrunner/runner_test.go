package procrunner

import (
	"context"
	"testing"
	"time"

	"github.com/scenesengine/artifactd/internal/core"
)

type fakeCancel struct{ c bool }

func (f *fakeCancel) Canceled() bool { return f.c }

func TestRunSuccess(t *testing.T) {
	r := New(2, 10)
	res, err := r.Run(context.Background(), "", nil, []string{"true"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit code = %d", res.ExitCode)
	}
}

func TestRunNonzeroExit(t *testing.T) {
	r := New(2, 10)
	_, err := r.Run(context.Background(), "", nil, []string{"false"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !coreIs(err, core.ErrNonzeroExit) {
		t.Fatalf("expected nonzero_exit, got %v", err)
	}
}

func TestRunCancel(t *testing.T) {
	r := New(2, 0)
	cancel := &fakeCancel{}
	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), "job1", cancel, []string{"sleep", "5"})
		done <- err
	}()
	time.Sleep(150 * time.Millisecond)
	cancel.c = true
	select {
	case err := <-done:
		if !coreIs(err, core.ErrCanceled) {
			t.Fatalf("expected canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not propagate within 2s")
	}
}

func TestSetFFmpegConcurrency(t *testing.T) {
	r := New(4, 10)
	r.SetFFmpegConcurrency(2)
	if r.cap != 2 {
		t.Fatalf("cap = %d, want 2", r.cap)
	}
}

func TestHWAccelArgs(t *testing.T) {
	if args := HWAccelArgs(""); args != nil {
		t.Errorf("expected nil args for empty value, got %v", args)
	}
	if args := HWAccelArgs("cuda"); len(args) != 2 || args[0] != "-hwaccel" || args[1] != "cuda" {
		t.Errorf("unexpected hwaccel args: %v", args)
	}
}

func TestThreadsArgs(t *testing.T) {
	if args := ThreadsArgs(""); args != nil {
		t.Errorf("expected nil args for empty value, got %v", args)
	}
	if args := ThreadsArgs("auto"); args != nil {
		t.Errorf("expected nil args for auto, got %v", args)
	}
	if args := ThreadsArgs("4"); len(args) != 2 || args[0] != "-threads" || args[1] != "4" {
		t.Errorf("unexpected threads args: %v", args)
	}
}

func coreIs(err error, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
