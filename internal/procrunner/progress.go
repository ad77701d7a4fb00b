package procrunner

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/scenesengine/artifactd/internal/core"
)

// progressRateLimit caps how often parsed progress lines are forwarded to
// onProgress; ffmpeg's "-progress pipe:1" can emit far faster than any
// consumer (registry persistence, SSE fanout) needs to observe.
const progressRateLimit = 10

// ProgressEvent is one parsed line from ffmpeg's "-progress pipe:1" output
// (spec §9's documented progress contract).
type ProgressEvent struct {
	OutTimeMS int64 // out_time_ms=...
	Done      bool  // progress=end
}

// ProgressFunc receives parsed progress events as they arrive.
type ProgressFunc func(ProgressEvent)

// RunWithProgress runs an ffmpeg command that emits "-progress pipe:1" on
// stdout, forwarding parsed events to onProgress. idleTimeout is a stall
// watchdog: if no progress token arrives within idleTimeout, the process is
// killed and a timeout error returned (spec §4.4.3 stall watchdog, §9).
// A zero idleTimeout disables the watchdog.
func (r *Runner) RunWithProgress(ctx context.Context, jobID string, cancel CancelSignal, cmd []string, idleTimeout time.Duration, onProgress ProgressFunc) error {
	if len(cmd) == 0 {
		return core.InvalidArgument("procrunner", "empty command")
	}
	isFFmpeg := filepath.Base(cmd[0]) == "ffmpeg"
	if isFFmpeg {
		sem := r.currentSemaphore()
		if err := sem.Acquire(ctx, 1); err != nil {
			return core.Timeout("procrunner", "waiting for ffmpeg slot")
		}
		defer sem.Release(1)
	}

	c := exec.Command(cmd[0], cmd[1:]...)
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdout, err := c.StdoutPipe()
	if err != nil {
		return core.DependencyMissing("procrunner", err.Error())
	}
	var stderrBuf strings.Builder
	c.Stderr = &stderrWriter{b: &stderrBuf}

	if err := c.Start(); err != nil {
		return core.DependencyMissing("procrunner", err.Error())
	}
	if jobID != "" {
		r.track(jobID, c)
		defer r.untrack(jobID, c)
	}

	var lastActivity sync.Mutex
	lastActivityAt := time.Now()
	touch := func() {
		lastActivity.Lock()
		lastActivityAt = time.Now()
		lastActivity.Unlock()
	}
	idleSince := func() time.Duration {
		lastActivity.Lock()
		defer lastActivity.Unlock()
		return time.Since(lastActivityAt)
	}

	limiter := rate.NewLimiter(rate.Limit(progressRateLimit), 1)
	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := sc.Text()
			touch()
			ev, ok := parseProgressLine(line)
			if !ok || onProgress == nil {
				continue
			}
			if ev.Done || limiter.Allow() {
				onProgress(ev)
			}
		}
	}()

	waitDone := make(chan error, 1)
	go func() { waitDone <- c.Wait() }()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err := <-waitDone:
			<-scanDone
			if err != nil {
				if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() != 0 {
					return core.NonzeroExit("procrunner", stderrBuf.String())
				}
				return core.NonzeroExit("procrunner", err.Error())
			}
			return nil
		case <-ticker.C:
			if cancel != nil && cancel.Canceled() {
				r.killProcessGroup(c)
				<-waitDone
				return core.ErrCanceled
			}
			if idleTimeout > 0 && idleSince() > idleTimeout {
				r.killProcessGroup(c)
				<-waitDone
				return core.Timeout("procrunner", "no progress token within idle window")
			}
		case <-ctx.Done():
			r.killProcessGroup(c)
			<-waitDone
			return core.ErrCanceled
		}
	}
}

func parseProgressLine(line string) (ProgressEvent, bool) {
	if strings.HasPrefix(line, "out_time_ms=") {
		v, err := strconv.ParseInt(strings.TrimPrefix(line, "out_time_ms="), 10, 64)
		if err != nil {
			return ProgressEvent{}, false
		}
		return ProgressEvent{OutTimeMS: v}, true
	}
	if line == "progress=end" {
		return ProgressEvent{Done: true}, true
	}
	return ProgressEvent{}, false
}

type stderrWriter struct {
	b *strings.Builder
}

func (w *stderrWriter) Write(p []byte) (int, error) {
	return w.b.Write(p)
}

var _ io.Writer = (*stderrWriter)(nil)
