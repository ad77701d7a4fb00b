// Package jobs implements C5 (Job Registry), C6 (Job Scheduler) and C7
// (Job Worker Dispatcher). Grounded on the teacher's job.go/queue.go/
// worker.go/limits.go, generalized from a single transcode task to the
// full dispatch table in spec §4.7 via a typed TaskKind sum (spec §9).
package jobs

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a job's lifecycle state (spec §3.4).
type State string

const (
	StateQueued   State = "queued"
	StateRunning  State = "running"
	StateDone     State = "done"
	StateFailed   State = "failed"
	StateCanceled State = "canceled"
	StateRestored State = "restored"
)

// IsTerminal reports whether s is a terminal state that never spontaneously
// re-enters a non-terminal one (spec §3.4).
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed || s == StateCanceled
}

// IsActive reports whether s counts toward "active" jobs (spec §3.4: only
// queued and running are active).
func (s State) IsActive() bool {
	return s == StateQueued || s == StateRunning
}

// JobRequest is the value submitted by external callers (spec §3.5).
type JobRequest struct {
	Task      string         `json:"task"`
	Directory string         `json:"directory,omitempty"`
	Recursive bool           `json:"recursive,omitempty"`
	Force     bool           `json:"force,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
}

// Targets extracts params.targets when present, per §3.5.
func (r JobRequest) Targets() ([]string, bool) {
	raw, ok := r.Params["targets"]
	if !ok {
		return nil, false
	}
	list, ok := raw.([]string)
	if ok {
		return list, true
	}
	anyList, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(anyList))
	for _, v := range anyList {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out, true
}

// Job is a job record (spec §3.4).
type Job struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Path      string `json:"path"`
	State     State  `json:"state"`
	CreatedAt int64  `json:"created_at"`
	StartedAt int64  `json:"started_at,omitempty"`
	EndedAt   int64  `json:"ended_at,omitempty"`

	Total     int `json:"total"`
	Processed int `json:"processed"`

	Current string `json:"current,omitempty"`

	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`

	Priority bool   `json:"priority,omitempty"`
	Label    string `json:"label,omitempty"`

	Request JobRequest `json:"request"`

	MetaBatch string `json:"meta_batch,omitempty"`

	Paused       bool `json:"paused,omitempty"`
	PauseRequeue bool `json:"pause_requeue,omitempty"`

	mu           sync.Mutex
	lastActivity time.Time
}

// Progress returns the derived integer percentage, and whether it could be
// computed (total must be known and positive per spec §3.4).
func (j *Job) Progress() (int, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Total <= 0 {
		return 0, false
	}
	pct := j.Processed * 100 / j.Total
	if pct > 100 {
		pct = 100
	}
	return pct, true
}

// Snapshot returns a shallow copy safe to hand to callers outside the
// registry's lock (Job has no exported slice/map fields besides Request
// and Result, which callers must treat as read-only, matching the
// teacher's Job.Copy contract).
func (j *Job) Snapshot() *Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	cp := *j
	cp.mu = sync.Mutex{}
	return &cp
}

func (j *Job) touch() {
	j.mu.Lock()
	j.lastActivity = time.Now()
	j.mu.Unlock()
}

func (j *Job) idleSince() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	return time.Since(j.lastActivity)
}

// newJobID returns a 12-char hex opaque ID (spec §3.4), derived from a
// uuid per the promoted google/uuid dependency.
func newJobID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:12]
}

func nowUnix() int64 { return time.Now().Unix() }
