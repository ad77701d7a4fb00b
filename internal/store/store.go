// Package store implements C9: persistence and restore of job records to
// per-job JSON files, plus a non-authoritative sqlite cache used by the
// integrity-scan task. Grounded on the teacher's schema-versioned sqlite
// store (repurposed, see ScanCache) for the on-disk conventions, and on
// the teacher's atomic-write helpers for the job persistence path itself,
// generalized from a single sqlite table of transcode jobs to the
// directory-of-JSON-files model spec §4.9 requires.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/scenesengine/artifactd/internal/jobs"
	"github.com/scenesengine/artifactd/internal/logger"
)

// JSONStore persists job records as one JSON file per job under
// <state_dir>/.jobs/<id>.json (spec §4.9). Writes are atomic: a temp
// sibling is written then renamed into place so a crash never leaves a
// half-written record behind.
type JSONStore struct {
	mu  sync.Mutex
	dir string
}

// New constructs a JSONStore rooted at <stateDir>/.jobs, creating the
// directory if absent.
func New(stateDir string) (*JSONStore, error) {
	dir := filepath.Join(stateDir, ".jobs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &JSONStore{dir: dir}, nil
}

func (s *JSONStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// persistedJob is the on-disk shape of a job record. It mirrors
// jobs.Job field-for-field except for Current, which is deliberately
// omitted: the spec calls it out as volatile and not worth the write
// churn of persisting on every progress tick (spec §4.9).
type persistedJob struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Path      string `json:"path"`
	State     string `json:"state"`
	CreatedAt int64  `json:"created_at"`
	StartedAt int64  `json:"started_at,omitempty"`
	EndedAt   int64  `json:"ended_at,omitempty"`

	Total     int `json:"total"`
	Processed int `json:"processed"`

	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`

	Priority bool   `json:"priority,omitempty"`
	Label    string `json:"label,omitempty"`

	Request jobs.JobRequest `json:"request"`

	MetaBatch string `json:"meta_batch,omitempty"`

	Paused       bool `json:"paused,omitempty"`
	PauseRequeue bool `json:"pause_requeue,omitempty"`
}

func toPersisted(j *jobs.Job) persistedJob {
	return persistedJob{
		ID: j.ID, Type: j.Type, Path: j.Path, State: string(j.State),
		CreatedAt: j.CreatedAt, StartedAt: j.StartedAt, EndedAt: j.EndedAt,
		Total: j.Total, Processed: j.Processed,
		Error: j.Error, Result: j.Result,
		Priority: j.Priority, Label: j.Label,
		Request: j.Request, MetaBatch: j.MetaBatch,
		Paused: j.Paused, PauseRequeue: j.PauseRequeue,
	}
}

func (p persistedJob) toJob() *jobs.Job {
	return &jobs.Job{
		ID: p.ID, Type: p.Type, Path: p.Path, State: jobs.State(p.State),
		CreatedAt: p.CreatedAt, StartedAt: p.StartedAt, EndedAt: p.EndedAt,
		Total: p.Total, Processed: p.Processed,
		Error: p.Error, Result: p.Result,
		Priority: p.Priority, Label: p.Label,
		Request: p.Request, MetaBatch: p.MetaBatch,
		Paused: p.Paused, PauseRequeue: p.PauseRequeue,
	}
}

// SaveJob implements jobs.Persister: writes the job atomically, dropping
// the volatile Current field.
func (s *JSONStore) SaveJob(j *jobs.Job) error {
	data, err := json.MarshalIndent(toPersisted(j), "", "  ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := s.path(j.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(j.ID))
}

// DeleteJob implements jobs.Persister.
func (s *JSONStore) DeleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(id))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// LoadAll enumerates the job directory and rehydrates every record,
// applying the startup state normalization from spec §4.9:
//   - cancel_requested -> canceled (never resurrect a canceled job)
//   - running or queued -> queued if autoRestore, else restored (paused)
//   - terminal states are preserved as-is
//
// Records returned in sorted (created_at, id) order, matching the FIFO
// ordering the registry otherwise derives from insertion order.
func (s *JSONStore) LoadAll(autoRestore bool) ([]*jobs.Job, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []*jobs.Job
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			logger.Warn("failed to read persisted job", "file", e.Name(), "err", err)
			continue
		}
		var p persistedJob
		if err := json.Unmarshal(data, &p); err != nil {
			logger.Warn("failed to decode persisted job", "file", e.Name(), "err", err)
			continue
		}
		j := p.toJob()
		normalizeRestoredState(j, autoRestore)
		out = append(out, j)
	}

	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt != out[k].CreatedAt {
			return out[i].CreatedAt < out[k].CreatedAt
		}
		return out[i].ID < out[k].ID
	})
	return out, nil
}

const stateCancelRequested = "cancel_requested"

func normalizeRestoredState(j *jobs.Job, autoRestore bool) {
	switch {
	case string(j.State) == stateCancelRequested:
		j.State = jobs.StateCanceled
	case j.State == jobs.StateRunning || j.State == jobs.StateQueued:
		if autoRestore {
			j.State = jobs.StateQueued
		} else {
			j.State = jobs.StateRestored
			j.Paused = true
		}
	}
	// terminal states (done, failed, canceled) are left untouched.
}
