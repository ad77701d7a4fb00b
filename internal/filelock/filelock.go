// Package filelock implements C3: (video, task) mutual exclusion, both
// in-process (a sharded keyed mutex map) and across processes (advisory
// flock on a per-task lock file). Cross-process locking is best-effort;
// only in-process exclusion is guaranteed (spec §4.3, §9).
package filelock

import (
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

const shardCount = 64

// Table is the in-process keyed mutex, sharded to bound lock contention
// and avoid a single global mutex guarding every key (spec §9 redesign
// note: "implement as a sharded lock map").
type Table struct {
	shards [shardCount]shard
}

type shard struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New constructs an empty Table.
func New() *Table {
	t := &Table{}
	for i := range t.shards {
		t.shards[i].locks = make(map[string]*sync.Mutex)
	}
	return t
}

func key(videoPath, task string) string {
	return videoPath + "\x00" + task
}

func (t *Table) shardFor(k string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k))
	return &t.shards[h.Sum32()%shardCount]
}

func (t *Table) lockFor(videoPath, task string) *sync.Mutex {
	k := key(videoPath, task)
	s := t.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[k]
	if !ok {
		m = &sync.Mutex{}
		s.locks[k] = m
	}
	return m
}

// Handle represents a held lock; release it via Unlock on every exit path.
type Handle struct {
	mu       *sync.Mutex
	crossFD  int
	crossOK  bool
	released bool
}

// Acquire takes the in-process lock for (videoPath, normalized task), then
// best-effort acquires the cross-process advisory lock at
// <artifactDir>/.locks/<task>.lock. If advisory locks are unsupported, only
// in-process exclusion is guaranteed (spec §4.3).
func (t *Table) Acquire(videoPath, task, artifactDir string) (*Handle, error) {
	m := t.lockFor(videoPath, task)
	m.Lock()

	h := &Handle{mu: m}

	locksDir := filepath.Join(artifactDir, ".locks")
	if err := os.MkdirAll(locksDir, 0o755); err != nil {
		return h, nil // best-effort: in-process lock still held
	}
	lockPath := filepath.Join(locksDir, task+".lock")
	fd, err := unix.Open(lockPath, unix.O_CREAT|unix.O_RDWR, 0o644)
	if err != nil {
		return h, nil
	}
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		_ = unix.Close(fd)
		return h, nil
	}
	h.crossFD = fd
	h.crossOK = true
	return h, nil
}

// Unlock releases both the in-process and (if held) cross-process lock.
// Safe to call multiple times.
func (h *Handle) Unlock() {
	if h.released {
		return
	}
	h.released = true
	if h.crossOK {
		_ = unix.Flock(h.crossFD, unix.LOCK_UN)
		_ = unix.Close(h.crossFD)
	}
	h.mu.Unlock()
}
