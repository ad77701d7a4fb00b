package filelock

import "golang.org/x/sync/singleflight"

// Dedup collapses concurrent identical (video, task) generation requests
// into a single in-flight execution, so N simultaneous callers requesting
// the same not-yet-present artifact do work once and all observe the same
// result — grounded on the probe-call de-duplication pattern used for
// directory browsing in the pack's teacher repo, generalized from "probe a
// file" to "run a generator".
type Dedup struct {
	g singleflight.Group
}

// NewDedup constructs an empty Dedup.
func NewDedup() *Dedup { return &Dedup{} }

// Do executes fn if no identical (videoPath, task) call is already in
// flight, otherwise waits for and shares that call's result.
func (d *Dedup) Do(videoPath, task string, fn func() (any, error)) (any, error, bool) {
	return d.g.Do(key(videoPath, task), fn)
}
