package generators

import (
	"context"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/scenesengine/artifactd/internal/jobs"
	"github.com/scenesengine/artifactd/internal/logger"
)

// CleanupArtifacts implements the cleanup-artifacts task (spec §4.1,
// "deleted only when the video is deleted/renamed or when an explicit
// cleanup or delete endpoint is invoked"): it removes every derived
// artifact for target, leaving the source video untouched. The next
// request for any artifact kind regenerates it from scratch.
func (g *Generators) CleanupArtifacts(ctx context.Context, job *jobs.Job, target string, cancel jobs.CancelSignal, progress jobs.ProgressFunc) (any, error) {
	return g.withLock(target, "cleanup-artifacts", func() (any, error) {
		dir, err := g.Layout.ArtifactDir(target)
		if err != nil {
			return nil, err
		}
		freed := dirSize(dir)
		if err := os.RemoveAll(dir); err != nil {
			return nil, err
		}
		if g.ScanCache != nil {
			_ = g.ScanCache.Forget(target)
		}
		logger.Info("cleaned up artifacts", "video", target, "dir", dir, "freed", humanize.Bytes(uint64(freed)))
		return map[string]any{"removed": dir, "freed_bytes": freed}, nil
	})
}

func dirSize(dir string) int64 {
	var total int64
	filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
