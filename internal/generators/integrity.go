package generators

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/scenesengine/artifactd/internal/jobs"
	"github.com/scenesengine/artifactd/internal/layout"
	"github.com/scenesengine/artifactd/internal/store"
)

// IntegrityReport is one video's result from the integrity-scan task
// (spec §4.7): missing artifact kinds, and kinds whose file is older
// than the source video's mtime ("stale").
type IntegrityReport struct {
	Video   string   `json:"video"`
	Missing []string `json:"missing"`
	Stale   []string `json:"stale"`
}

// scannedKinds is the set of artifact kinds the integrity scan checks
// presence/staleness for. Per-scene thumbnails are not included: they
// are keyed by scene index rather than a fixed suffix and their
// presence is implied by a non-empty scenes.json.
var scannedKinds = []layout.Kind{
	layout.KindMetadata, layout.KindThumbnail, layout.KindPreview,
	layout.KindSpritesSheet, layout.KindPhash, layout.KindScenes,
	layout.KindHeatmapJSON, layout.KindWaveform, layout.KindMotion,
	layout.KindSubtitles, layout.KindFaces,
}

// IntegrityScan implements the integrity-scan task (spec §4.7): for a
// single target video, reports which artifact kinds are missing or
// stale (older than the source's mtime). Orphan detection (artifact
// files whose stem no longer matches any video) is a library-wide
// concern the per-target generator contract cannot express.
// Generators.ScanOrphans computes it for a given list of known videos,
// but this task does not call it, so an integrity-scan job reports
// per-video missing and stale kinds only and no orphan list.
func (g *Generators) IntegrityScan(ctx context.Context, job *jobs.Job, target string, cancel jobs.CancelSignal, progress jobs.ProgressFunc) (any, error) {
	return g.withLock(target, "integrity-scan", func() (any, error) {
		return g.scanOne(target)
	})
}

func (g *Generators) scanOne(target string) (*IntegrityReport, error) {
	srcInfo, err := os.Stat(target)
	if err != nil {
		return nil, err
	}
	report := &IntegrityReport{Video: target}

	for _, kind := range scannedKinds {
		path, err := g.Layout.ArtifactPath(target, kind)
		if err != nil {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || info.Size() < minArtifactBytes {
			report.Missing = append(report.Missing, string(kind))
			continue
		}
		if info.ModTime().Before(srcInfo.ModTime()) {
			report.Stale = append(report.Stale, string(kind))
		}
	}

	if g.ScanCache != nil {
		_ = g.ScanCache.Upsert(scanCacheEntry(target, srcInfo, report))
	}
	return report, nil
}

// ScanOrphans walks the artifact root under lay and returns every
// artifact file whose recovered stem does not match any video in
// knownVideos (spec §4.7's "global list of orphaned artifact files",
// testable property §8.3).
func (g *Generators) ScanOrphans(knownVideos []string) ([]string, error) {
	knownStems := make(map[string]struct{}, len(knownVideos))
	for _, v := range knownVideos {
		knownStems[layout.Stem(v)] = struct{}{}
	}

	root := filepath.Join(g.Layout.Root, ".artifacts", "scenes")
	var orphans []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		res, ok := layout.ParseArtifactName(d.Name())
		if !ok {
			return nil
		}
		if _, known := knownStems[res.Stem]; !known {
			orphans = append(orphans, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orphans, nil
}

func scanCacheEntry(target string, info os.FileInfo, report *IntegrityReport) store.ScannedEntry {
	stems := ""
	for _, k := range scannedKinds {
		if !containsKind(report.Missing, string(k)) {
			if stems != "" {
				stems += ","
			}
			stems += string(k)
		}
	}
	return store.ScannedEntry{
		Path: target, MTimeUnix: info.ModTime().Unix(), SizeBytes: info.Size(), KnownStems: stems, ScannedAt: time.Now(),
	}
}

func containsKind(list []string, k string) bool {
	for _, v := range list {
		if v == k {
			return true
		}
	}
	return false
}
