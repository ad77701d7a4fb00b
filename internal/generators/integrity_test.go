package generators

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/scenesengine/artifactd/internal/filelock"
	"github.com/scenesengine/artifactd/internal/layout"
)

func newTestGenerators(root string) *Generators {
	return New(nil, nil, layout.New(root, nil), filelock.New())
}

func TestScanOneReportsMissingArtifacts(t *testing.T) {
	root := t.TempDir()
	video := filepath.Join(root, "movie.mp4")
	if err := os.WriteFile(video, []byte("source bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	g := newTestGenerators(root)

	report, err := g.scanOne(video)
	if err != nil {
		t.Fatalf("scanOne: %v", err)
	}
	if len(report.Missing) != len(scannedKinds) {
		t.Fatalf("expected every kind missing, got %v", report.Missing)
	}
	if len(report.Stale) != 0 {
		t.Fatalf("expected no stale kinds, got %v", report.Stale)
	}
}

func TestScanOneDetectsStaleArtifact(t *testing.T) {
	root := t.TempDir()
	video := filepath.Join(root, "movie.mp4")
	if err := os.WriteFile(video, []byte("source bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	g := newTestGenerators(root)

	metaPath, err := g.Layout.ArtifactPath(video, layout.KindMetadata)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(metaPath, make([]byte, minArtifactBytes+10), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(metaPath, old, old); err != nil {
		t.Fatal(err)
	}

	report, err := g.scanOne(video)
	if err != nil {
		t.Fatalf("scanOne: %v", err)
	}
	if !containsKind(report.Stale, string(layout.KindMetadata)) {
		t.Fatalf("expected metadata flagged stale, got stale=%v missing=%v", report.Stale, report.Missing)
	}
}

func TestScanOrphansFindsUnmatchedArtifact(t *testing.T) {
	root := t.TempDir()
	video := filepath.Join(root, "keep.mp4")
	if err := os.WriteFile(video, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	g := newTestGenerators(root)

	keepMeta, err := g.Layout.ArtifactPath(video, layout.KindMetadata)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keepMeta, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	orphanDir := filepath.Join(root, ".artifacts", "scenes", "deleted")
	if err := os.MkdirAll(orphanDir, 0o755); err != nil {
		t.Fatal(err)
	}
	orphanPath := filepath.Join(orphanDir, "deleted.metadata.json")
	if err := os.WriteFile(orphanPath, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	orphans, err := g.ScanOrphans([]string{video})
	if err != nil {
		t.Fatalf("ScanOrphans: %v", err)
	}
	if len(orphans) != 1 || orphans[0] != orphanPath {
		t.Fatalf("expected exactly the deleted.* artifact as orphan, got %v", orphans)
	}
}

func TestCleanupArtifactsRemovesArtifactDir(t *testing.T) {
	root := t.TempDir()
	video := filepath.Join(root, "movie.mp4")
	if err := os.WriteFile(video, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	g := newTestGenerators(root)

	metaPath, err := g.Layout.ArtifactPath(video, layout.KindMetadata)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(metaPath, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := g.CleanupArtifacts(nil, nil, video, nil, nil); err != nil {
		t.Fatalf("CleanupArtifacts: %v", err)
	}
	if _, err := os.Stat(metaPath); !os.IsNotExist(err) {
		t.Fatalf("expected artifact file removed, stat err=%v", err)
	}
}
