package store

import (
	"path/filepath"
	"testing"
)

func newTestScanCache(t *testing.T) *ScanCache {
	t.Helper()
	c, err := NewScanCache(filepath.Join(t.TempDir(), "scancache.db"))
	if err != nil {
		t.Fatalf("NewScanCache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestScanCacheUpsertThenLookup(t *testing.T) {
	c := newTestScanCache(t)
	entry := ScannedEntry{Path: "/media/a.mkv", MTimeUnix: 100, SizeBytes: 2048, KnownStems: "thumbnail,preview"}
	if err := c.Upsert(entry); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, ok, err := c.Lookup("/media/a.mkv")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok {
		t.Fatal("expected entry to be found")
	}
	if got.MTimeUnix != 100 || got.SizeBytes != 2048 || got.KnownStems != "thumbnail,preview" {
		t.Fatalf("unexpected entry: %+v", got)
	}
}

func TestScanCacheUpsertOverwritesExisting(t *testing.T) {
	c := newTestScanCache(t)
	_ = c.Upsert(ScannedEntry{Path: "/x.mkv", MTimeUnix: 1, SizeBytes: 10})
	_ = c.Upsert(ScannedEntry{Path: "/x.mkv", MTimeUnix: 2, SizeBytes: 20})

	got, ok, err := c.Lookup("/x.mkv")
	if err != nil || !ok {
		t.Fatalf("Lookup: ok=%v err=%v", ok, err)
	}
	if got.MTimeUnix != 2 || got.SizeBytes != 20 {
		t.Fatalf("expected overwritten entry, got %+v", got)
	}
}

func TestScanCacheLookupMissingReturnsFalse(t *testing.T) {
	c := newTestScanCache(t)
	_, ok, err := c.Lookup("/nope.mkv")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ok {
		t.Fatal("expected missing entry to report ok=false")
	}
}

func TestScanCacheForgetRemovesEntry(t *testing.T) {
	c := newTestScanCache(t)
	_ = c.Upsert(ScannedEntry{Path: "/gone.mkv", MTimeUnix: 1, SizeBytes: 1})
	if err := c.Forget("/gone.mkv"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	_, ok, err := c.Lookup("/gone.mkv")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ok {
		t.Fatal("expected entry to be gone")
	}
}

func TestScanCacheAllPathsListsEverything(t *testing.T) {
	c := newTestScanCache(t)
	_ = c.Upsert(ScannedEntry{Path: "/a.mkv", MTimeUnix: 1, SizeBytes: 1})
	_ = c.Upsert(ScannedEntry{Path: "/b.mkv", MTimeUnix: 1, SizeBytes: 1})

	paths, err := c.AllPaths()
	if err != nil {
		t.Fatalf("AllPaths: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %v", paths)
	}
}
