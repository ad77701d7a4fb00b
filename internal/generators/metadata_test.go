package generators

import (
	"path/filepath"
	"testing"
)

func TestSyntheticMetadataIsFlaggedStub(t *testing.T) {
	doc := syntheticMetadata()
	if !doc.Stub {
		t.Fatal("synthetic metadata must be flagged as a stub")
	}
	if len(doc.Streams) != 2 {
		t.Fatalf("expected one video and one audio stream, got %d", len(doc.Streams))
	}
}

func TestIsMetadataStubDetectsFlag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.metadata.json")
	if err := writeJSONAtomic(path, syntheticMetadata()); err != nil {
		t.Fatalf("writeJSONAtomic: %v", err)
	}
	if !isMetadataStub(path) {
		t.Fatal("expected stub flag to be detected")
	}
}

func TestIsMetadataStubFalseForRealDoc(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.metadata.json")
	doc := MetadataDoc{Duration: 120, Streams: []StreamInfo{{CodecType: "video", CodecName: "h264"}}}
	if err := writeJSONAtomic(path, doc); err != nil {
		t.Fatalf("writeJSONAtomic: %v", err)
	}
	if isMetadataStub(path) {
		t.Fatal("expected non-stub doc to not be flagged")
	}
}
