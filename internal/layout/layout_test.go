package layout

import (
	"os"
	"path/filepath"
	"testing"
)

func TestArtifactPath(t *testing.T) {
	root := t.TempDir()
	l := New(root, nil)

	video := filepath.Join(root, "movie.mp4")
	if err := os.WriteFile(video, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := l.ArtifactPath(video, KindThumbnail)
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(root, ".artifacts", "scenes", "movie", "movie.thumbnail.jpg")
	if p != want {
		t.Fatalf("got %s want %s", p, want)
	}
}

func TestParseArtifactNameLongestSuffixFirst(t *testing.T) {
	cases := []struct {
		name     string
		wantStem string
		wantKind Kind
	}{
		{"movie.preview.json", "movie", KindPreviewInfo},
		{"movie.preview.webm", "movie", KindPreview},
		{"movie.sprites.json", "movie", KindSpritesIndex},
		{"movie.sprites.jpg", "movie", KindSpritesSheet},
		{"movie.metadata.json", "movie", KindMetadata},
		{"movie.faces.json", "movie", KindFaces},
	}
	for _, c := range cases {
		got, ok := ParseArtifactName(c.name)
		if !ok {
			t.Fatalf("%s: expected match", c.name)
		}
		if got.Stem != c.wantStem || got.Kind != c.wantKind {
			t.Fatalf("%s: got %+v", c.name, got)
		}
	}
}

func TestNormalizeStemStripsLegacyExtension(t *testing.T) {
	got, ok := ParseArtifactName("foo.mp4.metadata.json")
	if !ok {
		t.Fatal("expected match")
	}
	if got.Stem != "foo" {
		t.Fatalf("got stem %q, want foo", got.Stem)
	}
}

func TestIsOriginalMedia(t *testing.T) {
	root := t.TempDir()
	l := New(root, nil)

	video := filepath.Join(root, "show.mkv")
	os.WriteFile(video, []byte("x"), 0o644)
	if !l.IsOriginalMedia(video) {
		t.Fatal("expected show.mkv to be original media")
	}

	hidden := filepath.Join(root, ".hidden", "show.mkv")
	os.MkdirAll(filepath.Dir(hidden), 0o755)
	os.WriteFile(hidden, []byte("x"), 0o644)
	if l.IsOriginalMedia(hidden) {
		t.Fatal("expected hidden-directory video to be excluded")
	}

	dotfile := filepath.Join(root, "._show.mkv")
	os.WriteFile(dotfile, []byte("x"), 0o644)
	if l.IsOriginalMedia(dotfile) {
		t.Fatal("expected ._ prefixed file to be excluded")
	}

	previewsDir := filepath.Join(root, "sub.previews", "show.mkv")
	os.MkdirAll(filepath.Dir(previewsDir), 0o755)
	os.WriteFile(previewsDir, []byte("x"), 0o644)
	if l.IsOriginalMedia(previewsDir) {
		t.Fatal("expected .previews directory content to be excluded")
	}
}

func TestLegacySubtitlePath(t *testing.T) {
	got := LegacySubtitlePath("/media/show.mp4")
	want := "/media/show.subtitles.srt"
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestListVideosSingleFile(t *testing.T) {
	root := t.TempDir()
	l := New(root, nil)
	video := filepath.Join(root, "movie.mp4")
	os.WriteFile(video, []byte("x"), 0o644)

	got, err := l.ListVideos(video, false)
	if err != nil {
		t.Fatalf("ListVideos: %v", err)
	}
	if len(got) != 1 || got[0] != video {
		t.Fatalf("unexpected result: %v", got)
	}
}

func TestListVideosNonRecursiveSkipsSubdirs(t *testing.T) {
	root := t.TempDir()
	l := New(root, nil)
	os.WriteFile(filepath.Join(root, "a.mp4"), []byte("x"), 0o644)
	sub := filepath.Join(root, "sub")
	os.MkdirAll(sub, 0o755)
	os.WriteFile(filepath.Join(sub, "b.mp4"), []byte("x"), 0o644)

	got, err := l.ListVideos(root, false)
	if err != nil {
		t.Fatalf("ListVideos: %v", err)
	}
	if len(got) != 1 || filepath.Base(got[0]) != "a.mp4" {
		t.Fatalf("expected only top-level a.mp4, got %v", got)
	}
}

func TestListVideosRecursiveWalksSubdirsAndSkipsHidden(t *testing.T) {
	root := t.TempDir()
	l := New(root, nil)
	os.WriteFile(filepath.Join(root, "a.mp4"), []byte("x"), 0o644)
	sub := filepath.Join(root, "sub")
	os.MkdirAll(sub, 0o755)
	os.WriteFile(filepath.Join(sub, "b.mp4"), []byte("x"), 0o644)
	hidden := filepath.Join(root, ".hidden")
	os.MkdirAll(hidden, 0o755)
	os.WriteFile(filepath.Join(hidden, "c.mp4"), []byte("x"), 0o644)

	got, err := l.ListVideos(root, true)
	if err != nil {
		t.Fatalf("ListVideos: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 videos, got %v", got)
	}
}

func TestListVideosExcludesArtifactsAndNonMedia(t *testing.T) {
	root := t.TempDir()
	l := New(root, nil)
	os.WriteFile(filepath.Join(root, "a.mp4"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(root, "a.preview.mp4"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644)

	got, err := l.ListVideos(root, false)
	if err != nil {
		t.Fatalf("ListVideos: %v", err)
	}
	if len(got) != 1 || filepath.Base(got[0]) != "a.mp4" {
		t.Fatalf("expected only a.mp4, got %v", got)
	}
}
