// Package layout implements C1: pure functions mapping a source video to
// the canonical paths of its derived artifacts, and recovering (stem,
// kind) from an arbitrary filename. No other package constructs artifact
// paths by hand.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Kind enumerates the closed set of artifact kinds (spec §3.3).
type Kind string

const (
	KindMetadata       Kind = "metadata"
	KindThumbnail      Kind = "thumbnail"
	KindPreview        Kind = "preview"
	KindPreviewInfo    Kind = "preview-info"
	KindSpritesSheet   Kind = "sprites-sheet"
	KindSpritesIndex   Kind = "sprites-index"
	KindPhash          Kind = "phash"
	KindScenes         Kind = "scenes"
	KindSceneThumbnail Kind = "scene-thumbnails"
	KindHeatmapJSON    Kind = "heatmap-json"
	KindHeatmapPNG     Kind = "heatmap-png"
	KindWaveform       Kind = "waveform"
	KindMotion         Kind = "motion"
	KindSubtitles      Kind = "subtitles"
	KindFaces          Kind = "faces"
)

// suffix associates a kind with its canonical filename suffix, longest
// first so reverse parsing tries the most specific match first.
type suffixEntry struct {
	kind   Kind
	suffix string
}

// suffixes is ordered longest-suffix-first; see newSuffixes().
var suffixes = newSuffixes()

func newSuffixes() []suffixEntry {
	s := []suffixEntry{
		{KindPreviewInfo, ".preview.json"},
		{KindPreview, ".preview.webm"},
		{KindPreview, ".preview.mp4"},
		{KindSpritesSheet, ".sprites.jpg"},
		{KindSpritesIndex, ".sprites.json"},
		{KindPhash, ".phash.json"},
		{KindScenes, ".scenes.json"},
		{KindHeatmapJSON, ".heatmaps.json"},
		{KindHeatmapPNG, ".heatmaps.png"},
		{KindWaveform, ".waveform.png"},
		{KindMotion, ".motion.json"},
		{KindSubtitles, ".subtitles.srt"},
		{KindFaces, ".faces.json"},
		{KindMetadata, ".metadata.json"},
		{KindThumbnail, ".thumbnail.jpg"},
	}
	sort.SliceStable(s, func(i, j int) bool {
		return len(s[i].suffix) > len(s[j].suffix)
	})
	return s
}

// DefaultMediaExts is the default recognized video extension set (spec §3.1).
var DefaultMediaExts = []string{"mp4", "mkv", "mov", "m4v", "webm", "avi"}

// Layout resolves artifact paths relative to a library root and a
// configured media extension set.
type Layout struct {
	Root      string
	MediaExts map[string]struct{}
}

// New constructs a Layout over root with the given (lower-cased, dot-less)
// extension list. If exts is empty, DefaultMediaExts is used.
func New(root string, exts []string) *Layout {
	if len(exts) == 0 {
		exts = DefaultMediaExts
	}
	m := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		m[strings.ToLower(strings.TrimPrefix(e, "."))] = struct{}{}
	}
	return &Layout{Root: root, MediaExts: m}
}

// Stem returns a video's basename without extension.
func Stem(videoPath string) string {
	base := filepath.Base(videoPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ArtifactDir returns <root>/.artifacts/scenes/<stem>/ for the given video,
// creating it on demand.
func (l *Layout) ArtifactDir(videoPath string) (string, error) {
	dir := filepath.Join(l.Root, ".artifacts", "scenes", Stem(videoPath))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// ArtifactPath returns the canonical path for a (video, kind) pair.
// Callers needing per-scene thumbnails use SceneThumbnailPath instead,
// since that kind is parameterized by scene index.
func (l *Layout) ArtifactPath(videoPath string, kind Kind) (string, error) {
	dir, err := l.ArtifactDir(videoPath)
	if err != nil {
		return "", err
	}
	stem := Stem(videoPath)
	suffix, ok := suffixFor(kind)
	if !ok {
		return "", errUnknownKind(kind)
	}
	return filepath.Join(dir, stem+suffix), nil
}

// SceneThumbnailPath returns <stem>.scenes/<stem>.scene_NNN.jpg under the
// artifact directory (spec §3.3's scene-thumbnails row).
func (l *Layout) SceneThumbnailPath(videoPath string, sceneIndex int) (string, error) {
	dir, err := l.ArtifactDir(videoPath)
	if err != nil {
		return "", err
	}
	stem := Stem(videoPath)
	sub := filepath.Join(dir, stem+".scenes")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(sub, stemSceneName(stem, sceneIndex)), nil
}

func stemSceneName(stem string, idx int) string {
	return fmt.Sprintf("%s.scene_%03d.jpg", stem, idx)
}

func suffixFor(kind Kind) (string, bool) {
	for _, e := range suffixes {
		if e.kind == kind {
			return e.suffix, true
		}
	}
	return "", false
}

// LegacySubtitlePath returns the historical next-to-source subtitle path
// (<stem>.subtitles.srt alongside the video) that the lookup layer still
// accepts as a fallback per spec §3.2.
func LegacySubtitlePath(videoPath string) string {
	dir := filepath.Dir(videoPath)
	return filepath.Join(dir, Stem(videoPath)+".subtitles.srt")
}

// ParseResult is the outcome of reverse-parsing a filename into its
// artifact stem and kind.
type ParseResult struct {
	Stem string
	Kind Kind
}

// ParseArtifactName tries each known suffix, longest first, against name
// and reports the stem and kind on a match. This is the sole authority for
// whether a file is an artifact (spec §4.1's classify-any-file rule).
func ParseArtifactName(name string) (ParseResult, bool) {
	for _, e := range suffixes {
		if strings.HasSuffix(name, e.suffix) {
			stem := strings.TrimSuffix(name, e.suffix)
			stem = normalizeStem(stem)
			return ParseResult{Stem: stem, Kind: e.kind}, true
		}
	}
	return ParseResult{}, false
}

// normalizeStem strips an accidental trailing media extension from a stem,
// e.g. "foo.mp4" -> "foo" (spec §4.1's legacy-name normalization rule).
func normalizeStem(stem string) string {
	ext := filepath.Ext(stem)
	if ext == "" {
		return stem
	}
	lower := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, known := range DefaultMediaExts {
		if lower == known {
			return strings.TrimSuffix(stem, ext)
		}
	}
	return stem
}

// IsOriginalMedia reports whether path under l.Root is a regular, eligible
// source video: its extension is recognized, none of its path components
// under root begin with "." or end with ".previews", and its filename does
// not itself end with a known artifact suffix (spec §3.1, §4.1).
func (l *Layout) IsOriginalMedia(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	base := filepath.Base(path)
	if strings.HasPrefix(base, "._") {
		return false
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(base), "."))
	if _, ok := l.MediaExts[ext]; !ok {
		return false
	}
	if _, isArtifact := ParseArtifactName(base); isArtifact {
		return false
	}
	rel, err := filepath.Rel(l.Root, path)
	if err != nil {
		return false
	}
	parts := strings.Split(filepath.Dir(rel), string(filepath.Separator))
	for _, p := range parts {
		if p == "." || p == "" {
			continue
		}
		if strings.HasPrefix(p, ".") || strings.HasSuffix(p, ".previews") {
			return false
		}
	}
	return true
}

// ListVideos resolves a job's requested path into concrete video target
// paths (spec §4.7's target resolution, when params.targets is absent):
// a single file is returned as-is if eligible; a directory is walked
// (recursively if recursive is set, else only its direct entries),
// yielding every eligible original-media file under it in sorted order.
func (l *Layout) ListVideos(path string, recursive bool) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if l.IsOriginalMedia(path) {
			return []string{path}, nil
		}
		return nil, nil
	}

	var out []string
	if recursive {
		err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if p != path && (strings.HasPrefix(d.Name(), ".") || strings.HasSuffix(d.Name(), ".previews")) {
					return filepath.SkipDir
				}
				return nil
			}
			if l.IsOriginalMedia(p) {
				out = append(out, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			full := filepath.Join(path, e.Name())
			if l.IsOriginalMedia(full) {
				out = append(out, full)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

type unknownKindError struct{ kind Kind }

func (e unknownKindError) Error() string { return "layout: unknown artifact kind " + string(e.kind) }

func errUnknownKind(kind Kind) error { return unknownKindError{kind: kind} }
