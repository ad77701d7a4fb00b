package generators

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/scenesengine/artifactd/internal/core"
	"github.com/scenesengine/artifactd/internal/jobs"
	"github.com/scenesengine/artifactd/internal/layout"
)

// sceneDedupWindow is the minimum gap between two detected scene cuts;
// anything closer is folded into the earlier one (spec §4.4.6).
const sceneDedupWindow = 0.25

// preStartHeartbeatCap bounds the progress fraction reported before the
// detection pass has produced its first real cut (spec §4.4.6).
const preStartHeartbeatCap = 0.03

// Scene is one detected cut point (spec §4.4.6, §8 scenario 3): Scene
// is always true and Name is the scene's 1-based ordinal position as a
// string, distinguishing detected cuts from markers in the same document.
type Scene struct {
	Time      float64 `json:"time"`
	Scene     bool    `json:"scene"`
	Name      string  `json:"name"`
	Thumbnail string  `json:"thumbnail,omitempty"`
}

// Marker is a manually managed range (intro/outro/chapter), kept
// separate from detected scenes so re-running detection never clobbers
// user edits (spec §4.4.6).
type Marker struct {
	Type  string  `json:"type"`
	Start float64 `json:"start"`
	End   float64 `json:"end,omitempty"`
	Label string  `json:"label,omitempty"`
}

// ScenesDoc is <stem>.scenes.json. Intro and Outro mirror the start
// time of the current intro/outro marker, if any (spec §4.4.6), so
// consumers can read the boundary without scanning Markers.
type ScenesDoc struct {
	Scenes  []Scene  `json:"scenes"`
	Markers []Marker `json:"markers,omitempty"`
	Intro   *float64 `json:"intro,omitempty"`
	Outro   *float64 `json:"outro,omitempty"`
}

// mirrorIntroOutro recomputes doc.Intro/doc.Outro from doc.Markers,
// keeping the top-level fields in sync whenever markers are added or
// removed (spec §4.4.6).
func mirrorIntroOutro(doc *ScenesDoc) {
	doc.Intro = nil
	doc.Outro = nil
	for _, m := range doc.Markers {
		switch m.Type {
		case "intro":
			start := m.Start
			doc.Intro = &start
		case "outro":
			start := m.Start
			doc.Outro = &start
		}
	}
}

// Scenes implements C4.4.6: ffmpeg scene-cut detection via stderr
// parsing, deduplication, and manual marker management with
// intro/outro exclusivity, generalizing the stderr scraping idiom
// used for progress lines elsewhere in this package to
// scene-detection showinfo lines.
func (g *Generators) Scenes(ctx context.Context, job *jobs.Job, target string, cancel jobs.CancelSignal, progress jobs.ProgressFunc) (any, error) {
	return g.withLock(target, "scenes", func() (any, error) {
		path, err := g.Layout.ArtifactPath(target, layout.KindScenes)
		if err != nil {
			return nil, err
		}

		existing := readScenesDoc(path)

		action, _ := job.Request.Params["action"].(string)
		switch action {
		case "add_marker":
			m, merr := markerFromParams(job.Request.Params)
			if merr != nil {
				return nil, merr
			}
			existing.Markers = applyMarker(existing.Markers, m)
			mirrorIntroOutro(&existing)
			if err := writeJSONAtomic(path, existing); err != nil {
				return nil, err
			}
			return path, nil
		case "delete_marker":
			idx, _ := job.Request.Params["index"].(float64)
			existing.Markers = deleteMarker(existing.Markers, int(idx))
			mirrorIntroOutro(&existing)
			if err := writeJSONAtomic(path, existing); err != nil {
				return nil, err
			}
			return path, nil
		}

		if !job.Request.Force && len(existing.Scenes) > 0 {
			return path, nil
		}

		if progress != nil {
			progress(preStartHeartbeatCap)
		}

		scenes, err := g.detectScenes(ctx, job, target, cancel, progress)
		if err != nil {
			return nil, err
		}

		thumbsEnabled, _ := job.Request.Params["thumbnails"].(bool)
		if thumbsEnabled {
			for i := range scenes {
				if cancel != nil && cancel.Canceled() {
					return nil, core.ErrCanceled
				}
				thumbPath, terr := g.Layout.SceneThumbnailPath(target, i)
				if terr != nil {
					continue
				}
				if g.renderSceneThumbnail(ctx, job.ID, target, scenes[i].Time, thumbPath, cancel) {
					scenes[i].Thumbnail = thumbPath
				}
			}
		}

		doc := ScenesDoc{Scenes: scenes, Markers: existing.Markers}
		mirrorIntroOutro(&doc)
		if err := writeJSONAtomic(path, doc); err != nil {
			return nil, err
		}
		if progress != nil {
			progress(1)
		}
		return path, nil
	})
}

func (g *Generators) detectScenes(ctx context.Context, job *jobs.Job, target string, cancel jobs.CancelSignal, progress jobs.ProgressFunc) ([]Scene, error) {
	threshold := 0.3
	if t, ok := job.Request.Params["threshold"].(float64); ok && t > 0 {
		threshold = t
	}
	ffmpeg := "ffmpeg"
	if g.Cfg.FFmpeg != "" {
		ffmpeg = g.Cfg.FFmpeg
	}
	cmd := []string{ffmpeg, "-i", target, "-filter:v",
		fmt.Sprintf("select='gt(scene,%.3f)',showinfo", threshold), "-f", "null", "-"}

	res, err := g.Runner.Run(ctx, job.ID, cancel, cmd)
	if err != nil && len(res.Stderr) == 0 {
		return nil, err
	}

	raw := parseSceneTimes(string(res.Stderr))
	return dedupScenes(raw), nil
}

// parseSceneTimes scans ffmpeg's showinfo filter stderr for
// "pts_time:<seconds>" tokens.
func parseSceneTimes(stderr string) []float64 {
	var out []float64
	for _, line := range strings.Split(stderr, "\n") {
		idx := strings.Index(line, "pts_time:")
		if idx < 0 {
			continue
		}
		rest := line[idx+len("pts_time:"):]
		end := strings.IndexAny(rest, " \t\n")
		if end >= 0 {
			rest = rest[:end]
		}
		if t, err := strconv.ParseFloat(rest, 64); err == nil {
			out = append(out, t)
		}
	}
	return out
}

// dedupScenes folds cuts closer than sceneDedupWindow into the earlier
// one, keeping the list sorted and strictly increasing. Each surviving
// cut is numbered by its final 1-based position (spec §4.4.6, §8
// scenario 3).
func dedupScenes(times []float64) []Scene {
	sort.Float64s(times)
	var out []Scene
	for _, t := range times {
		if len(out) > 0 && t-out[len(out)-1].Time < sceneDedupWindow {
			continue
		}
		out = append(out, Scene{Time: t, Scene: true})
	}
	for i := range out {
		out[i].Name = strconv.Itoa(i + 1)
	}
	return out
}

func (g *Generators) renderSceneThumbnail(ctx context.Context, jobID, target string, at float64, outPath string, cancel jobs.CancelSignal) bool {
	ffmpeg := "ffmpeg"
	if g.Cfg.FFmpeg != "" {
		ffmpeg = g.Cfg.FFmpeg
	}
	cmd := []string{ffmpeg, "-y", "-ss", fmt.Sprintf("%.3f", at), "-i", target,
		"-vframes", "1", "-vf", "scale=160:-2", outPath}
	if _, err := g.Runner.Run(ctx, jobID, cancel, cmd); err != nil {
		return false
	}
	return fileNonEmpty(outPath)
}

func markerFromParams(params map[string]any) (Marker, error) {
	typ, _ := params["type"].(string)
	if typ == "" {
		return Marker{}, core.InvalidArgument("marker", "missing type")
	}
	start, _ := params["start"].(float64)
	end, _ := params["end"].(float64)
	label, _ := params["label"].(string)
	return Marker{Type: typ, Start: start, End: end, Label: label}, nil
}

// applyMarker enforces intro/outro exclusivity (spec §4.4.6): adding a
// new intro or outro replaces any existing one of that type; other
// marker types simply append.
func applyMarker(existing []Marker, m Marker) []Marker {
	if m.Type != "intro" && m.Type != "outro" {
		return append(existing, m)
	}
	out := make([]Marker, 0, len(existing)+1)
	for _, e := range existing {
		if e.Type == m.Type {
			continue
		}
		out = append(out, e)
	}
	out = append(out, m)
	return out
}

func deleteMarker(markers []Marker, idx int) []Marker {
	if idx < 0 || idx >= len(markers) {
		return markers
	}
	out := make([]Marker, 0, len(markers)-1)
	out = append(out, markers[:idx]...)
	out = append(out, markers[idx+1:]...)
	return out
}

func readScenesDoc(path string) ScenesDoc {
	m := readJSONMap(path)
	if len(m) == 0 {
		return ScenesDoc{}
	}
	var doc ScenesDoc
	reencodeInto(m, &doc)
	return doc
}
