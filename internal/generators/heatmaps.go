package generators

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/scenesengine/artifactd/internal/jobs"
	"github.com/scenesengine/artifactd/internal/layout"
)

// HeatmapDoc is <stem>.heatmaps.json (spec §4.4.7).
type HeatmapDoc struct {
	Strategy string    `json:"strategy"`
	Samples  int       `json:"samples"`
	Values   []float64 `json:"values"`
}

// Heatmaps implements C4.4.7's fast-path-then-fallback extraction: a
// single signalstats pass parsed from stderr, falling back to one
// ffmpeg invocation per sample point when the fast path yields nothing.
func (g *Generators) Heatmaps(ctx context.Context, job *jobs.Job, target string, cancel jobs.CancelSignal, progress jobs.ProgressFunc) (any, error) {
	return g.withLock(target, "heatmaps", func() (any, error) {
		jsonPath, err := g.Layout.ArtifactPath(target, layout.KindHeatmapJSON)
		if err != nil {
			return nil, err
		}
		if !job.Request.Force && fileNonEmpty(jsonPath) {
			return jsonPath, nil
		}

		samples := 100
		if s, ok := job.Request.Params["samples"].(float64); ok && s > 0 {
			samples = int(s)
		}

		values, strategy := g.heatmapFastPath(ctx, job, target, cancel)
		if len(values) == 0 {
			values = g.heatmapFallback(ctx, job, target, samples, cancel, progress)
			strategy = "fallback-per-sample"
		}
		if len(values) == 0 {
			values = make([]float64, samples)
			strategy = "empty"
		}

		doc := HeatmapDoc{Strategy: strategy, Samples: len(values), Values: values}
		if err := writeJSONAtomic(jsonPath, doc); err != nil {
			return nil, err
		}

		if render, _ := job.Request.Params["render_png"].(bool); render {
			pngPath, perr := g.Layout.ArtifactPath(target, layout.KindHeatmapPNG)
			if perr == nil {
				g.renderHeatmapPNG(values, pngPath)
			}
		}
		return jsonPath, nil
	})
}

// heatmapFastPath runs a single ffmpeg signalstats pass and parses the
// per-frame YAVG values from stderr (spec §4.4.7 fast path).
func (g *Generators) heatmapFastPath(ctx context.Context, job *jobs.Job, target string, cancel jobs.CancelSignal) ([]float64, string) {
	ffmpeg := "ffmpeg"
	if g.Cfg.FFmpeg != "" {
		ffmpeg = g.Cfg.FFmpeg
	}
	cmd := []string{ffmpeg, "-i", target, "-vf", "signalstats,metadata=print:key=lavfi.signalstats.YAVG",
		"-f", "null", "-"}
	res, err := g.Runner.Run(ctx, job.ID, cancel, cmd)
	if err != nil && len(res.Stderr) == 0 {
		return nil, ""
	}
	values := parseYAVGLines(string(res.Stderr))
	if len(values) == 0 {
		return nil, ""
	}
	return values, "fast-path-signalstats"
}

func parseYAVGLines(stderr string) []float64 {
	var out []float64
	const marker = "lavfi.signalstats.YAVG="
	for _, line := range strings.Split(stderr, "\n") {
		idx := strings.Index(line, marker)
		if idx < 0 {
			continue
		}
		v := strings.TrimSpace(line[idx+len(marker):])
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			out = append(out, f/255.0)
		}
	}
	return out
}

// heatmapFallback extracts one frame per sample point and averages its
// luminance directly (spec §4.4.7 fallback).
func (g *Generators) heatmapFallback(ctx context.Context, job *jobs.Job, target string, samples int, cancel jobs.CancelSignal, progress jobs.ProgressFunc) []float64 {
	duration := g.durationSeconds(ctx, job.ID, target)
	if duration <= 0 {
		return nil
	}
	tmpDir, err := os.MkdirTemp("", "heatmap-*")
	if err != nil {
		return nil
	}
	defer os.RemoveAll(tmpDir)

	ffmpeg := "ffmpeg"
	if g.Cfg.FFmpeg != "" {
		ffmpeg = g.Cfg.FFmpeg
	}
	values := make([]float64, 0, samples)
	step := duration / float64(samples)
	for i := 0; i < samples; i++ {
		if cancel != nil && cancel.Canceled() {
			break
		}
		framePath := filepath.Join(tmpDir, fmt.Sprintf("frame_%d.jpg", i))
		cmd := []string{ffmpeg, "-y", "-ss", fmt.Sprintf("%.3f", step*float64(i)), "-i", target,
			"-vframes", "1", "-vf", "scale=16:16", framePath}
		if _, err := g.Runner.Run(ctx, job.ID, nil, cmd); err != nil {
			values = append(values, 0)
			continue
		}
		lum, err := averageLuminance(framePath)
		if err != nil {
			values = append(values, 0)
		} else {
			values = append(values, lum)
		}
		if progress != nil {
			progress(float64(i+1) / float64(samples))
		}
	}
	return values
}

func (g *Generators) renderHeatmapPNG(values []float64, path string) {
	if len(values) == 0 {
		return
	}
	img := renderBarChartPNG(values)
	_ = writePNGAtomic(path, img)
}
