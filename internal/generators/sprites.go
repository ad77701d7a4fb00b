package generators

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/scenesengine/artifactd/internal/core"
	"github.com/scenesengine/artifactd/internal/jobs"
	"github.com/scenesengine/artifactd/internal/layout"
)

// SpriteIndex is <stem>.sprites.json (spec §4.4.4): tile geometry plus
// the timestamp each tile was sampled from.
type SpriteIndex struct {
	Strategy   string    `json:"strategy"`
	TileWidth  int       `json:"tile_width"`
	TileHeight int       `json:"tile_height"`
	Columns    int       `json:"columns"`
	Rows       int       `json:"rows"`
	Interval   float64   `json:"interval"`
	Timestamps []float64 `json:"timestamps"`
}

// Sprites implements C4.4.4's three-strategy sampling chain, grounded
// on CineVault's preview.GenerateSprite (fps-sampled tile filter),
// generalized with the spec's keyframe-sampling-first precedence and
// uniqueness validation.
func (g *Generators) Sprites(ctx context.Context, job *jobs.Job, target string, cancel jobs.CancelSignal, progress jobs.ProgressFunc) (any, error) {
	return g.withLock(target, "sprites", func() (any, error) {
		sheetPath, err := g.Layout.ArtifactPath(target, layout.KindSpritesSheet)
		if err != nil {
			return nil, err
		}
		indexPath, err := g.Layout.ArtifactPath(target, layout.KindSpritesIndex)
		if err != nil {
			return nil, err
		}
		if !job.Request.Force && fileNonEmpty(sheetPath) && fileNonEmpty(indexPath) {
			return sheetPath, nil
		}

		cols := 10
		if c, ok := job.Request.Params["columns"].(float64); ok && c > 0 {
			cols = int(c)
		}
		rows := 10
		if r, ok := job.Request.Params["rows"].(float64); ok && r > 0 {
			rows = int(r)
		}
		tileWidth := 160
		if w, ok := job.Request.Params["tile_width"].(float64); ok && w > 0 {
			tileWidth = int(w)
		}
		count := cols * rows

		duration := g.durationSeconds(ctx, job.ID, target)

		strategies := []struct {
			name string
			fn   func(context.Context, *jobs.Job, string, string, int, int, int, float64, jobs.CancelSignal, jobs.ProgressFunc) ([]float64, error)
		}{
			{"keyframe", g.spritesKeyframeSampling},
			{"even", g.spritesEvenSampling},
			{"legacy-fps", g.spritesLegacyFPS},
		}

		var lastErr error
		for _, strat := range strategies {
			timestamps, err := strat.fn(ctx, job, target, sheetPath, count, cols, tileWidth, duration, cancel, progress)
			if err == nil && fileNonEmpty(sheetPath) && len(timestamps) > 0 {
				idx := SpriteIndex{
					Strategy:   strat.name,
					TileWidth:  evenWidth(tileWidth),
					TileHeight: evenWidth(tileWidth * 9 / 16),
					Columns:    cols,
					Rows:       (len(timestamps) + cols - 1) / cols,
					Timestamps: timestamps,
				}
				if len(timestamps) > 1 {
					idx.Interval = timestamps[1] - timestamps[0]
				}
				if werr := writeJSONAtomic(indexPath, idx); werr != nil {
					return nil, werr
				}
				return sheetPath, nil
			}
			lastErr = err
		}

		if lastErr == nil {
			lastErr = fmt.Errorf("no sprite strategy produced output")
		}
		return nil, core.NonzeroExit("sprites", lastErr.Error())
	})
}

// spritesKeyframeSampling samples at keyframe boundaries reported by
// ffprobe, accepting them only if framesAreUnique finds enough frames
// whose file size differs from the previous frame's (spec §4.4.4
// strategy 1's uniqueness check).
func (g *Generators) spritesKeyframeSampling(ctx context.Context, job *jobs.Job, target, sheetPath string, count, cols, tileWidth int, duration float64, cancel jobs.CancelSignal, progress jobs.ProgressFunc) ([]float64, error) {
	ffprobe := "ffprobe"
	if g.Cfg.FFprobe != "" {
		ffprobe = g.Cfg.FFprobe
	}
	cmd := []string{ffprobe, "-v", "quiet", "-select_streams", "v", "-show_entries", "frame=pkt_pts_time,pict_type",
		"-of", "csv=p=0", target}
	res, err := g.Runner.Run(ctx, job.ID, nil, cmd)
	if err != nil {
		return nil, err
	}

	keyframes := parseKeyframeTimes(string(res.Stdout))
	if len(keyframes) < 2 {
		return nil, fmt.Errorf("too few keyframes for sampling")
	}

	timestamps := pickEvenly(keyframes, count)
	frames, err := g.extractFrames(ctx, job.ID, target, timestamps, tileWidth, cancel, progress)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(filepath.Dir(frames[0]))
	if !framesAreUnique(frames) {
		return nil, fmt.Errorf("keyframe samples were not visually distinct")
	}
	if err := g.montageFrames(ctx, job.ID, frames, sheetPath, cols, tileWidth, cancel); err != nil {
		return nil, err
	}
	return timestamps, nil
}

// spritesEvenSampling picks count timestamps evenly spaced across the
// whole duration without requiring keyframe metadata (strategy 2).
func (g *Generators) spritesEvenSampling(ctx context.Context, job *jobs.Job, target, sheetPath string, count, cols, tileWidth int, duration float64, cancel jobs.CancelSignal, progress jobs.ProgressFunc) ([]float64, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("unknown duration")
	}
	timestamps := make([]float64, 0, count)
	step := duration / float64(count+1)
	for i := 1; i <= count; i++ {
		timestamps = append(timestamps, step*float64(i))
	}
	frames, err := g.extractFrames(ctx, job.ID, target, timestamps, tileWidth, cancel, progress)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(filepath.Dir(frames[0]))
	if err := g.montageFrames(ctx, job.ID, frames, sheetPath, cols, tileWidth, cancel); err != nil {
		return nil, err
	}
	return timestamps, nil
}

// spritesLegacyFPS falls back to a single ffmpeg fps-sampling pass that
// first drops near-duplicate frames with mpdecimate, retrying with the
// plain fps+tile filter on failure (strategy 3, last resort). No
// scene-select or timestamp jitter is applied.
func (g *Generators) spritesLegacyFPS(ctx context.Context, job *jobs.Job, target, sheetPath string, count, cols, tileWidth int, duration float64, cancel jobs.CancelSignal, progress jobs.ProgressFunc) ([]float64, error) {
	if duration <= 0 {
		duration = float64(count)
	}
	ffmpeg := "ffmpeg"
	if g.Cfg.FFmpeg != "" {
		ffmpeg = g.Cfg.FFmpeg
	}
	fps := float64(count) / duration

	filters := []string{
		fmt.Sprintf("mpdecimate,fps=%.6f,scale=%d:-1,tile=%dx%d", fps, evenWidth(tileWidth), cols, (count+cols-1)/cols),
		fmt.Sprintf("fps=%.6f,scale=%d:-1,tile=%dx%d", fps, evenWidth(tileWidth), cols, (count+cols-1)/cols),
	}

	var lastErr error
	for _, vf := range filters {
		cmd := []string{ffmpeg, "-y", "-i", target, "-vf", vf, "-frames:v", "1", sheetPath}
		if _, err := g.Runner.Run(ctx, job.ID, cancel, cmd); err != nil {
			lastErr = err
			continue
		}
		if fileNonEmpty(sheetPath) {
			timestamps := make([]float64, count)
			step := duration / float64(count)
			for i := range timestamps {
				timestamps[i] = step * float64(i)
			}
			return timestamps, nil
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("legacy fps sampling produced no output")
	}
	return nil, lastErr
}

func (g *Generators) extractFrames(ctx context.Context, jobID, target string, timestamps []float64, tileWidth int, cancel jobs.CancelSignal, progress jobs.ProgressFunc) ([]string, error) {
	tmpDir, err := os.MkdirTemp("", "sprites-*")
	if err != nil {
		return nil, err
	}
	ffmpeg := "ffmpeg"
	if g.Cfg.FFmpeg != "" {
		ffmpeg = g.Cfg.FFmpeg
	}
	var frames []string
	for i, t := range timestamps {
		if cancel != nil && cancel.Canceled() {
			os.RemoveAll(tmpDir)
			return nil, core.ErrCanceled
		}
		framePath := filepath.Join(tmpDir, fmt.Sprintf("tile_%04d.jpg", i))
		cmd := []string{ffmpeg, "-y", "-ss", fmt.Sprintf("%.3f", t), "-i", target,
			"-vframes", "1", "-vf", fmt.Sprintf("scale=%d:-1", evenWidth(tileWidth)), framePath}
		if _, err := g.Runner.Run(ctx, jobID, nil, cmd); err != nil {
			continue
		}
		if fileNonEmpty(framePath) {
			frames = append(frames, framePath)
		}
		if progress != nil {
			progress(float64(i+1) / float64(len(timestamps)))
		}
	}
	if len(frames) == 0 {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("no frames extracted")
	}
	return frames, nil
}

// montageFrames arranges already-extracted, sequentially-named frame
// files into a single contact sheet via ffmpeg's image2-sequence input
// and tile filter, grounded on CineVault's preview.GenerateSprite tile
// filter graph.
func (g *Generators) montageFrames(ctx context.Context, jobID string, frames []string, sheetPath string, cols, tileWidth int, cancel jobs.CancelSignal) error {
	if len(frames) == 0 {
		return fmt.Errorf("no frames to tile")
	}
	rows := (len(frames) + cols - 1) / cols
	pattern := filepath.Join(filepath.Dir(frames[0]), "tile_%04d.jpg")

	ffmpeg := "ffmpeg"
	if g.Cfg.FFmpeg != "" {
		ffmpeg = g.Cfg.FFmpeg
	}
	vf := fmt.Sprintf("scale=%d:-1,tile=%dx%d", evenWidth(tileWidth), cols, rows)
	cmd := []string{ffmpeg, "-y", "-start_number", "0", "-i", pattern, "-frames:v", "1", "-vf", vf, sheetPath}
	if _, err := g.Runner.Run(ctx, jobID, cancel, cmd); err != nil {
		return err
	}
	if !fileNonEmpty(sheetPath) {
		return fmt.Errorf("tile montage produced empty output")
	}
	return nil
}

func parseKeyframeTimes(csv string) []float64 {
	var out []float64
	for _, line := range splitLines(csv) {
		parts := splitComma(line)
		if len(parts) != 2 {
			continue
		}
		if parts[1] != "I" {
			continue
		}
		var t float64
		if _, err := fmt.Sscanf(parts[0], "%f", &t); err == nil {
			out = append(out, t)
		}
	}
	return out
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func pickEvenly(values []float64, count int) []float64 {
	if len(values) <= count {
		return values
	}
	out := make([]float64, 0, count)
	step := float64(len(values)) / float64(count)
	for i := 0; i < count; i++ {
		idx := int(float64(i) * step)
		if idx >= len(values) {
			idx = len(values) - 1
		}
		out = append(out, values[idx])
	}
	return out
}

// framesAreUnique reports whether the extracted frame files differ in
// size from their predecessor by more than a trivial margin, a cheap
// proxy for the spec's tile-uniqueness validation without a full
// perceptual comparison.
func framesAreUnique(frames []string) bool {
	var prevSize int64 = -1
	distinct := 0
	for _, f := range frames {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		if prevSize < 0 || abs64(info.Size()-prevSize) > 32 {
			distinct++
		}
		prevSize = info.Size()
	}
	return distinct >= len(frames)/2
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
