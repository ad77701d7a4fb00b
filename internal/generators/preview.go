package generators

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/scenesengine/artifactd/internal/core"
	"github.com/scenesengine/artifactd/internal/jobs"
	"github.com/scenesengine/artifactd/internal/layout"
	"github.com/scenesengine/artifactd/internal/procrunner"
)

// minPreviewBytes is the kind-specific non-stub floor for preview clips
// (spec §3.3): well above the generic minArtifactBytes, since a webm/mp4
// container header alone can clear 64 bytes without holding real frames.
const minPreviewBytes = 2048

// isPreviewStub reports whether path is too small to plausibly hold a
// real multi-segment or direct preview encode.
func isPreviewStub(path string) bool {
	info, err := os.Stat(path)
	return err != nil || info.Size() < minPreviewBytes
}

// PreviewInfo is the companion <stem>.preview.json (spec §4.4.3).
type PreviewInfo struct {
	Status         string    `json:"status"`
	Strategy       string    `json:"strategy"`
	SegmentsPlanned int      `json:"segments_planned"`
	SegmentsUsed    int      `json:"segments_used"`
	Points          []float64 `json:"points"`
}

// previewPoints computes N evenly spaced sample timestamps across
// duration, respecting a minimum inter-segment gap (spec §4.4.3).
func previewPoints(duration float64, segments int, segDur, minGapFrac float64) []float64 {
	if segments <= 0 {
		return nil
	}
	minGap := segDur * minGapFrac
	usable := duration - segDur
	if usable <= 0 {
		return []float64{0}
	}
	step := usable / float64(segments)
	if step < segDur+minGap {
		step = segDur + minGap
	}
	points := make([]float64, 0, segments)
	for i := 0; i < segments; i++ {
		t := float64(i) * step
		if t+segDur > duration {
			break
		}
		points = append(points, t)
	}
	if len(points) == 0 {
		points = []float64{0}
	}
	return points
}

// Preview implements C4.4.3's three-tier strategy. Grounded on
// CineVault's preview.GenerateAnimatedPreview (multi-input -ss/-t cuts
// joined by a scale+concat filter graph, hwaccel-aware encoder args), generalized to the spec's
// single-pass/multi-segment/direct fallback chain and progress-mapping
// unification (§9 open question: segment-completion semantics for both
// the single-pass and multi-segment strategies).
func (g *Generators) Preview(ctx context.Context, job *jobs.Job, target string, cancel jobs.CancelSignal, progress jobs.ProgressFunc) (any, error) {
	return g.withLock(target, "preview", func() (any, error) {
		format, _ := job.Request.Params["fmt"].(string)
		if format == "" {
			format = "webm"
		}
		kind := layout.KindPreview
		path, err := g.previewPath(target, format)
		if err != nil {
			return nil, err
		}
		infoPath, err := g.Layout.ArtifactPath(target, layout.KindPreviewInfo)
		if err != nil {
			return nil, err
		}
		_ = kind
		if !job.Request.Force && fileNonEmpty(path) && !isPreviewStub(path) {
			return path, nil
		}

		segments := 9
		if s, ok := job.Request.Params["segments"].(float64); ok && s > 0 {
			segments = int(s)
		}
		segDur := 0.8
		if d, ok := job.Request.Params["seg_dur"].(float64); ok && d > 0 {
			segDur = d
		}
		width := 240
		if w, ok := job.Request.Params["width"].(float64); ok && w > 0 {
			width = int(w)
		}

		duration := g.durationSeconds(ctx, job.ID, target)
		points := previewPoints(duration, segments, segDur, g.Cfg.PreviewMinGapFrac)

		info := PreviewInfo{SegmentsPlanned: segments, Points: points}

		if g.Cfg.PreviewSinglePass {
			if err := g.previewSinglePass(ctx, job, target, path, points, segDur, width, format, cancel, progress); err == nil && fileNonEmpty(path) {
				info.Status = "ok"
				info.Strategy = "single-pass-" + format
				info.SegmentsUsed = len(points)
				_ = writeJSONAtomic(infoPath, info)
				return path, nil
			}
		}

		used, err := g.previewMultiSegment(ctx, job, target, path, points, segDur, width, format, cancel, progress)
		if err == nil && used > 0 && fileNonEmpty(path) {
			info.Status = "ok"
			info.Strategy = "multi-segment-" + format
			info.SegmentsUsed = used
			_ = writeJSONAtomic(infoPath, info)
			return path, nil
		}

		if err := g.previewDirect(ctx, job, target, path, duration, segDur, width, format, cancel); err == nil && fileNonEmpty(path) {
			info.Status = "ok"
			info.Strategy = "direct-" + format
			info.SegmentsUsed = 1
			_ = writeJSONAtomic(infoPath, info)
			return path, nil
		}

		return nil, core.NonzeroExit("preview", "exhausted single-pass, multi-segment and direct fallbacks")
	})
}

func (g *Generators) previewPath(target, format string) (string, error) {
	dir, err := g.Layout.ArtifactDir(target)
	if err != nil {
		return "", err
	}
	ext := ".webm"
	if format == "mp4" {
		ext = ".mp4"
	}
	return filepath.Join(dir, layout.Stem(target)+".preview"+ext), nil
}

func previewCodecArgs(cfg previewCfg, format string) []string {
	if format == "mp4" {
		return []string{"-c:v", "libx264", "-crf", strconv.Itoa(cfg.crfH264), "-preset", "veryfast", "-pix_fmt", "yuv420p"}
	}
	return []string{"-c:v", "libvpx-vp9", "-crf", strconv.Itoa(cfg.crfVP9), "-b:v", "0"}
}

type previewCfg struct {
	crfVP9  int
	crfH264 int
}

func (g *Generators) cfg() previewCfg {
	return previewCfg{crfVP9: g.Cfg.PreviewCRFVP9, crfH264: g.Cfg.PreviewCRFH264}
}

// previewSinglePass builds one ffmpeg invocation that opens one -ss/-t
// cut of the source per sample point and joins them with a
// scale/setpts/concat filter graph (spec §4.4.3 strategy 1), using
// -progress pipe:1 and a stall watchdog.
func (g *Generators) previewSinglePass(ctx context.Context, job *jobs.Job, target, outPath string, points []float64, segDur float64, width int, format string, cancel jobs.CancelSignal, progress jobs.ProgressFunc) error {
	if len(points) == 0 {
		return fmt.Errorf("no sample points")
	}
	ffmpeg := "ffmpeg"
	if g.Cfg.FFmpeg != "" {
		ffmpeg = g.Cfg.FFmpeg
	}

	args := []string{ffmpeg}
	args = append(args, procrunner.HWAccelArgs(g.Cfg.FFmpegHWAccel)...)
	for _, p := range points {
		args = append(args, "-ss", fmt.Sprintf("%.3f", p), "-t", fmt.Sprintf("%.3f", segDur), "-i", target)
	}

	filter := ""
	concatIn := ""
	for i := range points {
		filter += fmt.Sprintf("[%d:v]scale=%d:-2,setpts=PTS-STARTPTS[v%d];", i, evenWidth(width), i)
		concatIn += fmt.Sprintf("[v%d]", i)
	}
	filter += fmt.Sprintf("%sconcat=n=%d:v=1:a=0[outv]", concatIn, len(points))

	args = append(args, "-filter_complex", filter, "-map", "[outv]")
	args = append(args, previewCodecArgs(g.cfg(), format)...)
	args = append(args, "-an", "-y", "-progress", "pipe:1", outPath)

	totalPlanned := float64(len(points)) * segDur
	idle := time.Duration(g.Cfg.PreviewProgressKillSecs) * time.Second
	if idle <= 0 {
		idle = 60 * time.Second
	}

	onProgress := func(ev procrunner.ProgressEvent) {
		if progress == nil || totalPlanned <= 0 {
			return
		}
		elapsedSec := float64(ev.OutTimeMS) / 1_000_000
		segmentsCompleted := math.Floor(elapsedSec / segDur)
		if segmentsCompleted > float64(len(points)) {
			segmentsCompleted = float64(len(points))
		}
		progress(segmentsCompleted / float64(len(points)))
	}

	return g.Runner.RunWithProgress(ctx, job.ID, cancel, args, idle, onProgress)
}

// previewMultiSegment extracts each segment to its own temp file and
// concatenates the survivors (spec §4.4.3 strategy 2): individual
// segment failures are tolerated if at least one segment succeeds.
// Progress is reported per completed segment to stay numerically
// comparable with the single-pass strategy's segment-completion
// mapping (§9 open question, resolved).
func (g *Generators) previewMultiSegment(ctx context.Context, job *jobs.Job, target, outPath string, points []float64, segDur float64, width int, format string, cancel jobs.CancelSignal, progress jobs.ProgressFunc) (int, error) {
	ffmpeg := "ffmpeg"
	if g.Cfg.FFmpeg != "" {
		ffmpeg = g.Cfg.FFmpeg
	}

	tmpDir, err := os.MkdirTemp("", "preview-seg-*")
	if err != nil {
		return 0, err
	}
	defer os.RemoveAll(tmpDir)

	var segFiles []string
	for i, p := range points {
		if cancel != nil && cancel.Canceled() {
			return 0, core.ErrCanceled
		}
		segPath := filepath.Join(tmpDir, fmt.Sprintf("seg_%d.mp4", i))
		args := []string{ffmpeg, "-y", "-ss", fmt.Sprintf("%.3f", p), "-t", fmt.Sprintf("%.3f", segDur),
			"-i", target, "-vf", fmt.Sprintf("scale=%d:-2", evenWidth(width)),
			"-c:v", "libx264", "-preset", "veryfast", "-an", segPath}
		if _, err := g.Runner.Run(ctx, job.ID, cancel, args); err == nil && fileNonEmpty(segPath) {
			segFiles = append(segFiles, segPath)
		}
		if progress != nil {
			progress(float64(i+1) / float64(len(points)))
		}
	}

	if len(segFiles) == 0 {
		return 0, fmt.Errorf("no segments survived extraction")
	}

	args := []string{ffmpeg}
	for _, s := range segFiles {
		args = append(args, "-i", s)
	}
	filter := ""
	concatIn := ""
	for i := range segFiles {
		filter += fmt.Sprintf("[%d:v]setpts=PTS-STARTPTS[v%d];", i, i)
		concatIn += fmt.Sprintf("[v%d]", i)
	}
	filter += fmt.Sprintf("%sconcat=n=%d:v=1:a=0[outv]", concatIn, len(segFiles))
	args = append(args, "-filter_complex", filter, "-map", "[outv]")
	args = append(args, previewCodecArgs(g.cfg(), format)...)
	args = append(args, "-an", "-y", outPath)

	if _, err := g.Runner.Run(ctx, job.ID, cancel, args); err != nil {
		return 0, err
	}
	return len(segFiles), nil
}

// previewDirect encodes a single clip from the source when no segments
// are producible (spec §4.4.3 strategy 3).
func (g *Generators) previewDirect(ctx context.Context, job *jobs.Job, target, outPath string, duration, segDur float64, width int, format string, cancel jobs.CancelSignal) error {
	ffmpeg := "ffmpeg"
	if g.Cfg.FFmpeg != "" {
		ffmpeg = g.Cfg.FFmpeg
	}
	seek := 0.0
	if duration > 0 {
		seek = duration * 0.10
	}
	args := []string{ffmpeg, "-y", "-ss", fmt.Sprintf("%.3f", seek), "-t", fmt.Sprintf("%.3f", segDur),
		"-i", target, "-vf", fmt.Sprintf("scale=%d:-2", evenWidth(width))}
	args = append(args, previewCodecArgs(g.cfg(), format)...)
	args = append(args, "-an", outPath)
	_, err := g.Runner.Run(ctx, job.ID, cancel, args)
	return err
}
