package generators

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/scenesengine/artifactd/internal/jobs"
	"github.com/scenesengine/artifactd/internal/layout"
	"github.com/scenesengine/artifactd/internal/procrunner"
)

// minimalJPEGBase64 is a hard-coded 1x1 white JPEG, the fallback written
// when the ffmpeg encode fails or leaves no usable output (spec §4.4.2:
// "never a 0-byte file"); there is no separate gray-placeholder encode.
const minimalJPEGBase64 = "/9j/4AAQSkZJRgABAQEAYABgAAD/2wBDAAMCAgICAgMCAgIDAwMDBAYEBAQEBAgGBgUGCQgKCgkICQkKDA8MCgsOCwkJDRENDg8QEBEQCgwSExIQEw8QEBD/2wBDAQMDAwQDBAgEBAgQCwkLEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBD/wAARCAABAAEDASIAAhEBAxEB/8QAFQABAQAAAAAAAAAAAAAAAAAAAAj/xAAUEAEAAAAAAAAAAAAAAAAAAAAA/8QAFQEBAQAAAAAAAAAAAAAAAAAAAAX/xAAUEQEAAAAAAAAAAAAAAAAAAAAA/9oADAMBAAIRAxEAPwCdABmX/9k="

func minimalJPEG() []byte {
	b, _ := base64.StdEncoding.DecodeString(minimalJPEGBase64)
	return b
}

// isThumbnailStub reports whether path holds the 1x1 last-resort
// placeholder rather than a real encoded frame (spec §3.3 kind-specific
// non-stub check).
func isThumbnailStub(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return true
	}
	return bytes.Equal(data, minimalJPEG())
}

// parseTimeSpec resolves a thumbnail time specification against a known
// duration (spec §4.4.2): "start", "middle", "N%", or a bare float
// number of seconds.
func parseTimeSpec(spec string, duration float64) float64 {
	switch strings.ToLower(strings.TrimSpace(spec)) {
	case "", "start":
		return 0
	case "middle":
		return duration / 2
	}
	if strings.HasSuffix(spec, "%") {
		pctStr := strings.TrimSuffix(spec, "%")
		pct, err := strconv.ParseFloat(pctStr, 64)
		if err != nil {
			return 0
		}
		return duration * pct / 100
	}
	if f, err := strconv.ParseFloat(spec, 64); err == nil {
		return f
	}
	return 0
}

func clampQuality(q int) int {
	if q < 2 {
		return 2
	}
	if q > 31 {
		return 31
	}
	return q
}

func evenWidth(w int) int {
	if w%2 != 0 {
		w++
	}
	return w
}

// Thumbnail implements C4.4.2.
func (g *Generators) Thumbnail(ctx context.Context, job *jobs.Job, target string, cancel jobs.CancelSignal, progress jobs.ProgressFunc) (any, error) {
	return g.withLock(target, "thumbnail", func() (any, error) {
		path, err := g.Layout.ArtifactPath(target, layout.KindThumbnail)
		if err != nil {
			return nil, err
		}
		if !job.Request.Force && fileNonEmpty(path) && !isThumbnailStub(path) {
			return path, nil
		}

		timeSpec, _ := job.Request.Params["time_spec"].(string)
		width := g.Cfg.ThumbnailWidth
		if w, ok := job.Request.Params["width"].(float64); ok && w > 0 {
			width = int(w)
		}
		quality := clampQuality(g.Cfg.ThumbnailQuality)
		if q, ok := job.Request.Params["quality"].(float64); ok {
			quality = clampQuality(int(q))
		}

		duration := g.durationSeconds(ctx, job.ID, target)
		seekSec := parseTimeSpec(timeSpec, duration)

		ffmpeg := "ffmpeg"
		if g.Cfg.FFmpeg != "" {
			ffmpeg = g.Cfg.FFmpeg
		}
		cmd := []string{ffmpeg}
		cmd = append(cmd, procrunner.HWAccelArgs(g.Cfg.FFmpegHWAccel)...)
		cmd = append(cmd, "-y", "-ss", fmt.Sprintf("%.3f", seekSec), "-i", target,
			"-vframes", "1",
			"-vf", fmt.Sprintf("scale=%d:-2", evenWidth(width)),
			"-q:v", strconv.Itoa(quality),
			path)

		if _, err := g.Runner.Run(ctx, job.ID, cancel, cmd); err != nil || !fileNonEmpty(path) {
			if werr := writeFileAtomic(path, minimalJPEG(), 0o644); werr != nil {
				return nil, werr
			}
		}
		return path, nil
	})
}
