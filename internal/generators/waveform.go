package generators

import (
	"context"
	"fmt"

	"github.com/scenesengine/artifactd/internal/jobs"
	"github.com/scenesengine/artifactd/internal/layout"
)

// Waveform implements C4.4.8's audio waveform: a single ffmpeg
// showwavespic pass to a PNG.
func (g *Generators) Waveform(ctx context.Context, job *jobs.Job, target string, cancel jobs.CancelSignal, progress jobs.ProgressFunc) (any, error) {
	return g.withLock(target, "waveform", func() (any, error) {
		path, err := g.Layout.ArtifactPath(target, layout.KindWaveform)
		if err != nil {
			return nil, err
		}
		if !job.Request.Force && fileNonEmpty(path) {
			return path, nil
		}

		width := 1200
		if w, ok := job.Request.Params["width"].(float64); ok && w > 0 {
			width = int(w)
		}
		height := 240
		if h, ok := job.Request.Params["height"].(float64); ok && h > 0 {
			height = int(h)
		}

		ffmpeg := "ffmpeg"
		if g.Cfg.FFmpeg != "" {
			ffmpeg = g.Cfg.FFmpeg
		}
		vf := fmt.Sprintf("showwavespic=s=%dx%d:colors=#6ea8fe", evenWidth(width), evenWidth(height))
		cmd := []string{ffmpeg, "-y", "-i", target, "-filter_complex", vf, "-frames:v", "1", path}
		if _, err := g.Runner.Run(ctx, job.ID, cancel, cmd); err != nil || !fileNonEmpty(path) {
			img := renderBarChartPNG(make([]float64, width/4))
			if werr := writePNGAtomic(path, img); werr != nil {
				return nil, werr
			}
		}
		if progress != nil {
			progress(1)
		}
		return path, nil
	})
}
