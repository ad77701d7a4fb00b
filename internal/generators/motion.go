package generators

import (
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"math"
	"os"
	"path/filepath"

	"github.com/scenesengine/artifactd/internal/core"
	"github.com/scenesengine/artifactd/internal/jobs"
	"github.com/scenesengine/artifactd/internal/layout"
)

// MotionDoc is <stem>.motion.json (spec §4.4.8).
type MotionDoc struct {
	Samples int       `json:"samples"`
	Values  []float64 `json:"values"`
}

// Motion implements C4.4.8's grayscale frame-diff motion scalar
// series: extract N evenly spaced frames, compute an L2-normalized
// pixel difference between consecutive frames.
func (g *Generators) Motion(ctx context.Context, job *jobs.Job, target string, cancel jobs.CancelSignal, progress jobs.ProgressFunc) (any, error) {
	return g.withLock(target, "motion", func() (any, error) {
		path, err := g.Layout.ArtifactPath(target, layout.KindMotion)
		if err != nil {
			return nil, err
		}
		if !job.Request.Force && fileNonEmpty(path) {
			return path, nil
		}

		samples := 60
		if s, ok := job.Request.Params["samples"].(float64); ok && s > 0 {
			samples = int(s)
		}

		duration := g.durationSeconds(ctx, job.ID, target)
		values, err := g.computeMotion(ctx, job.ID, target, samples, duration, cancel, progress)
		if err != nil {
			values = make([]float64, 0)
		}

		doc := MotionDoc{Samples: len(values), Values: values}
		if err := writeJSONAtomic(path, doc); err != nil {
			return nil, err
		}
		return path, nil
	})
}

func (g *Generators) computeMotion(ctx context.Context, jobID, target string, samples int, duration float64, cancel jobs.CancelSignal, progress jobs.ProgressFunc) ([]float64, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("unknown duration")
	}
	tmpDir, err := os.MkdirTemp("", "motion-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	ffmpeg := "ffmpeg"
	if g.Cfg.FFmpeg != "" {
		ffmpeg = g.Cfg.FFmpeg
	}
	step := duration / float64(samples)

	var prev []float64
	values := make([]float64, 0, samples)
	for i := 0; i < samples; i++ {
		if cancel != nil && cancel.Canceled() {
			return nil, core.ErrCanceled
		}
		framePath := filepath.Join(tmpDir, fmt.Sprintf("m_%d.jpg", i))
		cmd := []string{ffmpeg, "-y", "-ss", fmt.Sprintf("%.3f", step*float64(i)), "-i", target,
			"-vframes", "1", "-vf", "scale=32:32", framePath}
		if _, err := g.Runner.Run(ctx, jobID, nil, cmd); err != nil {
			values = append(values, 0)
			continue
		}
		pixels, err := grayscalePixels(framePath)
		if err != nil {
			values = append(values, 0)
			continue
		}
		if prev == nil {
			values = append(values, 0)
		} else {
			values = append(values, l2NormalizedDiff(prev, pixels))
		}
		prev = pixels
		if progress != nil {
			progress(float64(i+1) / float64(samples))
		}
	}
	return values, nil
}

func grayscalePixels(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	out := make([]float64, 0, bounds.Dx()*bounds.Dy())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, gr, b, _ := img.At(x, y).RGBA()
			gray := color.GrayModel.Convert(color.RGBA{uint8(r >> 8), uint8(gr >> 8), uint8(b >> 8), 255}).(color.Gray).Y
			out = append(out, float64(gray)/255.0)
		}
	}
	return out, nil
}

// l2NormalizedDiff returns the L2 norm of the pixel-wise difference
// between a and b, normalized to [0,1] by the maximum possible norm
// for vectors of this length in [0,1]^n.
func l2NormalizedDiff(a, b []float64) float64 {
	n := len(a)
	if n == 0 || len(b) != n {
		return 0
	}
	var sumSq float64
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sumSq += d * d
	}
	norm := math.Sqrt(sumSq)
	maxNorm := math.Sqrt(float64(n))
	if maxNorm == 0 {
		return 0
	}
	return norm / maxNorm
}
