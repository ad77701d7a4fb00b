package generators

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"io"
	"os"
	"path/filepath"

	"github.com/scenesengine/artifactd/internal/core"
	"github.com/scenesengine/artifactd/internal/jobs"
	"github.com/scenesengine/artifactd/internal/layout"
)

const phashFrameSize = 8 // 8x8 grayscale -> 64 bits per frame

// PhashDoc is <stem>.phash.json (spec §4.4.5).
type PhashDoc struct {
	Phash   string `json:"phash"`
	Algo    string `json:"algo"`
	Frames  int    `json:"frames"`
	Combine string `json:"combine,omitempty"`
}

// Phash implements C4.4.5, grounded on CineVault's
// internal/fingerprint/fingerprint.go ComputePHash (per-sample ffmpeg
// frame extraction, 8x8 average hash), generalized to the spec's
// combine modes and SHA-256 fallback.
func (g *Generators) Phash(ctx context.Context, job *jobs.Job, target string, cancel jobs.CancelSignal, progress jobs.ProgressFunc) (any, error) {
	return g.withLock(target, "phash", func() (any, error) {
		path, err := g.Layout.ArtifactPath(target, layout.KindPhash)
		if err != nil {
			return nil, err
		}
		if !job.Request.Force && fileNonEmpty(path) {
			return path, nil
		}

		frames := 5
		if f, ok := job.Request.Params["frames"].(float64); ok && f > 0 {
			frames = int(f)
		}
		algo, _ := job.Request.Params["algo"].(string)
		if algo == "" {
			algo = "ahash"
		}
		combine, _ := job.Request.Params["combine"].(string)
		if combine == "" {
			combine = "xor"
		}

		doc, err := g.computePhash(ctx, job.ID, target, frames, algo, combine, cancel, progress)
		if err != nil {
			doc = fileSHA256Phash(target)
		}
		if err := writeJSONAtomic(path, doc); err != nil {
			return nil, err
		}
		return path, nil
	})
}

func (g *Generators) computePhash(ctx context.Context, jobID, target string, frames int, algo, combine string, cancel jobs.CancelSignal, progress jobs.ProgressFunc) (PhashDoc, error) {
	duration := g.durationSeconds(ctx, jobID, target)

	tmpDir, err := os.MkdirTemp("", "phash-*")
	if err != nil {
		return PhashDoc{}, err
	}
	defer os.RemoveAll(tmpDir)

	ffmpeg := "ffmpeg"
	if g.Cfg.FFmpeg != "" {
		ffmpeg = g.Cfg.FFmpeg
	}

	var frameHashes [][]byte
	extracted := 0
	for i := 0; i < frames; i++ {
		if cancel != nil && cancel.Canceled() {
			return PhashDoc{}, core.ErrCanceled
		}
		pct := float64(i+1) / float64(frames+1)
		seekSec := pct * duration
		if duration <= 0 {
			seekSec = 1
		}

		framePath := filepath.Join(tmpDir, fmt.Sprintf("frame_%d.jpg", i))
		cmd := []string{ffmpeg, "-y", "-ss", fmt.Sprintf("%.3f", seekSec), "-i", target,
			"-vframes", "1", "-vf", fmt.Sprintf("scale=%d:%d", phashFrameSize, phashFrameSize), framePath}
		if _, err := g.Runner.Run(ctx, jobID, nil, cmd); err != nil {
			continue
		}
		h, err := hashFrame(framePath)
		if err != nil {
			continue
		}
		frameHashes = append(frameHashes, h)
		extracted++
		if progress != nil {
			progress(float64(i+1) / float64(frames))
		}
	}

	if extracted == 0 {
		return PhashDoc{}, fmt.Errorf("no frames extracted")
	}

	var combined []byte
	switch combine {
	case "majority":
		combined = combineMajority(frameHashes)
	default:
		combined = combineXOR(frameHashes)
	}

	return PhashDoc{Phash: hex.EncodeToString(combined), Algo: algo, Frames: extracted, Combine: combine}, nil
}

// hashFrame computes an 8x8 average-hash (aHash), grounded on CineVault's
// fingerprint.hashFrame.
func hashFrame(framePath string) ([]byte, error) {
	f, err := os.Open(framePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	total := phashFrameSize * phashFrameSize
	pixels := make([]float64, total)
	for y := 0; y < phashFrameSize; y++ {
		for x := 0; x < phashFrameSize; x++ {
			r, gr, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			gray := color.GrayModel.Convert(color.RGBA{uint8(r >> 8), uint8(gr >> 8), uint8(b >> 8), 255}).(color.Gray).Y
			pixels[y*phashFrameSize+x] = float64(gray)
		}
	}

	var sum float64
	for _, v := range pixels {
		sum += v
	}
	avg := sum / float64(len(pixels))

	out := make([]byte, (total+7)/8)
	for i, v := range pixels {
		if v > avg {
			out[i/8] |= 1 << (7 - uint(i%8))
		}
	}
	return out, nil
}

func combineXOR(hashes [][]byte) []byte {
	out := make([]byte, len(hashes[0]))
	for _, h := range hashes {
		for i, b := range h {
			out[i] ^= b
		}
	}
	return out
}

func combineMajority(hashes [][]byte) []byte {
	n := len(hashes[0])
	counts := make([]int, n*8)
	for _, h := range hashes {
		for byteIdx, b := range h {
			for bit := 0; bit < 8; bit++ {
				if b&(1<<(7-uint(bit))) != 0 {
					counts[byteIdx*8+bit]++
				}
			}
		}
	}
	out := make([]byte, n)
	threshold := len(hashes) / 2
	for i, c := range counts {
		if c > threshold {
			out[i/8] |= 1 << (7 - uint(i%8))
		}
	}
	return out
}

// fileSHA256Phash implements the documented fallback: on total ffmpeg
// failure, hash the raw file bytes (spec §4.4.5).
func fileSHA256Phash(target string) PhashDoc {
	f, err := os.Open(target)
	if err != nil {
		return PhashDoc{Phash: "", Algo: "file-sha256", Frames: 0}
	}
	defer f.Close()

	h := sha256.New()
	_, _ = io.Copy(h, f)
	return PhashDoc{Phash: hex.EncodeToString(h.Sum(nil)), Algo: "file-sha256", Frames: 0}
}
