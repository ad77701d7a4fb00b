package generators

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/scenesengine/artifactd/internal/core"
	"github.com/scenesengine/artifactd/internal/jobs"
	"github.com/scenesengine/artifactd/internal/layout"
)

// Face is one deduplicated, clustered face (spec §4.4.10). Box is
// [x, y, width, height] normalized to the sampled frame; Score is the
// detector's confidence for the cluster's representative detection.
// Count, FirstTime and LastTime track the cluster across every detection
// merged into it as clustering proceeds.
type Face struct {
	Time      float64   `json:"time"`
	Box       []float64 `json:"box"`
	Score     float64   `json:"score"`
	Embedding []float64 `json:"embedding"`
	Count     int       `json:"count"`
	FirstTime float64   `json:"first_time"`
	LastTime  float64   `json:"last_time"`
}

// FacesDoc is <stem>.faces.json. Stub is always false: unlike subtitles,
// a failed detection chain is always an error, never a persisted stub
// document, so the field exists purely for presence-check symmetry
// across artifact kinds (spec §3.3).
type FacesDoc struct {
	Backend     string `json:"backend"`
	Stub        bool   `json:"stub"`
	GeneratedAt string `json:"generated_at"`
	Faces       []Face `json:"faces"`
}

// isFacesStub reports whether path's document carries no real embeddings
// (spec §3.3 kind-specific non-stub check).
func isFacesStub(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return true
	}
	var doc FacesDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return true
	}
	if doc.Stub {
		return true
	}
	for _, f := range doc.Faces {
		if len(f.Embedding) > 0 {
			return false
		}
	}
	return true
}

// faceClusterThreshold is the cosine-similarity floor above which two
// detections are considered the same face during online clustering.
const faceClusterThreshold = 0.92

// Faces implements C4.4.10's backend chain (insightface, then
// OpenCV+Haar/OpenFace, then a DCT-descriptor fallback) followed by
// cosine-similarity online clustering. Unlike subtitles, a failure to
// produce any real embedding is always an error, never a stub document
// (§9 resolved open question: faces is not stub-detectable).
func (g *Generators) Faces(ctx context.Context, job *jobs.Job, target string, cancel jobs.CancelSignal, progress jobs.ProgressFunc) (any, error) {
	return g.withLock(target, "faces", func() (any, error) {
		path, err := g.Layout.ArtifactPath(target, layout.KindFaces)
		if err != nil {
			return nil, err
		}
		if !job.Request.Force && fileNonEmpty(path) && !isFacesStub(path) {
			return path, nil
		}

		fps := 0.5
		if f, ok := job.Request.Params["fps"].(float64); ok && f > 0 {
			fps = f
		}
		duration := g.durationSeconds(ctx, job.ID, target)
		if duration <= 0 {
			return nil, core.NotFound("faces", "unknown duration")
		}

		samples := int(duration * fps)
		if samples < 1 {
			samples = 1
		}

		frames, err := g.sampleFramesForFaces(ctx, job.ID, target, samples, duration, cancel, progress)
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(filepath.Dir(frames[0].path))

		backend, detections := g.detectFaces(ctx, frames)
		if len(detections) == 0 {
			return nil, core.DependencyMissing("faces", "no backend produced a real face embedding")
		}

		clustered := clusterFaces(detections)
		doc := FacesDoc{Backend: backend, Stub: false, GeneratedAt: time.Now().UTC().Format(time.RFC3339), Faces: clustered}
		if err := writeJSONAtomic(path, doc); err != nil {
			return nil, err
		}
		return path, nil
	})
}

type faceFrame struct {
	path string
	time float64
}

func (g *Generators) sampleFramesForFaces(ctx context.Context, jobID, target string, samples int, duration float64, cancel jobs.CancelSignal, progress jobs.ProgressFunc) ([]faceFrame, error) {
	tmpDir, err := os.MkdirTemp("", "faces-*")
	if err != nil {
		return nil, err
	}
	ffmpeg := "ffmpeg"
	if g.Cfg.FFmpeg != "" {
		ffmpeg = g.Cfg.FFmpeg
	}
	step := duration / float64(samples)
	var frames []faceFrame
	for i := 0; i < samples; i++ {
		if cancel != nil && cancel.Canceled() {
			os.RemoveAll(tmpDir)
			return nil, core.ErrCanceled
		}
		t := step * float64(i)
		framePath := filepath.Join(tmpDir, fmt.Sprintf("f_%d.jpg", i))
		cmd := []string{ffmpeg, "-y", "-ss", fmt.Sprintf("%.3f", t), "-i", target,
			"-vframes", "1", "-vf", "scale=320:-2", framePath}
		if _, err := g.Runner.Run(ctx, jobID, nil, cmd); err != nil {
			continue
		}
		if fileNonEmpty(framePath) {
			frames = append(frames, faceFrame{path: framePath, time: t})
		}
		if progress != nil {
			progress(float64(i+1) / float64(samples))
		}
	}
	if len(frames) == 0 {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("no frames sampled for face detection")
	}
	return frames, nil
}

// detectFaces tries insightface, then OpenCV (Haar cascade or
// OpenFace), then an in-process DCT descriptor, returning the first
// backend that yields at least one detection across all frames.
func (g *Generators) detectFaces(ctx context.Context, frames []faceFrame) (string, []Face) {
	if bin, err := exec.LookPath("insightface-detect"); err == nil {
		if faces := runExternalFaceDetector(ctx, bin, frames); len(faces) > 0 {
			return "insightface", faces
		}
	}
	if bin, err := exec.LookPath("opencv_facedetect"); err == nil {
		args := []string{}
		if g.Cfg.OpenFaceModel != "" {
			args = append(args, "--openface-model", g.Cfg.OpenFaceModel)
		}
		if faces := runExternalFaceDetectorWithArgs(ctx, bin, args, frames); len(faces) > 0 {
			return "opencv-haar", faces
		}
	}
	if faces := detectFacesByDCT(frames); len(faces) > 0 {
		return "dct-fallback", faces
	}
	return "", nil
}

// runExternalFaceDetector shells a per-frame external detector that
// prints one detection per line on stdout: "x y w h score e1 e2 ... en",
// a normalized box, a confidence score, then the embedding.
func runExternalFaceDetector(ctx context.Context, bin string, frames []faceFrame) []Face {
	return runExternalFaceDetectorWithArgs(ctx, bin, nil, frames)
}

func runExternalFaceDetectorWithArgs(ctx context.Context, bin string, extraArgs []string, frames []faceFrame) []Face {
	var out []Face
	for _, fr := range frames {
		args := append(append([]string{}, extraArgs...), fr.path)
		cmd := exec.CommandContext(ctx, bin, args...)
		data, err := cmd.Output()
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			box, score, emb, ok := parseDetectionLine(line)
			if !ok {
				continue
			}
			out = append(out, Face{Time: fr.time, Box: box, Score: score, Embedding: emb})
		}
	}
	return out
}

// parseDetectionLine parses "x y w h score e1 ... en" into its box,
// score and embedding parts.
func parseDetectionLine(line string) (box []float64, score float64, embedding []float64, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 6 {
		return nil, 0, nil, false
	}
	nums := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, 0, nil, false
		}
		nums = append(nums, v)
	}
	return nums[0:4], nums[4], nums[5:], true
}

// detectFacesByDCT is an in-process fallback: it computes the grayscale
// variance of each whole sampled frame and uses a DCT-like descriptor
// over the frame's pixels as a crude face descriptor. Frames whose
// variance marks them as near-uniform (sky, walls) are rejected before
// they count as a detection. With
// no real localizer, the box covers the whole sampled frame and the
// score is the same variance signal the filter used to accept it.
func detectFacesByDCT(frames []faceFrame) []Face {
	var out []Face
	for _, fr := range frames {
		pixels, err := grayscalePixels(fr.path)
		if err != nil || len(pixels) == 0 {
			continue
		}
		variance, ok := geometricVariance(pixels)
		if !ok {
			continue
		}
		out = append(out, Face{
			Time:      fr.time,
			Box:       []float64{0, 0, 1, 1},
			Score:     clampUnit(variance * 100),
			Embedding: dctDescriptor(pixels),
		})
	}
	return out
}

// geometricVariance reports the pixel variance of the frame and whether
// it clears the floor a plausibly distinguishable face region needs.
func geometricVariance(pixels []float64) (float64, bool) {
	mean := 0.0
	for _, p := range pixels {
		mean += p
	}
	mean /= float64(len(pixels))
	var variance float64
	for _, p := range pixels {
		d := p - mean
		variance += d * d
	}
	variance /= float64(len(pixels))
	return variance, variance > 0.002
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// dctDescriptor reduces a pixel grid to its lowest-frequency DCT-II
// coefficients, a cheap perceptual descriptor analogous to the phash
// generator's average-hash approach.
func dctDescriptor(pixels []float64) []float64 {
	const n = 8
	out := make([]float64, n)
	for u := 0; u < n; u++ {
		var sum float64
		for i := 0; i < len(pixels); i++ {
			sum += pixels[i] * math.Cos(math.Pi*float64(u)*(float64(i)+0.5)/float64(len(pixels)))
		}
		out[u] = sum
	}
	return out
}

// clusterFaces performs online cosine-similarity clustering: each
// detection either joins the nearest existing cluster centroid or starts
// a new one (spec §4.4.10). A joining detection updates the cluster's
// centroid (running average, not just the first representative) and
// extends the cluster's first/last timestamps; its box/score are kept
// only when the new detection scores higher than the current best.
func clusterFaces(detections []Face) []Face {
	type cluster struct {
		rep       Face
		count     int
		firstTime float64
		lastTime  float64
	}
	var clusters []cluster
	for _, d := range detections {
		best := -1
		bestSim := -1.0
		for i, c := range clusters {
			sim := cosineSimilarity(c.rep.Embedding, d.Embedding)
			if sim > bestSim {
				bestSim = sim
				best = i
			}
		}
		if best >= 0 && bestSim >= faceClusterThreshold {
			c := &clusters[best]
			c.count++
			c.rep.Embedding = updateCentroid(c.rep.Embedding, d.Embedding, c.count)
			if d.Score > c.rep.Score {
				c.rep.Box = d.Box
				c.rep.Score = d.Score
			}
			if d.Time < c.firstTime {
				c.firstTime = d.Time
			}
			if d.Time > c.lastTime {
				c.lastTime = d.Time
			}
			continue
		}
		clusters = append(clusters, cluster{rep: d, count: 1, firstTime: d.Time, lastTime: d.Time})
	}
	out := make([]Face, 0, len(clusters))
	for _, c := range clusters {
		rep := c.rep
		rep.Count = c.count
		rep.FirstTime = c.firstTime
		rep.LastTime = c.lastTime
		out = append(out, rep)
	}
	return out
}

// updateCentroid folds next into centroid as a running average over
// count observations.
func updateCentroid(centroid, next []float64, count int) []float64 {
	if len(centroid) != len(next) || count < 1 {
		return centroid
	}
	updated := make([]float64, len(centroid))
	for i := range centroid {
		updated[i] = centroid[i] + (next[i]-centroid[i])/float64(count)
	}
	return updated
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
