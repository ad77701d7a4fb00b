package generators

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/scenesengine/artifactd/internal/jobs"
	"github.com/scenesengine/artifactd/internal/layout"
)

// subtitlesStubMarker is the sentinel cue text writeStubSubtitle writes
// when no backend transcribed real speech; isSubtitlesStub looks for it
// to implement the kind-specific non-stub check (spec §3.3).
const subtitlesStubMarker = "[no speech recognized]"

func isSubtitlesStub(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return true
	}
	return bytes.Contains(data, []byte(subtitlesStubMarker))
}

// Subtitles implements C4.4.9's backend auto-detection chain:
// faster-whisper, then whisper, then a local whisper.cpp binary, and
// finally a stub cue when none are available (subtitles is one of the
// stub-detectable kinds per the artifact table, unlike faces).
func (g *Generators) Subtitles(ctx context.Context, job *jobs.Job, target string, cancel jobs.CancelSignal, progress jobs.ProgressFunc) (any, error) {
	return g.withLock(target, "subtitles", func() (any, error) {
		path, err := g.Layout.ArtifactPath(target, layout.KindSubtitles)
		if err != nil {
			return nil, err
		}
		if !job.Request.Force && fileNonEmpty(path) && !isSubtitlesStub(path) {
			return path, nil
		}

		lang, _ := job.Request.Params["language"].(string)

		if fasterWhisperTranscribe(ctx, target, path, lang, progress) {
			return path, nil
		}
		if whisperTranscribe(ctx, target, path, lang, progress) {
			return path, nil
		}
		if g.whisperCppTranscribe(ctx, target, path, lang, progress) {
			return path, nil
		}

		if err := writeStubSubtitle(path, g.durationSeconds(ctx, job.ID, target)); err != nil {
			return nil, err
		}
		return path, nil
	})
}

// fasterWhisperTranscribe shells out to a faster-whisper CLI if present
// on PATH, retrying with a slower compute type on failure (spec
// §4.4.9's documented int8 -> float32 retry).
func fasterWhisperTranscribe(ctx context.Context, target, outPath, lang string, progress jobs.ProgressFunc) bool {
	bin, err := exec.LookPath("faster-whisper")
	if err != nil {
		return false
	}
	for _, computeType := range []string{"int8", "float32"} {
		args := []string{"--model", "base", "--output_format", "srt", "--compute_type", computeType,
			"--output_dir", filepath.Dir(outPath), target}
		if lang != "" {
			args = append(args, "--language", lang)
		}
		cmd := exec.CommandContext(ctx, bin, args...)
		if err := cmd.Run(); err == nil {
			if produced := findProducedSRT(outPath, target); produced != "" {
				if progress != nil {
					progress(1)
				}
				return renameIfNeeded(produced, outPath)
			}
		}
	}
	return false
}

func whisperTranscribe(ctx context.Context, target, outPath, lang string, progress jobs.ProgressFunc) bool {
	bin, err := exec.LookPath("whisper")
	if err != nil {
		return false
	}
	args := []string{target, "--output_format", "srt", "--output_dir", filepath.Dir(outPath)}
	if lang != "" {
		args = append(args, "--language", lang)
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	if err := cmd.Run(); err != nil {
		return false
	}
	produced := findProducedSRT(outPath, target)
	if produced == "" {
		return false
	}
	if progress != nil {
		progress(1)
	}
	return renameIfNeeded(produced, outPath)
}

func (g *Generators) whisperCppTranscribe(ctx context.Context, target, outPath, lang string, progress jobs.ProgressFunc) bool {
	if g.Cfg.WhisperCppBin == "" {
		return false
	}
	args := []string{"-m", g.Cfg.WhisperCppModel, "-f", target, "-osrt", "-of", outPath}
	if lang != "" {
		args = append(args, "-l", lang)
	}
	cmd := exec.CommandContext(ctx, g.Cfg.WhisperCppBin, args...)
	if err := cmd.Run(); err != nil {
		return false
	}
	if progress != nil {
		progress(1)
	}
	return fileNonEmpty(outPath + ".srt") && renameIfNeeded(outPath+".srt", outPath)
}

// findProducedSRT locates the .srt file a whisper CLI wrote alongside
// its output_dir, named after the source's stem.
func findProducedSRT(outPath, target string) string {
	candidate := filepath.Join(filepath.Dir(outPath), layout.Stem(target)+".srt")
	if fileNonEmpty(candidate) {
		return candidate
	}
	return ""
}

func renameIfNeeded(from, to string) bool {
	if from == to {
		return fileNonEmpty(to)
	}
	data, err := os.ReadFile(from)
	if err != nil {
		return false
	}
	if err := writeFileAtomic(to, data, 0o644); err != nil {
		return false
	}
	os.Remove(from)
	return true
}

// writeStubSubtitle writes a single cue spanning the whole video
// marking that no speech was transcribed, so the output file is never
// empty. At 56 bytes the stub is below minArtifactBytes, so presence
// checks treat it as missing.
func writeStubSubtitle(path string, duration float64) error {
	if duration <= 0 {
		duration = 1
	}
	srt := fmt.Sprintf("1\n00:00:00,000 --> %s\n%s\n\n", srtTimestamp(duration), subtitlesStubMarker)
	return writeFileAtomic(path, []byte(srt), 0o644)
}

func srtTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds * 1000)
	ms := total % 1000
	total /= 1000
	s := total % 60
	total /= 60
	m := total % 60
	total /= 60
	h := total
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
