package jobs

import "strings"

// TaskKind is the closed set of dispatchable task kinds (spec §4.7),
// replacing the teacher's string-keyed worker dispatch with a typed sum
// so an unrecognized raw task string is caught once, at normalization,
// rather than silently falling through the dispatch map (spec §9).
type TaskKind string

const (
	TaskTranscode        TaskKind = "transcode"
	TaskAutotag          TaskKind = "autotag"
	TaskThumbnail        TaskKind = "thumbnail"
	TaskMetadata         TaskKind = "metadata"
	TaskEmbed            TaskKind = "embed"
	TaskClip             TaskKind = "clip"
	TaskConcat           TaskKind = "concat"
	TaskCleanupArtifacts TaskKind = "cleanup-artifacts"
	TaskSprites          TaskKind = "sprites"
	TaskHeatmaps         TaskKind = "heatmaps"
	TaskFaces            TaskKind = "faces"
	TaskPreview          TaskKind = "preview"
	TaskSubtitles        TaskKind = "subtitles"
	TaskMarkers          TaskKind = "markers"
	TaskSample           TaskKind = "sample"
	TaskChain            TaskKind = "chain"
	TaskIntegrityScan    TaskKind = "integrity-scan"
	TaskIndexEmbeddings  TaskKind = "index-embeddings"
	TaskWaveform         TaskKind = "waveform"
	TaskMotion           TaskKind = "motion"
	TaskPhash            TaskKind = "phash"
)

// aliases maps legacy/alternate spellings accepted on input to their
// canonical TaskKind (spec §4.7).
var aliases = map[string]TaskKind{
	"preview-concat": TaskPreview,
	"heatmap":        TaskHeatmaps,
	"scenes":         TaskMarkers,
}

var knownKinds = map[TaskKind]struct{}{
	TaskTranscode: {}, TaskAutotag: {}, TaskThumbnail: {}, TaskMetadata: {},
	TaskEmbed: {}, TaskClip: {}, TaskConcat: {}, TaskCleanupArtifacts: {},
	TaskSprites: {}, TaskHeatmaps: {}, TaskFaces: {}, TaskPreview: {},
	TaskSubtitles: {}, TaskMarkers: {}, TaskSample: {}, TaskChain: {},
	TaskIntegrityScan: {}, TaskIndexEmbeddings: {}, TaskWaveform: {},
	TaskMotion: {}, TaskPhash: {},
}

// NormalizeTask maps a raw request task string to its canonical
// TaskKind, stripping a "-batch" suffix (batch submission is a request
// shape, not a distinct kind) and resolving known aliases. The second
// return value is false for anything outside the closed set.
func NormalizeTask(raw string) (TaskKind, bool) {
	t := strings.ToLower(strings.TrimSpace(raw))
	t = strings.TrimSuffix(t, "-batch")
	if canon, ok := aliases[t]; ok {
		t = string(canon)
	}
	kind := TaskKind(t)
	_, ok := knownKinds[kind]
	return kind, ok
}

// IsSubFileProgress reports whether kind reports progress in
// percent-per-file (total = N_files * 100) rather than one unit per
// file. Spec §4.7 names only metadata, thumbnail, waveform, and motion
// as atomic (single-shot, no fractional progress); every other kind,
// including markers/subtitles/heatmaps/phash/faces, reports fractional
// per-file progress and defaults to true here.
func (k TaskKind) IsSubFileProgress() bool {
	switch k {
	case TaskMetadata, TaskThumbnail, TaskWaveform, TaskMotion:
		return false
	default:
		return true
	}
}
