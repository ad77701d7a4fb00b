package generators

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/scenesengine/artifactd/internal/jobs"
	"github.com/scenesengine/artifactd/internal/layout"
)

// MetadataDoc is the on-disk shape of <stem>.metadata.json (spec §3.3,
// §4.4.1), pared down to the fields this artifact needs to carry.
type MetadataDoc struct {
	Duration float64      `json:"duration"`
	Format   string       `json:"format,omitempty"`
	Bitrate  int64        `json:"bitrate,omitempty"`
	Streams  []StreamInfo `json:"streams"`
	Stub     bool         `json:"stub,omitempty"`
}

// StreamInfo is one ffprobe stream, trimmed to what downstream
// consumers need.
type StreamInfo struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

type ffprobeDoc struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// syntheticMetadata is the fallback payload when ffprobe is unavailable
// (spec §4.4.1): duration=0, one video and one audio stream with
// default codecs, flagged as a stub so presence checks can tell it apart.
func syntheticMetadata() MetadataDoc {
	return MetadataDoc{
		Duration: 0,
		Streams: []StreamInfo{
			{CodecType: "video", CodecName: "h264"},
			{CodecType: "audio", CodecName: "aac"},
		},
		Stub: true,
	}
}

// Metadata implements C4.4.1.
func (g *Generators) Metadata(ctx context.Context, job *jobs.Job, target string, cancel jobs.CancelSignal, progress jobs.ProgressFunc) (any, error) {
	res, err := g.withLock(target, "metadata", func() (any, error) {
		path, err := g.Layout.ArtifactPath(target, layout.KindMetadata)
		if err != nil {
			return nil, err
		}
		if !job.Request.Force && fileNonEmpty(path) && !isMetadataStub(path) {
			return path, nil
		}

		doc := g.probeMetadata(ctx, job.ID, target)
		if err := writeJSONAtomic(path, doc); err != nil {
			return nil, err
		}
		return path, nil
	})
	return res, err
}

func (g *Generators) probeMetadata(ctx context.Context, jobID, target string) MetadataDoc {
	ffprobe := "ffprobe"
	if g.Cfg != nil && g.Cfg.FFprobe != "" {
		ffprobe = g.Cfg.FFprobe
	}
	cmd := []string{ffprobe, "-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", target}
	result, err := g.Runner.Run(ctx, jobID, nil, cmd)
	if err != nil || len(result.Stdout) == 0 {
		return syntheticMetadata()
	}

	var raw ffprobeDoc
	if err := json.Unmarshal(result.Stdout, &raw); err != nil {
		return syntheticMetadata()
	}

	doc := MetadataDoc{Format: raw.Format.FormatName}
	if raw.Format.Duration != "" {
		if d, err := strconv.ParseFloat(raw.Format.Duration, 64); err == nil {
			doc.Duration = d
		}
	}
	if raw.Format.BitRate != "" {
		if b, err := strconv.ParseInt(raw.Format.BitRate, 10, 64); err == nil {
			doc.Bitrate = b
		}
	}
	for _, s := range raw.Streams {
		doc.Streams = append(doc.Streams, StreamInfo{
			CodecType: s.CodecType,
			CodecName: s.CodecName,
			Width:     s.Width,
			Height:    s.Height,
		})
	}
	if len(doc.Streams) == 0 {
		return syntheticMetadata()
	}
	return doc
}

func isMetadataStub(path string) bool {
	m := readJSONMap(path)
	stub, _ := m["stub"].(bool)
	return stub
}

// durationSeconds is a small cross-generator helper: several other
// generators (thumbnail, preview, sprites, phash) need the probed
// duration without regenerating the metadata artifact.
func (g *Generators) durationSeconds(ctx context.Context, jobID, target string) float64 {
	doc := g.probeMetadata(ctx, jobID, target)
	return doc.Duration
}
