// Package config loads the core's environment-variable surface (spec §6.4).
// Configuration-file parsing and CLI flags are owned by the out-of-scope
// outer layer; the core itself only ever reads the process environment.
package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Config holds every core-relevant environment variable, defaulted per
// spec §6.4 / §4.2 / §4.6.
type Config struct {
	MediaRoot string
	MediaExts []string

	FFmpeg        string
	FFprobe       string
	FFmpegHWAccel string
	FFmpegThreads string // "auto" or integer
	FFmpegTimeLimitSecs int

	FFmpegConcurrency int
	JobMaxConcurrency int
	BatchWorkers      int
	RestoreWorkers    int

	JobPersistDisable     bool
	JobAutorestoreDisable bool
	StrictFIFOStart       bool

	LightSlotAll   bool
	LightSlotTypes []string

	PreviewCRFVP9                int
	PreviewCRFH264               int
	PreviewSinglePass            bool
	PreviewMinGapFrac            float64
	PreviewProgressWatchdogSecs  int
	PreviewProgressKillSecs      int

	SpritesKeyframes       bool
	SpritesEvenSampling    bool
	SpritesAutoEvenSec     int
	SpritesEvenWorkers     int
	SpritesWatchdogKillSecs int

	ScenesLightSlot      bool
	ScenesHeartbeatCapPct int

	ThumbnailWidth   int
	ThumbnailQuality int
	SceneThumbQuality int
	SceneClipCRF      int

	WhisperCppBin   string
	WhisperCppModel string
	OpenFaceModel   string

	StateDir string
	LogLevel string
}

var defaultLightSlotTypes = []string{"markers", "preview", "sprites", "phash", "faces", "heatmaps"}
var defaultMediaExts = []string{"mp4", "mkv", "mov", "m4v", "webm", "avi"}

// Load reads the core's configuration entirely from the process
// environment, applying the documented defaults for anything unset.
func Load() *Config {
	c := &Config{
		MediaRoot:     env("MEDIA_ROOT", "/media"),
		MediaExts:     envList("MEDIA_EXTS", defaultMediaExts),
		FFmpeg:        env("FFMPEG", "ffmpeg"),
		FFprobe:       env("FFPROBE", "ffprobe"),
		FFmpegHWAccel: env("FFMPEG_HWACCEL", ""),
		FFmpegThreads: env("FFMPEG_THREADS", "auto"),
		FFmpegTimeLimitSecs: envInt("FFMPEG_TIMELIMIT", 600),

		FFmpegConcurrency: clamp(envInt("FFMPEG_CONCURRENCY", 4), 1, 16),
		JobMaxConcurrency: clamp(envInt("JOB_MAX_CONCURRENCY", 4), 1, 64),
		BatchWorkers:      envInt("BATCH_WORKERS", defaultBatchWorkers()),
		RestoreWorkers:    envInt("RESTORE_WORKERS", min(2, clamp(envInt("JOB_MAX_CONCURRENCY", 4), 1, 64))),

		JobPersistDisable:     envBool("JOB_PERSIST_DISABLE", false),
		JobAutorestoreDisable: envBool("JOB_AUTORESTORE_DISABLE", false),
		StrictFIFOStart:       envBool("STRICT_FIFO_START", false),

		LightSlotAll:   envBool("LIGHT_SLOT_ALL", false),
		LightSlotTypes: envList("LIGHT_SLOT_TYPES", defaultLightSlotTypes),

		PreviewCRFVP9:               envInt("PREVIEW_CRF_VP9", 34),
		PreviewCRFH264:              envInt("PREVIEW_CRF_H264", 28),
		PreviewSinglePass:           envBool("PREVIEW_SINGLE_PASS", true),
		PreviewMinGapFrac:           envFloat("PREVIEW_MIN_GAP_FRAC", 0.25),
		PreviewProgressWatchdogSecs: envInt("PREVIEW_PROGRESS_WATCHDOG_SECS", 10),
		PreviewProgressKillSecs:     envInt("PREVIEW_PROGRESS_KILL_SECS", 60),

		SpritesKeyframes:        envBool("SPRITES_KEYFRAMES", true),
		SpritesEvenSampling:     envBool("SPRITES_EVEN_SAMPLING", false),
		SpritesAutoEvenSec:      envInt("SPRITES_AUTO_EVEN_SEC", 3600),
		SpritesEvenWorkers:      envInt("SPRITES_EVEN_WORKERS", 4),
		SpritesWatchdogKillSecs: envInt("SPRITES_WATCHDOG_KILL_SECS", 60),

		ScenesLightSlot:       envBool("SCENES_LIGHT_SLOT", true),
		ScenesHeartbeatCapPct: envInt("SCENES_HEARTBEAT_CAP_PCT", 3),

		ThumbnailWidth:    envInt("THUMBNAIL_WIDTH", 320),
		ThumbnailQuality:  clamp(envInt("THUMBNAIL_QUALITY", 8), 2, 31),
		SceneThumbQuality: clamp(envInt("SCENE_THUMB_QUALITY", 8), 2, 31),
		SceneClipCRF:      envInt("SCENE_CLIP_CRF", 28),

		WhisperCppBin:   env("WHISPER_CPP_BIN", ""),
		WhisperCppModel: env("WHISPER_CPP_MODEL", ""),
		OpenFaceModel:   env("OPENFACE_MODEL", ""),

		StateDir: env("STATE_DIR", "/config"),
		LogLevel: env("LOG_LEVEL", "info"),
	}
	return c
}

// defaultBatchWorkers implements spec §4.7's min(4, cores/2) default.
func defaultBatchWorkers() int {
	return min(4, max(1, runtime.NumCPU()/2))
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func env(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envList(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// IsLightSlotTask reports whether the given normalized task kind runs in
// "light slot" mode per §4.6, either because LIGHT_SLOT_ALL is set or the
// task is in the configured light-slot list.
func (c *Config) IsLightSlotTask(kind string) bool {
	if c.LightSlotAll {
		return true
	}
	for _, k := range c.LightSlotTypes {
		if k == kind {
			return true
		}
	}
	return false
}
