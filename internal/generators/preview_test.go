package generators

import "testing"

func TestPreviewPointsEvenlySpaced(t *testing.T) {
	points := previewPoints(100, 9, 0.8, 0.25)
	if len(points) == 0 {
		t.Fatal("expected at least one sample point")
	}
	for i := 1; i < len(points); i++ {
		if points[i] <= points[i-1] {
			t.Fatalf("points must be strictly increasing: %v", points)
		}
		if points[i] > 100 {
			t.Fatalf("point %v exceeds duration", points[i])
		}
	}
}

func TestPreviewPointsShortVideoFallsBackToZero(t *testing.T) {
	points := previewPoints(0.5, 9, 0.8, 0.25)
	if len(points) != 1 || points[0] != 0 {
		t.Fatalf("expected single zero point for too-short video, got %v", points)
	}
}

func TestPreviewPointsZeroSegmentsIsEmpty(t *testing.T) {
	if points := previewPoints(100, 0, 0.8, 0.25); points != nil {
		t.Fatalf("expected nil for zero segments, got %v", points)
	}
}

func TestPreviewCodecArgsSelectsFormat(t *testing.T) {
	cfg := previewCfg{crfVP9: 34, crfH264: 28}
	mp4 := previewCodecArgs(cfg, "mp4")
	if mp4[0] != "-c:v" || mp4[1] != "libx264" {
		t.Fatalf("unexpected mp4 codec args: %v", mp4)
	}
	webm := previewCodecArgs(cfg, "webm")
	if webm[0] != "-c:v" || webm[1] != "libvpx-vp9" {
		t.Fatalf("unexpected webm codec args: %v", webm)
	}
}
