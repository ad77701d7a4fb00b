package generators

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParseKeyframeTimesKeepsOnlyIFrames(t *testing.T) {
	csv := "1.000000,I\n1.500000,P\n2.000000,I\nbad,I\n"
	times := parseKeyframeTimes(csv)
	if !reflect.DeepEqual(times, []float64{1.0, 2.0}) {
		t.Fatalf("unexpected keyframe times: %v", times)
	}
}

func TestSplitLinesAndComma(t *testing.T) {
	lines := splitLines("a\nb\nc")
	if !reflect.DeepEqual(lines, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected split lines: %v", lines)
	}
	parts := splitComma("1.0,I")
	if !reflect.DeepEqual(parts, []string{"1.0", "I"}) {
		t.Fatalf("unexpected split comma: %v", parts)
	}
}

func TestPickEvenlyReturnsAllWhenFewerThanCount(t *testing.T) {
	values := []float64{1, 2, 3}
	got := pickEvenly(values, 10)
	if !reflect.DeepEqual(got, values) {
		t.Fatalf("expected passthrough, got %v", got)
	}
}

func TestPickEvenlyDownsamples(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i)
	}
	got := pickEvenly(values, 10)
	if len(got) != 10 {
		t.Fatalf("expected 10 picks, got %d", len(got))
	}
}

func TestFramesAreUniqueRejectsIdenticalSizedFiles(t *testing.T) {
	dir := t.TempDir()
	var frames []string
	for i := 0; i < 4; i++ {
		p := filepath.Join(dir, string(rune('a'+i))+".jpg")
		os.WriteFile(p, make([]byte, 100), 0o644)
		frames = append(frames, p)
	}
	if framesAreUnique(frames) {
		t.Fatalf("identical-sized frames should not count as unique")
	}
}

func TestFramesAreUniqueAcceptsVaryingSizes(t *testing.T) {
	dir := t.TempDir()
	sizes := []int{100, 500, 150, 900}
	var frames []string
	for i, s := range sizes {
		p := filepath.Join(dir, string(rune('a'+i))+".jpg")
		os.WriteFile(p, make([]byte, s), 0o644)
		frames = append(frames, p)
	}
	if !framesAreUnique(frames) {
		t.Fatalf("widely varying frame sizes should count as unique")
	}
}
