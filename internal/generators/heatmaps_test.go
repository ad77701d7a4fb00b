package generators

import "testing"

func TestParseYAVGLinesNormalizesTo01(t *testing.T) {
	stderr := "frame:0 pts:0 lavfi.signalstats.YAVG=255.000000\n" +
		"frame:1 pts:1 lavfi.signalstats.YAVG=0.000000\n" +
		"irrelevant line\n"
	values := parseYAVGLines(stderr)
	if len(values) != 2 {
		t.Fatalf("expected 2 values, got %d: %v", len(values), values)
	}
	if values[0] != 1.0 || values[1] != 0.0 {
		t.Fatalf("unexpected normalized values: %v", values)
	}
}

func TestParseYAVGLinesEmptyOnNoMatch(t *testing.T) {
	if values := parseYAVGLines("nothing here"); len(values) != 0 {
		t.Fatalf("expected no values, got %v", values)
	}
}
