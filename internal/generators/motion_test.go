package generators

import "testing"

func TestL2NormalizedDiffIdenticalVectorsIsZero(t *testing.T) {
	a := []float64{0.1, 0.5, 0.9}
	if d := l2NormalizedDiff(a, a); d != 0 {
		t.Fatalf("expected 0 for identical vectors, got %v", d)
	}
}

func TestL2NormalizedDiffMaxSeparationIsOne(t *testing.T) {
	a := []float64{0, 0, 0}
	b := []float64{1, 1, 1}
	d := l2NormalizedDiff(a, b)
	if d < 0.99 || d > 1.01 {
		t.Fatalf("expected ~1 for maximally separated vectors, got %v", d)
	}
}

func TestL2NormalizedDiffMismatchedLengthIsZero(t *testing.T) {
	if d := l2NormalizedDiff([]float64{1, 2}, []float64{1, 2, 3}); d != 0 {
		t.Fatalf("expected 0 for mismatched lengths, got %v", d)
	}
}
