package generators

import (
	"reflect"
	"testing"
)

func TestCosineSimilarityIdenticalVectorsIsOne(t *testing.T) {
	v := []float64{1, 2, 3}
	if s := cosineSimilarity(v, v); s < 0.999 || s > 1.001 {
		t.Fatalf("expected ~1 for identical vectors, got %v", s)
	}
}

func TestCosineSimilarityOrthogonalVectorsIsZero(t *testing.T) {
	if s := cosineSimilarity([]float64{1, 0}, []float64{0, 1}); s != 0 {
		t.Fatalf("expected 0 for orthogonal vectors, got %v", s)
	}
}

func TestCosineSimilarityMismatchedLengthIsZero(t *testing.T) {
	if s := cosineSimilarity([]float64{1, 2}, []float64{1}); s != 0 {
		t.Fatalf("expected 0 for mismatched lengths, got %v", s)
	}
}

func TestClusterFacesMergesNearDuplicates(t *testing.T) {
	detections := []Face{
		{Time: 0, Score: 0.4, Embedding: []float64{1, 0, 0}},
		{Time: 1, Score: 0.9, Embedding: []float64{0.999, 0.001, 0}},
		{Time: 2, Score: 0.5, Embedding: []float64{0, 1, 0}},
	}
	clustered := clusterFaces(detections)
	if len(clustered) != 2 {
		t.Fatalf("expected 2 clusters, got %d: %v", len(clustered), clustered)
	}
}

func TestClusterFacesTracksCountAndTimestampSpan(t *testing.T) {
	detections := []Face{
		{Time: 0, Embedding: []float64{1, 0, 0}},
		{Time: 1, Embedding: []float64{0.999, 0.001, 0}},
		{Time: 5, Embedding: []float64{0.998, 0.002, 0}},
	}
	clustered := clusterFaces(detections)
	if len(clustered) != 1 {
		t.Fatalf("expected 1 cluster, got %d", len(clustered))
	}
	c := clustered[0]
	if c.Count != 3 {
		t.Fatalf("expected count 3, got %d", c.Count)
	}
	if c.FirstTime != 0 || c.LastTime != 5 {
		t.Fatalf("expected first/last time 0/5, got %v/%v", c.FirstTime, c.LastTime)
	}
}

func TestClusterFacesEmptyInput(t *testing.T) {
	if clustered := clusterFaces(nil); len(clustered) != 0 {
		t.Fatalf("expected no clusters for empty input, got %v", clustered)
	}
}

func TestParseDetectionLineParsesBoxScoreAndEmbedding(t *testing.T) {
	box, score, emb, ok := parseDetectionLine("0.1 0.2 0.3 0.4 0.9 0.5 0.6")
	if !ok {
		t.Fatal("expected a valid detection line")
	}
	if !reflect.DeepEqual(box, []float64{0.1, 0.2, 0.3, 0.4}) {
		t.Fatalf("unexpected box: %v", box)
	}
	if score != 0.9 {
		t.Fatalf("unexpected score: %v", score)
	}
	if !reflect.DeepEqual(emb, []float64{0.5, 0.6}) {
		t.Fatalf("unexpected embedding: %v", emb)
	}
}

func TestParseDetectionLineRejectsShortLines(t *testing.T) {
	if _, _, _, ok := parseDetectionLine("0.1 0.2 0.3"); ok {
		t.Fatal("expected short line to be rejected")
	}
}

func TestParseDetectionLineRejectsGarbageTokens(t *testing.T) {
	if _, _, _, ok := parseDetectionLine("0.1 0.2 0.3 0.4 notanumber 0.6"); ok {
		t.Fatal("expected garbage token to be rejected")
	}
}

func TestGeometricVarianceRejectsFlatFrame(t *testing.T) {
	flat := make([]float64, 64)
	for i := range flat {
		flat[i] = 0.5
	}
	if _, ok := geometricVariance(flat); ok {
		t.Fatal("expected uniform frame to fail the geometric filter")
	}
}

func TestGeometricVarianceAcceptsVariedFrame(t *testing.T) {
	varied := make([]float64, 64)
	for i := range varied {
		if i%2 == 0 {
			varied[i] = 0.1
		} else {
			varied[i] = 0.9
		}
	}
	if _, ok := geometricVariance(varied); !ok {
		t.Fatal("expected high-variance frame to pass the geometric filter")
	}
}
