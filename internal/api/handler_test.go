package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/scenesengine/artifactd/internal/config"
	"github.com/scenesengine/artifactd/internal/engine"
	"github.com/scenesengine/artifactd/internal/jobs"
)

func setupTestHandler(t *testing.T) (*Handler, string) {
	t.Helper()
	mediaRoot := t.TempDir()
	stateDir := t.TempDir()

	video := filepath.Join(mediaRoot, "episode1.mp4")
	if err := os.WriteFile(video, []byte("fake video"), 0o644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	cfg := &config.Config{
		MediaRoot:         mediaRoot,
		MediaExts:         []string{"mp4"},
		FFmpeg:            "ffmpeg",
		FFprobe:           "ffprobe",
		FFmpegConcurrency: 2,
		JobMaxConcurrency: 2,
		RestoreWorkers:    1,
		StateDir:          stateDir,
	}

	eng, err := engine.New(cfg)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })

	return NewHandler(eng), mediaRoot
}

func TestSubmitJobEndpoint(t *testing.T) {
	h, mediaRoot := setupTestHandler(t)

	reqBody := jobs.JobRequest{Task: "metadata", Directory: mediaRoot, Recursive: true}
	body, _ := json.Marshal(reqBody)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.SubmitJob(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var job jobs.Job
	if err := json.Unmarshal(w.Body.Bytes(), &job); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if job.State != jobs.StateQueued {
		t.Fatalf("expected queued, got %s", job.State)
	}
}

func TestSubmitJobRejectsUnknownTask(t *testing.T) {
	h, _ := setupTestHandler(t)

	body, _ := json.Marshal(jobs.JobRequest{Task: "not-a-task"})
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.SubmitJob(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestListAndGetJobEndpoints(t *testing.T) {
	h, mediaRoot := setupTestHandler(t)

	body, _ := json.Marshal(jobs.JobRequest{Task: "metadata", Directory: mediaRoot})
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.SubmitJob(w, req)
	var created jobs.Job
	json.Unmarshal(w.Body.Bytes(), &created)

	listReq := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	listW := httptest.NewRecorder()
	h.ListJobs(listW, listReq)
	if listW.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", listW.Code)
	}
	var list []*jobs.Job
	if err := json.Unmarshal(listW.Body.Bytes(), &list); err != nil {
		t.Fatalf("failed to parse list response: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 job, got %d", len(list))
	}

	getReq := httptest.NewRequest(http.MethodGet, "/api/jobs/"+created.ID, nil)
	getReq.SetPathValue("id", created.ID)
	getW := httptest.NewRecorder()
	h.GetJob(getW, getReq)
	if getW.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", getW.Code)
	}
}

func TestGetJobMissingReturns404(t *testing.T) {
	h, _ := setupTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/does-not-exist", nil)
	req.SetPathValue("id", "does-not-exist")
	w := httptest.NewRecorder()
	h.GetJob(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestCancelJobEndpoint(t *testing.T) {
	h, mediaRoot := setupTestHandler(t)

	body, _ := json.Marshal(jobs.JobRequest{Task: "metadata", Directory: mediaRoot})
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.SubmitJob(w, req)
	var created jobs.Job
	json.Unmarshal(w.Body.Bytes(), &created)

	cancelReq := httptest.NewRequest(http.MethodDelete, "/api/jobs/"+created.ID, nil)
	cancelReq.SetPathValue("id", created.ID)
	cancelW := httptest.NewRecorder()
	h.CancelJob(cancelW, cancelReq)

	if cancelW.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", cancelW.Code, cancelW.Body.String())
	}
}

func TestConcurrencyAndPauseEndpoints(t *testing.T) {
	h, _ := setupTestHandler(t)

	body, _ := json.Marshal(concurrencyRequest{N: 8})
	req := httptest.NewRequest(http.MethodPost, "/api/concurrency/jobs", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.SetJobConcurrency(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	pauseBody, _ := json.Marshal(pauseRequest{Paused: true})
	pauseReq := httptest.NewRequest(http.MethodPost, "/api/pause", bytes.NewReader(pauseBody))
	pauseW := httptest.NewRecorder()
	h.SetPaused(pauseW, pauseReq)
	if pauseW.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", pauseW.Code)
	}
}

func TestArtifactEndpointReportsAbsence(t *testing.T) {
	h, mediaRoot := setupTestHandler(t)
	video := filepath.Join(mediaRoot, "episode1.mp4")

	req := httptest.NewRequest(http.MethodGet, "/api/artifact?video="+video+"&kind=metadata", nil)
	w := httptest.NewRecorder()
	h.Artifact(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result map[string]any
	json.Unmarshal(w.Body.Bytes(), &result)
	if exists, _ := result["exists"].(bool); exists {
		t.Fatal("expected metadata artifact to not exist yet")
	}
}

func TestJobStreamEndpointRespectsContextCancellation(t *testing.T) {
	h, _ := setupTestHandler(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/stream", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan bool)
	go func() {
		h.JobStream(w, req)
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SSE handler didn't respect context cancellation")
	}

	if w.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("expected text/event-stream content type, got %s", w.Header().Get("Content-Type"))
	}
}
