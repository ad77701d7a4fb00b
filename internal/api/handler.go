// Package api implements the thin external wire-protocol surface
// spec §6.2 describes: every handler is a direct translation of one
// Engine operation into JSON over HTTP, with no business logic of its
// own. Handler shape (response helpers, one method per route) is
// grounded on the teacher's internal/api/handler.go.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/scenesengine/artifactd/internal/engine"
	"github.com/scenesengine/artifactd/internal/jobs"
	"github.com/scenesengine/artifactd/internal/layout"
)

// Handler provides HTTP handlers over a single Engine.
type Handler struct {
	eng *engine.Engine
}

// NewHandler constructs a Handler bound to eng.
func NewHandler(eng *engine.Engine) *Handler {
	return &Handler{eng: eng}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// SubmitJob handles POST /api/jobs, implementing submit_job(JobRequest) -> id.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req jobs.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.eng.SubmitJob(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// ListJobs handles GET /api/jobs, implementing
// list_jobs(filter) (by state, since timestamp).
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	state := jobs.State(r.URL.Query().Get("state"))
	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		since, _ = strconv.ParseInt(v, 10, 64)
	}
	writeJSON(w, http.StatusOK, h.eng.ListJobs(state, since))
}

// GetJob handles GET /api/jobs/{id}, implementing get_job(id) -> snapshot | nil.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, ok := h.eng.GetJob(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelJob handles DELETE /api/jobs/{id}, implementing cancel_job(id).
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.eng.CancelJob(id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

// CancelAll handles POST /api/jobs/cancel-all, implementing cancel_all().
func (h *Handler) CancelAll(w http.ResponseWriter, r *http.Request) {
	n := h.eng.CancelAll()
	writeJSON(w, http.StatusOK, map[string]int{"canceled": n})
}

// CancelQueued handles POST /api/jobs/cancel-queued, implementing cancel_queued().
func (h *Handler) CancelQueued(w http.ResponseWriter, r *http.Request) {
	n := h.eng.CancelQueued()
	writeJSON(w, http.StatusOK, map[string]int{"canceled": n})
}

// concurrencyRequest is the shared body shape for the two concurrency knobs.
type concurrencyRequest struct {
	N int `json:"n"`
}

// SetFFmpegConcurrency handles POST /api/concurrency/ffmpeg,
// implementing set_ffmpeg_concurrency(n).
func (h *Handler) SetFFmpegConcurrency(w http.ResponseWriter, r *http.Request) {
	var req concurrencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.eng.SetFFmpegConcurrency(req.N)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// SetJobConcurrency handles POST /api/concurrency/jobs,
// implementing set_job_concurrency(n).
func (h *Handler) SetJobConcurrency(w http.ResponseWriter, r *http.Request) {
	var req concurrencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.eng.SetJobConcurrency(req.N)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// pauseRequest is the body shape for the global pause toggle.
type pauseRequest struct {
	Paused bool `json:"paused"`
}

// SetPaused handles POST /api/pause, implementing set_paused(bool).
func (h *Handler) SetPaused(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.eng.SetPaused(req.Paused)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// Artifact handles GET /api/artifact?video=...&kind=..., implementing
// artifact_path(video, kind) and artifact_exists(video, kind) together
// (spec §6.2 lists them as the engine's single pair of authoritative
// presence checks; exposing both avoids two round trips per artifact).
func (h *Handler) Artifact(w http.ResponseWriter, r *http.Request) {
	video := r.URL.Query().Get("video")
	kind := layout.Kind(r.URL.Query().Get("kind"))
	if video == "" || kind == "" {
		writeError(w, http.StatusBadRequest, "video and kind are required")
		return
	}

	path, err := h.eng.ArtifactPath(video, kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":   path,
		"exists": h.eng.ArtifactExists(video, kind),
	})
}
