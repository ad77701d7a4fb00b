package api

import "net/http"

// NewRouter builds the thin external HTTP surface over h. There is no
// static UI or asset serving here (out of scope per the supplemented
// spec's explicit non-goals) — every route is a direct Engine operation.
func NewRouter(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/jobs", h.SubmitJob)
	mux.HandleFunc("GET /api/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/jobs/stream", h.JobStream)
	mux.HandleFunc("POST /api/jobs/cancel-all", h.CancelAll)
	mux.HandleFunc("POST /api/jobs/cancel-queued", h.CancelQueued)
	mux.HandleFunc("GET /api/jobs/{id}", h.GetJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", h.CancelJob)

	mux.HandleFunc("POST /api/concurrency/ffmpeg", h.SetFFmpegConcurrency)
	mux.HandleFunc("POST /api/concurrency/jobs", h.SetJobConcurrency)
	mux.HandleFunc("POST /api/pause", h.SetPaused)

	mux.HandleFunc("GET /api/artifact", h.Artifact)

	return mux
}
