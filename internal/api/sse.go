package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// JobStream handles GET /api/jobs/stream, implementing
// subscribe_events() -> stream (spec §6.2/§6.3) as an SSE feed of the
// raw event bus payloads; there is no initial snapshot frame because
// list_jobs already serves that purpose over the regular JSON endpoint.
func (h *Handler) JobStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := h.eng.SubscribeEvents()
	defer h.eng.UnsubscribeEvents(sub)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
