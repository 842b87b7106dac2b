package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/auctionintel/research-engine/internal/model"
)

// handleEvents serves the SSE progress stream. A reconnecting client sends
// Last-Event-ID (or ?after=N) and receives exactly the events it missed
// before following live.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	afterID := parseAfterID(r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	log := s.manager.Log(jobID)
	if log == nil {
		job, err := s.store.GetJob(r.Context(), jobID)
		if err != nil {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		if !job.Status.Terminal() {
			writeError(w, http.StatusConflict, "no live stream for this job; resume it first")
			return
		}
		// The process restarted since the job finished. Synthesize the
		// terminal event from the store so late subscribers still get
		// closure.
		sseHeaders(w)
		writeSSE(w, terminalEventFor(job))
		flusher.Flush()
		return
	}

	sseHeaders(w)
	flusher.Flush()

	ch, cancel := log.Subscribe(afterID)
	defer cancel()

	heartbeat := s.streamCfg.Heartbeat()
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			// Heartbeats carry no id and are never replayed.
			fmt.Fprintf(w, "event: %s\ndata: {}\n\n", model.EventHeartbeat)
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				zap.L().Debug("SSE client gone", zap.String("job_id", jobID), zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func parseAfterID(r *http.Request) uint64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("after")
	}
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
}

func writeSSE(w http.ResponseWriter, ev model.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	// An id of 0 means the event was synthesized outside the log (terminal
	// answers after a restart). Emitting "id: 0" would clobber the client's
	// stored Last-Event-ID, so leave the line out.
	if ev.ID == 0 {
		_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Kind, data)
	return err
}

func terminalEventFor(job *model.Job) model.ProgressEvent {
	kind := model.EventJobCompleted
	switch job.Status {
	case model.JobFailed:
		kind = model.EventJobFailed
	case model.JobCanceled:
		kind = model.EventJobCanceled
	}
	return model.ProgressEvent{
		JobID: job.ID,
		Kind:  kind,
		At:    time.Now().UTC(),
		Error: job.Error,
		Total: len(job.Organizations),
	}
}
