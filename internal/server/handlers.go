package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/auctionintel/research-engine/internal/model"
	"github.com/auctionintel/research-engine/internal/orchestrator"
	"github.com/auctionintel/research-engine/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createJobRequest struct {
	Organizations []string `json:"organizations"`
	CallerRef     string   `json:"caller_ref"`
	Concurrency   int      `json:"concurrency"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Organizations) == 0 {
		writeError(w, http.StatusBadRequest, "organizations is required")
		return
	}

	job, err := s.manager.StartJob(r.Context(), req.Organizations, req.CallerRef, req.Concurrency)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := store.JobFilter{
		Status: model.JobStatus(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	jobs, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// jobStatusResponse is the polling answer: the job, progress counters, the
// last event id for stream resumption, and a crude ETA.
type jobStatusResponse struct {
	Job         *model.Job           `json:"job"`
	Processed   int                  `json:"processed"`
	Total       int                  `json:"total"`
	Counts      map[string]int       `json:"counts"`
	LastEventID uint64               `json:"last_event_id"`
	ETASeconds  *int64               `json:"eta_seconds,omitempty"`
	Items       []model.ResearchItem `json:"items,omitempty"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	items, err := s.store.ListItems(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := jobStatusResponse{
		Job:    job,
		Total:  len(job.Organizations),
		Counts: map[string]int{},
	}
	for _, item := range items {
		if item.Status.Terminal() {
			resp.Processed++
		}
		resp.Counts[string(item.Status)]++
	}
	if log := s.manager.Log(jobID); log != nil {
		resp.LastEventID = log.LastID()
	}
	if eta := estimateETA(job, resp.Processed, resp.Total); eta != nil {
		resp.ETASeconds = eta
	}
	if r.URL.Query().Get("items") == "true" {
		resp.Items = items
	}

	writeJSON(w, http.StatusOK, resp)
}

// estimateETA extrapolates from average seconds per terminal item.
func estimateETA(job *model.Job, processed, total int) *int64 {
	if job.Status != model.JobRunning || job.StartedAt == nil || processed == 0 || processed >= total {
		return nil
	}
	elapsed := time.Since(*job.StartedAt)
	perItem := elapsed / time.Duration(processed)
	remaining := int64(perItem.Seconds() * float64(total-processed))
	return &remaining
}

type resultsSummary struct {
	Found    int            `json:"found"`
	NotFound int            `json:"not_found"`
	Failed   int            `json:"failed"`
	Tiers    map[string]int `json:"tiers"`
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if !job.Status.Terminal() {
		writeError(w, http.StatusConflict, "job is still "+string(job.Status))
		return
	}

	items, err := s.store.ListItems(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	summary := resultsSummary{Tiers: map[string]int{}}
	for _, item := range items {
		switch item.Status {
		case model.ItemSucceeded:
			summary.Found++
			if item.Best != nil {
				summary.Tiers[string(item.Best.Tier())]++
			}
		case model.ItemNotFound:
			summary.NotFound++
		case model.ItemFailed:
			summary.Failed++
		}
	}
	if items == nil {
		items = []model.ResearchItem{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"job":     job,
		"summary": summary,
		"items":   items,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.manager.Cancel, "canceling")
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.manager.Pause, "pausing")
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.manager.Resume(r.Context(), jobID); err != nil {
		status := http.StatusConflict
		if eris.Is(err, orchestrator.ErrJobNotFound) || strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "resuming"})
}

func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request, fn func(string) error, verb string) {
	jobID := chi.URLParam(r, "jobID")
	if err := fn(jobID); err != nil {
		if eris.Is(err, orchestrator.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": verb})
}
