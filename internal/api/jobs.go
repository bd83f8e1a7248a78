package api

import (
	"maps"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), 50)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jobs, err := s.store.ListJobs(r.Context(), store.JobFilter{
		Type:   model.JobType(q.Get("type")),
		Status: model.JobStatus(q.Get("status")),
		Limit:  limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetJob(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	ok, err := s.dispatcher.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "cancelled": ok})
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	doc, err := s.settings.Get(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// putSettings replaces the settings document. Keys absent from the body
// keep their current value.
func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	doc, err := s.settings.Get(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	doc.RateLimitPerMinute = maps.Clone(doc.RateLimitPerMinute)
	if err := decode(r, &doc); err != nil {
		writeError(w, r, err)
		return
	}
	if err := doc.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Kind: KindInvalid, Message: err.Error()})
		return
	}
	if err := s.settings.Save(r.Context(), doc); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
