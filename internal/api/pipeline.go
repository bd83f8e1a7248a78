package api

import (
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

var websiteStages = map[string]model.JobType{
	"scrape":    model.JobScrape,
	"enrich":    model.JobEnrich,
	"verify":    model.JobVerify,
	"draft":     model.JobDraft,
	"send":      model.JobSend,
	"followup":  model.JobFollowup,
	"follow-up": model.JobFollowup,
}

var socialStages = map[string]model.JobType{
	"draft":     model.JobSocialDraft,
	"send":      model.JobSocialSend,
	"followup":  model.JobSocialFollowup,
	"follow-up": model.JobSocialFollowup,
}

type jobAccepted struct {
	JobID  string          `json:"job_id"`
	Type   model.JobType   `json:"job_type"`
	Status model.JobStatus `json:"status"`
}

func accepted(w http.ResponseWriter, job *model.Job) {
	writeJSON(w, http.StatusAccepted, jobAccepted{JobID: job.ID, Type: job.Type, Status: job.Status})
}

func (s *Server) discover(w http.ResponseWriter, r *http.Request) {
	var p model.DiscoverParams
	if err := decode(r, &p); err != nil {
		writeError(w, r, err)
		return
	}
	job, err := s.dispatcher.Discover(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	accepted(w, job)
}

func (s *Server) socialDiscover(w http.ResponseWriter, r *http.Request) {
	var p model.DiscoverParams
	if err := decode(r, &p); err != nil {
		writeError(w, r, err)
		return
	}
	job, err := s.dispatcher.SocialDiscover(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	accepted(w, job)
}

func (s *Server) runStage(stages map[string]model.JobType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jt, ok := stages[chi.URLParam(r, "stage")]
		if !ok {
			writeJSON(w, http.StatusNotFound, errorBody{Kind: KindNotFound, Message: "unknown stage " + chi.URLParam(r, "stage")})
			return
		}
		var req dispatch.BatchRequest
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		job, err := s.dispatcher.Stage(r.Context(), jt, req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		accepted(w, job)
	}
}

type reviewRequest struct {
	ProspectIDs []string `json:"prospect_ids"`
	ProfileIDs  []string `json:"profile_ids"`
	Action      string   `json:"action"`
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.dispatcher.Approve(r.Context(), req.ProspectIDs, req.Action)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) approveAll(w http.ResponseWriter, r *http.Request) {
	res, err := s.dispatcher.ApproveAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) review(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.dispatcher.Review(r.Context(), req.ProfileIDs, req.Action)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) pipelineStatus(w http.ResponseWriter, r *http.Request) {
	p, err := s.status.Status(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// listProspects lists prospects, optionally those satisfying ?gate=. A gate
// list that contradicts its count fails with DATA_INTEGRITY.
func (s *Server) listProspects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ProspectFilter{
		Approval: model.ApprovalStatus(q.Get("approval")),
		IDs:      q["id"],
	}
	var err error
	if f.Limit, err = intParam(q.Get("limit"), 100); err != nil {
		writeError(w, r, err)
		return
	}
	if f.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		writeError(w, r, err)
		return
	}
	if g := model.Gate(q.Get("gate")); g != "" {
		if !slices.Contains(model.Gates, g) {
			writeError(w, r, eris.Wrapf(dispatch.ErrInvalid, "gate %q is unknown", g))
			return
		}
		st, err := s.settings.Get(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		f.Gate = g
		f.GateParams = st.GateParams(time.Now().UTC())
	}
	list, err := s.store.ListProspects(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []model.Prospect{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"prospects": list, "count": len(list)})
}

func (s *Server) getProspect(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetProspect(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) replaceContactEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContactEmail string `json:"contact_email"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.dispatcher.ReplaceContactEmail(r.Context(), chi.URLParam(r, "id"), req.ContactEmail)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) listSocialProfiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), 100)
	if err != nil {
		writeError(w, r, err)
		return
	}
	f := store.SocialFilter{IDs: q["id"], Limit: limit}
	if g := q.Get("gate"); g != "" {
		if model.SocialGate(g) != model.SocialGateDraft {
			writeError(w, r, eris.Wrapf(dispatch.ErrInvalid, "profile gate %q is unknown", g))
			return
		}
		f.Gate = model.SocialGateDraft
	}
	list, err := s.store.ListSocialProfiles(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []model.SocialProfile{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"profiles": list, "count": len(list)})
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, eris.Wrapf(dispatch.ErrInvalid, "%q is not a non-negative integer", raw)
	}
	return n, nil
}
