package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// JobType identifies the stage executor a job runs.
type JobType string

const (
	JobDiscover       JobType = "discover"
	JobScrape         JobType = "scrape"
	JobVerify         JobType = "verify"
	JobDraft          JobType = "draft"
	JobSend           JobType = "send"
	JobFollowup       JobType = "follow-up"
	JobEnrich         JobType = "enrich"
	JobSocialDiscover JobType = "social_discover"
	JobSocialDraft    JobType = "social_draft"
	JobSocialSend     JobType = "social_send"
	JobSocialFollowup JobType = "social_followup"
)

// JobTypes lists every recognized job type.
var JobTypes = []JobType{
	JobDiscover, JobScrape, JobVerify, JobDraft, JobSend, JobFollowup, JobEnrich,
	JobSocialDiscover, JobSocialDraft, JobSocialSend, JobSocialFollowup,
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Finished reports whether the job reached a final state.
func (s JobStatus) Finished() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Active reports whether the job still occupies its (type, scope) slot.
func (s JobStatus) Active() bool {
	return s == JobPending || s == JobRunning
}

// Job is one invocation of a stage executor.
type Job struct {
	ID           string          `json:"id"`
	Type         JobType         `json:"job_type"`
	Status       JobStatus       `json:"status"`
	ScopeKey     string          `json:"scope_key"`
	Params       json.RawMessage `json:"params"`
	Result       *JobResult      `json:"result,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// DecodeParams unmarshals the job's params into v.
func (j *Job) DecodeParams(v any) error {
	if len(j.Params) == 0 {
		return nil
	}
	return eris.Wrapf(json.Unmarshal(j.Params, v), "model: decode params for job %s", j.ID)
}

// DiscoverParams are the params of discover and social_discover jobs.
type DiscoverParams struct {
	Categories []string `json:"categories"`
	Locations  []string `json:"locations"`
	Keywords   string   `json:"keywords,omitempty"`
	MaxResults int      `json:"max_results,omitempty"`
	Platforms  []string `json:"platforms,omitempty"`
}

// Validate checks discover params.
func (p DiscoverParams) Validate() error {
	if len(p.Categories) == 0 {
		return eris.New("categories: at least one is required")
	}
	if len(p.Locations) == 0 {
		return eris.New("locations: at least one is required")
	}
	if p.MaxResults < 0 {
		return eris.New("max_results: must not be negative")
	}
	return nil
}

// BatchParams are the params of every prospect-batch job.
type BatchParams struct {
	ProspectIDs  []string `json:"prospect_ids,omitempty"`
	MaxProspects int      `json:"max_prospects,omitempty"`
}

// Validate checks batch params.
func (p BatchParams) Validate() error {
	if p.MaxProspects < 0 {
		return eris.New("max_prospects: must not be negative")
	}
	for _, id := range p.ProspectIDs {
		if strings.TrimSpace(id) == "" {
			return eris.New("prospect_ids: empty id")
		}
	}
	return nil
}

// ScopeKey identifies the prospect set a batch job targets: "*" for
// gate-driven batches, otherwise a digest of the sorted explicit ids.
func (p BatchParams) ScopeKey() string {
	if len(p.ProspectIDs) == 0 {
		return "*"
	}
	ids := slices.Clone(p.ProspectIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	sum := sha256.Sum256([]byte(strings.Join(ids, ",")))
	return hex.EncodeToString(sum[:8])
}

// ValidateParams checks raw params against the schema of jobType.
func ValidateParams(jobType JobType, raw json.RawMessage) error {
	switch jobType {
	case JobDiscover, JobSocialDiscover:
		var p DiscoverParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return eris.Wrap(err, "params: decode discover")
		}
		return p.Validate()
	case JobScrape, JobVerify, JobDraft, JobSend, JobFollowup, JobEnrich,
		JobSocialDraft, JobSocialSend, JobSocialFollowup:
		var p BatchParams
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p); err != nil {
				return eris.Wrap(err, "params: decode batch")
			}
		}
		return p.Validate()
	}
	return eris.Errorf("params: unknown job type %q", jobType)
}

// Outcome labels what happened to one item of a job.
type Outcome string

const (
	OutcomeCreated      Outcome = "CREATED"
	OutcomeDuplicate    Outcome = "DUPLICATE"
	OutcomeScraped      Outcome = "SCRAPED"
	OutcomeEnriched     Outcome = "ENRICHED"
	OutcomeNoEmailFound Outcome = "NO_EMAIL_FOUND"
	OutcomeFailed       Outcome = "FAILED"
	OutcomeVerified     Outcome = "VERIFIED"
	OutcomeRisky        Outcome = "RISKY"
	OutcomeInvalid      Outcome = "INVALID"
	OutcomeDrafted      Outcome = "DRAFTED"
	OutcomeSent         Outcome = "SENT"
	OutcomeReleased     Outcome = "RELEASED"
	OutcomeSkippedRace  Outcome = "SKIPPED_RACE"
	OutcomeNotEligible  Outcome = "NOT_ELIGIBLE"
)

// ItemOutcome is the per-prospect record kept in a job result.
type ItemOutcome struct {
	ID      string  `json:"id"`
	Outcome Outcome `json:"outcome"`
	Detail  string  `json:"detail,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// ProviderSummary counts calls made against one external collaborator.
type ProviderSummary struct {
	Calls   int `json:"calls"`
	Retries int `json:"retries"`
	Errors  int `json:"errors"`
}

// JobResult is the structured result of a job.
type JobResult struct {
	Processed int                        `json:"processed"`
	Succeeded int                        `json:"succeeded"`
	Failed    int                        `json:"failed"`
	Skipped   int                        `json:"skipped"`
	Cancelled bool                       `json:"cancelled"`
	Items     []ItemOutcome              `json:"items"`
	Providers map[string]ProviderSummary `json:"providers,omitempty"`
	Queries   []string                   `json:"queries,omitempty"`
}

// Record appends an item outcome and updates the counters.
func (r *JobResult) Record(item ItemOutcome) {
	r.Items = append(r.Items, item)
	r.Processed++
	switch item.Outcome {
	case OutcomeFailed, OutcomeReleased:
		r.Failed++
	case OutcomeSkippedRace, OutcomeNotEligible, OutcomeDuplicate:
		r.Skipped++
	default:
		r.Succeeded++
	}
}

// Track adds one provider call to the summary.
func (r *JobResult) Track(provider string, retries int, failed bool) {
	if r.Providers == nil {
		r.Providers = make(map[string]ProviderSummary)
	}
	s := r.Providers[provider]
	s.Calls++
	s.Retries += retries
	if failed {
		s.Errors++
	}
	r.Providers[provider] = s
}

// ProcessedIDs returns the ids of every item the job touched, in order.
func (r *JobResult) ProcessedIDs() []string {
	ids := make([]string, 0, len(r.Items))
	for _, it := range r.Items {
		ids = append(ids, it.ID)
	}
	return ids
}
