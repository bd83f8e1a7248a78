package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrActiveJob is returned when a pending or running job already holds
	// the same (job_type, scope_key).
	ErrActiveJob = eris.New("store: active job exists for scope")
	// ErrDuplicate is returned when an insert hits a natural key.
	ErrDuplicate = eris.New("store: duplicate")
)

// DataIntegrityError reports a contradiction between two reads that must
// agree, such as a positive gate count with an empty gate list.
type DataIntegrityError struct {
	Gate    string
	Count   int
	Rows    int
	Message string
}

func (e *DataIntegrityError) Error() string {
	if e.Message != "" {
		return "data integrity: " + e.Message
	}
	return fmt.Sprintf("data integrity: gate %s counted %d rows but listed %d", e.Gate, e.Count, e.Rows)
}

// ProspectFilter selects prospects for a list.
type ProspectFilter struct {
	Gate        model.Gate
	GateParams  model.GateParams
	IDs         []string
	Approval    model.ApprovalStatus
	OriginsOnly bool
	Limit       int
	Offset      int
}

// JobFilter selects jobs for a list.
type JobFilter struct {
	Type   model.JobType
	Status model.JobStatus
	Limit  int
}

// Artifact is a row written in the same transaction as a prospect update.
type Artifact interface {
	write(ctx context.Context, q querier) error
}

// ProspectStore persists website prospects.
type ProspectStore interface {
	// InsertProspect stores p unless another original already owns its
	// domain, in which case it returns false.
	InsertProspect(ctx context.Context, p *model.Prospect) (bool, error)
	GetProspect(ctx context.Context, id string) (*model.Prospect, error)
	// UpdateProspect loads the row, applies fn and writes it back guarded by
	// the row version. fn must enforce transition legality; artifacts are
	// written in the same transaction.
	UpdateProspect(ctx context.Context, id string, fn func(p *model.Prospect) error, artifacts ...Artifact) (*model.Prospect, error)
	// ListProspects returns prospects in (created_at, id) order. A gate list
	// is cross-checked against the gate count in the same transaction.
	ListProspects(ctx context.Context, f ProspectFilter) ([]model.Prospect, error)
	CountGate(ctx context.Context, g model.Gate, gp model.GateParams) (int, error)
	DeleteProspects(ctx context.Context, ids []string) (int, error)
	ListClaimed(ctx context.Context, jobID string) ([]model.Prospect, error)
	// ExistingDomains returns which of domains already belong to an original
	// prospect, and which of those already have a sent thread.
	ExistingDomains(ctx context.Context, domains []string) (existing, sent map[string]bool, err error)
	InsertFollowUp(ctx context.Context, child *model.Prospect) error
	ListSendLog(ctx context.Context, prospectID string) ([]model.SendLogEntry, error)
	RecordReply(ctx context.Context, r model.Reply) error
}

// DiscoveryStore persists discovery query rows.
type DiscoveryStore interface {
	SaveDiscoveryQuery(ctx context.Context, q *model.DiscoveryQuery) error
	ListDiscoveryQueries(ctx context.Context, jobID string) ([]model.DiscoveryQuery, error)
}

// JobStore persists jobs.
type JobStore interface {
	// CreateJob inserts a pending job. It returns ErrActiveJob when a
	// pending or running job holds the same type and scope.
	CreateJob(ctx context.Context, j *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, f JobFilter) ([]model.Job, error)
	// StartJob moves a pending job to running. It returns false when the
	// job is no longer pending.
	StartJob(ctx context.Context, id string, now time.Time) (bool, error)
	// FinishJob moves a pending or running job to status. When the job was
	// cancelled meanwhile only the result is recorded.
	FinishJob(ctx context.Context, id string, status model.JobStatus, result *model.JobResult, errMsg string, now time.Time) (model.JobStatus, error)
	// CancelJob moves a pending or running job to cancelled. It returns
	// false when the job had already finished.
	CancelJob(ctx context.Context, id string, now time.Time) (bool, error)
	HasActiveJob(ctx context.Context, jobType model.JobType, scopeKey string) (bool, error)
}

// SettingsStore persists the settings document.
type SettingsStore interface {
	// LoadSettings returns the stored document merged over the defaults.
	LoadSettings(ctx context.Context) (model.Settings, error)
	SaveSettings(ctx context.Context, s model.Settings) error
}

// SocialStore persists the social product line.
type SocialStore interface {
	InsertSocialProfile(ctx context.Context, p *model.SocialProfile) (bool, error)
	GetSocialProfile(ctx context.Context, id string) (*model.SocialProfile, error)
	ListSocialProfiles(ctx context.Context, f SocialFilter) ([]model.SocialProfile, error)
	UpdateSocialProfile(ctx context.Context, id string, fn func(p *model.SocialProfile) error) (*model.SocialProfile, error)
	DeleteSocialProfiles(ctx context.Context, ids []string) (int, error)
	CountSocialGate(ctx context.Context, g model.SocialGate, gp model.GateParams) (int, error)

	InsertSocialDraft(ctx context.Context, d *model.SocialDraft) error
	GetSocialDraft(ctx context.Context, id string) (*model.SocialDraft, error)
	ListSocialDrafts(ctx context.Context, f SocialFilter) ([]model.SocialDraft, error)
	ClaimSocialDraft(ctx context.Context, id, jobID string) (bool, error)
	SettleSocialDraft(ctx context.Context, d *model.SocialDraft, msg model.SocialMessage) error
	ReleaseSocialClaims(ctx context.Context, jobID string) (int, error)

	SaveSocialDiscoveryJob(ctx context.Context, j *model.SocialDiscoveryJob) error
}

// Snapshotter runs a group of counts against one consistent read.
type Snapshotter interface {
	Snapshot(ctx context.Context, fn func(c Counter) error) error
}

// Counter counts rows matching a predicate.
type Counter interface {
	Count(ctx context.Context, p Predicate) (int, error)
}

// Store is the full persistence surface of the pipeline engine.
type Store interface {
	ProspectStore
	DiscoveryStore
	JobStore
	SettingsStore
	SocialStore
	Snapshotter

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
