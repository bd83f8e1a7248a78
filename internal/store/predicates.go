package store

import (
	"github.com/sells-group/outreach-cli/internal/model"
)

// Predicate is a SQL boolean expression over one table. Gate predicates are
// shared verbatim by counts, lists and claims so the three cannot drift.
type Predicate struct {
	Table string
	Where string
	Args  []any
}

const (
	tableProspects      = "prospects"
	tableJobs           = "jobs"
	tableSocialProfiles = "social_profiles"
	tableSocialDrafts   = "social_drafts"
)

const (
	whereScrapeReady = `approval_status = 'APPROVED' AND scrape_status IN ('NOT_STARTED', 'FAILED')`
	whereVerifyReady = `contact_email IS NOT NULL AND verification_status IN ('UNVERIFIED', 'INVALID')`
	whereDraftReady  = `contact_email IS NOT NULL AND verification_status IN ('VERIFIED', 'RISKY') AND draft_status IN ('NONE', 'DRAFT_FAILED')`
	whereSendReady   = `draft_status = 'DRAFTED' AND send_status IN ('NOT_SENT', 'SEND_FAILED') AND verification_status = 'VERIFIED'`
	// The latest message of a thread only; earlier ones already have a successor.
	whereFollowupReady = `send_status = 'SENT' AND last_sent < ? AND sequence_index < ? AND thread_id IS NOT NULL
		AND NOT EXISTS (SELECT 1 FROM prospects n WHERE n.thread_id = prospects.thread_id AND n.sequence_index > prospects.sequence_index)`

	whereSocialDraftReady = `discovery_status = 'QUALIFIED' AND outreach_status = 'PENDING'
		AND NOT EXISTS (SELECT 1 FROM social_drafts d WHERE d.profile_id = social_profiles.id)`
	whereSocialSendReady     = `status IN ('drafted', 'failed')`
	whereSocialFollowupReady = `status = 'sent' AND sent_at < ? AND sequence_index < ?
		AND NOT EXISTS (SELECT 1 FROM social_drafts n WHERE n.thread_id = social_drafts.thread_id AND n.sequence_index > social_drafts.sequence_index)`
)

// GatePredicate returns the defining predicate of a website gate.
func GatePredicate(g model.Gate, gp model.GateParams) Predicate {
	p := Predicate{Table: tableProspects}
	switch g {
	case model.GateScrape:
		p.Where = whereScrapeReady
	case model.GateVerify:
		p.Where = whereVerifyReady
	case model.GateDraft:
		p.Where = whereDraftReady
	case model.GateSend:
		p.Where = whereSendReady
	case model.GateFollowup:
		p.Where = whereFollowupReady
		p.Args = []any{gp.FollowupCutoff().UTC(), gp.MaxFollowups}
	default:
		p.Where = "1 = 0"
	}
	return p
}

// SocialGatePredicate returns the defining predicate of a social gate.
func SocialGatePredicate(g model.SocialGate, gp model.GateParams) Predicate {
	switch g {
	case model.SocialGateDraft:
		return Predicate{Table: tableSocialProfiles, Where: whereSocialDraftReady}
	case model.SocialGateSend:
		return Predicate{Table: tableSocialDrafts, Where: whereSocialSendReady}
	case model.SocialGateFollowup:
		return Predicate{
			Table: tableSocialDrafts,
			Where: whereSocialFollowupReady,
			Args:  []any{gp.FollowupCutoff().UTC(), gp.MaxFollowups},
		}
	}
	return Predicate{Table: tableSocialDrafts, Where: "1 = 0"}
}

// Counting predicates of the pipeline status aggregator. Per-prospect
// figures count originals only; message figures include follow-up rows.
var (
	Discovered     = Predicate{Table: tableProspects, Where: `sequence_index = 0`}
	Scraped        = Predicate{Table: tableProspects, Where: `sequence_index = 0 AND scrape_status IN ('SCRAPED', 'ENRICHED', 'NO_EMAIL_FOUND')`}
	EmailFound     = Predicate{Table: tableProspects, Where: `sequence_index = 0 AND contact_email IS NOT NULL`}
	Leads          = Predicate{Table: tableProspects, Where: `sequence_index = 0 AND approval_status = 'APPROVED'`}
	EmailsVerified = Predicate{Table: tableProspects, Where: `sequence_index = 0 AND verification_status = 'VERIFIED'`}
	Drafted        = Predicate{Table: tableProspects, Where: `draft_status = 'DRAFTED'`}
	Sent           = Predicate{Table: tableProspects, Where: `send_status = 'SENT'`}

	SocialDiscovered = Predicate{Table: tableSocialProfiles, Where: `1 = 1`}
	SocialReviewed   = Predicate{Table: tableSocialProfiles, Where: `discovery_status <> 'DISCOVERED'`}
	SocialQualified  = Predicate{Table: tableSocialProfiles, Where: `discovery_status = 'QUALIFIED'`}
	SocialDrafted    = Predicate{Table: tableSocialProfiles, Where: `outreach_status IN ('DRAFTED', 'SENT')`}
	SocialSent       = Predicate{Table: tableSocialProfiles, Where: `outreach_status = 'SENT'`}

	JobsPending = Predicate{Table: tableJobs, Where: `status = 'pending'`}
	JobsRunning = Predicate{Table: tableJobs, Where: `status = 'running'`}
)

// and conjoins p with an extra clause.
func (p Predicate) and(where string, args ...any) Predicate {
	out := Predicate{Table: p.Table, Where: "(" + p.Where + ") AND " + where}
	out.Args = append(append([]any{}, p.Args...), args...)
	return out
}
