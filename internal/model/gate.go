package model

import (
	"fmt"
	"time"
)

// Gate names a stage-eligibility predicate over prospects.
type Gate string

const (
	GateScrape   Gate = "scrape"
	GateVerify   Gate = "verify"
	GateDraft    Gate = "draft"
	GateSend     Gate = "send"
	GateFollowup Gate = "followup"
)

// Gates lists every website gate.
var Gates = []Gate{GateScrape, GateVerify, GateDraft, GateSend, GateFollowup}

// GateParams carries the time-dependent inputs of the follow-up gate.
type GateParams struct {
	Now          time.Time
	Cooloff      time.Duration
	MaxFollowups int
}

// FollowupCutoff returns the instant a send must predate to be followed up.
func (gp GateParams) FollowupCutoff() time.Time {
	return gp.Now.Add(-gp.Cooloff)
}

// Axis returns the status axis a gate's stage claims.
func (g Gate) Axis() Axis {
	switch g {
	case GateScrape:
		return AxisScrape
	case GateVerify:
		return AxisVerification
	case GateDraft:
		return AxisDraft
	case GateSend:
		return AxisSend
	}
	return ""
}

// ScrapeReady reports approval=APPROVED ∧ scrape ∈ {NOT_STARTED, FAILED}.
func (p *Prospect) ScrapeReady() bool {
	return p.ApprovalStatus == ApprovalApproved &&
		(p.ScrapeStatus == ScrapeNotStarted || p.ScrapeStatus == ScrapeFailed)
}

// VerifyReady reports contact_email set ∧ verification ∈ {UNVERIFIED, INVALID}.
func (p *Prospect) VerifyReady() bool {
	return p.ContactEmail != nil &&
		(p.VerificationStatus == VerificationUnverified || p.VerificationStatus == VerificationInvalid)
}

// DraftReady reports contact_email set ∧ verification ∈ {VERIFIED, RISKY} ∧
// draft ∈ {NONE, DRAFT_FAILED}.
func (p *Prospect) DraftReady() bool {
	return p.ContactEmail != nil &&
		(p.VerificationStatus == VerificationVerified || p.VerificationStatus == VerificationRisky) &&
		(p.DraftStatus == DraftNone || p.DraftStatus == DraftFailed)
}

// SendReady reports draft=DRAFTED ∧ send ∈ {NOT_SENT, SEND_FAILED} ∧
// verification=VERIFIED.
func (p *Prospect) SendReady() bool {
	return p.DraftStatus == DraftDrafted &&
		(p.SendStatus == SendNotSent || p.SendStatus == SendFailed) &&
		p.VerificationStatus == VerificationVerified
}

// FollowupReady reports send=SENT ∧ last_sent older than the cool-off and the
// thread still below its follow-up cap. Whether a later message of the thread
// already exists is enforced by the store's (thread_id, sequence_index) key.
func (p *Prospect) FollowupReady(gp GateParams) bool {
	return p.SendStatus == SendSent &&
		p.LastSent != nil &&
		p.LastSent.Before(gp.FollowupCutoff()) &&
		p.SequenceIndex < gp.MaxFollowups
}

// Ready evaluates gate g against the prospect.
func (p *Prospect) Ready(g Gate, gp GateParams) bool {
	switch g {
	case GateScrape:
		return p.ScrapeReady()
	case GateVerify:
		return p.VerifyReady()
	case GateDraft:
		return p.DraftReady()
	case GateSend:
		return p.SendReady()
	case GateFollowup:
		return p.FollowupReady(gp)
	}
	return false
}

// IdempotencyKey builds the mail transport idempotency key for one message
// of a thread.
func IdempotencyKey(prospectID string, sequenceIndex int) string {
	return fmt.Sprintf("%s:%d", prospectID, sequenceIndex)
}
