package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Prospect is one candidate website and its full pipeline state.
type Prospect struct {
	ID        string `json:"id"`
	Domain    string `json:"domain"`
	PageURL   string `json:"page_url"`
	PageTitle string `json:"page_title"`

	DiscoveryCategory string  `json:"discovery_category,omitempty"`
	DiscoveryLocation string  `json:"discovery_location,omitempty"`
	DiscoveryKeywords string  `json:"discovery_keywords,omitempty"`
	DiscoveryQueryID  *string `json:"discovery_query_id,omitempty"`

	ContactEmail *string `json:"contact_email,omitempty"`

	DraftSubject *string `json:"draft_subject,omitempty"`
	DraftBody    *string `json:"draft_body,omitempty"`
	FinalBody    *string `json:"final_body,omitempty"`

	ThreadID      *string `json:"thread_id,omitempty"`
	SequenceIndex int     `json:"sequence_index"`
	ParentID      *string `json:"parent_id,omitempty"`
	MessageID     *string `json:"message_id,omitempty"`

	DiscoveryStatus    DiscoveryStatus    `json:"discovery_status"`
	ApprovalStatus     ApprovalStatus     `json:"approval_status"`
	ScrapeStatus       ScrapeStatus       `json:"scrape_status"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	DraftStatus        DraftStatus        `json:"draft_status"`
	SendStatus         SendStatus         `json:"send_status"`

	VerificationScore   *float64        `json:"verification_score,omitempty"`
	VerificationPayload json.RawMessage `json:"verification_payload,omitempty"`
	FinderPayload       json.RawMessage `json:"finder_payload,omitempty"`
	LastError           *string         `json:"last_error,omitempty"`

	// ClaimJobID, ClaimAxis and ClaimPrevStatus record which job holds an
	// "-ING" axis and the value it must be restored to on release.
	ClaimJobID      *string `json:"claim_job_id,omitempty"`
	ClaimAxis       *Axis   `json:"claim_axis,omitempty"`
	ClaimPrevStatus *string `json:"claim_prev_status,omitempty"`

	FollowupsSent int        `json:"followups_sent"`
	LastSent      *time.Time `json:"last_sent,omitempty"`
	Version       int64      `json:"version"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	// Replied is loaded from the replies table; it is never written back.
	Replied bool `json:"-"`
}

// NewProspect returns a freshly discovered prospect with every axis at its
// initial value.
func NewProspect(domain, pageURL, title string, now time.Time) *Prospect {
	return &Prospect{
		ID:                 uuid.New().String(),
		Domain:             domain,
		PageURL:            pageURL,
		PageTitle:          title,
		DiscoveryStatus:    DiscoveryDiscovered,
		ApprovalStatus:     ApprovalPending,
		ScrapeStatus:       ScrapeNotStarted,
		VerificationStatus: VerificationUnverified,
		DraftStatus:        DraftNone,
		SendStatus:         SendNotSent,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Status returns the current value of axis.
func (p *Prospect) Status(axis Axis) string {
	switch axis {
	case AxisDiscovery:
		return string(p.DiscoveryStatus)
	case AxisApproval:
		return string(p.ApprovalStatus)
	case AxisScrape:
		return string(p.ScrapeStatus)
	case AxisVerification:
		return string(p.VerificationStatus)
	case AxisDraft:
		return string(p.DraftStatus)
	case AxisSend:
		return string(p.SendStatus)
	}
	return ""
}

func (p *Prospect) set(axis Axis, value string) {
	switch axis {
	case AxisDiscovery:
		p.DiscoveryStatus = DiscoveryStatus(value)
	case AxisApproval:
		p.ApprovalStatus = ApprovalStatus(value)
	case AxisScrape:
		p.ScrapeStatus = ScrapeStatus(value)
	case AxisVerification:
		p.VerificationStatus = VerificationStatus(value)
	case AxisDraft:
		p.DraftStatus = DraftStatus(value)
	case AxisSend:
		p.SendStatus = SendStatus(value)
	}
}

// Transition moves axis to value along a forward edge.
func (p *Prospect) Transition(axis Axis, value string) error {
	from := p.Status(axis)
	if !CanTransition(axis, from, value) {
		return eris.Wrapf(ErrIllegalTransition, "%s: %s -> %s", axis, from, value)
	}
	p.set(axis, value)
	return nil
}

// Approve moves approval PENDING -> APPROVED.
func (p *Prospect) Approve() error {
	return p.Transition(AxisApproval, string(ApprovalApproved))
}

// Reject moves approval PENDING -> REJECTED.
func (p *Prospect) Reject() error {
	return p.Transition(AxisApproval, string(ApprovalRejected))
}

// Claim moves axis into its "-ING" value on behalf of jobID, remembering
// the value to restore on release. The stage gate must already hold.
func (p *Prospect) Claim(axis Axis, jobID string) error {
	if p.ClaimJobID != nil {
		return eris.Wrapf(ErrIllegalTransition, "%s: already claimed by job %s", axis, *p.ClaimJobID)
	}
	ing := InProgress(axis)
	if ing == "" {
		return eris.Errorf("model: axis %s has no in-progress state", axis)
	}
	prev := p.Status(axis)
	if err := p.Transition(axis, ing); err != nil {
		return err
	}
	a := axis
	p.ClaimJobID = &jobID
	p.ClaimAxis = &a
	p.ClaimPrevStatus = &prev
	return nil
}

// Settle moves the claimed axis from "-ING" to a terminal value and drops
// the claim.
func (p *Prospect) Settle(axis Axis, value string) error {
	if p.ClaimAxis == nil || *p.ClaimAxis != axis {
		return eris.Wrapf(ErrIllegalTransition, "%s: not claimed", axis)
	}
	if err := p.Transition(axis, value); err != nil {
		return err
	}
	p.clearClaim()
	return nil
}

// Release rolls the claimed axis back to its pre-claim value. It is the only
// way an axis leaves "-ING" without reaching a terminal state.
func (p *Prospect) Release() error {
	if p.ClaimAxis == nil || p.ClaimPrevStatus == nil {
		return nil
	}
	axis, prev := *p.ClaimAxis, *p.ClaimPrevStatus
	if !IsInProgress(axis, p.Status(axis)) {
		p.clearClaim()
		return nil
	}
	if !CanRelease(axis, prev) {
		return eris.Wrapf(ErrIllegalTransition, "%s: cannot restore %s", axis, prev)
	}
	p.set(axis, prev)
	p.clearClaim()
	return nil
}

// Interrupt settles a claim abandoned by a dead process. Sends are marked
// failed because the transport may already have accepted the message;
// every other axis is restored to its pre-claim value.
func (p *Prospect) Interrupt(reason string) error {
	if p.ClaimAxis == nil {
		return nil
	}
	if *p.ClaimAxis == AxisSend && p.SendStatus == SendSending {
		p.LastError = &reason
		return p.Settle(AxisSend, string(SendFailed))
	}
	return p.Release()
}

func (p *Prospect) clearClaim() {
	p.ClaimJobID = nil
	p.ClaimAxis = nil
	p.ClaimPrevStatus = nil
}

// ReplaceContactEmail sets a new contact address. A changed address reopens
// an invalid verdict and invalidates any draft written for the old one;
// verified and risky verdicts stay. The
// address of a sent or sending prospect is frozen.
func (p *Prospect) ReplaceContactEmail(email string) error {
	if p.ContactEmail != nil && *p.ContactEmail == email {
		return nil
	}
	if p.SendStatus == SendSent || p.SendStatus == SendSending {
		return eris.Wrapf(ErrIllegalTransition, "contact_email: frozen while send is %s", p.SendStatus)
	}
	if p.ThreadID != nil {
		return eris.Wrap(ErrIllegalTransition, "contact_email: frozen for an open thread")
	}
	if p.VerificationStatus == VerificationVerifying || p.DraftStatus == DraftDrafting {
		return eris.Wrap(ErrIllegalTransition, "contact_email: a stage holds this prospect")
	}
	if p.ContactEmail != nil {
		if v := string(p.VerificationStatus); CanTransitionOnContactReplaced(AxisVerification, v, string(VerificationUnverified)) {
			p.VerificationStatus = VerificationUnverified
			p.VerificationScore = nil
			p.VerificationPayload = nil
		}
		p.resetDraft()
	}
	p.ContactEmail = &email
	return nil
}

// resetDraft clears a draft written against data that no longer holds.
func (p *Prospect) resetDraft() {
	if CanTransitionOnContactReplaced(AxisDraft, string(p.DraftStatus), string(DraftNone)) {
		p.DraftStatus = DraftNone
		p.DraftSubject = nil
		p.DraftBody = nil
	}
}

// RecordVerdict settles a verification claim. An INVALID verdict clears any
// prior draft.
func (p *Prospect) RecordVerdict(status VerificationStatus, score float64, payload json.RawMessage) error {
	if err := p.Settle(AxisVerification, string(status)); err != nil {
		return err
	}
	p.VerificationScore = &score
	p.VerificationPayload = payload
	if status == VerificationInvalid {
		p.resetDraft()
	}
	return nil
}

// RecordDraft settles a draft claim with LLM output.
func (p *Prospect) RecordDraft(subject, body string) error {
	if err := p.Settle(AxisDraft, string(DraftDrafted)); err != nil {
		return err
	}
	p.DraftSubject = &subject
	p.DraftBody = &body
	p.LastError = nil
	return nil
}

// RecordSent settles a send claim. The body actually sent is frozen into
// final_body and the first send of a chain opens a new thread.
func (p *Prospect) RecordSent(messageID string, now time.Time) error {
	if p.DraftBody == nil {
		return eris.Wrap(ErrIllegalTransition, "send: no draft body")
	}
	if err := p.Settle(AxisSend, string(SendSent)); err != nil {
		return err
	}
	body := *p.DraftBody
	p.FinalBody = &body
	p.LastSent = &now
	p.MessageID = &messageID
	p.LastError = nil
	if p.ThreadID == nil {
		thread := uuid.New().String()
		p.ThreadID = &thread
		p.SequenceIndex = 0
	}
	return nil
}

// Fail settles the claimed axis into its failure state and records reason.
func (p *Prospect) Fail(axis Axis, reason string) error {
	var value string
	switch axis {
	case AxisScrape:
		value = string(ScrapeFailed)
	case AxisDraft:
		value = string(DraftFailed)
	case AxisSend:
		value = string(SendFailed)
	default:
		return eris.Errorf("model: axis %s has no failure state", axis)
	}
	if err := p.Settle(axis, value); err != nil {
		return err
	}
	p.LastError = &reason
	return nil
}

// IdempotencyKey identifies one outbound message of a thread for the mail
// transport.
func (p *Prospect) IdempotencyKey() string {
	return IdempotencyKey(p.ID, p.SequenceIndex)
}

// IsFollowUp reports whether the prospect is a follow-up row of a thread.
func (p *Prospect) IsFollowUp() bool {
	return p.SequenceIndex > 0
}

// OutreachStatus derives the UI summary. It is never persisted.
func (p *Prospect) OutreachStatus() OutreachStatus {
	switch {
	case p.Replied:
		return OutreachReplied
	case p.SendStatus == SendSent:
		return OutreachSent
	case p.DraftStatus == DraftDrafted:
		return OutreachDrafted
	default:
		return OutreachPending
	}
}

// Validate checks the per-row invariants that every write must preserve.
func (p *Prospect) Validate() error {
	for _, axis := range Axes {
		if !ValidStatus(axis, p.Status(axis)) {
			return eris.Errorf("model: prospect %s: %s has undeclared value %q", p.ID, axis, p.Status(axis))
		}
	}
	if p.SendStatus == SendSent && (p.FinalBody == nil || p.LastSent == nil) {
		return eris.Errorf("model: prospect %s: sent without final_body or last_sent", p.ID)
	}
	if p.DraftStatus == DraftDrafted && (p.DraftBody == nil || p.DraftSubject == nil) {
		return eris.Errorf("model: prospect %s: drafted without subject or body", p.ID)
	}
	if p.SequenceIndex > 0 && p.ThreadID == nil {
		return eris.Errorf("model: prospect %s: follow-up without thread", p.ID)
	}
	if p.ClaimAxis != nil && !IsInProgress(*p.ClaimAxis, p.Status(*p.ClaimAxis)) {
		return eris.Errorf("model: prospect %s: claim on %s without in-progress value", p.ID, *p.ClaimAxis)
	}
	for _, axis := range Axes {
		if IsInProgress(axis, p.Status(axis)) && (p.ClaimAxis == nil || *p.ClaimAxis != axis) {
			return eris.Errorf("model: prospect %s: %s in progress without claim", p.ID, axis)
		}
	}
	return nil
}

// NewFollowUp creates the next message of parent's thread as a drafted row
// ready to send.
func NewFollowUp(parent *Prospect, subject, body string, now time.Time) (*Prospect, error) {
	if parent.SendStatus != SendSent || parent.ThreadID == nil {
		return nil, eris.Wrapf(ErrIllegalTransition, "followup: parent %s not sent", parent.ID)
	}
	thread := *parent.ThreadID
	parentID := parent.ID
	email := *parent.ContactEmail
	return &Prospect{
		ID:                 uuid.New().String(),
		Domain:             parent.Domain,
		PageURL:            parent.PageURL,
		PageTitle:          parent.PageTitle,
		DiscoveryCategory:  parent.DiscoveryCategory,
		DiscoveryLocation:  parent.DiscoveryLocation,
		DiscoveryKeywords:  parent.DiscoveryKeywords,
		DiscoveryQueryID:   parent.DiscoveryQueryID,
		ContactEmail:       &email,
		DraftSubject:       &subject,
		DraftBody:          &body,
		ThreadID:           &thread,
		SequenceIndex:      parent.SequenceIndex + 1,
		ParentID:           &parentID,
		DiscoveryStatus:    DiscoveryDiscovered,
		ApprovalStatus:     ApprovalApproved,
		ScrapeStatus:       parent.ScrapeStatus,
		VerificationStatus: parent.VerificationStatus,
		VerificationScore:  parent.VerificationScore,
		DraftStatus:        DraftDrafted,
		SendStatus:         SendNotSent,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// OutreachStatus is the derived UI summary of a prospect.
type OutreachStatus string

const (
	OutreachPending OutreachStatus = "pending"
	OutreachDrafted OutreachStatus = "drafted"
	OutreachSent    OutreachStatus = "sent"
	OutreachReplied OutreachStatus = "replied"
)
