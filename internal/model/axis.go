package model

import (
	"slices"

	"github.com/rotisserie/eris"
)

// Axis names one independent status dimension of a website prospect.
type Axis string

const (
	AxisDiscovery    Axis = "discovery"
	AxisApproval     Axis = "approval"
	AxisScrape       Axis = "scrape"
	AxisVerification Axis = "verification"
	AxisDraft        Axis = "draft"
	AxisSend         Axis = "send"
)

// Axes lists every status axis in pipeline order.
var Axes = []Axis{AxisDiscovery, AxisApproval, AxisScrape, AxisVerification, AxisDraft, AxisSend}

// Column returns the prospects column that stores the axis.
func (a Axis) Column() string {
	return string(a) + "_status"
}

// DiscoveryStatus is the value of the discovery axis.
type DiscoveryStatus string

const (
	DiscoveryDiscovered DiscoveryStatus = "DISCOVERED"
)

// ApprovalStatus is the value of the approval axis.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// ScrapeStatus is the value of the scrape axis.
type ScrapeStatus string

const (
	ScrapeNotStarted   ScrapeStatus = "NOT_STARTED"
	ScrapeScraping     ScrapeStatus = "SCRAPING"
	ScrapeScraped      ScrapeStatus = "SCRAPED"
	ScrapeEnriched     ScrapeStatus = "ENRICHED"
	ScrapeNoEmailFound ScrapeStatus = "NO_EMAIL_FOUND"
	ScrapeFailed       ScrapeStatus = "FAILED"
)

// VerificationStatus is the value of the verification axis.
type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "UNVERIFIED"
	VerificationVerifying  VerificationStatus = "VERIFYING"
	VerificationVerified   VerificationStatus = "VERIFIED"
	VerificationInvalid    VerificationStatus = "INVALID"
	VerificationRisky      VerificationStatus = "RISKY"
)

// DraftStatus is the value of the draft axis.
type DraftStatus string

const (
	DraftNone     DraftStatus = "NONE"
	DraftDrafting DraftStatus = "DRAFTING"
	DraftDrafted  DraftStatus = "DRAFTED"
	DraftFailed   DraftStatus = "DRAFT_FAILED"
)

// SendStatus is the value of the send axis.
type SendStatus string

const (
	SendNotSent SendStatus = "NOT_SENT"
	SendSending SendStatus = "SENDING"
	SendSent    SendStatus = "SENT"
	SendFailed  SendStatus = "SEND_FAILED"
)

// ErrIllegalTransition is returned when a status change does not follow an
// edge of the axis graph, or when another writer changed the row first.
var ErrIllegalTransition = eris.New("illegal status transition")

// axisValues is the declared enum of every axis.
var axisValues = map[Axis][]string{
	AxisDiscovery:    {string(DiscoveryDiscovered)},
	AxisApproval:     {string(ApprovalPending), string(ApprovalApproved), string(ApprovalRejected)},
	AxisScrape:       {string(ScrapeNotStarted), string(ScrapeScraping), string(ScrapeScraped), string(ScrapeEnriched), string(ScrapeNoEmailFound), string(ScrapeFailed)},
	AxisVerification: {string(VerificationUnverified), string(VerificationVerifying), string(VerificationVerified), string(VerificationInvalid), string(VerificationRisky)},
	AxisDraft:        {string(DraftNone), string(DraftDrafting), string(DraftDrafted), string(DraftFailed)},
	AxisSend:         {string(SendNotSent), string(SendSending), string(SendSent), string(SendFailed)},
}

// forward holds the directed edges of each axis.
var forward = map[Axis]map[string][]string{
	AxisApproval: {
		string(ApprovalPending): {string(ApprovalApproved), string(ApprovalRejected)},
	},
	AxisScrape: {
		string(ScrapeNotStarted): {string(ScrapeScraping)},
		string(ScrapeScraping):   {string(ScrapeScraped), string(ScrapeEnriched), string(ScrapeNoEmailFound), string(ScrapeFailed)},
		string(ScrapeFailed):     {string(ScrapeScraping)},
	},
	AxisVerification: {
		string(VerificationUnverified): {string(VerificationVerifying)},
		string(VerificationVerifying):  {string(VerificationVerified), string(VerificationInvalid), string(VerificationRisky)},
		// An invalid verdict stays eligible for re-verification.
		string(VerificationInvalid): {string(VerificationVerifying)},
	},
	AxisDraft: {
		string(DraftNone):     {string(DraftDrafting)},
		string(DraftDrafting): {string(DraftDrafted), string(DraftFailed)},
		string(DraftFailed):   {string(DraftDrafting)},
	},
	AxisSend: {
		string(SendNotSent): {string(SendSending)},
		string(SendSending): {string(SendSent), string(SendFailed)},
		string(SendFailed):  {string(SendSending)},
	},
}

// onContactReplaced holds edges that are only legal while contact_email is
// being replaced. An invalid verdict reopens for the new address; a draft
// written for the previous address is stale. Other verdicts stand.
var onContactReplaced = map[Axis]map[string][]string{
	AxisVerification: {
		string(VerificationInvalid): {string(VerificationUnverified)},
	},
	AxisDraft: {
		string(DraftDrafted): {string(DraftNone)},
	},
}

// inProgress maps each axis to its "-ING" value.
var inProgress = map[Axis]string{
	AxisScrape:       string(ScrapeScraping),
	AxisVerification: string(VerificationVerifying),
	AxisDraft:        string(DraftDrafting),
	AxisSend:         string(SendSending),
}

// ValidStatus reports whether value belongs to the declared enum of axis.
func ValidStatus(axis Axis, value string) bool {
	return slices.Contains(axisValues[axis], value)
}

// CanTransition reports whether from -> to is a forward edge of axis.
func CanTransition(axis Axis, from, to string) bool {
	return slices.Contains(forward[axis][from], to)
}

// CanTransitionOnContactReplaced reports whether from -> to is legal as part
// of a contact_email replacement.
func CanTransitionOnContactReplaced(axis Axis, from, to string) bool {
	return slices.Contains(onContactReplaced[axis][from], to)
}

// InProgress returns the "-ING" value of axis, or "" when the axis has none.
func InProgress(axis Axis) string {
	return inProgress[axis]
}

// IsInProgress reports whether value is the "-ING" value of axis.
func IsInProgress(axis Axis, value string) bool {
	v, ok := inProgress[axis]
	return ok && v == value
}

// CanRelease reports whether an axis holding its "-ING" value may be rolled
// back to prev, i.e. prev has a forward edge into the "-ING" value.
func CanRelease(axis Axis, prev string) bool {
	ing, ok := inProgress[axis]
	if !ok {
		return false
	}
	return CanTransition(axis, prev, ing)
}

// Terminal reports whether value is a resting state of axis (not "-ING").
func Terminal(axis Axis, value string) bool {
	return ValidStatus(axis, value) && !IsInProgress(axis, value)
}
