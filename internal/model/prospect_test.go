package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func verifiedProspect(t *testing.T) *Prospect {
	t.Helper()
	p := NewProspect("a.test", "https://a.test", "A", testNow)
	require.NoError(t, p.Approve())
	p.ScrapeStatus = ScrapeScraped
	p.ContactEmail = strPtr("contact@a.test")
	p.VerificationStatus = VerificationVerified
	return p
}

func TestNewProspect_InitialAxes(t *testing.T) {
	t.Parallel()

	p := NewProspect("a.test", "https://a.test/", "Gallery A", testNow)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, DiscoveryDiscovered, p.DiscoveryStatus)
	assert.Equal(t, ApprovalPending, p.ApprovalStatus)
	assert.Equal(t, ScrapeNotStarted, p.ScrapeStatus)
	assert.Equal(t, VerificationUnverified, p.VerificationStatus)
	assert.Equal(t, DraftNone, p.DraftStatus)
	assert.Equal(t, SendNotSent, p.SendStatus)
	assert.NoError(t, p.Validate())
}

func TestCanTransition_Edges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		axis     Axis
		from, to string
		want     bool
	}{
		{AxisApproval, "PENDING", "APPROVED", true},
		{AxisApproval, "PENDING", "REJECTED", true},
		{AxisApproval, "APPROVED", "PENDING", false},
		{AxisApproval, "REJECTED", "APPROVED", false},
		{AxisScrape, "NOT_STARTED", "SCRAPING", true},
		{AxisScrape, "SCRAPING", "ENRICHED", true},
		{AxisScrape, "FAILED", "SCRAPING", true},
		{AxisScrape, "SCRAPED", "SCRAPING", false},
		{AxisScrape, "NOT_STARTED", "SCRAPED", false},
		{AxisVerification, "UNVERIFIED", "VERIFYING", true},
		{AxisVerification, "VERIFYING", "RISKY", true},
		{AxisVerification, "INVALID", "UNVERIFIED", false},
		{AxisVerification, "INVALID", "VERIFYING", true},
		{AxisVerification, "VERIFIED", "VERIFYING", false},
		{AxisDraft, "NONE", "DRAFTING", true},
		{AxisDraft, "DRAFT_FAILED", "DRAFTING", true},
		{AxisDraft, "DRAFTED", "NONE", false},
		{AxisSend, "SEND_FAILED", "SENDING", true},
		{AxisSend, "SENT", "SENDING", false},
		{AxisSend, "SENT", "NOT_SENT", false},
		{AxisDiscovery, "DISCOVERED", "DISCOVERED", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.axis)+"_"+tt.from+"_"+tt.to, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CanTransition(tt.axis, tt.from, tt.to))
		})
	}
}

func TestCanTransitionOnContactReplaced(t *testing.T) {
	t.Parallel()

	assert.True(t, CanTransitionOnContactReplaced(AxisVerification, "INVALID", "UNVERIFIED"))
	assert.True(t, CanTransitionOnContactReplaced(AxisDraft, "DRAFTED", "NONE"))
	assert.False(t, CanTransitionOnContactReplaced(AxisSend, "SENT", "NOT_SENT"))
	assert.False(t, CanTransitionOnContactReplaced(AxisDraft, "DRAFTING", "NONE"))
	assert.False(t, CanTransitionOnContactReplaced(AxisVerification, "VERIFIED", "UNVERIFIED"))
	assert.False(t, CanTransitionOnContactReplaced(AxisVerification, "RISKY", "UNVERIFIED"))
}

func TestProspect_ClaimSettle(t *testing.T) {
	t.Parallel()

	p := NewProspect("a.test", "https://a.test", "A", testNow)
	require.NoError(t, p.Approve())

	require.NoError(t, p.Claim(AxisScrape, "job-1"))
	assert.Equal(t, ScrapeScraping, p.ScrapeStatus)
	require.NotNil(t, p.ClaimJobID)
	assert.Equal(t, "job-1", *p.ClaimJobID)
	assert.Equal(t, "NOT_STARTED", *p.ClaimPrevStatus)
	assert.NoError(t, p.Validate())

	err := p.Claim(AxisScrape, "job-2")
	assert.ErrorIs(t, err, ErrIllegalTransition)

	require.NoError(t, p.Settle(AxisScrape, string(ScrapeScraped)))
	assert.Equal(t, ScrapeScraped, p.ScrapeStatus)
	assert.Nil(t, p.ClaimJobID)
	assert.Nil(t, p.ClaimAxis)
	assert.NoError(t, p.Validate())
}

func TestProspect_ClaimRequiresForwardEdge(t *testing.T) {
	t.Parallel()

	p := verifiedProspect(t)
	err := p.Claim(AxisVerification, "job-1")
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, VerificationVerified, p.VerificationStatus)
}

func TestProspect_Release(t *testing.T) {
	t.Parallel()

	p := NewProspect("a.test", "https://a.test", "A", testNow)
	require.NoError(t, p.Approve())
	p.ScrapeStatus = ScrapeFailed
	require.NoError(t, p.Claim(AxisScrape, "job-1"))

	require.NoError(t, p.Release())
	assert.Equal(t, ScrapeFailed, p.ScrapeStatus)
	assert.Nil(t, p.ClaimJobID)

	// Releasing with no claim is a no-op.
	require.NoError(t, p.Release())
}

func TestProspect_Interrupt(t *testing.T) {
	t.Parallel()

	t.Run("send is failed", func(t *testing.T) {
		t.Parallel()
		p := verifiedProspect(t)
		p.DraftStatus = DraftDrafted
		p.DraftSubject = strPtr("s")
		p.DraftBody = strPtr("b")
		require.NoError(t, p.Claim(AxisSend, "job-1"))

		require.NoError(t, p.Interrupt("interrupted"))
		assert.Equal(t, SendFailed, p.SendStatus)
		require.NotNil(t, p.LastError)
		assert.Equal(t, "interrupted", *p.LastError)
		assert.Nil(t, p.ClaimJobID)
	})

	t.Run("draft is restored", func(t *testing.T) {
		t.Parallel()
		p := verifiedProspect(t)
		require.NoError(t, p.Claim(AxisDraft, "job-1"))

		require.NoError(t, p.Interrupt("interrupted"))
		assert.Equal(t, DraftNone, p.DraftStatus)
		assert.Nil(t, p.LastError)
	})
}

func TestProspect_ReplaceContactEmail_ResetsDraft(t *testing.T) {
	t.Parallel()

	p := verifiedProspect(t)
	p.DraftStatus = DraftDrafted
	p.DraftSubject = strPtr("Collaboration")
	p.DraftBody = strPtr("Hi...")

	require.NoError(t, p.ReplaceContactEmail("new@a.test"))
	assert.Equal(t, "new@a.test", *p.ContactEmail)
	assert.Equal(t, DraftNone, p.DraftStatus)
	assert.Nil(t, p.DraftSubject)
	assert.Nil(t, p.DraftBody)
	assert.Equal(t, VerificationVerified, p.VerificationStatus)
	assert.True(t, p.DraftReady(), "a verified prospect stays draftable with its new address")
	assert.NoError(t, p.Validate())
}

func TestProspect_ReplaceContactEmail_ReopensInvalid(t *testing.T) {
	t.Parallel()

	p := verifiedProspect(t)
	p.VerificationStatus = VerificationInvalid
	require.NoError(t, p.ReplaceContactEmail("new@a.test"))
	assert.Equal(t, VerificationUnverified, p.VerificationStatus)
	assert.Nil(t, p.VerificationScore)

	risky := verifiedProspect(t)
	risky.VerificationStatus = VerificationRisky
	require.NoError(t, risky.ReplaceContactEmail("new@a.test"))
	assert.Equal(t, VerificationRisky, risky.VerificationStatus)
}

func TestProspect_ReplaceContactEmail_SameValueKeepsDraft(t *testing.T) {
	t.Parallel()

	p := verifiedProspect(t)
	p.DraftStatus = DraftDrafted
	p.DraftSubject = strPtr("s")
	p.DraftBody = strPtr("b")

	require.NoError(t, p.ReplaceContactEmail("contact@a.test"))
	assert.Equal(t, DraftDrafted, p.DraftStatus)
}

func TestProspect_ReplaceContactEmail_Refused(t *testing.T) {
	t.Parallel()

	sent := verifiedProspect(t)
	sent.SendStatus = SendSent
	assert.ErrorIs(t, sent.ReplaceContactEmail("x@a.test"), ErrIllegalTransition)

	drafting := verifiedProspect(t)
	require.NoError(t, drafting.Claim(AxisDraft, "job-1"))
	assert.ErrorIs(t, drafting.ReplaceContactEmail("x@a.test"), ErrIllegalTransition)
}

func TestProspect_RecordVerdict_InvalidClearsDraft(t *testing.T) {
	t.Parallel()

	p := NewProspect("a.test", "https://a.test", "A", testNow)
	p.ContactEmail = strPtr("x@a.test")
	require.NoError(t, p.Claim(AxisVerification, "job-1"))
	require.NoError(t, p.RecordVerdict(VerificationInvalid, 0.1, []byte(`{"result":"undeliverable"}`)))

	assert.Equal(t, VerificationInvalid, p.VerificationStatus)
	require.NotNil(t, p.VerificationScore)
	assert.InDelta(t, 0.1, *p.VerificationScore, 0.0001)
	assert.JSONEq(t, `{"result":"undeliverable"}`, string(p.VerificationPayload))
	assert.Equal(t, DraftNone, p.DraftStatus)
}

func TestProspect_RecordSent(t *testing.T) {
	t.Parallel()

	p := verifiedProspect(t)
	p.DraftStatus = DraftDrafted
	p.DraftSubject = strPtr("Collaboration")
	p.DraftBody = strPtr("Hi...")
	require.NoError(t, p.Claim(AxisSend, "job-1"))

	require.NoError(t, p.RecordSent("m1", testNow))
	assert.Equal(t, SendSent, p.SendStatus)
	require.NotNil(t, p.FinalBody)
	assert.Equal(t, "Hi...", *p.FinalBody)
	require.NotNil(t, p.ThreadID)
	assert.Equal(t, 0, p.SequenceIndex)
	assert.Equal(t, testNow, *p.LastSent)
	assert.Equal(t, "m1", *p.MessageID)
	assert.NoError(t, p.Validate())
	assert.Equal(t, OutreachSent, p.OutreachStatus())
}

func TestProspect_Fail(t *testing.T) {
	t.Parallel()

	p := verifiedProspect(t)
	require.NoError(t, p.Claim(AxisDraft, "job-1"))
	require.NoError(t, p.Fail(AxisDraft, "llm: status 400"))
	assert.Equal(t, DraftFailed, p.DraftStatus)
	assert.Equal(t, "llm: status 400", *p.LastError)

	err := p.Fail(AxisVerification, "x")
	assert.Error(t, err)
}

func TestProspect_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(p *Prospect)
	}{
		{"undeclared value", func(p *Prospect) { p.ScrapeStatus = "DONE" }},
		{"sent without final body", func(p *Prospect) { p.SendStatus = SendSent; p.LastSent = &testNow }},
		{"drafted without body", func(p *Prospect) { p.DraftStatus = DraftDrafted }},
		{"followup without thread", func(p *Prospect) { p.SequenceIndex = 1 }},
		{"in progress without claim", func(p *Prospect) { p.ScrapeStatus = ScrapeScraping }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := NewProspect("a.test", "https://a.test", "A", testNow)
			tt.mutate(p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestNewFollowUp(t *testing.T) {
	t.Parallel()

	parent := verifiedProspect(t)
	parent.DraftStatus = DraftDrafted
	parent.DraftSubject = strPtr("s")
	parent.DraftBody = strPtr("b")
	require.NoError(t, parent.Claim(AxisSend, "job-1"))
	require.NoError(t, parent.RecordSent("m1", testNow))

	child, err := NewFollowUp(parent, "Re: s", "Following up", testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, *parent.ThreadID, *child.ThreadID)
	assert.Equal(t, 1, child.SequenceIndex)
	assert.Equal(t, parent.ID, *child.ParentID)
	assert.Equal(t, *parent.ContactEmail, *child.ContactEmail)
	assert.Equal(t, DraftDrafted, child.DraftStatus)
	assert.Equal(t, SendNotSent, child.SendStatus)
	assert.NoError(t, child.Validate())
	assert.True(t, child.SendReady())

	_, err = NewFollowUp(child, "x", "y", testNow)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestProspect_OutreachStatus(t *testing.T) {
	t.Parallel()

	p := NewProspect("a.test", "https://a.test", "A", testNow)
	assert.Equal(t, OutreachPending, p.OutreachStatus())
	p.DraftStatus = DraftDrafted
	assert.Equal(t, OutreachDrafted, p.OutreachStatus())
	p.SendStatus = SendSent
	assert.Equal(t, OutreachSent, p.OutreachStatus())
	p.Replied = true
	assert.Equal(t, OutreachReplied, p.OutreachStatus())
}
