package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGates(t *testing.T) {
	t.Parallel()

	gp := GateParams{Now: testNow, Cooloff: 72 * time.Hour, MaxFollowups: 3}
	old := testNow.Add(-100 * time.Hour)
	recent := testNow.Add(-time.Hour)

	tests := []struct {
		name   string
		gate   Gate
		mutate func(p *Prospect)
		want   bool
	}{
		{"scrape pending approval", GateScrape, func(p *Prospect) {}, false},
		{"scrape approved", GateScrape, func(p *Prospect) { p.ApprovalStatus = ApprovalApproved }, true},
		{"scrape retry after failure", GateScrape, func(p *Prospect) {
			p.ApprovalStatus = ApprovalApproved
			p.ScrapeStatus = ScrapeFailed
		}, true},
		{"scrape done", GateScrape, func(p *Prospect) {
			p.ApprovalStatus = ApprovalApproved
			p.ScrapeStatus = ScrapeScraped
		}, false},
		{"verify without email", GateVerify, func(p *Prospect) {}, false},
		{"verify with email", GateVerify, func(p *Prospect) { p.ContactEmail = strPtr("x@a.test") }, true},
		{"verify invalid again", GateVerify, func(p *Prospect) {
			p.ContactEmail = strPtr("x@a.test")
			p.VerificationStatus = VerificationInvalid
		}, true},
		{"draft risky", GateDraft, func(p *Prospect) {
			p.ContactEmail = strPtr("x@a.test")
			p.VerificationStatus = VerificationRisky
		}, true},
		{"draft invalid", GateDraft, func(p *Prospect) {
			p.ContactEmail = strPtr("x@a.test")
			p.VerificationStatus = VerificationInvalid
		}, false},
		{"send risky", GateSend, func(p *Prospect) {
			p.DraftStatus = DraftDrafted
			p.VerificationStatus = VerificationRisky
		}, false},
		{"send verified", GateSend, func(p *Prospect) {
			p.DraftStatus = DraftDrafted
			p.VerificationStatus = VerificationVerified
			p.SendStatus = SendFailed
		}, true},
		{"followup cooled off", GateFollowup, func(p *Prospect) {
			p.SendStatus = SendSent
			p.LastSent = &old
		}, true},
		{"followup too recent", GateFollowup, func(p *Prospect) {
			p.SendStatus = SendSent
			p.LastSent = &recent
		}, false},
		{"followup cap reached", GateFollowup, func(p *Prospect) {
			p.SendStatus = SendSent
			p.LastSent = &old
			p.SequenceIndex = 3
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := NewProspect("a.test", "https://a.test", "A", testNow)
			tt.mutate(p)
			assert.Equal(t, tt.want, p.Ready(tt.gate, gp))
		})
	}
}

func TestGate_Axis(t *testing.T) {
	t.Parallel()

	assert.Equal(t, AxisScrape, GateScrape.Axis())
	assert.Equal(t, AxisVerification, GateVerify.Axis())
	assert.Equal(t, AxisSend, GateSend.Axis())
	assert.Equal(t, Axis(""), GateFollowup.Axis())
}

func TestBatchParams_ScopeKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "*", BatchParams{}.ScopeKey())
	a := BatchParams{ProspectIDs: []string{"b", "a", "a"}}.ScopeKey()
	b := BatchParams{ProspectIDs: []string{"a", "b"}}.ScopeKey()
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, BatchParams{ProspectIDs: []string{"a"}}.ScopeKey())
}

func TestValidateParams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		jobType JobType
		raw     string
		wantErr bool
	}{
		{"discover ok", JobDiscover, `{"categories":["Art Gallery"],"locations":["United States"]}`, false},
		{"discover no locations", JobDiscover, `{"categories":["Art Gallery"]}`, true},
		{"discover bad json", JobDiscover, `{`, true},
		{"scrape empty", JobScrape, ``, false},
		{"send ids", JobSend, `{"prospect_ids":["p1"]}`, false},
		{"draft negative", JobDraft, `{"max_prospects":-1}`, true},
		{"unknown", JobType("export"), `{}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateParams(tt.jobType, json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestJobResult_Record(t *testing.T) {
	t.Parallel()

	var r JobResult
	r.Record(ItemOutcome{ID: "p1", Outcome: OutcomeScraped})
	r.Record(ItemOutcome{ID: "p2", Outcome: OutcomeSkippedRace})
	r.Record(ItemOutcome{ID: "p3", Outcome: OutcomeFailed, Error: "boom"})
	r.Track("jina", 2, false)
	r.Track("jina", 0, true)

	assert.Equal(t, 3, r.Processed)
	assert.Equal(t, 1, r.Succeeded)
	assert.Equal(t, 1, r.Skipped)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, []string{"p1", "p2", "p3"}, r.ProcessedIDs())
	assert.Equal(t, ProviderSummary{Calls: 2, Retries: 2, Errors: 1}, r.Providers["jina"])
}

func TestJobStatus(t *testing.T) {
	t.Parallel()

	assert.True(t, JobPending.Active())
	assert.True(t, JobRunning.Active())
	assert.False(t, JobCancelled.Active())
	assert.True(t, JobCancelled.Finished())
	assert.False(t, JobRunning.Finished())
}

func TestSettings_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultSettings().Validate())

	s := DefaultSettings()
	s.SearchIntervalSeconds = 899
	assert.Error(t, s.Validate())

	s = DefaultSettings()
	s.AutomationMode = "sometimes"
	assert.Error(t, s.Validate())

	s = DefaultSettings()
	s.EmailTriggerMode = "auto"
	assert.Error(t, s.Validate())

	s = DefaultSettings()
	s.RateLimitPerMinute = map[string]int{"hunter": 0}
	assert.Error(t, s.Validate())
}

func TestSettings_GateParams(t *testing.T) {
	t.Parallel()

	gp := DefaultSettings().GateParams(testNow)
	assert.Equal(t, 72*time.Hour, gp.Cooloff)
	assert.Equal(t, 3, gp.MaxFollowups)
	assert.Equal(t, testNow.Add(-72*time.Hour), gp.FollowupCutoff())
}

func TestNormalizeDomain(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"https://www.Example.com/about": "example.com",
		"example.com":                   "example.com",
		"http://shop.example.com.":      "shop.example.com",
		"":                              "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeDomain(in), in)
	}
}

func TestProfileFromURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw      string
		platform Platform
		user     string
		ok       bool
	}{
		{"https://www.instagram.com/gallery.one/", PlatformInstagram, "gallery.one", true},
		{"https://www.instagram.com/p/abc123/", "", "", false},
		{"https://www.linkedin.com/in/jane-doe", PlatformLinkedIn, "jane-doe", true},
		{"https://www.tiktok.com/@artbyjo", PlatformTikTok, "artbyjo", true},
		{"https://m.facebook.com/artspace", PlatformFacebook, "artspace", true},
		{"https://example.com/artspace", "", "", false},
	}
	for _, tt := range tests {
		p, user, ok := ProfileFromURL(tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.Equal(t, tt.platform, p, tt.raw)
		assert.Equal(t, tt.user, user, tt.raw)
	}
}

func TestSocialProfile_Transitions(t *testing.T) {
	t.Parallel()

	p := NewSocialProfile(PlatformInstagram, "gallery.one", "https://instagram.com/gallery.one", testNow)
	require.NoError(t, p.Review(true))
	assert.Equal(t, SocialQualified, p.DiscoveryStatus)
	assert.ErrorIs(t, p.Review(false), ErrIllegalTransition)

	require.NoError(t, p.AdvanceOutreach(SocialOutreachDrafted))
	require.NoError(t, p.AdvanceOutreach(SocialOutreachSent))
	assert.ErrorIs(t, p.AdvanceOutreach(SocialOutreachPending), ErrIllegalTransition)
}
