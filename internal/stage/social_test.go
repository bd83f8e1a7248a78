package stage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/provider"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/pkg/social"
)

func seedProfile(t *testing.T, st store.Store, platform model.Platform, username string, qualified bool) *model.SocialProfile {
	t.Helper()
	p := model.NewSocialProfile(platform, username, "https://"+platform.Host()+"/"+username, testNow.Add(-time.Hour))
	if qualified {
		require.NoError(t, p.Review(true))
	}
	ok, err := st.InsertSocialProfile(context.Background(), p)
	require.NoError(t, err)
	require.True(t, ok)
	return p
}

// seedSent opens a thread for profile and settles its first message as sent
// at sentAt.
func seedSent(t *testing.T, st store.Store, profile *model.SocialProfile, sentAt time.Time) *model.SocialDraft {
	t.Helper()
	ctx := context.Background()
	d := model.NewSocialDraft(profile.ID, "Hello", "Loved your work", sentAt)
	require.NoError(t, st.InsertSocialDraft(ctx, d))
	ok, err := st.ClaimSocialDraft(ctx, d.ID, "seed")
	require.NoError(t, err)
	require.True(t, ok)
	d.Status = model.SocialDraftSent
	d.SentAt = &sentAt
	d.PlatformMessageID = strPtr("pm-0")
	require.NoError(t, st.SettleSocialDraft(ctx, d, model.SocialMessage{
		DraftID: d.ID, ProfileID: profile.ID, JobID: "seed", Platform: profile.Platform, CreatedAt: sentAt,
	}))
	return d
}

func TestSocialDiscover_SavesProfilesPerPlatform(t *testing.T) {
	st := newTestStore(t)
	seedProfile(t, st, model.PlatformInstagram, "taken", false)
	serp := &fakeSERP{results: map[string][]provider.SearchResult{
		"instagram.com": {
			{URL: "https://www.instagram.com/studio.one/", Title: "Studio One"},
			{URL: "https://instagram.com/taken"},
			{URL: "https://instagram.com/p/CxYz/"},
			{URL: "https://www.tiktok.com/@elsewhere"},
		},
	}}
	x := &Executors{Providers: provider.Set{SiteSearch: serp}}
	env := startJob(t, st, model.JobSocialDiscover, model.DiscoverParams{
		Categories: []string{"ceramics"},
		Locations:  []string{"Portland"},
		Platforms:  []string{"Instagram"},
	})

	require.NoError(t, run(t, x, env))

	profiles, err := st.ListSocialProfiles(context.Background(), store.SocialFilter{})
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	var created *model.SocialProfile
	for i := range profiles {
		if profiles[i].Username == "studio.one" {
			created = &profiles[i]
		}
	}
	require.NotNil(t, created)
	assert.Equal(t, "Studio One", created.FullName)
	assert.Equal(t, model.SocialDiscovered, created.DiscoveryStatus)
	require.NotNil(t, created.DiscoveryJobID)
	assert.Equal(t, env.Job.ID, *created.DiscoveryJobID)
	assert.Equal(t, 1, env.Result.Succeeded)
	assert.Equal(t, 1, env.Result.Skipped)
	assert.Len(t, env.Result.Queries, 1)
}

func TestSocialDiscover_UnknownPlatform(t *testing.T) {
	st := newTestStore(t)
	x := &Executors{Providers: provider.Set{SiteSearch: &fakeSERP{}}}
	env := startJob(t, st, model.JobSocialDiscover, model.DiscoverParams{
		Categories: []string{"ceramics"},
		Locations:  []string{"Portland"},
		Platforms:  []string{"myspace"},
	})
	assert.Error(t, run(t, x, env))
}

func TestSocialDraft_OnlyQualifiedProfiles(t *testing.T) {
	st := newTestStore(t)
	q := seedProfile(t, st, model.PlatformInstagram, "qualified", true)
	seedProfile(t, st, model.PlatformInstagram, "unreviewed", false)
	llm := &fakeLLM{subject: "Hello", body: "Loved your work"}
	x := &Executors{Providers: provider.Set{LLM: llm}}
	env := startJob(t, st, model.JobSocialDraft, model.BatchParams{})

	require.NoError(t, run(t, x, env))

	require.Len(t, llm.reqs, 1)
	drafts, err := st.ListSocialDrafts(context.Background(), store.SocialFilter{ProfileID: q.ID})
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, model.SocialDraftDrafted, drafts[0].Status)
	assert.Equal(t, 0, drafts[0].SequenceIndex)

	got, err := st.GetSocialProfile(context.Background(), q.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SocialOutreachDrafted, got.OutreachStatus)

	// A drafted profile is not drafted again.
	env2 := startJob(t, st, model.JobSocialDraft, model.BatchParams{})
	require.NoError(t, run(t, x, env2))
	assert.Len(t, llm.reqs, 1)
}

func TestSocialSend_RoutesByPlatform(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ig := seedProfile(t, st, model.PlatformInstagram, "ig_user", true)
	li := seedProfile(t, st, model.PlatformLinkedIn, "li-user", true)
	igDraft := model.NewSocialDraft(ig.ID, "Hello", "Hi there", testNow)
	liDraft := model.NewSocialDraft(li.ID, "Hello", "Hi there", testNow.Add(time.Second))
	require.NoError(t, st.InsertSocialDraft(ctx, igDraft))
	require.NoError(t, st.InsertSocialDraft(ctx, liDraft))

	platform := &fakePlatform{}
	reg := social.NewRegistry()
	reg.Register(model.PlatformInstagram, platform)
	x := &Executors{Providers: provider.Set{Social: reg}}
	env := startJob(t, st, model.JobSocialSend, model.BatchParams{})

	require.NoError(t, run(t, x, env))

	require.Len(t, platform.msgs, 1)
	assert.Equal(t, "ig_user", platform.msgs[0].Username)
	assert.Equal(t, igDraft.ThreadID, platform.msgs[0].ThreadID)

	sent, err := st.GetSocialDraft(ctx, igDraft.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SocialDraftSent, sent.Status)
	assert.Equal(t, "pm-1", *sent.PlatformMessageID)
	assert.Nil(t, sent.ClaimJobID)

	refused, err := st.GetSocialDraft(ctx, liDraft.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SocialDraftFailed, refused.Status)
	require.NotNil(t, refused.LastError)
	assert.Contains(t, *refused.LastError, "no messaging endpoint")

	profile, err := st.GetSocialProfile(ctx, ig.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SocialOutreachSent, profile.OutreachStatus)

	got := outcomes(env.Result)
	assert.Equal(t, model.OutcomeSent, got[igDraft.ID])
	assert.Equal(t, model.OutcomeFailed, got[liDraft.ID])
	assert.Equal(t, 1, env.Result.Providers[social.ProviderFor(model.PlatformLinkedIn)].Errors)
}

func TestSocialSend_NoSendersRefusesEverything(t *testing.T) {
	st := newTestStore(t)
	p := seedProfile(t, st, model.PlatformTikTok, "maker", true)
	d := model.NewSocialDraft(p.ID, "", "Hi", testNow)
	require.NoError(t, st.InsertSocialDraft(context.Background(), d))
	env := startJob(t, st, model.JobSocialSend, model.BatchParams{})

	require.NoError(t, run(t, &Executors{}, env))

	got, err := st.GetSocialDraft(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SocialDraftFailed, got.Status)
}

func TestSocialFollowup_ExtendsThread(t *testing.T) {
	st := newTestStore(t)
	p := seedProfile(t, st, model.PlatformFacebook, "bakery", true)
	first := seedSent(t, st, p, testNow.Add(-100*time.Hour))
	llm := &fakeLLM{subject: "Re: Hello", body: "Just checking in"}
	x := &Executors{Providers: provider.Set{LLM: llm}}
	env := startJob(t, st, model.JobSocialFollowup, model.BatchParams{})

	require.NoError(t, run(t, x, env))

	drafts, err := st.ListSocialDrafts(context.Background(), store.SocialFilter{ProfileID: p.ID})
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	var next model.SocialDraft
	for _, d := range drafts {
		if d.ID != first.ID {
			next = d
		}
	}
	assert.Equal(t, first.ThreadID, next.ThreadID)
	assert.Equal(t, 1, next.SequenceIndex)
	assert.Equal(t, model.SocialDraftDrafted, next.Status)
	require.Len(t, llm.reqs, 1)
	assert.Len(t, llm.reqs[0].Vars["history"], 1)

	// The thread now has a successor.
	env2 := startJob(t, st, model.JobSocialFollowup, model.BatchParams{})
	require.NoError(t, run(t, x, env2))
	assert.Len(t, llm.reqs, 1)
}

func TestSocialFollowup_ExplicitIDNotDue(t *testing.T) {
	st := newTestStore(t)
	p := seedProfile(t, st, model.PlatformFacebook, "florist", true)
	recent := seedSent(t, st, p, testNow.Add(-time.Hour))
	env := startJob(t, st, model.JobSocialFollowup, model.BatchParams{ProspectIDs: []string{recent.ID, uuid.New().String()}})

	require.NoError(t, run(t, &Executors{Providers: provider.Set{LLM: &fakeLLM{}}}, env))
	for _, it := range env.Result.Items {
		assert.Equal(t, model.OutcomeNotEligible, it.Outcome)
	}
	assert.Len(t, env.Result.Items, 2)
}
