package dispatch

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/settings"
	"github.com/sells-group/outreach-cli/internal/store"
)

type fakeRunner struct {
	mu        sync.Mutex
	submitted []*model.Job
	st        store.Store
}

func (f *fakeRunner) Submit(job *model.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, job)
}

func (f *fakeRunner) Cancel(ctx context.Context, id string) (bool, error) {
	return f.st.CancelJob(ctx, id, time.Now())
}

type countingInvalidator struct{ n int }

func (c *countingInvalidator) Invalidate(context.Context) { c.n++ }

func setup(t *testing.T, masterSwitch bool) (*Dispatcher, store.Store, *fakeRunner) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "dispatch.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	s := model.DefaultSettings()
	s.MasterSwitch = masterSwitch
	require.NoError(t, st.SaveSettings(context.Background(), s))
	r := &fakeRunner{st: st}
	return New(st, settings.New(st, time.Millisecond), r, &countingInvalidator{}), st, r
}

func seed(t *testing.T, st store.Store, domain string, fn func(p *model.Prospect)) *model.Prospect {
	t.Helper()
	p := model.NewProspect(domain, "https://"+domain, domain, time.Now().UTC())
	if fn != nil {
		fn(p)
	}
	ok, err := st.InsertProspect(context.Background(), p)
	require.NoError(t, err)
	require.True(t, ok)
	return p
}

func approved(p *model.Prospect) { p.ApprovalStatus = model.ApprovalApproved }

func requireRefusal(t *testing.T, err error, kind Kind) {
	t.Helper()
	r, ok := AsRefusal(err)
	require.True(t, ok, "expected refusal, got %v", err)
	assert.Equal(t, kind, r.Kind)
}

func intPtr(n int) *int { return &n }

func TestStage_DisabledWhenMasterSwitchOff(t *testing.T) {
	d, st, r := setup(t, false)
	seed(t, st, "a.test", approved)

	_, err := d.Stage(context.Background(), model.JobScrape, BatchRequest{})
	requireRefusal(t, err, KindDisabled)

	_, err = d.Discover(context.Background(), model.DiscoverParams{Categories: []string{"x"}, Locations: []string{"y"}})
	requireRefusal(t, err, KindDisabled)
	assert.Empty(t, r.submitted)
}

func TestStage_NoWork(t *testing.T) {
	d, st, _ := setup(t, true)
	pending := seed(t, st, "pending.test", nil)
	ctx := context.Background()

	_, err := d.Stage(ctx, model.JobScrape, BatchRequest{})
	requireRefusal(t, err, KindNoWork)

	_, err = d.Stage(ctx, model.JobScrape, BatchRequest{ProspectIDs: []string{pending.ID}})
	requireRefusal(t, err, KindNoWork)

	seed(t, st, "a.test", approved)
	_, err = d.Stage(ctx, model.JobScrape, BatchRequest{MaxProspects: intPtr(0)})
	requireRefusal(t, err, KindNoWork)

	_, err = d.Stage(ctx, model.JobSocialDraft, BatchRequest{})
	requireRefusal(t, err, KindNoWork)
}

func TestStage_EnqueuesAndRefusesConflict(t *testing.T) {
	d, st, r := setup(t, true)
	a := seed(t, st, "a.test", approved)
	b := seed(t, st, "b.test", approved)
	ctx := context.Background()

	job, err := d.Stage(ctx, model.JobScrape, BatchRequest{MaxProspects: intPtr(5)})
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, job.Status)
	assert.Equal(t, "*", job.ScopeKey)
	require.Len(t, r.submitted, 1)

	stored, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	var bp model.BatchParams
	require.NoError(t, stored.DecodeParams(&bp))
	assert.Equal(t, 5, bp.MaxProspects)

	_, err = d.Stage(ctx, model.JobScrape, BatchRequest{})
	requireRefusal(t, err, KindConflict)

	// A different prospect set is a different scope.
	explicit, err := d.Stage(ctx, model.JobScrape, BatchRequest{ProspectIDs: []string{b.ID, a.ID}})
	require.NoError(t, err)
	_, err = d.Stage(ctx, model.JobScrape, BatchRequest{ProspectIDs: []string{a.ID, b.ID}})
	requireRefusal(t, err, KindConflict)

	ok, err := d.Cancel(ctx, explicit.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = d.Stage(ctx, model.JobScrape, BatchRequest{ProspectIDs: []string{a.ID, b.ID}})
	require.NoError(t, err)
}

func TestStage_InvalidParams(t *testing.T) {
	d, _, _ := setup(t, true)
	_, err := d.Stage(context.Background(), model.JobScrape, BatchRequest{MaxProspects: intPtr(-1)})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = d.Discover(context.Background(), model.DiscoverParams{Categories: []string{"x"}})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = d.SocialDiscover(context.Background(), model.DiscoverParams{Categories: []string{"x"}, Locations: []string{"y"}, Platforms: []string{"myspace"}})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestDiscover_OneAtATime(t *testing.T) {
	d, _, r := setup(t, true)
	p := model.DiscoverParams{Categories: []string{"Art Gallery"}, Locations: []string{"United States"}}

	job, err := d.Discover(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, model.JobDiscover, job.Type)
	assert.Len(t, r.submitted, 1)

	_, err = d.Discover(context.Background(), p)
	requireRefusal(t, err, KindConflict)

	social, err := d.SocialDiscover(context.Background(), model.DiscoverParams{
		Categories: p.Categories, Locations: p.Locations, Platforms: []string{"instagram"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobSocialDiscover, social.Type)
}

func TestTriggerSend_ScopesToOneProspect(t *testing.T) {
	d, st, r := setup(t, true)
	email, subject, body := "hi@a.test", "Hello", "Hi"
	p := seed(t, st, "a.test", func(p *model.Prospect) {
		approved(p)
		p.ScrapeStatus = model.ScrapeScraped
		p.ContactEmail = &email
		p.VerificationStatus = model.VerificationVerified
		p.DraftStatus = model.DraftDrafted
		p.DraftSubject, p.DraftBody = &subject, &body
	})

	require.NoError(t, d.TriggerSend(context.Background(), p.ID))
	require.Len(t, r.submitted, 1)
	var bp model.BatchParams
	require.NoError(t, r.submitted[0].DecodeParams(&bp))
	assert.Equal(t, []string{p.ID}, bp.ProspectIDs)

	err := d.TriggerSend(context.Background(), p.ID)
	requireRefusal(t, err, KindConflict)
}

func TestApprove(t *testing.T) {
	d, st, _ := setup(t, false)
	a := seed(t, st, "a.test", nil)
	b := seed(t, st, "b.test", nil)
	c := seed(t, st, "c.test", nil)
	ctx := context.Background()

	res, err := d.Approve(ctx, []string{a.ID, "missing"}, ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, []string{"missing"}, res.Skipped)

	res, err = d.Approve(ctx, []string{a.ID, b.ID}, ActionReject)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, []string{a.ID}, res.Skipped)

	res, err = d.Approve(ctx, []string{c.ID}, ActionDelete)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	_, err = st.GetProspect(ctx, c.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = d.Approve(ctx, []string{a.ID}, "promote")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestApproveAll(t *testing.T) {
	d, st, _ := setup(t, false)
	for _, domain := range []string{"a.test", "b.test", "c.test"} {
		seed(t, st, domain, nil)
	}
	seed(t, st, "done.test", func(p *model.Prospect) { p.ApprovalStatus = model.ApprovalRejected })

	res, err := d.ApproveAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Updated)

	n, err := st.CountGate(context.Background(), model.GateScrape, model.GateParams{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestReplaceContactEmail_ClearsDraft(t *testing.T) {
	d, st, _ := setup(t, false)
	email, subject, body := "old@a.test", "Hello", "Hi"
	p := seed(t, st, "a.test", func(p *model.Prospect) {
		approved(p)
		p.ScrapeStatus = model.ScrapeScraped
		p.ContactEmail = &email
		p.VerificationStatus = model.VerificationVerified
		p.DraftStatus = model.DraftDrafted
		p.DraftSubject, p.DraftBody = &subject, &body
	})

	got, err := d.ReplaceContactEmail(context.Background(), p.ID, "new@a.test")
	require.NoError(t, err)
	assert.Equal(t, "new@a.test", *got.ContactEmail)
	assert.Equal(t, model.DraftNone, got.DraftStatus)
	assert.Nil(t, got.DraftBody)
	assert.Equal(t, model.VerificationVerified, got.VerificationStatus)

	_, err = d.ReplaceContactEmail(context.Background(), p.ID, "nope")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestReview_SocialProfiles(t *testing.T) {
	d, st, _ := setup(t, false)
	ctx := context.Background()
	var ids []string
	for _, u := range []string{"one", "two", "three"} {
		p := model.NewSocialProfile(model.PlatformInstagram, u, "https://instagram.com/"+u, time.Now())
		_, err := st.InsertSocialProfile(ctx, p)
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}

	res, err := d.Review(ctx, ids[:1], ActionQualify)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	res, err = d.Review(ctx, ids[:2], ActionReject)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, ids[:1], res.Skipped)
	res, err = d.Review(ctx, ids[2:], ActionDelete)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)

	got, err := st.GetSocialProfile(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, model.SocialQualified, got.DiscoveryStatus)
}

func TestRefusal_Error(t *testing.T) {
	err := refuse(KindNoWork, "no prospect is ready for %s", model.JobVerify)
	assert.Equal(t, "NO_WORK: no prospect is ready for verify", err.Error())
}
