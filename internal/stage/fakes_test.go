package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/extract"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/provider"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/settings"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/pkg/mailer"
	"github.com/sells-group/outreach-cli/pkg/social"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "stage.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testGuards() *resilience.Guards {
	return resilience.NewGuards(
		resilience.NewLimiters(nil, 6000),
		resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
		resilience.CircuitBreakerConfig{FailureThreshold: 100, ResetTimeout: time.Minute},
		time.Second,
	)
}

// startJob creates a running job of jobType and its environment.
func startJob(t *testing.T, st store.Store, jobType model.JobType, params any) *Env {
	t.Helper()
	ctx := context.Background()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	job := &model.Job{ID: uuid.New().String(), Type: jobType, ScopeKey: uuid.New().String(), Params: raw, CreatedAt: testNow}
	require.NoError(t, st.CreateJob(ctx, job))
	ok, err := st.StartJob(ctx, job.ID, testNow)
	require.NoError(t, err)
	require.True(t, ok)
	env := NewEnv(st, settings.New(st, time.Millisecond), testGuards(), job)
	env.Now = func() time.Time { return testNow }
	return env
}

func saveSettings(t *testing.T, st store.Store, fn func(s *model.Settings)) {
	t.Helper()
	s := model.DefaultSettings()
	fn(&s)
	require.NoError(t, st.SaveSettings(context.Background(), s))
}

// seed inserts a prospect after fn adjusts it.
func seed(t *testing.T, st store.Store, domain string, offset int, fn func(p *model.Prospect)) *model.Prospect {
	t.Helper()
	p := model.NewProspect(domain, "https://"+domain+"/", domain, testNow.Add(-time.Hour).Add(time.Duration(offset)*time.Second))
	if fn != nil {
		fn(p)
	}
	ok, err := st.InsertProspect(context.Background(), p)
	require.NoError(t, err)
	require.True(t, ok)
	return p
}

func approved(p *model.Prospect) { p.ApprovalStatus = model.ApprovalApproved }

func withEmail(email string, v model.VerificationStatus) func(p *model.Prospect) {
	return func(p *model.Prospect) {
		approved(p)
		p.ScrapeStatus = model.ScrapeScraped
		p.ContactEmail = &email
		p.VerificationStatus = v
	}
}

func drafted(email string) func(p *model.Prospect) {
	return func(p *model.Prospect) {
		withEmail(email, model.VerificationVerified)(p)
		p.DraftStatus = model.DraftDrafted
		p.DraftSubject = strPtr("Collaboration")
		p.DraftBody = strPtr("Hi...")
	}
}

func get(t *testing.T, st store.Store, id string) *model.Prospect {
	t.Helper()
	p, err := st.GetProspect(context.Background(), id)
	require.NoError(t, err)
	return p
}

func outcomes(r *model.JobResult) map[string]model.Outcome {
	out := make(map[string]model.Outcome, len(r.Items))
	for _, it := range r.Items {
		out[it.ID] = it.Outcome
	}
	return out
}

type fakeSERP struct {
	mu      sync.Mutex
	results map[string][]provider.SearchResult
	fail    map[string]error
	queries []string
}

func (f *fakeSERP) Provider() string { return "serp" }

func (f *fakeSERP) Search(_ context.Context, query, location string, _ int) ([]provider.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query+"@"+location)
	if err := f.fail[location]; err != nil {
		return nil, err
	}
	return f.results[location], nil
}

func (f *fakeSERP) SearchSite(ctx context.Context, site, query, location string, pageSize int) ([]provider.SearchResult, error) {
	f.mu.Lock()
	res := f.results[site]
	f.mu.Unlock()
	return res, nil
}

type fakeExtractor struct {
	mu     sync.Mutex
	emails map[string][]string
	fail   map[string]error
	calls  int
	after  func(calls int)
}

func (f *fakeExtractor) Provider() string { return "http" }

func (f *fakeExtractor) FetchAndExtract(_ context.Context, url string) (*extract.Result, error) {
	f.mu.Lock()
	f.calls++
	calls := f.calls
	f.mu.Unlock()
	if f.after != nil {
		defer f.after(calls)
	}
	if err := f.fail[url]; err != nil {
		return nil, err
	}
	return &extract.Result{Emails: f.emails[url], SourceURL: url}, nil
}

type fakeFinder struct {
	found map[string][]provider.FoundEmail
	err   error
}

func (f *fakeFinder) Provider() string { return "hunter" }

func (f *fakeFinder) FindByDomain(_ context.Context, domain string) (*provider.Findings, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &provider.Findings{Emails: f.found[domain], Payload: json.RawMessage(`{"domain":"` + domain + `"}`)}, nil
}

type fakeVerifier struct {
	verdicts map[string]string
	err      error
	calls    int
}

func (f *fakeVerifier) Provider() string { return "verifier" }

func (f *fakeVerifier) Verify(_ context.Context, email string) (*provider.Verdict, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &provider.Verdict{Verdict: f.verdicts[email], Score: 0.9, Payload: json.RawMessage(`{"email":"` + email + `"}`)}, nil
}

type fakeLLM struct {
	mu      sync.Mutex
	subject string
	body    string
	err     error
	reqs    []provider.ComposeRequest
	// echo appends the addressee to the body.
	echo  bool
	after func(calls int)
}

func (f *fakeLLM) Provider() string { return "anthropic" }

func (f *fakeLLM) Compose(_ context.Context, req provider.ComposeRequest) (*provider.Composed, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	calls := len(f.reqs)
	f.mu.Unlock()
	if f.after != nil {
		defer f.after(calls)
	}
	if f.err != nil {
		return nil, f.err
	}
	body := f.body
	if f.echo {
		body = fmt.Sprintf("%s %v", body, req.Vars["contact_email"])
	}
	return &provider.Composed{Subject: f.subject, Body: body}, nil
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type fakeMail struct {
	mu   sync.Mutex
	sent []mailer.Message
	id   string
	err  error
	hook func()
}

func (f *fakeMail) Provider() string { return "smtp" }

func (f *fakeMail) Send(ctx context.Context, msg mailer.Message) (string, error) {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	if f.hook != nil {
		f.hook()
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.id, nil
}

type fakeTrigger struct {
	ids []string
}

func (f *fakeTrigger) TriggerSend(_ context.Context, id string) error {
	f.ids = append(f.ids, id)
	return nil
}

type fakePlatform struct {
	msgs []social.Message
}

func (f *fakePlatform) Send(_ context.Context, msg social.Message) (string, error) {
	f.msgs = append(f.msgs, msg)
	return "pm-1", nil
}

var errBoom = errors.New("boom")
