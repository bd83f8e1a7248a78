package runner

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/settings"
	"github.com/sells-group/outreach-cli/internal/stage"
	"github.com/sells-group/outreach-cli/internal/store"
)

type funcExecutors map[model.JobType]stage.Func

func (f funcExecutors) For(t model.JobType) (stage.Func, error) {
	fn, ok := f[t]
	if !ok {
		return nil, eris.Errorf("no executor for %s", t)
	}
	return fn, nil
}

func newTestRunner(t *testing.T, x Executors, cfg Config) (*Runner, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "runner.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	guards := resilience.NewGuards(resilience.NewLimiters(nil, 6000), resilience.DefaultRetryConfig(),
		resilience.DefaultCircuitBreakerConfig(), time.Second)
	return New(st, settings.New(st, time.Millisecond), guards, x, cfg), st
}

func createJob(t *testing.T, st store.Store, jobType model.JobType) *model.Job {
	t.Helper()
	job := &model.Job{ID: uuid.New().String(), Type: jobType, ScopeKey: uuid.New().String(), CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateJob(context.Background(), job))
	return job
}

func getJob(t *testing.T, st store.Store, id string) *model.Job {
	t.Helper()
	job, err := st.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func TestRun_CompletesAndStoresResult(t *testing.T) {
	r, st := newTestRunner(t, funcExecutors{
		model.JobScrape: func(_ context.Context, env *stage.Env) error {
			env.Result.Record(model.ItemOutcome{ID: "p1", Outcome: model.OutcomeScraped})
			return nil
		},
	}, Config{})
	job := createJob(t, st, model.JobScrape)

	done := r.Run(context.Background(), job.ID)

	require.NotNil(t, done)
	assert.Equal(t, model.JobCompleted, done.Status)
	require.NotNil(t, done.Result)
	assert.Equal(t, 1, done.Result.Succeeded)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)
	assert.Empty(t, r.Running())
}

func TestRun_ExecutorErrorFailsJob(t *testing.T) {
	r, st := newTestRunner(t, funcExecutors{
		model.JobVerify: func(context.Context, *stage.Env) error { return eris.New("verify: store unavailable") },
		model.JobDraft:  func(context.Context, *stage.Env) error { panic("boom") },
	}, Config{})

	failed := r.Run(context.Background(), createJob(t, st, model.JobVerify).ID)
	assert.Equal(t, model.JobFailed, failed.Status)
	require.NotNil(t, failed.ErrorMessage)
	assert.Contains(t, *failed.ErrorMessage, "store unavailable")

	panicked := r.Run(context.Background(), createJob(t, st, model.JobDraft).ID)
	assert.Equal(t, model.JobFailed, panicked.Status)
	assert.Contains(t, *panicked.ErrorMessage, "panicked")

	unknown := r.Run(context.Background(), createJob(t, st, model.JobSend).ID)
	assert.Equal(t, model.JobFailed, unknown.Status)
}

func TestRun_TimeoutFailsJob(t *testing.T) {
	r, st := newTestRunner(t, funcExecutors{
		model.JobScrape: func(ctx context.Context, _ *stage.Env) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}, Config{JobTimeout: 20 * time.Millisecond})

	done := r.Run(context.Background(), createJob(t, st, model.JobScrape).ID)
	assert.Equal(t, model.JobFailed, done.Status)
	assert.Equal(t, timeoutReason, *done.ErrorMessage)
}

func TestRun_SkipsJobCancelledWhilePending(t *testing.T) {
	var calls atomic.Int32
	r, st := newTestRunner(t, funcExecutors{
		model.JobScrape: func(context.Context, *stage.Env) error { calls.Add(1); return nil },
	}, Config{})
	job := createJob(t, st, model.JobScrape)
	ok, err := r.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	require.True(t, ok)

	done := r.Run(context.Background(), job.ID)
	assert.Equal(t, model.JobCancelled, done.Status)
	assert.Zero(t, calls.Load())
}

func TestCancel_StopsAtCheckpoint(t *testing.T) {
	r, st := newTestRunner(t, funcExecutors{
		model.JobScrape: func(ctx context.Context, env *stage.Env) error {
			for i := 0; ; i++ {
				if err := env.Checkpoint(ctx); err != nil {
					return err
				}
				env.Result.Record(model.ItemOutcome{ID: uuid.New().String(), Outcome: model.OutcomeScraped})
				time.Sleep(2 * time.Millisecond)
			}
		},
	}, Config{})
	job := createJob(t, st, model.JobScrape)
	r.Submit(job)
	require.Eventually(t, func() bool { return len(r.Running()) == 1 }, 2*time.Second, time.Millisecond)

	ok, err := r.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	r.Wait()

	done := getJob(t, st, job.ID)
	assert.Equal(t, model.JobCancelled, done.Status)
	require.NotNil(t, done.Result)
	assert.True(t, done.Result.Cancelled)
	assert.Positive(t, done.Result.Processed)

	again, err := r.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	assert.False(t, again)
}

func TestSubmit_BoundsInflightJobs(t *testing.T) {
	var inflight, peak atomic.Int32
	slow := func(context.Context, *stage.Env) error {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inflight.Add(-1)
		return nil
	}
	r, st := newTestRunner(t, funcExecutors{model.JobScrape: slow, model.JobVerify: slow, model.JobDraft: slow}, Config{MaxInflight: 2})

	var ids []string
	for _, jt := range []model.JobType{model.JobScrape, model.JobVerify, model.JobDraft} {
		job := createJob(t, st, jt)
		ids = append(ids, job.ID)
		r.Submit(job)
	}
	r.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	for _, id := range ids {
		assert.Equal(t, model.JobCompleted, getJob(t, st, id).Status)
	}
}

func TestStart_ReconcilesInterruptedJobs(t *testing.T) {
	ctx := context.Background()
	var ran atomic.Int32
	r, st := newTestRunner(t, funcExecutors{
		model.JobVerify: func(context.Context, *stage.Env) error { ran.Add(1); return nil },
	}, Config{})

	stale := createJob(t, st, model.JobScrape)
	ok, err := st.StartJob(ctx, stale.ID, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	scraping := model.NewProspect("a.test", "https://a.test", "A", time.Now().UTC())
	scraping.ApprovalStatus = model.ApprovalApproved
	sending := model.NewProspect("b.test", "https://b.test", "B", time.Now().UTC())
	sending.ApprovalStatus = model.ApprovalApproved
	sending.ScrapeStatus = model.ScrapeScraped
	email := "hi@b.test"
	sending.ContactEmail = &email
	sending.VerificationStatus = model.VerificationVerified
	sending.DraftStatus = model.DraftDrafted
	subject, body := "Hello", "Hi"
	sending.DraftSubject, sending.DraftBody = &subject, &body
	for _, p := range []*model.Prospect{scraping, sending} {
		_, err := st.InsertProspect(ctx, p)
		require.NoError(t, err)
	}
	_, err = st.UpdateProspect(ctx, scraping.ID, func(p *model.Prospect) error { return p.Claim(model.AxisScrape, stale.ID) })
	require.NoError(t, err)
	_, err = st.UpdateProspect(ctx, sending.ID, func(p *model.Prospect) error { return p.Claim(model.AxisSend, stale.ID) })
	require.NoError(t, err)

	queued := createJob(t, st, model.JobVerify)

	require.NoError(t, r.Start(ctx))
	r.Wait()

	failed := getJob(t, st, stale.ID)
	assert.Equal(t, model.JobFailed, failed.Status)
	assert.Equal(t, restartReason, *failed.ErrorMessage)

	gotScrape, err := st.GetProspect(ctx, scraping.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScrapeNotStarted, gotScrape.ScrapeStatus)
	assert.Nil(t, gotScrape.ClaimJobID)

	gotSend, err := st.GetProspect(ctx, sending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SendFailed, gotSend.SendStatus)
	assert.Equal(t, store.InterruptedReason, *gotSend.LastError)

	assert.Equal(t, model.JobCompleted, getJob(t, st, queued.ID).Status)
	assert.Equal(t, int32(1), ran.Load())
}

func TestRun_SweepsClaimsLeftByExecutor(t *testing.T) {
	ctx := context.Background()
	var claimed string
	r, st := newTestRunner(t, funcExecutors{
		model.JobScrape: func(ctx context.Context, env *stage.Env) error {
			_, err := env.Store.UpdateProspect(ctx, claimed, func(p *model.Prospect) error {
				return p.Claim(model.AxisScrape, env.Job.ID)
			})
			if err != nil {
				return err
			}
			return eris.New("scrape: lost the store mid-batch")
		},
	}, Config{})
	p := model.NewProspect("a.test", "https://a.test", "A", time.Now().UTC())
	p.ApprovalStatus = model.ApprovalApproved
	_, err := st.InsertProspect(ctx, p)
	require.NoError(t, err)
	claimed = p.ID

	done := r.Run(ctx, createJob(t, st, model.JobScrape).ID)
	assert.Equal(t, model.JobFailed, done.Status)

	got, err := st.GetProspect(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScrapeNotStarted, got.ScrapeStatus)
	assert.Nil(t, got.ClaimJobID)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		timedOut bool
		shutdown bool
		status   model.JobStatus
		msg      string
	}{
		{"ok", nil, false, false, model.JobCompleted, ""},
		{"cancelled", stage.ErrCancelled, false, false, model.JobCancelled, ""},
		{"wrapped cancel", eris.Wrap(stage.ErrCancelled, "scrape"), false, false, model.JobCancelled, ""},
		{"timeout", context.DeadlineExceeded, true, false, model.JobFailed, timeoutReason},
		{"shutdown", context.Canceled, false, true, model.JobFailed, shutdownReason},
		{"error", eris.New("bad"), false, false, model.JobFailed, "bad"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg := classify(tt.err, tt.timedOut, tt.shutdown)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.msg, msg)
		})
	}
}
