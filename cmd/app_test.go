package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/model"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store:      config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "app.db")},
		Server:     config.ServerConfig{Port: 8080},
		Providers:  config.ProvidersConfig{SERP: config.SERPJina, Verifier: config.VerifyLocal, Mail: config.MailSMTP},
		Runner:     config.RunnerConfig{MaxInflightJobs: 2, BatchSize: 10, RetryAttempts: 1, CallTimeoutSecs: 5},
		Jina:       config.JinaConfig{BaseURL: "http://127.0.0.1:1", SearchBaseURL: "http://127.0.0.1:1"},
		Scrape:     config.ScrapeConfig{TimeoutSecs: 1, HostRate: 1},
		RateLimits: config.RateLimitsConfig{DefaultPerMinute: 60},
		Social: config.SocialConfig{Relays: map[string]config.RelayConfig{
			"instagram": {URL: "http://127.0.0.1:1/relay"},
		}},
	}
}

func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func TestBuildProviders_OnlyConfiguredRoles(t *testing.T) {
	c := testConfig(t)
	set, err := buildProviders(context.Background(), c)
	require.NoError(t, err)

	assert.NotNil(t, set.Extractor)
	assert.NotNil(t, set.Verifier, "local verifier needs no key")
	assert.Nil(t, set.SERP, "jina search needs a key")
	assert.Nil(t, set.Finder)
	assert.Nil(t, set.LLM)
	assert.Nil(t, set.Mail)
	require.NotNil(t, set.Social)
	assert.True(t, set.Social.Supports(model.PlatformInstagram))
	assert.False(t, set.Social.Supports(model.PlatformLinkedIn))
}

func TestBuildProviders_WithKeys(t *testing.T) {
	c := testConfig(t)
	c.Jina.Key = "jk"
	c.Hunter = config.HunterConfig{Key: "hk", BaseURL: "http://127.0.0.1:1"}
	c.Providers.Verifier = config.VerifyHunter
	c.Anthropic = config.AnthropicConfig{Key: "ak", Model: "claude-sonnet-4-5-20250929", MaxTokens: 512}
	c.SMTP = config.SMTPConfig{Host: "localhost", Port: 2525, From: "me@example.com"}

	set, err := buildProviders(context.Background(), c)
	require.NoError(t, err)
	assert.NotNil(t, set.SERP)
	assert.NotNil(t, set.SiteSearch)
	assert.NotNil(t, set.Finder)
	assert.Equal(t, "hunter", set.Verifier.Provider())
	assert.NotNil(t, set.LLM)
	assert.NotNil(t, set.Mail)
}

func TestBuildProviders_UnknownRelayPlatform(t *testing.T) {
	c := testConfig(t)
	c.Social.Relays = map[string]config.RelayConfig{"myspace": {URL: "http://x"}}
	_, err := buildProviders(context.Background(), c)
	assert.Error(t, err)
}

func TestInitApp_QueueOnly(t *testing.T) {
	withConfig(t, testConfig(t))
	ctx := context.Background()

	env, err := initApp(ctx, config.ModeRun, false)
	require.NoError(t, err)
	defer env.Close()
	assert.Nil(t, env.Runner)

	doc, err := env.Settings.Get(ctx)
	require.NoError(t, err)
	doc.MasterSwitch = true
	require.NoError(t, env.Settings.Save(ctx, doc))

	job, err := env.Dispatcher.Discover(ctx, model.DiscoverParams{Categories: []string{"Art"}, Locations: []string{"Austin"}})
	require.NoError(t, err)

	stored, err := env.Store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, stored.Status)

	_, err = env.Dispatcher.Discover(ctx, model.DiscoverParams{Categories: []string{"Art"}, Locations: []string{"Austin"}})
	ref, ok := dispatch.AsRefusal(err)
	require.True(t, ok)
	assert.Equal(t, dispatch.KindConflict, ref.Kind)
}

func TestInitApp_RunsJobs(t *testing.T) {
	withConfig(t, testConfig(t))
	ctx := context.Background()

	env, err := initApp(ctx, config.ModeRun, true)
	require.NoError(t, err)
	defer env.Close()
	require.NotNil(t, env.Runner)

	doc, err := env.Settings.Get(ctx)
	require.NoError(t, err)
	doc.MasterSwitch = true
	require.NoError(t, env.Settings.Save(ctx, doc))

	// No SERP is configured, so the discover job fails instead of hanging.
	job, err := env.Dispatcher.Discover(ctx, model.DiscoverParams{Categories: []string{"Art"}, Locations: []string{"Austin"}})
	require.NoError(t, err)
	env.Runner.Wait()

	final, err := env.Store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, final.Status)
}

func TestInitApp_InvalidConfig(t *testing.T) {
	c := testConfig(t)
	c.Store.Driver = "mysql"
	withConfig(t, c)
	_, err := initApp(context.Background(), config.ModeRun, false)
	assert.Error(t, err)
}
