package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/fetcher"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/prompt"
	"github.com/sells-group/outreach-cli/internal/provider"
	anthropicpkg "github.com/sells-group/outreach-cli/pkg/anthropic"
	"github.com/sells-group/outreach-cli/pkg/google"
	"github.com/sells-group/outreach-cli/pkg/hunter"
	"github.com/sells-group/outreach-cli/pkg/jina"
	"github.com/sells-group/outreach-cli/pkg/mailcheck"
	"github.com/sells-group/outreach-cli/pkg/mailer"
	"github.com/sells-group/outreach-cli/pkg/social"
)

// buildProviders wires the collaborators c has credentials for. A role left
// nil fails the jobs that need it.
func buildProviders(ctx context.Context, c *config.Config) (provider.Set, error) {
	var set provider.Set

	jinaOpts := []jina.Option{jina.WithBaseURL(c.Jina.BaseURL)}
	if c.Jina.SearchBaseURL != "" {
		jinaOpts = append(jinaOpts, jina.WithSearchBaseURL(c.Jina.SearchBaseURL))
	}
	jinaClient := jina.NewClient(c.Jina.Key, jinaOpts...)

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    c.Scrape.UserAgent,
		Timeout:      time.Duration(c.Scrape.TimeoutSecs) * time.Second,
		MaxBodyBytes: c.Scrape.MaxBodyBytes,
		HostRate:     rate.Limit(c.Scrape.HostRate),
	})
	set.Extractor = provider.NewPageExtractor(f, jinaClient)

	if c.Jina.Key != "" {
		search := provider.NewJinaSearch(jinaClient)
		set.SiteSearch = search
		if c.Providers.SERP == config.SERPJina {
			set.SERP = search
		}
	} else {
		zap.L().Debug("OUTREACH_JINA_KEY not set, jina search disabled")
	}
	if c.Providers.SERP == config.SERPGoogle {
		if c.Google.Key != "" {
			set.SERP = provider.NewGooglePlaces(google.NewClient(c.Google.Key, google.WithBaseURL(c.Google.BaseURL)))
		} else {
			zap.L().Warn("providers.serp is google but OUTREACH_GOOGLE_KEY is not set")
		}
	}

	if c.Hunter.Key != "" {
		h := hunter.NewClient(c.Hunter.Key, hunter.WithBaseURL(c.Hunter.BaseURL))
		set.Finder = provider.NewHunterFinder(h)
		if c.Providers.Verifier == config.VerifyHunter {
			set.Verifier = provider.NewHunterVerifier(h)
		}
	}
	if c.Providers.Verifier == config.VerifyLocal {
		set.Verifier = provider.NewLocalVerifier(mailcheck.New(nil))
	}

	if c.Anthropic.Key != "" {
		prompts, err := prompt.Load(c.Prompts.Path)
		if err != nil {
			return set, eris.Wrap(err, "load prompts")
		}
		var opts []anthropicpkg.Option
		if c.Anthropic.BaseURL != "" {
			opts = append(opts, anthropicpkg.WithBaseURL(c.Anthropic.BaseURL))
		}
		set.LLM = provider.NewClaude(anthropicpkg.NewClient(c.Anthropic.Key, opts...), prompts, c.Anthropic.Model, c.Anthropic.MaxTokens)
	} else {
		zap.L().Warn("OUTREACH_ANTHROPIC_KEY not set, draft stages disabled")
	}

	switch c.Providers.Mail {
	case config.MailSMTP:
		if c.SMTP.Host != "" {
			set.Mail = mailer.NewSMTP(mailer.SMTPConfig{
				Host:     c.SMTP.Host,
				Port:     c.SMTP.Port,
				Username: c.SMTP.Username,
				Password: c.SMTP.Password,
				From:     c.SMTP.From,
				FromName: c.SMTP.FromName,
			})
		}
	case config.MailSES:
		if c.SES.From != "" {
			ses, err := mailer.NewSES(ctx, mailer.SESConfig{
				Region:          c.SES.Region,
				AccessKeyID:     c.SES.AccessKeyID,
				SecretAccessKey: c.SES.SecretAccessKey,
				From:            c.SES.From,
				FromName:        c.SES.FromName,
				ConfigSet:       c.SES.ConfigSet,
			})
			if err != nil {
				return set, err
			}
			set.Mail = ses
		}
	}
	if set.Mail == nil {
		zap.L().Warn("no mail transport configured, send stages disabled", zap.String("mail", c.Providers.Mail))
	}

	reg := social.NewRegistry()
	for name, relay := range c.Social.Relays {
		p, err := model.ParsePlatform(name)
		if err != nil {
			return set, eris.Wrapf(err, "social.relays.%s", name)
		}
		if relay.URL == "" {
			continue
		}
		reg.Register(p, social.NewWebhook(p, relay.URL, relay.Token))
	}
	set.Social = reg

	return set, nil
}
