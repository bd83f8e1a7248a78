// Package provider adapts the external clients to the collaborator
// contracts the stage executors call. Every collaborator names the
// provider key its calls are rate limited and circuit broken under.
package provider

import (
	"context"
	"encoding/json"

	"github.com/sells-group/outreach-cli/internal/extract"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/pkg/mailer"
	"github.com/sells-group/outreach-cli/pkg/social"
)

// SearchResult is one organic search hit.
type SearchResult struct {
	URL             string `json:"url"`
	Title           string `json:"title"`
	Rank            int    `json:"rank"`
	TrafficEstimate *int   `json:"traffic_estimate,omitempty"`
}

// SERP searches the web for candidate websites.
type SERP interface {
	Provider() string
	Search(ctx context.Context, query, location string, pageSize int) ([]SearchResult, error)
}

// SiteSearcher restricts a search to one site, used to find social
// profiles.
type SiteSearcher interface {
	Provider() string
	SearchSite(ctx context.Context, site, query, location string, pageSize int) ([]SearchResult, error)
}

// EmailExtractor fetches a page and extracts the addresses on it.
type EmailExtractor interface {
	Provider() string
	FetchAndExtract(ctx context.Context, url string) (*extract.Result, error)
}

// FoundEmail is one address an email finder knows for a domain.
type FoundEmail struct {
	Email      string  `json:"email"`
	Confidence float64 `json:"confidence"`
	Person     string  `json:"person,omitempty"`
}

// Findings is a finder answer with the raw payload kept for audit.
type Findings struct {
	Emails  []FoundEmail
	Payload json.RawMessage
}

// Best returns the most confident address, or false when there is none.
func (f *Findings) Best() (FoundEmail, bool) {
	var best FoundEmail
	found := false
	for _, e := range f.Emails {
		if e.Email == "" {
			continue
		}
		if !found || e.Confidence > best.Confidence {
			best, found = e, true
		}
	}
	return best, found
}

// EmailFinder looks up addresses by domain.
type EmailFinder interface {
	Provider() string
	FindByDomain(ctx context.Context, domain string) (*Findings, error)
}

// Verdict values of an email verifier.
const (
	VerdictValid   = "valid"
	VerdictInvalid = "invalid"
	VerdictRisky   = "risky"
)

// Verdict is an email verifier answer.
type Verdict struct {
	Verdict string          `json:"verdict"`
	Score   float64         `json:"score"`
	Payload json.RawMessage `json:"-"`
}

// Status maps the verdict onto the verification axis.
func (v *Verdict) Status() model.VerificationStatus {
	switch v.Verdict {
	case VerdictValid:
		return model.VerificationVerified
	case VerdictInvalid:
		return model.VerificationInvalid
	}
	return model.VerificationRisky
}

// EmailVerifier classifies one address.
type EmailVerifier interface {
	Provider() string
	Verify(ctx context.Context, email string) (*Verdict, error)
}

// ComposeRequest asks the LLM for one message.
type ComposeRequest struct {
	Template string
	Vars     map[string]any
	// Stage labels cost attribution.
	Stage string
}

// Composed is an LLM answer.
type Composed struct {
	Subject string
	Body    string
}

// LLM composes outreach messages from a template and prospect context.
type LLM interface {
	Provider() string
	Compose(ctx context.Context, req ComposeRequest) (*Composed, error)
}

// MailTransport sends email. mailer.SMTP and mailer.SES satisfy it.
type MailTransport = mailer.Transport

// SocialSender sends platform messages. *social.Registry satisfies it.
type SocialSender interface {
	Supports(p model.Platform) bool
	Send(ctx context.Context, msg social.Message) (string, error)
}

// Set bundles every collaborator. Optional ones may be nil.
type Set struct {
	SERP       SERP
	SiteSearch SiteSearcher
	Extractor  EmailExtractor
	Finder     EmailFinder
	Verifier   EmailVerifier
	LLM        LLM
	Mail       MailTransport
	Social     SocialSender
}
