package provider

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/extract"
	"github.com/sells-group/outreach-cli/internal/fetcher"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/pkg/hunter"
	"github.com/sells-group/outreach-cli/pkg/jina"
	"github.com/sells-group/outreach-cli/pkg/mailcheck"
)

// PageExtractor adapts the page extractor to EmailExtractor.
type PageExtractor struct {
	*extract.Extractor
}

// NewPageExtractor builds an extractor over f, falling back to the Jina
// reader when reader is non-nil.
func NewPageExtractor(f fetcher.Fetcher, reader jina.Client) *PageExtractor {
	var r extract.Reader
	if reader != nil {
		r = jinaReader{reader}
	}
	return &PageExtractor{extract.New(f, r)}
}

// Provider implements EmailExtractor.
func (PageExtractor) Provider() string { return fetcher.Provider }

type jinaReader struct {
	client jina.Client
}

func (r jinaReader) ReadText(ctx context.Context, url string) (string, error) {
	resp, err := r.client.Read(ctx, url)
	if err != nil {
		return "", err
	}
	return resp.Data.Content, nil
}

// HunterFinder adapts Hunter domain search to EmailFinder.
type HunterFinder struct {
	client hunter.Client
	limit  int
}

// NewHunterFinder wraps a Hunter client.
func NewHunterFinder(c hunter.Client) *HunterFinder {
	return &HunterFinder{client: c, limit: 10}
}

// Provider implements EmailFinder.
func (h *HunterFinder) Provider() string { return hunter.Provider }

// FindByDomain implements EmailFinder.
func (h *HunterFinder) FindByDomain(ctx context.Context, domain string) (*Findings, error) {
	resp, err := h.client.DomainSearch(ctx, domain, h.limit)
	if err != nil {
		return nil, err
	}
	out := &Findings{Payload: resp.Raw}
	for _, e := range resp.Data.Emails {
		out.Emails = append(out.Emails, FoundEmail{
			Email:      strings.ToLower(e.Value),
			Confidence: float64(e.Confidence) / 100,
			Person:     strings.TrimSpace(e.FirstName + " " + e.LastName),
		})
	}
	return out, nil
}

// HunterVerifier adapts Hunter verification to EmailVerifier.
type HunterVerifier struct {
	client hunter.Client
}

// NewHunterVerifier wraps a Hunter client.
func NewHunterVerifier(c hunter.Client) *HunterVerifier {
	return &HunterVerifier{client: c}
}

// Provider implements EmailVerifier.
func (h *HunterVerifier) Provider() string { return hunter.Provider }

// Verify implements EmailVerifier. Catch-all, webmail and unknown answers
// are risky.
func (h *HunterVerifier) Verify(ctx context.Context, email string) (*Verdict, error) {
	resp, err := h.client.VerifyEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	v := &Verdict{Verdict: VerdictRisky, Score: float64(resp.Data.Score) / 100, Payload: resp.Raw}
	switch resp.Data.Status {
	case "valid":
		v.Verdict = VerdictValid
	case "invalid", "disposable":
		v.Verdict = VerdictInvalid
	}
	return v, nil
}

// LocalVerifier adapts the DNS-based checker to EmailVerifier.
type LocalVerifier struct {
	verifier *mailcheck.Verifier
}

// NewLocalVerifier wraps a mailcheck verifier.
func NewLocalVerifier(v *mailcheck.Verifier) *LocalVerifier {
	return &LocalVerifier{verifier: v}
}

// Provider implements EmailVerifier.
func (l *LocalVerifier) Provider() string { return mailcheck.Provider }

// Verify implements EmailVerifier.
func (l *LocalVerifier) Verify(ctx context.Context, email string) (*Verdict, error) {
	res, err := l.verifier.Verify(ctx, email)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return nil, resilience.Permanent(mailcheck.Provider, eris.Wrap(err, "provider: encode verdict"))
	}
	return &Verdict{Verdict: res.Verdict, Score: res.Score, Payload: payload}, nil
}
