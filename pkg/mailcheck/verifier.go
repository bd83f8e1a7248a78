// Package mailcheck verifies email addresses locally: syntax, known typos,
// disposable domains and MX records. It needs no API key and serves as the
// verifier when no hosted verifier is configured.
package mailcheck

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/badoux/checkmail"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

// Provider is the limiter and breaker key of this verifier.
const Provider = "mailcheck"

// Verdicts.
const (
	Valid   = "valid"
	Invalid = "invalid"
	Risky   = "risky"
)

// Result is the verdict on one address.
type Result struct {
	Email   string  `json:"email"`
	Verdict string  `json:"verdict"`
	Score   float64 `json:"score"`
	Reason  string  `json:"reason"`
	MX      string  `json:"mx,omitempty"`
}

// Resolver looks up mail exchangers. *net.Resolver satisfies it.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

// Verifier checks addresses without sending mail.
type Verifier struct {
	resolver Resolver
}

// New creates a Verifier. A nil resolver uses net.DefaultResolver.
func New(r Resolver) *Verifier {
	if r == nil {
		r = net.DefaultResolver
	}
	return &Verifier{resolver: r}
}

var disposableDomains = map[string]bool{
	"mailinator.com": true, "guerrillamail.com": true, "10minutemail.com": true,
	"tempmail.com": true, "temp-mail.org": true, "yopmail.com": true,
	"trashmail.com": true, "getnada.com": true, "sharklasers.com": true,
	"dispostable.com": true, "maildrop.cc": true, "throwawaymail.com": true,
}

var freeProviders = map[string]bool{
	"gmail.com": true, "yahoo.com": true, "outlook.com": true, "hotmail.com": true,
	"aol.com": true, "protonmail.com": true, "icloud.com": true, "mail.com": true,
	"yandex.com": true, "zoho.com": true, "gmx.com": true,
}

var commonTypos = map[string]string{
	"gmai.com":   "gmail.com",
	"gmal.com":   "gmail.com",
	"gmail.co":   "gmail.com",
	"yaho.com":   "yahoo.com",
	"hotmai.com": "hotmail.com",
	"outlok.com": "outlook.com",
}

// Verify classifies email. A DNS failure that may clear on retry is
// returned as a transient error; every other outcome is a verdict.
func (v *Verifier) Verify(ctx context.Context, email string) (*Result, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	res := &Result{Email: email, Verdict: Invalid}

	if err := checkmail.ValidateFormat(email); err != nil {
		res.Reason = "malformed address"
		return res, nil
	}
	at := strings.LastIndex(email, "@")
	local, domain := email[:at], email[at+1:]

	if fix, ok := commonTypos[domain]; ok {
		res.Reason = "likely typo of " + local + "@" + fix
		return res, nil
	}

	mx, err := v.resolver.LookupMX(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			res.Reason = "domain has no mail exchanger"
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, resilience.Transient(Provider, eris.Wrapf(err, "mailcheck: lookup mx for %s", domain))
	}
	if len(mx) == 0 {
		res.Reason = "domain has no mail exchanger"
		return res, nil
	}
	res.MX = strings.TrimSuffix(mx[0].Host, ".")

	switch {
	case disposableDomains[domain]:
		res.Verdict, res.Score, res.Reason = Risky, 0.2, "disposable domain"
	case freeProviders[domain]:
		res.Verdict, res.Score, res.Reason = Risky, 0.5, "free mailbox provider"
	default:
		res.Verdict, res.Score, res.Reason = Valid, 0.8, "mail exchanger found"
	}
	return res, nil
}
