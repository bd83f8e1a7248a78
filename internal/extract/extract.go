// Package extract finds contact email addresses on prospect web pages.
package extract

import (
	"bytes"
	"context"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/fetcher"
)

// Provenance values say where an address was found.
const (
	ProvenanceMailto      = "mailto"
	ProvenancePageText    = "page_text"
	ProvenanceContactPage = "contact_page"
	ProvenanceReader      = "reader"
)

var emailPattern = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,24}\b`)

// Obfuscated forms such as "info [at] example [dot] com".
var obfuscatedPattern = regexp.MustCompile(`(?i)\b([a-z0-9._%+\-]+)\s*[\[\(]\s*at\s*[\]\)]\s*([a-z0-9\-]+(?:\s*[\[\(]\s*dot\s*[\]\)]\s*[a-z0-9\-]+)+)\b`)
var obfuscatedDot = regexp.MustCompile(`(?i)\s*[\[\(]\s*dot\s*[\]\)]\s*`)

// Image names and placeholder addresses that match the pattern but are not
// contacts.
var ignoredSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg"}
var ignoredLocals = []string{"example", "yourname", "name", "email", "user", "noreply", "no-reply"}
var ignoredDomains = []string{"example.com", "sentry.io", "wixpress.com", "domain.com"}

// contactLinkWords mark links worth one extra fetch when the landing page
// has no address.
var contactLinkWords = []string{"contact", "about", "impressum", "kontakt", "team"}

// Result is what one extraction found.
type Result struct {
	Emails     []string `json:"emails"`
	Provenance string   `json:"provenance,omitempty"`
	SourceURL  string   `json:"source_url,omitempty"`
}

// Reader returns a page rendered to plain text, used when direct fetches
// find nothing.
type Reader interface {
	ReadText(ctx context.Context, url string) (string, error)
}

// Extractor fetches a page and pulls addresses from it.
type Extractor struct {
	fetcher fetcher.Fetcher
	reader  Reader
}

// New creates an extractor. reader may be nil.
func New(f fetcher.Fetcher, reader Reader) *Extractor {
	return &Extractor{fetcher: f, reader: reader}
}

// FetchAndExtract fetches pageURL, then one contact-like page it links to
// if the first has no address, then the reader rendering if still empty.
// An error is returned only when the landing page itself cannot be fetched.
func (e *Extractor) FetchAndExtract(ctx context.Context, pageURL string) (*Result, error) {
	page, err := e.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		if e.reader == nil {
			return nil, err
		}
		text, rerr := e.reader.ReadText(ctx, pageURL)
		if rerr != nil {
			return nil, eris.Wrapf(err, "extract: fetch %s (reader also failed: %v)", pageURL, rerr)
		}
		return &Result{Emails: FromText(text), Provenance: ProvenanceReader, SourceURL: pageURL}, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, eris.Wrapf(err, "extract: parse %s", pageURL)
	}
	if emails, prov := FromDocument(doc); len(emails) > 0 {
		return &Result{Emails: emails, Provenance: prov, SourceURL: page.FinalURL}, nil
	}

	if link := contactLink(doc, page.FinalURL); link != "" {
		if sub, err := e.fetcher.Fetch(ctx, link); err == nil {
			if subDoc, err := goquery.NewDocumentFromReader(bytes.NewReader(sub.Body)); err == nil {
				if emails, _ := FromDocument(subDoc); len(emails) > 0 {
					return &Result{Emails: emails, Provenance: ProvenanceContactPage, SourceURL: sub.FinalURL}, nil
				}
			}
		} else {
			zap.L().Debug("extract: contact page fetch failed", zap.String("url", link), zap.Error(err))
		}
	}

	if e.reader != nil {
		text, err := e.reader.ReadText(ctx, pageURL)
		if err == nil {
			if emails := FromText(text); len(emails) > 0 {
				return &Result{Emails: emails, Provenance: ProvenanceReader, SourceURL: pageURL}, nil
			}
		} else {
			zap.L().Debug("extract: reader failed", zap.String("url", pageURL), zap.Error(err))
		}
	}
	return &Result{SourceURL: page.FinalURL}, nil
}

// FromDocument returns addresses from mailto links first, then from the
// visible text, with the provenance of the first non-empty source.
func FromDocument(doc *goquery.Document) ([]string, string) {
	var mailto []string
	doc.Find(`a[href^="mailto:"], a[href^="MAILTO:"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		addr := href[len("mailto:"):]
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		if unescaped, err := url.PathUnescape(addr); err == nil {
			addr = unescaped
		}
		for _, a := range strings.Split(addr, ",") {
			mailto = append(mailto, a)
		}
	})
	if emails := normalize(mailto); len(emails) > 0 {
		return emails, ProvenanceMailto
	}

	doc.Find("script, style, noscript").Remove()
	if emails := FromText(doc.Text()); len(emails) > 0 {
		return emails, ProvenancePageText
	}
	return nil, ""
}

// FromText returns the addresses in free text, including simple
// obfuscations, in order of first appearance.
func FromText(text string) []string {
	found := emailPattern.FindAllString(text, -1)
	for _, m := range obfuscatedPattern.FindAllStringSubmatch(text, -1) {
		found = append(found, m[1]+"@"+obfuscatedDot.ReplaceAllString(m[2], "."))
	}
	return normalize(found)
}

func normalize(candidates []string) []string {
	var out []string
	for _, c := range candidates {
		addr := strings.ToLower(strings.Trim(strings.TrimSpace(c), ".,;:<>\"'()[]"))
		if !emailPattern.MatchString(addr) || ignored(addr) || slices.Contains(out, addr) {
			continue
		}
		out = append(out, addr)
	}
	return out
}

func ignored(addr string) bool {
	for _, s := range ignoredSuffixes {
		if strings.HasSuffix(addr, s) {
			return true
		}
	}
	local, domain, _ := strings.Cut(addr, "@")
	return slices.Contains(ignoredLocals, local) || slices.Contains(ignoredDomains, domain)
}

// contactLink returns the first same-host link whose text or path looks
// like a contact page.
func contactLink(doc *goquery.Document, base string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return true
		}
		abs := baseURL.ResolveReference(ref)
		if abs.Host != baseURL.Host || abs.Path == baseURL.Path {
			return true
		}
		label := strings.ToLower(s.Text() + " " + abs.Path)
		for _, w := range contactLinkWords {
			if strings.Contains(label, w) {
				abs.Fragment = ""
				found = abs.String()
				return false
			}
		}
		return true
	})
	return found
}

// Pick chooses the address to contact for domain: one on the prospect's
// own domain when present, otherwise the first found.
func Pick(emails []string, domain string) string {
	if len(emails) == 0 {
		return ""
	}
	domain = strings.TrimPrefix(strings.ToLower(domain), "www.")
	for _, e := range emails {
		_, d, _ := strings.Cut(e, "@")
		if d == domain || strings.HasSuffix(d, "."+domain) {
			return e
		}
	}
	return emails[0]
}
