package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/fetcher"
)

func doc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	d, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return d
}

func TestFromDocument_MailtoFirst(t *testing.T) {
	d := doc(t, `<html><body>
		<p>Write to press@a.test</p>
		<a href="mailto:Contact@A.test?subject=hi">Email us</a>
	</body></html>`)
	emails, prov := FromDocument(d)
	assert.Equal(t, []string{"contact@a.test"}, emails)
	assert.Equal(t, ProvenanceMailto, prov)
}

func TestFromDocument_TextIgnoresScripts(t *testing.T) {
	d := doc(t, `<html><head><script>var x = "tracker@sentry.io";</script></head>
		<body><p>Reach us at hello@gallery.test.</p><img src="logo@2x.png"></body></html>`)
	emails, prov := FromDocument(d)
	assert.Equal(t, []string{"hello@gallery.test"}, emails)
	assert.Equal(t, ProvenancePageText, prov)
}

func TestFromText(t *testing.T) {
	got := FromText(`info [at] studio [dot] test, sales@studio.test, SALES@studio.test, icon@2x.png, name@example.com`)
	assert.Equal(t, []string{"sales@studio.test", "info@studio.test"}, got)
}

func TestPick(t *testing.T) {
	assert.Equal(t, "", Pick(nil, "a.test"))
	assert.Equal(t, "owner@a.test", Pick([]string{"agency@other.test", "owner@a.test"}, "www.a.test"))
	assert.Equal(t, "agency@other.test", Pick([]string{"agency@other.test"}, "a.test"))
}

type stubReader struct {
	text string
	err  error
}

func (s stubReader) ReadText(context.Context, string) (string, error) { return s.text, s.err }

func newSite(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testFetcher() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{HostRate: 1000})
}

func TestFetchAndExtract_FollowsContactLink(t *testing.T) {
	srv := newSite(t, map[string]string{
		"/":           `<a href="/contact-us">Contact</a><a href="https://elsewhere.test/contact">x</a>`,
		"/contact-us": `<p>owner@b.test</p>`,
	})
	res, err := New(testFetcher(), nil).FetchAndExtract(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, []string{"owner@b.test"}, res.Emails)
	assert.Equal(t, ProvenanceContactPage, res.Provenance)
}

func TestFetchAndExtract_NoEmail(t *testing.T) {
	srv := newSite(t, map[string]string{"/": `<p>nothing here</p>`})
	res, err := New(testFetcher(), nil).FetchAndExtract(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.Empty(t, res.Emails)
}

func TestFetchAndExtract_ReaderFallback(t *testing.T) {
	srv := newSite(t, map[string]string{"/": `<p>rendered client side</p>`})
	res, err := New(testFetcher(), stubReader{text: "Contact: team@c.test"}).FetchAndExtract(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, []string{"team@c.test"}, res.Emails)
	assert.Equal(t, ProvenanceReader, res.Provenance)
}

func TestFetchAndExtract_FetchErrorWithoutReader(t *testing.T) {
	srv := newSite(t, map[string]string{})
	_, err := New(testFetcher(), nil).FetchAndExtract(context.Background(), srv.URL+"/missing")
	require.Error(t, err)

	_, err = New(testFetcher(), stubReader{err: eris.New("reader down")}).FetchAndExtract(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
}
