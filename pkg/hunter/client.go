// Package hunter provides a client for the Hunter.io email finder and
// verifier APIs.
package hunter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

const defaultBaseURL = "https://api.hunter.io/v2"

// Provider is the limiter and breaker key of this client.
const Provider = "hunter"

// Client performs Hunter.io API operations.
type Client interface {
	// DomainSearch returns the addresses Hunter knows for a domain.
	DomainSearch(ctx context.Context, domain string, limit int) (*DomainSearchResponse, error)
	// VerifyEmail checks the deliverability of one address.
	VerifyEmail(ctx context.Context, email string) (*VerifyResponse, error)
}

// DomainSearchResponse is the response of the domain search endpoint.
type DomainSearchResponse struct {
	Data DomainData `json:"data"`
	// Raw is the undecoded response body, kept for audit.
	Raw json.RawMessage `json:"-"`
}

// DomainData holds the addresses of a domain.
type DomainData struct {
	Domain       string        `json:"domain"`
	Organization string        `json:"organization"`
	Pattern      string        `json:"pattern"`
	Emails       []DomainEmail `json:"emails"`
}

// DomainEmail is one address found for a domain.
type DomainEmail struct {
	Value      string `json:"value"`
	Type       string `json:"type"`
	Confidence int    `json:"confidence"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Position   string `json:"position"`
}

// VerifyResponse is the response of the email verifier endpoint.
type VerifyResponse struct {
	Data VerifyData      `json:"data"`
	Raw  json.RawMessage `json:"-"`
}

// VerifyData holds a verification verdict.
type VerifyData struct {
	Email  string `json:"email"`
	Status string `json:"status"`
	Result string `json:"result"`
	Score  int    `json:"score"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Hunter.io client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	params.Set("api_key", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, resilience.Permanent(Provider, eris.Wrap(err, "hunter: create request"))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "hunter: get %s", path)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "hunter: read response")
	}
	// 202 means the verification is still running on Hunter's side.
	if resp.StatusCode == http.StatusAccepted {
		return nil, resilience.Transient(Provider, eris.New("hunter: verification still in progress"))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.FromResponse(Provider, resp, string(body))
	}
	return body, nil
}

func (c *httpClient) DomainSearch(ctx context.Context, domain string, limit int) (*DomainSearchResponse, error) {
	params := url.Values{"domain": {domain}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.get(ctx, "/domain-search", params)
	if err != nil {
		return nil, err
	}
	var out DomainSearchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, resilience.Permanent(Provider, eris.Wrap(err, "hunter: unmarshal domain search"))
	}
	out.Raw = body
	return &out, nil
}

func (c *httpClient) VerifyEmail(ctx context.Context, email string) (*VerifyResponse, error) {
	body, err := c.get(ctx, "/email-verifier", url.Values{"email": {email}})
	if err != nil {
		return nil, err
	}
	var out VerifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, resilience.Permanent(Provider, eris.Wrap(err, "hunter: unmarshal verification"))
	}
	out.Raw = body
	return &out, nil
}
