package model

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Discovery query statuses.
const (
	QueryCompleted = "completed"
	QueryFailed    = "failed"
)

// DiscoveryQuery is one executed SERP search and what it produced.
type DiscoveryQuery struct {
	ID                      string    `json:"id"`
	JobID                   string    `json:"job_id"`
	Keyword                 string    `json:"keyword"`
	Location                string    `json:"location"`
	Category                string    `json:"category"`
	Status                  string    `json:"status"`
	Error                   *string   `json:"error,omitempty"`
	ResultsFound            int       `json:"results_found"`
	ResultsSaved            int       `json:"results_saved"`
	ResultsSkippedDuplicate int       `json:"results_skipped_duplicate"`
	ResultsSkippedExisting  int       `json:"results_skipped_existing"`
	ResultsFiltered         int       `json:"results_filtered"`
	CreatedAt               time.Time `json:"created_at"`
}

// NewDiscoveryQuery starts a query record for one category × location pair.
func NewDiscoveryQuery(jobID, category, location, keywords string, now time.Time) *DiscoveryQuery {
	return &DiscoveryQuery{
		ID:        uuid.New().String(),
		JobID:     jobID,
		Keyword:   SearchPhrase(category, keywords),
		Location:  location,
		Category:  category,
		CreatedAt: now,
	}
}

// SearchPhrase joins a category with optional extra keywords.
func SearchPhrase(category, keywords string) string {
	keywords = strings.TrimSpace(keywords)
	if keywords == "" {
		return category
	}
	return category + " " + keywords
}

// NormalizeDomain reduces a URL or host to the bare lowercase domain used as
// the discovery dedupe key.
func NormalizeDomain(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	return strings.TrimSuffix(host, ".")
}

// SendLogEntry records one outbound mail transport attempt.
type SendLogEntry struct {
	ID             string    `json:"id"`
	JobID          string    `json:"job_id"`
	ProspectID     string    `json:"prospect_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	MessageID      *string   `json:"message_id,omitempty"`
	Error          *string   `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Reply records an inbound reply on a thread.
type Reply struct {
	ThreadID   string    `json:"thread_id"`
	ReceivedAt time.Time `json:"received_at"`
}
