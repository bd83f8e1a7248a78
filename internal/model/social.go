package model

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Platform is a social network a profile lives on.
type Platform string

const (
	PlatformLinkedIn  Platform = "linkedin"
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformFacebook  Platform = "facebook"
)

// Platforms lists every supported platform.
var Platforms = []Platform{PlatformLinkedIn, PlatformInstagram, PlatformTikTok, PlatformFacebook}

var platformHosts = map[Platform]string{
	PlatformLinkedIn:  "linkedin.com",
	PlatformInstagram: "instagram.com",
	PlatformTikTok:    "tiktok.com",
	PlatformFacebook:  "facebook.com",
}

// Host returns the site a platform's profiles are served from.
func (p Platform) Host() string {
	return platformHosts[p]
}

// ParsePlatform maps a case-insensitive name onto a Platform.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := platformHosts[p]; !ok {
		return "", eris.Errorf("model: unknown platform %q", s)
	}
	return p, nil
}

// SocialDiscoveryStatus is the review axis of a social profile.
type SocialDiscoveryStatus string

const (
	SocialDiscovered SocialDiscoveryStatus = "DISCOVERED"
	SocialQualified  SocialDiscoveryStatus = "QUALIFIED"
	SocialRejected   SocialDiscoveryStatus = "REJECTED"
)

// SocialOutreachStatus is the outreach axis of a social profile.
type SocialOutreachStatus string

const (
	SocialOutreachPending SocialOutreachStatus = "PENDING"
	SocialOutreachDrafted SocialOutreachStatus = "DRAFTED"
	SocialOutreachSent    SocialOutreachStatus = "SENT"
)

// SocialProfile is one candidate social-media account.
type SocialProfile struct {
	ID              string                `json:"id"`
	Platform        Platform              `json:"platform"`
	Username        string                `json:"username"`
	FullName        string                `json:"full_name"`
	ProfileURL      string                `json:"profile_url"`
	FollowersCount  int                   `json:"followers_count"`
	EngagementScore float64               `json:"engagement_score"`
	Bio             string                `json:"bio"`
	Category        string                `json:"category"`
	Location        string                `json:"location"`
	DiscoveryJobID  *string               `json:"discovery_job_id,omitempty"`
	DiscoveryStatus SocialDiscoveryStatus `json:"discovery_status"`
	OutreachStatus  SocialOutreachStatus  `json:"outreach_status"`
	Version         int64                 `json:"version"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// NewSocialProfile returns a freshly discovered profile.
func NewSocialProfile(platform Platform, username, profileURL string, now time.Time) *SocialProfile {
	return &SocialProfile{
		ID:              uuid.New().String(),
		Platform:        platform,
		Username:        username,
		ProfileURL:      profileURL,
		DiscoveryStatus: SocialDiscovered,
		OutreachStatus:  SocialOutreachPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// ProfileFromURL extracts the platform and username from a profile link.
// It returns false for links that are not a single profile page.
func ProfileFromURL(raw string) (Platform, string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	segs := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	for _, p := range Platforms {
		if host != p.Host() && !strings.HasSuffix(host, "."+p.Host()) {
			continue
		}
		switch p {
		case PlatformLinkedIn:
			if len(segs) >= 2 && (segs[0] == "in" || segs[0] == "company") {
				return p, segs[1], true
			}
		case PlatformTikTok:
			if len(segs) >= 1 && strings.HasPrefix(segs[0], "@") {
				return p, strings.TrimPrefix(segs[0], "@"), true
			}
		default:
			if len(segs) >= 1 && !reservedSocialPaths[segs[0]] {
				return p, segs[0], true
			}
		}
		return "", "", false
	}
	return "", "", false
}

var reservedSocialPaths = map[string]bool{
	"p": true, "reel": true, "reels": true, "explore": true, "stories": true,
	"groups": true, "events": true, "watch": true, "hashtag": true, "share": true,
}

// Review applies an operator review action to the discovery axis.
func (p *SocialProfile) Review(qualify bool) error {
	if p.DiscoveryStatus != SocialDiscovered {
		return eris.Wrapf(ErrIllegalTransition, "social discovery: %s is terminal", p.DiscoveryStatus)
	}
	if qualify {
		p.DiscoveryStatus = SocialQualified
	} else {
		p.DiscoveryStatus = SocialRejected
	}
	return nil
}

// AdvanceOutreach moves the outreach axis forward; moving to the current
// value is a no-op.
func (p *SocialProfile) AdvanceOutreach(to SocialOutreachStatus) error {
	rank := map[SocialOutreachStatus]int{SocialOutreachPending: 0, SocialOutreachDrafted: 1, SocialOutreachSent: 2}
	from, ok := rank[p.OutreachStatus]
	next, ok2 := rank[to]
	if !ok || !ok2 || next < from {
		return eris.Wrapf(ErrIllegalTransition, "social outreach: %s -> %s", p.OutreachStatus, to)
	}
	p.OutreachStatus = to
	return nil
}

// SocialDraftStatus is the lifecycle of one social message.
type SocialDraftStatus string

const (
	SocialDraftDrafted SocialDraftStatus = "drafted"
	SocialDraftSending SocialDraftStatus = "sending"
	SocialDraftSent    SocialDraftStatus = "sent"
	SocialDraftFailed  SocialDraftStatus = "failed"
)

// SocialDraft is one composed message to a social profile. Follow-ups share
// the thread of the first message with increasing sequence_index.
type SocialDraft struct {
	ID                string            `json:"id"`
	ProfileID         string            `json:"profile_id"`
	ThreadID          string            `json:"thread_id"`
	SequenceIndex     int               `json:"sequence_index"`
	Subject           string            `json:"draft_subject"`
	Body              string            `json:"draft_body"`
	Status            SocialDraftStatus `json:"status"`
	PlatformMessageID *string           `json:"platform_message_id,omitempty"`
	LastError         *string           `json:"last_error,omitempty"`
	ClaimJobID        *string           `json:"claim_job_id,omitempty"`
	SentAt            *time.Time        `json:"sent_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// NewSocialDraft opens a new thread for profile.
func NewSocialDraft(profileID, subject, body string, now time.Time) *SocialDraft {
	return &SocialDraft{
		ID:        uuid.New().String(),
		ProfileID: profileID,
		ThreadID:  uuid.New().String(),
		Subject:   subject,
		Body:      body,
		Status:    SocialDraftDrafted,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NextSocialDraft creates the follow-up of a sent message.
func NextSocialDraft(prev *SocialDraft, subject, body string, now time.Time) (*SocialDraft, error) {
	if prev.Status != SocialDraftSent {
		return nil, eris.Wrapf(ErrIllegalTransition, "social followup: draft %s is %s", prev.ID, prev.Status)
	}
	return &SocialDraft{
		ID:            uuid.New().String(),
		ProfileID:     prev.ProfileID,
		ThreadID:      prev.ThreadID,
		SequenceIndex: prev.SequenceIndex + 1,
		Subject:       subject,
		Body:          body,
		Status:        SocialDraftDrafted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// IdempotencyKey identifies this message for the platform sender.
func (d *SocialDraft) IdempotencyKey() string {
	return IdempotencyKey(d.ID, d.SequenceIndex)
}

// SocialMessage is one attempted platform send.
type SocialMessage struct {
	ID                string    `json:"id"`
	DraftID           string    `json:"draft_id"`
	ProfileID         string    `json:"profile_id"`
	JobID             string    `json:"job_id"`
	Platform          Platform  `json:"platform"`
	PlatformMessageID *string   `json:"platform_message_id,omitempty"`
	Error             *string   `json:"error,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// SocialDiscoveryJob records one platform search of a social_discover job.
type SocialDiscoveryJob struct {
	ID                      string    `json:"id"`
	JobID                   string    `json:"job_id"`
	Platform                Platform  `json:"platform"`
	Category                string    `json:"category"`
	Location                string    `json:"location"`
	Keywords                string    `json:"keywords,omitempty"`
	Status                  string    `json:"status"`
	Error                   *string   `json:"error,omitempty"`
	ResultsFound            int       `json:"results_found"`
	ResultsSaved            int       `json:"results_saved"`
	ResultsSkippedDuplicate int       `json:"results_skipped_duplicate"`
	CreatedAt               time.Time `json:"created_at"`
}

// SocialGate names a stage-eligibility predicate of the social line.
type SocialGate string

const (
	// SocialGateDraft holds for qualified profiles that have no draft yet.
	SocialGateDraft SocialGate = "draft"
	// SocialGateSend holds for drafts that are drafted or failed.
	SocialGateSend SocialGate = "send"
	// SocialGateFollowup holds for the latest sent message of a thread once
	// the cool-off has passed and the cap is not reached.
	SocialGateFollowup SocialGate = "followup"
)
