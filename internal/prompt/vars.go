package prompt

import (
	"slices"
	"strings"

	"github.com/sells-group/outreach-cli/internal/model"
)

var genericMailboxes = []string{
	"info", "contact", "hello", "hi", "office", "admin", "sales", "support",
	"team", "mail", "enquiries", "inquiries", "studio", "gallery", "booking",
}

// ProspectVars builds the template bindings of a website prospect. history
// holds the thread's earlier messages, oldest first.
func ProspectVars(p *model.Prospect, history []model.Prospect) map[string]any {
	email := ""
	if p.ContactEmail != nil {
		email = *p.ContactEmail
	}
	msgs := make([]map[string]any, 0, len(history))
	for _, h := range history {
		m := map[string]any{"sequence_index": h.SequenceIndex, "subject": "", "body": ""}
		if h.DraftSubject != nil {
			m["subject"] = *h.DraftSubject
		}
		if h.FinalBody != nil {
			m["body"] = *h.FinalBody
		} else if h.DraftBody != nil {
			m["body"] = *h.DraftBody
		}
		msgs = append(msgs, m)
	}
	return map[string]any{
		"business_name":  BusinessName(p.PageTitle, p.Domain),
		"domain":         p.Domain,
		"page_title":     p.PageTitle,
		"page_url":       p.PageURL,
		"category":       p.DiscoveryCategory,
		"location":       p.DiscoveryLocation,
		"keywords":       p.DiscoveryKeywords,
		"contact_email":  email,
		"contact_name":   ContactName(email),
		"sequence_index": p.SequenceIndex + 1,
		"history":        msgs,
	}
}

// SocialVars builds the template bindings of a social profile.
func SocialVars(p *model.SocialProfile, history []model.SocialDraft) map[string]any {
	msgs := make([]map[string]any, 0, len(history))
	for _, h := range history {
		msgs = append(msgs, map[string]any{
			"sequence_index": h.SequenceIndex,
			"subject":        h.Subject,
			"body":           h.Body,
		})
	}
	return map[string]any{
		"platform":        string(p.Platform),
		"username":        p.Username,
		"full_name":       p.FullName,
		"bio":             p.Bio,
		"category":        p.Category,
		"location":        p.Location,
		"followers_count": p.FollowersCount,
		"history":         msgs,
	}
}

// BusinessName derives a display name from a page title, falling back to
// the domain's first label.
func BusinessName(title, domain string) string {
	title = strings.TrimSpace(title)
	for _, sep := range []string{" | ", " - ", " – ", " :: "} {
		if i := strings.Index(title, sep); i > 0 {
			title = title[:i]
		}
	}
	if title != "" && !strings.EqualFold(title, "home") {
		return title
	}
	label, _, _ := strings.Cut(domain, ".")
	return titleCase(strings.ReplaceAll(label, "-", " "))
}

// ContactName guesses a first name from a personal mailbox such as
// jane.doe@, returning "" for role mailboxes.
func ContactName(email string) string {
	local, _, ok := strings.Cut(email, "@")
	if !ok {
		return ""
	}
	local = strings.ToLower(local)
	if slices.Contains(genericMailboxes, local) {
		return ""
	}
	first, _, _ := strings.Cut(strings.NewReplacer("_", ".", "-", ".").Replace(local), ".")
	if len(first) < 2 || strings.ContainsAny(first, "0123456789") {
		return ""
	}
	return titleCase(first)
}
