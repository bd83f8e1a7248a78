package prompt

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
)

func TestDefault_RendersDraft(t *testing.T) {
	set, err := Default()
	require.NoError(t, err)

	p := model.NewProspect("a.test", "https://a.test", "Blue Door Gallery | Fine Art", time.Now())
	p.DiscoveryCategory = "Art Gallery"
	p.DiscoveryLocation = "United States"
	email := "jane.doe@a.test"
	p.ContactEmail = &email

	out, err := set.Render(Draft, ProspectVars(p, nil))
	require.NoError(t, err)
	assert.Contains(t, out.System, "Art Gallery")
	assert.Contains(t, out.User, "Blue Door Gallery (a.test)")
	assert.Contains(t, out.User, "Address it to Jane.")
	assert.Contains(t, out.User, "jane.doe@a.test")
	assert.NotContains(t, out.User, "\n\n\n")
}

func TestDefault_RendersFollowupHistory(t *testing.T) {
	set, err := Default()
	require.NoError(t, err)

	subj, body := "Collaboration", "Hi there"
	first := model.Prospect{SequenceIndex: 0, DraftSubject: &subj, FinalBody: &body}
	p := model.NewProspect("a.test", "https://a.test", "", time.Now())
	email := "info@a.test"
	p.ContactEmail = &email

	out, err := set.Render(Followup, ProspectVars(p, []model.Prospect{first}))
	require.NoError(t, err)
	assert.Contains(t, out.User, "Subject: Collaboration")
	assert.Contains(t, out.User, "Hi there")
	assert.Contains(t, out.User, "follow-up number 1 to A")
}

func TestSocialTemplates(t *testing.T) {
	set, err := Default()
	require.NoError(t, err)
	p := model.NewSocialProfile(model.PlatformTikTok, "potter", "https://tiktok.com/@potter", time.Now())
	out, err := set.Render(SocialDraft, SocialVars(p, nil))
	require.NoError(t, err)
	assert.Contains(t, out.System, "Tiktok")
	assert.Contains(t, out.User, "potter (@potter)")
}

func TestLoad_OverridesAndFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`templates:
  draft:
    system: "custom {{ domain }}"
    user: "hello {{ business_name | upcase }}"
`), 0o644))

	set, err := Load(path)
	require.NoError(t, err)
	p := model.NewProspect("b.test", "https://b.test", "", time.Now())
	out, err := set.Render(Draft, ProspectVars(p, nil))
	require.NoError(t, err)
	assert.Equal(t, "custom b.test", out.System)
	assert.Equal(t, "hello B", out.User)

	_, err = set.Render(SocialFollowup, SocialVars(model.NewSocialProfile(model.PlatformLinkedIn, "x", "", time.Now()), nil))
	assert.NoError(t, err)
}

func TestParse_InvalidTemplate(t *testing.T) {
	_, err := Parse([]byte("templates:\n  draft:\n    system: \"{% if %}\"\n    user: x\n"))
	require.Error(t, err)
}

func TestRender_UnknownTemplate(t *testing.T) {
	set, err := Default()
	require.NoError(t, err)
	_, err = set.Render("nope", nil)
	require.Error(t, err)
}

func TestParseDraft(t *testing.T) {
	subject, body, err := ParseDraft("Here you go:\n```json\n{\"subject\": \"Collaboration\", \"body\": \"Hi...\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "Collaboration", subject)
	assert.Equal(t, "Hi...", body)

	_, _, err = ParseDraft("no json")
	require.Error(t, err)
	_, _, err = ParseDraft(`{"subject": "", "body": "x"}`)
	require.Error(t, err)
}

func TestBusinessNameAndContactName(t *testing.T) {
	assert.Equal(t, "Blue Door", BusinessName("Blue Door - Home", "bluedoor.test"))
	assert.Equal(t, "Red Barn", BusinessName("Home", "red-barn.test"))
	assert.Equal(t, "", ContactName("info@a.test"))
	assert.Equal(t, "Maria", ContactName("maria_lopez@a.test"))
	assert.Equal(t, "", ContactName("j2@a.test"))
	assert.Equal(t, "", ContactName("not-an-email"))
}
