// Package prompt renders the LLM prompts of the drafting stages from Liquid
// templates kept in YAML.
package prompt

import (
	_ "embed"
	"encoding/json"
	"os"
	"strings"

	"github.com/osteele/liquid"
	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Template names.
const (
	Draft          = "draft"
	Followup       = "followup"
	SocialDraft    = "social_draft"
	SocialFollowup = "social_followup"
)

var required = []string{Draft, Followup, SocialDraft, SocialFollowup}

//go:embed defaults.yaml
var defaultTemplates []byte

// Template is the raw source of one prompt.
type Template struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

type file struct {
	Templates map[string]Template `yaml:"templates"`
}

type parsed struct {
	system *liquid.Template
	user   *liquid.Template
}

// Set holds parsed templates by name.
type Set struct {
	templates map[string]parsed
}

// Rendered is a prompt ready to send.
type Rendered struct {
	System string
	User   string
}

// titleCase returns s in English title case. A Caser is stateful, so each
// call gets its own.
func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}

func newEngine() *liquid.Engine {
	engine := liquid.NewEngine()
	engine.RegisterFilter("titlecase", func(s string) string {
		return titleCase(strings.ToLower(s))
	})
	return engine
}

// Default returns the built-in templates.
func Default() (*Set, error) {
	return Parse(defaultTemplates)
}

// Load reads templates from path. Names missing from the file fall back to
// the built-in ones.
func Load(path string) (*Set, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "prompt: read %s", path)
	}
	return Parse(data)
}

// Parse compiles a YAML template document.
func Parse(data []byte) (*Set, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "prompt: parse yaml")
	}
	var defaults file
	if err := yaml.Unmarshal(defaultTemplates, &defaults); err != nil {
		return nil, eris.Wrap(err, "prompt: parse built-in templates")
	}

	engine := newEngine()
	set := &Set{templates: make(map[string]parsed)}
	for _, name := range required {
		src, ok := f.Templates[name]
		if !ok {
			src = defaults.Templates[name]
		}
		sys, serr := engine.ParseString(src.System)
		if serr != nil {
			return nil, eris.Wrapf(serr, "prompt: parse %s system", name)
		}
		usr, uerr := engine.ParseString(src.User)
		if uerr != nil {
			return nil, eris.Wrapf(uerr, "prompt: parse %s user", name)
		}
		set.templates[name] = parsed{system: sys, user: usr}
	}
	return set, nil
}

// Render fills template name with vars.
func (s *Set) Render(name string, vars map[string]any) (Rendered, error) {
	t, ok := s.templates[name]
	if !ok {
		return Rendered{}, eris.Errorf("prompt: unknown template %q", name)
	}
	sys, serr := t.system.RenderString(vars)
	if serr != nil {
		return Rendered{}, eris.Wrapf(serr, "prompt: render %s system", name)
	}
	usr, uerr := t.user.RenderString(vars)
	if uerr != nil {
		return Rendered{}, eris.Wrapf(uerr, "prompt: render %s user", name)
	}
	return Rendered{System: strings.TrimSpace(sys), User: squashBlankLines(usr)}, nil
}

func squashBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	blank := false
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if strings.TrimSpace(l) == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, strings.TrimSpace(l))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// ParseDraft reads the {"subject", "body"} object from a model answer,
// tolerating prose or code fences around it.
func ParseDraft(text string) (subject, body string, err error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", "", eris.New("prompt: answer has no JSON object")
	}
	var out struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return "", "", eris.Wrap(err, "prompt: decode answer")
	}
	subject, body = strings.TrimSpace(out.Subject), strings.TrimSpace(out.Body)
	if subject == "" || body == "" {
		return "", "", eris.New("prompt: answer missing subject or body")
	}
	return subject, body, nil
}
