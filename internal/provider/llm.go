package provider

import (
	"context"

	"github.com/sells-group/outreach-cli/internal/prompt"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/pkg/anthropic"
)

// Claude composes messages with the Anthropic API.
type Claude struct {
	client    anthropic.Client
	prompts   *prompt.Set
	model     string
	maxTokens int64
}

// NewClaude creates the LLM collaborator.
func NewClaude(c anthropic.Client, prompts *prompt.Set, model string, maxTokens int64) *Claude {
	if model == "" {
		model = anthropic.DefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Claude{client: c, prompts: prompts, model: model, maxTokens: maxTokens}
}

// Provider implements LLM.
func (c *Claude) Provider() string { return anthropic.Provider }

// Compose implements LLM. An answer without a usable subject and body is a
// permanent failure for the prospect.
func (c *Claude) Compose(ctx context.Context, req ComposeRequest) (*Composed, error) {
	rendered, err := c.prompts.Render(req.Template, req.Vars)
	if err != nil {
		return nil, resilience.Permanent(anthropic.Provider, err)
	}
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    rendered.System,
		Messages:  []anthropic.Message{{Role: "user", Content: rendered.User}},
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(c.model, req.Stage)

	subject, body, err := prompt.ParseDraft(resp.Text())
	if err != nil {
		return nil, resilience.Permanent(anthropic.Provider, err)
	}
	return &Composed{Subject: subject, Body: body}, nil
}
