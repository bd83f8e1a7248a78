// Package social sends direct messages to social profiles. Platforms
// without a messaging API have no sender; sending to them is refused.
package social

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
)

// ErrUnsupported is returned for platforms without a configured sender.
var ErrUnsupported = eris.New("social: platform has no messaging endpoint")

// Message is one direct message to a profile.
type Message struct {
	Platform       model.Platform `json:"platform"`
	Username       string         `json:"username"`
	ProfileURL     string         `json:"profile_url"`
	Subject        string         `json:"subject,omitempty"`
	Body           string         `json:"body"`
	ThreadID       string         `json:"thread_id"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// Sender delivers a message and returns the platform message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// Registry routes messages to per-platform senders.
type Registry struct {
	senders map[model.Platform]Sender
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{senders: make(map[model.Platform]Sender)}
}

// Register installs the sender for a platform.
func (r *Registry) Register(p model.Platform, s Sender) {
	r.senders[p] = s
}

// Supports reports whether a sender exists for p.
func (r *Registry) Supports(p model.Platform) bool {
	_, ok := r.senders[p]
	return ok
}

// ProviderFor returns the limiter and breaker key of a platform.
func ProviderFor(p model.Platform) string {
	return "social_" + string(p)
}

// Send routes msg to the platform's sender.
func (r *Registry) Send(ctx context.Context, msg Message) (string, error) {
	s, ok := r.senders[msg.Platform]
	if !ok {
		return "", resilience.Permanent(ProviderFor(msg.Platform), eris.Wrapf(ErrUnsupported, "platform %s", msg.Platform))
	}
	return s.Send(ctx, msg)
}
