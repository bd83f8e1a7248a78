// Package mailer delivers outreach email through SMTP or Amazon SES.
package mailer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
	// IdempotencyKey identifies the message within its thread. Transports
	// derive stable identifiers from it so a retried send is recognisable.
	IdempotencyKey string
	// InReplyTo is the Message-ID of the previous message of the thread.
	InReplyTo string
}

// Transport sends one message and returns the transport's message id.
type Transport interface {
	Send(ctx context.Context, msg Message) (string, error)
	// Provider names the transport for rate limiting and circuit breaking.
	Provider() string
}

// MessageID builds the RFC 5322 Message-ID for an idempotency key.
func MessageID(idempotencyKey, fromAddr string) string {
	domain := "localhost"
	if at := strings.LastIndex(fromAddr, "@"); at >= 0 && at < len(fromAddr)-1 {
		domain = fromAddr[at+1:]
	}
	sum := sha256.Sum256([]byte(idempotencyKey))
	return "<" + hex.EncodeToString(sum[:12]) + "@" + domain + ">"
}
