// Package transport abstracts the provider-facing mail operations the warmup
// engine needs: sending, listing warmup threads, and engagement actions.
package transport

import (
	"context"
	"time"
)

// Message is a single outbound email.
type Message struct {
	From      string
	FromName  string
	To        string
	Subject   string
	TextBody  string
	HTMLBody  string
	ThreadID  string
	InReplyTo string
	Headers   map[string]string
}

// SendResult reports provider identifiers for a delivered message. When a
// provider refreshes an OAuth token during the call it hands the new
// credentials back so the caller can persist them.
type SendResult struct {
	MessageID            string
	ThreadID             string
	RefreshedCredentials map[string]string
}

// InboundMessage is a message observed in the inbox, used to find warmup
// threads that need an open, star, or reply.
type InboundMessage struct {
	MessageID  string
	ThreadID   string
	From       string
	Subject    string
	Snippet    string
	ReceivedAt time.Time
	Unread     bool
}

// Mailer is implemented per provider.
type Mailer interface {
	// Send delivers the message and returns provider identifiers.
	Send(ctx context.Context, msg Message) (*SendResult, error)

	// Messages lists recent inbound messages matching the query, newest first.
	Messages(ctx context.Context, query string, limit int) ([]InboundMessage, error)

	// MarkRead flags a message as opened.
	MarkRead(ctx context.Context, messageID string) error

	// MarkStarred stars a message, simulating positive engagement.
	MarkStarred(ctx context.Context, messageID string) error

	// Validate checks the credentials without sending anything.
	Validate(ctx context.Context) error
}
