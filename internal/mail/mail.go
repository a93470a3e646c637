// Package mail delivers account notifications.
package mail

import (
	"context"
	"strings"
	"sync"

	"github.com/go-logr/logr"
)

// PasswordReset is the reset mail for one credential. Link embeds a live
// reset token.
type PasswordReset struct {
	CredentialID string
	To           string
	Link         string
}

// Mailer sends the password reset link to a credential's address.
type Mailer interface {
	SendPasswordReset(ctx context.Context, msg PasswordReset) error
}

// LogMailer writes messages to the log instead of delivering them. The
// token in the link is redacted unless RevealLinks is set.
type LogMailer struct {
	Logger      logr.Logger
	RevealLinks bool
}

func (m LogMailer) SendPasswordReset(_ context.Context, msg PasswordReset) error {
	link := msg.Link
	if !m.RevealLinks {
		link = RedactLink(link)
	}
	m.Logger.Info("password reset mail", "credential_id", msg.CredentialID, "link", link)
	return nil
}

// RedactLink replaces the last path segment of link, where the token lives.
func RedactLink(link string) string {
	i := strings.LastIndex(link, "/")
	if i < 0 {
		return "[redacted]"
	}
	return link[:i+1] + "[redacted]"
}

// Recorder keeps sent messages in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []PasswordReset
}

func (r *Recorder) SendPasswordReset(_ context.Context, msg PasswordReset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

// Sent returns a copy of the captured messages.
func (r *Recorder) Sent() []PasswordReset {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PasswordReset(nil), r.sent...)
}
