// Package session holds server-side session records and their derived
// device classification.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session id does not resolve to a live session.
var ErrNotFound = errors.New("session: not found")

// Provenance records how a session was established.
type Provenance string

const (
	ProvenancePassword Provenance = "password"
	ProvenanceSaml     Provenance = "saml"
)

// Valid reports whether p is a known provenance.
func (p Provenance) Valid() bool {
	return p == ProvenancePassword || p == ProvenanceSaml
}

// Metadata is captured from the request that created the session.
type Metadata struct {
	UserAgent string
	IPAddress string
}

// Session is proof of an authenticated browser context. Its ID is the
// opaque token carried in the signed cookie.
type Session struct {
	ID         string
	UserID     string
	UserAgent  string
	IPAddress  string
	Provenance Provenance
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Agent classifies the user agent captured at creation time.
func (s *Session) Agent() Agent { return Classify(s.UserAgent) }

// Location is a best-effort geolocation of IPAddress. Lookups are disabled,
// so it is always empty.
func (s *Session) Location() string { return "" }

// Store is the authoritative table of live sessions. Sessions carry no TTL;
// they end only when destroyed.
type Store interface {
	Create(ctx context.Context, userID string, provenance Provenance, meta Metadata) (*Session, error)
	Find(ctx context.Context, id string) (*Session, error)
	// ListForUser orders by creation time, newest first, ties broken by id descending.
	ListForUser(ctx context.Context, userID string) ([]*Session, error)
	// Destroy is idempotent: removing an absent session is not an error.
	Destroy(ctx context.Context, id string) error
	// DestroyForUser removes a session only if userID owns it, else ErrNotFound.
	DestroyForUser(ctx context.Context, userID, id string) error
}
