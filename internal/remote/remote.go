// Package remote speaks to the data/auth service backing the dashboard:
// session management, row queries and mutations, file storage and edge
// function invocation. The rest of the client treats it as a capability set
// and never sees transport details.
package remote

import (
	"context"
	"errors"
	"sort"
	"time"
)

// User identifies an authenticated principal.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is the authoritative view of a signed-in principal. It is replaced
// wholesale on refresh and destroyed on sign-out.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// EventKind classifies auth state transitions delivered on the event stream.
type EventKind string

const (
	EventInitial        EventKind = "initial"
	EventSignedIn       EventKind = "signed_in"
	EventSignedOut      EventKind = "signed_out"
	EventTokenRefreshed EventKind = "token_refreshed"
)

// AuthEvent is one auth state transition. Session is nil for signed-out.
type AuthEvent struct {
	Kind    EventKind
	Session *Session
}

// Row is a generic table row payload.
type Row = map[string]any

// Filter matches rows by column equality.
type Filter map[string]any

// Order sorts query results by one column.
type Order struct {
	Column string
	Desc   bool
}

// Query describes a row selection over one table.
type Query struct {
	Table  string
	Filter Filter
	Order  []Order
}

// Auth covers session lifecycle operations.
type Auth interface {
	// GetSession returns the current session, refreshing credentials when
	// they are stale. A nil session with nil error means signed out.
	GetSession(ctx context.Context) (*Session, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	// RestoreSession seeds the client with a previously persisted session
	// without issuing a network call.
	RestoreSession(sess *Session)
	SignOut(ctx context.Context, scope string) error
	// AuthEvents delivers auth transitions until ctx ends. Slow consumers
	// lose events rather than block the publisher.
	AuthEvents(ctx context.Context) <-chan AuthEvent
}

// Data covers generic row operations.
type Data interface {
	Select(ctx context.Context, q Query, dest any) error
	// Insert stores row and, when dest is non-nil, decodes the stored row
	// (with server-assigned fields) into it.
	Insert(ctx context.Context, table string, row Row, dest any) error
	Update(ctx context.Context, table string, patch Row, filter Filter) error
	Delete(ctx context.Context, table string, filter Filter) error
}

// Files covers bucket uploads.
type Files interface {
	// Upload stores data and returns its public URL.
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error)
}

// Functions covers opaque edge function calls.
type Functions interface {
	Invoke(ctx context.Context, name string, payload any, dest any) error
}

// Service is the full capability set of the remote data/auth service.
type Service interface {
	Auth
	Data
	Files
	Functions
}

var (
	ErrNotFound     = errors.New("remote: not found")
	ErrUnauthorized = errors.New("remote: unauthorized")
	ErrConflict     = errors.New("remote: conflict")
	ErrInvalidInput = errors.New("remote: invalid input")
	ErrUnavailable  = errors.New("remote: service unavailable")
)

// sortedKeys gives deterministic filter encoding across calls.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
