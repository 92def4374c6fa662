package session

import (
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"gomess/internal/bus"
	"gomess/internal/chat"
)

// ErrNoSession is returned when an operation requires an authenticated
// session and none is held.
var ErrNoSession = errors.New("no authenticated session")

// Session holds the current user identity and access token. It is the
// single source of "is this message mine" resolution. Clearing it is how
// the rest of the client learns the backend no longer recognizes us.
type Session struct {
	mu    sync.RWMutex
	name  string
	bus   *bus.Bus
	token string
	user  *chat.User
}

// New creates an empty session context for the named session.
func New(name string, b *bus.Bus) *Session {
	return &Session{name: name, bus: b}
}

// Name returns the session name.
func (s *Session) Name() string { return s.name }

// Token returns the current access token, empty when unauthenticated.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken stores a fresh access token and persists it for the next run.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	if token != "" {
		if err := EnsureDir(s.name); err == nil {
			_ = os.WriteFile(TokenPath(s.name), []byte(token), 0600)
		}
	}
}

// RestoreToken loads a previously persisted access token, if any.
func (s *Session) RestoreToken() bool {
	data, err := os.ReadFile(TokenPath(s.name))
	if err != nil {
		return false
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return false
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return true
}

// SetUser stores the authenticated user.
func (s *Session) SetUser(u *chat.User) {
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
}

// User returns the authenticated user, nil when unauthenticated.
func (s *Session) User() *chat.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// UserID returns the current user's id. Falls back to the token's subject
// claim when the profile has not been fetched yet.
func (s *Session) UserID() string {
	s.mu.RLock()
	user, token := s.user, s.token
	s.mu.RUnlock()
	if user != nil {
		return user.ID
	}
	return subjectOf(token)
}

// IsOwn reports whether senderID is the session user.
func (s *Session) IsOwn(senderID string) bool {
	id := s.UserID()
	return id != "" && id == senderID
}

// Authenticated reports whether a token is held.
func (s *Session) Authenticated() bool {
	return s.Token() != ""
}

// Clear drops the identity and token and announces it on the bus. Every
// store resets in response; the client must never sync while believing it
// holds an identity the backend rejected.
func (s *Session) Clear() {
	s.mu.Lock()
	s.token = ""
	s.user = nil
	s.mu.Unlock()
	_ = os.Remove(TokenPath(s.name))
	if s.bus != nil {
		s.bus.Emit(bus.KindSessionCleared, nil)
	}
}

// subjectOf extracts the sub claim without verifying the signature. The
// client has no signing key; the backend is the authority and any forged
// token fails server-side anyway.
func subjectOf(token string) string {
	if token == "" {
		return ""
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return ""
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}
