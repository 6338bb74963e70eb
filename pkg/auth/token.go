// Package auth holds client-side credential state: the bearer token, the
// identity derived from it, and the admin/user role split that decides which
// notification channel a session subscribes to.
package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"chatrelay/pkg/models"
)

// ErrNoToken is returned when an operation needs a credential and none is set.
var ErrNoToken = errors.New("auth: no token")

// claims is the subset of the JWT payload this package inspects. The token
// is never verified here; the backend is the authority and rejects bad
// tokens on use. Decoding only routes the session to the right channel.
type claims struct {
	Sub      string `json:"sub"`
	Role     string `json:"role"`
	Phone    string `json:"phone"`
	Username string `json:"username"`
}

// decodeClaims extracts the payload segment of a JWT without verification.
func decodeClaims(token string) (*claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, errors.New("auth: malformed token")
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, err
	}
	var c claims
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// IsAdminToken reports whether the token belongs to the admin operator. An
// undecodable token is treated as a regular user token.
func IsAdminToken(token string) bool {
	c, err := decodeClaims(token)
	if err != nil {
		return false
	}
	return c.Role == models.AdminIdentity || c.Sub == models.AdminIdentity
}

// Store is the mutable credential slot shared by a session. It survives the
// transport; clearing it is what logout does.
type Store struct {
	mu   sync.RWMutex
	tok  string
	user *models.UserInfo
}

// NewStore returns an empty credential store.
func NewStore() *Store { return &Store{} }

// SetToken installs a bearer token.
func (s *Store) SetToken(tok string) {
	s.mu.Lock()
	s.tok = tok
	s.mu.Unlock()
}

// Token returns the current bearer token, empty when logged out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tok
}

// SetUser caches the fetched user record alongside the token.
func (s *Store) SetUser(u *models.UserInfo) {
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
}

// User returns the cached user record, nil when none was fetched.
func (s *Store) User() *models.UserInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Identity resolves the subscriber identity for the notification channel:
// "admin" for the operator token, otherwise the user's phone number. The
// cached user record wins over token claims when both are present.
func (s *Store) Identity() (string, error) {
	s.mu.RLock()
	tok, user := s.tok, s.user
	s.mu.RUnlock()

	if tok == "" {
		return "", ErrNoToken
	}
	if IsAdminToken(tok) {
		return models.AdminIdentity, nil
	}
	if user != nil && user.Phone != "" {
		return user.Phone, nil
	}
	c, err := decodeClaims(tok)
	if err != nil {
		return "", err
	}
	if c.Phone != "" {
		return c.Phone, nil
	}
	if c.Sub != "" {
		return c.Sub, nil
	}
	return "", errors.New("auth: token carries no identity")
}

// Clear drops the token and cached user. Logout path.
func (s *Store) Clear() {
	s.mu.Lock()
	s.tok = ""
	s.user = nil
	s.mu.Unlock()
}
