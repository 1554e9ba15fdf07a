// Package session holds the authenticated user's identity for the lifetime
// of a login. A Session is constructed once after a successful login and
// passed explicitly to the components that need it (repository client,
// real-time channel, workflow controller) instead of living in process-wide
// state; Close tears it down on logout.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clinicdesk/clinicdesk/pkg/caseflow"
)

// ErrClosed is returned by Token after the session has been torn down.
var ErrClosed = errors.New("session closed")

// Session is the authenticated identity: who the user is, which clinic they
// act in, and what their role lets them mutate.
type Session struct {
	mu       sync.RWMutex
	userID   string
	clinicID string
	role     caseflow.Role
	token    string
	closed   bool
}

// New constructs a session from already-known identity fields. Used by
// tests and by server-side code that has verified the token itself.
func New(userID, clinicID string, role caseflow.Role, token string) *Session {
	return &Session{
		userID:   userID,
		clinicID: clinicID,
		role:     role,
		token:    token,
	}
}

// FromToken builds a session by reading the access token's claims. The
// signature is not verified here: the dashboard is not the token's
// audience-of-trust, the backend is, and rejects forged tokens on every
// call. A "Bearer " prefix is tolerated.
func FromToken(token string) (*Session, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return nil, errors.New("empty access token")
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}

	userID, _ := claims["sub"].(string)
	role := caseflow.ParseRole(claimString(claims, "role", "Role"))
	clinicID := claimString(claims, "clinicId", "ClinicId", "clinic_id")

	return New(userID, clinicID, role, token), nil
}

// claimString returns the first present string claim among keys. The backend
// has emitted both casings of the same claim name.
func claimString(claims jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		if v, ok := claims[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// UserID returns the subject of the access token.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// ClinicID returns the clinic scope the user acts in.
func (s *Session) ClinicID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clinicID
}

// Role returns the normalized staff role.
func (s *Session) Role() caseflow.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// Capabilities returns the mutation rights derived from the role.
func (s *Session) Capabilities() caseflow.CapabilitySet {
	return s.Role().Capabilities()
}

// Can reports whether the session's role grants the capability.
func (s *Session) Can(c caseflow.Capability) bool {
	return s.Capabilities().Has(c)
}

// Token returns the bearer credential for outbound calls, or ErrClosed
// after logout.
func (s *Session) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", ErrClosed
	}
	return s.token, nil
}

// Close tears the session down on logout. The credential is dropped so any
// component still holding the session cannot keep authenticating with it.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.token = ""
}
