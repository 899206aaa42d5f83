// Package session binds HTTP callers to identities via signed tokens or the
// preview-mode marker cookie.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/parlalabs/parla-core/internal/config"
)

const (
	// SessionCookie carries the signed token (httpOnly).
	SessionCookie = "parla_session"
	// PreviewCookie carries a raw identity when no identity provider is
	// configured. It takes precedence over the signed token.
	PreviewCookie = "parla_preview"
)

// ErrUnauthenticated is returned when no usable credential is present or
// verification fails. Verification failures are never retried.
var ErrUnauthenticated = errors.New("session: unauthenticated")

// Manager issues and verifies session tokens.
type Manager struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

func NewManager(cfg config.AuthConfig) *Manager {
	return &Manager{
		secret: []byte(cfg.TokenSecret),
		ttl:    time.Duration(cfg.TokenTTLHours) * time.Hour,
		clock:  time.Now,
	}
}

// Issue produces a signed token bound to identity, valid for the configured
// TTL (7 days by default).
func (m *Manager) Issue(identity string) (string, error) {
	now := m.clock()
	claims := jwt.RegisteredClaims{
		Subject:   identity,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a signed token, returning the bound identity.
func (m *Manager) Verify(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{},
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(m.clock),
	)
	if err != nil || !token.Valid {
		return "", ErrUnauthenticated
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ErrUnauthenticated
	}
	return claims.Subject, nil
}

// ResolveRequest maps request credentials to an identity. The preview cookie
// wins when both credentials are present; at most one resolution path is
// consulted per request.
func (m *Manager) ResolveRequest(r *http.Request) (string, error) {
	if c, err := r.Cookie(PreviewCookie); err == nil && c.Value != "" {
		return c.Value, nil
	}
	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		return "", ErrUnauthenticated
	}
	return m.Verify(c.Value)
}
