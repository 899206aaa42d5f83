package session

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/parlalabs/parla-core/internal/config"
)

func newManager() *Manager {
	return NewManager(config.AuthConfig{TokenSecret: "test-secret", TokenTTLHours: 168})
}

func TestIssueAndVerify(t *testing.T) {
	m := newManager()

	token, err := m.Issue("a@x.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	identity, err := m.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if identity != "a@x.com" {
		t.Fatalf("wrong identity: %q", identity)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	m := newManager()

	issued := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.clock = func() time.Time { return issued }
	token, err := m.Issue("a@x.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	m.clock = func() time.Time { return issued.Add(8 * 24 * time.Hour) }
	if _, err := m.Verify(token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for expired token, got %v", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	other := NewManager(config.AuthConfig{TokenSecret: "other-secret", TokenTTLHours: 168})
	token, err := other.Issue("a@x.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := newManager().Verify(token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for bad signature, got %v", err)
	}
}

func TestResolveRequestPreviewWins(t *testing.T) {
	m := newManager()
	token, err := m.Issue("signed@x.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/api/user", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	r.AddCookie(&http.Cookie{Name: PreviewCookie, Value: "preview@parla.local"})

	identity, err := m.ResolveRequest(r)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if identity != "preview@parla.local" {
		t.Fatalf("preview marker must win, got %q", identity)
	}
}

func TestResolveRequestSignedToken(t *testing.T) {
	m := newManager()
	token, err := m.Issue("signed@x.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/api/user", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})

	identity, err := m.ResolveRequest(r)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if identity != "signed@x.com" {
		t.Fatalf("wrong identity: %q", identity)
	}
}

func TestResolveRequestNoCredentials(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/user", nil)
	if _, err := newManager().ResolveRequest(r); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}
