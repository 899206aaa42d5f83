// Package auth resolves the caller's identity through Google's
// authorization-code flow, with a shared preview identity as the fallback
// when no OAuth client is configured.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/parlalabs/parla-core/internal/config"
)

const userinfoEndpoint = "https://openidconnect.googleapis.com/v1/userinfo"

// ErrNotConfigured is returned by the OAuth entry points when no Google
// client credentials are present; callers fall back to preview sessions.
var ErrNotConfigured = errors.New("auth: google oauth is not configured")

// Provider wraps the Google authorization-code flow.
type Provider struct {
	config  *oauth2.Config
	preview string
	logger  *slog.Logger
}

func NewProvider(cfg config.AuthConfig, log *slog.Logger) *Provider {
	p := &Provider{
		preview: cfg.PreviewIdentity,
		logger:  log.With(slog.String("component", "auth")),
	}
	if cfg.GoogleConfigured() {
		p.config = &oauth2.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
			Scopes:       []string{"openid", "email"},
			Endpoint:     google.Endpoint,
		}
	}
	return p
}

// Configured reports whether real sign-in is available.
func (p *Provider) Configured() bool {
	return p.config != nil
}

// PreviewIdentity is the shared identity handed out when OAuth is absent.
func (p *Provider) PreviewIdentity() string {
	return p.preview
}

// AuthURL returns the consent URL for the given anti-forgery state.
func (p *Provider) AuthURL(state string) (string, error) {
	if p.config == nil {
		return "", ErrNotConfigured
	}
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

// Exchange trades the authorization code for a token and resolves the
// account's verified email address.
func (p *Provider) Exchange(ctx context.Context, code string) (string, error) {
	if p.config == nil {
		return "", ErrNotConfigured
	}
	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("exchange authorization code: %w", err)
	}
	return p.fetchEmail(ctx, tok)
}

func (p *Provider) fetchEmail(ctx context.Context, tok *oauth2.Token) (string, error) {
	client := p.config.Client(ctx, tok)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userinfoEndpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("userinfo returned status %d", resp.StatusCode)
	}

	var info struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decode userinfo: %w", err)
	}
	if info.Email == "" {
		return "", errors.New("userinfo response carried no email")
	}
	return info.Email, nil
}

// NewState mints an unguessable anti-forgery state value.
func NewState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
