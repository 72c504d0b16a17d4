// Package credentials supplies bearer tokens for provider profiles. API-key
// profiles read the key inline or from the environment; OAuth profiles
// exchange a refresh token and cache the access token until shortly before
// it expires.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"chatroute/internal/provider"
	"chatroute/pkg/logger"
)

// RefreshMargin is how long before expiry a cached token is refreshed.
const RefreshMargin = 5 * time.Minute

// CachedToken is an access token with its expiry.
type CachedToken struct {
	Token     string
	ExpiresAt time.Time
}

// Valid reports whether the token is usable at now.
func (t *CachedToken) Valid(now time.Time) bool {
	if t == nil || t.Token == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return now.Before(t.ExpiresAt.Add(-RefreshMargin))
}

// Refresher obtains a fresh access token for an OAuth profile.
type Refresher interface {
	Refresh(ctx context.Context, p provider.Profile) (*CachedToken, error)
}

// Manager implements provider.Credentials.
type Manager struct {
	refresher Refresher
	now       func() time.Time
	getenv    func(string) string

	mu    sync.Mutex
	cache map[string]*CachedToken
}

// Option configures a Manager.
type Option func(*Manager)

// WithRefresher replaces the default HTTP refresher.
func WithRefresher(r Refresher) Option {
	return func(m *Manager) { m.refresher = r }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithEnv overrides os.Getenv.
func WithEnv(getenv func(string) string) Option {
	return func(m *Manager) { m.getenv = getenv }
}

// NewManager creates a Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		refresher: &HTTPRefresher{Client: &http.Client{Timeout: 30 * time.Second}},
		now:       time.Now,
		getenv:    os.Getenv,
		cache:     make(map[string]*CachedToken),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Token returns the bearer token for p.
func (m *Manager) Token(ctx context.Context, p provider.Profile) (string, error) {
	switch strings.ToLower(p.AuthType) {
	case "", provider.AuthAPIKey:
		key := strings.TrimSpace(p.APIKey)
		if key == "" && p.APIKeyEnv != "" {
			key = strings.TrimSpace(m.getenv(p.APIKeyEnv))
		}
		if key == "" {
			return "", fmt.Errorf("%w: profile %q has no api key", provider.ErrMissingCredential, p.ID)
		}
		return key, nil
	case provider.AuthOAuth:
		return m.oauthToken(ctx, p)
	default:
		return "", fmt.Errorf("%w: profile %q has unknown auth type %q", provider.ErrMissingCredential, p.ID, p.AuthType)
	}
}

func (m *Manager) oauthToken(ctx context.Context, p provider.Profile) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tok := m.cache[p.ID]; tok.Valid(m.now()) {
		return tok.Token, nil
	}

	if p.OAuth != nil && p.OAuth.RefreshToken == "" && p.OAuth.RefreshTokenEnv != "" {
		cfg := *p.OAuth
		cfg.RefreshToken = m.getenv(cfg.RefreshTokenEnv)
		p.OAuth = &cfg
	}

	tok, err := m.refresher.Refresh(ctx, p)
	if err != nil {
		logger.Warn().Err(err).Str("profile", p.ID).Msg("oauth refresh failed")
		return "", fmt.Errorf("%w: %v", provider.ErrMissingCredential, err)
	}
	m.cache[p.ID] = tok
	return tok.Token, nil
}

// Forget drops any cached token for the profile.
func (m *Manager) Forget(profileID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, profileID)
}

// HTTPRefresher performs an OAuth2 refresh_token grant against the
// profile's token endpoint.
type HTTPRefresher struct {
	Client *http.Client
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// Refresh implements Refresher.
func (r *HTTPRefresher) Refresh(ctx context.Context, p provider.Profile) (*CachedToken, error) {
	if p.OAuth == nil || p.OAuth.TokenURL == "" {
		return nil, fmt.Errorf("profile %q has no oauth token url", p.ID)
	}
	if p.OAuth.RefreshToken == "" {
		return nil, fmt.Errorf("profile %q has no refresh token", p.ID)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", p.OAuth.RefreshToken)
	if p.OAuth.ClientID != "" {
		form.Set("client_id", p.OAuth.ClientID)
	}
	if len(p.OAuth.Scopes) > 0 {
		form.Set("scope", strings.Join(p.OAuth.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.OAuth.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse token response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || tr.AccessToken == "" {
		msg := tr.Description
		if msg == "" {
			msg = tr.Error
		}
		return nil, provider.FromStatus(p.Provider, resp.StatusCode, "token refresh: "+msg, nil)
	}

	tok := &CachedToken{Token: tr.AccessToken}
	if tr.ExpiresIn > 0 {
		tok.ExpiresAt = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return tok, nil
}
