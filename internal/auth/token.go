// Package auth holds the credentials used by pathstore: the OAuth access
// token presented to the remote graph store and the JWT guard for the HTTP
// API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/fruitsalade/pathstore/internal/logging"
	"github.com/fruitsalade/pathstore/internal/metrics"
)

// DefaultExpiryMargin is how long before expiry a token is refreshed.
const DefaultExpiryMargin = 10 * time.Second

// DriveScope grants full access to the user's Drive files.
const DriveScope = "https://www.googleapis.com/auth/drive"

// Refresher exchanges long-lived credentials for a fresh access token.
type Refresher interface {
	Refresh(ctx context.Context) (*oauth2.Token, error)
}

// TokenProvider hands out a current access token, refreshing it when it is
// within the expiry margin. A single mutex covers the check and the
// refresh, so at most one refresh is in flight and every caller sees its
// result.
type TokenProvider struct {
	refresher Refresher
	margin    time.Duration
	now       func() time.Time

	mu    sync.Mutex
	token *oauth2.Token
}

var _ oauth2.TokenSource = (*TokenProvider)(nil)

// ProviderOption configures a TokenProvider.
type ProviderOption func(*TokenProvider)

// WithExpiryMargin overrides DefaultExpiryMargin.
func WithExpiryMargin(d time.Duration) ProviderOption {
	return func(p *TokenProvider) { p.margin = d }
}

// WithClock sets the time source. Used by tests.
func WithClock(now func() time.Time) ProviderOption {
	return func(p *TokenProvider) { p.now = now }
}

// WithInitialToken seeds the provider with an already issued token.
func WithInitialToken(t *oauth2.Token) ProviderOption {
	return func(p *TokenProvider) { p.token = t }
}

// NewTokenProvider creates a provider backed by r.
func NewTokenProvider(r Refresher, opts ...ProviderOption) *TokenProvider {
	p := &TokenProvider{
		refresher: r,
		margin:    DefaultExpiryMargin,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Token implements oauth2.TokenSource.
func (p *TokenProvider) Token() (*oauth2.Token, error) {
	return p.TokenContext(context.Background())
}

// TokenContext returns a token valid for at least the expiry margin.
func (p *TokenProvider) TokenContext(ctx context.Context) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.valid() {
		return p.token, nil
	}

	t, err := p.refresher.Refresh(ctx)
	if err == nil && (t == nil || t.AccessToken == "") {
		err = errors.New("refresh returned no access token")
	}
	metrics.RecordTokenRefresh(err == nil)
	if err != nil {
		logging.WithContext(ctx).Warn("access token refresh failed", zap.Error(err))
		return nil, fmt.Errorf("refresh access token: %w", err)
	}

	p.token = t
	logging.WithContext(ctx).Debug("access token refreshed", zap.Time("expiry", t.Expiry))
	return t, nil
}

// valid must be called with mu held. A zero expiry never expires.
func (p *TokenProvider) valid() bool {
	if p.token == nil || p.token.AccessToken == "" {
		return false
	}
	if p.token.Expiry.IsZero() {
		return true
	}
	return p.now().Add(p.margin).Before(p.token.Expiry)
}

// Invalidate drops the cached token so the next call refreshes.
func (p *TokenProvider) Invalidate() {
	p.mu.Lock()
	p.token = nil
	p.mu.Unlock()
}

// OAuthRefresher refreshes through an OAuth2 token endpoint using a stored
// refresh token.
type OAuthRefresher struct {
	config       *oauth2.Config
	refreshToken string
}

// NewGoogleRefresher returns a refresher for Google's token endpoint.
// tokenURL overrides the endpoint when non-empty.
func NewGoogleRefresher(clientID, clientSecret, refreshToken, tokenURL string) *OAuthRefresher {
	endpoint := endpoints.Google
	if tokenURL != "" {
		endpoint.TokenURL = tokenURL
	}
	return &OAuthRefresher{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     endpoint,
			Scopes:       []string{DriveScope},
		},
		refreshToken: refreshToken,
	}
}

// Refresh exchanges the refresh token for a new access token.
func (r *OAuthRefresher) Refresh(ctx context.Context) (*oauth2.Token, error) {
	src := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: r.refreshToken})
	t, err := src.Token()
	if err != nil {
		return nil, err
	}
	// Some endpoints rotate the refresh token.
	if t.RefreshToken != "" {
		r.refreshToken = t.RefreshToken
	}
	return t, nil
}
