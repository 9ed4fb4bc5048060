// Package liff adapts LINE Login (OAuth2 + OpenID Connect) to the identity
// operations the dashboard needs: initialization, login, profile, access
// token and logout.
package liff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/scanper/liff-dashboard/internal/model"
)

var (
	ErrNotConfigured  = errors.New("LIFF_ID is not configured")
	ErrNotInitialized = errors.New("LIFF is not initialized")
	ErrNotLoggedIn    = errors.New("not logged in")
	ErrNonceMismatch  = errors.New("id token nonce mismatch")
	ErrForeignToken   = errors.New("access token was issued for another channel")
)

// Endpoints of the LINE platform. Tests point these at httptest servers.
type Endpoints struct {
	Issuer     string
	ProfileURL string
	VerifyURL  string
	RevokeURL  string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		Issuer:     "https://access.line.me",
		ProfileURL: "https://api.line.me/v2/profile",
		VerifyURL:  "https://api.line.me/oauth2/v2.1/verify",
		RevokeURL:  "https://api.line.me/oauth2/v2.1/revoke",
	}
}

type Options struct {
	LIFFID        string
	ChannelSecret string
	RedirectURL   string
	Endpoints     Endpoints
	HTTPClient    *http.Client
}

// Provider holds the process-wide LINE Login client. Discovery happens in
// Initialize; a failed discovery is retried on the next call.
type Provider struct {
	opts       Options
	channelID  string
	httpClient *http.Client
	logger     zerolog.Logger

	mu        sync.Mutex
	oauth2Cfg *oauth2.Config
	verifier  *oidc.IDTokenVerifier
}

func NewProvider(opts Options, logger zerolog.Logger) *Provider {
	if opts.Endpoints == (Endpoints{}) {
		opts.Endpoints = DefaultEndpoints()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	channelID, _, _ := strings.Cut(opts.LIFFID, "-")
	return &Provider{
		opts:       opts,
		channelID:  channelID,
		httpClient: httpClient,
		logger:     logger.With().Str("service", "LINELogin").Logger(),
	}
}

// ChannelID is the LINE Login channel that owns the LIFF app.
func (p *Provider) ChannelID() string { return p.channelID }

func (p *Provider) Initialize(ctx context.Context) error {
	if strings.TrimSpace(p.opts.LIFFID) == "" {
		return ErrNotConfigured
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.verifier != nil {
		return nil
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, p.httpClient), p.opts.Endpoints.Issuer)
	if err != nil {
		return fmt.Errorf("discovering LINE Login provider: %w", err)
	}
	p.verifier = provider.Verifier(&oidc.Config{ClientID: p.channelID})
	p.oauth2Cfg = &oauth2.Config{
		ClientID:     p.channelID,
		ClientSecret: p.opts.ChannelSecret,
		RedirectURL:  p.opts.RedirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "profile"},
	}
	p.logger.Info().Str("channel_id", p.channelID).Msg("LINE Login provider initialized")
	return nil
}

func (p *Provider) config() (*oauth2.Config, *oidc.IDTokenVerifier, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.oauth2Cfg == nil {
		return nil, nil, ErrNotInitialized
	}
	return p.oauth2Cfg, p.verifier, nil
}

// AuthCodeURL returns the LINE authorize URL for the given state and nonce.
func (p *Provider) AuthCodeURL(state, nonce string) (string, error) {
	cfg, _, err := p.config()
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL(state, oidc.Nonce(nonce)), nil
}

// Exchange trades an authorization code for a token and verifies the ID token
// audience and nonce.
func (p *Provider) Exchange(ctx context.Context, code, nonce string) (*oauth2.Token, error) {
	cfg, verifier, err := p.config()
	if err != nil {
		return nil, err
	}
	ctx = oidc.ClientContext(ctx, p.httpClient)
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("token response has no id_token")
	}
	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verifying id token: %w", err)
	}
	if idToken.Nonce != nonce {
		return nil, ErrNonceMismatch
	}
	return tok, nil
}

// Refresh renews an expired token when it carries a refresh token.
func (p *Provider) Refresh(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	cfg, _, err := p.config()
	if err != nil {
		return nil, err
	}
	fresh, err := cfg.TokenSource(oidc.ClientContext(ctx, p.httpClient), tok).Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}
	return fresh, nil
}

type verifyResponse struct {
	Scope     string `json:"scope"`
	ClientID  string `json:"client_id"`
	ExpiresIn int64  `json:"expires_in"`
}

// VerifyAccessToken validates an access token obtained by the LIFF SDK inside
// the LINE app and converts it into a token owned by this session.
func (p *Provider) VerifyAccessToken(ctx context.Context, accessToken string) (*oauth2.Token, error) {
	u := p.opts.Endpoints.VerifyURL + "?" + url.Values{"access_token": {accessToken}}.Encode()
	var out verifyResponse
	if err := p.getJSON(ctx, u, "", &out); err != nil {
		return nil, err
	}
	if out.ClientID != p.channelID {
		return nil, ErrForeignToken
	}
	if out.ExpiresIn <= 0 {
		return nil, errors.New("access token has expired")
	}
	return &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Duration(out.ExpiresIn) * time.Second),
	}, nil
}

func (p *Provider) Profile(ctx context.Context, accessToken string) (*model.Profile, error) {
	var profile model.Profile
	if err := p.getJSON(ctx, p.opts.Endpoints.ProfileURL, accessToken, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Revoke invalidates the access token at LINE.
func (p *Provider) Revoke(ctx context.Context, accessToken string) error {
	form := url.Values{
		"client_id":     {p.channelID},
		"client_secret": {p.opts.ChannelSecret},
		"access_token":  {accessToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.opts.Endpoints.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke returned status %d", resp.StatusCode)
	}
	return nil
}

func (p *Provider) getJSON(ctx context.Context, u, bearer string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling LINE platform: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		p.logger.Warn().Int("status_code", resp.StatusCode).Str("error_body", string(body)).Msg("LINE platform returned error")
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest {
			return ErrNotLoggedIn
		}
		return fmt.Errorf("LINE platform returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding LINE response: %w", err)
	}
	return nil
}
