package liff

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/scanper/liff-dashboard/internal/model"
	"github.com/scanper/liff-dashboard/internal/tokenstore"
)

// Session binds the provider to one browser session. IsLoggedIn, IsInClient
// and AccessToken are only meaningful after Initialize has returned nil.
type Session struct {
	provider  *Provider
	tokens    tokenstore.Store
	sessionID string
	userAgent string
	ttl       time.Duration

	mu          sync.RWMutex
	initialized bool
	token       *oauth2.Token
}

func (p *Provider) Bind(tokens tokenstore.Store, sessionID, userAgent string, ttl time.Duration) *Session {
	return &Session{
		provider:  p,
		tokens:    tokens,
		sessionID: sessionID,
		userAgent: userAgent,
		ttl:       ttl,
	}
}

// Initialize prepares the provider and loads the stored login, refreshing it
// when it has expired and a refresh token is available.
func (s *Session) Initialize(ctx context.Context) error {
	if err := s.provider.Initialize(ctx); err != nil {
		return err
	}
	tok, err := s.tokens.Load(ctx, s.sessionID)
	if err != nil {
		return err
	}
	if tok != nil && !tok.Valid() && tok.RefreshToken != "" {
		fresh, err := s.provider.Refresh(ctx, tok)
		if err != nil {
			s.provider.logger.Warn().Err(err).Msg("Stored LINE token could not be refreshed")
			tok = nil
		} else {
			tok = fresh
			if err := s.tokens.Save(ctx, s.sessionID, fresh, s.ttl); err != nil {
				s.provider.logger.Warn().Err(err).Msg("Failed to persist refreshed LINE token")
			}
		}
	}

	s.mu.Lock()
	s.initialized = true
	s.token = tok
	s.mu.Unlock()
	return nil
}

func (s *Session) IsLoggedIn() bool {
	return s.AccessToken() != ""
}

func (s *Session) IsInClient() bool {
	return IsInClient(s.userAgent)
}

func (s *Session) OS() string {
	return DetectOS(s.userAgent)
}

// LoginURL starts the LINE Login redirect flow.
func (s *Session) LoginURL(state, nonce string) (string, error) {
	return s.provider.AuthCodeURL(state, nonce)
}

// AccessToken returns the current token or "" when there is no valid login.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized || s.token == nil || !s.token.Valid() {
		return ""
	}
	return s.token.AccessToken
}

func (s *Session) Profile(ctx context.Context) (*model.Profile, error) {
	tok := s.AccessToken()
	if tok == "" {
		return nil, ErrNotLoggedIn
	}
	return s.provider.Profile(ctx, tok)
}

// Adopt stores a freshly obtained token as this session's login.
func (s *Session) Adopt(ctx context.Context, tok *oauth2.Token) error {
	if err := s.tokens.Save(ctx, s.sessionID, tok, s.ttl); err != nil {
		return err
	}
	s.mu.Lock()
	s.token = tok
	s.mu.Unlock()
	return nil
}

// Logout revokes the token at LINE and forgets it. The caller is expected to
// reload the page so that no client state survives.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	tok := s.token
	s.token = nil
	s.mu.Unlock()

	if tok != nil && tok.AccessToken != "" {
		if err := s.provider.Revoke(ctx, tok.AccessToken); err != nil {
			s.provider.logger.Warn().Err(err).Msg("Failed to revoke LINE token")
		}
	}
	return s.tokens.Delete(ctx, s.sessionID)
}

// IsInClient reports whether the request comes from the LINE in-app browser.
func IsInClient(userAgent string) bool {
	return strings.Contains(userAgent, "Line/")
}

// DetectOS mirrors liff.getOS(): "ios", "android" or "web".
func DetectOS(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ipod"):
		return "ios"
	case strings.Contains(ua, "android"):
		return "android"
	default:
		return "web"
	}
}
