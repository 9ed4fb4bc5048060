package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scanper/liff-dashboard/internal/util"
)

const SessionCookie = "scanper_session"

type contextKey string

const sessionContextKey = contextKey("session")

// SessionOptions configures the browser session cookie.
type SessionOptions struct {
	Secret string
	TTL    time.Duration
	Secure bool
}

// Session gives every browser a signed session id cookie. An absent, expired
// or tampered cookie is replaced by a fresh id.
func Session(opts SessionOptions, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var sessionID string
			if c, err := r.Cookie(SessionCookie); err == nil {
				id, err := util.ValidateSession(c.Value, opts.Secret)
				if err != nil {
					logger.Debug().Err(err).Msg("Discarding invalid session cookie")
				} else {
					sessionID = id
				}
			}
			if sessionID == "" {
				sessionID = uuid.NewString()
			}

			// Re-issued on every request so an active session never expires.
			signed, err := util.SignSession(opts.Secret, sessionID, opts.TTL)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to sign session cookie")
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    signed,
				Path:     "/",
				MaxAge:   int(opts.TTL / time.Second),
				HttpOnly: true,
				Secure:   opts.Secure,
				SameSite: sameSite(opts.Secure),
			})

			ctx := context.WithValue(r.Context(), sessionContextKey, sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LIFF pages are framed by the LINE app, which needs SameSite=None. Browsers
// reject that without Secure, so plain-HTTP development falls back to Lax.
func sameSite(secure bool) http.SameSite {
	if secure {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

// SessionID returns the session id set by Session, or "".
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionContextKey).(string)
	return id
}

// WithSessionID is used by tests and background jobs that act for a session.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionContextKey, sessionID)
}
