package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/scanper/liff-dashboard/internal/dashboard"
	"github.com/scanper/liff-dashboard/internal/middleware"
	"github.com/scanper/liff-dashboard/internal/session"
)

// Identity is the LINE login of one browser session. *liff.Session
// implements it.
type Identity interface {
	session.Identity
	Adopt(ctx context.Context, tok *oauth2.Token) error
}

// BindFunc binds LINE Login to a browser session.
type BindFunc func(sessionID, userAgent string) Identity

// Apps resolves the dashboard App of the requesting browser session.
type Apps struct {
	registry *dashboard.Registry
	bind     BindFunc
	deps     dashboard.Deps
	logger   zerolog.Logger
}

func NewApps(registry *dashboard.Registry, bind BindFunc, deps dashboard.Deps, logger zerolog.Logger) *Apps {
	return &Apps{
		registry: registry,
		bind:     bind,
		deps:     deps,
		logger:   logger.With().Str("service", "Apps").Logger(),
	}
}

// Identity binds LINE Login to the request's session without mounting an App.
func (a *Apps) Identity(r *http.Request) Identity {
	return a.bind(middleware.SessionID(r.Context()), r.UserAgent())
}

// Mount replaces the session's App with a freshly mounted one, the server
// side equivalent of a page load.
func (a *Apps) Mount(r *http.Request) *dashboard.App {
	sessionID := middleware.SessionID(r.Context())
	app := dashboard.NewApp(sessionID, a.bind(sessionID, r.UserAgent()), a.deps)
	a.registry.Replace(app)
	if err := app.Mount(r.Context()); err != nil && !errors.Is(err, session.ErrClosed) {
		a.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Dashboard mount failed")
	}
	return app
}

// Lookup returns the session's mounted App, if any.
func (a *Apps) Lookup(r *http.Request) (*dashboard.App, bool) {
	return a.registry.Get(middleware.SessionID(r.Context()))
}

// Current returns the mounted App, mounting one when the session has none,
// e.g. after a restart or an idle eviction.
func (a *Apps) Current(r *http.Request) *dashboard.App {
	if app, ok := a.Lookup(r); ok {
		return app
	}
	return a.Mount(r)
}

// NotePaymentCompleted records the payment banner for the session without
// mounting. A session with no App gets an unmounted one that only carries
// the banner to the next page load.
func (a *Apps) NotePaymentCompleted(r *http.Request) {
	if app, ok := a.Lookup(r); ok {
		app.NotePaymentCompleted()
		return
	}
	sessionID := middleware.SessionID(r.Context())
	app := dashboard.NewApp(sessionID, a.bind(sessionID, r.UserAgent()), a.deps)
	app.NotePaymentCompleted()
	a.registry.Replace(app)
}

// Drop closes and forgets the session's App.
func (a *Apps) Drop(r *http.Request) {
	a.registry.Remove(middleware.SessionID(r.Context()))
}
