package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/scanper/liff-dashboard/internal/api/v1/dto"
	"github.com/scanper/liff-dashboard/internal/metrics"
	"github.com/scanper/liff-dashboard/internal/util"
)

const (
	loginCookie = "scanper_login"
	loginTTL    = 10 * time.Minute
)

// LoginProvider is the process-wide LINE Login client. *liff.Provider
// implements it.
type LoginProvider interface {
	Initialize(ctx context.Context) error
	AuthCodeURL(state, nonce string) (string, error)
	Exchange(ctx context.Context, code, nonce string) (*oauth2.Token, error)
	VerifyAccessToken(ctx context.Context, accessToken string) (*oauth2.Token, error)
}

type AuthHandler struct {
	apps     *Apps
	provider LoginProvider
	secret   string
	secure   bool
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewAuthHandler(apps *Apps, provider LoginProvider, secret string, secure bool, v *validator.Validate, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		apps:     apps,
		provider: provider,
		secret:   secret,
		secure:   secure,
		validate: v,
		logger:   logger.With().Str("service", "AuthHandler").Logger(),
	}
}

// RegisterRoutes mounts the LINE Login routes.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /login", h.login)
	mux.HandleFunc("GET /auth/callback", h.callback)
	mux.HandleFunc("POST /auth/liff", h.liffLogin)
	mux.HandleFunc("POST /logout", h.logout)
}

// login starts the LINE Login redirect flow. State and nonce travel in a
// short-lived signed cookie scoped to the callback.
func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	if err := h.provider.Initialize(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("LINE Login is unavailable")
		http.Error(w, "LINE Login is unavailable", http.StatusBadGateway)
		return
	}

	state, nonce := uuid.NewString(), uuid.NewString()
	signed, err := util.SignLogin(h.secret, state, nonce, loginTTL)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to sign login state")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	authURL, err := h.provider.AuthCodeURL(state, nonce)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to build authorize URL")
		http.Error(w, "LINE Login is unavailable", http.StatusBadGateway)
		return
	}

	h.setLoginCookie(w, signed, int(loginTTL/time.Second))
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (h *AuthHandler) callback(w http.ResponseWriter, r *http.Request) {
	h.setLoginCookie(w, "", -1)
	q := r.URL.Query()

	if reason := q.Get("error"); reason != "" {
		h.logger.Info().Str("error", reason).Str("description", q.Get("error_description")).Msg("LINE Login was not completed")
		metrics.LoginsTotal.WithLabelValues("oauth", "denied").Inc()
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	c, err := r.Cookie(loginCookie)
	if err != nil {
		http.Error(w, "Login session expired, please try again", http.StatusBadRequest)
		return
	}
	claims, err := util.ValidateLogin(c.Value, h.secret)
	if err != nil || claims.State != q.Get("state") {
		h.logger.Warn().Err(err).Msg("Rejected login callback with invalid state")
		http.Error(w, "Invalid login state", http.StatusBadRequest)
		return
	}
	code := q.Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		return
	}

	if err := h.provider.Initialize(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("LINE Login is unavailable")
		http.Error(w, "LINE Login is unavailable", http.StatusBadGateway)
		return
	}
	tok, err := h.provider.Exchange(r.Context(), code, claims.Nonce)
	if err != nil {
		h.logger.Warn().Err(err).Msg("LINE Login code exchange failed")
		metrics.LoginsTotal.WithLabelValues("oauth", "failed").Inc()
		http.Error(w, "Login failed", http.StatusUnauthorized)
		return
	}
	if err := h.apps.Identity(r).Adopt(r.Context(), tok); err != nil {
		h.logger.Error().Err(err).Msg("Failed to store LINE token")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	metrics.LoginsTotal.WithLabelValues("oauth", "success").Inc()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// liffLogin adopts the access token the LIFF SDK obtained inside the LINE app.
func (h *AuthHandler) liffLogin(w http.ResponseWriter, r *http.Request) {
	form := dto.ParseLIFFLoginForm(r)
	if err := h.validate.Struct(&form); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.provider.Initialize(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("LINE Login is unavailable")
		http.Error(w, "LINE Login is unavailable", http.StatusBadGateway)
		return
	}
	tok, err := h.provider.VerifyAccessToken(r.Context(), form.AccessToken)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Rejected LIFF access token")
		metrics.LoginsTotal.WithLabelValues("liff", "failed").Inc()
		http.Error(w, "Invalid access token", http.StatusUnauthorized)
		return
	}
	if err := h.apps.Identity(r).Adopt(r.Context(), tok); err != nil {
		h.logger.Error().Err(err).Msg("Failed to store LINE token")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	metrics.LoginsTotal.WithLabelValues("liff", "success").Inc()
	w.WriteHeader(http.StatusNoContent)
}

// logout revokes the login and drops every piece of session state. The
// browser is sent back to a fresh page load.
func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request) {
	var err error
	if app, ok := h.apps.Lookup(r); ok {
		err = app.Logout(r.Context())
	} else {
		err = h.apps.Identity(r).Logout(r.Context())
	}
	if err != nil {
		h.logger.Warn().Err(err).Msg("Logout did not complete cleanly")
	}
	h.apps.Drop(r)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *AuthHandler) setLoginCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     loginCookie,
		Value:    value,
		Path:     "/auth/callback",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
