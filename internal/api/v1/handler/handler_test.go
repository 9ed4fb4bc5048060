package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/scanper/liff-dashboard/internal/dashboard"
	"github.com/scanper/liff-dashboard/internal/middleware"
	"github.com/scanper/liff-dashboard/internal/model"
	"github.com/scanper/liff-dashboard/internal/scanper"
	"github.com/scanper/liff-dashboard/internal/view"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// tokenBook plays the token store shared by every bound identity.
type tokenBook struct {
	mu     sync.Mutex
	tokens map[string]*oauth2.Token
}

func (b *tokenBook) get(sessionID string) *oauth2.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens[sessionID]
}

func (b *tokenBook) set(sessionID string, tok *oauth2.Token) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if tok == nil {
		delete(b.tokens, sessionID)
		return
	}
	b.tokens[sessionID] = tok
}

type fakeIdentity struct {
	book      *tokenBook
	sessionID string
	userAgent string
}

func (f *fakeIdentity) Initialize(context.Context) error { return nil }
func (f *fakeIdentity) IsLoggedIn() bool                 { return f.AccessToken() != "" }
func (f *fakeIdentity) IsInClient() bool                 { return strings.Contains(f.userAgent, "Line/") }

func (f *fakeIdentity) Profile(context.Context) (*model.Profile, error) {
	return &model.Profile{UserID: "U1", DisplayName: "Somchai"}, nil
}

func (f *fakeIdentity) AccessToken() string {
	if tok := f.book.get(f.sessionID); tok != nil {
		return tok.AccessToken
	}
	return ""
}

func (f *fakeIdentity) LoginURL(state, nonce string) (string, error) {
	return "https://access.line.me/oauth2/v2.1/authorize?state=" + state, nil
}

func (f *fakeIdentity) Logout(context.Context) error {
	f.book.set(f.sessionID, nil)
	return nil
}

func (f *fakeIdentity) Adopt(_ context.Context, tok *oauth2.Token) error {
	f.book.set(f.sessionID, tok)
	return nil
}

type fakeProvider struct {
	mu     sync.Mutex
	nonces []string
}

func (p *fakeProvider) Initialize(context.Context) error { return nil }

func (p *fakeProvider) AuthCodeURL(state, nonce string) (string, error) {
	p.mu.Lock()
	p.nonces = append(p.nonces, nonce)
	p.mu.Unlock()
	return "https://access.line.me/oauth2/v2.1/authorize?" + url.Values{"state": {state}}.Encode(), nil
}

func (p *fakeProvider) Exchange(_ context.Context, code, nonce string) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if code != "good-code" || len(p.nonces) == 0 || p.nonces[len(p.nonces)-1] != nonce {
		return nil, errors.New("invalid grant")
	}
	return &oauth2.Token{AccessToken: "oauth-token", Expiry: time.Now().Add(time.Hour)}, nil
}

func (p *fakeProvider) VerifyAccessToken(_ context.Context, accessToken string) (*oauth2.Token, error) {
	if accessToken != "liff-token" {
		return nil, errors.New("invalid token")
	}
	return &oauth2.Token{AccessToken: accessToken, Expiry: time.Now().Add(time.Hour)}, nil
}

type fakeAPI struct {
	mu      sync.Mutex
	fetches int
	name    *string
	history []model.PaymentHistoryItem
	intent  *model.ChargeIntent
	claimed bool
}

func (f *fakeAPI) FetchUser(context.Context, string) (*scanper.UserResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return &scanper.UserResult{Account: &model.UserData{
		LINEUserID:   "U1",
		DisplayName:  f.name,
		OCRLimit:     100,
		OCRRemaining: 60,
	}}, nil
}

func (f *fakeAPI) UpdateDisplayName(_ context.Context, _ string, name string) (*model.DisplayNameUpdate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.name = &name
	return &model.DisplayNameUpdate{Success: true, DisplayName: name}, nil
}

func (f *fakeAPI) userFetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *fakeAPI) FreeClaimStatus(context.Context, string) (*model.FreeClaimStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &model.FreeClaimStatus{CanClaim: !f.claimed, PagesAvailable: 5}, nil
}

func (f *fakeAPI) ClaimFreePages(context.Context, string) (*model.FreeClaimResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimed = true
	return &model.FreeClaimResult{Message: "Claimed 5 free pages"}, nil
}

func (f *fakeAPI) PaymentPackages(context.Context, string) ([]model.PaymentPackage, error) {
	return []model.PaymentPackage{{AmountTHB: 50, Pages: 100}, {AmountTHB: 100, Pages: 200}}, nil
}

func (f *fakeAPI) PendingPayment(context.Context, string) (*model.PendingPayment, error) {
	return nil, nil
}

func (f *fakeAPI) CreateCharge(context.Context, string, int) (*model.ChargeIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.intent == nil {
		return nil, errors.New("no charge configured")
	}
	return f.intent, nil
}

func (f *fakeAPI) PaymentHistory(context.Context, string) ([]model.PaymentHistoryItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history, nil
}

type harness struct {
	srv      *httptest.Server
	client   *http.Client
	api      *fakeAPI
	registry *dashboard.Registry
}

func newHarness(t *testing.T, api *fakeAPI) *harness {
	t.Helper()
	nop := zerolog.Nop()
	registry := dashboard.NewRegistry(time.Hour, nop)
	book := &tokenBook{tokens: make(map[string]*oauth2.Token)}
	bind := func(sessionID, userAgent string) Identity {
		return &fakeIdentity{book: book, sessionID: sessionID, userAgent: userAgent}
	}

	renderer, err := view.NewRenderer()
	require.NoError(t, err)
	v := validator.New(validator.WithRequiredStructEnabled())
	apps := NewApps(registry, bind, dashboard.Deps{API: api, Logger: nop}, nop)
	pages := NewPages(renderer, "1657000000-abcdef", nop)

	mux := http.NewServeMux()
	NewDashboardHandler(apps, pages, v, nop).RegisterRoutes(mux)
	NewAuthHandler(apps, &fakeProvider{}, testSecret, false, v, nop).RegisterRoutes(mux)
	NewPaymentHandler(apps, pages, v, nop).RegisterRoutes(mux)
	h := middleware.Session(middleware.SessionOptions{Secret: testSecret, TTL: time.Hour}, nop)(mux)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &harness{
		srv: srv,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		api:      api,
		registry: registry,
	}
}

func (h *harness) do(t *testing.T, req *http.Request) (*http.Response, string) {
	t.Helper()
	resp, err := h.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (h *harness) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, h.srv.URL+path, nil)
	require.NoError(t, err)
	return h.do(t, req)
}

func (h *harness) post(t *testing.T, path string, form url.Values) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.srv.URL+path, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return h.do(t, req)
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	resp, _ := h.post(t, "/auth/liff", url.Values{"access_token": {"liff-token"}})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestIndexShowsLoginWhenLoggedOut(t *testing.T) {
	h := newHarness(t, &fakeAPI{})

	resp, body := h.get(t, "/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Contains(t, body, `href="/login"`)
	assert.NotContains(t, body, "Pages Remaining")
}

func TestUnknownPathIsNotFound(t *testing.T) {
	h := newHarness(t, &fakeAPI{})

	resp, _ := h.get(t, "/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLIFFLoginShowsDashboard(t *testing.T) {
	h := newHarness(t, &fakeAPI{})
	h.login(t)

	_, body := h.get(t, "/")
	assert.Contains(t, body, "Pages Remaining")
	assert.Contains(t, body, "Somchai")
	assert.Contains(t, body, "Claim 5 free pages today!")
	assert.Equal(t, 1, h.registry.Len())
}

func TestLIFFLoginRejectsBadTokens(t *testing.T) {
	h := newHarness(t, &fakeAPI{})

	resp, _ := h.post(t, "/auth/liff", url.Values{"access_token": {"stolen"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = h.post(t, "/auth/liff", url.Values{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOAuthLoginFlow(t *testing.T) {
	h := newHarness(t, &fakeAPI{})

	resp, _ := h.get(t, "/login")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	authURL, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "access.line.me", authURL.Host)
	state := authURL.Query().Get("state")
	require.NotEmpty(t, state)

	resp, _ = h.get(t, "/auth/callback?"+url.Values{"code": {"good-code"}, "state": {state}}.Encode())
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	_, body := h.get(t, "/")
	assert.Contains(t, body, "Pages Remaining")
}

func TestOAuthCallbackRejectsForeignState(t *testing.T) {
	h := newHarness(t, &fakeAPI{})

	resp, _ := h.get(t, "/login")
	require.Equal(t, http.StatusFound, resp.StatusCode)

	resp, _ = h.get(t, "/auth/callback?code=good-code&state=forged")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, body := h.get(t, "/")
	assert.NotContains(t, body, "Pages Remaining")
}

func TestOAuthCallbackWithoutLoginCookie(t *testing.T) {
	h := newHarness(t, &fakeAPI{})

	resp, _ := h.get(t, "/auth/callback?code=good-code&state=s")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOAuthCallbackDenied(t *testing.T) {
	h := newHarness(t, &fakeAPI{})

	resp, _ := h.get(t, "/auth/callback?error=access_denied")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))
}

func TestLogoutResetsSession(t *testing.T) {
	h := newHarness(t, &fakeAPI{})
	h.login(t)
	h.get(t, "/")
	require.Equal(t, 1, h.registry.Len())

	resp, _ := h.post(t, "/logout", nil)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Zero(t, h.registry.Len())

	_, body := h.get(t, "/")
	assert.Contains(t, body, `href="/login"`)
}

func TestFreeClaim(t *testing.T) {
	h := newHarness(t, &fakeAPI{})
	h.login(t)
	h.get(t, "/")

	resp, body := h.post(t, "/free-claim", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "✓ Claimed")
	assert.Contains(t, body, "Claimed 5 free pages")

	resp, _ = h.post(t, "/free-claim", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHistoryToggle(t *testing.T) {
	api := &fakeAPI{}
	for i := range 5 {
		api.history = append(api.history, model.PaymentHistoryItem{
			ChargeID:       fmt.Sprintf("ch_%d", i),
			AmountTHB:      10,
			PagesPurchased: 20,
			Status:         model.PaymentSucceeded,
		})
	}
	h := newHarness(t, api)
	h.login(t)

	_, body := h.get(t, "/")
	assert.Contains(t, body, "Show all 5 transactions")

	_, body = h.post(t, "/history/toggle", nil)
	assert.Contains(t, body, "Show less")

	_, body = h.post(t, "/history/toggle", nil)
	assert.Contains(t, body, "Show all 5 transactions")
}

func TestDisplayNameUpdate(t *testing.T) {
	h := newHarness(t, &fakeAPI{})
	h.login(t)

	_, body := h.get(t, "/?edit=name")
	assert.Contains(t, body, `action="/display-name"`)

	resp, body := h.post(t, "/display-name", url.Values{"display_name": {"  Nok  "}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Nok")
	assert.NotContains(t, body, `action="/display-name"`)

	resp, body = h.post(t, "/display-name", url.Values{"display_name": {strings.Repeat("ก", 51)}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "Display name must be 50 characters or less")

	resp, body = h.post(t, "/display-name", url.Values{"display_name": {"   "}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "Display name cannot be empty")
}

func TestPaymentRedirect(t *testing.T) {
	checkout := "https://pay.beamcheckout.com/checkout/ch_1"
	h := newHarness(t, &fakeAPI{intent: &model.ChargeIntent{
		ChargeID:       "ch_1",
		PagesToReceive: 100,
		ActionRequired: model.ActionRedirect,
		RedirectURL:    &checkout,
	}})
	h.login(t)
	h.get(t, "/")

	_, body := h.post(t, "/payment/open", nil)
	assert.Contains(t, body, "Buy More Pages</h2>")
	assert.Contains(t, body, "Enter amount (min ฿10)")

	_, body = h.post(t, "/payment/package", url.Values{"amount_thb": {"50"}})
	assert.Contains(t, body, "Pay ฿50")

	resp, _ := h.post(t, "/payment/purchase", nil)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, checkout, resp.Header.Get("Location"))
}

func TestPaymentQRConfirm(t *testing.T) {
	qr := "iVBORw0KGgo"
	expiry := model.NewTimestamp(time.Now().Add(10 * time.Minute))
	h := newHarness(t, &fakeAPI{intent: &model.ChargeIntent{
		ChargeID:       "ch_2",
		PagesToReceive: 40,
		ActionRequired: model.ActionEncodedImage,
		QRCode:         &qr,
		QRExpiry:       &expiry,
	}})
	h.login(t)
	h.get(t, "/")
	h.post(t, "/payment/open", nil)
	h.post(t, "/payment/custom", url.Values{"amount": {"25"}})

	_, body := h.post(t, "/payment/purchase", nil)
	assert.Contains(t, body, "data:image/png;base64,"+qr)

	resp, body := h.post(t, "/payment/qr/complete", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, dashboard.BannerPaymentCompleted)
	assert.NotContains(t, body, "Buy More Pages</h2>")
}

func TestPaymentBelowMinimum(t *testing.T) {
	h := newHarness(t, &fakeAPI{})
	h.login(t)
	h.get(t, "/")
	h.post(t, "/payment/open", nil)

	_, body := h.post(t, "/payment/custom", url.Values{"amount": {"5"}})
	assert.Contains(t, body, "Enter amount (min ฿10)")

	resp, body := h.post(t, "/payment/purchase", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Minimum amount is 10 THB")
}

func TestPaymentActionWithoutModal(t *testing.T) {
	h := newHarness(t, &fakeAPI{})
	h.login(t)
	h.get(t, "/")

	resp, _ := h.post(t, "/payment/purchase", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPaymentCompleteReturnShowsBannerOnce(t *testing.T) {
	h := newHarness(t, &fakeAPI{})
	h.login(t)
	h.get(t, "/")

	require.Equal(t, 1, h.api.userFetches())

	resp, _ := h.get(t, "/?payment=complete")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))
	assert.Equal(t, 1, h.api.userFetches())

	_, body := h.get(t, "/")
	assert.Contains(t, body, dashboard.BannerPaymentCompleted)
	assert.Equal(t, 2, h.api.userFetches())

	_, body = h.get(t, "/")
	assert.NotContains(t, body, dashboard.BannerPaymentCompleted)
}

func TestPaymentCompleteReturnWithoutMountedDashboard(t *testing.T) {
	h := newHarness(t, &fakeAPI{})
	h.login(t)

	resp, _ := h.get(t, "/?payment=complete")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Zero(t, h.api.userFetches())
	assert.Equal(t, 1, h.registry.Len())

	_, body := h.get(t, "/")
	assert.Contains(t, body, dashboard.BannerPaymentCompleted)
	assert.Equal(t, 1, h.api.userFetches())
}
