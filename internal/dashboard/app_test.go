package dashboard

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanper/liff-dashboard/internal/model"
	"github.com/scanper/liff-dashboard/internal/payment"
	"github.com/scanper/liff-dashboard/internal/scanper"
	"github.com/scanper/liff-dashboard/internal/session"
)

type fakeIdentity struct {
	loggedIn bool
}

func (f *fakeIdentity) Initialize(context.Context) error { return nil }
func (f *fakeIdentity) IsLoggedIn() bool                 { return f.loggedIn }
func (f *fakeIdentity) IsInClient() bool                 { return false }
func (f *fakeIdentity) LoginURL(string, string) (string, error) {
	return "https://access.line.me/oauth2/v2.1/authorize", nil
}
func (f *fakeIdentity) Logout(context.Context) error { return nil }

func (f *fakeIdentity) Profile(context.Context) (*model.Profile, error) {
	return &model.Profile{UserID: "U1", DisplayName: "Somchai"}, nil
}

func (f *fakeIdentity) AccessToken() string {
	if !f.loggedIn {
		return ""
	}
	return "tok"
}

type fakeAPI struct {
	mu           sync.Mutex
	userCalls    atomic.Int32
	historyCalls atomic.Int32
	claimCalls   atomic.Int32
	remaining    int
	intent       *model.ChargeIntent
	pending      *model.PendingPayment
}

func (f *fakeAPI) FetchUser(context.Context, string) (*scanper.UserResult, error) {
	f.userCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return &scanper.UserResult{Account: &model.UserData{LINEUserID: "U1", OCRLimit: 100, OCRRemaining: f.remaining}}, nil
}

func (f *fakeAPI) UpdateDisplayName(_ context.Context, _ string, name string) (*model.DisplayNameUpdate, error) {
	return &model.DisplayNameUpdate{Success: true, DisplayName: name}, nil
}

func (f *fakeAPI) FreeClaimStatus(context.Context, string) (*model.FreeClaimStatus, error) {
	f.claimCalls.Add(1)
	return &model.FreeClaimStatus{CanClaim: true, PagesAvailable: 5}, nil
}

func (f *fakeAPI) ClaimFreePages(context.Context, string) (*model.FreeClaimResult, error) {
	f.mu.Lock()
	f.remaining += 5
	f.mu.Unlock()
	return &model.FreeClaimResult{Message: "Claimed 5 pages"}, nil
}

func (f *fakeAPI) PaymentPackages(context.Context, string) ([]model.PaymentPackage, error) {
	return []model.PaymentPackage{{AmountTHB: 50, Pages: 100, Label: "100 pages"}}, nil
}

func (f *fakeAPI) PendingPayment(context.Context, string) (*model.PendingPayment, error) {
	return f.pending, nil
}

func (f *fakeAPI) CreateCharge(context.Context, string, int) (*model.ChargeIntent, error) {
	return f.intent, nil
}

func (f *fakeAPI) PaymentHistory(context.Context, string) ([]model.PaymentHistoryItem, error) {
	f.historyCalls.Add(1)
	return []model.PaymentHistoryItem{{ChargeID: "ch_1", AmountTHB: 50, PagesPurchased: 100, Status: model.PaymentSucceeded}}, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newApp(t *testing.T, loggedIn bool, api *fakeAPI, clk *clock) *App {
	t.Helper()
	return NewApp("sid", &fakeIdentity{loggedIn: loggedIn}, Deps{API: api, Logger: zerolog.Nop(), Now: clk.Now})
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestMountLoadsCardsWhenLoggedIn(t *testing.T) {
	api := &fakeAPI{remaining: 40}
	app := newApp(t, true, api, newClock())

	require.NoError(t, app.Mount(context.Background()))
	assert.Equal(t, session.DisplayDashboard, app.Store().Display())
	assert.Equal(t, int32(1), api.userCalls.Load())
	assert.Equal(t, int32(1), api.historyCalls.Load())
	assert.Equal(t, int32(1), api.claimCalls.Load())
	assert.Equal(t, 1, app.History().Snapshot().Count)
	assert.NotNil(t, app.FreeClaim().Snapshot().Status)
}

func TestMountSkipsCardsOnLoginScreen(t *testing.T) {
	api := &fakeAPI{}
	app := newApp(t, false, api, newClock())

	require.NoError(t, app.Mount(context.Background()))
	assert.Equal(t, session.DisplayLogin, app.Store().Display())
	assert.Zero(t, api.userCalls.Load())
	assert.Zero(t, api.historyCalls.Load())
	assert.Zero(t, api.claimCalls.Load())
}

func TestPaymentCompletedShowsBannerOnce(t *testing.T) {
	api := &fakeAPI{remaining: 40}
	clk := newClock()
	app := newApp(t, true, api, clk)
	require.NoError(t, app.Mount(context.Background()))

	app.PaymentCompleted(context.Background())
	assert.Equal(t, int32(2), api.userCalls.Load())
	assert.Equal(t, int32(2), api.historyCalls.Load())
	assert.Equal(t, int32(2), api.claimCalls.Load())

	assert.Equal(t, BannerPaymentCompleted, app.TakeBanner())
	assert.Empty(t, app.TakeBanner())
}

func TestBannerExpires(t *testing.T) {
	clk := newClock()
	app := newApp(t, true, &fakeAPI{}, clk)
	app.PaymentCompleted(context.Background())

	clk.Advance(6 * time.Second)
	assert.Empty(t, app.TakeBanner())
}

func TestFreeClaimRefreshesAccount(t *testing.T) {
	api := &fakeAPI{remaining: 0}
	app := newApp(t, true, api, newClock())
	require.NoError(t, app.Mount(context.Background()))

	require.NoError(t, app.FreeClaim().Claim(context.Background()))
	acc, ok := app.Store().Snapshot().Account.(session.Account)
	require.True(t, ok)
	assert.Equal(t, 5, acc.Data.OCRRemaining)
}

func TestImmediatePaymentClosesModalAndRefreshes(t *testing.T) {
	api := &fakeAPI{intent: &model.ChargeIntent{ChargeID: "ch_ok", ActionRequired: model.ActionNone}}
	app := newApp(t, true, api, newClock())
	require.NoError(t, app.Mount(context.Background()))

	flow, err := app.OpenPayment(context.Background())
	require.NoError(t, err)
	require.NoError(t, flow.SelectPackage(50))

	out, err := flow.Purchase(context.Background())
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeSucceeded, out.Kind)
	assert.Nil(t, app.Payment())
	assert.Equal(t, int32(2), api.userCalls.Load())
	assert.Equal(t, BannerPaymentCompleted, app.TakeBanner())
}

func TestReopenPaymentReplacesFlow(t *testing.T) {
	app := newApp(t, true, &fakeAPI{}, newClock())
	require.NoError(t, app.Mount(context.Background()))

	first, err := app.OpenPayment(context.Background())
	require.NoError(t, err)
	second, err := app.OpenPayment(context.Background())
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Same(t, second, app.Payment())
	assert.ErrorIs(t, first.Open(context.Background()), payment.ErrClosed)

	app.ClosePayment()
	assert.Nil(t, app.Payment())
}
