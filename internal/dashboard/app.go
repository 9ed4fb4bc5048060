// Package dashboard composes the per-session state of the mini-app and keeps
// the mounted sessions in a registry.
package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/scanper/liff-dashboard/internal/freeclaim"
	"github.com/scanper/liff-dashboard/internal/history"
	"github.com/scanper/liff-dashboard/internal/payment"
	"github.com/scanper/liff-dashboard/internal/pubsub"
	"github.com/scanper/liff-dashboard/internal/session"
)

const (
	BannerPaymentCompleted = "Payment completed! Your pages have been added."
	bannerTTL              = 5 * time.Second
)

// API is everything the dashboard needs from the ScanPer backend.
// *scanper.Client implements it.
type API interface {
	session.UserAPI
	payment.API
	freeclaim.API
	history.API
}

type Deps struct {
	API    API
	Events pubsub.EventSink
	Logger zerolog.Logger
	Now    func() time.Time
}

// App is the mounted dashboard of one browser session.
type App struct {
	id       string
	identity session.Identity
	deps     Deps
	logger   zerolog.Logger

	store   *session.Store
	claim   *freeclaim.Card
	history *history.Card

	mu          sync.Mutex
	flow        *payment.Flow
	banner      string
	bannerUntil time.Time
	lastSeen    time.Time
}

func NewApp(sessionID string, identity session.Identity, deps Deps) *App {
	if deps.Events == nil {
		deps.Events = pubsub.NopSink{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	a := &App{
		id:       sessionID,
		identity: identity,
		deps:     deps,
		logger:   deps.Logger.With().Str("service", "Dashboard").Str("session_id", sessionID).Logger(),
		lastSeen: deps.Now(),
	}
	a.store = session.NewStore(identity, deps.API, deps.Logger)
	a.history = history.NewCard(deps.API, a.store, deps.Logger)
	a.claim = freeclaim.NewCard(deps.API, a.store, freeclaim.Options{
		SessionID: sessionID,
		OnClaimed: func(ctx context.Context) { a.store.Refresh(ctx) },
		Events:    deps.Events,
		Now:       deps.Now,
	}, deps.Logger)
	return a
}

func (a *App) ID() string                 { return a.id }
func (a *App) Store() *session.Store      { return a.store }
func (a *App) FreeClaim() *freeclaim.Card { return a.claim }
func (a *App) History() *history.Card     { return a.history }

// Mount runs the session lifecycle and, once the user is on the dashboard,
// loads the free claim card and payment history side by side.
func (a *App) Mount(ctx context.Context) error {
	if err := a.store.Mount(ctx); err != nil {
		return err
	}
	if a.store.Display() != session.DisplayDashboard {
		return nil
	}
	a.loadCards(ctx, true)
	return nil
}

func (a *App) loadCards(ctx context.Context, withClaim bool) {
	var g errgroup.Group
	g.Go(func() error {
		a.history.Load(ctx)
		return nil
	})
	if withClaim {
		g.Go(func() error {
			a.claim.Load(ctx)
			return nil
		})
	}
	_ = g.Wait()
}

// Refresh re-fetches the account view and payment history.
func (a *App) Refresh(ctx context.Context) {
	var g errgroup.Group
	g.Go(func() error {
		a.store.Refresh(ctx)
		return nil
	})
	g.Go(func() error {
		a.history.Load(ctx)
		return nil
	})
	_ = g.Wait()
}

// PaymentCompleted shows a short-lived banner and refreshes everything a
// payment may have changed.
func (a *App) PaymentCompleted(ctx context.Context) {
	a.setBanner(BannerPaymentCompleted)
	var g errgroup.Group
	g.Go(func() error {
		a.Refresh(ctx)
		return nil
	})
	g.Go(func() error {
		a.claim.Load(ctx)
		return nil
	})
	_ = g.Wait()
}

// NotePaymentCompleted records the banner without fetching anything. The page
// load that follows mounts fresh data and inherits the banner.
func (a *App) NotePaymentCompleted() {
	a.setBanner(BannerPaymentCompleted)
}

func (a *App) setBanner(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.banner = msg
	a.bannerUntil = a.deps.Now().Add(bannerTTL)
}

// TakeBanner returns the pending banner once. Expired banners are dropped.
func (a *App) TakeBanner() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	msg := a.banner
	active := msg != "" && a.deps.Now().Before(a.bannerUntil)
	a.banner = ""
	if !active {
		return ""
	}
	return msg
}

// inheritBanner carries an unconsumed banner over a page reload.
func (a *App) inheritBanner(prev *App) {
	prev.mu.Lock()
	msg, until := prev.banner, prev.bannerUntil
	prev.mu.Unlock()
	if msg == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.banner, a.bannerUntil = msg, until
}

// OpenPayment opens a fresh payment modal, replacing any open one.
func (a *App) OpenPayment(ctx context.Context) (*payment.Flow, error) {
	flow := payment.NewFlow(a.deps.API, a.store, payment.Options{
		SessionID: a.id,
		OnSuccess: a.paymentSucceeded,
		Events:    a.deps.Events,
		Now:       a.deps.Now,
	}, a.deps.Logger)

	a.mu.Lock()
	prev := a.flow
	a.flow = flow
	a.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	return flow, flow.Open(ctx)
}

// Payment returns the open modal, or nil.
func (a *App) Payment() *payment.Flow {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flow
}

func (a *App) ClosePayment() {
	a.mu.Lock()
	flow := a.flow
	a.flow = nil
	a.mu.Unlock()
	if flow != nil {
		flow.Close()
	}
}

func (a *App) paymentSucceeded(ctx context.Context) {
	a.logger.Info().Msg("Payment reported successful, refreshing quota")
	a.ClosePayment()
	a.PaymentCompleted(ctx)
}

// Logout revokes the login. The App must not be used afterwards.
func (a *App) Logout(ctx context.Context) error {
	a.ClosePayment()
	return a.store.Logout(ctx)
}

func (a *App) Close() {
	a.ClosePayment()
	a.claim.Close()
	a.history.Close()
	a.store.Close()
}

func (a *App) touch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastSeen = a.deps.Now()
}

func (a *App) idleFor() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deps.Now().Sub(a.lastSeen)
}
