// Package freeclaim holds the daily free pages card.
package freeclaim

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/scanper/liff-dashboard/internal/metrics"
	"github.com/scanper/liff-dashboard/internal/model"
	"github.com/scanper/liff-dashboard/internal/pubsub"
	"github.com/scanper/liff-dashboard/internal/scanper"
)

var (
	ErrBusy         = errors.New("a claim is already in progress")
	ErrNotClaimable = errors.New("free pages cannot be claimed now")
	ErrClosed       = errors.New("free claim card is closed")
)

type API interface {
	FreeClaimStatus(ctx context.Context, accessToken string) (*model.FreeClaimStatus, error)
	ClaimFreePages(ctx context.Context, accessToken string) (*model.FreeClaimResult, error)
}

type TokenSource interface {
	AccessToken() string
}

type Options struct {
	SessionID string
	// OnClaimed runs after a successful claim so the account view can refresh.
	OnClaimed func(ctx context.Context)
	Events    pubsub.EventSink
	Now       func() time.Time
}

type Card struct {
	api    API
	tokens TokenSource
	opts   Options
	logger zerolog.Logger

	life   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	loading  bool
	claiming bool
	status   *model.FreeClaimStatus
	errMsg   string
	success  string
}

func NewCard(api API, tokens TokenSource, opts Options, logger zerolog.Logger) *Card {
	if opts.Events == nil {
		opts.Events = pubsub.NopSink{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.OnClaimed == nil {
		opts.OnClaimed = func(context.Context) {}
	}
	life, cancel := context.WithCancel(context.Background())
	return &Card{
		api:    api,
		tokens: tokens,
		opts:   opts,
		logger: logger.With().Str("service", "FreeClaimCard").Logger(),
		life:   life,
		cancel: cancel,
	}
}

// bind returns a context cancelled when either ctx ends or the card closes.
func (c *Card) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.life, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Close cancels in-flight requests. Results that arrive afterwards are dropped.
func (c *Card) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
}

// Load fetches the claim status. Without an access token it does nothing.
func (c *Card) Load(ctx context.Context) {
	token := c.tokens.AccessToken()
	if token == "" {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.loading = true
	c.mu.Unlock()

	ctx, done := c.bind(ctx)
	defer done()
	status, err := c.api.FreeClaimStatus(ctx, token)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.loading = false
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to load free claim status")
		c.errMsg = scanper.Message(err)
		return
	}
	c.status = status
	c.errMsg = ""
}

// Claim credits today's free pages. On success the card becomes non-claimable
// until the server's next claim time and OnClaimed is invoked.
func (c *Card) Claim(ctx context.Context) error {
	token := c.tokens.AccessToken()
	if token == "" {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.claiming {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.status == nil || !c.status.CanClaim {
		c.mu.Unlock()
		return ErrNotClaimable
	}
	c.claiming = true
	c.errMsg = ""
	c.success = ""
	c.mu.Unlock()

	ctx, done := c.bind(ctx)
	defer done()
	res, err := c.api.ClaimFreePages(ctx, token)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.claiming = false
	if err != nil {
		c.errMsg = scanper.Message(err)
		c.mu.Unlock()
		c.logger.Warn().Err(err).Msg("Failed to claim free pages")
		metrics.FreeClaimsTotal.WithLabelValues("failed").Inc()
		return err
	}
	pages := c.status.PagesAvailable
	now := model.NewTimestamp(c.opts.Now())
	c.success = res.Message
	c.status = &model.FreeClaimStatus{
		CanClaim:       false,
		PagesAvailable: 0,
		LastClaimed:    &now,
		NextClaimAt:    res.CanClaimAgainAt,
	}
	c.mu.Unlock()

	metrics.FreeClaimsTotal.WithLabelValues("claimed").Inc()
	ev := pubsub.PaymentEvent{
		Type:       pubsub.EventFreeClaimed,
		SessionID:  c.opts.SessionID,
		Pages:      pages,
		OccurredAt: now.UTC(),
	}
	if err := c.opts.Events.PublishPaymentEvent(ctx, ev); err != nil {
		c.logger.Warn().Err(err).Msg("Free claim event was not published")
	}
	c.opts.OnClaimed(ctx)
	return nil
}

type Snapshot struct {
	Loading  bool
	Claiming bool
	Status   *model.FreeClaimStatus
	Error    string
	Success  string
}

func (c *Card) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		Loading:  c.loading,
		Claiming: c.claiming,
		Error:    c.errMsg,
		Success:  c.success,
	}
	if c.status != nil {
		st := *c.status
		snap.Status = &st
	}
	return snap
}
