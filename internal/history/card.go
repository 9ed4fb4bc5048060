// Package history holds the payment history list shown under the usage card.
package history

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/scanper/liff-dashboard/internal/model"
	"github.com/scanper/liff-dashboard/internal/scanper"
)

// CollapsedLimit is how many entries are listed before "Show all".
const CollapsedLimit = 3

type API interface {
	PaymentHistory(ctx context.Context, accessToken string) ([]model.PaymentHistoryItem, error)
}

type TokenSource interface {
	AccessToken() string
}

type Card struct {
	api    API
	tokens TokenSource
	logger zerolog.Logger

	life   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	loading  bool
	loaded   bool
	items    []model.PaymentHistoryItem
	errMsg   string
	expanded bool
}

func NewCard(api API, tokens TokenSource, logger zerolog.Logger) *Card {
	life, cancel := context.WithCancel(context.Background())
	return &Card{
		api:    api,
		tokens: tokens,
		logger: logger.With().Str("service", "PaymentHistoryCard").Logger(),
		life:   life,
		cancel: cancel,
	}
}

// Close cancels an in-flight load. A late result is dropped.
func (c *Card) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
}

// Load replaces the list with the latest history from the backend.
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

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(c.life, cancel)()
	items, err := c.api.PaymentHistory(ctx, token)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.loading = false
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to load payment history")
		c.errMsg = scanper.Message(err)
		return
	}
	c.items = items
	c.loaded = true
	c.errMsg = ""
}

func (c *Card) Toggle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expanded = !c.expanded
}

// Totals sums amount and pages over succeeded payments only.
type Totals struct {
	Succeeded int
	SpentTHB  int
	Pages     int
}

func ComputeTotals(items []model.PaymentHistoryItem) Totals {
	var t Totals
	for _, it := range items {
		if it.Status != model.PaymentSucceeded {
			continue
		}
		t.Succeeded++
		t.SpentTHB += it.AmountTHB
		t.Pages += it.PagesPurchased
	}
	return t
}

// Snapshot is a render copy. CanExpand is set when more entries exist than
// are shown collapsed.
type Snapshot struct {
	Loading   bool
	Loaded    bool
	Error     string
	Count     int
	Visible   []model.PaymentHistoryItem
	Expanded  bool
	CanExpand bool
	Totals    Totals
}

func (c *Card) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	visible := c.items
	if !c.expanded && len(visible) > CollapsedLimit {
		visible = visible[:CollapsedLimit]
	}
	return Snapshot{
		Loading:   c.loading,
		Loaded:    c.loaded,
		Error:     c.errMsg,
		Count:     len(c.items),
		Visible:   append([]model.PaymentHistoryItem(nil), visible...),
		Expanded:  c.expanded,
		CanExpand: len(c.items) > CollapsedLimit,
		Totals:    ComputeTotals(c.items),
	}
}
