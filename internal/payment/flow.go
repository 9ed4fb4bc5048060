// Package payment implements the buy-pages modal: package or custom amount
// selection, charge creation and the QR / redirect branches that follow.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/scanper/liff-dashboard/internal/metrics"
	"github.com/scanper/liff-dashboard/internal/model"
	"github.com/scanper/liff-dashboard/internal/pubsub"
	"github.com/scanper/liff-dashboard/internal/scanper"
)

const (
	MinAmountTHB  = 10
	PagesPer10THB = 20
)

// User-facing messages.
const (
	MsgUnsupportedFlow  = "Unsupported payment flow"
	MsgNotAuthenticated = "Not authenticated"
)

var (
	ErrBusy             = errors.New("a purchase is already processing")
	ErrInvalidState     = errors.New("action is not available in the current payment state")
	ErrUnknownPackage   = errors.New("unknown payment package")
	ErrBelowMinimum     = fmt.Errorf("Minimum amount is %d THB", MinAmountTHB)
	ErrUnsupportedFlow  = errors.New(MsgUnsupportedFlow)
	ErrNotAuthenticated = errors.New(MsgNotAuthenticated)
	ErrClosed           = errors.New("payment flow is closed")
)

type State int

const (
	CheckingPending State = iota
	Selecting
	Processing
	Redirecting
	ShowingQR
	Resolved
)

func (s State) String() string {
	switch s {
	case CheckingPending:
		return "checking_pending"
	case Selecting:
		return "selecting"
	case Processing:
		return "processing"
	case Redirecting:
		return "redirecting"
	case ShowingQR:
		return "showing_qr"
	case Resolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// API is the part of the ScanPer API the flow calls.
type API interface {
	PaymentPackages(ctx context.Context, accessToken string) ([]model.PaymentPackage, error)
	PendingPayment(ctx context.Context, accessToken string) (*model.PendingPayment, error)
	CreateCharge(ctx context.Context, accessToken string, amountTHB int) (*model.ChargeIntent, error)
}

// TokenSource yields the current access token, or "" when logged out.
type TokenSource interface {
	AccessToken() string
}

// QR is an encoded-image charge waiting to be paid.
type QR struct {
	ChargeID       string
	Image          string
	Expiry         time.Time
	AmountTHB      int
	PagesToReceive int
	Resumed        bool
}

type OutcomeKind int

const (
	OutcomeSucceeded OutcomeKind = iota + 1
	OutcomeRedirect
	OutcomeShowQR
)

// Outcome tells the caller what to do after a successful Purchase.
type Outcome struct {
	Kind        OutcomeKind
	RedirectURL string
}

type Options struct {
	SessionID string
	// OnSuccess runs after an immediate success or a confirmed QR payment.
	OnSuccess func(ctx context.Context)
	Events    pubsub.EventSink
	Now       func() time.Time
}

// Flow is one open payment modal. It is discarded when the modal closes.
type Flow struct {
	api    API
	tokens TokenSource
	opts   Options
	logger zerolog.Logger

	mu           sync.Mutex
	closed       bool
	state        State
	packages     []model.PaymentPackage
	selected     *model.PaymentPackage
	customAmount string
	useCustom    bool
	qr           *QR
	errMsg       string
}

func NewFlow(api API, tokens TokenSource, opts Options, logger zerolog.Logger) *Flow {
	if opts.Events == nil {
		opts.Events = pubsub.NopSink{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.OnSuccess == nil {
		opts.OnSuccess = func(context.Context) {}
	}
	return &Flow{
		api:    api,
		tokens: tokens,
		opts:   opts,
		logger: logger.With().Str("service", "PaymentFlow").Logger(),
		state:  CheckingPending,
	}
}

// transition must be called with f.mu held.
func (f *Flow) transition(to State) {
	if f.state == to {
		return
	}
	f.logger.Debug().Str("from", f.state.String()).Str("to", to.String()).Msg("Payment state changed")
	f.state = to
	metrics.PaymentTransitionsTotal.WithLabelValues(to.String()).Inc()
}

// Open loads the packages and resumes an unexpired pending charge when there
// is one, so that a second charge is not created for the same user.
func (f *Flow) Open(ctx context.Context) error {
	token := f.tokens.AccessToken()
	if token == "" {
		f.mu.Lock()
		f.errMsg = MsgNotAuthenticated
		f.transition(Selecting)
		f.mu.Unlock()
		return ErrNotAuthenticated
	}

	packages, pkgErr := f.api.PaymentPackages(ctx, token)
	if pkgErr != nil {
		f.logger.Warn().Err(pkgErr).Msg("Failed to load payment packages")
	}
	pending, pendErr := f.api.PendingPayment(ctx, token)
	if pendErr != nil {
		f.logger.Warn().Err(pendErr).Msg("Failed to check pending payment")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	f.packages = packages
	if pkgErr != nil {
		f.errMsg = scanper.Message(pkgErr)
	}
	if pending.Active(f.opts.Now()) {
		f.qr = &QR{
			ChargeID:       pending.ChargeID,
			Image:          pending.QRCode,
			Expiry:         pending.QRExpiry.Time,
			AmountTHB:      pending.AmountTHB,
			PagesToReceive: pending.PagesToReceive,
			Resumed:        true,
		}
		f.transition(ShowingQR)
		f.publish(ctx, pubsub.PaymentEvent{
			Type:      pubsub.EventChargeResumed,
			ChargeID:  pending.ChargeID,
			AmountTHB: pending.AmountTHB,
			Pages:     pending.PagesToReceive,
		})
		return nil
	}
	f.transition(Selecting)
	return pkgErr
}

// SelectPackage picks a fixed package and clears any custom amount.
func (f *Flow) SelectPackage(amountTHB int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Selecting {
		return ErrInvalidState
	}
	for i := range f.packages {
		if f.packages[i].AmountTHB == amountTHB {
			pkg := f.packages[i]
			f.selected = &pkg
			f.useCustom = false
			f.customAmount = ""
			f.errMsg = ""
			return nil
		}
	}
	return ErrUnknownPackage
}

// SetCustomAmount keeps only the digits of raw and clears the package selection.
func (f *Flow) SetCustomAmount(raw string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Selecting {
		return ErrInvalidState
	}
	f.customAmount = digitsOnly(raw)
	f.useCustom = true
	f.selected = nil
	f.errMsg = ""
	return nil
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// PagesFor is the page credit for a custom amount. The remainder below a
// multiple of 10 THB earns nothing.
func PagesFor(amountTHB int) int {
	if amountTHB <= 0 {
		return 0
	}
	return amountTHB / MinAmountTHB * PagesPer10THB
}

func (f *Flow) effectiveAmount() int {
	if f.useCustom {
		n, err := strconv.Atoi(f.customAmount)
		if err != nil {
			return 0
		}
		return n
	}
	if f.selected != nil {
		return f.selected.AmountTHB
	}
	return 0
}

func (f *Flow) effectivePages() int {
	if f.useCustom {
		return PagesFor(f.effectiveAmount())
	}
	if f.selected != nil {
		return f.selected.Pages
	}
	return 0
}

func (f *Flow) EffectiveAmount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.effectiveAmount()
}

func (f *Flow) EffectivePages() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.effectivePages()
}

// CanPurchase reports whether the pay button is enabled.
func (f *Flow) CanPurchase() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == Selecting && f.effectiveAmount() >= MinAmountTHB
}

// Purchase creates a charge for the effective amount and branches on the
// action the payment provider requires.
func (f *Flow) Purchase(ctx context.Context) (Outcome, error) {
	f.mu.Lock()
	if f.state == Processing {
		f.mu.Unlock()
		return Outcome{}, ErrBusy
	}
	if f.state != Selecting {
		f.mu.Unlock()
		return Outcome{}, ErrInvalidState
	}
	amount := f.effectiveAmount()
	if amount < MinAmountTHB {
		f.errMsg = ErrBelowMinimum.Error()
		f.mu.Unlock()
		return Outcome{}, ErrBelowMinimum
	}
	token := f.tokens.AccessToken()
	if token == "" {
		f.errMsg = MsgNotAuthenticated
		f.mu.Unlock()
		return Outcome{}, ErrNotAuthenticated
	}
	f.errMsg = ""
	f.transition(Processing)
	f.mu.Unlock()

	intent, err := f.api.CreateCharge(ctx, token, amount)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return Outcome{}, ErrClosed
	}
	if err != nil {
		f.logger.Warn().Err(err).Int("amount_thb", amount).Msg("Failed to create charge")
		f.errMsg = scanper.Message(err)
		f.transition(Selecting)
		return Outcome{}, err
	}

	f.publish(ctx, pubsub.PaymentEvent{
		Type:           pubsub.EventChargeCreated,
		ChargeID:       intent.ChargeID,
		ReferenceID:    intent.ReferenceID,
		AmountTHB:      amount,
		Pages:          intent.PagesToReceive,
		ActionRequired: intent.ActionRequired,
	})

	switch {
	case intent.ActionRequired == model.ActionRedirect && intent.RedirectURL != nil && *intent.RedirectURL != "":
		f.transition(Redirecting)
		return Outcome{Kind: OutcomeRedirect, RedirectURL: *intent.RedirectURL}, nil

	case intent.ActionRequired == model.ActionEncodedImage && intent.QRCode != nil && *intent.QRCode != "":
		qr := &QR{
			ChargeID:       intent.ChargeID,
			Image:          *intent.QRCode,
			AmountTHB:      amount,
			PagesToReceive: intent.PagesToReceive,
		}
		if intent.QRExpiry != nil {
			qr.Expiry = intent.QRExpiry.Time
		}
		f.qr = qr
		f.transition(ShowingQR)
		return Outcome{Kind: OutcomeShowQR}, nil

	case intent.ActionRequired == model.ActionNone:
		f.transition(Resolved)
		f.mu.Unlock()
		f.opts.OnSuccess(ctx)
		f.mu.Lock()
		return Outcome{Kind: OutcomeSucceeded}, nil

	default:
		f.logger.Warn().Str("action_required", intent.ActionRequired).Str("charge_id", intent.ChargeID).Msg("Unsupported payment flow")
		f.errMsg = MsgUnsupportedFlow
		f.transition(Selecting)
		return Outcome{}, ErrUnsupportedFlow
	}
}

// ConfirmQR is the user's assertion that the QR was paid. It is not verified
// here; the backend credits the account once the provider confirms.
func (f *Flow) ConfirmQR(ctx context.Context) error {
	f.mu.Lock()
	if f.state != ShowingQR {
		f.mu.Unlock()
		return ErrInvalidState
	}
	qr := f.qr
	f.transition(Resolved)
	f.publish(ctx, pubsub.PaymentEvent{
		Type:      pubsub.EventQRConfirmed,
		ChargeID:  qr.ChargeID,
		AmountTHB: qr.AmountTHB,
		Pages:     qr.PagesToReceive,
	})
	f.mu.Unlock()

	f.opts.OnSuccess(ctx)
	return nil
}

// DiscardQR forgets the QR locally and returns to selection. The charge is
// left to expire on the provider side.
func (f *Flow) DiscardQR(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != ShowingQR {
		return ErrInvalidState
	}
	f.publish(ctx, pubsub.PaymentEvent{Type: pubsub.EventQRDiscarded, ChargeID: f.qr.ChargeID})
	f.qr = nil
	f.errMsg = ""
	f.transition(Selecting)
	return nil
}

// Close marks the modal closed. A charge request still in flight finishes
// but its result is ignored.
func (f *Flow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

// Remaining is the QR countdown at now, never negative.
func (f *Flow) Remaining(now time.Time) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return remaining(f.qr, now)
}

func remaining(qr *QR, now time.Time) time.Duration {
	if qr == nil || qr.Expiry.IsZero() {
		return 0
	}
	if d := qr.Expiry.Sub(now); d > 0 {
		return d
	}
	return 0
}

// publish must be called with f.mu held; events are best effort.
func (f *Flow) publish(ctx context.Context, ev pubsub.PaymentEvent) {
	ev.SessionID = f.opts.SessionID
	ev.OccurredAt = f.opts.Now().UTC()
	if err := f.opts.Events.PublishPaymentEvent(ctx, ev); err != nil {
		f.logger.Warn().Err(err).Str("type", ev.Type).Msg("Payment event was not published")
	}
}

// Snapshot is a consistent copy of the flow for rendering.
type Snapshot struct {
	State           State
	Packages        []model.PaymentPackage
	SelectedAmount  int
	CustomAmount    string
	UseCustom       bool
	EffectiveAmount int
	EffectivePages  int
	CanPurchase     bool
	QR              *QR
	Remaining       time.Duration
	Error           string
}

func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := Snapshot{
		State:           f.state,
		Packages:        append([]model.PaymentPackage(nil), f.packages...),
		CustomAmount:    f.customAmount,
		UseCustom:       f.useCustom,
		EffectiveAmount: f.effectiveAmount(),
		EffectivePages:  f.effectivePages(),
		Error:           f.errMsg,
		Remaining:       remaining(f.qr, f.opts.Now()),
	}
	snap.CanPurchase = snap.State == Selecting && snap.EffectiveAmount >= MinAmountTHB
	if f.selected != nil && !f.useCustom {
		snap.SelectedAmount = f.selected.AmountTHB
	}
	if f.qr != nil {
		qr := *f.qr
		snap.QR = &qr
	}
	return snap
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}
