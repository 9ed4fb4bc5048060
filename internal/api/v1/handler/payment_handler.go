package handler

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/scanper/liff-dashboard/internal/api/v1/dto"
	"github.com/scanper/liff-dashboard/internal/dashboard"
	"github.com/scanper/liff-dashboard/internal/payment"
	"github.com/scanper/liff-dashboard/internal/view"
)

type PaymentHandler struct {
	apps     *Apps
	pages    *Pages
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewPaymentHandler(apps *Apps, pages *Pages, v *validator.Validate, logger zerolog.Logger) *PaymentHandler {
	return &PaymentHandler{
		apps:     apps,
		pages:    pages,
		validate: v,
		logger:   logger.With().Str("service", "PaymentHandler").Logger(),
	}
}

// RegisterRoutes mounts the payment modal actions.
func (h *PaymentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /payment/open", h.open)
	mux.HandleFunc("POST /payment/close", h.close)
	mux.HandleFunc("POST /payment/package", h.selectPackage)
	mux.HandleFunc("POST /payment/custom", h.customAmount)
	mux.HandleFunc("POST /payment/purchase", h.purchase)
	mux.HandleFunc("POST /payment/qr/complete", h.confirmQR)
	mux.HandleFunc("POST /payment/qr/discard", h.discardQR)
}

func (h *PaymentHandler) open(w http.ResponseWriter, r *http.Request) {
	app := h.apps.Current(r)
	if _, err := app.OpenPayment(r.Context()); err != nil {
		h.logger.Debug().Err(err).Msg("Payment modal opened with an error")
	}
	h.pages.Render(w, app, http.StatusOK, view.Options{})
}

func (h *PaymentHandler) close(w http.ResponseWriter, r *http.Request) {
	app := h.apps.Current(r)
	app.ClosePayment()
	h.pages.Render(w, app, http.StatusOK, view.Options{})
}

func (h *PaymentHandler) selectPackage(w http.ResponseWriter, r *http.Request) {
	app, flow, ok := h.flow(w, r)
	if !ok {
		return
	}
	form := dto.ParsePackageForm(r)
	if err := h.validate.Struct(&form); err != nil {
		h.pages.Render(w, app, http.StatusBadRequest, view.Options{})
		return
	}
	h.pages.Render(w, app, statusFor(flow.SelectPackage(form.AmountTHB)), view.Options{})
}

func (h *PaymentHandler) customAmount(w http.ResponseWriter, r *http.Request) {
	app, flow, ok := h.flow(w, r)
	if !ok {
		return
	}
	form := dto.ParseCustomAmountForm(r)
	if err := h.validate.Struct(&form); err != nil {
		h.pages.Render(w, app, http.StatusBadRequest, view.Options{})
		return
	}
	h.pages.Render(w, app, statusFor(flow.SetCustomAmount(form.Amount)), view.Options{})
}

func (h *PaymentHandler) purchase(w http.ResponseWriter, r *http.Request) {
	app, flow, ok := h.flow(w, r)
	if !ok {
		return
	}
	outcome, err := flow.Purchase(r.Context())
	if err == nil && outcome.Kind == payment.OutcomeRedirect {
		http.Redirect(w, r, outcome.RedirectURL, http.StatusSeeOther)
		return
	}
	h.pages.Render(w, app, statusFor(err), view.Options{})
}

func (h *PaymentHandler) confirmQR(w http.ResponseWriter, r *http.Request) {
	app, flow, ok := h.flow(w, r)
	if !ok {
		return
	}
	h.pages.Render(w, app, statusFor(flow.ConfirmQR(r.Context())), view.Options{})
}

func (h *PaymentHandler) discardQR(w http.ResponseWriter, r *http.Request) {
	app, flow, ok := h.flow(w, r)
	if !ok {
		return
	}
	h.pages.Render(w, app, statusFor(flow.DiscardQR(r.Context())), view.Options{})
}

// flow returns the open payment modal. Without one the page is re-rendered
// as is and ok is false.
func (h *PaymentHandler) flow(w http.ResponseWriter, r *http.Request) (*dashboard.App, *payment.Flow, bool) {
	app := h.apps.Current(r)
	flow := app.Payment()
	if flow == nil {
		h.pages.Render(w, app, http.StatusConflict, view.Options{})
		return app, nil, false
	}
	return app, flow, true
}

// statusFor maps flow errors to a response status. Errors that are shown
// inside the modal still render with 200.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, payment.ErrBusy), errors.Is(err, payment.ErrInvalidState), errors.Is(err, payment.ErrClosed):
		return http.StatusConflict
	case errors.Is(err, payment.ErrUnknownPackage):
		return http.StatusBadRequest
	default:
		return http.StatusOK
	}
}
