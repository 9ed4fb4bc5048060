package handler

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/scanper/liff-dashboard/internal/api/v1/dto"
	"github.com/scanper/liff-dashboard/internal/freeclaim"
	"github.com/scanper/liff-dashboard/internal/scanper"
	"github.com/scanper/liff-dashboard/internal/session"
	"github.com/scanper/liff-dashboard/internal/view"
)

type DashboardHandler struct {
	apps     *Apps
	pages    *Pages
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewDashboardHandler(apps *Apps, pages *Pages, v *validator.Validate, logger zerolog.Logger) *DashboardHandler {
	return &DashboardHandler{
		apps:     apps,
		pages:    pages,
		validate: v,
		logger:   logger.With().Str("service", "DashboardHandler").Logger(),
	}
}

// RegisterRoutes mounts the dashboard page and its actions.
func (h *DashboardHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.index)
	mux.HandleFunc("POST /refresh", h.refresh)
	mux.HandleFunc("POST /display-name", h.updateDisplayName)
	mux.HandleFunc("POST /free-claim", h.claimFreePages)
	mux.HandleFunc("POST /history/toggle", h.toggleHistory)
}

func (h *DashboardHandler) index(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// Return leg of a redirect payment. The redirected page load fetches.
	if q.Get("payment") == "complete" {
		h.apps.NotePaymentCompleted(r)
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	editing := q.Get("edit") == "name"
	if editing {
		if app, ok := h.apps.Lookup(r); ok {
			h.pages.Render(w, app, http.StatusOK, view.Options{EditingName: true})
			return
		}
	}
	app := h.apps.Mount(r)
	h.pages.Render(w, app, http.StatusOK, view.Options{EditingName: editing})
}

func (h *DashboardHandler) refresh(w http.ResponseWriter, r *http.Request) {
	app := h.apps.Current(r)
	app.Refresh(r.Context())
	h.pages.Render(w, app, http.StatusOK, view.Options{})
}

func (h *DashboardHandler) updateDisplayName(w http.ResponseWriter, r *http.Request) {
	app := h.apps.Current(r)
	form := dto.ParseDisplayNameForm(r)
	if err := h.validate.Struct(&form); err != nil {
		h.pages.Render(w, app, http.StatusBadRequest, view.Options{
			EditingName: true,
			NameDraft:   form.DisplayName,
			NameError:   session.MsgNameTooLong,
		})
		return
	}

	err := app.Store().UpdateDisplayName(r.Context(), form.DisplayName)
	switch {
	case err == nil:
		h.pages.Render(w, app, http.StatusOK, view.Options{})
	case errors.Is(err, session.ErrBusy):
		h.pages.Render(w, app, http.StatusConflict, view.Options{EditingName: true, NameDraft: form.DisplayName})
	default:
		status := http.StatusOK
		if errors.Is(err, session.ErrInvalidDisplayName) {
			status = http.StatusBadRequest
		}
		h.pages.Render(w, app, status, view.Options{
			EditingName: true,
			NameDraft:   form.DisplayName,
			NameError:   scanper.Message(err),
		})
	}
}

func (h *DashboardHandler) claimFreePages(w http.ResponseWriter, r *http.Request) {
	app := h.apps.Current(r)
	status := http.StatusOK
	if err := app.FreeClaim().Claim(r.Context()); err != nil {
		switch {
		case errors.Is(err, freeclaim.ErrBusy), errors.Is(err, freeclaim.ErrNotClaimable):
			status = http.StatusConflict
		default:
			h.logger.Debug().Err(err).Msg("Free claim failed")
		}
	}
	h.pages.Render(w, app, status, view.Options{})
}

func (h *DashboardHandler) toggleHistory(w http.ResponseWriter, r *http.Request) {
	app := h.apps.Current(r)
	app.History().Toggle()
	h.pages.Render(w, app, http.StatusOK, view.Options{})
}
