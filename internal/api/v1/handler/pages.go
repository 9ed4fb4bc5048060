package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/scanper/liff-dashboard/internal/dashboard"
	"github.com/scanper/liff-dashboard/internal/view"
)

// Pages renders dashboard Apps as HTML responses.
type Pages struct {
	renderer *view.Renderer
	liffID   string
	logger   zerolog.Logger
}

func NewPages(renderer *view.Renderer, liffID string, logger zerolog.Logger) *Pages {
	return &Pages{renderer: renderer, liffID: liffID, logger: logger}
}

func (p *Pages) Render(w http.ResponseWriter, app *dashboard.App, status int, opts view.Options) {
	opts.LIFFID = p.liffID
	page := view.NewPage(app, opts)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := p.renderer.Render(w, page); err != nil {
		p.logger.Error().Err(err).Str("display", page.Display).Msg("Failed to render page")
	}
}
