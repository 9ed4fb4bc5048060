// Package view renders the mini-app pages from dashboard snapshots.
package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/scanper/liff-dashboard/internal/dashboard"
	"github.com/scanper/liff-dashboard/internal/freeclaim"
	"github.com/scanper/liff-dashboard/internal/history"
	"github.com/scanper/liff-dashboard/internal/model"
	"github.com/scanper/liff-dashboard/internal/payment"
	"github.com/scanper/liff-dashboard/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

type Renderer struct {
	tmpl *template.Template
}

func NewRenderer() (*Renderer, error) {
	tmpl, err := template.New("").Funcs(funcs()).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render writes the full page. It renders into a buffer first so that a
// template failure never produces half a page.
func (r *Renderer) Render(w io.Writer, page Page) error {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "layout", page); err != nil {
		return fmt.Errorf("rendering page: %w", err)
	}
	_, err := buf.WriteTo(w)
	return err
}

// Options carries request-scoped state that is not part of the App.
type Options struct {
	LIFFID string
	Now    time.Time

	// EditingName opens the header's inline editor with NameDraft prefilled.
	EditingName bool
	NameDraft   string
	NameError   string
}

// Page is everything the templates read.
type Page struct {
	Display  string
	LIFFID   string
	InClient bool

	Session  session.Snapshot
	Name     string
	Picture  string
	Account  *model.UserData
	NotFound *model.UserNotFound
	Banner   string

	EditingName bool
	NameDraft   string
	NameError   string

	Claim   freeclaim.Snapshot
	History history.Snapshot
	Payment *payment.Snapshot

	MinAmountTHB  int
	PagesPer10THB int
	Now           time.Time
}

// NewPage snapshots app for rendering. The pending banner is consumed.
func NewPage(app *dashboard.App, opts Options) Page {
	snap := app.Store().Snapshot()
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	p := Page{
		Display:       snap.Display.String(),
		LIFFID:        opts.LIFFID,
		InClient:      snap.InClient,
		Session:       snap,
		Name:          snap.DisplayName,
		EditingName:   opts.EditingName,
		NameDraft:     opts.NameDraft,
		NameError:     opts.NameError,
		MinAmountTHB:  payment.MinAmountTHB,
		PagesPer10THB: payment.PagesPer10THB,
		Now:           opts.Now,
	}
	if snap.Profile != nil {
		p.Picture = snap.Profile.PictureURL
	}
	if p.EditingName && p.NameDraft == "" && p.NameError == "" {
		p.NameDraft = snap.DisplayName
	}
	switch v := snap.Account.(type) {
	case session.Account:
		data := v.Data
		p.Account = &data
	case session.NotFound:
		info := v.Info
		p.NotFound = &info
	}
	if snap.Display == session.DisplayDashboard {
		p.Banner = app.TakeBanner()
		p.Claim = app.FreeClaim().Snapshot()
		p.History = app.History().Snapshot()
		if flow := app.Payment(); flow != nil {
			ps := flow.Snapshot()
			p.Payment = &ps
		}
	}
	return p
}

// WelcomeName is the greeting on the not-found card.
func (p Page) WelcomeName() string {
	if p.NotFound != nil && p.NotFound.DisplayName != nil && *p.NotFound.DisplayName != "" {
		return *p.NotFound.DisplayName
	}
	return "User"
}

func (p Page) PaymentSelecting() bool {
	return p.Payment != nil && p.Payment.State == payment.Selecting
}

func (p Page) PaymentShowingQR() bool {
	return p.Payment != nil && p.Payment.State == payment.ShowingQR && p.Payment.QR != nil
}
