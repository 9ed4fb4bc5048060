// Package session holds the per-browser-session dashboard state: identity,
// profile and the backend account view, plus the named actions that mutate it.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/scanper/liff-dashboard/internal/model"
	"github.com/scanper/liff-dashboard/internal/scanper"
)

const (
	MsgNoAccessToken   = "No access token available"
	MsgInitFailed      = "Failed to initialize LIFF"
	MsgNameRequired    = "Display name cannot be empty"
	MsgNameTooLong     = "Display name must be 50 characters or less"
	defaultDisplayName = "User"

	refreshTimeout = 30 * time.Second
)

var (
	ErrClosed             = errors.New("session is closed")
	ErrBusy               = errors.New("another update is in progress")
	ErrInvalidDisplayName = errors.New("invalid display name")
)

// Identity is the login capability the store depends on. *liff.Session
// implements it.
type Identity interface {
	Initialize(ctx context.Context) error
	IsLoggedIn() bool
	IsInClient() bool
	Profile(ctx context.Context) (*model.Profile, error)
	AccessToken() string
	LoginURL(state, nonce string) (string, error)
	Logout(ctx context.Context) error
}

// UserAPI is the part of the ScanPer API the store calls.
type UserAPI interface {
	FetchUser(ctx context.Context, accessToken string) (*scanper.UserResult, error)
	UpdateDisplayName(ctx context.Context, accessToken, displayName string) (*model.DisplayNameUpdate, error)
}

// Display is the screen the dashboard shows, in priority order.
type Display int

const (
	DisplayLoading Display = iota
	DisplayFatal
	DisplayLogin
	DisplayDashboard
)

func (d Display) String() string {
	switch d {
	case DisplayLoading:
		return "loading"
	case DisplayFatal:
		return "fatal"
	case DisplayLogin:
		return "login"
	default:
		return "dashboard"
	}
}

type displayNameInput struct {
	Name string `validate:"required,max=50"`
}

// Store is safe for concurrent use. Mutations after Close are discarded.
type Store struct {
	identity Identity
	api      UserAPI
	validate *validator.Validate
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	flight singleflight.Group

	mu       sync.RWMutex
	mounted  bool
	closed   bool
	initErr  string
	loggedIn bool
	inClient bool
	profile  *model.Profile
	account  AccountView
	errMsg   string
	loading  bool
	updating bool
}

func NewStore(identity Identity, api UserAPI, logger zerolog.Logger) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		identity: identity,
		api:      api,
		validate: validator.New(),
		logger:   logger.With().Str("service", "SessionStore").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		account:  Absent{},
	}
}

// bind returns a context cancelled when either ctx ends or the store closes.
func (s *Store) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// apply runs fn under the write lock unless the store has been closed.
func (s *Store) apply(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	fn()
	return true
}

// Mount initializes identity, then loads profile and account view when the
// user is logged in. Only an identity failure is fatal; later failures
// become the error banner.
func (s *Store) Mount(ctx context.Context) error {
	ctx, done := s.bind(ctx)
	defer done()

	if err := s.identity.Initialize(ctx); err != nil {
		s.logger.Error().Err(err).Msg("LIFF initialization failed")
		msg := err.Error()
		if msg == "" {
			msg = MsgInitFailed
		}
		s.apply(func() {
			s.initErr = msg
			s.mounted = true
		})
		return err
	}

	loggedIn := s.identity.IsLoggedIn()
	inClient := s.identity.IsInClient()
	if !s.apply(func() {
		s.loggedIn = loggedIn
		s.inClient = inClient
	}) {
		return ErrClosed
	}

	if loggedIn {
		profile, err := s.identity.Profile(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to fetch LINE profile")
			s.apply(func() { s.errMsg = err.Error() })
		} else {
			s.apply(func() { s.profile = profile })
		}
		s.load(ctx)
	}

	if !s.apply(func() { s.mounted = true }) {
		return ErrClosed
	}
	return nil
}

// Refresh re-fetches the account view only. Concurrent calls share one request,
// which runs until the store closes or refreshTimeout passes. A caller whose
// ctx ends stops waiting without cancelling the shared request.
func (s *Store) Refresh(ctx context.Context) {
	if !s.apply(func() {
		s.loading = true
		s.errMsg = ""
	}) {
		return
	}
	ch := s.flight.DoChan("refresh", func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		shared, done := s.bind(shared)
		defer done()
		s.load(shared)
		s.apply(func() { s.loading = false })
		return nil, nil
	})
	select {
	case <-ch:
	case <-ctx.Done():
	}
}

func (s *Store) load(ctx context.Context) {
	token := s.identity.AccessToken()
	if token == "" {
		s.apply(func() { s.errMsg = MsgNoAccessToken })
		return
	}

	res, err := s.api.FetchUser(ctx, token)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("kind", scanper.KindOf(err).String()).Msg("Failed to fetch user data")
		s.apply(func() { s.errMsg = scanper.Message(err) })
		return
	}
	s.apply(func() {
		switch {
		case res.NotFound != nil:
			s.account = NotFound{Info: *res.NotFound}
		case res.Account != nil:
			s.account = Account{Data: *res.Account}
		}
	})
}

// UpdateDisplayName validates and saves a new display name. On success the
// account view is updated in place without a re-fetch; on failure nothing
// changes and the returned error carries the message to show.
func (s *Store) UpdateDisplayName(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if err := s.validate.Struct(displayNameInput{Name: name}); err != nil {
		return displayNameError(err)
	}

	var busy bool
	if !s.apply(func() {
		busy = s.updating
		s.updating = true
	}) {
		return ErrClosed
	}
	if busy {
		return ErrBusy
	}
	defer s.apply(func() { s.updating = false })

	token := s.identity.AccessToken()
	if token == "" {
		return errors.New(MsgNoAccessToken)
	}

	ctx, done := s.bind(ctx)
	defer done()
	res, err := s.api.UpdateDisplayName(ctx, token, name)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to update display name")
		return err
	}

	updated := res.DisplayName
	if updated == "" {
		updated = name
	}
	if !s.apply(func() {
		if acc, ok := s.account.(Account); ok {
			acc.Data.DisplayName = &updated
			s.account = acc
		}
	}) {
		return ErrClosed
	}
	return nil
}

func displayNameError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Tag() == "max" {
		return &NameError{Message: MsgNameTooLong}
	}
	return &NameError{Message: MsgNameRequired}
}

// NameError is a client-side display name validation failure.
type NameError struct {
	Message string
}

func (e *NameError) Error() string { return e.Message }

func (e *NameError) Is(target error) bool { return target == ErrInvalidDisplayName }

// LoginURL starts the LINE Login flow.
func (s *Store) LoginURL(state, nonce string) (string, error) {
	return s.identity.LoginURL(state, nonce)
}

// Logout revokes the login and closes the store. Callers reload the page so
// that a fresh store is mounted.
func (s *Store) Logout(ctx context.Context) error {
	err := s.identity.Logout(ctx)
	s.Close()
	return err
}

// Close cancels in-flight work. Results that arrive afterwards are dropped.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
}

func (s *Store) Display() Display {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case !s.mounted || s.loading:
		return DisplayLoading
	case s.initErr != "" && !s.loggedIn:
		return DisplayFatal
	case !s.loggedIn:
		return DisplayLogin
	default:
		return DisplayDashboard
	}
}

// AccessToken is read from identity on every call.
func (s *Store) AccessToken() string {
	return s.identity.AccessToken()
}

// Snapshot is a consistent copy of the store for rendering.
type Snapshot struct {
	Display     Display
	LoggedIn    bool
	InClient    bool
	Profile     *model.Profile
	Account     AccountView
	DisplayName string
	Error       string
	InitError   string
	Loading     bool
	Updating    bool
}

func (s *Store) Snapshot() Snapshot {
	display := s.Display()
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Display:     display,
		LoggedIn:    s.loggedIn,
		InClient:    s.inClient,
		Account:     s.account,
		DisplayName: s.displayName(),
		Error:       s.errMsg,
		InitError:   s.initErr,
		Loading:     s.loading,
		Updating:    s.updating,
	}
	if s.profile != nil {
		p := *s.profile
		snap.Profile = &p
	}
	return snap
}

// DisplayName prefers the name stored by the backend over the LINE profile name.
func (s *Store) DisplayName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.displayName()
}

func (s *Store) displayName() string {
	if acc, ok := s.account.(Account); ok && acc.Data.DisplayName != nil && *acc.Data.DisplayName != "" {
		return *acc.Data.DisplayName
	}
	if s.profile != nil && s.profile.DisplayName != "" {
		return s.profile.DisplayName
	}
	return defaultDisplayName
}
