// Package app is the composition root of the deckview client. An App owns
// one durable store, one credential lifecycle, one backend client and one
// data cache; every UI session constructs its own.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/roasbeef/deckview/internal/config"
	"github.com/roasbeef/deckview/internal/db"
	"github.com/roasbeef/deckview/internal/deck"
	"github.com/roasbeef/deckview/internal/deckapi"
	"github.com/roasbeef/deckview/internal/deckcache"
	"github.com/roasbeef/deckview/internal/playback"
	"github.com/roasbeef/deckview/internal/session"
	"github.com/roasbeef/deckview/internal/viewer"
)

// ErrNotLoggedIn is returned by operations that need a credential when
// there is none.
var ErrNotLoggedIn = fmt.Errorf("%w: not logged in", deck.ErrAuth)

// options holds the optional App dependencies.
type options struct {
	sessionStore session.Store
	httpClient   *http.Client
}

// Option customizes App construction.
type Option func(*options)

// WithSessionStore replaces the sqlite session store.
func WithSessionStore(store session.Store) Option {
	return func(o *options) {
		o.sessionStore = store
	}
}

// WithHTTPClient sets the transport for backend calls.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// App wires the data access layer together.
type App struct {
	cfg *config.Config

	store   *db.Store
	session *session.Lifecycle
	client  *deckapi.Client
	cache   *deckcache.Cache
}

// New builds an App from cfg and restores any persisted session.
func New(ctx context.Context, cfg *config.Config,
	opts ...Option) (*App, error) {

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{cfg: cfg}

	sessionStore := o.sessionStore
	if sessionStore == nil {
		store, err := db.Open(cfg.DBPath())
		if err != nil {
			return nil, fmt.Errorf("unable to open session store: %w",
				err)
		}
		a.store = store
		sessionStore = db.NewSessionStore(store)
	}

	a.session = session.NewLifecycle(sessionStore)

	client, err := deckapi.NewClient(deckapi.Config{
		BaseURL:    cfg.APIURL,
		Timeout:    cfg.RequestTimeout,
		HTTPClient: o.httpClient,
	}, a.session)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.client = client

	a.cache = deckcache.New(deckcache.Config{
		Backend:       client,
		Owner:         a.session,
		OnAuthFailure: a.onAuthFailure,
	})
	a.session.BindInvalidator(a.cache)

	if _, err := a.session.Rehydrate(ctx); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// onAuthFailure drops the session once the backend rejects the credential.
func (a *App) onAuthFailure(err error) {
	log.Infof("Clearing session after auth failure: %v", err)

	if err := a.session.Clear(context.Background()); err != nil {
		log.Warnf("Unable to clear rejected session: %v", err)
	}
}

// Login signs in with email and password.
func (a *App) Login(ctx context.Context, email,
	password string) (deck.Identity, error) {

	resp, err := a.client.Login(ctx, email, password)
	if err != nil {
		return deck.Identity{}, err
	}

	return a.session.Acquire(ctx, resp)
}

// Register creates an account and signs it in.
func (a *App) Register(ctx context.Context, name, email,
	password string) (deck.Identity, error) {

	reg, err := a.client.Register(ctx, name, email, password)
	if err != nil {
		return deck.Identity{}, err
	}

	log.Debugf("Registered account %s", reg.ID)

	return a.Login(ctx, email, password)
}

// Logout clears the credential and every cached record.
func (a *App) Logout(ctx context.Context) error {
	return a.session.Clear(ctx)
}

// WhoAmI returns the signed in identity without contacting the backend.
func (a *App) WhoAmI() (deck.Identity, error) {
	ident := a.session.Identity()
	if ident.IsNone() {
		return deck.Identity{}, ErrNotLoggedIn
	}

	return ident.UnwrapOr(deck.Identity{}), nil
}

// Verify asks the backend who the credential belongs to. A rejected
// credential clears the session.
func (a *App) Verify(ctx context.Context) (deck.Identity, error) {
	if !a.session.Authenticated() {
		return deck.Identity{}, ErrNotLoggedIn
	}

	ident, err := a.client.Me(ctx)
	if errors.Is(err, deck.ErrAuth) {
		a.onAuthFailure(err)
	}

	return ident, err
}

// Presentations returns the data cache.
func (a *App) Presentations() *deckcache.Cache {
	return a.cache
}

// Session returns the credential lifecycle.
func (a *App) Session() *session.Lifecycle {
	return a.session
}

// NewBridge returns an unmounted playback bridge using the configured
// timings.
func (a *App) NewBridge() *playback.Bridge {
	return playback.NewBridge(playback.Config{
		Debounce:      a.cfg.Debounce,
		AttachTimeout: a.cfg.AttachTimeout,
	})
}

// Play fetches a presentation and mounts it on a fresh surface of srv. It
// returns the bridge driving the surface and the URL that shows it.
func (a *App) Play(ctx context.Context, srv *viewer.Server,
	id string) (*playback.Bridge, string, error) {

	rec, err := a.cache.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}

	doc, err := Document(rec)
	if err != nil {
		return nil, "", err
	}

	surface := srv.NewSurface()
	bridge := a.NewBridge()
	if err := bridge.Mount(ctx, surface, doc); err != nil {
		return nil, "", err
	}

	log.Infof("Playing %v", rec)

	return bridge, srv.URL(surface), nil
}

// Document returns what a surface shows for rec: the rendered markup, or a
// draft page when the backend has not rendered it.
func Document(rec *deck.Record) (string, error) {
	if rec.HasMarkup() {
		return rec.Markup.UnwrapOr(""), nil
	}

	return viewer.DraftDocument(rec.Title, rec.Markdown)
}

// Close releases the durable store.
func (a *App) Close() error {
	if a.store == nil {
		return nil
	}

	return a.store.Close()
}
