// Package session owns the bearer credential of the deckview client. The
// credential lives in two tiers: an in-memory copy used to authorize requests
// and a durable copy that lets a fresh process restore the signed-in state
// before its first network round trip. On a cold start the durable tier is
// the source of truth.
package session

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/deckview/internal/deck"
)

// Invalidator discards every cached record. The data cache implements it.
type Invalidator interface {
	InvalidateAll()
}

// Persisted is the state written to the durable tier.
type Persisted struct {
	// Token is the raw bearer credential.
	Token string

	// Identity is the user projection stamped at acquisition time.
	Identity deck.Identity
}

// Store is the durable tier. Save and Clear must write both keys atomically.
type Store interface {
	// Load returns the persisted session, or None if there is none.
	Load(ctx context.Context) (fn.Option[Persisted], error)

	// Save replaces the persisted session.
	Save(ctx context.Context, p Persisted) error

	// Clear removes the persisted session.
	Clear(ctx context.Context) error
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithClock overrides the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) {
		l.now = now
	}
}

// Lifecycle manages acquisition, attachment and clearing of the credential.
type Lifecycle struct {
	store Store
	now   func() time.Time

	mu          sync.RWMutex
	token       string
	identity    deck.Identity
	invalidator Invalidator
}

// NewLifecycle creates a lifecycle backed by the given durable store. The
// memory tier starts empty; call Rehydrate to restore a prior session.
func NewLifecycle(store Store, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	return l
}

// BindInvalidator registers the cache that must be invalidated whenever the
// credential changes. The cache is built on top of a client that depends on
// this lifecycle, so it can only be bound after construction.
func (l *Lifecycle) BindInvalidator(inv Invalidator) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.invalidator = inv
}

// invalidate runs the bound invalidator, if any. It must be called without
// holding mu.
func (l *Lifecycle) invalidate() {
	l.mu.RLock()
	inv := l.invalidator
	l.mu.RUnlock()

	if inv != nil {
		inv.InvalidateAll()
	}
}

// Rehydrate loads the durable tier into memory. A persisted credential that
// has already expired is discarded and the durable tier cleared. The
// returned option carries the restored identity.
func (l *Lifecycle) Rehydrate(
	ctx context.Context) (fn.Option[deck.Identity], error) {

	none := fn.None[deck.Identity]()

	stored, err := l.store.Load(ctx)
	if err != nil {
		return none, fmt.Errorf("unable to load session: %w", err)
	}

	if stored.IsNone() {
		log.Debugf("No persisted session found")
		return none, nil
	}

	persisted := stored.UnwrapOr(Persisted{})

	claims := parseClaims(persisted.Token)
	if claims.expired(l.now()) {
		log.Infof("Persisted credential expired, discarding")

		if err := l.store.Clear(ctx); err != nil {
			return none, fmt.Errorf("unable to clear expired "+
				"session: %w", err)
		}

		return none, nil
	}

	ident := persisted.Identity
	if ident.IsZero() {
		ident = projectIdentity(deck.TokenResponse{}, claims)
	}

	l.mu.Lock()
	l.token = persisted.Token
	l.identity = ident
	l.mu.Unlock()

	// Anything cached before the restore belongs to no one.
	l.invalidate()

	log.Infof("Restored session for %s", ident.DisplayName())

	return fn.Some(ident), nil
}

// Acquire installs a freshly issued credential. The token is written to the
// durable tier first and then to memory, the cache is invalidated, and the
// stamped identity is returned. Identity fields missing from the response
// are projected from the token's claims.
func (l *Lifecycle) Acquire(ctx context.Context,
	resp deck.TokenResponse) (deck.Identity, error) {

	if resp.AccessToken == "" {
		return deck.Identity{}, fmt.Errorf("%w: token response has no "+
			"access token", deck.ErrInvalidRequest)
	}
	if resp.TokenType != "" && !strings.EqualFold(resp.TokenType, "bearer") {
		return deck.Identity{}, fmt.Errorf("%w: unsupported token "+
			"type %q", deck.ErrInvalidRequest, resp.TokenType)
	}

	claims := parseClaims(resp.AccessToken)
	if claims.expired(l.now()) {
		return deck.Identity{}, fmt.Errorf("%w: issued credential "+
			"already expired", deck.ErrAuth)
	}

	ident := projectIdentity(resp, claims)

	err := l.store.Save(ctx, Persisted{
		Token:    resp.AccessToken,
		Identity: ident,
	})
	if err != nil {
		return deck.Identity{}, fmt.Errorf("unable to persist "+
			"session: %w", err)
	}

	l.mu.Lock()
	l.token = resp.AccessToken
	l.identity = ident
	l.mu.Unlock()

	l.invalidate()

	log.Infof("Acquired credential for %s", ident.DisplayName())

	return ident, nil
}

// Attach returns a copy of req carrying the bearer credential. The original
// request is never modified. Without a credential req is returned as is.
func (l *Lifecycle) Attach(req *http.Request) *http.Request {
	l.mu.RLock()
	token := l.token
	l.mu.RUnlock()

	if token == "" {
		return req
	}

	authed := req.Clone(req.Context())
	authed.Header.Set("Authorization", "Bearer "+token)

	return authed
}

// Clear discards the credential from both tiers. The memory tier is emptied
// and the cache invalidated before Clear touches the durable tier, so no
// data call that starts after Clear begins can observe the old session.
func (l *Lifecycle) Clear(ctx context.Context) error {
	l.mu.Lock()
	had := l.token != ""
	l.token = ""
	l.identity = deck.Identity{}
	l.mu.Unlock()

	l.invalidate()

	if err := l.store.Clear(ctx); err != nil {
		return fmt.Errorf("unable to clear persisted session: %w", err)
	}

	if had {
		log.Infof("Session cleared")
	}

	return nil
}

// Token returns a copy of the current credential.
func (l *Lifecycle) Token() fn.Option[string] {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.token == "" {
		return fn.None[string]()
	}

	return fn.Some(l.token)
}

// Identity returns the identity of the current session.
func (l *Lifecycle) Identity() fn.Option[deck.Identity] {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.token == "" {
		return fn.None[deck.Identity]()
	}

	return fn.Some(l.identity)
}

// Authenticated reports whether a credential is held in memory.
func (l *Lifecycle) Authenticated() bool {
	return l.Token().IsSome()
}

// Owner returns the key that scopes cached records to the current session.
// It is empty when no session is held.
func (l *Lifecycle) Owner() string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	switch {
	case l.token == "":
		return ""
	case l.identity.ID != "":
		return "id:" + l.identity.ID
	case l.identity.Email != "":
		return "email:" + l.identity.Email
	default:
		return "anon:" + fingerprint(l.token)
	}
}
