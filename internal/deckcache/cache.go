// Package deckcache is the single access point for presentation records. It
// keeps an identity cache keyed by record id and a list cache for the current
// owner in front of the backend, collapses concurrent identical fetches into
// one request, and drops everything when the session changes.
//
// Every cached value is stamped with the owner and the cache epoch it was
// fetched under. InvalidateAll bumps the epoch, and mutations bump a per-key
// write sequence, so a fetch that was already in flight when the cache was
// invalidated can never write its result back.
package deckcache

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/deckview/internal/deck"
	"golang.org/x/sync/singleflight"
)

// DefaultFetchTimeout bounds a shared fetch. The fetch outlives any single
// caller's context, so it needs its own deadline.
const DefaultFetchTimeout = 30 * time.Second

// Backend is the remote source of truth. *deckapi.Client implements it.
type Backend interface {
	ListPresentations(ctx context.Context) ([]*deck.Record, error)

	GetPresentation(ctx context.Context, id string) (*deck.Record, error)

	GeneratePresentation(ctx context.Context,
		req deck.GenerateRequest) (*deck.Record, error)

	UpdatePresentation(ctx context.Context, id string,
		patch deck.Patch) (*deck.Record, error)

	DeletePresentation(ctx context.Context, id string) error
}

// OwnerSource reports the owner of the current session.
type OwnerSource interface {
	Owner() string
}

// Config holds the cache dependencies.
type Config struct {
	// Backend serves cache misses and mutations.
	Backend Backend

	// Owner scopes cached values to the current session. Nil means a
	// single anonymous owner.
	Owner OwnerSource

	// OnAuthFailure is called once per backend call that fails with
	// deck.ErrAuth. It typically clears the session, which in turn
	// invalidates this cache.
	OnAuthFailure func(err error)

	// FetchTimeout bounds shared fetches. Zero selects
	// DefaultFetchTimeout.
	FetchTimeout time.Duration
}

// Stats are the cache counters.
type Stats struct {
	Hits          uint64
	Misses        uint64
	Fetches       uint64
	Invalidations uint64
}

// entry is a cached record.
type entry struct {
	rec   *deck.Record
	owner string
	epoch uint64
}

// listEntry is the cached list.
type listEntry struct {
	records []*deck.Record
	owner   string
	epoch   uint64
}

// Cache is the caching data access layer.
type Cache struct {
	cfg   Config
	group singleflight.Group

	mu      sync.Mutex
	epoch   uint64
	entries map[string]entry
	list    *listEntry
	listSeq uint64
	seqs    map[string]uint64
	waiting int
	stats   Stats
}

// New creates an empty cache.
func New(cfg Config) *Cache {
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}

	return &Cache{
		cfg:     cfg,
		entries: make(map[string]entry),
		seqs:    make(map[string]uint64),
	}
}

// owner returns the current session owner.
func (c *Cache) owner() string {
	if c.cfg.Owner == nil {
		return ""
	}

	return c.cfg.Owner.Owner()
}

// authFailed runs the auth failure hook for err if it is a credential
// rejection.
func (c *Cache) authFailed(err error) {
	if err == nil || !deck.IsAuth(err) {
		return
	}

	log.Warnf("Backend rejected the credential: %v", err)

	if c.cfg.OnAuthFailure != nil {
		c.cfg.OnAuthFailure(err)
	}
}

// flight runs fetch once per key across concurrent callers. The fetch runs
// detached from ctx: a caller that gives up only stops waiting.
func (c *Cache) flight(ctx context.Context, key string,
	fetch func(context.Context) (any, error)) (any, error) {

	c.mu.Lock()
	c.waiting++
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.waiting--
		c.mu.Unlock()
	}()

	ch := c.group.DoChan(key, func() (any, error) {
		c.mu.Lock()
		c.stats.Fetches++
		c.mu.Unlock()

		fetchCtx, cancel := context.WithTimeout(
			context.WithoutCancel(ctx), c.cfg.FetchTimeout,
		)
		defer cancel()

		log.Debugf("Fetching %s", key)

		val, err := fetch(fetchCtx)
		c.authFailed(err)

		return val, err
	})

	select {
	case res := <-ch:
		return res.Val, res.Err

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// List returns the current owner's records, most recent first as ordered by
// the backend. The returned slice is owned by the caller; the records are
// shared and must not be modified.
func (c *Cache) List(ctx context.Context) ([]*deck.Record, error) {
	owner := c.owner()

	c.mu.Lock()
	if l := c.list; l != nil && l.owner == owner && l.epoch == c.epoch {
		c.stats.Hits++
		out := slices.Clone(l.records)
		c.mu.Unlock()

		return out, nil
	}
	c.stats.Misses++
	epoch, seq := c.epoch, c.listSeq
	c.mu.Unlock()

	key := fmt.Sprintf("list/%d/%d/%s", epoch, seq, owner)
	val, err := c.flight(ctx, key, func(fctx context.Context) (any, error) {
		records, err := c.cfg.Backend.ListPresentations(fctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		if c.epoch != epoch || c.listSeq != seq {
			log.Debugf("Discarding stale list fetch")
			return records, nil
		}

		c.list = &listEntry{
			records: records,
			owner:   owner,
			epoch:   epoch,
		}
		for _, rec := range records {
			c.entries[rec.ID] = entry{
				rec:   rec,
				owner: owner,
				epoch: epoch,
			}
		}

		return records, nil
	})
	if err != nil {
		return nil, err
	}

	return slices.Clone(val.([]*deck.Record)), nil
}

// Get returns the record with the given id. Concurrent callers for the same
// id share one fetch and receive the same instance.
func (c *Cache) Get(ctx context.Context, id string) (*deck.Record, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty presentation id",
			deck.ErrInvalidRequest)
	}

	owner := c.owner()

	c.mu.Lock()
	if e, ok := c.entries[id]; ok && e.owner == owner &&
		e.epoch == c.epoch {

		c.stats.Hits++
		c.mu.Unlock()

		return e.rec, nil
	}
	c.stats.Misses++
	epoch, seq := c.epoch, c.seqs[id]
	c.mu.Unlock()

	key := fmt.Sprintf("get/%d/%d/%s/%s", epoch, seq, owner, id)
	val, err := c.flight(ctx, key, func(fctx context.Context) (any, error) {
		rec, err := c.cfg.Backend.GetPresentation(fctx, id)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		if c.epoch == epoch && c.seqs[id] == seq {
			c.entries[id] = entry{
				rec:   rec,
				owner: owner,
				epoch: epoch,
			}
		}

		return rec, nil
	})
	if err != nil {
		return nil, err
	}

	return val.(*deck.Record), nil
}

// Lookup is Get for callers that expect absence: a missing record is None
// rather than an error.
func (c *Cache) Lookup(ctx context.Context,
	id string) (fn.Option[*deck.Record], error) {

	rec, err := c.Get(ctx, id)
	switch {
	case deck.IsNotFound(err):
		return fn.None[*deck.Record](), nil

	case err != nil:
		return fn.None[*deck.Record](), err
	}

	return fn.Some(rec), nil
}

// bumpLocked records a write to id, invalidating the list and any in-flight
// fetch of id. The caller must hold mu.
func (c *Cache) bumpLocked(id string) {
	c.seqs[id]++
	c.listSeq++
	c.list = nil
}

// Generate submits markdown for rendering. The returned record is cached and
// the list is invalidated so the new record shows up in the next List.
func (c *Cache) Generate(ctx context.Context,
	req deck.GenerateRequest) (*deck.Record, error) {

	owner := c.owner()

	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	rec, err := c.cfg.Backend.GeneratePresentation(ctx, req)
	if err != nil {
		c.authFailed(err)
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.bumpLocked(rec.ID)
	if c.epoch == epoch {
		c.entries[rec.ID] = entry{rec: rec, owner: owner, epoch: epoch}
	}

	log.Debugf("Generated presentation %v", rec)

	return rec, nil
}

// Update applies a partial update. On success the cached record is replaced
// and the list invalidated.
func (c *Cache) Update(ctx context.Context, id string,
	patch deck.Patch) (*deck.Record, error) {

	owner := c.owner()

	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	rec, err := c.cfg.Backend.UpdatePresentation(ctx, id, patch)
	if err != nil {
		c.authFailed(err)

		// The record is gone on the backend, so drop the stale copy.
		if deck.IsNotFound(err) {
			c.forget(id)
		}

		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.bumpLocked(id)
	if c.epoch == epoch {
		c.entries[id] = entry{rec: rec, owner: owner, epoch: epoch}
	}

	return rec, nil
}

// Delete removes a record. It returns false, without error, when the backend
// reports the record absent; any stale local copy is dropped either way.
func (c *Cache) Delete(ctx context.Context, id string) (bool, error) {
	err := c.cfg.Backend.DeletePresentation(ctx, id)
	switch {
	case deck.IsNotFound(err):
		c.forget(id)
		return false, nil

	case err != nil:
		c.authFailed(err)
		return false, err
	}

	c.forget(id)

	return true, nil
}

// forget drops id from both caches.
func (c *Cache) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, id)
	c.bumpLocked(id)
}

// InvalidateAll drops both caches and starts a new epoch. Fetches that began
// before the call complete for their waiters but are not cached.
//
// NOTE: This implements the session.Invalidator interface.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	c.entries = make(map[string]entry)
	c.seqs = make(map[string]uint64)
	c.list = nil
	c.listSeq = 0
	c.stats.Invalidations++

	log.Debugf("Cache invalidated, epoch=%d", c.epoch)
}

// Peek returns the cached record for id without fetching.
func (c *Cache) Peek(id string) fn.Option[*deck.Record] {
	owner := c.owner()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok || e.owner != owner || e.epoch != c.epoch {
		return fn.None[*deck.Record]()
	}

	return fn.Some(e.rec)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stats
}

// pendingCallers returns how many callers are waiting on shared fetches.
func (c *Cache) pendingCallers() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.waiting
}
