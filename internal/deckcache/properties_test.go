package deckcache

import (
	"context"
	"testing"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/deckview/internal/deck"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestCacheMatchesBackend drives random sequences of reads, mutations and
// invalidations through the cache and checks that every read agrees with the
// backend, since all writes go through the cache.
func TestCacheMatchesBackend(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		backend := newMemBackend()
		cache := New(Config{Backend: backend})

		// pickID chooses a known id, or an unknown one.
		pickID := func(rt *rapid.T) string {
			known := backend.snapshot()
			if len(known) == 0 || rapid.Bool().Draw(rt, "unknown") {
				return "missing"
			}

			return rapid.SampledFrom(known).Draw(rt, "id")
		}

		rt.Repeat(map[string]func(*rapid.T){
			"generate": func(rt *rapid.T) {
				title := rapid.StringMatching(`[a-z]{1,8}`).
					Draw(rt, "title")
				_, err := cache.Generate(ctx, deck.GenerateRequest{
					Markdown: "# " + title,
					Title:    title,
				})
				require.NoError(rt, err)
			},

			"update": func(rt *rapid.T) {
				id := pickID(rt)
				title := rapid.StringMatching(`[a-z]{1,8}`).
					Draw(rt, "title")
				_, err := cache.Update(ctx, id, deck.Patch{
					Title: fn.Some(title),
				})
				if id == "missing" {
					require.ErrorIs(rt, err, deck.ErrNotFound)
					return
				}
				require.NoError(rt, err)
			},

			"delete": func(rt *rapid.T) {
				id := pickID(rt)
				deleted, err := cache.Delete(ctx, id)
				require.NoError(rt, err)
				require.Equal(rt, id != "missing", deleted)
			},

			"get": func(rt *rapid.T) {
				id := pickID(rt)
				got, err := cache.Lookup(ctx, id)
				require.NoError(rt, err)

				want, err := backend.GetPresentation(ctx, id)
				if id == "missing" {
					require.ErrorIs(rt, err, deck.ErrNotFound)
					require.True(rt, got.IsNone())
					return
				}
				require.NoError(rt, err)
				got.WhenSome(func(r *deck.Record) {
					require.Equal(rt, want.Title, r.Title)
				})
				require.True(rt, got.IsSome())
			},

			"list": func(rt *rapid.T) {
				list, err := cache.List(ctx)
				require.NoError(rt, err)
				require.Equal(rt, backend.snapshot(), ids(list))
			},

			"invalidate": func(rt *rapid.T) {
				cache.InvalidateAll()
				require.Empty(rt, cache.Peek("p1").UnwrapOr(nil))
			},
		})
	})
}
