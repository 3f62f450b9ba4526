package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/roasbeef/deckview/internal/deck"
	"github.com/roasbeef/deckview/internal/session"
	"github.com/stretchr/testify/require"
)

// testDB creates a temporary test database with migrations applied.
func testDB(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := Open(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func TestOpenAppliesMigrations(t *testing.T) {
	store := testDB(t)

	var count int
	err := store.DB().QueryRow(
		`SELECT COUNT(*) FROM client_state`,
	).Scan(&count)
	require.NoError(t, err)
	require.Zero(t, count)
}

// TestOpenIsIdempotent reopens an already migrated database.
func TestOpenIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

// TestOpenRejectsDowngrade verifies that a database newer than the binary is
// refused.
func TestOpenRejectsDowngrade(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = Open(dbPath, WithLatestVersion(0))
	require.ErrorIs(t, err, ErrMigrationDowngrade)
}

func TestExecTxRollback(t *testing.T) {
	store := testDB(t)
	ctx := context.Background()

	errBoom := errors.New("boom")
	err := store.ExecTx(ctx, WriteTxOption(), func(q Querier) error {
		_, err := q.ExecContext(
			ctx, upsertStateQuery, stateKeyToken, "t", 1,
		)
		require.NoError(t, err)

		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	var count int
	err = store.DB().QueryRow(
		`SELECT COUNT(*) FROM client_state`,
	).Scan(&count)
	require.NoError(t, err)
	require.Zero(t, count)
}

// TestExecTxRetriesBusy checks that busy errors are retried and that the
// retry budget is enforced.
func TestExecTxRetriesBusy(t *testing.T) {
	store := testDB(t)
	store.txOpts.initialRetryDelay = 1
	store.txOpts.numRetries = 3

	busy := sqlite3.Error{Code: sqlite3.ErrBusy}

	attempts := 0
	err := store.ExecTx(
		context.Background(), WriteTxOption(), func(Querier) error {
			attempts++
			if attempts < 2 {
				return busy
			}

			return nil
		},
	)
	require.NoError(t, err)
	require.Equal(t, 2, attempts)

	attempts = 0
	err = store.ExecTx(
		context.Background(), WriteTxOption(), func(Querier) error {
			attempts++
			return busy
		},
	)
	require.ErrorIs(t, err, ErrRetriesExceeded)
	require.Equal(t, 3, attempts)
}

func TestMapSQLError(t *testing.T) {
	err := MapSQLError(sqlite3.Error{Code: sqlite3.ErrLocked})
	require.True(t, IsDeadlockError(err))

	err = MapSQLError(sqlite3.Error{Code: sqlite3.ErrBusy})
	require.True(t, IsSerializationError(err))

	plain := errors.New("plain")
	require.Equal(t, plain, MapSQLError(plain))
}

// TestSessionStoreRoundTrip stores, loads and clears a session.
func TestSessionStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(testDB(t))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, loaded.IsNone())

	want := session.Persisted{
		Token: "tok-1",
		Identity: deck.Identity{
			ID: "1", Email: "a@example.com", Name: "a",
		},
	}
	require.NoError(t, store.Save(ctx, want))

	// Saving again replaces the rows rather than conflicting.
	want.Token = "tok-2"
	require.NoError(t, store.Save(ctx, want))

	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, want, loaded.UnwrapOr(session.Persisted{}))

	require.NoError(t, store.Clear(ctx))

	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	require.True(t, loaded.IsNone())
}

// TestSessionStoreClearIsAtomic verifies that a failing transaction leaves
// both keys in place.
func TestSessionStoreClearIsAtomic(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	store := NewSessionStore(db)

	require.NoError(t, store.Save(ctx, session.Persisted{Token: "tok"}))

	errAbort := errors.New("abort")
	err := db.ExecTx(ctx, WriteTxOption(), func(q Querier) error {
		_, err := q.ExecContext(
			ctx, deleteSessionQuery, stateKeyToken, stateKeyUser,
		)
		require.NoError(t, err)

		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	var count int
	err = db.DB().QueryRow(
		`SELECT COUNT(*) FROM client_state`,
	).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

// TestSessionStoreBadIdentity ensures a corrupt identity row does not hide
// the token.
func TestSessionStoreBadIdentity(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	store := NewSessionStore(db)

	require.NoError(t, store.Save(ctx, session.Persisted{Token: "tok"}))

	_, err := db.DB().Exec(
		`UPDATE client_state SET value = '{' WHERE key = 'user'`,
	)
	require.NoError(t, err)

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, session.Persisted{Token: "tok"},
		loaded.UnwrapOr(session.Persisted{}))
}
