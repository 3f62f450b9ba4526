package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/deckview/internal/deck"
	"github.com/roasbeef/deckview/internal/session"
)

const (
	// stateKeyToken holds the raw bearer credential.
	stateKeyToken = "token"

	// stateKeyUser holds the JSON encoded identity projection.
	stateKeyUser = "user"
)

const (
	upsertStateQuery = `
INSERT INTO client_state (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT (key) DO UPDATE SET
    value = excluded.value,
    updated_at = excluded.updated_at`

	selectStateQuery = `SELECT value FROM client_state WHERE key = ?`

	deleteSessionQuery = `DELETE FROM client_state WHERE key IN (?, ?)`
)

// SessionStore is the durable session tier backed by the client_state table.
type SessionStore struct {
	db BatchedTx
}

// NewSessionStore returns a SessionStore writing through the given store.
func NewSessionStore(db BatchedTx) *SessionStore {
	return &SessionStore{db: db}
}

// Load returns the persisted session. A token without a readable identity
// row is still returned; the session layer re-derives the identity.
func (s *SessionStore) Load(
	ctx context.Context) (fn.Option[session.Persisted], error) {

	ctx, cancel := context.WithTimeout(ctx, DefaultStoreTimeout)
	defer cancel()

	var (
		token    sql.NullString
		userJSON sql.NullString
	)
	err := s.db.ExecTx(ctx, ReadTxOption(), func(q Querier) error {
		err := q.QueryRowContext(
			ctx, selectStateQuery, stateKeyToken,
		).Scan(&token)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		err = q.QueryRowContext(
			ctx, selectStateQuery, stateKeyUser,
		).Scan(&userJSON)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		return nil
	})
	if err != nil {
		return fn.None[session.Persisted](), fmt.Errorf("unable to "+
			"read session state: %w", err)
	}

	if !token.Valid || token.String == "" {
		return fn.None[session.Persisted](), nil
	}

	persisted := session.Persisted{Token: token.String}
	if userJSON.Valid {
		var ident deck.Identity
		if err := json.Unmarshal([]byte(userJSON.String), &ident); err != nil {
			log.Warnf("Discarding unreadable identity row: %v", err)
		} else {
			persisted.Identity = ident
		}
	}

	return fn.Some(persisted), nil
}

// Save writes the token and identity rows in a single transaction.
func (s *SessionStore) Save(ctx context.Context, p session.Persisted) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultStoreTimeout)
	defer cancel()

	userJSON, err := json.Marshal(p.Identity)
	if err != nil {
		return fmt.Errorf("unable to encode identity: %w", err)
	}

	now := time.Now().Unix()

	return s.db.ExecTx(ctx, WriteTxOption(), func(q Querier) error {
		_, err := q.ExecContext(
			ctx, upsertStateQuery, stateKeyToken, p.Token, now,
		)
		if err != nil {
			return fmt.Errorf("unable to store token: %w", err)
		}

		_, err = q.ExecContext(
			ctx, upsertStateQuery, stateKeyUser, string(userJSON),
			now,
		)
		if err != nil {
			return fmt.Errorf("unable to store identity: %w", err)
		}

		return nil
	})
}

// Clear removes both session rows in a single statement.
func (s *SessionStore) Clear(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultStoreTimeout)
	defer cancel()

	return s.db.ExecTx(ctx, WriteTxOption(), func(q Querier) error {
		_, err := q.ExecContext(
			ctx, deleteSessionQuery, stateKeyToken, stateKeyUser,
		)

		return err
	})
}

// A compile time check to ensure SessionStore implements session.Store.
var _ session.Store = (*SessionStore)(nil)
