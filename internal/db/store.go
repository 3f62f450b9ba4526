package db

import (
	"database/sql"
)

// Store wraps the client database connection with retrying transaction
// support.
type Store struct {
	db *sql.DB

	// path is the database file, used for pre-migration backups. It is
	// empty for stores created directly from a connection.
	path string

	txOpts *txExecutorOptions
}

// NewStore creates a new Store instance wrapping the given database
// connection.
func NewStore(db *sql.DB, opts ...TxExecutorOption) *Store {
	txOpts := defaultTxExecutorOptions()
	for _, opt := range opts {
		opt(txOpts)
	}

	return &Store{
		db:     db,
		txOpts: txOpts,
	}
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Compile-time check that Store implements BatchedTx.
var _ BatchedTx = (*Store)(nil)
