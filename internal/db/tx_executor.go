package db

import (
	"context"
	"database/sql"
	"math"
	prand "math/rand"
	"time"
)

// txExecutorOptions is a struct that holds the options for the transaction
// executor. This can be used to do things like retry a transaction due to an
// error a certain amount of times.
type txExecutorOptions struct {
	numRetries        int
	initialRetryDelay time.Duration
	maxRetryDelay     time.Duration
}

// defaultTxExecutorOptions returns the default options for the transaction
// executor.
func defaultTxExecutorOptions() *txExecutorOptions {
	return &txExecutorOptions{
		numRetries:        DefaultNumTxRetries,
		initialRetryDelay: DefaultInitialRetryDelay,
		maxRetryDelay:     DefaultMaxRetryDelay,
	}
}

// randRetryDelay returns a random retry delay between -50% and +50% of the
// configured delay that is doubled for each attempt and capped at a max value.
func (t *txExecutorOptions) randRetryDelay(attempt int) time.Duration {
	halfDelay := t.initialRetryDelay / 2
	randDelay := prand.Int63n(int64(t.initialRetryDelay)) //nolint:gosec

	// 50% plus 0%-100% gives us the range of 50%-150%.
	initialDelay := halfDelay + time.Duration(randDelay)

	if attempt == 0 {
		return initialDelay
	}

	// Double per attempt. The power is limited to 32 to avoid overflows.
	factor := time.Duration(math.Pow(2, math.Min(float64(attempt), 32)))
	//nolint:durationcheck
	actualDelay := initialDelay * factor

	if actualDelay > t.maxRetryDelay {
		return t.maxRetryDelay
	}

	return actualDelay
}

// TxExecutorOption is a functional option that allows us to pass in optional
// argument when creating the executor.
type TxExecutorOption func(*txExecutorOptions)

// WithTxRetries is a functional option that allows us to specify the number of
// times a transaction should be retried if it fails with a repeatable error.
func WithTxRetries(numRetries int) TxExecutorOption {
	return func(o *txExecutorOptions) {
		o.numRetries = numRetries
	}
}

// WithTxRetryDelay is a functional option that allows us to specify the delay
// to wait before a transaction is retried.
func WithTxRetryDelay(delay time.Duration) TxExecutorOption {
	return func(o *txExecutorOptions) {
		o.initialRetryDelay = delay
	}
}

// ExecTx runs txBody inside a database transaction, retrying the whole body
// when SQLite reports the database as busy or locked. Any other error rolls
// the transaction back and is returned mapped through MapSQLError.
//
// NOTE: This implements the BatchedTx interface.
func (s *Store) ExecTx(ctx context.Context, txOptions TxOptions,
	txBody func(Querier) error) error {

	waitBeforeRetry := func(attemptNumber int) error {
		retryDelay := s.txOpts.randRetryDelay(attemptNumber)

		log.Debugf("Retrying transaction due to tx serialization or "+
			"deadlock error: attempt_number=%d, delay=%v",
			attemptNumber, retryDelay)

		select {
		case <-time.After(retryDelay):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for i := 0; i < s.txOpts.numRetries; i++ {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{
			ReadOnly: txOptions.ReadOnly(),
		})
		if err != nil {
			dbErr := MapSQLError(err)
			if IsSerializationOrDeadlockError(dbErr) {
				if err := waitBeforeRetry(i); err != nil {
					return err
				}
				continue
			}

			return dbErr
		}

		if err := txBody(tx); err != nil {
			_ = tx.Rollback()

			dbErr := MapSQLError(err)
			if IsSerializationOrDeadlockError(dbErr) {
				if err := waitBeforeRetry(i); err != nil {
					return err
				}
				continue
			}

			return dbErr
		}

		if err := tx.Commit(); err != nil {
			_ = tx.Rollback()

			dbErr := MapSQLError(err)
			if IsSerializationOrDeadlockError(dbErr) {
				if err := waitBeforeRetry(i); err != nil {
					return err
				}
				continue
			}

			return dbErr
		}

		return nil
	}

	return ErrRetriesExceeded
}
