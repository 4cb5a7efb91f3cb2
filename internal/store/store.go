// Package store is the persistent store component: a pgx/v5 pool wrapping
// Postgres, with a transaction helper that retries serialization failures
// with jittered backoff and never exposes a connection directly to callers.
package store

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"github.com/loftbid/liveauction/internal/apperr"
)

// Store wraps a pgxpool.Pool and provides the serializable-transaction
// helper every multi-row mutation in this package uses.
type Store struct {
	pool *pgxpool.Pool
}

// Open establishes the pool against databaseURL. Callers must call Close.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to create connection pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to reach database", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool to callers outside this package.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

const maxSerializationRetries = 5

// isSerializationFailure reports whether err is a Postgres serialization
// or deadlock conflict (SQLSTATE 40001/40P01), the only cases this helper
// retries.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// WithTx runs fn inside a Serializable transaction, committing on success
// and rolling back otherwise. Serialization conflicts are retried with
// jittered exponential backoff up to maxSerializationRetries times before
// surfacing as a Conflict apperr.
func (s *Store) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt <= maxSerializationRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 10 * time.Millisecond
			jitter := time.Duration(rand.Int63n(int64(backoff)))
			select {
			case <-time.After(backoff + jitter):
			case <-ctx.Done():
				return apperr.Wrap(apperr.Timeout, "transaction retry cancelled", ctx.Err())
			}
		}

		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isSerializationFailure(err) {
			return err
		}
		lastErr = err
		log.WithError(err).WithField("attempt", attempt).Warn("retrying serialization conflict")
	}
	return apperr.Wrap(apperr.Conflict, "transaction could not be serialized", lastErr)
}

func (s *Store) runOnce(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to commit transaction", err)
	}
	return nil
}
