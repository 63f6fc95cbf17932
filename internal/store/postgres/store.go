// Package postgres provides the server-side persistence gateway on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"petfarm/internal/store"
)

var ErrTxConflict = errors.New("transaction conflict, retry")

type Store struct {
	db *pgxpool.Pool
}

var _ store.Gateway = (*Store)(nil)

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the key/value table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS petfarm;
		CREATE TABLE IF NOT EXISTS petfarm.kv (
			key TEXT PRIMARY KEY,
			value BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRow(ctx, `SELECT value FROM petfarm.kv WHERE key = $1`, key).Scan(&value)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	return s.Commit(ctx, store.NewBatch().Put(key, value))
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.Commit(ctx, store.NewBatch().Delete(key))
}

func (s *Store) Enumerate(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT key
		FROM petfarm.kv
		WHERE starts_with(key, $1)
		ORDER BY key COLLATE "C"
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("enumerate %s: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Commit applies the batch in one serializable transaction, retrying on
// serialization failures with exponential backoff.
func (s *Store) Commit(ctx context.Context, b *store.Batch) error {
	if err := b.Validate(); err != nil {
		return err
	}
	ops := b.Ops()

	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return err
		}
		err = func() error {
			defer tx.Rollback(ctx)
			for _, op := range ops {
				var err error
				switch op.Kind {
				case store.OpPut:
					_, err = tx.Exec(ctx, `
						INSERT INTO petfarm.kv (key, value, updated_at)
						VALUES ($1, $2, now())
						ON CONFLICT (key) DO UPDATE
						SET value = EXCLUDED.value, updated_at = now()
					`, op.Key, op.Value)
				case store.OpDelete:
					_, err = tx.Exec(ctx, `DELETE FROM petfarm.kv WHERE key = $1`, op.Key)
				}
				if err != nil {
					return err
				}
			}
			return tx.Commit(ctx)
		}()
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			return ErrTxConflict
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return ErrTxConflict
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
