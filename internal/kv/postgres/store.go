package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/thihaeung/balance-ledger/internal/kv"
)

// Store is a Postgres-backed implementation of kv.Store. Every record lives
// in a single kv_records table; the conditional write is a version-guarded
// UPDATE, and the conditional create is an INSERT with ON CONFLICT DO NOTHING.
type Store struct {
	db *sql.DB
}

// New wraps an opened database handle. The caller owns the handle's
// lifecycle; call Migrate once before first use.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the kv_records table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	const query = `CREATE TABLE IF NOT EXISTS kv_records (
		key     TEXT PRIMARY KEY,
		value   BYTEA NOT NULL,
		version BIGINT NOT NULL
	)`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("migrate kv_records: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (kv.Record, error) {
	const query = `SELECT value, version FROM kv_records WHERE key = $1`

	rec := kv.Record{Key: key}
	err := s.db.QueryRowContext(ctx, query, key).Scan(&rec.Value, &rec.Version)
	if err == sql.ErrNoRows {
		return kv.Record{}, kv.ErrKeyNotFound
	}
	if err != nil {
		return kv.Record{}, fmt.Errorf("postgres get %q: %w", key, err)
	}
	return rec, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, expectedVersion int64) error {
	if expectedVersion == 0 {
		return s.create(ctx, key, value)
	}

	const query = `UPDATE kv_records SET value = $2, version = version + 1
	WHERE key = $1 AND version = $3`

	res, err := s.db.ExecContext(ctx, query, key, value, expectedVersion)
	if err != nil {
		return fmt.Errorf("postgres put %q: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres put %q: %w", key, err)
	}
	if affected == 0 {
		// Either the version moved on or the row vanished; both mean the
		// caller's read is stale.
		return kv.ErrVersionConflict
	}
	return nil
}

func (s *Store) create(ctx context.Context, key string, value []byte) error {
	const query = `INSERT INTO kv_records (key, value, version) VALUES ($1, $2, 1)
	ON CONFLICT (key) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query, key, value)
	if err != nil {
		return fmt.Errorf("postgres create %q: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres create %q: %w", key, err)
	}
	if affected == 0 {
		return kv.ErrVersionConflict
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]kv.Record, error) {
	// "_" and "%" are LIKE wildcards and legal in usernames, so the prefix
	// must be escaped before it can be used as a pattern.
	const query = `SELECT key, value, version FROM kv_records
	WHERE key LIKE $1 || '%' ESCAPE '\' ORDER BY key ASC`

	rows, err := s.db.QueryContext(ctx, query, escapeLike(prefix))
	if err != nil {
		return nil, fmt.Errorf("postgres list %q: %w", prefix, err)
	}
	defer rows.Close()

	var out []kv.Record
	for rows.Next() {
		var rec kv.Record
		if err := rows.Scan(&rec.Key, &rec.Value, &rec.Version); err != nil {
			return nil, fmt.Errorf("postgres list %q: %w", prefix, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres list %q: %w", prefix, err)
	}
	return out, nil
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\', '%', '_':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// Ping reports whether the backing database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Compile-time check: Store implements kv.Store.
var _ kv.Store = (*Store)(nil)
