package cache

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

const createQueryCacheTable = `
	CREATE TABLE IF NOT EXISTS query_cache (
		key        TEXT PRIMARY KEY,
		value      JSONB NOT NULL,
		stale      BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMPTZ NOT NULL
	)`

// PostgresStore persists entries so a restarted instance starts warm
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the cache table if it does not exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createQueryCacheTable); err != nil {
		return fmt.Errorf("failed to create query_cache table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*Entry, error) {
	e := &Entry{}
	var value []byte

	query := `SELECT value, stale, updated_at FROM query_cache WHERE key = $1`

	err := s.db.QueryRowxContext(ctx, query, key).Scan(&value, &e.Stale, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Data = value
	return e, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, entry *Entry) error {
	query := `
		INSERT INTO query_cache (key, value, stale, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, stale = EXCLUDED.stale, updated_at = EXCLUDED.updated_at`

	_, err := s.db.ExecContext(ctx, query, key, []byte(entry.Data), entry.Stale, entry.UpdatedAt)
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM query_cache WHERE key = $1`, key)
	return err
}

func (s *PostgresStore) MarkStale(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE query_cache SET stale = TRUE WHERE key = $1`, key)
	return err
}

func (s *PostgresStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	query := `SELECT key FROM query_cache WHERE key LIKE $1 ORDER BY key`
	if err := s.db.SelectContext(ctx, &keys, query, escapeLike(prefix)+"%"); err != nil {
		return nil, err
	}
	return keys, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
