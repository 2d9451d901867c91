package settings

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps favorites in a single ordered table
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to settings database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Migrate creates the favorites table
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS favorite_language_pairs (
			position INTEGER PRIMARY KEY,
			source TEXT NOT NULL,
			target TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`)
	if err != nil {
		return fmt.Errorf("failed to migrate settings: %w", err)
	}
	return nil
}

// LoadFavorites returns saved pairs in order, or defaults when none are saved
func (s *PostgresStore) LoadFavorites(ctx context.Context) ([]LanguagePair, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT source, target FROM favorite_language_pairs ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query favorites: %w", err)
	}
	defer rows.Close()

	var pairs []LanguagePair
	for rows.Next() {
		var p LanguagePair
		if err := rows.Scan(&p.Source, &p.Target); err != nil {
			return nil, fmt.Errorf("failed to scan favorite: %w", err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read favorites: %w", err)
	}
	if len(pairs) == 0 {
		return DefaultFavorites(), nil
	}
	return pairs, nil
}

// SaveFavorites replaces every row in one transaction
func (s *PostgresStore) SaveFavorites(ctx context.Context, pairs []LanguagePair) error {
	if err := Validate(pairs); err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM favorite_language_pairs`); err != nil {
			return fmt.Errorf("failed to clear favorites: %w", err)
		}

		batch := &pgx.Batch{}
		for i, p := range pairs {
			batch.Queue(`INSERT INTO favorite_language_pairs (position, source, target) VALUES ($1, $2, $3)`, i, p.Source, p.Target)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert favorites: %w", err)
		}
		return nil
	})
}

// Healthy pings the database
func (s *PostgresStore) Healthy(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
