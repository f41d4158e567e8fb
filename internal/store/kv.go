package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/khgapparov/flipApp/pkg/tokenstore"
)

// Get returns the stored value for key.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM local_storage WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", tokenstore.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

// GetAll reads every requested key in one transaction so the result reflects a
// single SetAll/DeleteAll boundary.
func (s *Store) GetAll(ctx context.Context, keys ...string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin read: %w", err)
	}
	defer tx.Rollback()

	out := make(map[string]string, len(keys))
	for _, key := range keys {
		var value string
		err := tx.QueryRowContext(ctx, `SELECT value FROM local_storage WHERE key = ?`, key).Scan(&value)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get %s: %w", key, err)
		}
		out[key] = value
	}
	return out, nil
}

// SetAll upserts all pairs in one transaction.
func (s *Store) SetAll(ctx context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin write: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	for key, value := range values {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO local_storage (key, value, updated_at) VALUES (?, ?, ?)`,
			key, value, now,
		)
		if err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit write: %w", err)
	}
	return nil
}

// DeleteAll removes all keys in one transaction.
func (s *Store) DeleteAll(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, `DELETE FROM local_storage WHERE key = ?`, key); err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}
