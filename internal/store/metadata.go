package store

import (
	"context"
	"database/sql"
	"strconv"
)

const (
	keyShowScore     = "show_score"
	keyPublishPrefix = "published:"
)

// SetMetadata upserts a key-value pair.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// ShowScore returns the persisted score visibility, or def if never set.
func (s *Store) ShowScore(ctx context.Context, def bool) (bool, error) {
	v, err := s.GetMetadata(ctx, keyShowScore)
	if err != nil || v == "" {
		return def, err
	}
	return strconv.ParseBool(v)
}

// SetShowScore persists whether candidates see their score.
func (s *Store) SetShowScore(ctx context.Context, show bool) error {
	return s.SetMetadata(ctx, keyShowScore, strconv.FormatBool(show))
}

// PublishedHash returns the content hash last published from path.
func (s *Store) PublishedHash(ctx context.Context, path string) (string, error) {
	return s.GetMetadata(ctx, keyPublishPrefix+path)
}

// SetPublishedHash records the content hash published from path.
func (s *Store) SetPublishedHash(ctx context.Context, path, hash string) error {
	return s.SetMetadata(ctx, keyPublishPrefix+path, hash)
}
