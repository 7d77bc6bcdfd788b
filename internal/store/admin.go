package store

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/pavelanni/mdquiz/internal/model"
)

// CreateAdmin inserts or replaces an admin account.
func (s *Store) CreateAdmin(ctx context.Context, username, passwordHash string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO admins (username, password_hash, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(username) DO UPDATE SET password_hash = excluded.password_hash`,
		username, passwordHash, time.Now().UTC(),
	)
	if err != nil {
		slog.Error("failed to create admin", "username", username, "error", err)
		return err
	}
	slog.Info("saved admin", "username", username)
	return nil
}

// GetAdmin returns an admin by username, or nil if there is none.
func (s *Store) GetAdmin(ctx context.Context, username string) (*model.Admin, error) {
	var a model.Admin
	err := s.db.QueryRowContext(ctx,
		`SELECT username, password_hash, created_at FROM admins WHERE username = ?`, username,
	).Scan(&a.Username, &a.PasswordHash, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// AdminCount returns the number of admin accounts.
func (s *Store) AdminCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM admins`).Scan(&count)
	return count, err
}
