package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/width"

	"github.com/pavelanni/mdquiz/internal/model"
)

// ErrDuplicateCandidate is returned when a candidate ref is already taken.
var ErrDuplicateCandidate = errors.New("candidate already exists")

var mobileRe = regexp.MustCompile(`^1[3-9][0-9]{9}$`)

// NormalizePhone reduces a phone number to its digits. Full-width digits
// are folded, a 0086 or 86 country prefix is dropped, and an over-long
// number keeps its last 11 digits when they form a mobile number.
func NormalizePhone(s string) string {
	s = width.Narrow.String(s)
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	digits = strings.TrimPrefix(digits, "0086")
	if strings.HasPrefix(digits, "86") && len(digits) >= 13 && mobileRe.MatchString(digits[2:]) {
		digits = digits[2:]
	}
	if len(digits) > 11 {
		if tail := digits[len(digits)-11:]; mobileRe.MatchString(tail) {
			digits = tail
		}
	}
	return digits
}

// NormalizeName trims a name, folds full-width characters and collapses
// inner whitespace.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(width.Narrow.String(s)), " ")
}

// CreateCandidate inserts a new candidate. Name and phone are normalized.
func (s *Store) CreateCandidate(ctx context.Context, c model.Candidate) (*model.Candidate, error) {
	c.Ref = strings.TrimSpace(c.Ref)
	c.Name = NormalizeName(c.Name)
	c.Phone = NormalizePhone(c.Phone)
	if c.Ref == "" || c.Name == "" || c.Phone == "" {
		return nil, fmt.Errorf("candidate needs a ref, a name and a phone")
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	existing, err := s.GetCandidate(ctx, c.Ref)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCandidate, c.Ref)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO candidates (ref, name, phone, status, score, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.Ref, c.Name, c.Phone, c.Status, c.Score, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		slog.Error("failed to create candidate", "ref", c.Ref, "error", err)
		return nil, fmt.Errorf("insert candidate: %w", err)
	}
	slog.Info("created candidate", "ref", c.Ref)
	return &c, nil
}

// GetCandidate returns a candidate by ref, or nil if there is none.
func (s *Store) GetCandidate(ctx context.Context, ref string) (*model.Candidate, error) {
	var c model.Candidate
	err := s.db.QueryRowContext(ctx,
		`SELECT ref, name, phone, status, score, created_at, updated_at
		 FROM candidates WHERE ref = ?`, ref,
	).Scan(&c.Ref, &c.Name, &c.Phone, &c.Status, &c.Score, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCandidates returns all candidates ordered by ref.
func (s *Store) ListCandidates(ctx context.Context) ([]model.Candidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ref, name, phone, status, score, created_at, updated_at
		 FROM candidates ORDER BY ref`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Candidate
	for rows.Next() {
		var c model.Candidate
		if err := rows.Scan(&c.Ref, &c.Name, &c.Phone, &c.Status, &c.Score, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CheckIdentity reports whether name and phone match the candidate's
// record. An unknown ref is a mismatch, not an error.
func (s *Store) CheckIdentity(ctx context.Context, ref, name, phone string) (bool, error) {
	c, err := s.GetCandidate(ctx, ref)
	if err != nil {
		return false, fmt.Errorf("look up candidate: %w", err)
	}
	if c == nil {
		return false, nil
	}
	phone = NormalizePhone(phone)
	return phone != "" && phone == c.Phone && strings.EqualFold(NormalizeName(name), c.Name), nil
}

// RecordResult copies an assignment's status and score onto the candidate.
func (s *Store) RecordResult(ctx context.Context, ref string, status model.Status, score *int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE candidates SET status = ?, score = ?, updated_at = ? WHERE ref = ?`,
		string(status), score, time.Now().UTC(), ref,
	)
	if err != nil {
		return fmt.Errorf("record result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.Warn("result for unknown candidate", "ref", ref)
	}
	return nil
}
