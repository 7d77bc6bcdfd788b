package exam

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/mdquiz/internal/assignment"
	"github.com/pavelanni/mdquiz/internal/model"
)

// GradeNow grades a submitted assignment while holding its lock, so at
// most one grading job per token runs at a time. Grading a graded
// assignment is a no-op.
func (s *Service) GradeNow(ctx context.Context, token string) error {
	a, err := s.repo.Get(ctx, token)
	if err != nil {
		return err
	}
	if a.Status == model.StatusGraded {
		return nil
	}
	spec, err := s.spec(ctx, a.ExamID, a.ExamVersion)
	if err != nil {
		return err
	}

	var result *model.GradingResult
	out, err := s.repo.Update(ctx, token, func(a *model.Assignment, _ time.Time) (bool, error) {
		if a.Status != model.StatusSubmitted {
			return assignment.Grade(a, nil)
		}
		result = s.engine.Grade(ctx, spec, a.Answers, s.repo.Now())
		return assignment.Grade(a, result)
	})
	if err != nil {
		return fmt.Errorf("grade %s: %w", token, err)
	}
	if result == nil {
		return nil
	}

	slog.Info("assignment graded", "token", token, "exam_id", out.ExamID,
		"total", result.TotalScore, "max", result.MaxScore, "needs_review", result.NeedsReview)
	if s.registry != nil {
		total := result.TotalScore
		if err := s.registry.RecordResult(ctx, out.CandidateRef, out.Status, &total); err != nil {
			slog.Warn("failed to record result", "token", token, "candidate", out.CandidateRef, "error", err)
		}
	}
	return nil
}

// GetResult returns the full grading result of an assignment.
func (s *Service) GetResult(ctx context.Context, token string) (*model.GradingResult, error) {
	a, err := s.repo.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if a.Status != model.StatusGraded || a.Grading == nil {
		return nil, fmt.Errorf("%w: status %s", ErrNotGraded, a.Status)
	}
	return a.Grading, nil
}
