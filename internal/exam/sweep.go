package exam

import (
	"context"
	"log/slog"
	"time"

	"github.com/pavelanni/mdquiz/internal/assignment"
	"github.com/pavelanni/mdquiz/internal/model"
)

// SweepReport counts what one sweep changed.
type SweepReport struct {
	Checked   int `json:"checked"`
	Submitted int `json:"submitted"`
	Expired   int `json:"expired"`
	Requeued  int `json:"requeued"`
}

// Sweep applies due clock transitions to every assignment and schedules
// grading for submitted ones that are not graded yet. It recovers jobs
// lost to a restart or a full queue.
func (s *Service) Sweep(ctx context.Context) (SweepReport, error) {
	var rep SweepReport
	tokens, err := s.repo.List(ctx)
	if err != nil {
		return rep, err
	}
	now := s.repo.Now()
	for _, token := range tokens {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		a, err := s.repo.Get(ctx, token)
		if err != nil {
			slog.Warn("sweep: skip assignment", "token", token, "error", err)
			continue
		}
		rep.Checked++

		switch {
		case a.Status.PreSubmit():
			next := *a
			if !assignment.Tick(&next, now) {
				continue
			}
			out, err := s.repo.Tick(ctx, token)
			if err != nil {
				slog.Warn("sweep: tick failed", "token", token, "error", err)
				continue
			}
			switch out.Status {
			case model.StatusSubmitted:
				rep.Submitted++
			case model.StatusExpired:
				rep.Expired++
			}
		case a.Status == model.StatusSubmitted:
			if s.schedule(token) {
				rep.Requeued++
			}
		}
	}
	return rep, nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("sweeper started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rep, err := s.Sweep(ctx)
			if err != nil {
				slog.Error("sweep failed", "error", err)
				continue
			}
			if rep.Submitted+rep.Expired+rep.Requeued > 0 {
				slog.Info("sweep done", "checked", rep.Checked, "submitted", rep.Submitted,
					"expired", rep.Expired, "requeued", rep.Requeued)
			}
		}
	}
}
