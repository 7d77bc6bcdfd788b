package exam

import (
	"context"
	"log/slog"

	"github.com/pavelanni/mdquiz/internal/model"
)

// ListAssignments returns every assignment, or only those of examID when it
// is not empty. Clock transitions are not applied.
func (s *Service) ListAssignments(ctx context.Context, examID string) ([]*model.Assignment, error) {
	tokens, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Assignment, 0, len(tokens))
	for _, token := range tokens {
		a, err := s.repo.Get(ctx, token)
		if err != nil {
			slog.Warn("skip unreadable assignment", "token", token, "error", err)
			continue
		}
		if examID != "" && a.ExamID != examID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Export builds export-ready results for examID, or for every exam when it
// is empty.
func (s *Service) Export(ctx context.Context, examID string) (*model.ResultExport, error) {
	list, err := s.ListAssignments(ctx, examID)
	if err != nil {
		return nil, err
	}
	names := map[string]string{}
	exp := &model.ResultExport{
		ExamID:     examID,
		ExportedAt: s.repo.Now(),
		Results:    make([]model.CandidateResult, 0, len(list)),
	}
	for _, a := range list {
		name, seen := names[a.CandidateRef]
		if !seen && s.registry != nil {
			c, err := s.registry.GetCandidate(ctx, a.CandidateRef)
			if err != nil {
				return nil, err
			}
			if c != nil {
				name = c.Name
			}
			names[a.CandidateRef] = name
		}
		exp.Results = append(exp.Results, model.CandidateResult{
			Token:         a.Token,
			ExamID:        a.ExamID,
			ExamVersion:   a.ExamVersion,
			CandidateRef:  a.CandidateRef,
			CandidateName: name,
			Status:        a.Status,
			StartedAt:     a.Timing.StartedAt,
			SubmittedAt:   a.Timing.SubmittedAt,
			AutoSubmitted: a.Timing.AutoSubmitted,
			Answers:       a.Answers,
			Grading:       a.Grading,
		})
	}
	return exp, nil
}
